// Package photometa reads capture metadata from downloaded images and renders
// thumbnails of them.
package photometa

import (
	"bytes"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// MaxThumbnailSize bounds the edge length accepted by Thumbnail.
const MaxThumbnailSize = 1024

// TakenAt returns the EXIF capture time of a JPEG, or nil when the image
// carries no usable EXIF date. Flickr's small renditions usually strip EXIF.
func TakenAt(data []byte) *time.Time {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	t, err := x.DateTime()
	if err != nil || t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

// Thumbnail crops the image to a centred square of size x size pixels and
// encodes it as JPEG.
func Thumbnail(data []byte, size int) ([]byte, error) {
	if size <= 0 || size > MaxThumbnailSize {
		return nil, fmt.Errorf("photometa: thumbnail size %d out of range", size)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("photometa: decode: %w", err)
	}

	thumb := imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("photometa: encode: %w", err)
	}
	return buf.Bytes(), nil
}
