package handlers_test

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Oxyrus/virtualtourist/internal/http/handlers"
	"github.com/Oxyrus/virtualtourist/internal/storage"
)

func TestPhotoHandlerImage(t *testing.T) {
	data := testJPEG(t, 64, 32)
	photos := &stubPhotos{byID: map[string]storage.Photo{"p1": {ID: "p1", PinID: 1, Data: data}}}
	handler := handlers.NewPhotoHandler(newTestLogger(), photos)

	tests := []struct {
		name     string
		target   string
		id       string
		want     int
		wantSize int
	}{
		{name: "raw", target: "/api/photos/p1/image", id: "p1", want: http.StatusOK},
		{name: "thumbnail", target: "/api/photos/p1/image?size=16", id: "p1", want: http.StatusOK, wantSize: 16},
		{name: "zero size", target: "/api/photos/p1/image?size=0", id: "p1", want: http.StatusBadRequest},
		{name: "huge size", target: "/api/photos/p1/image?size=5000", id: "p1", want: http.StatusBadRequest},
		{name: "missing", target: "/api/photos/nope/image", id: "nope", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(rec)
			ctx.Request = httptest.NewRequest(http.MethodGet, tt.target, nil)
			ctx.Params = gin.Params{{Key: "id", Value: tt.id}}
			handler.Image(ctx)

			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
			if tt.want != http.StatusOK {
				return
			}
			if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
				t.Fatalf("expected image/jpeg, got %q", ct)
			}
			if tt.wantSize == 0 {
				if !bytes.Equal(rec.Body.Bytes(), data) {
					t.Fatalf("expected the stored bytes to be served unchanged")
				}
				return
			}
			img, err := jpeg.Decode(rec.Body)
			if err != nil {
				t.Fatalf("failed to decode thumbnail: %v", err)
			}
			if b := img.Bounds(); b.Dx() != tt.wantSize || b.Dy() != tt.wantSize {
				t.Fatalf("expected %dx%d thumbnail, got %dx%d", tt.wantSize, tt.wantSize, b.Dx(), b.Dy())
			}
		})
	}
}

func TestPhotoHandlerThumbnailOfBrokenImage(t *testing.T) {
	photos := &stubPhotos{byID: map[string]storage.Photo{"p1": {ID: "p1", Data: []byte("not an image")}}}
	handler := handlers.NewPhotoHandler(newTestLogger(), photos)

	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/api/photos/p1/image?size=16", nil)
	ctx.Params = gin.Params{{Key: "id", Value: "p1"}}
	handler.Image(ctx)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 8), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}
