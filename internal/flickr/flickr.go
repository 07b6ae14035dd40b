// Package flickr is a small client for the Flickr photo search API and its
// static image host.
package flickr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultAPIURL   = "https://www.flickr.com/services/rest"
	DefaultImageURL = "https://live.staticflickr.com"
	DefaultPerPage  = 30

	// maxResults is the deepest result Flickr serves for a search; pages past
	// it repeat earlier results.
	maxResults = 4000
)

var (
	// ErrNetwork covers transport failures, non-2xx responses and API level
	// failures reported through the stat field.
	ErrNetwork = errors.New("flickr: network error")

	// ErrDecode indicates a search response that could not be decoded.
	ErrDecode = errors.New("flickr: decode error")
)

// Photo is the metadata of one search result. It is only used to build the
// image download URL.
type Photo struct {
	ID       string `json:"id"`
	Owner    string `json:"owner"`
	Secret   string `json:"secret"`
	Server   string `json:"server"`
	Farm     int    `json:"farm"`
	Title    string `json:"title"`
	IsPublic int    `json:"ispublic"`
	IsFriend int    `json:"isfriend"`
	IsFamily int    `json:"isfamily"`
}

// Page is one page of search results.
type Page struct {
	Page    int     `json:"page"`
	Pages   int     `json:"pages"`
	PerPage int     `json:"perpage"`
	Total   int     `json:"total"`
	Photo   []Photo `json:"photo"`
}

type SearchResponse struct {
	Photos  Page   `json:"photos"`
	Stat    string `json:"stat"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type Config struct {
	APIKey   string
	APIURL   string
	ImageURL string
	PerPage  int
	Timeout  time.Duration
}

type Client struct {
	apiKey     string
	apiURL     string
	imageURL   string
	perPage    int
	httpClient *http.Client
	intN       func(n int) int

	mu    sync.Mutex
	pages map[string]int
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRandom replaces the page picker. intN must return a value in [0, n).
func WithRandom(intN func(n int) int) Option {
	return func(c *Client) {
		c.intN = intN
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		apiKey:     cfg.APIKey,
		apiURL:     strings.TrimSuffix(orDefault(cfg.APIURL, DefaultAPIURL), "/"),
		imageURL:   strings.TrimSuffix(orDefault(cfg.ImageURL, DefaultImageURL), "/"),
		perPage:    cfg.PerPage,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		intN:       rand.IntN,
		pages:      map[string]int{},
	}
	if c.perPage <= 0 {
		c.perPage = DefaultPerPage
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchPhotos returns one page of photos taken around the coordinate. The
// page is picked at random from the page count the service reported on the
// previous search for the same coordinate, so repeated searches surface
// different photos. The first search for a coordinate uses page 1.
func (c *Client) SearchPhotos(ctx context.Context, lat, lon float64) ([]Photo, error) {
	key := coordinateKey(lat, lon)
	page := c.pickPage(key)

	resp, err := c.Search(ctx, lat, lon, page)
	if err != nil {
		return nil, err
	}

	c.rememberPages(key, resp.Photos.Pages)
	return resp.Photos.Photo, nil
}

// Search fetches a single result page.
func (c *Client) Search(ctx context.Context, lat, lon float64, page int) (SearchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL(lat, lon, page), nil)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("flickr: search: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("flickr: search: %w: %w", ErrNetwork, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return SearchResponse{}, fmt.Errorf("flickr: search: %w: status %d", ErrNetwork, res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("flickr: search: %w: %w", ErrNetwork, err)
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return SearchResponse{}, fmt.Errorf("flickr: search: %w: %w", ErrDecode, err)
	}

	if result.Stat != "ok" {
		return SearchResponse{}, fmt.Errorf("flickr: search: %w: stat %q code %d: %s",
			ErrNetwork, result.Stat, result.Code, result.Message)
	}

	return result, nil
}

// DownloadPhoto fetches the square thumbnail of photo. There is no retry.
func (c *Client) DownloadPhoto(ctx context.Context, photo Photo) ([]byte, error) {
	imageURL := c.ImageURL(photo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("flickr: download %s: %w", photo.ID, err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flickr: download %s: %w: %w", photo.ID, ErrNetwork, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("flickr: download %s: %w: status %d", photo.ID, ErrNetwork, res.StatusCode)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("flickr: download %s: %w: %w", photo.ID, ErrNetwork, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("flickr: download %s: %w: empty body", photo.ID, ErrNetwork)
	}

	return data, nil
}

// ImageURL returns the URL of the 150x150 square rendition of photo.
func (c *Client) ImageURL(photo Photo) string {
	return fmt.Sprintf("%s/%s/%s_%s_q.jpg", c.imageURL, photo.Server, photo.ID, photo.Secret)
}

func (c *Client) searchURL(lat, lon float64, page int) string {
	q := url.Values{}
	q.Set("method", "flickr.photos.search")
	q.Set("api_key", c.apiKey)
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(c.perPage))
	q.Set("format", "json")
	q.Set("nojsoncallback", "1")
	return c.apiURL + "/?" + q.Encode()
}

func (c *Client) pickPage(key string) int {
	c.mu.Lock()
	pages := c.pages[key]
	c.mu.Unlock()

	if limit := maxResults / c.perPage; pages > limit {
		pages = limit
	}
	if pages <= 1 {
		return 1
	}
	return c.intN(pages) + 1
}

func (c *Client) rememberPages(key string, pages int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[key] = pages
}

func coordinateKey(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
