package handlers_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Oxyrus/virtualtourist/internal/http/handlers"
	"github.com/Oxyrus/virtualtourist/internal/storage"
)

func TestPinHandlerList(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/api/pins", nil)

	pins := &stubPins{list: []storage.Pin{testPin(2, 48.8566, 2.3522), testPin(1, 40.7128, -74.006)}}
	handler := handlers.NewPinHandler(newTestLogger(), pins, &stubCloser{})
	handler.List(ctx)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got []handlers.PinResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 2 || got[0].ID != 2 || got[1].Latitude != 40.7128 {
		t.Fatalf("unexpected pins %+v", got)
	}
}

func TestPinHandlerListError(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/api/pins", nil)

	pins := &stubPins{listErr: fmt.Errorf("sqlite: list pins: %w: boom", storage.ErrPersistence)}
	handler := handlers.NewPinHandler(newTestLogger(), pins, &stubCloser{})
	handler.List(ctx)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Fatalf("internal error details leaked: %s", rec.Body.String())
	}
}

func TestPinHandlerCreate(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	req := httptest.NewRequest(http.MethodPost, "/api/pins", strings.NewReader(`{"latitude":0,"longitude":-74.006}`))
	req.Header.Set("Content-Type", "application/json")
	ctx.Request = req

	pins := &stubPins{createResp: testPin(7, 0, -74.006)}
	handler := handlers.NewPinHandler(newTestLogger(), pins, &stubCloser{})
	handler.Create(ctx)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if pins.lastCreate != (storage.Coordinate{Latitude: 0, Longitude: -74.006}) {
		t.Fatalf("unexpected coordinate %+v", pins.lastCreate)
	}
	if !strings.Contains(rec.Body.String(), `"id":7`) {
		t.Fatalf("expected pin id in response, got %s", rec.Body.String())
	}
}

func TestPinHandlerCreateValidation(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		createErr error
		want      int
	}{
		{name: "missing longitude", body: `{"latitude":1}`, want: http.StatusBadRequest},
		{name: "malformed", body: `{"latitude":`, want: http.StatusBadRequest},
		{
			name:      "out of range",
			body:      `{"latitude":91,"longitude":0}`,
			createErr: fmt.Errorf("%w: latitude 91 out of range", storage.ErrInvalidCoordinate),
			want:      http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(rec)
			req := httptest.NewRequest(http.MethodPost, "/api/pins", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			ctx.Request = req

			pins := &stubPins{createErr: tt.createErr}
			handler := handlers.NewPinHandler(newTestLogger(), pins, &stubCloser{})
			handler.Create(ctx)

			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestPinHandlerLookup(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/api/pins/lookup?lat=40.7128&lon=-74.006", nil)

	pins := &stubPins{findResp: testPin(3, 40.7128, -74.006)}
	handler := handlers.NewPinHandler(newTestLogger(), pins, &stubCloser{})
	handler.Lookup(ctx)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if pins.lastFind != (storage.Coordinate{Latitude: 40.7128, Longitude: -74.006}) {
		t.Fatalf("unexpected lookup coordinate %+v", pins.lastFind)
	}
}

func TestPinHandlerLookupErrors(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		findErr error
		want    int
	}{
		{name: "bad latitude", target: "/api/pins/lookup?lat=north&lon=1", want: http.StatusBadRequest},
		{name: "missing longitude", target: "/api/pins/lookup?lat=1", want: http.StatusBadRequest},
		{name: "no pin", target: "/api/pins/lookup?lat=1&lon=2", findErr: storage.ErrNotFound, want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(rec)
			ctx.Request = httptest.NewRequest(http.MethodGet, tt.target, nil)

			handler := handlers.NewPinHandler(newTestLogger(), &stubPins{findErr: tt.findErr}, &stubCloser{})
			handler.Lookup(ctx)

			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestPinHandlerGet(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want int
	}{
		{name: "found", id: "4", want: http.StatusOK},
		{name: "missing", id: "5", want: http.StatusNotFound},
		{name: "invalid", id: "four", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(rec)
			ctx.Request = httptest.NewRequest(http.MethodGet, "/api/pins/"+tt.id, nil)
			ctx.Params = gin.Params{{Key: "id", Value: tt.id}}

			pins := &stubPins{byID: map[int64]storage.Pin{4: testPin(4, 1, 2)}}
			handler := handlers.NewPinHandler(newTestLogger(), pins, &stubCloser{})
			handler.Get(ctx)

			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestPinHandlerDeleteClosesAlbums(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodDelete, "/api/pins/9", nil)
	ctx.Params = gin.Params{{Key: "id", Value: "9"}}

	pins := &stubPins{}
	closer := &stubCloser{}
	handler := handlers.NewPinHandler(newTestLogger(), pins, closer)
	handler.Delete(ctx)
	ctx.Writer.WriteHeaderNow()

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if len(pins.deletedIDs) != 1 || pins.deletedIDs[0] != 9 {
		t.Fatalf("expected pin 9 deleted, got %v", pins.deletedIDs)
	}
	if len(closer.closed) != 1 || closer.closed[0] != 9 {
		t.Fatalf("expected albums of pin 9 closed, got %v", closer.closed)
	}
}

func TestPinHandlerDeleteNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodDelete, "/api/pins/9", nil)
	ctx.Params = gin.Params{{Key: "id", Value: "9"}}

	closer := &stubCloser{}
	handler := handlers.NewPinHandler(newTestLogger(), &stubPins{deleteErr: storage.ErrNotFound}, closer)
	handler.Delete(ctx)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if len(closer.closed) != 0 {
		t.Fatalf("expected no albums closed")
	}
}
