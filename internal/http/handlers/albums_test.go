package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Oxyrus/virtualtourist/internal/album"
	"github.com/Oxyrus/virtualtourist/internal/flickr"
	"github.com/Oxyrus/virtualtourist/internal/http/handlers"
	"github.com/Oxyrus/virtualtourist/internal/storage"
	"github.com/Oxyrus/virtualtourist/internal/storage/sqlite"
)

func TestAlbumHandlerOpen(t *testing.T) {
	manager, pin := newAlbumFixture(t, &fakeGateway{photos: 3})
	handler := handlers.NewAlbumHandler(newTestLogger(), manager)

	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/api/pins/1/album", nil)
	ctx.Params = gin.Params{{Key: "id", Value: strconv.FormatInt(pin.ID, 10)}}
	handler.Open(ctx)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var got handlers.SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID == "" || got.PinID != pin.ID {
		t.Fatalf("unexpected session %+v", got)
	}
	if got.State != "ready" || !got.FromNetwork {
		t.Fatalf("expected ready network session, got %s fromNetwork=%v", got.State, got.FromNetwork)
	}
	if len(got.Cells) != 3 || got.Cells[0].Status != "pending" || got.Cells[0].SourceID != "id-0" {
		t.Fatalf("unexpected cells %+v", got.Cells)
	}
}

func TestAlbumHandlerOpenSearchFailure(t *testing.T) {
	manager, pin := newAlbumFixture(t, &fakeGateway{searchErr: fmt.Errorf("%w: timeout", flickr.ErrNetwork)})
	handler := handlers.NewAlbumHandler(newTestLogger(), manager)

	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/api/pins/1/album", nil)
	ctx.Params = gin.Params{{Key: "id", Value: strconv.FormatInt(pin.ID, 10)}}
	handler.Open(ctx)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	var got handlers.SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Notice == "" || len(got.Cells) != 0 {
		t.Fatalf("expected an empty album with a notice, got %+v", got)
	}
}

func TestAlbumHandlerOpenUnknownPin(t *testing.T) {
	manager, _ := newAlbumFixture(t, &fakeGateway{})
	handler := handlers.NewAlbumHandler(newTestLogger(), manager)

	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/api/pins/404/album", nil)
	ctx.Params = gin.Params{{Key: "id", Value: "404"}}
	handler.Open(ctx)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestAlbumHandlerDownloadAndChanges(t *testing.T) {
	manager, pin := newAlbumFixture(t, &fakeGateway{photos: 2})
	session, err := manager.Open(context.Background(), pin.ID)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	handler := handlers.NewAlbumHandler(newTestLogger(), manager)

	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/api/albums/x/cells/1/download", nil)
	ctx.Params = gin.Params{{Key: "session", Value: session.ID()}, {Key: "index", Value: "1"}}
	handler.Download(ctx)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var cell handlers.CellResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &cell); err != nil {
		t.Fatalf("failed to decode cell: %v", err)
	}
	if cell.Status != "filled" || cell.ImageURL != "/api/photos/"+cell.PhotoID+"/image" {
		t.Fatalf("unexpected cell %+v", cell)
	}

	rec = httptest.NewRecorder()
	ctx, _ = gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/api/albums/x/changes", nil)
	ctx.Params = gin.Params{{Key: "session", Value: session.ID()}}
	handler.Changes(ctx)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var diff handlers.DiffResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &diff); err != nil {
		t.Fatalf("failed to decode diff: %v", err)
	}
	if len(diff.Inserted) != 2 || len(diff.Deleted) != 0 || len(diff.Cells) != 2 {
		t.Fatalf("unexpected first diff %+v", diff)
	}
	if diff.Cells[1].Status != "filled" {
		t.Fatalf("expected downloaded cell filled in diff, got %s", diff.Cells[1].Status)
	}
}

func TestAlbumHandlerCellErrors(t *testing.T) {
	manager, pin := newAlbumFixture(t, &fakeGateway{photos: 1})
	session, err := manager.Open(context.Background(), pin.ID)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	handler := handlers.NewAlbumHandler(newTestLogger(), manager)

	tests := []struct {
		name    string
		session string
		index   string
		want    int
	}{
		{name: "unknown session", session: "missing", index: "0", want: http.StatusNotFound},
		{name: "bad index", session: session.ID(), index: "first", want: http.StatusBadRequest},
		{name: "out of range", session: session.ID(), index: "3", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(rec)
			ctx.Request = httptest.NewRequest(http.MethodDelete, "/api/albums/x/cells/0", nil)
			ctx.Params = gin.Params{{Key: "session", Value: tt.session}, {Key: "index", Value: tt.index}}
			handler.DeleteCell(ctx)

			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestAlbumHandlerPrefetchAndNewCollection(t *testing.T) {
	gateway := &fakeGateway{photos: 4}
	manager, pin := newAlbumFixture(t, gateway)
	session, err := manager.Open(context.Background(), pin.ID)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	handler := handlers.NewAlbumHandler(newTestLogger(), manager)

	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/api/albums/x/prefetch", nil)
	ctx.Params = gin.Params{{Key: "session", Value: session.ID()}}
	handler.Prefetch(ctx)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != `{"filled":4}` {
		t.Fatalf("unexpected prefetch response %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	ctx, _ = gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/api/albums/x/new-collection", nil)
	ctx.Params = gin.Params{{Key: "session", Value: session.ID()}}
	handler.NewCollection(ctx)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got handlers.SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Generation != 1 || len(got.Cells) != 4 || got.Cells[0].Status != "pending" {
		t.Fatalf("unexpected session after new collection %+v", got)
	}
}

func TestAlbumHandlerClose(t *testing.T) {
	manager, pin := newAlbumFixture(t, &fakeGateway{photos: 1})
	session, err := manager.Open(context.Background(), pin.ID)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	handler := handlers.NewAlbumHandler(newTestLogger(), manager)

	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodDelete, "/api/albums/x", nil)
	ctx.Params = gin.Params{{Key: "session", Value: session.ID()}}
	handler.Close(ctx)
	ctx.Writer.WriteHeaderNow()

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	ctx, _ = gin.CreateTestContext(rec)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/api/albums/x", nil)
	ctx.Params = gin.Params{{Key: "session", Value: session.ID()}}
	handler.Get(ctx)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected closed session to be gone, got %d", rec.Code)
	}
}

func newAlbumFixture(t *testing.T, gateway *fakeGateway) (*album.Manager, storage.Pin) {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "handlers.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("Close returned error: %v", err)
		}
	})

	pin, err := store.Pins().Create(context.Background(), storage.Coordinate{Latitude: 40.7128, Longitude: -74.006})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	manager := album.NewManager(newTestLogger(), store, gateway,
		album.WithFatalHandler(func(err error) {
			t.Errorf("unexpected persistence failure: %v", err)
		}),
	)
	t.Cleanup(manager.CloseAll)
	return manager, pin
}

type fakeGateway struct {
	photos    int
	searchErr error
}

func (g *fakeGateway) SearchPhotos(context.Context, float64, float64) ([]flickr.Photo, error) {
	if g.searchErr != nil {
		return nil, g.searchErr
	}
	out := make([]flickr.Photo, 0, g.photos)
	for i := 0; i < g.photos; i++ {
		out = append(out, flickr.Photo{ID: fmt.Sprintf("id-%d", i), Secret: "s", Server: "1"})
	}
	return out, nil
}

func (g *fakeGateway) DownloadPhoto(_ context.Context, photo flickr.Photo) ([]byte, error) {
	return []byte("image-" + photo.ID), nil
}
