package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/saltyorg/chtsubs/internal/database"
	"github.com/saltyorg/chtsubs/internal/plex"
	"github.com/saltyorg/chtsubs/internal/scanner"
)

// stubPlex satisfies scanner.PlexAPI with an empty library. When block is
// set, ItemParts waits until it is closed.
type stubPlex struct {
	block chan struct{}
}

func (s stubPlex) Libraries(ctx context.Context) ([]plex.Library, error) { return nil, nil }
func (s stubPlex) SectionItems(ctx context.Context, sectionKey string) ([]plex.Item, error) {
	return nil, nil
}
func (s stubPlex) Episodes(ctx context.Context, showRatingKey string) ([]plex.Item, error) {
	return nil, nil
}
func (s stubPlex) ItemParts(ctx context.Context, ratingKey string) (*plex.Item, []plex.MediaPart, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
		}
	}
	return &plex.Item{RatingKey: ratingKey, Type: "movie"}, nil, nil
}
func (s stubPlex) FetchSample(ctx context.Context, streamKey string, maxBytes int64) ([]byte, error) {
	return nil, nil
}
func (s stubPlex) SetDefaultSubtitle(ctx context.Context, partID, streamID int) error { return nil }
func (s stubPlex) DisableSubtitles(ctx context.Context, partID int) error             { return nil }

func testServer(config Config) *Server {
	return NewServer(nil, scanner.New(stubPlex{}, nil), config)
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(Config{Version: "1.2.3"})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "1.2.3" {
		t.Errorf("body = %v", body)
	}
}

func TestScanConflict(t *testing.T) {
	block := make(chan struct{})
	sc := scanner.New(stubPlex{block: block}, nil)
	s := NewServer(nil, sc, Config{})

	// Occupy the scanner with a scan blocked inside its only item.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = sc.RunScan(context.Background(), scanner.Options{ItemIDs: []int{1}})
	}()

	// Wait for the scan to start.
	deadline := time.Now().Add(2 * time.Second)
	for !sc.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("scan never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/scan", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}

	close(block)
	<-done
}

func TestScanAccepted(t *testing.T) {
	s := testServer(Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/scan", strings.NewReader(`{"dryRun":true}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
}

func TestScanRejectsBadFallback(t *testing.T) {
	s := testServer(Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/scan", strings.NewReader(`{"fallback":"bogus"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHistoryBadLimit(t *testing.T) {
	s := testServer(Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/history?limit=zero", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	s := testServer(Config{AuthUsername: "admin", AuthPassword: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong-password status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec.Code)
	}
}

func TestConfigUpdate(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	s := NewServer(db, scanner.New(stubPlex{}, nil), Config{})

	configValues := func() map[string]string {
		req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET config status = %d, want 200", rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		return body
	}

	req := httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(`{"bogus.key":1}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown key status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(`{"scan.workers":4}`))
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := configValues()["scan.workers"]; got != "4" {
		t.Errorf("scan.workers = %q after update, want \"4\"", got)
	}

	// Null clears the stored value so the default applies again.
	req = httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(`{"scan.workers":null}`))
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if _, ok := configValues()["scan.workers"]; ok {
		t.Error("scan.workers still stored after null update")
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := testServer(Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := body["scanning"]; !ok {
		t.Errorf("missing scanning field: %v", body)
	}
}
