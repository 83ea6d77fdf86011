package stateserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/softlynn/lighthouse-coach/internal/fsutil"
	"github.com/softlynn/lighthouse-coach/internal/poseource"
	"github.com/softlynn/lighthouse-coach/internal/stateengine"
	"github.com/softlynn/lighthouse-coach/internal/timeutil"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	source := poseource.NewMockPoseSource()
	fsys := fsutil.NewMemoryFileSystem()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	engine := stateengine.New(source, fsys, clock, "/data")
	return New(engine)
}

func TestHandleState_ReturnsSnapshotJSON(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()

	srv.ServeMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("content-type = %q", ct)
	}
	if cl := rec.Header().Get("Content-Length"); cl == "" {
		t.Error("expected Content-Length header")
	}

	var snap map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if _, ok := snap["connected"]; !ok {
		t.Error("expected snapshot to include a connected field")
	}
}

func TestHandleState_RejectsNonGET(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/state", nil)
	rec := httptest.NewRecorder()

	srv.ServeMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleRunDiagnostic_RejectedWithoutTrackers(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/run_diagnostic", nil)
	rec := httptest.NewRecorder()

	srv.ServeMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ok, _ := resp["ok"].(bool); ok {
		t.Errorf("expected ok:false when no trackers are selected, got %v", resp)
	}
	if msg, _ := resp["error"].(string); msg == "" {
		t.Error("expected a rejection reason in the error field")
	}
}

// The reject-a-concurrent-run branch of TriggerDiagnostic (and the
// diagMu bookkeeping behind it) is exercised directly, without racing a
// background goroutine, in internal/stateengine's own test suite; this
// package only needs to confirm the handler surfaces whichever
// (started, reason) TriggerDiagnostic returns.

func TestHandleRecompute_AlwaysOK(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/recompute", nil)
	rec := httptest.NewRecorder()

	srv.ServeMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ok, _ := resp["ok"].(bool); !ok {
		t.Errorf("expected ok:true, got %v", resp)
	}
}

func TestHandleShutdown_SignalsServerStop(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/shutdown", nil)
	rec := httptest.NewRecorder()

	srv.ServeMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	select {
	case <-srv.shutdownCh:
	default:
		t.Error("expected /shutdown to signal shutdownCh")
	}
}

func TestCatchAll_Returns404(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()

	srv.ServeMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["error"] != "not found" {
		t.Errorf("error = %q, want %q", resp["error"], "not found")
	}
}
