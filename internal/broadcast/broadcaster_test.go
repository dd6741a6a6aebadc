package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/peerloom/trackerd/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(&store.Config{DBPath: filepath.Join(dir, "tracker.db")})
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig(port int) Config {
	cfg := DefaultConfig()
	cfg.Port = port
	cfg.WorkerCount = 2
	cfg.PollInterval = 10 * time.Millisecond
	cfg.SendTimeout = 2 * time.Second
	return cfg
}

func TestNewEventDeliversOnSuccess(t *testing.T) {
	var received int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode event: %v", err)
		}
		if ev.Type != "add_file" {
			t.Errorf("unexpected event type %q", ev.Type)
		}
		json.NewEncoder(w).Encode(syncResponse{Success: true})
	}))
	defer srv.Close()

	s := newTestStore(t)
	host, port := splitHostPort(t, srv.URL)
	b := New(s, testConfig(port))
	defer b.Stop()

	b.NewTracker(host)
	b.NewEvent("add_file", "10.0.0.9", map[string]any{"name": "x"})

	waitFor(t, func() bool { return atomic.LoadInt32(&received) == 1 })
}

func TestDeadTrackerResponseTriggersShutdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(syncResponse{Success: false, DeadTracker: true})
	}))
	defer srv.Close()

	s := newTestStore(t)
	host, port := splitHostPort(t, srv.URL)
	b := New(s, testConfig(port))
	defer b.Stop()

	b.NewTracker(host)
	b.NewEvent("keep_alive", "10.0.0.9", map[string]any{})

	select {
	case <-b.ShutdownRequested():
	case <-time.After(2 * time.Second):
		t.Fatal("expected shutdown signal after dead_tracker response")
	}
}

func TestFailureThresholdEvictsTracker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestStore(t)
	host, port := splitHostPort(t, srv.URL)
	if err := s.AddTracker(host); err != nil {
		t.Fatalf("AddTracker() error = %v", err)
	}

	cfg := testConfig(port)
	cfg.MaxFailures = 1
	b := New(s, cfg)
	defer b.Stop()

	b.Start()
	for i := 0; i < 3; i++ {
		b.NewEvent("keep_alive", "10.0.0.9", map[string]any{})
	}

	waitFor(t, func() bool {
		exists, err := s.TrackerExists(host)
		if err != nil {
			t.Fatalf("TrackerExists() error = %v", err)
		}
		return !exists
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	return u.Hostname(), port
}
