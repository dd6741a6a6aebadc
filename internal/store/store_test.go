package store

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(&Config{DBPath: filepath.Join(dir, "tracker.db")})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreOpenCreatesSchema(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.ListTrackers(); err != nil {
		t.Fatalf("ListTrackers() error = %v", err)
	}
}

func TestTrackerLifecycle(t *testing.T) {
	s := newTestStore(t)

	if err := s.AddTracker("10.0.0.2"); err != nil {
		t.Fatalf("AddTracker() error = %v", err)
	}

	exists, err := s.TrackerExists("10.0.0.2")
	if err != nil {
		t.Fatalf("TrackerExists() error = %v", err)
	}
	if !exists {
		t.Fatal("expected tracker to exist")
	}

	if err := s.RemoveTracker("10.0.0.2"); err != nil {
		t.Fatalf("RemoveTracker() error = %v", err)
	}

	exists, err = s.TrackerExists("10.0.0.2")
	if err != nil {
		t.Fatalf("TrackerExists() error = %v", err)
	}
	if exists {
		t.Fatal("expected tracker to be gone")
	}
}
