package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/peerloom/trackerd/internal/broadcast"
	"github.com/peerloom/trackerd/internal/store"
)

func newTestServer(t *testing.T) (*store.Store, *httptest.Server) {
	t.Helper()

	s, err := store.New(&store.Config{DBPath: filepath.Join(t.TempDir(), "tracker.db")})
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	bcfg := broadcast.DefaultConfig()
	bcfg.PollInterval = 50 * time.Millisecond
	b := broadcast.New(s, bcfg)
	t.Cleanup(b.Stop)

	srv := New(s, b, nil, Config{Addr: ":0", KeepAliveTimeout: 5 * time.Minute})
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)

	return s, ts
}

func doJSON(t *testing.T, method, url string, body interface{}) map[string]interface{} {
	t.Helper()

	var reader *bytes.Reader
	if raw, ok := body.([]byte); ok {
		reader = bytes.NewReader(raw)
	} else {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func addFileBodyFor(guid interface{}, seq int64) map[string]interface{} {
	return map[string]interface{}{
		"name":       "x",
		"full_hash":  "H",
		"chunks":     []map[string]interface{}{{"id": 0, "name": "c0", "hash": "h0"}},
		"guid":       guid,
		"seq_number": seq,
	}
}

func TestAddFileColdRegister(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/add_file", addFileBodyFor(nil, 0))
	if resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}
	if resp["file_id"].(float64) != 1 {
		t.Fatalf("expected file_id 1, got %v", resp["file_id"])
	}
	guid, _ := resp["guid"].(string)
	if guid == "" {
		t.Fatalf("expected assigned guid, got %v", resp["guid"])
	}

	// The file is immediately queryable with its hosting peer online.
	fileResp := doJSON(t, http.MethodGet, ts.URL+"/file_by_hash/H", nil)
	if fileResp["success"] != true {
		t.Fatalf("expected success, got %v", fileResp)
	}
	if fileResp["name"] != "x" || fileResp["full_hash"] != "H" {
		t.Fatalf("unexpected file view: %v", fileResp)
	}
	peers := fileResp["peers"].([]interface{})
	if len(peers) != 1 {
		t.Fatalf("expected 1 online peer, got %v", peers)
	}
	chunks := fileResp["chunks"].([]interface{})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %v", chunks)
	}
}

func TestAddFileSequenceMismatchMessage(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/add_file", addFileBodyFor(nil, 0))
	guid := resp["guid"].(string)

	resp = doJSON(t, http.MethodPost, ts.URL+"/add_file", addFileBodyFor(guid, 0))
	if resp["success"] != false {
		t.Fatalf("expected failure, got %v", resp)
	}
	want := "Tracker is expecting sequence number 1 (sequence number 0 was sent)"
	if resp["error"] != want {
		t.Fatalf("expected %q, got %q", want, resp["error"])
	}
}

func TestAddFileSchemaViolations(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"not json", []byte(`not json at all`)},
		{"unknown property", []byte(`{"name":"x","full_hash":"H","chunks":[{"id":0,"name":"c0","hash":"h0"}],"guid":null,"seq_number":0,"extra":1}`)},
		{"empty chunks", addFileBodyFor(nil, 0)},
	}
	tests[2].body.(map[string]interface{})["chunks"] = []interface{}{}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, ts.URL+"/add_file", tt.body)
			if resp["success"] != false {
				t.Fatalf("expected failure, got %v", resp)
			}
		})
	}
}

func TestKeepAliveAndPeerStatus(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/add_file", addFileBodyFor(nil, 0))
	guid := resp["guid"].(string)

	resp = doJSON(t, http.MethodPut, ts.URL+"/keep_alive", map[string]interface{}{
		"guid": guid, "ka_seq_number": 0,
	})
	if resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}

	// peer_status reports both advanced counters for client resync.
	status := doJSON(t, http.MethodGet, ts.URL+"/peer_status/"+guid, nil)
	if status["success"] != true {
		t.Fatalf("expected success, got %v", status)
	}
	if status["expected_seq_number"].(float64) != 1 {
		t.Fatalf("expected seq 1, got %v", status["expected_seq_number"])
	}
	if status["ka_expected_seq_number"].(float64) != 1 {
		t.Fatalf("expected ka seq 1, got %v", status["ka_expected_seq_number"])
	}
	files := status["files"].([]interface{})
	if len(files) != 1 {
		t.Fatalf("expected 1 hosted file, got %v", files)
	}
}

func TestKeepAliveUnknownPeer(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPut, ts.URL+"/keep_alive", map[string]interface{}{
		"guid": "00000000-0000-0000-0000-000000000000", "ka_seq_number": 0,
	})
	if resp["success"] != false || resp["error"] != "Unknown peer" {
		t.Fatalf("expected Unknown peer failure, got %v", resp)
	}
}

func TestDeregisterByHashDeletesLastHostedFile(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/add_file", addFileBodyFor(nil, 0))
	guid := resp["guid"].(string)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/deregister_file_by_hash", map[string]interface{}{
		"file_hash": "H", "guid": guid, "seq_number": 1,
	})
	if resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}

	fileResp := doJSON(t, http.MethodGet, ts.URL+"/file_by_hash/H", nil)
	if fileResp["success"] != false {
		t.Fatalf("expected file to be gone, got %v", fileResp)
	}
}

func TestFileListCountsActivePeers(t *testing.T) {
	_, ts := newTestServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/add_file", addFileBodyFor(nil, 0))

	resp := doJSON(t, http.MethodGet, ts.URL+"/file_list", nil)
	if resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}
	files := resp["files"].([]interface{})
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %v", files)
	}
	entry := files[0].(map[string]interface{})
	if entry["active_peers"].(float64) != 1 {
		t.Fatalf("expected 1 active peer, got %v", entry["active_peers"])
	}
}

func TestTrackerSyncUnknownSenderIsDeadTracker(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPatch, ts.URL+"/tracker_sync", map[string]interface{}{
		"event": "keep_alive", "event_ip": "10.0.0.2",
		"data": map[string]interface{}{"guid": "g", "ka_seq_number": 0},
	})
	if resp["success"] != false {
		t.Fatalf("expected failure, got %v", resp)
	}
	if resp["dead_tracker"] != true {
		t.Fatalf("expected dead_tracker true, got %v", resp)
	}
	if resp["error"] != "Tracker not in tracker list" {
		t.Fatalf("unexpected error message %q", resp["error"])
	}
}

func TestTrackerSyncAppliesAndDropsStale(t *testing.T) {
	s, ts := newTestServer(t)

	// The httptest client connects from loopback; register it as a sibling.
	if err := s.AddTracker("127.0.0.1"); err != nil {
		t.Fatalf("AddTracker() error = %v", err)
	}

	event := map[string]interface{}{
		"event":    "add_file",
		"event_ip": "10.0.0.2",
		"data":     addFileBodyFor("peer-guid-1", 0),
	}

	resp := doJSON(t, http.MethodPatch, ts.URL+"/tracker_sync", event)
	if resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}

	// The peer was lazily created and its counter advanced past the event.
	peer, err := s.GetPeer("peer-guid-1")
	if err != nil {
		t.Fatalf("GetPeer() error = %v", err)
	}
	if peer == nil || peer.ExpectedSeqNumber != 1 {
		t.Fatalf("expected synced peer at seq 1, got %+v", peer)
	}

	// Replaying the same event is a silent drop: still success, no change.
	resp = doJSON(t, http.MethodPatch, ts.URL+"/tracker_sync", event)
	if resp["success"] != true {
		t.Fatalf("expected success on stale replay, got %v", resp)
	}
	peer, err = s.GetPeer("peer-guid-1")
	if err != nil {
		t.Fatalf("GetPeer() error = %v", err)
	}
	if peer.ExpectedSeqNumber != 1 {
		t.Fatalf("stale replay must not re-apply, seq = %d", peer.ExpectedSeqNumber)
	}
}

func TestTrackerSyncFirstContactAtNonZeroSeq(t *testing.T) {
	s, ts := newTestServer(t)

	if err := s.AddTracker("127.0.0.1"); err != nil {
		t.Fatalf("AddTracker() error = %v", err)
	}

	// First contact for this peer is an add_file at seq 4: earlier events
	// never reached us. The counter seeds from the event.
	first := addFileBodyFor("peer-guid-2", 4)
	first["full_hash"] = "H4"
	resp := doJSON(t, http.MethodPatch, ts.URL+"/tracker_sync", map[string]interface{}{
		"event": "add_file", "event_ip": "10.0.0.2", "data": first,
	})
	if resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}
	peer, err := s.GetPeer("peer-guid-2")
	if err != nil {
		t.Fatalf("GetPeer() error = %v", err)
	}
	if peer == nil || peer.ExpectedSeqNumber != 5 {
		t.Fatalf("expected counter seeded to 5, got %+v", peer)
	}

	// A redelivery of one of those earlier events must be silently dropped,
	// not re-applied against a zero-reset counter.
	earlier := addFileBodyFor("peer-guid-2", 2)
	earlier["full_hash"] = "H2"
	resp = doJSON(t, http.MethodPatch, ts.URL+"/tracker_sync", map[string]interface{}{
		"event": "add_file", "event_ip": "10.0.0.2", "data": earlier,
	})
	if resp["success"] != true {
		t.Fatalf("expected success on stale drop, got %v", resp)
	}
	view, err := s.GetFileByHash("H2", 0)
	if err != nil {
		t.Fatalf("GetFileByHash() error = %v", err)
	}
	if view != nil {
		t.Fatalf("stale event must not be applied, got %+v", view)
	}
	peer, err = s.GetPeer("peer-guid-2")
	if err != nil {
		t.Fatalf("GetPeer() error = %v", err)
	}
	if peer.ExpectedSeqNumber != 5 {
		t.Fatalf("stale drop must not move the counter, got %d", peer.ExpectedSeqNumber)
	}
}

func TestTrackerSyncNewTrackerAddsSibling(t *testing.T) {
	s, ts := newTestServer(t)

	if err := s.AddTracker("127.0.0.1"); err != nil {
		t.Fatalf("AddTracker() error = %v", err)
	}

	resp := doJSON(t, http.MethodPatch, ts.URL+"/tracker_sync", map[string]interface{}{
		"event": "new_tracker", "event_ip": "10.0.0.3", "data": map[string]interface{}{},
	})
	if resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}

	exists, err := s.TrackerExists("10.0.0.3")
	if err != nil {
		t.Fatalf("TrackerExists() error = %v", err)
	}
	if !exists {
		t.Fatal("expected new tracker to be added via sync")
	}
}

func TestTrackerSyncRejectsBadEvent(t *testing.T) {
	s, ts := newTestServer(t)
	if err := s.AddTracker("127.0.0.1"); err != nil {
		t.Fatalf("AddTracker() error = %v", err)
	}

	resp := doJSON(t, http.MethodPatch, ts.URL+"/tracker_sync", map[string]interface{}{
		"event": "drop_table", "event_ip": "10.0.0.2", "data": map[string]interface{}{},
	})
	if resp["success"] != false {
		t.Fatalf("expected failure for unknown event, got %v", resp)
	}

	resp = doJSON(t, http.MethodPatch, ts.URL+"/tracker_sync", map[string]interface{}{
		"event": "keep_alive", "event_ip": "not-an-ip", "data": map[string]interface{}{},
	})
	if resp["success"] != false {
		t.Fatalf("expected failure for bad event_ip, got %v", resp)
	}
}

func TestNewTrackerServesSnapshotExcludingRequester(t *testing.T) {
	s, ts := newTestServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/add_file", addFileBodyFor(nil, 0))

	resp := doJSON(t, http.MethodPost, ts.URL+"/new_tracker", map[string]interface{}{})
	if resp["success"] != true {
		t.Fatalf("expected success, got %v", resp)
	}

	raw, err := base64.StdEncoding.DecodeString(resp["data"].(string))
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if resp["checksum"] != store.SnapshotDigest(raw) {
		t.Fatal("checksum does not match payload")
	}

	snap, err := store.UnmarshalSnapshot(raw)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot() error = %v", err)
	}
	for _, ip := range snap.Trackers {
		if ip == "127.0.0.1" {
			t.Fatal("snapshot must not contain the requester itself")
		}
	}
	if len(snap.Files) != 1 || len(snap.Peers) != 1 {
		t.Fatalf("unexpected snapshot contents: %+v", snap)
	}

	// The requester joined our tracker set.
	exists, err := s.TrackerExists("127.0.0.1")
	if err != nil {
		t.Fatalf("TrackerExists() error = %v", err)
	}
	if !exists {
		t.Fatal("expected requester in local tracker set")
	}

	// A rejoin serves another snapshot without duplicating the tracker row.
	resp = doJSON(t, http.MethodPost, ts.URL+"/new_tracker", map[string]interface{}{})
	if resp["success"] != true {
		t.Fatalf("expected success on rejoin, got %v", resp)
	}
	trackers := doJSON(t, http.MethodGet, ts.URL+"/tracker_list", nil)
	list := trackers["trackers"].([]interface{})
	if len(list) != 1 {
		t.Fatalf("expected exactly one tracker row, got %v", list)
	}
}

func TestNewTrackerRejectsNonEmptyBody(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/new_tracker", map[string]interface{}{"surprise": 1})
	if resp["success"] != false {
		t.Fatalf("expected failure for non-empty body, got %v", resp)
	}
}

func TestFileByIDRoute(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/add_file", addFileBodyFor(nil, 0))
	id := int64(resp["file_id"].(float64))

	fileResp := doJSON(t, http.MethodGet, ts.URL+fmt.Sprintf("/file/%d", id), nil)
	if fileResp["success"] != true || fileResp["full_hash"] != "H" {
		t.Fatalf("unexpected file response: %v", fileResp)
	}

	missing := doJSON(t, http.MethodGet, ts.URL+"/file/999", nil)
	if missing["success"] != false {
		t.Fatalf("expected failure for missing file, got %v", missing)
	}
}
