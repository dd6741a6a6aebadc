package httpapi

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/peerloom/trackerd/internal/store"
	"github.com/peerloom/trackerd/internal/trackerdom"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /file_list", s.recovered(s.handleFileList))
	mux.HandleFunc("GET /file/{id}", s.recovered(s.handleFile))
	mux.HandleFunc("GET /file_by_hash/{hash}", s.recovered(s.handleFileByHash))
	mux.HandleFunc("GET /tracker_list", s.recovered(s.handleTrackerList))
	mux.HandleFunc("GET /peer_status/{guid}", s.recovered(s.handlePeerStatus))

	mux.HandleFunc("POST /add_file", s.recovered(s.handleAddFile))
	mux.HandleFunc("PUT /keep_alive", s.recovered(s.handleKeepAlive))
	mux.HandleFunc("DELETE /deregister_file", s.recovered(s.handleDeregisterFile))
	mux.HandleFunc("DELETE /deregister_file_by_hash", s.recovered(s.handleDeregisterFileByHash))
	mux.HandleFunc("POST /new_tracker", s.recovered(s.handleNewTracker))
	mux.HandleFunc("PATCH /tracker_sync", s.recovered(s.handleTrackerSync))

	if s.publisher != nil {
		mux.HandleFunc("GET /events", s.publisher.ServeWS)
	}
}

// recovered keeps a panicking handler from unwinding past the HTTP layer:
// the client always gets the response envelope, never a bare 500.
func (s *Server) recovered(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic in handler", "path", r.URL.Path, "panic", rec)
				writeFailure(w, "Unexpected error")
			}
		}()
		h(w, r)
	}
}

// onlineCutoff is the oldest keep_alive_timestamp that still counts as online.
func (s *Server) onlineCutoff() int64 {
	return time.Now().Add(-s.keepAliveTimeout).Unix()
}

// Wire shapes for broadcast event payloads. These mirror the request schemas
// exactly: a sibling validates an inbound sync event's data against the same
// schema the originating request was validated against.

type chunkEventData struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Hash string `json:"hash"`
}

type addFileEventData struct {
	Name      string           `json:"name"`
	FullHash  string           `json:"full_hash"`
	Chunks    []chunkEventData `json:"chunks"`
	GUID      string           `json:"guid"`
	SeqNumber int64            `json:"seq_number"`
}

type keepAliveEventData struct {
	GUID        string `json:"guid"`
	KASeqNumber int64  `json:"ka_seq_number"`
}

type deregisterByHashEventData struct {
	FileHash  string `json:"file_hash"`
	GUID      string `json:"guid"`
	SeqNumber int64  `json:"seq_number"`
}

func (s *Server) handleAddFile(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	var body addFileBody
	if err := decodeStrict(r, &body); err != nil {
		writeFailure(w, err.Error())
		return
	}
	req, err := body.toRequest(false)
	if err != nil {
		writeFailure(w, err.Error())
		return
	}

	res, err := trackerdom.AddFile(s.store, req, ip)
	if err != nil {
		writeFailure(w, domainErrorMessage(err))
		return
	}

	// Rebroadcast the request with the assigned GUID filled in, so siblings
	// that have never seen this peer can create it from the event alone.
	data := addFileEventData{
		Name:      req.Name,
		FullHash:  req.FullHash,
		Chunks:    make([]chunkEventData, len(req.Chunks)),
		GUID:      res.GUID,
		SeqNumber: req.SeqNumber,
	}
	for i, c := range req.Chunks {
		data.Chunks[i] = chunkEventData{ID: c.ID, Name: c.Name, Hash: c.Hash}
	}
	s.broadcaster.NewEvent("add_file", ip, data)
	s.publish("add_file", data)

	writeSuccess(w, map[string]interface{}{"file_id": res.FileID, "guid": res.GUID})
}

func (s *Server) handleKeepAlive(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	var body keepAliveBody
	if err := decodeStrict(r, &body); err != nil {
		writeFailure(w, err.Error())
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeFailure(w, err.Error())
		return
	}

	if err := trackerdom.KeepAlive(s.store, req, ip, time.Now().Unix()); err != nil {
		writeFailure(w, domainErrorMessage(err))
		return
	}

	data := keepAliveEventData{GUID: req.GUID, KASeqNumber: req.KASeqNumber}
	s.broadcaster.NewEvent("keep_alive", ip, data)
	s.publish("keep_alive", data)

	writeSuccess(w, nil)
}

// handleDeregisterFile is the tracker-local variant: file IDs are not stable
// across trackers, so this route is never replicated.
func (s *Server) handleDeregisterFile(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	var body deregisterFileBody
	if err := decodeStrict(r, &body); err != nil {
		writeFailure(w, err.Error())
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeFailure(w, err.Error())
		return
	}

	if err := trackerdom.DeregisterFile(s.store, req, ip); err != nil {
		writeFailure(w, domainErrorMessage(err))
		return
	}

	s.publish("deregister_file", map[string]interface{}{"file_id": *req.FileID, "guid": req.GUID})
	writeSuccess(w, nil)
}

func (s *Server) handleDeregisterFileByHash(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	var body deregisterFileByHashBody
	if err := decodeStrict(r, &body); err != nil {
		writeFailure(w, err.Error())
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeFailure(w, err.Error())
		return
	}

	if err := trackerdom.DeregisterFileByHash(s.store, req, ip); err != nil {
		writeFailure(w, domainErrorMessage(err))
		return
	}

	data := deregisterByHashEventData{FileHash: *req.FileHash, GUID: req.GUID, SeqNumber: req.SeqNumber}
	s.broadcaster.NewEvent("deregister_file_by_hash", ip, data)
	s.publish("deregister_file_by_hash", data)

	writeSuccess(w, nil)
}

// handleNewTracker serves the join protocol: dump the local state (never
// including the requester itself), and only broadcast the join when the
// requester is genuinely new — a rejoining tracker is re-added quietly.
func (s *Server) handleNewTracker(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	var body newTrackerBody
	if err := decodeStrict(r, &body); err != nil {
		writeFailure(w, err.Error())
		return
	}

	known, err := s.store.TrackerExists(ip)
	if err != nil {
		s.log.Error("tracker lookup failed", "error", err)
		writeFailure(w, "Unexpected error")
		return
	}

	snap, err := s.store.Snapshot(ip)
	if err != nil {
		s.log.Error("snapshot failed", "error", err)
		writeFailure(w, "Unexpected error")
		return
	}
	raw, err := store.MarshalSnapshot(snap)
	if err != nil {
		s.log.Error("snapshot marshal failed", "error", err)
		writeFailure(w, "Unexpected error")
		return
	}

	if !known {
		// Broadcast before registering the requester's queue so the joiner
		// never receives its own join event back.
		s.broadcaster.NewEvent("new_tracker", ip, map[string]interface{}{})
		if err := s.store.AddTracker(ip); err != nil {
			s.log.Error("failed to add tracker", "tracker", ip, "error", err)
			writeFailure(w, "Unexpected error")
			return
		}
		s.publish("new_tracker", map[string]interface{}{"ip": ip})
	}
	s.broadcaster.NewTracker(ip)
	s.log.Info("served bootstrap snapshot", "tracker", ip, "rejoin", known)

	writeSuccess(w, map[string]interface{}{
		"data":     base64.StdEncoding.EncodeToString(raw),
		"checksum": store.SnapshotDigest(raw),
	})
}

func (s *Server) handleFileList(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.ListFiles(s.onlineCutoff())
	if err != nil {
		s.log.Error("file list query failed", "error", err)
		writeFailure(w, "Unexpected error")
		return
	}
	if files == nil {
		files = []store.FileSummary{}
	}
	writeSuccess(w, map[string]interface{}{"files": files})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeFailure(w, "File does not exist")
		return
	}
	view, err := s.store.GetFileByID(id, s.onlineCutoff())
	if err != nil {
		s.log.Error("file query failed", "error", err)
		writeFailure(w, "Unexpected error")
		return
	}
	writeFileView(w, view)
}

func (s *Server) handleFileByHash(w http.ResponseWriter, r *http.Request) {
	view, err := s.store.GetFileByHash(r.PathValue("hash"), s.onlineCutoff())
	if err != nil {
		s.log.Error("file query failed", "error", err)
		writeFailure(w, "Unexpected error")
		return
	}
	writeFileView(w, view)
}

func writeFileView(w http.ResponseWriter, view *store.FileView) {
	if view == nil {
		writeFailure(w, "File does not exist")
		return
	}

	peers := make([]map[string]string, 0, len(view.PeerIPs))
	for _, ip := range view.PeerIPs {
		peers = append(peers, map[string]string{"ip": ip})
	}
	chunks := view.Chunks
	if chunks == nil {
		chunks = []store.Chunk{}
	}
	writeSuccess(w, map[string]interface{}{
		"name":      view.Name,
		"full_hash": view.FullHash,
		"peers":     peers,
		"chunks":    chunks,
	})
}

func (s *Server) handleTrackerList(w http.ResponseWriter, r *http.Request) {
	ips, err := s.store.ListTrackers()
	if err != nil {
		s.log.Error("tracker list query failed", "error", err)
		writeFailure(w, "Unexpected error")
		return
	}
	trackers := make([]map[string]string, 0, len(ips))
	for _, ip := range ips {
		trackers = append(trackers, map[string]string{"ip": ip})
	}
	writeSuccess(w, map[string]interface{}{"trackers": trackers})
}

func (s *Server) handlePeerStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.GetPeerStatus(r.PathValue("guid"))
	if err != nil {
		s.log.Error("peer status query failed", "error", err)
		writeFailure(w, "Unexpected error")
		return
	}
	if status == nil {
		writeFailure(w, "Unknown peer")
		return
	}
	files := status.Files
	if files == nil {
		files = []store.PeerFile{}
	}
	writeSuccess(w, map[string]interface{}{
		"files":                  files,
		"expected_seq_number":    status.ExpectedSeqNumber,
		"ka_expected_seq_number": status.KAExpectedSeqNumber,
	})
}
