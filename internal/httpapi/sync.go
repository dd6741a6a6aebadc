package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/peerloom/trackerd/internal/trackerdom"
)

// decodeStrictData validates an embedded sync payload the same way
// decodeStrict validates a request body: unknown properties rejected.
func decodeStrictData(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return errInvalidJSON
		}
		return err
	}
	return nil
}

// handleTrackerSync applies one replicated event from a sibling. The
// sequence gate decides everything: a new event is applied and rebroadcast
// to our own siblings, a stale one is dropped silently — that drop is what
// keeps events from circulating forever.
func (s *Server) handleTrackerSync(w http.ResponseWriter, r *http.Request) {
	senderIP := clientIP(r)

	known, err := s.store.TrackerExists(senderIP)
	if err != nil {
		s.log.Error("tracker lookup failed", "error", err)
		writeFailure(w, "Unexpected error")
		return
	}
	if !known {
		// An unknown sender has been evicted from our tracker set; telling
		// it so makes it shut itself down.
		writeDeadTracker(w, "Tracker not in tracker list")
		return
	}

	var body trackerSyncBody
	if err := decodeStrict(r, &body); err != nil {
		writeFailure(w, err.Error())
		return
	}
	if err := body.validate(); err != nil {
		writeFailure(w, err.Error())
		return
	}

	event := *body.Event
	eventIP := *body.EventIP
	rebroadcast := false

	switch event {
	case "new_tracker":
		exists, err := s.store.TrackerExists(eventIP)
		if err != nil {
			s.log.Error("tracker lookup failed", "error", err)
			writeFailure(w, "Unexpected error")
			return
		}
		if !exists {
			// Broadcast before registering the new queue so the new tracker
			// never receives its own join event back.
			s.broadcaster.NewEvent(event, eventIP, json.RawMessage(body.Data))
			if err := s.store.AddTracker(eventIP); err != nil {
				s.log.Error("failed to add tracker", "tracker", eventIP, "error", err)
				writeFailure(w, "Unexpected error")
				return
			}
			s.broadcaster.NewTracker(eventIP)
			s.publish("new_tracker", map[string]interface{}{"ip": eventIP})
			s.log.Info("learned of new tracker via sync", "tracker", eventIP, "from", senderIP)
		}

	case "add_file":
		var data addFileBody
		if err := decodeStrictData(body.Data, &data); err != nil {
			writeFailure(w, err.Error())
			return
		}
		req, err := data.toRequest(true)
		if err != nil {
			writeFailure(w, err.Error())
			return
		}
		_, err = trackerdom.AddFileSynced(s.store, req, eventIP)
		switch {
		case errors.Is(err, trackerdom.ErrStaleEvent):
			s.log.Debug("dropping stale add_file event", "peer", *req.GUID, "seq", req.SeqNumber)
		case err != nil:
			s.log.Error("failed to apply synced add_file", "error", err)
			writeFailure(w, "Unexpected error")
			return
		default:
			rebroadcast = true
			s.publish("add_file", json.RawMessage(body.Data))
		}

	case "keep_alive":
		var data keepAliveBody
		if err := decodeStrictData(body.Data, &data); err != nil {
			writeFailure(w, err.Error())
			return
		}
		req, err := data.toRequest()
		if err != nil {
			writeFailure(w, err.Error())
			return
		}
		err = trackerdom.KeepAliveSynced(s.store, req, eventIP, time.Now().Unix())
		switch {
		case errors.Is(err, trackerdom.ErrStaleEvent):
			s.log.Debug("dropping stale keep_alive event", "peer", req.GUID, "seq", req.KASeqNumber)
		case err != nil:
			s.log.Error("failed to apply synced keep_alive", "error", err)
			writeFailure(w, "Unexpected error")
			return
		default:
			rebroadcast = true
			s.publish("keep_alive", json.RawMessage(body.Data))
		}

	case "deregister_file_by_hash":
		var data deregisterFileByHashBody
		if err := decodeStrictData(body.Data, &data); err != nil {
			writeFailure(w, err.Error())
			return
		}
		req, err := data.toRequest()
		if err != nil {
			writeFailure(w, err.Error())
			return
		}
		err = trackerdom.DeregisterFileByHashSynced(s.store, req, eventIP)
		switch {
		case errors.Is(err, trackerdom.ErrStaleEvent):
			s.log.Debug("dropping stale deregister event", "peer", req.GUID, "seq", req.SeqNumber)
		case err != nil:
			s.log.Error("failed to apply synced deregister", "error", err)
			writeFailure(w, "Unexpected error")
			return
		default:
			rebroadcast = true
			s.publish("deregister_file_by_hash", json.RawMessage(body.Data))
		}
	}

	// The sender gets the event back too; its own counter has already
	// advanced, so it drops the echo as stale.
	if rebroadcast {
		s.broadcaster.NewEvent(event, eventIP, json.RawMessage(body.Data))
	}

	writeSuccess(w, nil)
}
