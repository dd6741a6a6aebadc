package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/peerloom/trackerd/internal/trackerdom"
)

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["success"] = true
	writeJSON(w, fields)
}

func writeFailure(w http.ResponseWriter, errMsg string) {
	writeJSON(w, map[string]interface{}{"success": false, "error": errMsg})
}

func writeDeadTracker(w http.ResponseWriter, errMsg string) {
	writeJSON(w, map[string]interface{}{"success": false, "dead_tracker": true, "error": errMsg})
}

// domainErrorMessage maps a trackerdom sentinel (or any other error) to the
// exact diagnostic string spec.md §7 documents. Anything unrecognized is
// reported as the catch-all "Unexpected error" rather than leaking internal
// detail across the HTTP boundary.
func domainErrorMessage(err error) string {
	var seqErr *trackerdom.SequenceMismatchError
	if errors.As(err, &seqErr) {
		return fmt.Sprintf(
			"Tracker is expecting sequence number %d (sequence number %d was sent)",
			seqErr.Expected, seqErr.Got,
		)
	}

	switch {
	case errors.Is(err, trackerdom.ErrUnknownPeer):
		return "Unknown peer"
	case errors.Is(err, trackerdom.ErrChunkMismatch):
		return "Chunk list does not match the previously registered chunks for this hash"
	case errors.Is(err, trackerdom.ErrAlreadyHosting):
		return "Already hosting this file"
	case errors.Is(err, trackerdom.ErrNotHosting):
		return "Not hosting this file"
	default:
		return "Unexpected error"
	}
}
