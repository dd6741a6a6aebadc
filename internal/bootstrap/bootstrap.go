// Package bootstrap implements the join protocol: fetch a full snapshot from
// an existing tracker, install it locally, and record that tracker as a
// sibling.
package bootstrap

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/peerloom/trackerd/internal/store"
	"github.com/peerloom/trackerd/pkg/logging"
)

// ErrNoTracker is returned when every candidate tracker failed to serve a
// usable snapshot.
var ErrNoTracker = errors.New("could not initialize database from any tracker")

// Config controls the join attempt.
type Config struct {
	// InitialTracker is the seed IP from --initial-tracker. Empty means "use
	// whatever trackers the local database already knows"; the literal
	// "none" means run standalone.
	InitialTracker string
	Port           int
	Timeout        time.Duration
}

type newTrackerResponse struct {
	Success  bool   `json:"success"`
	Data     string `json:"data"`
	Checksum string `json:"checksum"`
	Error    string `json:"error"`
}

// Run joins the federation per cfg. A nil return with no candidates means
// standalone operation with whatever database already exists.
func Run(s *store.Store, cfg Config) error {
	log := logging.GetDefault().Component("bootstrap")

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	var candidates []string
	switch cfg.InitialTracker {
	case "none":
		return nil
	case "":
		known, err := s.ListTrackers()
		if err != nil {
			return fmt.Errorf("failed to list known trackers: %w", err)
		}
		if len(known) == 0 {
			log.Info("no initial tracker and none known, running standalone")
			return nil
		}
		candidates = known
	default:
		if net.ParseIP(cfg.InitialTracker) == nil {
			return fmt.Errorf("initial tracker %q is not an IP address", cfg.InitialTracker)
		}
		candidates = []string{cfg.InitialTracker}
	}

	client := &http.Client{Timeout: cfg.Timeout}
	for _, ip := range candidates {
		snap, err := fetchSnapshot(client, ip, cfg.Port)
		if err != nil {
			log.Warn("tracker did not serve a snapshot, trying next", "tracker", ip, "error", err)
			continue
		}

		if err := s.Restore(snap); err != nil {
			return fmt.Errorf("failed to install snapshot from %s: %w", ip, err)
		}
		if err := s.AddTracker(ip); err != nil {
			return fmt.Errorf("failed to record seed tracker %s: %w", ip, err)
		}

		log.Info("joined federation", "seed", ip,
			"trackers", len(snap.Trackers), "peers", len(snap.Peers), "files", len(snap.Files))
		return nil
	}

	return ErrNoTracker
}

// fetchSnapshot POSTs /new_tracker to one candidate and decodes the snapshot
// it returns. Every failure mode (network, non-OK status, non-JSON body,
// success=false, bad base64, checksum mismatch) is an error so the caller
// can move on to the next candidate.
func fetchSnapshot(client *http.Client, ip string, port int) (*store.Snapshot, error) {
	url := fmt.Sprintf("http://%s:%d/new_tracker", ip, port)
	resp, err := client.Post(url, "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad response status %d", resp.StatusCode)
	}

	var body newTrackerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	if !body.Success {
		return nil, fmt.Errorf("tracker refused join: %s", body.Error)
	}

	raw, err := base64.StdEncoding.DecodeString(body.Data)
	if err != nil {
		return nil, fmt.Errorf("snapshot is not valid base64: %w", err)
	}
	if body.Checksum != "" && body.Checksum != store.SnapshotDigest(raw) {
		return nil, errors.New("snapshot checksum mismatch")
	}

	snap, err := store.UnmarshalSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("snapshot did not parse: %w", err)
	}
	return snap, nil
}
