package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/peerloom/trackerd/pkg/logging"
)

// syncResponse is the envelope a sibling's /tracker_sync returns.
type syncResponse struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	DeadTracker bool   `json:"dead_tracker,omitempty"`
}

// runWorker is one of the fixed pool of interchangeable workers. There is no
// per-tracker affinity: any worker may drain any tracker's queue, so strict
// FIFO delivery to a given destination is not guaranteed when multiple
// workers race on the same queue. The sequence gate at the receiver makes
// this safe.
func (b *Broadcaster) runWorker(id int) {
	log := b.log.Component(fmt.Sprintf("worker-%d", id))
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.sweep(log)
		}
	}
}

// sweep takes a snapshot of the current tracker set and, for each, tries to
// pull one event off its queue without blocking. A tracker evicted between
// the snapshot and the lookup is simply skipped, not treated as an error.
func (b *Broadcaster) sweep(log *logging.Logger) {
	b.mu.RLock()
	ips := make([]string, 0, len(b.trackers))
	for ip := range b.trackers {
		ips = append(ips, ip)
	}
	b.mu.RUnlock()

	for _, ip := range ips {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		b.mu.RLock()
		tq, ok := b.trackers[ip]
		b.mu.RUnlock()
		if !ok {
			continue
		}

		select {
		case ev := <-tq.queue:
			b.deliver(log, tq, ev)
		default:
		}
	}
}

func (b *Broadcaster) deliver(log *logging.Logger, tq *trackerQueue, ev *Event) {
	ok, deadTracker, err := b.send(tq.ip, ev)
	switch {
	case err != nil:
		log.Warn("delivery failed", "tracker", tq.ip, "event", ev.Type, "error", err)
		b.recordFailure(tq)
	case deadTracker:
		log.Error("evicted from sibling's tracker set, shutting down", "tracker", tq.ip)
		b.triggerShutdown()
	case ok:
		atomic.StoreInt32(&tq.failureCount, 0)
	default:
		b.recordFailure(tq)
	}
}

func (b *Broadcaster) send(ip string, ev *Event) (ok bool, deadTracker bool, err error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return false, false, err
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.SendTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/tracker_sync", ip, b.cfg.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return false, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return false, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, false, nil
	}

	var sr syncResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return false, false, nil
	}
	if sr.Success {
		return true, false, nil
	}
	if sr.DeadTracker {
		return false, true, nil
	}
	return false, false, nil
}

func (b *Broadcaster) recordFailure(tq *trackerQueue) {
	n := atomic.AddInt32(&tq.failureCount, 1)
	if int(n) > b.cfg.MaxFailures {
		b.log.Warn("tracker exceeded failure threshold, evicting", "tracker", tq.ip, "failures", n)
		b.RemoveTracker(tq.ip)
	}
}

func (b *Broadcaster) triggerShutdown() {
	b.shutdownOnce.Do(func() { close(b.shutdown) })
}
