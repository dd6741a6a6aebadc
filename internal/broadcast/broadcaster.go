// Package broadcast fans out applied replication events to sibling trackers
// and evicts trackers that stop responding.
package broadcast

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/peerloom/trackerd/internal/store"
	"github.com/peerloom/trackerd/pkg/logging"
)

// Event is the wire body PATCHed to a sibling's /tracker_sync.
type Event struct {
	Type    string      `json:"event"`
	EventIP string      `json:"event_ip"`
	Data    interface{} `json:"data"`
}

// Config tunes the worker pool and delivery behavior. New uses the fields as
// given; it does not replace zero-value fields with DefaultConfig's values.
type Config struct {
	Port         int
	WorkerCount  int
	MaxFailures  int
	QueueSize    int
	SendTimeout  time.Duration
	PollInterval time.Duration
}

// DefaultConfig mirrors the daemon defaults: 4 workers, evict once a
// tracker's failure count exceeds 3, port 42070.
func DefaultConfig() Config {
	return Config{
		Port:         42070,
		WorkerCount:  4,
		MaxFailures:  3,
		QueueSize:    256,
		SendTimeout:  30 * time.Second,
		PollInterval: 200 * time.Millisecond,
	}
}

type trackerQueue struct {
	ip           string
	queue        chan *Event
	failureCount int32
}

// Broadcaster holds one outbound queue per sibling tracker and a fixed pool
// of workers that drain them. It initializes lazily on first use, since the
// Store is not guaranteed to be ready at construction time.
type Broadcaster struct {
	store *store.Store
	cfg   Config
	log   *logging.Logger

	client *http.Client

	mu       sync.RWMutex
	trackers map[string]*trackerQueue

	initOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New constructs a Broadcaster. Call Start (or simply NewEvent/NewTracker,
// which trigger lazy init themselves) to begin delivering.
func New(s *store.Store, cfg Config) *Broadcaster {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broadcaster{
		store:    s,
		cfg:      cfg,
		log:      logging.GetDefault().Component("broadcaster"),
		client:   &http.Client{Timeout: cfg.SendTimeout},
		trackers: make(map[string]*trackerQueue),
		ctx:      ctx,
		cancel:   cancel,
		shutdown: make(chan struct{}),
	}
}

// ShutdownRequested reports a channel that closes when a sibling has evicted
// this process from its tracker set. The caller (cmd/trackerd's main loop)
// is expected to select on this alongside signal.Notify and exit.
func (b *Broadcaster) ShutdownRequested() <-chan struct{} {
	return b.shutdown
}

// Start begins the worker pool if it hasn't already (idempotent, safe to
// call once at process startup).
func (b *Broadcaster) Start() {
	b.ensureInitialized()
}

// Stop cancels all workers.
func (b *Broadcaster) Stop() {
	b.cancel()
}

func (b *Broadcaster) ensureInitialized() {
	b.initOnce.Do(func() {
		ips, err := b.store.ListTrackers()
		if err != nil {
			b.log.Error("failed to load tracker set on init", "error", err)
		}
		b.mu.Lock()
		for _, ip := range ips {
			b.addTrackerLocked(ip)
		}
		b.mu.Unlock()

		for i := 0; i < b.cfg.WorkerCount; i++ {
			go b.runWorker(i)
		}
		b.log.Info("broadcaster started", "workers", b.cfg.WorkerCount, "trackers", len(ips))
	})
}

// NewEvent appends one event to every sibling tracker's queue. A full queue
// drops the event for that tracker rather than blocking the caller — the
// sequence gate at the receiver means a dropped event is recoverable via a
// future sync, not a correctness hole.
func (b *Broadcaster) NewEvent(eventType, eventIP string, data interface{}) {
	b.ensureInitialized()

	ev := &Event{Type: eventType, EventIP: eventIP, Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, tq := range b.trackers {
		select {
		case tq.queue <- ev:
		default:
			b.log.Warn("tracker queue full, dropping event", "tracker", tq.ip, "event", eventType)
		}
	}
}

// NewTracker registers a sibling's outbound queue. Idempotent.
func (b *Broadcaster) NewTracker(ip string) {
	b.ensureInitialized()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.addTrackerLocked(ip)
}

func (b *Broadcaster) addTrackerLocked(ip string) {
	if _, ok := b.trackers[ip]; ok {
		return
	}
	b.trackers[ip] = &trackerQueue{ip: ip, queue: make(chan *Event, b.cfg.QueueSize)}
}

// RemoveTracker drops the in-memory queue and deletes the Store row. The
// workers call it on failure-threshold eviction.
func (b *Broadcaster) RemoveTracker(ip string) {
	b.mu.Lock()
	delete(b.trackers, ip)
	b.mu.Unlock()

	if err := b.store.RemoveTracker(ip); err != nil {
		b.log.Warn("failed to remove tracker row", "tracker", ip, "error", err)
	}
}
