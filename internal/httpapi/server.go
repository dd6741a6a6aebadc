// Package httpapi implements the tracker's external HTTP surface: the
// mutating peer-facing routes, the read-only query routes, and the
// inter-tracker sync endpoint.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/peerloom/trackerd/internal/broadcast"
	"github.com/peerloom/trackerd/internal/store"
	"github.com/peerloom/trackerd/pkg/logging"
)

// eventPublisher is the subset of internal/events.Hub the HTTP surface
// needs. Declaring it here instead of importing the events package keeps
// httpapi decoupled from the WebSocket transport; a nil publisher is valid
// and simply means no one is listening.
type eventPublisher interface {
	Publish(eventType string, data interface{})
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Config configures the HTTP surface's listen address and the keep-alive
// window that decides which peers count as online in query responses.
type Config struct {
	Addr             string
	KeepAliveTimeout time.Duration
}

// Server wires the Store, Broadcaster, and (optional) live event feed to an
// http.Server.
type Server struct {
	store            *store.Store
	broadcaster      *broadcast.Broadcaster
	publisher        eventPublisher
	keepAliveTimeout time.Duration
	log              *logging.Logger

	httpServer *http.Server
}

// New constructs the HTTP surface. publisher may be nil.
func New(s *store.Store, b *broadcast.Broadcaster, publisher eventPublisher, cfg Config) *Server {
	if cfg.KeepAliveTimeout == 0 {
		cfg.KeepAliveTimeout = 5 * time.Minute
	}
	srv := &Server{
		store:            s,
		broadcaster:      b,
		publisher:        publisher,
		keepAliveTimeout: cfg.KeepAliveTimeout,
		log:              logging.GetDefault().Component("httpapi"),
	}

	mux := http.NewServeMux()
	srv.registerRoutes(mux)

	srv.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return srv
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server error", "error", err)
		}
	}()
	s.log.Info("http surface started", "addr", s.httpServer.Addr)
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) publish(eventType string, data interface{}) {
	if s.publisher != nil {
		s.publisher.Publish(eventType, data)
	}
}

// clientIP extracts the bare IP from a request's RemoteAddr, falling back
// to the raw value if it isn't in host:port form (e.g. behind certain test
// harnesses).
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
