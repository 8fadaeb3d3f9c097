// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package websocket provides the HTTP control surface of the simulator. Clients connected
// to /ws receive a stream of fixes and can move the simulated device with JSON commands.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wneessen/locsim/internal/engine"
	"github.com/wneessen/locsim/internal/fixbus"
	"github.com/wneessen/locsim/internal/geo"
	"github.com/wneessen/locsim/internal/logger"
)

const (
	DefaultAddr = "127.0.0.1:8947"

	clientQueueSize   = 32
	maxMessageSize    = 1 << 20
	writeTimeout      = time.Second * 5
	readHeaderTimeout = time.Second * 10
	shutdownTimeout   = time.Second * 5
)

var (
	ErrNilController  = errors.New("controller is required")
	ErrInvalidMessage = errors.New("invalid message")
)

// Controller is the part of the engine the control surface drives.
type Controller interface {
	SetPosition(lon, lat, alt float64)
	LoadRoutePoints(coords []float64, frame geo.Frame, loop bool, speed float64)
	ApplyJoystick(auto bool, angle, radius float64)
	Nudge()
	SubscribeChan(id string, provider fixbus.Provider, size int) (<-chan fixbus.Fix, func(), error)
	Status() engine.Status
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler mounts the given handler on /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = handler
	}
}

// WithAllowedOrigins restricts the origins that may open a WebSocket. Without this option
// only same-origin requests and requests without an Origin header are accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		allowed := make(map[string]struct{}, len(origins))
		for _, origin := range origins {
			allowed[origin] = struct{}{}
		}
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			_, wildcard := allowed["*"]
			return ok || wildcard
		}
	}
}

// Server serves /ws, /healthz and optionally /metrics.
type Server struct {
	logger     *logger.Logger
	controller Controller
	metrics    http.Handler
	upgrader   websocket.Upgrader
	seq        atomic.Uint64
	clients    atomic.Int64
}

// New returns a new Server for the given controller.
func New(controller Controller, log *logger.Logger, opts ...Option) (*Server, error) {
	if controller == nil {
		return nil, ErrNilController
	}
	if log == nil {
		return nil, fixbus.ErrNilLogger
	}
	server := &Server{
		logger:     log,
		controller: controller,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(server)
	}
	return server, nil
}

// Handler returns the HTTP handler of the Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int64 {
	return s.clients.Load()
}

// ListenAndServe serves on the given address until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on the given listener until the context is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to shut down control server", logger.Err(err))
		}
	})
	defer stop()

	s.logger.Info("control server listening", slog.String("addr", listener.Addr().String()))
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control server failed: %w", err)
	}
	return nil
}

type healthResponse struct {
	State string `json:"state"`
	engine.Status
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.controller.Status()
	code := http.StatusOK
	if status.State != engine.StateRunning {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(healthResponse{State: status.State.String(), Status: status}); err != nil {
		s.logger.Debug("failed to write health response", logger.Err(err))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	provider := fixbus.ProviderPrecise
	if r.URL.Query().Get("provider") == string(fixbus.ProviderCoarse) {
		provider = fixbus.ProviderCoarse
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logger.Err(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	id := fmt.Sprintf("websocket-%d", s.seq.Add(1))
	c := &client{conn: conn, id: id}
	fixes, unsubscribe, err := s.controller.SubscribeChan(id, provider, clientQueueSize)
	if err != nil {
		_ = c.write(errorMessage(err))
		_ = conn.Close()
		return
	}

	s.clients.Add(1)
	s.logger.Debug("websocket client connected", slog.String("client", id),
		slog.String("remote", r.RemoteAddr), slog.String("provider", string(provider)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.stream(c, fixes)
	}()

	s.readLoop(c)
	unsubscribe()
	_ = conn.Close()
	wg.Wait()
	s.clients.Add(-1)
	s.logger.Debug("websocket client disconnected", slog.String("client", id))
}

// stream forwards fixes until the subscription is closed.
func (s *Server) stream(c *client, fixes <-chan fixbus.Fix) {
	for fix := range fixes {
		if err := c.write(message{Type: messageFix, Fix: &fix}); err != nil {
			s.logger.Debug("failed to write fix to websocket client", slog.String("client", c.id),
				logger.Err(err))
			break
		}
	}
	// an ended subscription or a broken connection terminates the read loop
	_ = c.conn.Close()
	for range fixes {
	}
}

func (s *Server) readLoop(c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", slog.String("client", c.id), logger.Err(err))
			}
			return
		}

		var req request
		var reply message
		if err = json.Unmarshal(data, &req); err != nil {
			reply = errorMessage(fmt.Errorf("%w: %w", ErrInvalidMessage, err))
		} else {
			reply = s.apply(req)
		}
		if err = c.write(reply); err != nil {
			return
		}
	}
}
