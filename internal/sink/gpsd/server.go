// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpsd serves the simulated position over the gpsd JSON protocol, so any gpsd
// client can follow the simulated device.
package gpsd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/locsim/internal/fixbus"
	"github.com/wneessen/locsim/internal/geo"
	"github.com/wneessen/locsim/internal/logger"
)

const (
	DefaultAddr   = "127.0.0.1:2947"
	DefaultDevice = "/dev/locsim0"

	protocolRelease = "3.25"
	protocolMajor   = 3
	protocolMinor   = 15

	clientQueueSize = 32
	maxCommandSize  = 4096
	writeTimeout    = time.Second * 2
)

var ErrServerClosed = errors.New("gpsd server closed")

type versionReport struct {
	Class      string `json:"class"`
	Release    string `json:"release"`
	Rev        string `json:"rev"`
	ProtoMajor int    `json:"proto_major"`
	ProtoMinor int    `json:"proto_minor"`
}

type deviceReport struct {
	Class  string `json:"class"`
	Path   string `json:"path"`
	Driver string `json:"driver"`
	Flags  int    `json:"flags"`
}

type devicesReport struct {
	Class   string         `json:"class"`
	Devices []deviceReport `json:"devices"`
}

type watchReport struct {
	Class  string `json:"class"`
	Enable bool   `json:"enable"`
	JSON   bool   `json:"json"`
}

type pollReport struct {
	Class  string            `json:"class"`
	Time   time.Time         `json:"time"`
	Active int               `json:"active"`
	TPV    []*gpsd.TPVReport `json:"tpv"`
	Sky    []json.RawMessage `json:"sky"`
}

type errorReport struct {
	Class   string `json:"class"`
	Message string `json:"message"`
}

type watchRequest struct {
	Enable *bool `json:"enable"`
	JSON   *bool `json:"json"`
}

// Server is a minimal gpsd protocol server. It answers VERSION, DEVICES, WATCH and POLL
// requests and streams a TPV report for every fix to watching clients.
type Server struct {
	logger   *logger.Logger
	listener net.Listener
	device   string

	mu      sync.Mutex
	clients map[*client]struct{}
	last    *gpsd.TPVReport
	closed  bool
	wg      sync.WaitGroup
}

// Listen opens the TCP listener of a new Server.
func Listen(addr string, log *logger.Logger) (*Server, error) {
	if log == nil {
		return nil, fixbus.ErrNilLogger
	}
	if addr == "" {
		addr = DefaultAddr
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %q: %w", addr, err)
	}
	return &Server{
		logger:   log,
		listener: listener,
		device:   DefaultDevice,
		clients:  make(map[*client]struct{}),
	}, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts clients until the context is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.Close()
	})
	defer stop()

	s.logger.Info("gpsd server listening", slog.String("addr", s.Addr().String()))
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("failed to accept gpsd client: %w", err)
		}
		s.handle(conn)
	}
}

// Sink is a fixbus.SinkFunc that streams the fix to all watching clients. Slow clients
// miss reports instead of blocking the engine.
func (s *Server) Sink(fix fixbus.Fix) error {
	report := tpvReport(fix, s.device)
	line, err := marshalLine(report)
	if err != nil {
		return fmt.Errorf("failed to encode TPV report: %w", err)
	}

	s.mu.Lock()
	s.last = report
	watching := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		if c.watching.Load() {
			watching = append(watching, c)
		}
	}
	s.mu.Unlock()

	for _, c := range watching {
		if !c.send(line) {
			s.logger.Debug("gpsd client too slow, dropping TPV report",
				slog.String("client", c.conn.RemoteAddr().String()))
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close stops the listener and disconnects all clients. It is safe to call Close multiple
// times.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	err := s.listener.Close()
	for _, c := range clients {
		c.close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) handle(conn net.Conn) {
	c := newClient(conn)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.wg.Add(2)
	s.mu.Unlock()

	s.logger.Debug("gpsd client connected", slog.String("client", conn.RemoteAddr().String()))
	c.send(mustLine(versionReport{
		Class:      "VERSION",
		Release:    protocolRelease,
		Rev:        "locsim",
		ProtoMajor: protocolMajor,
		ProtoMinor: protocolMinor,
	}))

	go func() {
		defer s.wg.Done()
		c.writeLoop()
		s.drop(c)
	}()
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
		s.drop(c)
	}()
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
	if ok {
		s.logger.Debug("gpsd client disconnected", slog.String("client", c.conn.RemoteAddr().String()))
	}
}

func (s *Server) readLoop(c *client) {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 512), maxCommandSize)
	scanner.Split(splitCommands)
	for scanner.Scan() {
		request := strings.TrimSpace(scanner.Text())
		if request == "" {
			continue
		}
		s.command(c, request)
	}
}

// command answers a single client request.
func (s *Server) command(c *client, request string) {
	name, payload, _ := strings.Cut(strings.TrimPrefix(request, "?"), "=")
	switch strings.ToUpper(name) {
	case "VERSION":
		c.send(mustLine(versionReport{
			Class:      "VERSION",
			Release:    protocolRelease,
			Rev:        "locsim",
			ProtoMajor: protocolMajor,
			ProtoMinor: protocolMinor,
		}))
	case "DEVICES":
		c.send(mustLine(s.devices()))
	case "WATCH":
		s.watch(c, payload)
	case "POLL":
		s.mu.Lock()
		poll := pollReport{Class: "POLL", Time: time.Now().UTC(), TPV: []*gpsd.TPVReport{}, Sky: []json.RawMessage{}}
		if s.last != nil {
			poll.Active = 1
			poll.TPV = append(poll.TPV, s.last)
		}
		s.mu.Unlock()
		c.send(mustLine(poll))
	default:
		c.send(mustLine(errorReport{Class: "ERROR", Message: fmt.Sprintf("Unrecognized request '%s'", name)}))
	}
}

func (s *Server) watch(c *client, payload string) {
	if payload != "" {
		var req watchRequest
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			c.send(mustLine(errorReport{Class: "ERROR", Message: "Invalid WATCH: " + err.Error()}))
			return
		}
		enable := true
		if req.Enable != nil {
			enable = *req.Enable
		}
		c.watching.Store(enable)
	}

	enabled := c.watching.Load()
	c.send(mustLine(s.devices()))
	c.send(mustLine(watchReport{Class: "WATCH", Enable: enabled, JSON: enabled}))
	if !enabled {
		return
	}

	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last == nil {
		return
	}
	if line, err := marshalLine(last); err == nil {
		c.send(line)
	}
}

func (s *Server) devices() devicesReport {
	return devicesReport{
		Class: "DEVICES",
		Devices: []deviceReport{{
			Class:  "DEVICE",
			Path:   s.device,
			Driver: "locsim",
			Flags:  1,
		}},
	}
}

// tpvReport converts a fix into a gpsd TPV report.
func tpvReport(fix fixbus.Fix, device string) *gpsd.TPVReport {
	return &gpsd.TPVReport{
		Class:  "TPV",
		Device: device,
		Mode:   gpsd.Mode3D,
		Time:   fix.Time.UTC(),
		Lat:    fix.Lat,
		Lon:    fix.Lon,
		Alt:    fix.Alt,
		Epx:    fix.AccuracyMeters,
		Epy:    fix.AccuracyMeters,
		Epv:    fix.VerticalAccuracyMeters,
		Track:  geo.NormalizeBearing(float64(fix.Bearing)),
		Speed:  fix.Speed,
		Eps:    fix.SpeedAccuracy,
		Epd:    fix.BearingAccuracy,
	}
}

func marshalLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func mustLine(v any) []byte {
	line, err := marshalLine(v)
	if err != nil {
		panic(fmt.Sprintf("failed to encode gpsd report: %s", err))
	}
	return line
}

// splitCommands is a bufio.SplitFunc for gpsd requests. A request is terminated by a
// semicolon, a newline or, for requests with a JSON argument, the closing brace of the
// argument.
func splitCommands(data []byte, atEOF bool) (advance int, token []byte, err error) {
	depth := 0
	for i, b := range data {
		switch b {
		case '{':
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				return i + 1, data[:i+1], nil
			}
		case ';', '\n', '\r':
			if depth == 0 {
				return i + 1, bytes.TrimSpace(data[:i]), nil
			}
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), bytes.TrimSpace(data), nil
	}
	return 0, nil, nil
}
