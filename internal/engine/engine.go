// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package engine simulates a moving device and publishes its position as a periodic stream
// of fixes. A single worker goroutine owns the simulated position and the active route.
// All mutations are delivered to it as commands.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wneessen/locsim/internal/deadreckon"
	"github.com/wneessen/locsim/internal/fixbus"
	"github.com/wneessen/locsim/internal/geo"
	"github.com/wneessen/locsim/internal/logger"
)

const (
	DefaultTickInterval    = time.Millisecond * 100
	DefaultErrorBackoff    = time.Second
	DefaultJoystickSpeed   = 1.5
	DefaultPreciseAccuracy = 1.0
	DefaultCoarseAccuracy  = 25.0
	DefaultSatellites      = 12
	DefaultQueueSize       = 64
)

// DefaultStart is the fallback position of a new engine.
var DefaultStart = geo.WGS84{Lon: 116.397128, Lat: 39.916527}

var (
	ErrEngineStopped = errors.New("engine is stopped")
	ErrEngineRunning = errors.New("engine is already running")
)

type (
	Fix             = fixbus.Fix
	Position        = fixbus.Position
	SinkFunc        = fixbus.SinkFunc
	SubscribeOption = fixbus.Option
)

// State is the lifecycle state of an Engine.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

// String satisfies the fmt.Stringer interface for the State type.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Config holds the tunables of an Engine. Zero values are replaced by the defaults.
type Config struct {
	TickInterval time.Duration
	// SettleDelay is slept at the start of every tick before the route is advanced.
	SettleDelay     time.Duration
	ErrorBackoff    time.Duration
	AutoInterval    time.Duration
	JoystickSpeed   float64
	Start           geo.WGS84
	Altitude        float64
	PreciseAccuracy float64
	CoarseAccuracy  float64
	Satellites      int
	QueueSize       int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.AutoInterval <= 0 {
		c.AutoInterval = deadreckon.AutoInterval
	}
	if c.JoystickSpeed <= 0 {
		c.JoystickSpeed = DefaultJoystickSpeed
	}
	if c.Start == (geo.WGS84{}) || !c.Start.Valid() {
		c.Start = DefaultStart
	}
	if c.PreciseAccuracy <= 0 {
		c.PreciseAccuracy = DefaultPreciseAccuracy
	}
	if c.CoarseAccuracy <= 0 {
		c.CoarseAccuracy = DefaultCoarseAccuracy
	}
	if c.Satellites <= 0 {
		c.Satellites = DefaultSatellites
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Status is a point-in-time view of the Engine.
type Status struct {
	State          State    `json:"-"`
	Session        string   `json:"session"`
	Position       Position `json:"position"`
	RouteActive    bool     `json:"route_active"`
	RouteLoop      bool     `json:"route_loop"`
	RoutePoints    int      `json:"route_points"`
	RouteIndex     int      `json:"route_index"`
	RouteRemaining float64  `json:"route_remaining"`
	AutoJoystick   bool     `json:"auto_joystick"`
	Ticks          uint64   `json:"ticks"`
	TickErrors     uint64   `json:"tick_errors"`
	LastFix        int64    `json:"last_fix"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder sets the Recorder that receives the engine's counters.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithRouteFinishedHandler registers a function that is called by the worker when a
// non-looping route was completed. The function must not block and must not call Stop.
func WithRouteFinishedHandler(fn func()) Option {
	return func(e *Engine) {
		e.onRouteFinished = fn
	}
}

// WithSession overrides the generated session id that is stamped on every fix.
func WithSession(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.session = id
		}
	}
}

// Engine simulates the device position and publishes fixes to its subscribers.
type Engine struct {
	conf            Config
	logger          *logger.Logger
	bus             *fixbus.Bus
	recorder        Recorder
	session         string
	onRouteFinished func()

	commands  chan command
	autoSteps chan uint64
	nudges    chan struct{}

	mu     sync.Mutex
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
	status atomic.Pointer[Status]

	// owned by the worker goroutine
	motion  motion
	started time.Time
	lastTS  int64
	ticks   uint64
	errs    uint64
}

// New returns a new idle Engine. Commands issued before Start are queued and applied
// once the engine runs.
func New(conf Config, log *logger.Logger, opts ...Option) (*Engine, error) {
	if log == nil {
		return nil, fixbus.ErrNilLogger
	}
	bus, err := fixbus.New(log)
	if err != nil {
		return nil, fmt.Errorf("failed to create fix bus: %w", err)
	}

	conf = conf.withDefaults()
	engine := &Engine{
		conf:      conf,
		logger:    log,
		bus:       bus,
		recorder:  noopRecorder{},
		session:   uuid.NewString(),
		commands:  make(chan command, conf.QueueSize),
		autoSteps: make(chan uint64, 1),
		nudges:    make(chan struct{}, 1),
		motion:    newMotion(conf),
	}
	for _, opt := range opts {
		opt(engine)
	}
	engine.updateStatus()
	return engine, nil
}

// Session returns the session id of the Engine.
func (e *Engine) Session() string {
	return e.session
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Status returns the latest status snapshot.
func (e *Engine) Status() Status {
	status := *e.status.Load()
	status.State = e.State()
	return status
}

// Position returns the latest known position.
func (e *Engine) Position() Position {
	return e.status.Load().Position
}

// Subscribe registers a sink. Sinks receive precise fixes unless configured otherwise.
func (e *Engine) Subscribe(id string, fn SinkFunc, opts ...SubscribeOption) error {
	if e.State() == StateStopped {
		return ErrEngineStopped
	}
	return e.bus.Subscribe(id, fn, opts...)
}

// SubscribeChan registers a sink that buffers fixes of the given provider in a channel.
func (e *Engine) SubscribeChan(id string, provider fixbus.Provider, size int) (<-chan Fix, func(), error) {
	if e.State() == StateStopped {
		return nil, nil, ErrEngineStopped
	}
	return e.bus.SubscribeChan(id, provider, size)
}

// Unsubscribe removes the sink with the given id.
func (e *Engine) Unsubscribe(id string) {
	e.bus.Unsubscribe(id)
}

// Start starts the worker. The worker stops when the given context is cancelled or Stop is
// called. A stopped engine cannot be started again.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.State() {
	case StateRunning:
		return ErrEngineRunning
	case StateStopped:
		return ErrEngineStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.started = time.Now()
	e.state.Store(int32(StateRunning))

	position := e.motion.point().String()
	go e.run(ctx)
	e.logger.Info("location engine started", slog.String("session", e.session),
		slog.String("position", position))
	return nil
}

// Stop stops the worker, cancels the joystick auto-repeat and releases all sinks. Stop
// returns after the worker has exited and is safe to call multiple times. It must not be
// called from within a sink.
func (e *Engine) Stop() {
	e.mu.Lock()
	prev := State(e.state.Swap(int32(StateStopped)))
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	switch prev {
	case StateIdle:
		e.bus.Close()
		e.updateStatus()
		e.logger.Debug("idle location engine stopped")
	case StateRunning, StateStopped:
		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}
	}
}

// Done returns a channel that is closed once the worker has exited. It returns nil if the
// engine was never started.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Nudge requests an immediate out-of-schedule fix without advancing the route.
func (e *Engine) Nudge() {
	select {
	case e.nudges <- struct{}{}:
	default:
	}
}

func (e *Engine) updateStatus() {
	m := &e.motion
	status := &Status{
		Session:      e.session,
		Position:     m.position,
		AutoJoystick: m.stopAuto != nil,
		Ticks:        e.ticks,
		TickErrors:   e.errs,
		LastFix:      e.lastTS,
	}
	if m.route.Active() {
		status.RouteActive = true
		status.RouteLoop = m.route.Loop()
		status.RoutePoints = m.route.Len()
		status.RouteIndex = m.route.Index()
		status.RouteRemaining = m.route.Remaining()
	}
	e.status.Store(status)
	e.recorder.Route(status.RouteActive, status.RouteRemaining)
}

// sleepOrDone sleeps for the given duration or returns early if the context is cancelled.
// It returns false if the context was cancelled.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
