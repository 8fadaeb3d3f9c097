// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package fixbus distributes emitted position fixes to the registered sinks.
package fixbus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/locsim/internal/logger"
)

// Provider names the kind of location provider a Fix imitates.
type Provider string

const (
	// ProviderPrecise imitates a satellite based provider.
	ProviderPrecise Provider = "precise"
	// ProviderCoarse imitates a network based provider.
	ProviderCoarse Provider = "coarse"
)

// PowerCost is the power requirement hint of a provider.
type PowerCost int

const (
	PowerLow PowerCost = iota + 1
	PowerMedium
	PowerHigh
)

var (
	ErrNilLogger = errors.New("logger is required")
	ErrNilSink   = errors.New("sink function is required")
	ErrEmptyID   = errors.New("sink id must not be empty")
)

// Position is a snapshot of the simulated position in WGS84.
type Position struct {
	Lon     float64 `json:"lon"`
	Lat     float64 `json:"lat"`
	Alt     float64 `json:"alt"`
	Bearing float32 `json:"bearing"`
	Speed   float64 `json:"speed"`
}

// Fix is a single emitted position sample with synthetic sensor metadata.
type Fix struct {
	Position
	Provider               Provider  `json:"provider"`
	AccuracyMeters         float64   `json:"accuracy"`
	VerticalAccuracyMeters float64   `json:"vertical_accuracy"`
	SpeedAccuracy          float64   `json:"speed_accuracy"`
	BearingAccuracy        float64   `json:"bearing_accuracy"`
	Satellites             int       `json:"satellites"`
	PowerCost              PowerCost `json:"power_cost"`
	Session                string    `json:"session"`

	// Timestamp is a monotonic nanosecond counter relative to the start of the engine.
	Timestamp int64     `json:"timestamp"`
	Time      time.Time `json:"time"`
}

// SinkFunc consumes a Fix. A returned error is treated as a transient emission failure.
type SinkFunc func(Fix) error

// Option configures a subscription.
type Option func(*subscriber)

// WithProvider selects the Fix variant a sink receives. Sinks receive precise fixes by default.
func WithProvider(p Provider) Option {
	return func(s *subscriber) {
		s.provider = p
	}
}

// WithRelease registers a function that is called exactly once when the sink is removed.
func WithRelease(fn func()) Option {
	return func(s *subscriber) {
		s.release = fn
	}
}

type subscriber struct {
	id       string
	provider Provider
	fn       SinkFunc
	release  func()
	once     sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// Bus coordinates the delivery of fixes to subscribed sinks.
type Bus struct {
	mu     sync.RWMutex
	logger *logger.Logger
	sinks  map[string]*subscriber
	closed bool
}

// New returns a new Bus.
func New(log *logger.Logger) (*Bus, error) {
	if log == nil {
		return nil, ErrNilLogger
	}
	return &Bus{
		logger: log,
		sinks:  make(map[string]*subscriber),
	}, nil
}

// Subscribe registers a sink under the given id. An existing sink with the same id is
// released and replaced.
func (b *Bus) Subscribe(id string, fn SinkFunc, opts ...Option) error {
	if id == "" {
		return ErrEmptyID
	}
	if fn == nil {
		return ErrNilSink
	}
	sub := &subscriber{id: id, provider: ProviderPrecise, fn: fn}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return fmt.Errorf("failed to subscribe sink %q: bus is closed", id)
	}
	prev, ok := b.sinks[id]
	b.sinks[id] = sub
	b.mu.Unlock()

	if ok {
		prev.close()
	}
	b.logger.Debug("sink subscribed", slog.String("sink", id), slog.String("provider", string(sub.provider)))
	return nil
}

// SubscribeChan registers a sink that forwards fixes into a buffered channel. Fixes are
// dropped while the channel is full. The returned function unsubscribes the sink and
// closes the channel.
func (b *Bus) SubscribeChan(id string, provider Provider, size int) (<-chan Fix, func(), error) {
	cs := &chanSink{ch: make(chan Fix, size)}
	if err := b.Subscribe(id, cs.send, WithProvider(provider), WithRelease(cs.close)); err != nil {
		return nil, nil, err
	}
	return cs.ch, func() { b.Unsubscribe(id) }, nil
}

// Unsubscribe removes and releases the sink with the given id. It returns false if no such
// sink was registered.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	sub, ok := b.sinks[id]
	if ok {
		delete(b.sinks, id)
	}
	b.mu.Unlock()

	if ok {
		sub.close()
		b.logger.Debug("sink unsubscribed", slog.String("sink", id))
	}
	return ok
}

// Len returns the number of registered sinks.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}

// Publish delivers each Fix to the sinks subscribed to its provider. Sinks are called
// outside the lock, so a sink may unsubscribe itself. Errors and panics of individual
// sinks are collected and returned after every sink was served.
func (b *Bus) Publish(fixes ...Fix) error {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.sinks))
	for _, sub := range b.sinks {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var errs []error
	for _, fix := range fixes {
		for _, sub := range subs {
			if sub.provider != fix.Provider {
				continue
			}
			if err := safeDeliver(sub, fix); err != nil {
				errs = append(errs, fmt.Errorf("sink %q: %w", sub.id, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close releases all sinks. Subsequent subscriptions fail. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.sinks
	b.sinks = make(map[string]*subscriber)
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// safeDeliver calls the sink and converts a panic into an error.
func safeDeliver(sub *subscriber, fix Fix) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return sub.fn(fix)
}

type chanSink struct {
	mu     sync.Mutex
	ch     chan Fix
	closed bool
}

func (c *chanSink) send(fix Fix) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	select {
	case c.ch <- fix:
	default:
	}
	return nil
}

func (c *chanSink) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
