// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package metrics exposes the engine counters as Prometheus metrics.
package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wneessen/locsim/internal/fixbus"
)

const namespace = "locsim"

// Collector bundles the Prometheus metrics of the location engine. It satisfies the
// engine.Recorder interface.
type Collector struct {
	gatherer prometheus.Gatherer

	Ticks           prometheus.Counter
	TickErrors      prometheus.Counter
	Fixes           *prometheus.CounterVec
	Commands        *prometheus.CounterVec
	CommandsDropped *prometheus.CounterVec
	RouteActive     prometheus.Gauge
	RouteRemaining  prometheus.Gauge
}

// New registers the engine metrics against the provided registerer, defaulting to the
// global Prometheus registry when nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	var err error
	c := &Collector{gatherer: gatherer}
	if c.Ticks, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Total number of publisher ticks.",
	})); err != nil {
		return nil, err
	}
	if c.TickErrors, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tick_errors_total",
		Help:      "Total number of ticks that failed to deliver a fix and triggered a backoff.",
	})); err != nil {
		return nil, err
	}
	if c.Fixes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fixes_total",
		Help:      "Total number of published fixes, labeled by provider.",
	}, []string{"provider"})); err != nil {
		return nil, err
	}
	if c.Commands, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Total number of applied engine commands, labeled by command.",
	}, []string{"command"})); err != nil {
		return nil, err
	}
	if c.CommandsDropped, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_dropped_total",
		Help:      "Total number of engine commands dropped due to a full queue, labeled by command.",
	}, []string{"command"})); err != nil {
		return nil, err
	}
	if c.RouteActive, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "route_active",
		Help:      "Whether a route is currently being traversed.",
	})); err != nil {
		return nil, err
	}
	if c.RouteRemaining, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "route_remaining_meters",
		Help:      "Distance left on the current pass of the active route.",
	})); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) Tick() {
	c.Ticks.Inc()
}

func (c *Collector) TickError() {
	c.TickErrors.Inc()
}

func (c *Collector) Fix(provider fixbus.Provider) {
	c.Fixes.WithLabelValues(string(provider)).Inc()
}

func (c *Collector) Command(name string) {
	c.Commands.WithLabelValues(name).Inc()
}

func (c *Collector) CommandDropped(name string) {
	c.CommandsDropped.WithLabelValues(name).Inc()
}

func (c *Collector) Route(active bool, remainingMeters float64) {
	if active {
		c.RouteActive.Set(1)
	} else {
		c.RouteActive.Set(0)
	}
	c.RouteRemaining.Set(remainingMeters)
}

// register registers the collector or returns the already registered collector of the same
// type, so a second Collector on the same registry shares the metrics of the first.
func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			return collector, fmt.Errorf("collector %T already registered with incompatible type", collector)
		}
		return collector, fmt.Errorf("failed to register collector: %w", err)
	}
	return collector, nil
}
