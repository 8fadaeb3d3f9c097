// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/locsim/internal/fixbus"
	"github.com/wneessen/locsim/internal/logger"
)

// Synthetic sensor metadata shared by both fix variants.
const (
	verticalAccuracy = 0.1
	speedAccuracy    = 0.01
	bearingAccuracy  = 0.1
)

// run is the worker loop. It is the only goroutine that touches the motion state while the
// engine is running.
func (e *Engine) run(ctx context.Context) {
	defer e.teardown()

	ticker := time.NewTicker(e.conf.TickInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		var err error
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.commands:
			cmd.fn(ctx)
			e.recorder.Command(cmd.name)
			e.updateStatus()
			continue
		case gen := <-e.autoSteps:
			if e.motion.applyAutoStep(gen) {
				e.updateStatus()
			}
			continue
		case <-e.nudges:
			err = e.publish(ctx)
		case <-ticker.C:
			err = e.tick(ctx)
		}

		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		e.errs++
		e.recorder.TickError()
		e.updateStatus()
		e.logger.Error("failed to publish fix, backing off", logger.Err(err),
			slog.Duration("backoff", e.conf.ErrorBackoff))
		if !sleepOrDone(ctx, e.conf.ErrorBackoff) {
			return
		}
		ticker.Reset(e.conf.TickInterval)
	}
}

// tick advances the active route by one tick interval and publishes a fix.
func (e *Engine) tick(ctx context.Context) error {
	if !sleepOrDone(ctx, e.conf.SettleDelay) {
		return nil
	}

	e.ticks++
	e.recorder.Tick()
	if e.motion.advance(e.conf.TickInterval.Seconds()) {
		e.updateStatus()
		e.logger.Info("route finished", slog.String("position", e.motion.point().String()))
		if e.onRouteFinished != nil {
			e.onRouteFinished()
		}
	}
	return e.publish(ctx)
}

// publish emits a precise and a coarse fix of the current position. Both share the same
// timestamp. Nothing is emitted once the context is cancelled.
func (e *Engine) publish(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	now := time.Now()
	timestamp := e.nextTimestamp(now)

	precise := Fix{
		Position:               e.motion.position,
		Provider:               fixbus.ProviderPrecise,
		AccuracyMeters:         e.conf.PreciseAccuracy,
		VerticalAccuracyMeters: verticalAccuracy,
		SpeedAccuracy:          speedAccuracy,
		BearingAccuracy:        bearingAccuracy,
		Satellites:             e.conf.Satellites,
		PowerCost:              fixbus.PowerHigh,
		Session:                e.session,
		Timestamp:              timestamp,
		Time:                   now,
	}
	coarse := precise
	coarse.Provider = fixbus.ProviderCoarse
	coarse.AccuracyMeters = e.conf.CoarseAccuracy
	coarse.Satellites = 0
	coarse.PowerCost = fixbus.PowerLow

	err := e.bus.Publish(precise, coarse)
	e.recorder.Fix(fixbus.ProviderPrecise)
	e.recorder.Fix(fixbus.ProviderCoarse)
	e.updateStatus()
	if err != nil {
		return fmt.Errorf("failed to deliver fix: %w", err)
	}
	return nil
}

// nextTimestamp returns the nanoseconds since the engine was started. The result is
// strictly greater than any previously returned timestamp.
func (e *Engine) nextTimestamp(now time.Time) int64 {
	ts := now.Sub(e.started).Nanoseconds()
	if ts <= e.lastTS {
		ts = e.lastTS + 1
	}
	e.lastTS = ts
	return ts
}

// teardown stops the auto-repeat job and releases all sinks once the worker exits.
func (e *Engine) teardown() {
	e.motion.cancelAuto()
	e.state.Store(int32(StateStopped))
	e.bus.Close()
	e.updateStatus()

	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	close(done)
	e.logger.Info("location engine stopped", slog.String("session", e.session),
		slog.Uint64("ticks", e.ticks), slog.Uint64("tick_errors", e.errs))
}
