// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/locsim/internal/logger"
)

const (
	dbusInterface   = "org.freedesktop.login1.Manager"
	dbusWatchMember = "PrepareForSleep"

	resumeDebounce    = 2 * time.Second
	resumeSettleDelay = 2 * time.Second
	signalBufferSize  = 8

	busReconnectDelay   = 5 * time.Second
	subscribeRetryDelay = 10 * time.Second
)

// resumeWatcher turns logind PrepareForSleep signals into resume callbacks.
type resumeWatcher struct {
	logger   *logger.Logger
	connect  func() (*dbus.Conn, error)
	onResume func(context.Context)
	now      func() time.Time

	lastResume time.Time
}

// monitorSleepResume watches logind for suspend and resume events until the context is
// cancelled. After a resume, the engine publishes a fresh fix.
func (s *Service) monitorSleepResume(ctx context.Context) {
	s.newResumeWatcher().run(ctx)
}

func (s *Service) newResumeWatcher() *resumeWatcher {
	return &resumeWatcher{
		logger:   s.logger,
		connect:  connectSystemBus,
		onResume: s.handleResume,
		now:      time.Now,
	}
}

func connectSystemBus() (*dbus.Conn, error) {
	return dbus.ConnectSystemBus()
}

// handleResume publishes an out-of-schedule fix once the system had time to settle.
func (s *Service) handleResume(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(resumeSettleDelay):
	}
	s.logger.Debug("resumed from sleep, publishing a fresh fix")
	s.engine.Nudge()
	s.printStatus(ctx)
}

// run subscribes to the sleep signal and reconnects to the system bus whenever the
// connection drops.
func (w *resumeWatcher) run(ctx context.Context) {
	for {
		conn, ok := w.subscribe(ctx)
		if !ok {
			return
		}

		signals := make(chan *dbus.Signal, signalBufferSize)
		conn.Signal(signals)
		w.logger.Debug("subscribed to dbus signal", slog.String("interface", dbusInterface),
			slog.String("member", dbusWatchMember))
		stop := context.AfterFunc(ctx, func() { w.closeConn(conn) })

		w.consume(ctx, signals)

		stop()
		conn.RemoveSignal(signals)
		w.closeConn(conn)
		if !sleepCtx(ctx, busReconnectDelay) {
			return
		}
	}
}

// subscribe connects to the system bus and adds the sleep signal match. It retries until it
// succeeds or the context is cancelled.
func (w *resumeWatcher) subscribe(ctx context.Context) (*dbus.Conn, bool) {
	for {
		conn, err := w.connect()
		if err != nil {
			w.logger.Debug("failed to connect to system bus", logger.Err(err))
			if !sleepCtx(ctx, busReconnectDelay) {
				return nil, false
			}
			continue
		}

		err = conn.AddMatchSignal(dbus.WithMatchInterface(dbusInterface), dbus.WithMatchMember(dbusWatchMember))
		if err == nil {
			return conn, true
		}
		w.logger.Error("failed to subscribe to dbus signal", slog.String("interface", dbusInterface),
			slog.String("member", dbusWatchMember), logger.Err(err))
		w.closeConn(conn)
		if !sleepCtx(ctx, subscribeRetryDelay) {
			return nil, false
		}
	}
}

// consume handles signals until the channel is closed or the context is cancelled.
func (w *resumeWatcher) consume(ctx context.Context, signals <-chan *dbus.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if w.resumed(sig) {
				w.onResume(ctx)
			}
		}
	}
}

// resumed reports whether the signal announces a wake-up that is outside the debounce
// window of the previous one.
func (w *resumeWatcher) resumed(sig *dbus.Signal) bool {
	if sig == nil || len(sig.Body) != 1 {
		return false
	}
	sleeping, ok := sig.Body[0].(bool)
	if !ok || sleeping {
		return false
	}
	now := w.now()
	if !w.lastResume.IsZero() && now.Sub(w.lastResume) < resumeDebounce {
		return false
	}
	w.lastResume = now
	return true
}

func (w *resumeWatcher) closeConn(conn *dbus.Conn) {
	if err := conn.Close(); err != nil {
		w.logger.Debug("failed to close system bus connection", logger.Err(err))
	}
}

// sleepCtx waits for the given duration. It returns false if the context was cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
