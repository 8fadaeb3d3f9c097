// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package service wires the location engine, its seed providers and its sinks together and
// renders the engine status as a waybar module.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wneessen/locsim/internal/config"
	"github.com/wneessen/locsim/internal/engine"
	"github.com/wneessen/locsim/internal/fixbus"
	"github.com/wneessen/locsim/internal/logger"
	"github.com/wneessen/locsim/internal/metrics"
	"github.com/wneessen/locsim/internal/presenter"
)

const (
	OutputClass   = "locsim"
	FinishedClass = "locsim-finished"

	outputJobName = "status_output_job"
)

type outputData struct {
	Text    string `json:"text"`
	Tooltip string `json:"tooltip"`
	Class   string `json:"class"`
}

type Service struct {
	SignalSrc signalSource

	config    *config.Config
	engine    *engine.Engine
	logger    *logger.Logger
	metrics   *metrics.Collector
	presenter *presenter.Presenter
	scheduler gocron.Scheduler

	outputLock sync.Mutex
	output     io.Writer

	displayAltLock sync.RWMutex
	displayAltText bool

	finishedLock  sync.RWMutex
	routeFinished bool

	wg sync.WaitGroup
}

// New returns a Service for the given configuration. The engine is created idle and
// started by Run.
func New(conf *config.Config, log *logger.Logger) (*Service, error) {
	if log == nil {
		return nil, fixbus.ErrNilLogger
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	pres, err := presenter.New(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create presenter: %w", err)
	}
	collector, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	service := &Service{
		SignalSrc: stdLibSignalSource{},
		config:    conf,
		logger:    log,
		metrics:   collector,
		output:    os.Stdout,
		presenter: pres,
		scheduler: scheduler,
	}
	service.engine, err = engine.New(engineConfig(conf), log, engine.WithRecorder(collector),
		engine.WithRouteFinishedHandler(service.handleRouteFinished))
	if err != nil {
		return nil, fmt.Errorf("failed to create location engine: %w", err)
	}
	return service, nil
}

// Run seeds the start position, loads the configured route, attaches the sinks and runs the
// engine until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.seedPosition(ctx)
	if err := s.applyRoute(ctx); err != nil {
		s.logger.Error("failed to load route, continuing without a route", logger.Err(err))
	}
	if err := s.attachSinks(ctx); err != nil {
		s.abort(cancel)
		return err
	}
	if err := s.createScheduledJob(ctx, s.config.Intervals.Output, s.printStatus, outputJobName); err != nil {
		s.abort(cancel)
		return err
	}
	if err := s.engine.Start(ctx); err != nil {
		s.abort(cancel)
		return fmt.Errorf("failed to start location engine: %w", err)
	}
	s.scheduler.Start()
	if !s.config.DisableSleepMonitor {
		s.wg.Go(func() { s.monitorSleepResume(ctx) })
	}
	s.printStatus(ctx)

	<-ctx.Done()
	s.engine.Stop()
	s.wg.Wait()
	return s.scheduler.Shutdown()
}

// abort cancels the run context, stops the engine and the scheduler and waits for the sink
// goroutines to exit. Stopping the engine releases all attached sinks.
func (s *Service) abort(cancel context.CancelFunc) {
	cancel()
	s.engine.Stop()
	s.wg.Wait()
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Error("failed to shut down scheduler", logger.Err(err))
	}
}

// Engine returns the location engine of the Service.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// printStatus renders the engine status and writes it as a waybar JSON line to the output.
func (s *Service) printStatus(context.Context) {
	view := s.presenter.BuildContext(s.engine.Status())
	rendered, err := s.presenter.Render(view)
	if err != nil {
		s.logger.Error("failed to render status", logger.Err(err))
		return
	}

	s.displayAltLock.RLock()
	text := rendered["text"]
	if s.displayAltText {
		text = rendered["alt_text"]
	}
	s.displayAltLock.RUnlock()

	class := OutputClass
	s.finishedLock.RLock()
	if s.routeFinished {
		class = FinishedClass
	}
	s.finishedLock.RUnlock()

	s.outputLock.Lock()
	defer s.outputLock.Unlock()
	output := outputData{
		Text:    text,
		Tooltip: rendered["tooltip"],
		Class:   class,
	}
	if err = json.NewEncoder(s.output).Encode(output); err != nil {
		s.logger.Error("failed to encode status output", logger.Err(err))
	}
}

// handleRouteFinished is called by the engine worker once a non-looping route ends.
func (s *Service) handleRouteFinished() {
	s.finishedLock.Lock()
	s.routeFinished = true
	s.finishedLock.Unlock()

	status := s.engine.Status()
	s.logger.Info("route finished", slog.Float64("lat", status.Position.Lat),
		slog.Float64("lon", status.Position.Lon))
	s.wg.Go(func() { s.printStatus(context.Background()) })
}

// logStatus writes the current engine status to the log.
func (s *Service) logStatus() {
	status := s.engine.Status()
	s.logger.Info("current engine status", slog.String("state", status.State.String()),
		slog.String("session", status.Session), slog.Float64("latitude", status.Position.Lat),
		slog.Float64("longitude", status.Position.Lon), slog.Bool("route_active", status.RouteActive),
		slog.Uint64("ticks", status.Ticks), slog.Uint64("tick_errors", status.TickErrors))
}

func engineConfig(conf *config.Config) engine.Config {
	return engine.Config{
		TickInterval:    conf.Engine.TickInterval,
		SettleDelay:     conf.Engine.SettleDelay,
		ErrorBackoff:    conf.Engine.ErrorBackoff,
		AutoInterval:    conf.Engine.AutoInterval,
		JoystickSpeed:   conf.Engine.JoystickSpeed,
		Start:           conf.StartPosition(),
		Altitude:        conf.Seed.Altitude,
		PreciseAccuracy: conf.Engine.PreciseAccuracy,
		CoarseAccuracy:  conf.Engine.CoarseAccuracy,
		Satellites:      conf.Engine.Satellites,
		QueueSize:       conf.Engine.QueueSize,
	}
}
