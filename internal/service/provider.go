// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wneessen/locsim/internal/http"
	"github.com/wneessen/locsim/internal/logger"
	"github.com/wneessen/locsim/internal/routefile"
	"github.com/wneessen/locsim/internal/seed"
)

const defaultSeedName = "default"

// selectSeedProviders returns the enabled seed providers in the order they are asked. The
// configured default position is always the last resort.
func (s *Service) selectSeedProviders() []seed.Provider {
	var provider []seed.Provider

	if !s.config.Seed.DisableFile && s.config.Seed.File != "" {
		provider = append(provider, seed.NewFileProvider(s.config.Seed.File))
	}
	if !s.config.Seed.DisableNMEA && s.config.Seed.NMEAFile != "" {
		provider = append(provider, seed.NewNMEAFileProvider(s.config.Seed.NMEAFile))
	}
	if !s.config.Seed.DisableGPSD {
		provider = append(provider, seed.NewGPSDProvider(s.config.Seed.GPSD, s.config.Seed.Timeout))
	}
	if s.config.Seed.GeoIP {
		provider = append(provider, seed.NewGeoIPProvider(http.New(s.logger), s.config.Seed.GeoIPURL))
	}
	provider = append(provider, seed.NewStaticProvider(defaultSeedName, s.config.StartPosition(),
		s.config.Seed.Altitude))

	return provider
}

// seedPosition moves the engine to the first position reported by the seed providers.
func (s *Service) seedPosition(ctx context.Context) {
	result, err := seed.First(ctx, s.logger, s.selectSeedProviders()...)
	if err != nil {
		s.logger.Warn("failed to seed start position, using default", logger.Err(err))
		return
	}
	s.engine.SetPosition(result.Position.Lon, result.Position.Lat, result.Alt)
}

// loadRoute reads the configured route file or fetches the configured route URL. It returns
// nil if no route is configured.
func (s *Service) loadRoute(ctx context.Context) (*routefile.Route, error) {
	switch {
	case s.config.Route.File != "":
		route, err := routefile.Load(s.config.Route.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load route file: %w", err)
		}
		return route, nil
	case s.config.Route.URL != "":
		route, err := routefile.NewFetcher(http.New(s.logger)).Fetch(ctx, s.config.Route.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch route: %w", err)
		}
		return route, nil
	}
	return nil, nil
}

// applyRoute loads the configured route into the engine. The configured speed and loop flag
// take precedence over the values of the route document.
func (s *Service) applyRoute(ctx context.Context) error {
	route, err := s.loadRoute(ctx)
	if err != nil {
		return err
	}
	if route == nil {
		return nil
	}

	speed := route.Speed
	if s.config.Route.Speed > 0 {
		speed = s.config.Route.Speed
	}
	loop := route.Loop || s.config.Route.Loop

	s.finishedLock.Lock()
	s.routeFinished = false
	s.finishedLock.Unlock()

	s.engine.LoadRoute(route.Points, loop, speed)
	s.logger.Info("route loaded", slog.String("name", route.Name), slog.Int("points", len(route.Points)),
		slog.Bool("loop", loop), slog.Float64("speed", speed))
	return nil
}
