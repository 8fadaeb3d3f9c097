// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package seed resolves the initial position of the simulated device from the first
// provider that knows one.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wneessen/locsim/internal/geo"
	"github.com/wneessen/locsim/internal/logger"
)

// ErrNoPosition is returned if none of the providers could resolve a position.
var ErrNoPosition = errors.New("no start position available")

// Provider resolves a start position.
type Provider interface {
	Name() string
	Locate(ctx context.Context) (Result, error)
}

// Result is a start position resolved by a Provider.
type Result struct {
	Position       geo.WGS84
	Alt            float64
	AccuracyMeters float64
	Source         string
}

// First queries the providers in order and returns the first valid position. Failing or
// panicking providers are logged and skipped.
func First(ctx context.Context, log *logger.Logger, providers ...Provider) (Result, error) {
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		result, err := safeLocate(ctx, provider)
		if err != nil {
			log.Debug("start position provider failed", slog.String("provider", provider.Name()),
				logger.Err(err))
			continue
		}
		if !result.Position.Valid() {
			log.Debug("start position provider returned invalid coordinates",
				slog.String("provider", provider.Name()), slog.String("position", result.Position.String()))
			continue
		}
		result.Source = provider.Name()
		log.Info("resolved start position", slog.String("provider", result.Source),
			slog.String("position", result.Position.String()), slog.Float64("accuracy", result.AccuracyMeters))
		return result, nil
	}
	return Result{}, ErrNoPosition
}

func safeLocate(ctx context.Context, provider Provider) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider %s panicked: %v", provider.Name(), r)
		}
	}()
	return provider.Locate(ctx)
}

// StaticProvider always returns the same position.
type StaticProvider struct {
	name     string
	position geo.WGS84
	alt      float64
}

// NewStaticProvider returns a StaticProvider for the given position.
func NewStaticProvider(name string, position geo.WGS84, alt float64) *StaticProvider {
	return &StaticProvider{name: name, position: position, alt: alt}
}

func (p *StaticProvider) Name() string {
	return p.name
}

func (p *StaticProvider) Locate(context.Context) (Result, error) {
	return Result{Position: p.position, Alt: p.alt}, nil
}
