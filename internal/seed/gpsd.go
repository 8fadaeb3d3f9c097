// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package seed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/locsim/internal/geo"
)

const (
	gpsdProviderName = "gpsd"
	gpsdTimeout      = time.Second * 5

	fallbackAccuracy3DFix = 10
	fallbackAccuracy2DFix = 25
)

var ErrGPSDClosed = errors.New("gpsd closed the connection before reporting a fix")

// GPSDProvider resolves the start position from the first TPV report with at least a 2D fix
// that a gpsd instance sends.
type GPSDProvider struct {
	name     string
	addr     string
	timeout  time.Duration
	locateFn func(ctx context.Context) (Result, error)
}

// NewGPSDProvider returns a GPSDProvider for the gpsd instance at the given address. A
// timeout of 0 uses the default.
func NewGPSDProvider(addr string, timeout time.Duration) *GPSDProvider {
	if timeout <= 0 {
		timeout = gpsdTimeout
	}
	provider := &GPSDProvider{
		name:    gpsdProviderName,
		addr:    addr,
		timeout: timeout,
	}
	provider.locateFn = provider.watch
	return provider
}

// Name returns the name of the GPSDProvider instance.
func (p *GPSDProvider) Name() string {
	return p.name
}

// Locate waits for the first usable TPV report.
func (p *GPSDProvider) Locate(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.locateFn(ctx)
}

func (p *GPSDProvider) watch(ctx context.Context) (Result, error) {
	session, err := gpsd.Dial(p.addr)
	if err != nil {
		return Result{}, fmt.Errorf("failed to connect to gpsd at %q: %w", p.addr, err)
	}

	reports := make(chan *gpsd.TPVReport, 1)
	session.AddFilter("TPV", func(r interface{}) {
		tpv, ok := r.(*gpsd.TPVReport)
		if !ok || tpv.Mode < gpsd.Mode2D {
			return
		}
		select {
		case reports <- tpv:
		default:
		}
	})

	// go-gpsd has no Close and signals the end of the watch on an unbuffered channel, so it
	// is drained in the background once we stop listening.
	done := session.Watch()
	select {
	case tpv := <-reports:
		go func() { <-done }()
		return tpvResult(tpv), nil
	case <-done:
		return Result{}, ErrGPSDClosed
	case <-ctx.Done():
		go func() { <-done }()
		return Result{}, fmt.Errorf("no fix received from gpsd at %q: %w", p.addr, ctx.Err())
	}
}

func tpvResult(tpv *gpsd.TPVReport) Result {
	result := Result{
		Position:       geo.WGS84{Lon: tpv.Lon, Lat: tpv.Lat},
		AccuracyMeters: horizontalAccuracy(tpv),
	}
	if tpv.Mode >= gpsd.Mode3D {
		result.Alt = tpv.Alt
	}
	return result
}

func horizontalAccuracy(tpv *gpsd.TPVReport) float64 {
	switch {
	case tpv.Epx > 0 && tpv.Epy > 0:
		return math.Hypot(tpv.Epx, tpv.Epy)
	case tpv.Mode >= gpsd.Mode3D:
		return fallbackAccuracy3DFix
	default:
		return fallbackAccuracy2DFix
	}
}
