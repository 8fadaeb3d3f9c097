// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package seed

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/adrianmo/go-nmea"

	"github.com/wneessen/locsim/internal/geo"
)

const (
	nmeaProviderName = "nmea_file"
	nmeaAccuracy     = 10
)

// NMEAFileProvider resolves the start position from the last valid GGA or RMC sentence of
// a recorded NMEA log. Sentences that fail to parse are skipped.
type NMEAFileProvider struct {
	name string
	path string
}

// NewNMEAFileProvider returns a NMEAFileProvider for the given log file.
func NewNMEAFileProvider(path string) *NMEAFileProvider {
	return &NMEAFileProvider{
		name: nmeaProviderName,
		path: path,
	}
}

// Name returns the name of the NMEAFileProvider instance.
func (p *NMEAFileProvider) Name() string {
	return p.name
}

// Locate scans the NMEA log.
func (p *NMEAFileProvider) Locate(ctx context.Context) (Result, error) {
	file, err := os.Open(p.path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open NMEA log %q: %w", p.path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	var result Result
	found := false
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if err = ctx.Err(); err != nil {
			return Result{}, err
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sentence, err := nmea.Parse(line)
		if err != nil {
			continue
		}

		switch s := sentence.(type) {
		case nmea.GGA:
			if s.FixQuality == nmea.Invalid {
				continue
			}
			result = Result{
				Position:       geo.WGS84{Lon: s.Longitude, Lat: s.Latitude},
				Alt:            s.Altitude,
				AccuracyMeters: nmeaAccuracy,
			}
			found = true
		case nmea.RMC:
			if s.Validity != nmea.ValidRMC {
				continue
			}
			alt := result.Alt
			result = Result{
				Position:       geo.WGS84{Lon: s.Longitude, Lat: s.Latitude},
				Alt:            alt,
				AccuracyMeters: nmeaAccuracy,
			}
			found = true
		}
	}
	if err = scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("failed to scan NMEA log %q: %w", p.path, err)
	}
	if !found {
		return Result{}, fmt.Errorf("%w in NMEA log %q", ErrNoCoordinates, p.path)
	}
	return result, nil
}
