// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package deadreckon converts joystick input into position deltas.
package deadreckon

import (
	"math"
	"time"

	"github.com/wneessen/locsim/internal/geo"
)

// AutoInterval is the cadence at which auto mode re-applies the joystick input.
const AutoInterval = time.Second

// Input is a single joystick reading. Angle follows the canvas convention of the input
// device, with 0° pointing east. Radius is the deflection in the range 0 to 1, where 0
// means stop.
type Input struct {
	Auto   bool
	Angle  float64
	Radius float64
}

// Stopped reports whether the Input requests no movement.
func (i Input) Stopped() bool {
	return i.Radius <= 0
}

// Distance returns the distance in meters covered at the given speed in m/s during the
// given interval with the deflection of the Input.
func (i Input) Distance(speed float64, interval time.Duration) float64 {
	if i.Stopped() {
		return 0
	}
	return speed * interval.Seconds() * math.Min(i.Radius, 1)
}

// Delta returns the longitude and latitude change in degrees caused by moving at the given
// speed for the given interval. The longitude scale is taken at the given latitude.
func Delta(speed float64, interval time.Duration, angle, radius, lat float64) (float64, float64) {
	distance := Input{Angle: angle, Radius: radius}.Distance(speed, interval)
	if distance == 0 {
		return 0, 0
	}

	rad := angle * math.Pi / 180
	dLonMeters := distance * math.Cos(rad)
	dLatMeters := distance * math.Sin(rad)

	lonScale := geo.MetersPerDegreeLon * math.Cos(math.Abs(lat)*math.Pi/180)
	if lonScale < 1e-9 {
		// Longitude degenerates at the poles
		return 0, dLatMeters / geo.MetersPerDegreeLat
	}
	return dLonMeters / lonScale, dLatMeters / geo.MetersPerDegreeLat
}

// Apply moves the given point according to the Input.
func (i Input) Apply(p geo.WGS84, speed float64, interval time.Duration) geo.WGS84 {
	dLon, dLat := Delta(speed, interval, i.Angle, i.Radius, p.Lat)
	return geo.WGS84{Lon: p.Lon + dLon, Lat: p.Lat + dLat}
}

// Heading returns the heading reported to consumers for the given joystick angle.
func Heading(angle float64) float64 {
	return 90 - angle
}
