// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package route implements the traversal of a polyline of WGS84 waypoints at a given
// distance per step.
package route

import (
	"math"

	"github.com/wneessen/locsim/internal/geo"
)

// zeroLength is the segment length in meters below which a segment is skipped.
const zeroLength = 1e-9

// Route tracks the progress along an ordered list of waypoints. A Route with less than two
// waypoints is inactive. A Route is not safe for concurrent use.
type Route struct {
	points   []geo.WGS84
	index    int
	progress float64
	loop     bool
}

// Step is the result of advancing a Route.
type Step struct {
	Position geo.WGS84
	Bearing  float64

	// Finished is set when a non-looping route reached its last waypoint and was cleared.
	Finished bool
}

// New returns a Route over a copy of the given waypoints.
func New(points []geo.WGS84, loop bool) *Route {
	pts := make([]geo.WGS84, len(points))
	copy(pts, points)
	return &Route{points: pts, loop: loop}
}

// Active reports whether the Route has at least one segment left to traverse.
func (r *Route) Active() bool {
	return r != nil && len(r.points) >= 2
}

// Len returns the number of waypoints of the Route.
func (r *Route) Len() int {
	if r == nil {
		return 0
	}
	return len(r.points)
}

// Index returns the index of the first waypoint of the current segment.
func (r *Route) Index() int {
	return r.index
}

// Progress returns the distance in meters already covered on the current segment.
func (r *Route) Progress() float64 {
	return r.progress
}

// Loop reports whether the Route restarts at its first waypoint when finished.
func (r *Route) Loop() bool {
	return r.loop
}

// Start returns the first waypoint of the Route.
func (r *Route) Start() (geo.WGS84, bool) {
	if r.Len() == 0 {
		return geo.WGS84{}, false
	}
	return r.points[0], true
}

// Remaining returns the distance in meters until the last waypoint is reached.
func (r *Route) Remaining() float64 {
	if !r.Active() {
		return 0
	}
	remaining := -r.progress
	for i := r.index; i+1 < len(r.points); i++ {
		remaining += SegmentLength(r.points[i], r.points[i+1])
	}
	return math.Max(remaining, 0)
}

// Advance moves along the Route by the given distance in meters. It returns false if the
// Route was inactive or no distance was covered. A Step that finished the Route always
// carries the last waypoint as its position.
func (r *Route) Advance(distance float64) (Step, bool) {
	var step Step
	if !r.Active() || distance <= 0 {
		return step, false
	}

	moved, skipped := false, 0
	for distance > 0 && r.Active() {
		if r.index+1 >= len(r.points) {
			if step.Finished = r.rewind(&step); step.Finished {
				break
			}
			continue
		}

		start, end := r.points[r.index], r.points[r.index+1]
		length := SegmentLength(start, end)
		if length < zeroLength {
			// A looping route made only of duplicate waypoints never gets anywhere
			if skipped++; skipped > len(r.points) {
				break
			}
			r.index++
			r.progress = 0
			continue
		}
		skipped = 0

		available := length - r.progress
		if distance >= available {
			step.Position = end
			step.Bearing = Bearing(start.Lon, start.Lat, end.Lon, end.Lat)
			distance -= available
			r.index++
			r.progress = 0
			moved = true

			// The end of the route is handled right away, so a looping route is back at its
			// first waypoint once it has been covered completely.
			if r.index+1 >= len(r.points) {
				if step.Finished = r.rewind(&step); step.Finished {
					break
				}
			}
			continue
		}

		fraction := (r.progress + distance) / length
		step.Position = geo.WGS84{
			Lon: start.Lon + fraction*(end.Lon-start.Lon),
			Lat: start.Lat + fraction*(end.Lat-start.Lat),
		}
		step.Bearing = Bearing(start.Lon, start.Lat, end.Lon, end.Lat)
		r.progress += distance
		distance = 0
		moved = true
	}

	return step, moved
}

// rewind restarts a looping route at its first waypoint or clears a finished one. It
// returns true if the route was cleared.
func (r *Route) rewind(step *Step) bool {
	if r.loop {
		r.index = 0
		r.progress = 0
		step.Position = r.points[0]
		return false
	}
	step.Position = r.points[len(r.points)-1]
	r.points = r.points[:0]
	r.index = 0
	r.progress = 0
	return true
}

// SegmentLength returns the length in meters between two waypoints using a local
// flat-earth approximation around the mean latitude of both points.
func SegmentLength(a, b geo.WGS84) float64 {
	midLat := (a.Lat + b.Lat) / 2 * math.Pi / 180
	dLat := (b.Lat - a.Lat) * geo.MetersPerDegreeLat
	dLon := (b.Lon - a.Lon) * geo.MetersPerDegreeLon * math.Cos(midLat)
	return math.Hypot(dLat, dLon)
}

// Bearing returns the initial great-circle bearing in degrees from the first to the second
// point. The result is in the range (-180, 180] and is not normalized to compass values.
func Bearing(lon1, lat1, lon2, lat2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	return math.Atan2(y, x) * 180 / math.Pi
}
