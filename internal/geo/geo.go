// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geo provides the coordinate types and reference frame conversions used by the
// location simulator. Points of different reference frames are distinct types, so a BD09
// coordinate can never be passed where a WGS84 coordinate is expected.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// EarthRadius is the mean earth radius in meters.
	EarthRadius = 6371000.0

	// MetersPerDegreeLat is the flat-earth length of one degree of latitude.
	MetersPerDegreeLat = 110574.0
	// MetersPerDegreeLon is the flat-earth length of one degree of longitude at the equator.
	MetersPerDegreeLon = 111320.0
)

var (
	// ErrInvalidCoordinate is returned if a coordinate string can not be parsed.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrUnknownFrame is returned if a reference frame name is not supported.
	ErrUnknownFrame = errors.New("unknown coordinate reference frame")
)

// Frame identifies a coordinate reference frame.
type Frame int

const (
	// FrameWGS84 is the standard GPS reference frame.
	FrameWGS84 Frame = iota
	// FrameGCJ02 is the obfuscated Chinese national reference frame.
	FrameGCJ02
	// FrameBD09 is the reference frame used by Baidu Maps.
	FrameBD09
)

// String satisfies the fmt.Stringer interface for the Frame type.
func (f Frame) String() string {
	switch f {
	case FrameWGS84:
		return "wgs84"
	case FrameGCJ02:
		return "gcj02"
	case FrameBD09:
		return "bd09"
	default:
		return "unknown"
	}
}

// ParseFrame returns the Frame for the given name. Names are case-insensitive, "bd09ll" is
// accepted as an alias for BD09 and an empty name defaults to WGS84.
func ParseFrame(name string) (Frame, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "wgs84", "wgs-84":
		return FrameWGS84, nil
	case "gcj02", "gcj-02":
		return FrameGCJ02, nil
	case "bd09", "bd-09", "bd09ll":
		return FrameBD09, nil
	default:
		return FrameWGS84, fmt.Errorf("%w: %q", ErrUnknownFrame, name)
	}
}

// WGS84 is a coordinate in the WGS84 reference frame.
type WGS84 struct {
	Lon float64
	Lat float64
}

// GCJ02 is a coordinate in the GCJ02 reference frame.
type GCJ02 struct {
	Lon float64
	Lat float64
}

// BD09 is a coordinate in the BD09 reference frame.
type BD09 struct {
	Lon float64
	Lat float64
}

// Point is a coordinate tagged with the reference frame it was recorded in. It is used for
// input from collaborators that only know the frame at runtime.
type Point struct {
	Frame Frame
	Lon   float64
	Lat   float64
}

// WGS84 converts the tagged Point into the WGS84 reference frame.
func (p Point) WGS84() WGS84 {
	switch p.Frame {
	case FrameGCJ02:
		return GCJ02ToWGS84(GCJ02{Lon: p.Lon, Lat: p.Lat})
	case FrameBD09:
		return BD09ToWGS84(BD09{Lon: p.Lon, Lat: p.Lat})
	default:
		return WGS84{Lon: p.Lon, Lat: p.Lat}
	}
}

// Valid checks if the coordinate is within the WGS84 value range.
func (p WGS84) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// String satisfies the fmt.Stringer interface for the WGS84 type.
func (p WGS84) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lon, p.Lat)
}

// FromFlat converts a flat list of alternating longitude and latitude values recorded in
// the given frame into WGS84 points. A dangling trailing value is ignored.
func FromFlat(coords []float64, frame Frame) []WGS84 {
	points := make([]WGS84, 0, len(coords)/2)
	for i := 0; i+1 < len(coords); i += 2 {
		points = append(points, Point{Frame: frame, Lon: coords[i], Lat: coords[i+1]}.WGS84())
	}
	return points
}

// ParseCoordinate parses a "lon,lat" string into a WGS84 point.
func ParseCoordinate(value string) (WGS84, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return WGS84{}, fmt.Errorf("%w: %q", ErrInvalidCoordinate, value)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return WGS84{}, fmt.Errorf("%w: longitude: %w", ErrInvalidCoordinate, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return WGS84{}, fmt.Errorf("%w: latitude: %w", ErrInvalidCoordinate, err)
	}
	point := WGS84{Lon: lon, Lat: lat}
	if !point.Valid() {
		return WGS84{}, fmt.Errorf("%w: out of range: %q", ErrInvalidCoordinate, value)
	}
	return point, nil
}

// Distance returns the great-circle distance in meters between two points using the
// Haversine formula.
func Distance(a, b WGS84) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Asin(math.Sqrt(h))
}

// NormalizeBearing maps a bearing in degrees into the [0, 360) compass range.
func NormalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
