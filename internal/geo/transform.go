// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geo

import "math"

// The conversions below implement the published empirical GCJ02 offset series and the BD09
// polar offset. They are lossy: converting a point forth and back yields a result that is
// off by up to a few meters.
const (
	semiMajorAxis = 6378245.0
	eccentricity2 = 0.00669342162296594323
	xPi           = math.Pi * 3000.0 / 180.0

	bdOffsetLon = 0.0065
	bdOffsetLat = 0.006
)

// Upper bounds in meters for the error of a forth-and-back conversion inside mainland China
// (100-122E, 22-42N). The full WGS84/BD09 round trip peaks at about 3.24m in the north.
const (
	RoundTripTolerance = 3.5
	PolarTolerance     = 0.15
)

// WGS84ToGCJ02 applies the GCJ02 offset series to a WGS84 point.
func WGS84ToGCJ02(p WGS84) GCJ02 {
	dLon, dLat := gcjOffset(p.Lon, p.Lat)
	return GCJ02{Lon: p.Lon + dLon, Lat: p.Lat + dLat}
}

// GCJ02ToBD09 applies the BD09 polar offset to a GCJ02 point.
func GCJ02ToBD09(p GCJ02) BD09 {
	z := math.Sqrt(p.Lon*p.Lon+p.Lat*p.Lat) + 0.00002*math.Sin(p.Lat*xPi)
	theta := math.Atan2(p.Lat, p.Lon) + 0.000003*math.Cos(p.Lon*xPi)
	return BD09{
		Lon: z*math.Cos(theta) + bdOffsetLon,
		Lat: z*math.Sin(theta) + bdOffsetLat,
	}
}

// WGS84ToBD09 converts a WGS84 point into the BD09 reference frame.
func WGS84ToBD09(p WGS84) BD09 {
	return GCJ02ToBD09(WGS84ToGCJ02(p))
}

// BD09ToGCJ02 reverses the BD09 polar offset.
func BD09ToGCJ02(p BD09) GCJ02 {
	x := p.Lon - bdOffsetLon
	y := p.Lat - bdOffsetLat
	z := math.Sqrt(x*x+y*y) - 0.00002*math.Sin(y*xPi)
	theta := math.Atan2(y, x) - 0.000003*math.Cos(x*xPi)
	return GCJ02{Lon: z * math.Cos(theta), Lat: z * math.Sin(theta)}
}

// GCJ02ToWGS84 approximates the WGS84 point for a GCJ02 point by evaluating the offset
// series at the GCJ02 position and subtracting it.
func GCJ02ToWGS84(p GCJ02) WGS84 {
	dLon, dLat := gcjOffset(p.Lon, p.Lat)
	mgLon, mgLat := p.Lon+dLon, p.Lat+dLat
	return WGS84{Lon: p.Lon*2 - mgLon, Lat: p.Lat*2 - mgLat}
}

// BD09ToWGS84 converts a BD09 point into the WGS84 reference frame.
func BD09ToWGS84(p BD09) WGS84 {
	return GCJ02ToWGS84(BD09ToGCJ02(p))
}

// gcjOffset returns the GCJ02 offset in degrees at the given position, scaled by the
// Krasovsky ellipsoid.
func gcjOffset(lon, lat float64) (float64, float64) {
	dLat := transformLat(lon-105.0, lat-35.0)
	dLon := transformLon(lon-105.0, lat-35.0)
	radLat := lat / 180.0 * math.Pi
	magic := math.Sin(radLat)
	magic = 1 - eccentricity2*magic*magic
	sqrtMagic := math.Sqrt(magic)
	dLat = (dLat * 180.0) / ((semiMajorAxis * (1 - eccentricity2)) / (magic * sqrtMagic) * math.Pi)
	dLon = (dLon * 180.0) / (semiMajorAxis / sqrtMagic * math.Cos(radLat) * math.Pi)
	return dLon, dLat
}

func transformLat(x, y float64) float64 {
	ret := -100.0 + 2.0*x + 3.0*y + 0.2*y*y + 0.1*x*y + 0.2*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(y*math.Pi) + 40.0*math.Sin(y/3.0*math.Pi)) * 2.0 / 3.0
	ret += (160.0*math.Sin(y/12.0*math.Pi) + 320*math.Sin(y*math.Pi/30.0)) * 2.0 / 3.0
	return ret
}

func transformLon(x, y float64) float64 {
	ret := 300.0 + x + 2.0*y + 0.1*x*x + 0.1*x*y + 0.1*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(x*math.Pi) + 40.0*math.Sin(x/3.0*math.Pi)) * 2.0 / 3.0
	ret += (150.0*math.Sin(x/12.0*math.Pi) + 300.0*math.Sin(x/30.0*math.Pi)) * 2.0 / 3.0
	return ret
}
