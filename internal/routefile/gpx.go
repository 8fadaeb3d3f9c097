// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package routefile

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/wneessen/locsim/internal/geo"
)

type gpxDocument struct {
	XMLName xml.Name   `xml:"gpx"`
	Routes  []gpxRoute `xml:"rte"`
	Tracks  []gpxTrack `xml:"trk"`
}

type gpxRoute struct {
	Name   string     `xml:"name"`
	Points []gpxPoint `xml:"rtept"`
}

type gpxTrack struct {
	Name     string       `xml:"name"`
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat float64 `xml:"lat,attr"`
	Lon float64 `xml:"lon,attr"`
}

// ParseGPX decodes a GPX document. The first route is used if present, otherwise all
// segments of the first track are joined. GPX coordinates are always WGS84.
func ParseGPX(r io.Reader) (*Route, error) {
	var doc gpxDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode GPX: %w", err)
	}

	route := &Route{Frame: geo.FrameWGS84}
	switch {
	case len(doc.Routes) > 0:
		route.Name = doc.Routes[0].Name
		for _, p := range doc.Routes[0].Points {
			route.Points = append(route.Points, geo.WGS84{Lon: p.Lon, Lat: p.Lat})
		}
	case len(doc.Tracks) > 0:
		route.Name = doc.Tracks[0].Name
		for _, seg := range doc.Tracks[0].Segments {
			for _, p := range seg.Points {
				route.Points = append(route.Points, geo.WGS84{Lon: p.Lon, Lat: p.Lat})
			}
		}
	}
	return route, nil
}
