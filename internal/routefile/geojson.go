// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package routefile

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/wneessen/locsim/internal/geo"
)

// ParseGeoJSON decodes a GeoJSON FeatureCollection, Feature or bare geometry. The first
// LineString or MultiLineString is used. The feature properties "name", "frame", "loop"
// and "speed" configure the route.
func ParseGeoJSON(data []byte) (*Route, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to decode GeoJSON: %w", err)
	}

	var features []*geojson.Feature
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode GeoJSON feature collection: %w", err)
		}
		features = fc.Features
	case "Feature":
		feature, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode GeoJSON feature: %w", err)
		}
		features = append(features, feature)
	default:
		geometry, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode GeoJSON geometry: %w", err)
		}
		features = append(features, geojson.NewFeature(geometry.Geometry()))
	}

	for _, feature := range features {
		line := lineOf(feature.Geometry)
		if len(line) == 0 {
			continue
		}
		frame, err := geo.ParseFrame(stringProp(feature.Properties, "frame"))
		if err != nil {
			return nil, err
		}
		coords := make([]float64, 0, len(line)*2)
		for _, p := range line {
			coords = append(coords, p.Lon(), p.Lat())
		}
		return &Route{
			Name:   stringProp(feature.Properties, "name"),
			Frame:  frame,
			Points: geo.FromFlat(coords, frame),
			Loop:   boolProp(feature.Properties, "loop"),
			Speed:  floatProp(feature.Properties, "speed"),
		}, nil
	}
	return &Route{Frame: geo.FrameWGS84}, nil
}

// lineOf returns the points of a LineString, or the joined lines of a MultiLineString.
func lineOf(geometry orb.Geometry) orb.LineString {
	switch g := geometry.(type) {
	case orb.LineString:
		return g
	case orb.MultiLineString:
		var joined orb.LineString
		for _, line := range g {
			joined = append(joined, line...)
		}
		return joined
	default:
		return nil
	}
}

// Property helpers tolerate missing or mistyped values.
func stringProp(props geojson.Properties, key string) string {
	value, _ := props[key].(string)
	return value
}

func boolProp(props geojson.Properties, key string) bool {
	value, _ := props[key].(bool)
	return value
}

func floatProp(props geojson.Properties, key string) float64 {
	value, _ := props[key].(float64)
	return value
}
