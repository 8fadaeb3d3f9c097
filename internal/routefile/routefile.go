// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package routefile loads routes from JSON route documents, GPX and GeoJSON files, either
// from disk or from a remote URL.
package routefile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wneessen/locsim/internal/geo"
)

// Format is the encoding of a route document.
type Format string

const (
	FormatJSON    Format = "json"
	FormatGPX     Format = "gpx"
	FormatGeoJSON Format = "geojson"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported route format")
	ErrNoPoints          = errors.New("route document contains less than two points")
)

// Route is a route loaded from a document. Points are always normalized to WGS84.
type Route struct {
	Name   string
	Frame  geo.Frame
	Points []geo.WGS84
	Loop   bool
	Speed  float64
}

// FormatFromPath derives the Format from the extension of a file path or URL path.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".gpx":
		return FormatGPX, nil
	case ".geojson":
		return FormatGeoJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// FormatFromContentType derives the Format from a HTTP content type.
func FormatFromContentType(contentType string) (Format, error) {
	mediaType, _, _ := strings.Cut(strings.ToLower(contentType), ";")
	switch strings.TrimSpace(mediaType) {
	case "application/json":
		return FormatJSON, nil
	case "application/gpx+xml", "application/xml", "text/xml":
		return FormatGPX, nil
	case "application/geo+json":
		return FormatGeoJSON, nil
	default:
		return "", fmt.Errorf("%w: content type %q", ErrUnsupportedFormat, contentType)
	}
}

// Load reads the route document at the given path. The format is derived from the file
// extension.
func Load(path string) (*Route, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route file %q: %w", path, err)
	}
	route, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse route file %q: %w", path, err)
	}
	if route.Name == "" {
		route.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return route, nil
}

// Parse decodes a route document of the given format.
func Parse(data []byte, format Format) (*Route, error) {
	var (
		route *Route
		err   error
	)
	switch format {
	case FormatJSON:
		route, err = ParseJSON(bytes.NewReader(data))
	case FormatGPX:
		route, err = ParseGPX(bytes.NewReader(data))
	case FormatGeoJSON:
		route, err = ParseGeoJSON(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	if len(route.Points) < 2 {
		return nil, ErrNoPoints
	}
	return route, nil
}
