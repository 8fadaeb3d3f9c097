// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package routefile

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/wneessen/locsim/internal/geo"
)

// Document is the JSON route document. Points is a flat list of longitude/latitude pairs in
// the given frame.
type Document struct {
	Name   string    `json:"name,omitempty"`
	Frame  string    `json:"frame,omitempty"`
	Loop   bool      `json:"loop"`
	Speed  float64   `json:"speed"`
	Points []float64 `json:"points"`
}

// Route converts the Document into a Route.
func (d Document) Route() (*Route, error) {
	frame, err := geo.ParseFrame(d.Frame)
	if err != nil {
		return nil, err
	}
	return &Route{
		Name:   d.Name,
		Frame:  frame,
		Points: geo.FromFlat(d.Points, frame),
		Loop:   d.Loop,
		Speed:  d.Speed,
	}, nil
}

// ParseJSON decodes a JSON route document.
func ParseJSON(r io.Reader) (*Route, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON route: %w", err)
	}
	return doc.Route()
}
