// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package presenter renders the engine status into the text, alt text and tooltip of the
// waybar module.
package presenter

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/wneessen/locsim/internal/config"
	"github.com/wneessen/locsim/internal/engine"
	"github.com/wneessen/locsim/internal/geo"
)

const shortSessionLen = 8

// StatusView is the template context built from an engine.Status.
type StatusView struct {
	State        string
	Session      string
	ShortSession string

	Lat      float64
	Lon      float64
	Alt      float64
	Bearing  float64
	Speed    float64
	SpeedKmh float64

	RouteActive    bool
	RouteLoop      bool
	RouteIndex     int
	RoutePoints    int
	RouteRemaining float64
	RouteProgress  float64

	AutoJoystick bool
	Ticks        uint64
	TickErrors   uint64
}

type Presenter struct {
	text    *template.Template
	altText *template.Template
	tooltip *template.Template
}

// New parses the configured templates and verifies that they render with an empty context.
func New(conf *config.Config) (*Presenter, error) {
	pres := new(Presenter)
	templates := []struct {
		name string
		src  string
		tpl  **template.Template
	}{
		{"text", conf.Templates.Text, &pres.text},
		{"alt_text", conf.Templates.AltText, &pres.altText},
		{"tooltip", conf.Templates.Tooltip, &pres.tooltip},
	}
	for _, t := range templates {
		tpl, err := template.New(t.name).Funcs(pres.templateFuncMap()).Parse(t.src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", t.name, err)
		}
		*t.tpl = tpl
	}

	if _, err := pres.Render(StatusView{}); err != nil {
		return nil, err
	}
	return pres, nil
}

// BuildContext converts the engine status into the template context.
func (p *Presenter) BuildContext(status engine.Status) StatusView {
	view := StatusView{
		State:          status.State.String(),
		Session:        status.Session,
		ShortSession:   status.Session,
		Lat:            status.Position.Lat,
		Lon:            status.Position.Lon,
		Alt:            status.Position.Alt,
		Bearing:        geo.NormalizeBearing(float64(status.Position.Bearing)),
		Speed:          status.Position.Speed,
		SpeedKmh:       status.Position.Speed * 3.6,
		RouteActive:    status.RouteActive,
		RouteLoop:      status.RouteLoop,
		RouteIndex:     status.RouteIndex,
		RoutePoints:    status.RoutePoints,
		RouteRemaining: status.RouteRemaining,
		AutoJoystick:   status.AutoJoystick,
		Ticks:          status.Ticks,
		TickErrors:     status.TickErrors,
	}
	if len(view.ShortSession) > shortSessionLen {
		view.ShortSession = view.ShortSession[:shortSessionLen]
	}
	if status.RouteActive && status.RoutePoints > 1 {
		view.RouteProgress = float64(status.RouteIndex) / float64(status.RoutePoints-1) * 100
	}
	return view
}

// Render executes all templates and returns the output keyed by template name.
func (p *Presenter) Render(view StatusView) (map[string]string, error) {
	output := make(map[string]string, 3)
	for _, tpl := range []*template.Template{p.text, p.altText, p.tooltip} {
		buf := bytes.NewBuffer(nil)
		if err := tpl.Execute(buf, view); err != nil {
			return nil, fmt.Errorf("failed to render %s template: %w", tpl.Name(), err)
		}
		output[tpl.Name()] = buf.String()
	}
	return output, nil
}
