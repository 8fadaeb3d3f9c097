// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"strings"
	"testing"
	"time"

	"github.com/wneessen/locsim/internal/config"
	"github.com/wneessen/locsim/internal/engine"
	"github.com/wneessen/locsim/internal/fixbus"
)

var status = engine.Status{
	State:   engine.StateRunning,
	Session: "0d4f2b7e-31c9-4b8e-9d0a-5f9e1c2b3a4d",
	Position: fixbus.Position{
		Lon:     116.3971285,
		Lat:     39.9165275,
		Alt:     43.5,
		Bearing: -90,
		Speed:   10,
	},
	RouteActive:    true,
	RoutePoints:    5,
	RouteIndex:     2,
	RouteRemaining: 1534.2,
	Ticks:          420,
	TickErrors:     3,
}

func TestNew(t *testing.T) {
	t.Run("creating a new presenter succeeds", func(t *testing.T) {
		pres, err := New(testConf(t))
		if err != nil {
			t.Fatalf("failed to create presenter: %s", err)
		}
		if pres == nil {
			t.Fatal("expected presenter to be non-nil")
		}
	})
	t.Run("creating presenter with invalid templates fails", func(t *testing.T) {
		tests := []struct {
			name       string
			templateFn func(conf *config.Config)
		}{
			{"text", func(conf *config.Config) { conf.Templates.Text = "{{invalid" }},
			{"alt_text", func(conf *config.Config) { conf.Templates.AltText = "{{invalid" }},
			{"tooltip", func(conf *config.Config) { conf.Templates.Tooltip = "{{invalid" }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				conf := testConf(t)
				tt.templateFn(conf)
				_, err := New(conf)
				if err == nil {
					t.Fatal("expected presenter to fail, but didn't")
				}
				wantErr := "failed to parse " + tt.name
				if !strings.Contains(err.Error(), wantErr) {
					t.Errorf("expected error to contain %q, got %q", wantErr, err)
				}
			})
		}
	})
	t.Run("creating presenter with template execution errors fails", func(t *testing.T) {
		tests := []struct {
			name       string
			templateFn func(conf *config.Config)
		}{
			{"text", func(conf *config.Config) { conf.Templates.Text = "{{.Weather}}" }},
			{"alt_text", func(conf *config.Config) { conf.Templates.AltText = "{{.Weather}}" }},
			{"tooltip", func(conf *config.Config) { conf.Templates.Tooltip = "{{.Weather}}" }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				conf := testConf(t)
				tt.templateFn(conf)
				_, err := New(conf)
				if err == nil {
					t.Fatal("expected presenter to fail, but didn't")
				}
				wantErr := "failed to render " + tt.name
				if !strings.Contains(err.Error(), wantErr) {
					t.Errorf("expected error to contain %q, got %q", wantErr, err)
				}
			})
		}
	})
}

func TestPresenter_BuildContext(t *testing.T) {
	t.Run("context of a running engine on a route", func(t *testing.T) {
		pres := new(Presenter)
		view := pres.BuildContext(status)
		if view.State != "running" {
			t.Errorf("expected state to be running, got %s", view.State)
		}
		if view.ShortSession != "0d4f2b7e" {
			t.Errorf("expected short session to be 0d4f2b7e, got %s", view.ShortSession)
		}
		if view.Session != status.Session {
			t.Errorf("expected session to be %s, got %s", status.Session, view.Session)
		}
		if view.Bearing != 270 {
			t.Errorf("expected bearing to be normalized to 270, got %f", view.Bearing)
		}
		if view.SpeedKmh != 36 {
			t.Errorf("expected speed to be 36 km/h, got %f", view.SpeedKmh)
		}
		if view.RouteProgress != 50 {
			t.Errorf("expected route progress to be 50%%, got %f", view.RouteProgress)
		}
		if view.Ticks != 420 || view.TickErrors != 3 {
			t.Errorf("expected 420 ticks and 3 errors, got %d and %d", view.Ticks, view.TickErrors)
		}
	})
	t.Run("context without a route", func(t *testing.T) {
		pres := new(Presenter)
		view := pres.BuildContext(engine.Status{State: engine.StateIdle, Session: "short"})
		if view.RouteActive || view.RouteProgress != 0 {
			t.Errorf("expected no route progress, got %f", view.RouteProgress)
		}
		if view.ShortSession != "short" {
			t.Errorf("expected short session to be kept, got %s", view.ShortSession)
		}
		if view.State != "idle" {
			t.Errorf("expected state to be idle, got %s", view.State)
		}
	})
}

func TestPresenter_Render(t *testing.T) {
	t.Run("rendering succeeds", func(t *testing.T) {
		pres, err := New(testConf(t))
		if err != nil {
			t.Fatalf("failed to create presenter: %s", err)
		}
		output, err := pres.Render(pres.BuildContext(status))
		if err != nil {
			t.Fatalf("failed to render: %s", err)
		}
		if len(output) != 3 {
			t.Errorf("expected output map to have length 3, got %d", len(output))
		}
		wantText := "← 39.91652, 116.39712"
		wantAltText := "← 36.0 km/h 50%"
		wantTooltip := `Session: 0d4f2b7e (running)
Position: 39.916527, 116.397128 @ 43.5 m
Heading: 270° W, 36.0 km/h
Route: waypoint 2/5, 1.5 km left
Ticks: 420 (3 errors)`
		if output["text"] != wantText {
			t.Errorf("expected text output to be %q, got %q", wantText, output["text"])
		}
		if output["alt_text"] != wantAltText {
			t.Errorf("expected alt text output to be %q, got %q", wantAltText, output["alt_text"])
		}
		if output["tooltip"] != wantTooltip {
			t.Errorf("expected tooltip output to be %q, got %q", wantTooltip, output["tooltip"])
		}
	})
	t.Run("rendering without a route", func(t *testing.T) {
		pres, err := New(testConf(t))
		if err != nil {
			t.Fatalf("failed to create presenter: %s", err)
		}
		output, err := pres.Render(pres.BuildContext(engine.Status{State: engine.StateIdle}))
		if err != nil {
			t.Fatalf("failed to render: %s", err)
		}
		if !strings.Contains(output["tooltip"], "Route: none") {
			t.Errorf("expected tooltip to report no route, got %q", output["tooltip"])
		}
		if strings.Contains(output["alt_text"], "%") {
			t.Errorf("expected alt text without route progress, got %q", output["alt_text"])
		}
	})
}

func TestPresenter_degToString(t *testing.T) {
	tests := []struct {
		name string
		deg  float64
		want string
	}{
		{"0 -> North", 0, "N"},
		{"22.4 -> North", 22.4, "N"},
		{"22.5 -> North-East", 22.5, "NE"},
		{"67.5 -> East", 67.5, "E"},
		{"112.5 -> South-East", 112.5, "SE"},
		{"157.5 -> South", 157.5, "S"},
		{"202.5 -> South-West", 202.5, "SW"},
		{"247.5 -> West", 247.5, "W"},
		{"292.5 -> North-West", 292.5, "NW"},
		{"337.5 -> North", 337.5, "N"},
		{"359.9 -> North", 359.9, "N"},
		{"360.0 -> North", 360.0, "N"},
		{"-90 -> West", -90, "W"},
		{"450 -> East", 450, "E"},
	}

	pres := new(Presenter)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pres.degToString(tt.deg)
			if got != tt.want {
				t.Errorf("failed to get direction: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPresenter_dirIcon(t *testing.T) {
	tests := []struct {
		name string
		val  string
		want string
	}{
		{"North", "N", "↑"},
		{"North-East", "NE", "↗"},
		{"East", "E", "→"},
		{"South-East", "SE", "↘"},
		{"South", "S", "↓"},
		{"South-West", "SW", "↙"},
		{"West", "W", "←"},
		{"North-West", "NW", "↖"},
		{"lowercase", "ne", "↗"},
		{"Unknown", "Unknown", ""},
	}

	pres := new(Presenter)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pres.dirIcon(tt.val); got != tt.want {
				t.Errorf("failed to get direction icon: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPresenter_floatFormat(t *testing.T) {
	tests := []struct {
		name string
		val  float64
		prec int
		want string
	}{
		{"0.0", 0.0, 0, "0"},
		{"0.4", 0.4, 1, "0.4"},
		{"0.1234", 0.1234, 4, "0.1234"},
		{"0.123", 0.1234, 3, "0.123"},
		{"0", 0.1234, 0, "0"},
		{"truncated", 39.916527, 2, "39.91"},
	}

	pres := new(Presenter)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pres.floatFormat(tt.val, tt.prec); got != tt.want {
				t.Errorf("failed to get float format: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPresenter_distance(t *testing.T) {
	tests := []struct {
		name   string
		meters float64
		want   string
	}{
		{"zero", 0, "0 m"},
		{"meters", 999.4, "999 m"},
		{"kilometers", 1000, "1.0 km"},
		{"long route", 12345, "12.3 km"},
	}

	pres := new(Presenter)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pres.distance(tt.meters); got != tt.want {
				t.Errorf("failed to format distance: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPresenter_pad(t *testing.T) {
	pres := new(Presenter)
	if got := pres.pad("→", 3); got != "→  " {
		t.Errorf("failed to pad value: got %q", got)
	}
	if got := pres.pad("toolong", 3); got != "toolong" {
		t.Errorf("expected value wider than the width to be kept, got %q", got)
	}
}

func TestPresenter_timeFormat(t *testing.T) {
	pres := new(Presenter)
	ts := time.Date(2026, 10, 19, 7, 1, 2, 0, time.UTC)
	if got := pres.timeFormat(ts, time.Kitchen); got != "7:01AM" {
		t.Errorf("failed to format time: got %s", got)
	}
}

func testConf(t *testing.T) *config.Config {
	t.Helper()
	conf, err := config.New()
	if err != nil {
		t.Fatalf("failed to create config: %s", err)
	}
	return conf
}
