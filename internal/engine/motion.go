// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/wneessen/locsim/internal/deadreckon"
	"github.com/wneessen/locsim/internal/geo"
	"github.com/wneessen/locsim/internal/job"
	"github.com/wneessen/locsim/internal/route"
)

const (
	cmdPosition = "position"
	cmdRoute    = "route"
	cmdJoystick = "joystick"
)

// command is a state mutation that is applied by the worker goroutine.
type command struct {
	name string
	fn   func(context.Context)
}

// motion is the position and route state owned by the worker.
type motion struct {
	position   Position
	route      *route.Route
	routeSpeed float64

	joystick      deadreckon.Input
	joystickSpeed float64
	autoInterval  time.Duration
	autoGen       uint64
	stopAuto      func()
}

func newMotion(conf Config) motion {
	return motion{
		position: Position{
			Lon: conf.Start.Lon,
			Lat: conf.Start.Lat,
			Alt: conf.Altitude,
		},
		joystickSpeed: conf.JoystickSpeed,
		autoInterval:  conf.AutoInterval,
	}
}

func (m *motion) point() geo.WGS84 {
	return geo.WGS84{Lon: m.position.Lon, Lat: m.position.Lat}
}

// SetPosition moves the simulated device to the given WGS84 coordinates. An active route
// is kept. Invalid coordinates are ignored.
func (e *Engine) SetPosition(lon, lat, alt float64) {
	point := geo.WGS84{Lon: lon, Lat: lat}
	if !point.Valid() || math.IsNaN(alt) || math.IsInf(alt, 0) {
		e.logger.Warn("ignoring invalid position", slog.Float64("lon", lon), slog.Float64("lat", lat),
			slog.Float64("alt", alt))
		return
	}
	e.enqueue(cmdPosition, func(context.Context) {
		e.motion.position.Lon = lon
		e.motion.position.Lat = lat
		e.motion.position.Alt = alt
		e.logger.Debug("position set", slog.String("position", point.String()))
	})
}

// LoadRoute replaces the active route. The position jumps to the first waypoint and the
// route is traversed at the given speed in m/s. A route with less than two waypoints clears
// the active route. A speed of 0 freezes the position at the first waypoint.
func (e *Engine) LoadRoute(points []geo.WGS84, loop bool, speed float64) {
	r := route.New(points, loop)
	if math.IsNaN(speed) || speed < 0 {
		speed = 0
	}
	e.enqueue(cmdRoute, func(context.Context) {
		e.motion.cancelAuto()
		if !r.Active() {
			e.motion.route = nil
			e.motion.routeSpeed = 0
			e.motion.position.Speed = 0
			e.logger.Debug("route cleared", slog.Int("points", r.Len()))
			return
		}
		e.motion.route = r
		e.motion.routeSpeed = speed
		start, _ := r.Start()
		e.motion.position.Lon = start.Lon
		e.motion.position.Lat = start.Lat
		e.motion.position.Speed = speed
		e.logger.Debug("route loaded", slog.Int("points", r.Len()), slog.Bool("loop", loop),
			slog.Float64("speed", speed), slog.Float64("length", r.Remaining()))
	})
}

// LoadRoutePoints loads a route given as a flat list of longitude/latitude pairs in the
// given frame.
func (e *Engine) LoadRoutePoints(coords []float64, frame geo.Frame, loop bool, speed float64) {
	e.LoadRoute(geo.FromFlat(coords, frame), loop, speed)
}

// ApplyJoystick feeds a joystick reading into the dead reckoning model. In auto mode the
// reading is re-applied at the auto interval until a reading with a radius of 0 or a
// manual reading arrives. A manual reading moves the position once. Joystick input is
// ignored while a route is active.
func (e *Engine) ApplyJoystick(auto bool, angle, radius float64) {
	input := deadreckon.Input{Auto: auto, Angle: angle, Radius: radius}
	e.enqueue(cmdJoystick, func(ctx context.Context) {
		m := &e.motion
		m.cancelAuto()
		m.joystick = input
		if input.Stopped() {
			return
		}
		if m.route.Active() {
			e.logger.Debug("ignoring joystick input while a route is active")
			return
		}
		if !input.Auto {
			m.step(input)
			return
		}

		m.autoGen++
		gen := m.autoGen
		m.stopAuto = job.New("joystick auto-repeat", e.conf.AutoInterval, func(context.Context) {
			select {
			case e.autoSteps <- gen:
			default:
			}
		}).Go(ctx)
	})
}

// applyAutoStep moves the position for a tick of the auto-repeat job with the given
// generation. Steps of a cancelled job are dropped.
func (m *motion) applyAutoStep(gen uint64) bool {
	if m.stopAuto == nil || gen != m.autoGen || m.route.Active() {
		return false
	}
	m.step(m.joystick)
	return true
}

func (m *motion) step(input deadreckon.Input) {
	next := input.Apply(m.point(), m.joystickSpeed, m.autoInterval)
	m.position.Lon = next.Lon
	m.position.Lat = next.Lat
	m.position.Bearing = float32(deadreckon.Heading(input.Angle))
	m.position.Speed = m.joystickSpeed * math.Min(input.Radius, 1)
}

// cancelAuto stops a running auto-repeat job. The position is left untouched.
func (m *motion) cancelAuto() {
	if m.stopAuto == nil {
		return
	}
	m.stopAuto()
	m.stopAuto = nil
	m.autoGen++
}

// advance moves along the active route by the distance covered in the given number of
// seconds. It returns true if a non-looping route was finished.
func (m *motion) advance(seconds float64) bool {
	if !m.route.Active() {
		return false
	}
	step, moved := m.route.Advance(m.routeSpeed * seconds)
	if moved || step.Finished {
		m.position.Lon = step.Position.Lon
		m.position.Lat = step.Position.Lat
	}
	if moved {
		m.position.Bearing = float32(step.Bearing)
	}
	if step.Finished {
		m.route = nil
		m.routeSpeed = 0
		m.position.Speed = 0
		return true
	}
	return false
}

// enqueue hands a command to the worker. Commands are dropped if the queue is full or the
// engine is stopped.
func (e *Engine) enqueue(name string, fn func(context.Context)) {
	if e.State() == StateStopped {
		e.logger.Debug("engine stopped, dropping command", slog.String("command", name))
		return
	}
	select {
	case e.commands <- command{name: name, fn: fn}:
	default:
		e.logger.Warn("command queue full, dropping command", slog.String("command", name))
		e.recorder.CommandDropped(name)
	}
}
