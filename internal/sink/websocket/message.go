// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package websocket

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wneessen/locsim/internal/engine"
	"github.com/wneessen/locsim/internal/fixbus"
	"github.com/wneessen/locsim/internal/geo"
)

const (
	requestPosition = "position"
	requestRoute    = "route"
	requestJoystick = "joystick"
	requestNudge    = "nudge"
	requestStatus   = "status"

	messageFix    = "fix"
	messageAck    = "ack"
	messageError  = "error"
	messageStatus = "status"
)

var (
	ErrUnknownRequest = errors.New("unknown request type")
	ErrMissingField   = errors.New("missing required field")
)

// request is an inbound command. Fields are interpreted according to Type.
type request struct {
	Type string `json:"type"`

	// position
	Lon   *float64 `json:"lon,omitempty"`
	Lat   *float64 `json:"lat,omitempty"`
	Alt   float64  `json:"alt,omitempty"`
	Frame string   `json:"frame,omitempty"`

	// route
	Points []float64 `json:"points,omitempty"`
	Loop   bool      `json:"loop,omitempty"`
	Speed  float64   `json:"speed,omitempty"`

	// joystick
	Auto   bool    `json:"auto,omitempty"`
	Angle  float64 `json:"angle,omitempty"`
	Radius float64 `json:"radius,omitempty"`
}

// message is an outbound message.
type message struct {
	Type    string         `json:"type"`
	Command string         `json:"command,omitempty"`
	Error   string         `json:"error,omitempty"`
	Fix     *fixbus.Fix    `json:"fix,omitempty"`
	Status  *engine.Status `json:"status,omitempty"`
}

func errorMessage(err error) message {
	return message{Type: messageError, Error: err.Error()}
}

// apply hands the request to the controller. Commands are queued by the engine, so the
// acknowledgement only confirms that the request was valid.
func (s *Server) apply(req request) message {
	switch req.Type {
	case requestPosition:
		if req.Lon == nil || req.Lat == nil {
			return errorMessage(fmt.Errorf("%w: lon and lat", ErrMissingField))
		}
		frame, err := geo.ParseFrame(req.Frame)
		if err != nil {
			return errorMessage(err)
		}
		point := geo.Point{Frame: frame, Lon: *req.Lon, Lat: *req.Lat}.WGS84()
		if !point.Valid() || math.IsNaN(point.Lon) || math.IsNaN(point.Lat) {
			return errorMessage(fmt.Errorf("%w: %s", geo.ErrInvalidCoordinate, point))
		}
		s.controller.SetPosition(point.Lon, point.Lat, req.Alt)
	case requestRoute:
		frame, err := geo.ParseFrame(req.Frame)
		if err != nil {
			return errorMessage(err)
		}
		s.controller.LoadRoutePoints(req.Points, frame, req.Loop, req.Speed)
	case requestJoystick:
		s.controller.ApplyJoystick(req.Auto, req.Angle, req.Radius)
	case requestNudge:
		s.controller.Nudge()
	case requestStatus:
		status := s.controller.Status()
		return message{Type: messageStatus, Command: req.Type, Status: &status}
	default:
		return errorMessage(fmt.Errorf("%w: %q", ErrUnknownRequest, req.Type))
	}
	return message{Type: messageAck, Command: req.Type}
}

// client serializes writes to a WebSocket connection.
type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(msg message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}
