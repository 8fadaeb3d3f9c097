// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package engine

import "github.com/wneessen/locsim/internal/fixbus"

// Recorder receives the counters and gauges of an Engine. Implementations must be safe for
// concurrent use and must not block.
type Recorder interface {
	Tick()
	TickError()
	Fix(provider fixbus.Provider)
	Command(name string)
	CommandDropped(name string)
	Route(active bool, remainingMeters float64)
}

type noopRecorder struct{}

func (noopRecorder) Tick()                 {}
func (noopRecorder) TickError()            {}
func (noopRecorder) Fix(fixbus.Provider)   {}
func (noopRecorder) Command(string)        {}
func (noopRecorder) CommandDropped(string) {}
func (noopRecorder) Route(bool, float64)   {}
