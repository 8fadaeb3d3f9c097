// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/wneessen/locsim/internal/geo"
)

func (p *Presenter) templateFuncMap() template.FuncMap {
	return template.FuncMap{
		"timeFormat":  p.timeFormat,
		"floatFormat": p.floatFormat,
		"compass":     p.degToString,
		"compassIcon": p.compassIcon,
		"distance":    p.distance,
		"pad":         p.pad,
		"lc":          strings.ToLower,
		"uc":          strings.ToUpper,
	}
}

func (p *Presenter) timeFormat(val time.Time, fmt string) string {
	return val.Format(fmt)
}

func (p *Presenter) floatFormat(val float64, precision int) string {
	pow := math.Pow(10, float64(precision))
	return fmt.Sprintf("%.*f", precision, math.Trunc(val*pow)/pow)
}

// degToString maps a bearing in degrees to one of the eight compass points.
func (p *Presenter) degToString(deg float64) string {
	deg = geo.NormalizeBearing(deg)
	idx := int(math.Floor((deg+22.5)/45)) % len(compassPoints)
	return compassPoints[idx]
}

func (p *Presenter) compassIcon(deg float64) string {
	return p.dirIcon(p.degToString(deg))
}

func (p *Presenter) dirIcon(dir string) string {
	return dirIcons[strings.ToUpper(dir)]
}

// distance formats a distance in meters, switching to kilometers above 1000 m.
func (p *Presenter) distance(meters float64) string {
	if math.Abs(meters) < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

// pad right-pads the value with spaces to the given display width.
func (p *Presenter) pad(val string, width int) string {
	return runewidth.FillRight(val, width)
}
