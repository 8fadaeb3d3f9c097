// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"

	"github.com/wneessen/locsim/internal/geo"
)

const (
	configEnv = "LOCSIM"
	appDir    = "locsim"

	DefaultTextTpl    = "{{compassIcon .Bearing}} {{floatFormat .Lat 5}}, {{floatFormat .Lon 5}}"
	DefaultAltTextTpl = "{{compassIcon .Bearing}} {{floatFormat .SpeedKmh 1}} km/h{{if .RouteActive}} " +
		"{{floatFormat .RouteProgress 0}}%{{end}}"
	DefaultTooltipTpl = "Session: {{.ShortSession}} ({{.State}})\n" +
		"Position: {{floatFormat .Lat 6}}, {{floatFormat .Lon 6}} @ {{floatFormat .Alt 1}} m\n" +
		"Heading: {{floatFormat .Bearing 0}}° {{compass .Bearing}}, {{floatFormat .SpeedKmh 1}} km/h\n" +
		"Route: {{if .RouteActive}}waypoint {{.RouteIndex}}/{{.RoutePoints}}, " +
		"{{distance .RouteRemaining}} left{{else}}none{{end}}\n" +
		"Ticks: {{.Ticks}} ({{.TickErrors}} errors)"
)

var (
	ErrInvalidInterval = errors.New("interval must be positive")
	ErrInvalidQoS      = errors.New("mqtt qos must be 0, 1 or 2")
	ErrNMEAOutput      = errors.New("nmea sink requires a serial port or an output file")
	ErrRouteSource     = errors.New("route file and route url are mutually exclusive")
)

// Config represents the application's configuration structure.
type Config struct {
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	// DisableSleepMonitor turns off the D-Bus suspend/resume monitor.
	DisableSleepMonitor bool `fig:"disable_sleep_monitor"`

	LogFile struct {
		Path       string `fig:"path"`
		MaxSize    int    `fig:"max_size" default:"10"`
		MaxBackups int    `fig:"max_backups" default:"3"`
		MaxAge     int    `fig:"max_age" default:"28"`
		Compress   bool   `fig:"compress"`
	} `fig:"logfile"`

	Engine struct {
		TickInterval    time.Duration `fig:"tick_interval" default:"100ms"`
		SettleDelay     time.Duration `fig:"settle_delay"`
		ErrorBackoff    time.Duration `fig:"error_backoff" default:"1s"`
		AutoInterval    time.Duration `fig:"auto_interval" default:"1s"`
		JoystickSpeed   float64       `fig:"joystick_speed" default:"1.5"`
		PreciseAccuracy float64       `fig:"precise_accuracy" default:"1"`
		CoarseAccuracy  float64       `fig:"coarse_accuracy" default:"25"`
		Satellites      int           `fig:"satellites" default:"12"`
		QueueSize       int           `fig:"queue_size" default:"64"`
	} `fig:"engine"`

	Seed struct {
		// Default is the "lon,lat" fallback start position.
		Default     string        `fig:"default" default:"116.397128,39.916527"`
		Altitude    float64       `fig:"altitude"`
		File        string        `fig:"file"`
		NMEAFile    string        `fig:"nmea_file"`
		GPSD        string        `fig:"gpsd"`
		GeoIP       bool          `fig:"geoip"`
		GeoIPURL    string        `fig:"geoip_url"`
		Timeout     time.Duration `fig:"timeout" default:"5s"`
		DisableFile bool          `fig:"disable_file"`
		DisableNMEA bool          `fig:"disable_nmea"`
		DisableGPSD bool          `fig:"disable_gpsd"`
	} `fig:"seed"`

	Route struct {
		File  string  `fig:"file"`
		URL   string  `fig:"url"`
		Loop  bool    `fig:"loop"`
		Speed float64 `fig:"speed"`
	} `fig:"route"`

	Sinks struct {
		GPSD struct {
			Enable bool   `fig:"enable"`
			Addr   string `fig:"addr" default:"127.0.0.1:2947"`
		} `fig:"gpsd"`
		NMEA struct {
			Enable   bool   `fig:"enable"`
			Serial   string `fig:"serial"`
			BaudRate int    `fig:"baudrate" default:"9600"`
			File     string `fig:"file"`
		} `fig:"nmea"`
		MQTT struct {
			Enable   bool          `fig:"enable"`
			Broker   string        `fig:"broker" default:"tcp://localhost:1883"`
			ClientID string        `fig:"client_id"`
			Username string        `fig:"username"`
			Password string        `fig:"password"`
			Prefix   string        `fig:"prefix" default:"locsim"`
			QoS      int           `fig:"qos"`
			Retain   bool          `fig:"retain"`
			Timeout  time.Duration `fig:"timeout" default:"2s"`
		} `fig:"mqtt"`
		Control struct {
			Disable        bool     `fig:"disable"`
			Addr           string   `fig:"addr" default:"127.0.0.1:8947"`
			Origins        []string `fig:"origins"`
			DisableMetrics bool     `fig:"disable_metrics"`
		} `fig:"control"`
	} `fig:"sinks"`

	Intervals struct {
		Output time.Duration `fig:"output" default:"5s"`
	} `fig:"intervals"`

	Templates struct {
		Text    string `fig:"text"`
		AltText string `fig:"alt_text"`
		Tooltip string `fig:"tooltip"`
	} `fig:"templates"`
}

// NewFromFile loads the configuration from the given file in the given directory. Values
// can be overridden with LOCSIM_ prefixed environment variables.
func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}

	return conf, conf.Validate()
}

// New returns the default configuration, overridden by LOCSIM_ prefixed environment
// variables.
func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}

	return conf, conf.Validate()
}

// Validate checks the configuration and fills in derived values.
func (c *Config) Validate() error {
	if _, err := geo.ParseCoordinate(c.Seed.Default); err != nil {
		return fmt.Errorf("invalid default start position: %w", err)
	}

	intervals := map[string]time.Duration{
		"engine tick":   c.Engine.TickInterval,
		"error backoff": c.Engine.ErrorBackoff,
		"auto joystick": c.Engine.AutoInterval,
		"output":        c.Intervals.Output,
		"seed timeout":  c.Seed.Timeout,
		"mqtt timeout":  c.Sinks.MQTT.Timeout,
	}
	for name, interval := range intervals {
		if interval <= 0 {
			return fmt.Errorf("%w: %s: %s", ErrInvalidInterval, name, interval)
		}
	}
	if c.Engine.SettleDelay < 0 || c.Engine.SettleDelay >= c.Engine.TickInterval {
		return fmt.Errorf("invalid settle delay %s: must be shorter than the tick interval",
			c.Engine.SettleDelay)
	}
	if c.Engine.JoystickSpeed <= 0 {
		return fmt.Errorf("invalid joystick speed: %f", c.Engine.JoystickSpeed)
	}
	if c.Engine.PreciseAccuracy <= 0 || c.Engine.CoarseAccuracy <= 0 {
		return fmt.Errorf("invalid accuracy: precise %f, coarse %f", c.Engine.PreciseAccuracy,
			c.Engine.CoarseAccuracy)
	}
	if c.Engine.QueueSize < 1 {
		return fmt.Errorf("invalid command queue size: %d", c.Engine.QueueSize)
	}
	if c.Route.Speed < 0 {
		return fmt.Errorf("invalid route speed: %f", c.Route.Speed)
	}
	if c.Route.File != "" && c.Route.URL != "" {
		return ErrRouteSource
	}
	if c.Sinks.NMEA.Enable && c.Sinks.NMEA.Serial == "" && c.Sinks.NMEA.File == "" {
		return ErrNMEAOutput
	}
	if c.Sinks.MQTT.QoS < 0 || c.Sinks.MQTT.QoS > 2 {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, c.Sinks.MQTT.QoS)
	}

	if c.Templates.Text == "" {
		c.Templates.Text = DefaultTextTpl
	}
	if c.Templates.AltText == "" {
		c.Templates.AltText = DefaultAltTextTpl
	}
	if c.Templates.Tooltip == "" {
		c.Templates.Tooltip = DefaultTooltipTpl
	}
	if c.Seed.File == "" {
		home, _ := os.UserHomeDir()
		c.Seed.File = filepath.Join(home, ".config", appDir, "position")
	}
	c.Sinks.Control.Origins = trimEmpty(c.Sinks.Control.Origins)

	return nil
}

// StartPosition returns the configured fallback start position.
func (c *Config) StartPosition() geo.WGS84 {
	point, err := geo.ParseCoordinate(c.Seed.Default)
	if err != nil {
		return geo.WGS84{}
	}
	return point
}

// FindFile returns the directory and file name of the first config file found in the
// user's config directory.
func FindFile() (string, string) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}
	for _, ext := range []string{"toml", "yaml", "yml", "json"} {
		path := filepath.Join(homedir, ".config", appDir, "config."+ext)
		if _, err = os.Stat(path); err == nil {
			return filepath.Dir(path), filepath.Base(path)
		}
	}
	return "", ""
}

func trimEmpty(values []string) []string {
	trimmed := values[:0]
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			trimmed = append(trimmed, value)
		}
	}
	return trimmed
}
