// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package nmea renders fixes as NMEA 0183 sentences for consumers that expect a serial GPS
// receiver.
package nmea

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/wneessen/locsim/internal/fixbus"
	"github.com/wneessen/locsim/internal/geo"
)

const (
	DefaultBaudRate = 9600

	knotsPerMeterPerSecond = 1.943844
	kmhPerMeterPerSecond   = 3.6
	// uere is the user equivalent range error in meters used to derive the HDOP.
	uere = 5.0
)

var ErrNilWriter = errors.New("writer is required")

// Writer writes a GGA, RMC and VTG sentence for every fix it receives.
type Writer struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
}

// NewWriter returns a Writer that writes to the given io.Writer. If the writer also
// implements io.Closer, it is closed by Close.
func NewWriter(out io.Writer) (*Writer, error) {
	if out == nil {
		return nil, ErrNilWriter
	}
	writer := &Writer{out: out}
	if closer, ok := out.(io.Closer); ok {
		writer.closer = closer
	}
	return writer, nil
}

// OpenSerial opens the given serial port with 8N1 framing and returns a Writer for it.
func OpenSerial(port string, baudRate int) (*Writer, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	conn, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %q: %w", port, err)
	}
	return NewWriter(conn)
}

// Sink is a fixbus.SinkFunc that writes the sentences of the fix.
func (w *Writer) Sink(fix fixbus.Fix) error {
	data := strings.Join(Sentences(fix), "")

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out == nil {
		return io.ErrClosedPipe
	}
	if _, err := io.WriteString(w.out, data); err != nil {
		return fmt.Errorf("failed to write NMEA sentences: %w", err)
	}
	return nil
}

// Close closes the underlying writer if it is closable. Sink fails after Close.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.out = nil
	if w.closer == nil {
		return nil
	}
	closer := w.closer
	w.closer = nil
	return closer.Close()
}

// Sentences returns the GGA, RMC and VTG sentences for the fix, each terminated by CRLF.
func Sentences(fix fixbus.Fix) []string {
	return []string{GGA(fix), RMC(fix), VTG(fix)}
}

// GGA returns the fix data sentence.
func GGA(fix fixbus.Fix) string {
	lat, latHem := coordinate(fix.Lat, 2, "N", "S")
	lon, lonHem := coordinate(fix.Lon, 3, "E", "W")
	quality := "1"
	if fix.Satellites == 0 {
		// network based fixes are reported as estimated
		quality = "6"
	}
	return format(fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,%s,%02d,%.1f,%.1f,M,0.0,M,,",
		fix.Time.UTC().Format("150405.00"), lat, latHem, lon, lonHem, quality, fix.Satellites,
		hdop(fix.AccuracyMeters), fix.Alt))
}

// RMC returns the recommended minimum sentence.
func RMC(fix fixbus.Fix) string {
	lat, latHem := coordinate(fix.Lat, 2, "N", "S")
	lon, lonHem := coordinate(fix.Lon, 3, "E", "W")
	utc := fix.Time.UTC()
	return format(fmt.Sprintf("GPRMC,%s,A,%s,%s,%s,%s,%.1f,%.1f,%s,,,%s",
		utc.Format("150405.00"), lat, latHem, lon, lonHem, fix.Speed*knotsPerMeterPerSecond,
		course(fix), utc.Format("020106"), faaMode(fix)))
}

// VTG returns the course and ground speed sentence.
func VTG(fix fixbus.Fix) string {
	return format(fmt.Sprintf("GPVTG,%.1f,T,,M,%.1f,N,%.1f,K,%s", course(fix),
		fix.Speed*knotsPerMeterPerSecond, fix.Speed*kmhPerMeterPerSecond, faaMode(fix)))
}

func course(fix fixbus.Fix) float64 {
	return geo.NormalizeBearing(float64(fix.Bearing))
}

func faaMode(fix fixbus.Fix) string {
	if fix.Satellites == 0 {
		return "E"
	}
	return "A"
}

func hdop(accuracy float64) float64 {
	return math.Max(accuracy/uere, 0.5)
}

// coordinate formats an angle as degrees and decimal minutes with the given number of
// degree digits.
func coordinate(value float64, width int, positive, negative string) (string, string) {
	hemisphere := positive
	if value < 0 {
		hemisphere = negative
		value = -value
	}
	// rounding is done on the minutes, so 59.99999 never renders as 60.0000
	total := math.Round(value * 60 * 1e4)
	degrees := math.Floor(total / (60 * 1e4))
	minutes := (total - degrees*60*1e4) / 1e4
	return fmt.Sprintf("%0*d%07.4f", width, int(degrees), minutes), hemisphere
}

// format wraps the sentence body with the start delimiter, checksum and CRLF.
func format(body string) string {
	return fmt.Sprintf("$%s*%s\r\n", body, checksum(body))
}

func checksum(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("%02X", sum)
}
