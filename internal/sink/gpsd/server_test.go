// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/locsim/internal/fixbus"
	"github.com/wneessen/locsim/internal/logger"
)

func TestListen(t *testing.T) {
	t.Run("listen without logger fails", func(t *testing.T) {
		_, err := Listen("127.0.0.1:0", nil)
		if !errors.Is(err, fixbus.ErrNilLogger) {
			t.Errorf("expected error to be %s, got %s", fixbus.ErrNilLogger, err)
		}
	})
	t.Run("listen on invalid address fails", func(t *testing.T) {
		_, err := Listen("127.0.0.1:99999", logger.Discard())
		if err == nil {
			t.Error("expected error, but didn't get one")
		}
	})
	t.Run("serve returns after context is cancelled", func(t *testing.T) {
		server, err := Listen("127.0.0.1:0", logger.Discard())
		if err != nil {
			t.Fatalf("failed to listen: %s", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		errs := make(chan error, 1)
		go func() { errs <- server.Serve(ctx) }()
		cancel()

		select {
		case err = <-errs:
			if err != nil {
				t.Errorf("expected serve to return without error, got %s", err)
			}
		case <-time.After(time.Second * 5):
			t.Fatal("serve did not return after context was cancelled")
		}
		if err = server.Close(); err != nil {
			t.Errorf("expected repeated close to succeed, got %s", err)
		}
	})
}

func TestServer_goGPSDClient(t *testing.T) {
	server := testServer(t)
	fix := testFix()
	fix.Bearing = -90
	if err := server.Sink(fix); err != nil {
		t.Fatalf("failed to sink fix: %s", err)
	}

	session, err := gpsd.Dial(server.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial gpsd server: %s", err)
	}
	reports := make(chan *gpsd.TPVReport, 4)
	session.AddFilter("TPV", func(r interface{}) {
		if tpv, ok := r.(*gpsd.TPVReport); ok {
			select {
			case reports <- tpv:
			default:
			}
		}
	})
	done := session.Watch()
	t.Cleanup(func() {
		_ = server.Close()
		<-done
	})

	select {
	case tpv := <-reports:
		if tpv.Mode != gpsd.Mode3D {
			t.Errorf("expected 3D fix, got mode %d", tpv.Mode)
		}
		if tpv.Lat != fix.Lat || tpv.Lon != fix.Lon {
			t.Errorf("expected position %f,%f, got %f,%f", fix.Lat, fix.Lon, tpv.Lat, tpv.Lon)
		}
		if math.Abs(tpv.Track-270) > 1e-9 {
			t.Errorf("expected normalized track 270, got %f", tpv.Track)
		}
		if tpv.Speed != fix.Speed {
			t.Errorf("expected speed %f, got %f", fix.Speed, tpv.Speed)
		}
	case <-time.After(time.Second * 5):
		t.Fatal("no TPV report received")
	}

	fix.Lat += 0.001
	if err = server.Sink(fix); err != nil {
		t.Fatalf("failed to sink fix: %s", err)
	}
	select {
	case tpv := <-reports:
		if tpv.Lat != fix.Lat {
			t.Errorf("expected streamed latitude %f, got %f", fix.Lat, tpv.Lat)
		}
	case <-time.After(time.Second * 5):
		t.Fatal("no streamed TPV report received")
	}
}

func TestServer_requests(t *testing.T) {
	server := testServer(t)
	conn, reader := testConn(t, server)

	version := readReport(t, reader)
	if version["class"] != "VERSION" {
		t.Fatalf("expected VERSION banner, got %v", version)
	}

	t.Run("poll without fix", func(t *testing.T) {
		send(t, conn, "?POLL;")
		poll := readReport(t, reader)
		if poll["class"] != "POLL" {
			t.Fatalf("expected POLL report, got %v", poll)
		}
		if poll["active"] != float64(0) {
			t.Errorf("expected no active device, got %v", poll["active"])
		}
	})
	t.Run("unknown request", func(t *testing.T) {
		send(t, conn, "?FOO;\n")
		report := readReport(t, reader)
		if report["class"] != "ERROR" {
			t.Fatalf("expected ERROR report, got %v", report)
		}
	})
	t.Run("devices", func(t *testing.T) {
		send(t, conn, "?DEVICES;")
		report := readReport(t, reader)
		if report["class"] != "DEVICES" {
			t.Fatalf("expected DEVICES report, got %v", report)
		}
	})
	t.Run("invalid watch", func(t *testing.T) {
		send(t, conn, "?WATCH={\"enable\":tru}")
		report := readReport(t, reader)
		if report["class"] != "ERROR" {
			t.Fatalf("expected ERROR report, got %v", report)
		}
	})
	t.Run("unterminated watch streams fixes", func(t *testing.T) {
		send(t, conn, `?WATCH={"enable":true,"json":true}`)
		if report := readReport(t, reader); report["class"] != "DEVICES" {
			t.Fatalf("expected DEVICES report, got %v", report)
		}
		report := readReport(t, reader)
		if report["class"] != "WATCH" || report["enable"] != true {
			t.Fatalf("expected enabled WATCH report, got %v", report)
		}

		waitFor(t, func() bool { return server.Clients() == 1 })
		if err := server.Sink(testFix()); err != nil {
			t.Fatalf("failed to sink fix: %s", err)
		}
		tpv := readReport(t, reader)
		if tpv["class"] != "TPV" {
			t.Fatalf("expected TPV report, got %v", tpv)
		}
		if tpv["device"] != DefaultDevice {
			t.Errorf("expected device %s, got %v", DefaultDevice, tpv["device"])
		}
	})
	t.Run("poll with fix", func(t *testing.T) {
		send(t, conn, "?POLL;")
		poll := readReport(t, reader)
		if poll["active"] != float64(1) {
			t.Errorf("expected one active device, got %v", poll["active"])
		}
		tpv, ok := poll["tpv"].([]any)
		if !ok || len(tpv) != 1 {
			t.Errorf("expected one TPV report in POLL, got %v", poll["tpv"])
		}
	})
	t.Run("disable watch", func(t *testing.T) {
		send(t, conn, `?WATCH={"enable":false};`)
		_ = readReport(t, reader)
		report := readReport(t, reader)
		if report["enable"] != false {
			t.Fatalf("expected disabled WATCH report, got %v", report)
		}
	})
}

func TestServer_Close(t *testing.T) {
	server := testServer(t)
	_, reader := testConn(t, server)
	_ = readReport(t, reader)
	waitFor(t, func() bool { return server.Clients() == 1 })

	if err := server.Close(); err != nil {
		t.Fatalf("failed to close server: %s", err)
	}
	if server.Clients() != 0 {
		t.Errorf("expected no clients after close, got %d", server.Clients())
	}
	if _, err := reader.ReadString('\n'); err == nil {
		t.Error("expected client connection to be closed")
	}
	if err := server.Sink(testFix()); err != nil {
		t.Errorf("expected sink on closed server to succeed, got %s", err)
	}
}

func TestSplitCommands(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"semicolon terminated", "?VERSION;?POLL;", []string{"?VERSION", "?POLL"}},
		{"newline terminated", "?VERSION\r\n?POLL\n", []string{"?VERSION", "?POLL"}},
		{"unterminated json argument", `?WATCH={"enable":true}`, []string{`?WATCH={"enable":true}`}},
		{"json argument with terminator", `?WATCH={"enable":true};?POLL;`, []string{`?WATCH={"enable":true}`, "?POLL"}},
		{"nested braces", `?WATCH={"a":{"b":1}}?POLL;`, []string{`?WATCH={"a":{"b":1}}`, "?POLL"}},
		{"trailing request at eof", "?POLL", []string{"?POLL"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			scanner := bufio.NewScanner(strings.NewReader(tc.input))
			scanner.Split(splitCommands)
			var got []string
			for scanner.Scan() {
				got = append(got, scanner.Text())
			}
			if err := scanner.Err(); err != nil {
				t.Fatalf("failed to scan: %s", err)
			}
			if fmt.Sprint(got) != fmt.Sprint(tc.want) {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func testServer(t *testing.T) *Server {
	t.Helper()
	server, err := Listen("127.0.0.1:0", logger.Discard())
	if err != nil {
		t.Fatalf("failed to listen: %s", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = server.Close()
	})
	return server
}

func testConn(t *testing.T, server *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial gpsd server: %s", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	_ = conn.SetDeadline(time.Now().Add(time.Second * 10))
	return conn, bufio.NewReader(conn)
}

func send(t *testing.T, conn net.Conn, request string) {
	t.Helper()
	if _, err := conn.Write([]byte(request)); err != nil {
		t.Fatalf("failed to send request %q: %s", request, err)
	}
}

func readReport(t *testing.T, reader *bufio.Reader) map[string]any {
	t.Helper()
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read report: %s", err)
	}
	report := make(map[string]any)
	if err = json.Unmarshal([]byte(line), &report); err != nil {
		t.Fatalf("failed to decode report %q: %s", line, err)
	}
	return report
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second * 5)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond * 10)
	}
}

func testFix() fixbus.Fix {
	return fixbus.Fix{
		Position: fixbus.Position{
			Lon:     116.397128,
			Lat:     39.916527,
			Alt:     43.5,
			Bearing: 45,
			Speed:   1.5,
		},
		Provider:               fixbus.ProviderPrecise,
		AccuracyMeters:         1,
		VerticalAccuracyMeters: 0.1,
		SpeedAccuracy:          0.01,
		BearingAccuracy:        0.1,
		Satellites:             12,
		Time:                   time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}
}
