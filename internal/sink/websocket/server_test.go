// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wneessen/locsim/internal/engine"
	"github.com/wneessen/locsim/internal/fixbus"
	"github.com/wneessen/locsim/internal/geo"
	"github.com/wneessen/locsim/internal/logger"
)

type call struct {
	name   string
	args   []float64
	frame  geo.Frame
	toggle bool
}

type fakeController struct {
	mu     sync.Mutex
	calls  []call
	fixes  chan fixbus.Fix
	subErr error
	state  engine.State
}

func newFakeController() *fakeController {
	return &fakeController{fixes: make(chan fixbus.Fix, 8), state: engine.StateRunning}
}

func (f *fakeController) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeController) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeController) SetPosition(lon, lat, alt float64) {
	f.record(call{name: "position", args: []float64{lon, lat, alt}})
}

func (f *fakeController) LoadRoutePoints(coords []float64, frame geo.Frame, loop bool, speed float64) {
	f.record(call{name: "route", args: append(append([]float64(nil), coords...), speed), frame: frame, toggle: loop})
}

func (f *fakeController) ApplyJoystick(auto bool, angle, radius float64) {
	f.record(call{name: "joystick", args: []float64{angle, radius}, toggle: auto})
}

func (f *fakeController) Nudge() {
	f.record(call{name: "nudge"})
}

func (f *fakeController) SubscribeChan(string, fixbus.Provider, int) (<-chan fixbus.Fix, func(), error) {
	if f.subErr != nil {
		return nil, nil, f.subErr
	}
	var once sync.Once
	return f.fixes, func() { once.Do(func() { close(f.fixes) }) }, nil
}

func (f *fakeController) Status() engine.Status {
	return engine.Status{State: f.state, Session: "test-session"}
}

func TestNew(t *testing.T) {
	t.Run("new without controller fails", func(t *testing.T) {
		if _, err := New(nil, logger.Discard()); !errors.Is(err, ErrNilController) {
			t.Errorf("expected error to be %s, got %s", ErrNilController, err)
		}
	})
	t.Run("new without logger fails", func(t *testing.T) {
		if _, err := New(newFakeController(), nil); !errors.Is(err, fixbus.ErrNilLogger) {
			t.Errorf("expected error to be %s, got %s", fixbus.ErrNilLogger, err)
		}
	})
}

func TestServer_commands(t *testing.T) {
	controller := newFakeController()
	conn := testDial(t, testServer(t, controller), "")

	tests := []struct {
		name    string
		request string
		want    message
	}{
		{"wgs84 position", `{"type":"position","lon":116.4,"lat":39.9,"alt":50}`, message{Type: messageAck, Command: "position"}},
		{"bd09 position", `{"type":"position","lon":116.404,"lat":39.915,"frame":"bd09"}`, message{Type: messageAck, Command: "position"}},
		{"position without lat", `{"type":"position","lon":116.4}`, message{Type: messageError}},
		{"position out of range", `{"type":"position","lon":200,"lat":39.9}`, message{Type: messageError}},
		{"position with unknown frame", `{"type":"position","lon":1,"lat":1,"frame":"utm"}`, message{Type: messageError}},
		{"route", `{"type":"route","points":[116.0,39.9,116.1,39.9],"frame":"gcj02","loop":true,"speed":5}`, message{Type: messageAck, Command: "route"}},
		{"joystick", `{"type":"joystick","auto":true,"angle":90,"radius":0.5}`, message{Type: messageAck, Command: "joystick"}},
		{"nudge", `{"type":"nudge"}`, message{Type: messageAck, Command: "nudge"}},
		{"status", `{"type":"status"}`, message{Type: messageStatus, Command: "status"}},
		{"unknown type", `{"type":"teleport"}`, message{Type: messageError}},
		{"malformed json", `{"type":`, message{Type: messageError}},
		{"wrong field type", `{"type":"joystick","angle":"north"}`, message{Type: messageError}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tc.request)); err != nil {
				t.Fatalf("failed to send request: %s", err)
			}
			got := readMessage(t, conn)
			if got.Type != tc.want.Type || got.Command != tc.want.Command {
				t.Errorf("expected %s/%s, got %s/%s (%s)", tc.want.Type, tc.want.Command, got.Type,
					got.Command, got.Error)
			}
			if tc.want.Type == messageStatus && (got.Status == nil || got.Status.Session != "test-session") {
				t.Errorf("expected status of the controller, got %+v", got.Status)
			}
		})
	}

	calls := controller.recorded()
	if len(calls) != 5 {
		t.Fatalf("expected 5 controller calls, got %d: %+v", len(calls), calls)
	}
	if calls[0].name != "position" || calls[0].args[0] != 116.4 || calls[0].args[2] != 50 {
		t.Errorf("unexpected position call: %+v", calls[0])
	}
	want := geo.BD09ToWGS84(geo.BD09{Lon: 116.404, Lat: 39.915})
	if math.Abs(calls[1].args[0]-want.Lon) > 1e-9 || math.Abs(calls[1].args[1]-want.Lat) > 1e-9 {
		t.Errorf("expected bd09 position to be converted to %s, got %v", want, calls[1].args)
	}
	if calls[2].name != "route" || calls[2].frame != geo.FrameGCJ02 || !calls[2].toggle || calls[2].args[4] != 5 {
		t.Errorf("unexpected route call: %+v", calls[2])
	}
	if calls[3].name != "joystick" || !calls[3].toggle || calls[3].args[0] != 90 || calls[3].args[1] != 0.5 {
		t.Errorf("unexpected joystick call: %+v", calls[3])
	}
	if calls[4].name != "nudge" {
		t.Errorf("unexpected nudge call: %+v", calls[4])
	}
}

func TestServer_fixStream(t *testing.T) {
	controller := newFakeController()
	conn := testDial(t, testServer(t, controller), "")

	controller.fixes <- fixbus.Fix{Position: fixbus.Position{Lon: 116.4, Lat: 39.9}, Provider: fixbus.ProviderPrecise}
	got := readMessage(t, conn)
	if got.Type != messageFix || got.Fix == nil {
		t.Fatalf("expected fix message, got %+v", got)
	}
	if got.Fix.Lon != 116.4 || got.Fix.Lat != 39.9 {
		t.Errorf("expected fix at 116.4,39.9, got %f,%f", got.Fix.Lon, got.Fix.Lat)
	}
}

func TestServer_subscribeFails(t *testing.T) {
	controller := newFakeController()
	controller.subErr = engine.ErrEngineStopped
	conn := testDial(t, testServer(t, controller), "")

	got := readMessage(t, conn)
	if got.Type != messageError || got.Error != engine.ErrEngineStopped.Error() {
		t.Errorf("expected engine stopped error, got %+v", got)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed")
	}
}

func TestServer_health(t *testing.T) {
	tests := []struct {
		name  string
		state engine.State
		code  int
	}{
		{"running", engine.StateRunning, http.StatusOK},
		{"idle", engine.StateIdle, http.StatusServiceUnavailable},
		{"stopped", engine.StateStopped, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			controller := newFakeController()
			controller.state = tc.state
			server := testServer(t, controller)

			resp, err := http.Get(server.URL + "/healthz")
			if err != nil {
				t.Fatalf("failed to request health: %s", err)
			}
			defer func() {
				_ = resp.Body.Close()
			}()
			if resp.StatusCode != tc.code {
				t.Errorf("expected status code %d, got %d", tc.code, resp.StatusCode)
			}
			var health map[string]any
			if err = json.NewDecoder(resp.Body).Decode(&health); err != nil {
				t.Fatalf("failed to decode health response: %s", err)
			}
			if health["state"] != tc.state.String() {
				t.Errorf("expected state %s, got %v", tc.state, health["state"])
			}
			if health["session"] != "test-session" {
				t.Errorf("expected session test-session, got %v", health["session"])
			}
		})
	}
}

func TestServer_metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "locsim_ticks_total 1\n")
	})
	t.Run("metrics handler is mounted", func(t *testing.T) {
		srv, err := New(newFakeController(), logger.Discard(), WithMetricsHandler(metrics))
		if err != nil {
			t.Fatalf("failed to create server: %s", err)
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if !strings.Contains(rec.Body.String(), "locsim_ticks_total 1") {
			t.Errorf("expected metrics output, got %q", rec.Body.String())
		}
	})
	t.Run("metrics are not served without handler", func(t *testing.T) {
		srv, err := New(newFakeController(), logger.Discard())
		if err != nil {
			t.Fatalf("failed to create server: %s", err)
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status code %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestWithAllowedOrigins(t *testing.T) {
	srv, err := New(newFakeController(), logger.Discard(), WithAllowedOrigins("https://map.example.com"))
	if err != nil {
		t.Fatalf("failed to create server: %s", err)
	}
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://map.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tc := range tests {
		t.Run(tc.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if got := srv.upgrader.CheckOrigin(req); got != tc.want {
				t.Errorf("expected origin check to be %t, got %t", tc.want, got)
			}
		})
	}
}

func TestServer_engine(t *testing.T) {
	eng, err := engine.New(engine.Config{TickInterval: time.Millisecond * 20}, logger.Discard())
	if err != nil {
		t.Fatalf("failed to create engine: %s", err)
	}
	if err = eng.Start(context.Background()); err != nil {
		t.Fatalf("failed to start engine: %s", err)
	}
	t.Cleanup(eng.Stop)

	conn := testDial(t, testServer(t, eng), "?provider=coarse")
	if err = conn.WriteJSON(map[string]any{"type": "position", "lon": 13.405, "lat": 52.52}); err != nil {
		t.Fatalf("failed to send position: %s", err)
	}

	deadline := time.Now().Add(time.Second * 5)
	acked := false
	for time.Now().Before(deadline) {
		msg := readMessage(t, conn)
		switch msg.Type {
		case messageAck:
			acked = true
		case messageFix:
			if msg.Fix.Provider != fixbus.ProviderCoarse {
				t.Fatalf("expected coarse fixes, got %s", msg.Fix.Provider)
			}
			if acked && msg.Fix.Lon == 13.405 && msg.Fix.Lat == 52.52 {
				eng.Stop()
				// the stream ends once the engine releases its sinks
				for {
					if _, _, err = conn.ReadMessage(); err != nil {
						return
					}
				}
			}
		}
	}
	t.Fatal("no fix at the new position received")
}

func TestServer_ListenAndServe(t *testing.T) {
	srv, err := New(newFakeController(), logger.Discard())
	if err != nil {
		t.Fatalf("failed to create server: %s", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %s", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- srv.Serve(ctx, listener) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("failed to request health: %s", err)
	}
	_ = resp.Body.Close()

	cancel()
	select {
	case err = <-errs:
		if err != nil {
			t.Errorf("expected serve to return without error, got %s", err)
		}
	case <-time.After(time.Second * 10):
		t.Fatal("server did not shut down")
	}

	if err = srv.ListenAndServe(context.Background(), "127.0.0.1:99999"); err == nil {
		t.Error("expected error for invalid address, but didn't get one")
	}
}

func testServer(t *testing.T, controller Controller) *httptest.Server {
	t.Helper()
	srv, err := New(controller, logger.Discard())
	if err != nil {
		t.Fatalf("failed to create server: %s", err)
	}
	server := httptest.NewServer(srv.Handler())
	t.Cleanup(server.Close)
	return server
}

func testDial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %s", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	_ = conn.SetReadDeadline(time.Now().Add(time.Second * 10))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read message: %s", err)
	}
	return msg
}
