package web

import (
	"bufio"
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/SwerveGo/internal/hw/gyro"
	"github.com/cjeanneret/SwerveGo/internal/logic/swerve"
	"github.com/cjeanneret/SwerveGo/internal/logic/tick"
	"github.com/cjeanneret/SwerveGo/internal/units"
)

var testInfo = DrivetrainInfo{
	TrackWidthM:           0.5,
	WheelBaseM:            0.5,
	MaxVelocityMps:        4,
	MaxAngularVelocityRps: 2,
	DeadzoneVelocityMps:   0.1,
	DeadzoneAngularRps:    0.1,
	ControlPeriodMs:       20,
	DriverCentric:         true,
}

// ---------- ValidateDrive ----------

func TestValidateDrive_Valid(t *testing.T) {
	cases := []struct {
		name string
		req  DriveRequest
	}{
		{"zero", DriveRequest{}},
		{"max_absolute", DriveRequest{VX: 4, VY: -4, Omega: 2}},
		{"normalized_bounds", DriveRequest{VX: 1, VY: -1, Omega: 1, Normalized: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NoError(t, ValidateDrive(tc.req, testInfo))
		})
	}
}

func TestValidateDrive_Rejected(t *testing.T) {
	cases := []struct {
		name string
		req  DriveRequest
	}{
		{"vx_NaN", DriveRequest{VX: math.NaN()}},
		{"omega_Inf", DriveRequest{Omega: math.Inf(1)}},
		{"vy_too_fast", DriveRequest{VY: 4.01}},
		{"omega_too_fast", DriveRequest{Omega: -2.5}},
		{"normalized_above_one", DriveRequest{VX: 1.5, Normalized: true}},
		{"normalized_NaN", DriveRequest{Omega: math.NaN(), Normalized: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, ValidateDrive(tc.req, testInfo))
		})
	}
}

// ---------- Handler helpers ----------

type fixture struct {
	h       *Handlers
	mailbox *tick.Mailbox
	gyro    *gyro.Static
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	f := &fixture{
		mailbox: tick.NewMailbox(clock.NewMock(), 0),
		gyro:    gyro.NewStatic(units.Radians(1)),
	}
	f.h = NewHandlers(Deps{
		Broadcaster: NewStatusBroadcaster(),
		Telemetry:   NewTelemetryHub(),
		Commands:    f.mailbox,
		Gyro:        f.gyro,
		Info:        testInfo,
	}, staticFS)
	return f
}

func postDrive(h *Handlers, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/drive", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleDrive(w, req)
	return w
}

// ---------- HandleDrive ----------

func TestHandleDrive_Absolute(t *testing.T) {
	f := newFixture(t)

	w := postDrive(f.h, `{"vx": 1.5, "vy": -0.5, "omega": 0.25}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		Status string `json:"status"`
		Seq    uint64 `json:"seq"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, uint64(1), resp.Seq)

	cmd, ok := f.mailbox.Latest()
	require.True(t, ok)
	assert.Equal(t, units.Speed(1.5), cmd.Velocity.VX)
	assert.Equal(t, units.Speed(-0.5), cmd.Velocity.VY)
	assert.Equal(t, units.AngularSpeed(0.25), cmd.Velocity.Omega)
	assert.True(t, cmd.DriverCentric, "default frame comes from config")
}

func TestHandleDrive_NormalizedAndFrameOverride(t *testing.T) {
	f := newFixture(t)

	w := postDrive(f.h, `{"vx": 0.5, "vy": 0, "omega": -1, "normalized": true, "driver_centric": false}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	cmd, ok := f.mailbox.Latest()
	require.True(t, ok)
	assert.InDelta(t, 2, cmd.Velocity.VX.MetersPerSecond(), 1e-12)
	assert.InDelta(t, -2, cmd.Velocity.Omega.RadiansPerSecond(), 1e-12)
	assert.False(t, cmd.DriverCentric)
}

func TestHandleDrive_Rejected(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"invalid_json", "not json"},
		{"too_fast", `{"vx": 10}`},
		{"normalized_out_of_range", `{"omega": 2, "normalized": true}`},
		{"oversized", `{"vx": 1, "pad": "` + strings.Repeat("x", 2*MaxRequestBytes) + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			w := postDrive(f.h, tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			_, ok := f.mailbox.Latest()
			assert.False(t, ok, "nothing must be posted")
		})
	}
}

func TestHandleDrive_GetMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/drive", nil)
	w := httptest.NewRecorder()

	f.h.HandleDrive(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleDrive_NoDrivetrain(t *testing.T) {
	h := NewHandlers(Deps{Info: testInfo}, fstest.MapFS{})
	w := postDrive(h, `{"vx": 1}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ---------- HandleStop ----------

func TestHandleStop(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusAccepted, postDrive(f.h, `{"vx": 1}`).Code)

	w := httptest.NewRecorder()
	f.h.HandleStop(w, httptest.NewRequest(http.MethodPost, "/stop", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	_, ok := f.mailbox.Latest()
	assert.False(t, ok, "stop drops the pending command")
}

// ---------- HandleModules ----------

func TestHandleModules(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	f.h.HandleModules(w, httptest.NewRequest(http.MethodGet, "/modules", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	f.h.Telemetry.Publish(tick.Snapshot{
		Tick:    7,
		Active:  true,
		Modules: []swerve.Reading{{Name: "left_rear", Speed: 1, Angle: 0.5, Reversed: true}},
	})

	w = httptest.NewRecorder()
	f.h.HandleModules(w, httptest.NewRequest(http.MethodGet, "/modules", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var s tick.Snapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&s))
	assert.Equal(t, uint64(7), s.Tick)
	require.Len(t, s.Modules, 1)
	assert.Equal(t, "left_rear", s.Modules[0].Name)
	assert.True(t, s.Modules[0].Reversed)
}

// ---------- HandleGyroReset ----------

func TestHandleGyroReset(t *testing.T) {
	f := newFixture(t)
	w := httptest.NewRecorder()

	f.h.HandleGyroReset(w, httptest.NewRequest(http.MethodPost, "/gyro/reset", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, units.Angle(0), f.gyro.Heading())
}

func TestHandleGyroReset_NoGyro(t *testing.T) {
	h := NewHandlers(Deps{Info: testInfo}, fstest.MapFS{})
	w := httptest.NewRecorder()

	h.HandleGyroReset(w, httptest.NewRequest(http.MethodPost, "/gyro/reset", nil))

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

// ---------- HandleConfig ----------

func TestHandleConfig(t *testing.T) {
	f := newFixture(t)
	w := httptest.NewRecorder()

	f.h.HandleConfig(w, httptest.NewRequest(http.MethodGet, "/config", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var info DrivetrainInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&info))
	assert.Equal(t, 4.0, info.MaxVelocityMps)
	assert.Equal(t, 20, info.ControlPeriodMs)
	assert.True(t, info.DriverCentric)
	assert.True(t, info.GyroResettable)
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	f := newFixture(t)
	w := httptest.NewRecorder()

	f.h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "<html>")
}

func TestServeIndex_Missing(t *testing.T) {
	h := NewHandlers(Deps{}, fstest.MapFS{})
	w := httptest.NewRecorder()

	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ---------- Server routes ----------

func newTestServer(t *testing.T, d Deps) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewServer("", d).Mux())
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_Routes(t *testing.T) {
	mb := tick.NewMailbox(clock.NewMock(), 0)
	ts := newTestServer(t, Deps{Commands: mb, Info: testInfo})

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "embedded index")

	resp, err = http.Get(ts.URL + "/drive")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/drive", "application/json", bytes.NewReader([]byte(`{"vy": 1}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	_, ok := mb.Latest()
	assert.True(t, ok)

	resp, err = http.Post(ts.URL+"/gyro/reset", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

// ---------- HandleStatusStream ----------

func TestHandleStatusStream(t *testing.T) {
	b := NewStatusBroadcaster()
	ts := newTestServer(t, Deps{Broadcaster: b, Info: testInfo})

	resp, err := http.Get(ts.URL + "/status/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)
	_, err = r.ReadString('\n') // blank separator
	require.NoError(t, err)

	b.Broadcast("info", "module flipped")

	line, err = r.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "), line)
	var evt StatusEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &evt))
	assert.Equal(t, "module flipped", evt.Msg)
}

// ---------- HandleTelemetrySocket ----------

func dialTelemetry(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/telemetry/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) telemetryMessage {
	t.Helper()
	var m telemetryMessage
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestTelemetrySocket_HelloAndSnapshots(t *testing.T) {
	hub := NewTelemetryHub()
	ts := newTestServer(t, Deps{Telemetry: hub, Info: testInfo})
	conn := dialTelemetry(t, ts)

	hello := readFrame(t, conn)
	assert.Equal(t, "hello", hello.Type)
	assert.NotEmpty(t, hello.ClientID)
	assert.Equal(t, 1, hub.Clients())

	hub.Publish(tick.Snapshot{Tick: 42, Modules: []swerve.Reading{{Name: "right_front"}}})

	m := readFrame(t, conn)
	require.Equal(t, "snapshot", m.Type)
	require.NotNil(t, m.Snapshot)
	assert.Equal(t, uint64(42), m.Snapshot.Tick)
	assert.Equal(t, "right_front", m.Snapshot.Modules[0].Name)
}

func TestTelemetrySocket_DriveFrames(t *testing.T) {
	mb := tick.NewMailbox(clock.NewMock(), 0)
	ts := newTestServer(t, Deps{Commands: mb, Info: testInfo})
	conn := dialTelemetry(t, ts)
	readFrame(t, conn) // hello

	require.NoError(t, conn.WriteJSON(DriveRequest{VX: 0.5, Normalized: true}))
	require.Eventually(t, func() bool {
		cmd, ok := mb.Latest()
		return ok && cmd.Velocity.VX == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(DriveRequest{VX: 99}))
	m := readFrame(t, conn)
	assert.Equal(t, "error", m.Type)
	assert.NotEmpty(t, m.Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	m = readFrame(t, conn)
	assert.Equal(t, "error", m.Type)
	assert.Equal(t, "invalid JSON", m.Error)
}

func TestTelemetrySocket_UnsubscribesOnClose(t *testing.T) {
	hub := NewTelemetryHub()
	ts := newTestServer(t, Deps{Telemetry: hub, Info: testInfo})
	conn := dialTelemetry(t, ts)
	readFrame(t, conn)

	conn.Close()

	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTelemetryHub_Latest(t *testing.T) {
	hub := NewTelemetryHub()
	_, ok := hub.Latest()
	assert.False(t, ok)

	hub.Publish(tick.Snapshot{Tick: 1})
	hub.Publish(tick.Snapshot{Tick: 2})

	s, ok := hub.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(2), s.Tick)
}
