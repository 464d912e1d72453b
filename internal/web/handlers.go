package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/SwerveGo/internal/debug"
	"github.com/cjeanneret/SwerveGo/internal/hw/gyro"
	"github.com/cjeanneret/SwerveGo/internal/logic/geometry"
	"github.com/cjeanneret/SwerveGo/internal/logic/motion"
	"github.com/cjeanneret/SwerveGo/internal/logic/tick"
	"github.com/cjeanneret/SwerveGo/internal/units"
)

// MaxRequestBytes bounds drive request bodies and websocket frames.
const MaxRequestBytes = 4 << 10

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// CommandSink receives validated drive commands; tick.Mailbox implements it.
type CommandSink interface {
	Post(cmd tick.Command) uint64
	RequestStop()
}

// DrivetrainInfo describes the drivetrain to clients (GET /config).
type DrivetrainInfo struct {
	TrackWidthM           float64 `json:"track_width_m"`
	WheelBaseM            float64 `json:"wheel_base_m"`
	MaxVelocityMps        float64 `json:"max_velocity_mps"`
	MaxAngularVelocityRps float64 `json:"max_angular_velocity_rps"`
	DeadzoneVelocityMps   float64 `json:"deadzone_velocity_mps"`
	DeadzoneAngularRps    float64 `json:"deadzone_angular_rps"`
	ControlPeriodMs       int     `json:"control_period_ms"`
	DriverCentric         bool    `json:"driver_centric"` // default frame
	Simulated             bool    `json:"simulated"`
	GyroResettable        bool    `json:"gyro_resettable"`
}

func (i DrivetrainInfo) limits() motion.Limits {
	return motion.Limits{
		DeadzoneVelocity:   units.Speed(i.DeadzoneVelocityMps),
		DeadzoneAngular:    units.AngularSpeed(i.DeadzoneAngularRps),
		MaxVelocity:        units.Speed(i.MaxVelocityMps),
		MaxAngularVelocity: units.AngularSpeed(i.MaxAngularVelocityRps),
	}
}

// DriveRequest is the body of POST /drive and of websocket frames sent by
// clients. With Normalized set, VX, VY and Omega are fractions in [-1, 1]
// of the maximum velocities; otherwise they are m/s and rad/s.
type DriveRequest struct {
	VX            float64 `json:"vx"`
	VY            float64 `json:"vy"`
	Omega         float64 `json:"omega"`
	Normalized    bool    `json:"normalized"`
	DriverCentric *bool   `json:"driver_centric,omitempty"`
}

// ValidateDrive checks req against the drivetrain limits.
func ValidateDrive(req DriveRequest, info DrivetrainInfo) error {
	for name, v := range map[string]float64{"vx": req.VX, "vy": req.VY, "omega": req.Omega} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite", name)
		}
	}
	if req.Normalized {
		if math.Abs(req.VX) > 1 || math.Abs(req.VY) > 1 || math.Abs(req.Omega) > 1 {
			return errors.New("normalized components must be between -1 and 1")
		}
		return nil
	}
	if math.Abs(req.VX) > info.MaxVelocityMps || math.Abs(req.VY) > info.MaxVelocityMps {
		return fmt.Errorf("vx and vy must be within ±%.3g m/s", info.MaxVelocityMps)
	}
	if math.Abs(req.Omega) > info.MaxAngularVelocityRps {
		return fmt.Errorf("omega must be within ±%.3g rad/s", info.MaxAngularVelocityRps)
	}
	return nil
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Telemetry   *TelemetryHub
	Commands    CommandSink
	Gyro        gyro.Resetter // nil if the heading source cannot be zeroed
	Info        DrivetrainInfo
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If d.Commands is nil, drive and stop requests return 503 Service Unavailable.
func NewHandlers(d Deps, staticFS fs.FS) *Handlers {
	if d.Broadcaster == nil {
		d.Broadcaster = NewStatusBroadcaster()
	}
	if d.Telemetry == nil {
		d.Telemetry = NewTelemetryHub()
	}
	info := d.Info
	info.GyroResettable = d.Gyro != nil
	return &Handlers{
		Broadcaster: d.Broadcaster,
		Telemetry:   d.Telemetry,
		Commands:    d.Commands,
		Gyro:        d.Gyro,
		Info:        info,
		staticFS:    staticFS,
	}
}

// command converts a validated request into a mailbox command.
func (h *Handlers) command(req DriveRequest) (tick.Command, error) {
	if err := ValidateDrive(req, h.Info); err != nil {
		return tick.Command{}, err
	}
	cmd := tick.Command{DriverCentric: h.Info.DriverCentric}
	if req.DriverCentric != nil {
		cmd.DriverCentric = *req.DriverCentric
	}
	if req.Normalized {
		cmd.Velocity = motion.Normalized(h.Info.limits(), req.VX, req.VY, req.Omega)
	} else {
		cmd.Velocity = geometry.BodyVelocity{
			VX:    units.Speed(req.VX),
			VY:    units.Speed(req.VY),
			Omega: units.AngularSpeed(req.Omega),
		}
	}
	return cmd, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HandleConfig returns the drivetrain description as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Info)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleDrive handles POST /drive. The command is queued for the next
// control tick and goes stale if not refreshed.
func (h *Handlers) HandleDrive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req DriveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	cmd, err := h.command(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.Commands == nil {
		http.Error(w, "drivetrain not configured", http.StatusServiceUnavailable)
		return
	}
	seq := h.Commands.Post(cmd)
	debug.Command(frameName(cmd.DriverCentric), cmd.Velocity.VX.MetersPerSecond(), cmd.Velocity.VY.MetersPerSecond(), cmd.Velocity.Omega.RadiansPerSecond())

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "accepted", "seq": seq})
}

// HandleStop handles POST /stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if h.Commands == nil {
		http.Error(w, "drivetrain not configured", http.StatusServiceUnavailable)
		return
	}
	h.Commands.RequestStop()
	h.Broadcaster.Broadcast("info", "Stop requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// HandleModules returns the latest snapshot, or 204 before the first tick.
func (h *Handlers) HandleModules(w http.ResponseWriter, r *http.Request) {
	s, ok := h.Telemetry.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleGyroReset zeroes the heading used for driver-centric commands.
func (h *Handlers) HandleGyroReset(w http.ResponseWriter, r *http.Request) {
	if h.Gyro == nil {
		http.Error(w, "gyro cannot be reset", http.StatusNotImplemented)
		return
	}
	h.Gyro.Reset()
	debug.Live("Gyro heading reset")
	h.Broadcaster.Broadcast("info", "Gyro heading reset")
	w.WriteHeader(http.StatusNoContent)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + string(msg) + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// HandleTelemetrySocket handles GET /telemetry/ws. The server sends a hello
// frame carrying the client ID, then one frame per published snapshot.
// Clients may send DriveRequest frames; invalid ones get an error frame.
func (h *Handlers) HandleTelemetrySocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Live("telemetry upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(MaxRequestBytes)

	id, ch, unsub := h.Telemetry.Subscribe()
	defer unsub()
	debug.Live("Telemetry client %s connected", id)
	defer debug.Live("Telemetry client %s disconnected", id)

	replies := make(chan telemetryMessage, 8)
	done := make(chan struct{})
	go h.readDriveFrames(conn, replies, done)

	if err := sendFrame(conn, telemetryMessage{Type: "hello", ClientID: id.String()}); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case reply := <-replies:
			if err := sendFrame(conn, reply); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readDriveFrames posts every valid frame read from conn until the
// connection fails, then closes done. It never writes to conn.
func (h *Handlers) readDriveFrames(conn *websocket.Conn, replies chan<- telemetryMessage, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req DriveRequest
		if err := json.Unmarshal(data, &req); err != nil {
			reply(replies, "invalid JSON")
			continue
		}
		cmd, err := h.command(req)
		if err != nil {
			reply(replies, err.Error())
			continue
		}
		if h.Commands == nil {
			reply(replies, "drivetrain not configured")
			continue
		}
		h.Commands.Post(cmd)
	}
}

func reply(replies chan<- telemetryMessage, msg string) {
	select {
	case replies <- telemetryMessage{Type: "error", Error: msg}:
	default:
	}
}

func sendFrame(conn *websocket.Conn, m telemetryMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(m)
}

func frameName(driverCentric bool) string {
	if driverCentric {
		return "driver"
	}
	return "robot"
}
