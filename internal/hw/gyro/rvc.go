package gyro

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/cjeanneret/SwerveGo/internal/debug"
	"github.com/cjeanneret/SwerveGo/internal/logic/geometry"
	"github.com/cjeanneret/SwerveGo/internal/units"
)

// BNO08x UART-RVC framing.
const (
	RVCBaud        = 115200
	RVCPacketLen   = 19
	rvcHeader      = 0xAA
	rvcAngleUnit   = 0.01       // degrees per LSB
	rvcAccelUnit   = 0.00980665 // m/s² per LSB (1 mg)
	rvcReadTimeout = 100 * time.Millisecond
	rvcStatsEvery  = 100 // packets between stats lines, 1 s at the IMU's 100 Hz
)

// ErrRVCChecksum is returned for packets whose checksum does not match.
var ErrRVCChecksum = errors.New("rvc: checksum mismatch")

// RVCFrame is one decoded UART-RVC report.
type RVCFrame struct {
	Index            uint8
	Yaw, Pitch, Roll units.Angle
	AccelX           float64 // m/s²
	AccelY           float64
	AccelZ           float64
}

// ParseRVCFrame decodes a full packet, header included.
func ParseRVCFrame(pkt []byte) (RVCFrame, error) {
	if len(pkt) != RVCPacketLen {
		return RVCFrame{}, fmt.Errorf("rvc: packet is %d bytes, want %d", len(pkt), RVCPacketLen)
	}
	if pkt[0] != rvcHeader || pkt[1] != rvcHeader {
		return RVCFrame{}, fmt.Errorf("rvc: bad header % x", pkt[:2])
	}
	var sum byte
	for _, b := range pkt[2:18] {
		sum += b
	}
	if sum != pkt[18] {
		return RVCFrame{}, ErrRVCChecksum
	}

	field := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pkt[3+2*i:])))
	}
	return RVCFrame{
		Index:  pkt[2],
		Yaw:    units.Degrees(field(0) * rvcAngleUnit),
		Pitch:  units.Degrees(field(1) * rvcAngleUnit),
		Roll:   units.Degrees(field(2) * rvcAngleUnit),
		AccelX: field(3) * rvcAccelUnit,
		AccelY: field(4) * rvcAccelUnit,
		AccelZ: field(5) * rvcAccelUnit,
	}, nil
}

// RVC is a heading source fed by a BNO08x IMU in UART-RVC mode. Run must be
// running for the heading to update.
type RVC struct {
	r       io.Reader
	invert  bool
	eofWait bool // serial ports report a read timeout as io.EOF

	mu      sync.Mutex
	yaw     units.Angle
	zero    units.Angle
	frames  uint64
	dropped uint64
}

// NewRVC reads packets from r. With invert set the heading sign is flipped,
// for IMUs mounted upside down.
func NewRVC(r io.Reader, invert bool) *RVC {
	return &RVC{r: r, invert: invert}
}

// OpenRVC opens the serial device at 115200 baud. The caller closes the
// returned port after Run has returned.
func OpenRVC(device string, invert bool) (*RVC, io.Closer, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        RVCBaud,
		ReadTimeout: rvcReadTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open imu serial port %s: %w", device, err)
	}
	g := NewRVC(port, invert)
	g.eofWait = true
	return g, port, nil
}

// Run decodes packets until ctx is done or the reader fails. Corrupt
// packets are counted and skipped.
func (g *RVC) Run(ctx context.Context) error {
	defer g.logStats()
	br := bufio.NewReaderSize(g.r, 4*RVCPacketLen)
	pkt := make([]byte, RVCPacketLen)
	pkt[0], pkt[1] = rvcHeader, rvcHeader

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := g.sync(br); err != nil {
			if g.retry(err) {
				continue
			}
			return g.done(err)
		}
		if _, err := io.ReadFull(br, pkt[2:]); err != nil {
			if g.retry(err) {
				continue
			}
			return g.done(err)
		}
		f, err := ParseRVCFrame(pkt)
		if err != nil {
			g.mu.Lock()
			g.dropped++
			g.mu.Unlock()
			debug.Trace("imu: %v", err)
			continue
		}
		g.mu.Lock()
		g.yaw = f.Yaw
		g.frames++
		n := g.frames
		g.mu.Unlock()
		if n%rvcStatsEvery == 0 {
			g.logStats()
		}
	}
}

func (g *RVC) logStats() {
	frames, dropped := g.Stats()
	debug.Verbose("imu: %d packets decoded, %d rejected", frames, dropped)
}

// sync consumes bytes up to and including a double header.
func (g *RVC) sync(br *bufio.Reader) error {
	prev := byte(0)
	for {
		b, err := br.ReadByte()
		if err != nil {
			return err
		}
		if prev == rvcHeader && b == rvcHeader {
			return nil
		}
		prev = b
	}
}

func (g *RVC) retry(err error) bool {
	return g.eofWait && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF))
}

func (g *RVC) done(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return fmt.Errorf("imu read: %w", err)
}

// Heading returns the yaw relative to the last Reset, in (-π, π].
func (g *RVC) Heading() units.Angle {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := geometry.BoundedAngleDiff(g.zero, g.yaw)
	if g.invert {
		h = -h
	}
	return h
}

// Reset makes the current yaw the zero heading.
func (g *RVC) Reset() {
	g.mu.Lock()
	g.zero = g.yaw
	g.mu.Unlock()
}

// Stats returns the number of decoded and rejected packets.
func (g *RVC) Stats() (frames, dropped uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frames, g.dropped
}
