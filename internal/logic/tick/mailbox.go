package tick

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cjeanneret/SwerveGo/internal/logic/geometry"
)

// Command is a body velocity request from a command source.
type Command struct {
	Velocity      geometry.BodyVelocity `json:"velocity"`
	DriverCentric bool                  `json:"driver_centric"`
}

// Mailbox hands the latest command from any goroutine to the control loop.
// A command older than the timeout is stale and no longer returned.
type Mailbox struct {
	clock   clock.Clock
	timeout time.Duration

	mu     sync.Mutex
	cmd    Command
	at     time.Time
	has    bool
	stop   bool
	posted uint64
}

// NewMailbox creates an empty mailbox. A timeout <= 0 disables staleness.
func NewMailbox(clk clock.Clock, timeout time.Duration) *Mailbox {
	return &Mailbox{clock: clk, timeout: timeout}
}

// Post replaces the pending command and returns how many commands have
// been posted so far.
func (m *Mailbox) Post(cmd Command) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmd = cmd
	m.at = m.clock.Now()
	m.has = true
	m.posted++
	return m.posted
}

// RequestStop drops the pending command and asks the loop to stop the
// drivetrain on its next tick.
func (m *Mailbox) RequestStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.has = false
	m.stop = true
}

// Latest returns the pending command, and false if there is none or it
// is stale.
func (m *Mailbox) Latest() (Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has {
		return Command{}, false
	}
	if m.timeout > 0 && m.clock.Since(m.at) > m.timeout {
		return m.cmd, false
	}
	return m.cmd, true
}

func (m *Mailbox) takeStop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stop
	m.stop = false
	return s
}
