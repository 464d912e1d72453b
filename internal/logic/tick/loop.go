// Package tick runs the drivetrain at a fixed control period.
package tick

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cjeanneret/SwerveGo/internal/debug"
	"github.com/cjeanneret/SwerveGo/internal/logic/geometry"
	"github.com/cjeanneret/SwerveGo/internal/logic/swerve"
)

// Drivetrain is what the loop drives; motion.Controller implements it.
type Drivetrain interface {
	Set(v geometry.BodyVelocity, driverCentric bool) error
	Hold() error
	Stop() error
	Readings() []swerve.Reading
}

// Updater is advanced once per tick before commands are applied, e.g.
// simulated motors and gyros.
type Updater interface {
	Update(dt time.Duration)
}

// Snapshot is what observers see after a tick.
type Snapshot struct {
	Tick    uint64           `json:"tick"`
	Time    time.Time        `json:"time"`
	Active  bool             `json:"active"` // a fresh command was applied
	Command Command          `json:"command"`
	Modules []swerve.Reading `json:"modules"`
}

// Observer receives snapshots on the loop goroutine and must not block.
type Observer func(Snapshot)

// Config parameterizes a Loop.
type Config struct {
	Period       time.Duration
	PublishEvery int         // snapshot every N ticks, 1 if <= 0
	Clock        clock.Clock // real clock if nil
}

// Loop owns the drivetrain: every call into it happens on the goroutine
// running Run.
type Loop struct {
	drive   Drivetrain
	mailbox *Mailbox
	cfg     Config

	updaters  []Updater
	observers []Observer

	stopOnce sync.Once
	active   bool
}

// NewLoop creates a loop applying commands from mb to d.
func NewLoop(d Drivetrain, mb *Mailbox, cfg Config) *Loop {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.PublishEvery <= 0 {
		cfg.PublishEvery = 1
	}
	return &Loop{drive: d, mailbox: mb, cfg: cfg}
}

// AddUpdater registers u. Call before Run.
func (l *Loop) AddUpdater(u Updater) {
	l.updaters = append(l.updaters, u)
}

// AddObserver registers o. Call before Run.
func (l *Loop) AddObserver(o Observer) {
	l.observers = append(l.observers, o)
}

// Run ticks until ctx is done, then stops the drivetrain once and returns
// the error of that stop. Errors during ticks are logged, not returned, so
// one faulty module does not halt the others.
func (l *Loop) Run(ctx context.Context) error {
	if l.cfg.Period <= 0 {
		return fmt.Errorf("control period must be > 0, got %v", l.cfg.Period)
	}
	debug.Info("Control loop: period=%v publish_every=%d", l.cfg.Period, l.cfg.PublishEvery)

	ticker := l.cfg.Clock.Ticker(l.cfg.Period)
	defer ticker.Stop()

	var (
		n    uint64
		last time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return l.stop()
		case now := <-ticker.C:
			dt := l.cfg.Period
			if !last.IsZero() {
				dt = now.Sub(last)
			}
			last = now
			n++
			l.step(n, now, dt)
		}
	}
}

func (l *Loop) step(n uint64, now time.Time, dt time.Duration) {
	for _, u := range l.updaters {
		u.Update(dt)
	}

	var (
		cmd   Command
		fresh bool
		err   error
	)
	switch {
	case l.mailbox.takeStop():
		debug.Live("Stop requested")
		err = l.drive.Stop()
	default:
		cmd, fresh = l.mailbox.Latest()
		if fresh {
			err = l.drive.Set(cmd.Velocity, cmd.DriverCentric)
		} else {
			if l.active {
				debug.Live("No fresh command, holding")
			}
			err = l.drive.Hold()
		}
	}
	l.active = fresh
	if err != nil {
		debug.Error(fmt.Errorf("tick %d: %w", n, err))
	}

	if n%uint64(l.cfg.PublishEvery) != 0 || len(l.observers) == 0 {
		return
	}
	snap := Snapshot{
		Tick:    n,
		Time:    now,
		Active:  fresh,
		Command: cmd,
		Modules: l.drive.Readings(),
	}
	for _, o := range l.observers {
		o(snap)
	}
}

func (l *Loop) stop() error {
	var err error
	l.stopOnce.Do(func() {
		debug.Info("Control loop: stopping drivetrain")
		if e := l.drive.Stop(); e != nil {
			err = fmt.Errorf("stop drivetrain: %w", e)
		}
	})
	return err
}
