package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/SwerveGo/internal/config"
	"github.com/cjeanneret/SwerveGo/internal/debug"
	"github.com/cjeanneret/SwerveGo/internal/hw/actuator"
	"github.com/cjeanneret/SwerveGo/internal/hw/gpio"
	"github.com/cjeanneret/SwerveGo/internal/hw/gyro"
	"github.com/cjeanneret/SwerveGo/internal/hw/sim"
	"github.com/cjeanneret/SwerveGo/internal/hw/steerdrive"
	"github.com/cjeanneret/SwerveGo/internal/hw/stepper"
	"github.com/cjeanneret/SwerveGo/internal/logic/geometry"
	"github.com/cjeanneret/SwerveGo/internal/logic/motion"
	"github.com/cjeanneret/SwerveGo/internal/logic/tick"
	"github.com/cjeanneret/SwerveGo/internal/units"
	"github.com/cjeanneret/SwerveGo/internal/web"
)

// CLI override bounds.
const (
	maxVelocityLimit        = 10          // m/s
	maxAngularVelocityLimit = 8 * math.Pi // rad/s
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	simulate := flag.Bool("sim", false, "use simulated modules instead of GPIO hardware (overrides config)")
	driverCentric := flag.Bool("driver_centric", false, "interpret commands in the field frame (overrides config)")
	maxVelocity := flag.Float64("max_velocity", 0, "override full-scale translation speed in m/s")
	maxAngular := flag.Float64("max_angular_velocity", 0, "override full-scale rotation rate in rad/s")
	drive := flag.String("drive", "", "drive at vx,vy,omega (m/s, m/s, rad/s) for -duration, then stop")
	duration := flag.Duration("duration", 2*time.Second, "how long -drive runs")
	flag.Parse()

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Only non-zero values are applied; zero means "use config default".
	if err := validateCLIOverrides(*maxVelocity, *maxAngular); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	o := overrides{MaxVelocityMps: *maxVelocity, MaxAngularVelocityRps: *maxAngular}
	if set["sim"] {
		o.Simulate = simulate
	}
	if set["driver_centric"] {
		o.DriverCentric = driverCentric
	}
	if err := applyOverrides(cfg, o); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}

	var oneShot *geometry.BodyVelocity
	if *drive != "" {
		v, err := parseDrive(*drive)
		if err != nil {
			log.Fatalf("invalid -drive: %v", err)
		}
		if *duration <= 0 {
			log.Fatalf("invalid -duration: must be > 0, got %v", *duration)
		}
		oneShot = &v
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	defer debug.Sync()
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	if err := run(ctx, cfg, webPort.port(), oneShot, *duration); err != nil {
		debug.Error(err)
		log.Fatalf("swervego: %v", err)
	}
}

// run wires the drivetrain and blocks until ctx is done, the one-shot
// drive is over or a component fails.
func run(ctx context.Context, cfg *config.Config, port int, oneShot *geometry.BodyVelocity, duration time.Duration) (err error) {
	layout := geometry.NewLayout(cfg.TrackWidth(), cfg.WheelBase())
	debug.Summary("Drivetrain")
	debug.Value("Track width (m)", cfg.TrackWidth().Meters())
	debug.Value("Wheel base (m)", cfg.WheelBase().Meters())
	debug.Value("Simulate", cfg.Defaults.Simulate)
	debug.Value("Driver-centric", cfg.Defaults.DriverCentric)
	debug.Value("Gyro", cfg.Gyro.Type)

	var dt *drivetrain
	if cfg.Defaults.Simulate {
		debug.Step(1, "Building simulated modules")
		dt = buildSim(cfg)
	} else {
		debug.Step(1, "Initializing GPIO driver")
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		drv, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			return fmt.Errorf("init GPIO: %w", err)
		}
		// On failure buildHardware has already closed drv.
		dt, err = buildHardware(cfg, drv)
		if err != nil {
			return err
		}
	}
	defer func() { err = multierr.Append(err, dt.Close()) }()

	debug.Step(2, "Attaching heading source")
	if err := dt.attachGyro(cfg, layout); err != nil {
		return err
	}

	debug.Step(3, "Creating controller and control loop")
	ctrl := motion.NewController(layout, dt.modules, dt.gyro, motion.Limits{
		DeadzoneVelocity:   cfg.DeadzoneVelocity(),
		DeadzoneAngular:    cfg.DeadzoneAngular(),
		MaxVelocity:        cfg.MaxVelocity(),
		MaxAngularVelocity: cfg.MaxAngularVelocity(),
	})
	clk := clock.New()
	mailbox := tick.NewMailbox(clk, cfg.CommandTimeout())
	loop := tick.NewLoop(ctrl, mailbox, tick.Config{
		Period:       cfg.ControlPeriod(),
		PublishEvery: cfg.Defaults.TelemetryEveryTicks,
		Clock:        clk,
	})
	for _, u := range dt.updaters {
		loop.AddUpdater(u)
	}

	g, gctx := dt.start(ctx, loop)

	if port > 0 {
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		defer debug.SetOutput(os.Stdout)

		telemetry := web.NewTelemetryHub()
		loop.AddObserver(telemetry.Publish)

		srv := web.NewServer(fmt.Sprintf(":%d", port), web.Deps{
			Broadcaster: broadcaster,
			Telemetry:   telemetry,
			Commands:    mailbox,
			Gyro:        dt.resetter,
			Info:        drivetrainInfo(cfg, dt.resetter != nil),
		})
		g.Go(func() error { return srv.Run(gctx) })
	}

	if oneShot != nil {
		g.Go(func() error {
			return driveFor(gctx, mailbox, tick.Command{Velocity: *oneShot, DriverCentric: cfg.Defaults.DriverCentric}, duration, cfg.ControlPeriod())
		})
	}

	if oneShot == nil && port <= 0 {
		debug.Info("No command source: holding until interrupted")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errDriveDone) {
		return err
	}
	return nil
}

// errDriveDone ends the errgroup once a one-shot drive has completed.
var errDriveDone = errors.New("drive complete")

// driveFor keeps cmd fresh in mb for d, then requests a stop and lets the
// loop apply it before shutting everything down.
func driveFor(ctx context.Context, mb *tick.Mailbox, cmd tick.Command, d, period time.Duration) error {
	debug.Command(frameName(cmd.DriverCentric), cmd.Velocity.VX.MetersPerSecond(), cmd.Velocity.VY.MetersPerSecond(), cmd.Velocity.Omega.RadiansPerSecond())
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	refresh := time.NewTicker(period)
	defer refresh.Stop()

	mb.Post(cmd)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh.C:
			mb.Post(cmd)
		case <-deadline.C:
			mb.RequestStop()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * period):
			}
			debug.Info("Drive complete")
			return errDriveDone
		}
	}
}

func frameName(driverCentric bool) string {
	if driverCentric {
		return "driver"
	}
	return "robot"
}

// drivetrain bundles the module hardware and what has to run beside it.
type drivetrain struct {
	modules  [4]actuator.Module
	updaters []tick.Updater
	runners  []func(context.Context) error
	closers  []func() error
	gyro     gyro.Gyro
	resetter gyro.Resetter
}

func buildSim(cfg *config.Config) *drivetrain {
	dt := &drivetrain{}
	for i, mc := range cfg.Modules.ByCorner() {
		m := sim.NewModule(sim.ModuleConfig{
			AngleOffset:      mc.AngleOffset(),
			Motors:           cfg.Sim.Mode == config.SimModeMotor,
			SteerMaxVelocity: units.AngularSpeed(cfg.Sim.SteerMaxVelocityRps),
			SteerMaxAccel:    cfg.Sim.SteerMaxAccelRps2,
			DriveMaxAccel:    cfg.Sim.DriveMaxAccelMps2,
		})
		dt.modules[i] = m
		dt.updaters = append(dt.updaters, m)
	}
	debug.Value("Sim mode", cfg.Sim.Mode)
	return dt
}

func buildHardware(cfg *config.Config, drv gpio.Driver) (*drivetrain, error) {
	dt := &drivetrain{}
	dt.closers = append(dt.closers, drv.Close)
	for i, mc := range cfg.Modules.ByCorner() {
		corner := geometry.Corners[i]
		m, err := steerdrive.New(drv, steerdrive.Config{
			Name: corner.String(),
			Steer: stepper.Config{
				StepPin:       mc.Steer.StepPin,
				DirPin:        mc.Steer.DirPin,
				EnablePin:     mc.Steer.EnablePin,
				StepsPerRev:   mc.Steer.StepsPerRev,
				Microstepping: mc.Steer.Microstepping,
				StepDelay:     mc.Steer.StepDelay(),
			},
			GearRatio:   mc.Steer.GearRatio,
			DrivePWMPin: mc.DrivePWMPin,
			MaxVelocity: cfg.MaxVelocity(),
			AngleOffset: mc.AngleOffset(),
		})
		if err != nil {
			return nil, multierr.Append(err, dt.Close())
		}
		debug.PrintStruct(corner.String()+" module config", *mc)
		dt.modules[i] = m
		dt.runners = append(dt.runners, m.Run)
		// Modules close before the driver: closers run in reverse.
		dt.closers = append(dt.closers, m.Close)
	}
	return dt, nil
}

// attachGyro sets the heading source selected in cfg.
func (dt *drivetrain) attachGyro(cfg *config.Config, layout geometry.Layout) error {
	switch cfg.Gyro.Type {
	case config.GyroSim:
		g := sim.NewGyro(layout, dt.modules)
		dt.updaters = append(dt.updaters, g)
		dt.gyro, dt.resetter = g, g
	case config.GyroRVC:
		g, port, err := gyro.OpenRVC(cfg.Gyro.Device, cfg.Gyro.Invert)
		if err != nil {
			return err
		}
		dt.runners = append(dt.runners, g.Run)
		dt.closers = append(dt.closers, port.Close)
		dt.gyro, dt.resetter = g, g
	default:
		g := gyro.NewStatic(0)
		dt.gyro, dt.resetter = g, g
	}
	return nil
}

// start runs the control loop and the module runners in a new group.
// The loop stops the drivetrain once the group context is done, whichever
// goroutine ended the group. Steering runners may return before that final
// Stop is executed; Close completes it.
func (dt *drivetrain) start(ctx context.Context, loop *tick.Loop) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	for _, r := range dt.runners {
		g.Go(func() error { return r(gctx) })
	}
	return g, gctx
}

// Close releases everything in reverse order of acquisition. Call it once
// the group from start has returned.
func (dt *drivetrain) Close() error {
	var err error
	for i := len(dt.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, dt.closers[i]())
	}
	dt.closers = nil
	return err
}

func drivetrainInfo(cfg *config.Config, resettable bool) web.DrivetrainInfo {
	return web.DrivetrainInfo{
		TrackWidthM:           cfg.Drivetrain.TrackWidthM,
		WheelBaseM:            cfg.Drivetrain.WheelBaseM,
		MaxVelocityMps:        cfg.Drivetrain.MaxVelocityMps,
		MaxAngularVelocityRps: cfg.Drivetrain.MaxAngularVelocityRps,
		DeadzoneVelocityMps:   cfg.Drivetrain.DeadzoneVelocityMps,
		DeadzoneAngularRps:    cfg.Drivetrain.DeadzoneAngularRps,
		ControlPeriodMs:       cfg.Drivetrain.ControlPeriodMs,
		DriverCentric:         cfg.Defaults.DriverCentric,
		Simulated:             cfg.Defaults.Simulate,
		GyroResettable:        resettable,
	}
}

// overrides holds CLI values that replace config settings. Zero and nil
// mean "keep the config value".
type overrides struct {
	MaxVelocityMps        float64
	MaxAngularVelocityRps float64
	Simulate              *bool
	DriverCentric         *bool
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(maxVelocity, maxAngular float64) error {
	if maxVelocity != 0 {
		if math.IsNaN(maxVelocity) || math.IsInf(maxVelocity, 0) || maxVelocity <= 0 || maxVelocity > maxVelocityLimit {
			return fmt.Errorf("max_velocity must be between 0 and %d m/s, got %g", maxVelocityLimit, maxVelocity)
		}
	}
	if maxAngular != 0 {
		if math.IsNaN(maxAngular) || math.IsInf(maxAngular, 0) || maxAngular <= 0 || maxAngular > maxAngularVelocityLimit {
			return fmt.Errorf("max_angular_velocity must be between 0 and %.4g rad/s, got %g", maxAngularVelocityLimit, maxAngular)
		}
	}
	return nil
}

// applyOverrides mutates cfg with o and revalidates it, since an override
// can conflict with other settings (e.g. a deadzone).
func applyOverrides(cfg *config.Config, o overrides) error {
	if o.MaxVelocityMps > 0 {
		cfg.Drivetrain.MaxVelocityMps = o.MaxVelocityMps
	}
	if o.MaxAngularVelocityRps > 0 {
		cfg.Drivetrain.MaxAngularVelocityRps = o.MaxAngularVelocityRps
	}
	if o.Simulate != nil {
		cfg.Defaults.Simulate = *o.Simulate
		if !cfg.Defaults.Simulate && cfg.Gyro.Type == config.GyroSim {
			cfg.Gyro.Type = config.GyroStatic
		}
	}
	if o.DriverCentric != nil {
		cfg.Defaults.DriverCentric = *o.DriverCentric
	}
	return cfg.Validate()
}

// parseDrive parses "vx,vy,omega".
func parseDrive(s string) (geometry.BodyVelocity, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return geometry.BodyVelocity{}, fmt.Errorf("want vx,vy,omega, got %q", s)
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geometry.BodyVelocity{}, fmt.Errorf("component %d: %w", i+1, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return geometry.BodyVelocity{}, fmt.Errorf("component %d must be finite", i+1)
		}
		vals[i] = v
	}
	return geometry.BodyVelocity{
		VX:    units.Speed(vals[0]),
		VY:    units.Speed(vals[1]),
		Omega: units.AngularSpeed(vals[2]),
	}, nil
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
