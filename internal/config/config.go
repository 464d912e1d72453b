package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/SwerveGo/internal/units"
)

// MaxConfigFileBytes caps the size of a config file read by Load.
const MaxConfigFileBytes = 1 << 20

// DefaultDeadzone applies to both deadzones when the file omits them.
const DefaultDeadzone = 0.1

// Simulation modes.
const (
	SimModeDirect = "direct" // commands are applied instantly
	SimModeMotor  = "motor"  // commands go through rate-limited simulated motors
)

// StepperConfig holds the configuration for a steering stepper motor.
type StepperConfig struct {
	StepPin       int     `yaml:"step_pin"`
	DirPin        int     `yaml:"dir_pin"`
	EnablePin     int     `yaml:"enable_pin"` // A4988 ENABLE pin (BCM). 0 = not used. Active LOW.
	StepsPerRev   int     `yaml:"steps_per_rev"`
	Microstepping int     `yaml:"microstepping"`
	GearRatio     float64 `yaml:"gear_ratio"`    // motor turns per wheel turn
	StepDelayUs   int     `yaml:"step_delay_us"` // half period of a step pulse
}

// StepDelay returns the half period of a step pulse.
func (s StepperConfig) StepDelay() time.Duration {
	return time.Duration(s.StepDelayUs) * time.Microsecond
}

// ModuleConfig describes one swerve module's hardware.
type ModuleConfig struct {
	Steer          StepperConfig `yaml:"steer"`
	DrivePWMPin    int           `yaml:"drive_pwm_pin"`    // ESC signal pin (BCM, PWM capable)
	AngleOffsetDeg float64       `yaml:"angle_offset_deg"` // mounting offset of the steering zero
}

// AngleOffset returns the mounting offset as an Angle.
func (m ModuleConfig) AngleOffset() units.Angle {
	return units.Degrees(m.AngleOffsetDeg)
}

// ModulesConfig holds the four modules by mounting corner.
type ModulesConfig struct {
	LeftRear   ModuleConfig `yaml:"left_rear"`
	LeftFront  ModuleConfig `yaml:"left_front"`
	RightRear  ModuleConfig `yaml:"right_rear"`
	RightFront ModuleConfig `yaml:"right_front"`
}

// ByCorner returns the modules in dispatch order: left rear, left front,
// right rear, right front.
func (m *ModulesConfig) ByCorner() [4]*ModuleConfig {
	return [4]*ModuleConfig{&m.LeftRear, &m.LeftFront, &m.RightRear, &m.RightFront}
}

// DrivetrainConfig describes the chassis and its command limits.
type DrivetrainConfig struct {
	TrackWidthM           float64 `yaml:"track_width_m"`            // left to right module distance
	WheelBaseM            float64 `yaml:"wheel_base_m"`             // rear to front module distance
	MaxVelocityMps        float64 `yaml:"max_velocity_mps"`         // full-scale translation
	MaxAngularVelocityRps float64 `yaml:"max_angular_velocity_rps"` // full-scale rotation
	DeadzoneVelocityMps   float64 `yaml:"deadzone_velocity_mps"`    // 0 disables; DefaultDeadzone when omitted
	DeadzoneAngularRps    float64 `yaml:"deadzone_angular_rps"`     // 0 disables; DefaultDeadzone when omitted
	ControlPeriodMs       int     `yaml:"control_period_ms"`        // control loop period
	CommandTimeoutMs      int     `yaml:"command_timeout_ms"`       // hold the wheels when no command arrives for this long
}

// SimConfig tunes the simulated modules.
type SimConfig struct {
	Mode                string  `yaml:"mode"` // "direct" or "motor"
	SteerMaxVelocityRps float64 `yaml:"steer_max_velocity_rps"`
	SteerMaxAccelRps2   float64 `yaml:"steer_max_accel_rps2"`
	DriveMaxAccelMps2   float64 `yaml:"drive_max_accel_mps2"`
}

// Heading sources.
const (
	GyroStatic = "static" // fixed zero heading, zeroable from the web UI
	GyroSim    = "sim"    // integrates the simulated wheel velocities
	GyroRVC    = "rvc"    // BNO08x IMU in UART-RVC mode on a serial port
)

// GyroConfig selects the heading source for driver-centric driving.
type GyroConfig struct {
	Type   string `yaml:"type"`   // "static", "sim" or "rvc"
	Device string `yaml:"device"` // serial device for "rvc", e.g. /dev/ttyS0
	Invert bool   `yaml:"invert"` // flip the heading sign for upside-down mounting
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel          int  `yaml:"debug_level"`           // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO            bool `yaml:"mock_gpio"`             // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	Simulate            bool `yaml:"simulate"`              // use simulated modules instead of GPIO hardware
	DriverCentric       bool `yaml:"driver_centric"`        // interpret commands in the field frame
	TelemetryEveryTicks int  `yaml:"telemetry_every_ticks"` // publish module readings every N ticks
}

// Config aggregates all application configuration.
type Config struct {
	Drivetrain DrivetrainConfig `yaml:"drivetrain"`
	Modules    ModulesConfig    `yaml:"modules"`
	Sim        SimConfig        `yaml:"sim"`
	Gyro       GyroConfig       `yaml:"gyro"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
}

// ValidateConfigPath rejects paths that are empty, contain "..", do not end
// in .yaml or do not sit directly inside a directory named configs.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs directory", path)
	}
	return nil
}

// Load reads a YAML file, applies defaults and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	// Zero is a valid deadzone, so its default is set before decoding
	// rather than in applyDefaults.
	cfg := Config{Drivetrain: DrivetrainConfig{
		DeadzoneVelocityMps: DefaultDeadzone,
		DeadzoneAngularRps:  DefaultDeadzone,
	}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	d := &c.Drivetrain
	if d.MaxVelocityMps == 0 {
		d.MaxVelocityMps = 4
	}
	if d.MaxAngularVelocityRps == 0 {
		d.MaxAngularVelocityRps = 4 * math.Pi / 3
	}
	if d.ControlPeriodMs <= 0 {
		d.ControlPeriodMs = 20
	}
	if d.CommandTimeoutMs <= 0 {
		d.CommandTimeoutMs = 250
	}

	for _, m := range c.Modules.ByCorner() {
		if m.Steer.StepsPerRev <= 0 {
			m.Steer.StepsPerRev = 200
		}
		if m.Steer.Microstepping <= 0 {
			m.Steer.Microstepping = 1
		}
		if m.Steer.GearRatio <= 0 {
			m.Steer.GearRatio = 1
		}
		if m.Steer.StepDelayUs <= 0 {
			m.Steer.StepDelayUs = 500
		}
	}

	if c.Sim.Mode == "" {
		c.Sim.Mode = SimModeDirect
	}
	if c.Sim.SteerMaxVelocityRps <= 0 {
		c.Sim.SteerMaxVelocityRps = 4 * math.Pi
	}
	if c.Sim.SteerMaxAccelRps2 <= 0 {
		c.Sim.SteerMaxAccelRps2 = 40
	}
	if c.Sim.DriveMaxAccelMps2 <= 0 {
		c.Sim.DriveMaxAccelMps2 = 8
	}

	if c.Gyro.Type == "" {
		c.Gyro.Type = GyroStatic
		if c.Defaults.Simulate {
			c.Gyro.Type = GyroSim
		}
	}

	if c.Defaults.TelemetryEveryTicks <= 0 {
		c.Defaults.TelemetryEveryTicks = 5 // 10 Hz at the default period
	}
}

// Validate checks value ranges. Load calls it after applying defaults.
func (c *Config) Validate() error {
	d := c.Drivetrain
	if d.TrackWidthM <= 0 {
		return fmt.Errorf("drivetrain.track_width_m must be > 0, got %.3f", d.TrackWidthM)
	}
	if d.WheelBaseM <= 0 {
		return fmt.Errorf("drivetrain.wheel_base_m must be > 0, got %.3f", d.WheelBaseM)
	}
	if d.MaxVelocityMps < 0 || d.MaxAngularVelocityRps < 0 {
		return errors.New("drivetrain max velocities must be positive")
	}
	if d.DeadzoneVelocityMps < 0 || d.DeadzoneVelocityMps >= d.MaxVelocityMps {
		return fmt.Errorf("deadzone_velocity_mps must be between 0 and max_velocity_mps, got %.3f", d.DeadzoneVelocityMps)
	}
	if d.DeadzoneAngularRps < 0 || d.DeadzoneAngularRps >= d.MaxAngularVelocityRps {
		return fmt.Errorf("deadzone_angular_rps must be between 0 and max_angular_velocity_rps, got %.3f", d.DeadzoneAngularRps)
	}
	if d.ControlPeriodMs > 1000 {
		return fmt.Errorf("control_period_ms must be <= 1000, got %d", d.ControlPeriodMs)
	}
	if d.CommandTimeoutMs < d.ControlPeriodMs {
		return fmt.Errorf("command_timeout_ms (%d) must be >= control_period_ms (%d)", d.CommandTimeoutMs, d.ControlPeriodMs)
	}

	if c.Sim.Mode != SimModeDirect && c.Sim.Mode != SimModeMotor {
		return fmt.Errorf("sim.mode must be %q or %q, got %q", SimModeDirect, SimModeMotor, c.Sim.Mode)
	}
	switch c.Gyro.Type {
	case GyroStatic:
	case GyroSim:
		if !c.Defaults.Simulate {
			return errors.New("gyro.type sim requires defaults.simulate")
		}
	case GyroRVC:
		if c.Gyro.Device == "" {
			return errors.New("gyro.device is required for gyro.type rvc")
		}
	default:
		return fmt.Errorf("gyro.type must be %q, %q or %q, got %q", GyroStatic, GyroSim, GyroRVC, c.Gyro.Type)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}

	// Pins only matter when driving real hardware.
	if c.Defaults.Simulate {
		return nil
	}
	names := [4]string{"left_rear", "left_front", "right_rear", "right_front"}
	for i, m := range c.Modules.ByCorner() {
		if m.Steer.StepPin <= 0 || m.Steer.DirPin <= 0 {
			return fmt.Errorf("modules.%s.steer: step_pin and dir_pin are required", names[i])
		}
		if m.DrivePWMPin <= 0 {
			return fmt.Errorf("modules.%s.drive_pwm_pin is required", names[i])
		}
	}
	return nil
}

// TrackWidth returns the left to right module distance.
func (c *Config) TrackWidth() units.Distance {
	return units.Distance(c.Drivetrain.TrackWidthM)
}

// WheelBase returns the rear to front module distance.
func (c *Config) WheelBase() units.Distance {
	return units.Distance(c.Drivetrain.WheelBaseM)
}

// MaxVelocity returns the full-scale translation speed.
func (c *Config) MaxVelocity() units.Speed {
	return units.Speed(c.Drivetrain.MaxVelocityMps)
}

// MaxAngularVelocity returns the full-scale rotation rate.
func (c *Config) MaxAngularVelocity() units.AngularSpeed {
	return units.AngularSpeed(c.Drivetrain.MaxAngularVelocityRps)
}

// DeadzoneVelocity returns the translation deadzone.
func (c *Config) DeadzoneVelocity() units.Speed {
	return units.Speed(c.Drivetrain.DeadzoneVelocityMps)
}

// DeadzoneAngular returns the rotation deadzone.
func (c *Config) DeadzoneAngular() units.AngularSpeed {
	return units.AngularSpeed(c.Drivetrain.DeadzoneAngularRps)
}

// ControlPeriod returns the control loop period.
func (c *Config) ControlPeriod() time.Duration {
	return time.Duration(c.Drivetrain.ControlPeriodMs) * time.Millisecond
}

// CommandTimeout returns how long a command stays valid.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Drivetrain.CommandTimeoutMs) * time.Millisecond
}
