package debug

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (config, drivetrain geometry, lifecycle)
	LevelLive    = 2 // Live info (flips, stops, incoming commands)
	LevelVerbose = 3 // Verbose (per-tick solve details)
	LevelTrace   = 4 // Trace (actuator, GPIO and PWM writes)
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	logger *zap.SugaredLogger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (config, geometry, lifecycle)
// 2 = live info (flips, stops, commands)
// 3 = verbose (per-tick details)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	rebuild()
}

// SetOutput redirects log output, e.g. to tee it to web clients.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

// rebuild must be called with mu held.
func rebuild() {
	if logger != nil {
		_ = logger.Sync()
	}
	if level <= LevelOff {
		logger = nil
		return
	}

	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = "t"
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000")
	enc.CallerKey = ""
	enc.StacktraceKey = ""
	enc.ConsoleSeparator = " "

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(enc),
		zapcore.AddSync(out),
		zapcore.DebugLevel,
	)
	logger = zap.New(core).Named("SwerveGo").Sugar()
}

func emit(minLevel int, tag, format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if level < minLevel || logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if tag != "" {
		msg = "[" + tag + "] " + msg
	}
	if minLevel >= LevelVerbose {
		logger.Debug(msg)
		return
	}
	logger.Info(msg)
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// Sync flushes buffered log entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return nil
	}
	return logger.Sync()
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	emit(LevelInfo, "INFO", format, args...)
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	emit(LevelInfo, "", "═══════════════════════════════════════")
	emit(LevelInfo, "", "  %s", title)
	emit(LevelInfo, "", "═══════════════════════════════════════")
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	emit(LevelInfo, "INFO", "  %s = %v", name, value)
}

// Error prints a debug error (level 1+).
func Error(err error) {
	mu.RLock()
	defer mu.RUnlock()
	if level >= LevelInfo && logger != nil {
		logger.Errorw("[ERROR] "+err.Error(), "error", err)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	emit(LevelLive, "LIVE", format, args...)
}

// Flip prints a module reversal (level 2).
func Flip(module string, offsetRad float64, reversed bool) {
	emit(LevelLive, "LIVE", "Module %s flipped (offset %+.4f rad, reversed=%v)", module, offsetRad, reversed)
}

// Command prints an incoming body command (level 2).
func Command(frame string, vx, vy, omega float64) {
	emit(LevelLive, "LIVE", "Command %s: vx=%.3f vy=%.3f omega=%.3f", frame, vx, vy, omega)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	emit(LevelVerbose, "VERBOSE", format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	emit(LevelVerbose, "VERBOSE", "%s: %+v", name, v)
}

// Section prints a section separator (level 3).
func Section(name string) {
	emit(LevelVerbose, "", "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	emit(LevelVerbose, "", "  %s", name)
	emit(LevelVerbose, "", "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	emit(LevelVerbose, "VERBOSE", "Step %d: %s", num, description)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	emit(LevelTrace, "TRACE", format, args...)
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	emit(LevelTrace, "GPIO", "%s pin=%d value=%v", operation, pin, value)
}
