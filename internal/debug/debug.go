package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/phsym/console-slog"
)

// Debug levels
const (
	LevelOff     = 0 // Errors only
	LevelInfo    = 1 // Important info (height, move result)
	LevelLive    = 2 // Live info (each poll of a move)
	LevelVerbose = 3 // Verbose (handshake steps, decoded reports)
	LevelTrace   = 4 // Trace (raw control transfers)
)

// Output formats
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

var (
	mu     sync.RWMutex
	level  int
	format string    = FormatConsole
	output io.Writer = os.Stderr
	logger           = newLogger(os.Stderr, FormatConsole, LevelOff)
)

// Init initializes the debug system with a level (0-4).
// 0 = errors only
// 1 = important info (current height, move result)
// 2 = live info (each poll while moving)
// 3 = verbose (handshake, decoded reports)
// 4 = trace (raw USB buffers)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = clamp(debugLevel)
	logger = newLogger(output, format, level)
}

// SetFormat selects the handler: FormatConsole (default) or FormatJSON.
func SetFormat(f string) {
	mu.Lock()
	defer mu.Unlock()
	if f != FormatJSON {
		f = FormatConsole
	}
	format = f
	logger = newLogger(output, format, level)
}

// SetOutput redirects all debug output to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	logger = newLogger(output, format, level)
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// Logger returns the underlying slog logger, e.g. to attach it to an HTTP server.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func clamp(l int) int {
	if l < LevelOff {
		return LevelOff
	}
	if l > LevelTrace {
		return LevelTrace
	}
	return l
}

// toSlogLevel maps a debug level to the minimum slog level it enables.
func toSlogLevel(l int) slog.Level {
	switch {
	case l >= LevelVerbose:
		return slog.LevelDebug
	case l >= LevelInfo:
		return slog.LevelInfo
	default:
		return slog.LevelError
	}
}

func newLogger(w io.Writer, f string, l int) *slog.Logger {
	var handler slog.Handler
	if f == FormatJSON {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: toSlogLevel(l),
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					a.Key = "ts"
				}
				return a
			},
		})
	} else {
		handler = console.NewHandler(w, &console.HandlerOptions{
			Level:   toSlogLevel(l),
			NoColor: w != os.Stderr && w != os.Stdout,
		})
	}
	return slog.New(handler)
}

func emit(minLevel int, lvl slog.Level, msg string, args ...any) {
	mu.RLock()
	enabled := level >= minLevel
	l := logger
	mu.RUnlock()
	if !enabled {
		return
	}
	l.Log(context.Background(), lvl, msg, args...)
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...any) {
	emit(LevelInfo, slog.LevelInfo, fmt.Sprintf(format, args...))
}

// Value prints a named value (level 1).
func Value(name string, value any) {
	emit(LevelInfo, slog.LevelInfo, name, "value", value)
}

// --- Level 2 functions (Live): real-time info ---

// Poll prints one iteration of a closed-loop move (level 2).
func Poll(current, target uint16, distance int) {
	emit(LevelLive, slog.LevelInfo, "poll", "current", current, "target", target, "distance", distance)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...any) {
	emit(LevelVerbose, slog.LevelDebug, fmt.Sprintf(format, args...))
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v any) {
	emit(LevelVerbose, slog.LevelDebug, name, "value", fmt.Sprintf("%+v", v))
}

// Section prints a section marker (level 3).
func Section(name string) {
	emit(LevelVerbose, slog.LevelDebug, "section", "name", name)
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	emit(LevelVerbose, slog.LevelDebug, description, "step", num)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func Trace(format string, args ...any) {
	emit(LevelTrace, slog.LevelDebug, fmt.Sprintf(format, args...))
}

// Transfer prints a USB control transfer (level 4).
func Transfer(direction string, requestType, request uint8, value uint16, n int, data []byte) {
	emit(LevelTrace, slog.LevelDebug, "control transfer",
		"dir", direction,
		"type", fmt.Sprintf("0x%02x", requestType),
		"request", fmt.Sprintf("0x%02x", request),
		"value", fmt.Sprintf("0x%04x", value),
		"n", n,
		"data", fmt.Sprintf("%x", data),
	)
}

// --- General functions ---

// Error prints an error. Errors are always shown.
func Error(err error) {
	if err == nil {
		return
	}
	emit(LevelOff, slog.LevelError, err.Error())
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...any) string {
	if Level() > LevelOff {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
