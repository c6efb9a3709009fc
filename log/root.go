package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Modules used across the toolchain.
const (
	Loader = "loader"
	Sim    = "sim"
	Bfc    = "bfc"
	CLI    = "cli"
)

var root atomic.Value

func init() {
	root.Store(NewLogger(slog.DiscardHandler))
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(lvl string) (slog.Level, error) {
	switch strings.ToUpper(lvl) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO", "":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "CRIT", "CRITICAL":
		return LevelCrit, nil
	default:
		return 0, fmt.Errorf("invalid level: %s", lvl)
	}
}

// InitLogger installs a text logger on w at the given level.
func InitLogger(w io.Writer, logLevel string) error {
	lvl, err := ParseLevel(logLevel)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(LevelString(l))
				}
			}
			return a
		},
	}
	SetDefault(NewLogger(slog.NewTextHandler(w, opts)))
	return nil
}

// SetDefault sets the default global logger
func SetDefault(l Logger) {
	root.Store(l)
}

// Root returns the root logger
func Root() Logger {
	return root.Load().(Logger)
}

// --- Module management ---

var (
	modMu         sync.RWMutex
	moduleEnabled = map[string]bool{}
)

// EnableModule enables trace and debug logging for the specified module.
func EnableModule(module string) {
	modMu.Lock()
	moduleEnabled[module] = true
	modMu.Unlock()
}

// DisableModule disables trace and debug logging for the specified module.
func DisableModule(module string) {
	modMu.Lock()
	moduleEnabled[module] = false
	modMu.Unlock()
}

// EnableModules enables a comma separated list of modules.
func EnableModules(list string) {
	for _, m := range strings.Split(list, ",") {
		if m = strings.TrimSpace(m); m != "" {
			EnableModule(m)
		}
	}
}

func isModuleEnabled(module string) bool {
	modMu.RLock()
	defer modMu.RUnlock()
	return moduleEnabled[module]
}

// Trace logs a message at the trace level for a specific module.
func Trace(module string, msg string, ctx ...any) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Write(LevelTrace, module, msg, ctx...)
}

// Debug logs a message at the debug level for a specific module.
func Debug(module string, msg string, ctx ...any) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Write(slog.LevelDebug, module, msg, ctx...)
}

// The rest of the logging functions don't filter on module.

func Info(module string, msg string, ctx ...any) {
	Root().Write(slog.LevelInfo, module, msg, ctx...)
}

func Warn(module string, msg string, ctx ...any) {
	Root().Write(slog.LevelWarn, module, msg, ctx...)
}

func Error(module string, msg string, ctx ...any) {
	Root().Write(slog.LevelError, module, msg, ctx...)
}

// Crit logs at the critical level and exits the process.
func Crit(module string, msg string, ctx ...any) {
	Root().Write(LevelCrit, module, msg, ctx...)
	os.Exit(1)
}
