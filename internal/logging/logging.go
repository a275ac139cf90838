// Package logging is a small, dependency-free logger reconstructed from the
// teacher's lib/logger test suite: a package-level handler-fanout logger,
// named per-package facilities, and a bounded recorder for recent messages.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a single log line.
type Level int

const (
	LevelDebug Level = iota
	LevelVerbose
	LevelInfo
	LevelWarn
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelVerbose:
		return "VERBOSE"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "UNKNOWN"
	}
}

// Handler receives every message at or above the level it was registered for.
type Handler func(l Level, msg string)

// Logger fans formatted messages out to registered handlers and, unless
// silenced, to an embedded standard library logger.
type Logger struct {
	mut      sync.Mutex
	std      *log.Logger
	handlers map[Level][]Handler
	debugFac map[string]bool
	debugAll bool
}

// NewLogger creates a standalone Logger writing to stderr.
func NewLogger() *Logger {
	return &Logger{
		std:      log.New(os.Stderr, "", log.Ltime),
		handlers: make(map[Level][]Handler),
		debugFac: make(map[string]bool),
	}
}

// Default is the process-wide logger every facility attaches to, mirroring
// the teacher's logger.DefaultLogger.
var Default = NewLogger()

func (l *Logger) SetFlags(flags int) { l.std.SetFlags(flags) }
func (l *Logger) SetPrefix(p string) { l.std.SetPrefix(p) }

// AddHandler registers a handler invoked for every message at level >= min.
func (l *Logger) AddHandler(min Level, h Handler) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.handlers[min] = append(l.handlers[min], h)
}

// SetDebug toggles debug-level logging for a named facility.
func (l *Logger) SetDebug(facility string, enabled bool) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.debugFac[facility] = enabled
}

// SetDebugAll toggles debug-level logging for every facility at once,
// matching the "all" value accepted by STTRACE-style env configuration.
func (l *Logger) SetDebugAll(enabled bool) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.debugAll = enabled
}

func (l *Logger) isDebug(facility string) bool {
	l.mut.Lock()
	defer l.mut.Unlock()
	if l.debugAll {
		return true
	}
	return l.debugFac[facility]
}

func (l *Logger) dispatch(level Level, msg string) {
	l.mut.Lock()
	l.std.Output(3, level.String()+": "+msg) //nolint:errcheck
	var fire []Handler
	for min, hs := range l.handlers {
		if level >= min {
			fire = append(fire, hs...)
		}
	}
	l.mut.Unlock()
	for _, h := range fire {
		h(level, msg)
	}
}

func (l *Logger) Debugf(format string, v ...any) { l.dispatch(LevelDebug, fmt.Sprintf(format, v...)) }
func (l *Logger) Debugln(v ...any)                { l.dispatch(LevelDebug, fmt.Sprintln(v...)) }
func (l *Logger) Infof(format string, v ...any)   { l.dispatch(LevelInfo, fmt.Sprintf(format, v...)) }
func (l *Logger) Infoln(v ...any)                 { l.dispatch(LevelInfo, fmt.Sprintln(v...)) }
func (l *Logger) Warnf(format string, v ...any)   { l.dispatch(LevelWarn, fmt.Sprintf(format, v...)) }
func (l *Logger) Warnln(v ...any)                 { l.dispatch(LevelWarn, fmt.Sprintln(v...)) }

// Facility is a named, independently debug-gated view onto a Logger,
// matching the teacher's `l = logger.DefaultLogger.NewFacility(name, descr)`
// per-package convention.
type Facility struct {
	parent *Logger
	name   string
	descr  string
}

// NewFacility registers a new named facility on this logger.
func (l *Logger) NewFacility(name, descr string) *Facility {
	return &Facility{parent: l, name: name, descr: descr}
}

// New is a convenience wrapper creating a facility on the process-wide
// Default logger, for package-level `var l = logging.New("registry", "...")`.
func New(name, descr string) *Facility {
	return Default.NewFacility(name, descr)
}

func (f *Facility) Debugf(format string, v ...any) {
	if f.parent.isDebug(f.name) {
		f.parent.Debugf("["+f.name+"] "+format, v...)
	}
}

func (f *Facility) Debugln(v ...any) {
	if f.parent.isDebug(f.name) {
		args := append([]any{"[" + f.name + "]"}, v...)
		f.parent.Debugln(args...)
	}
}

func (f *Facility) Infof(format string, v ...any) { f.parent.Infof("["+f.name+"] "+format, v...) }
func (f *Facility) Infoln(v ...any) {
	args := append([]any{"[" + f.name + "]"}, v...)
	f.parent.Infoln(args...)
}
func (f *Facility) Warnf(format string, v ...any) { f.parent.Warnf("["+f.name+"] "+format, v...) }
func (f *Facility) Warnln(v ...any) {
	args := append([]any{"[" + f.name + "]"}, v...)
	f.parent.Warnln(args...)
}

// SetDebug enables or disables debug output for this facility.
func (f *Facility) SetDebug(enabled bool) { f.parent.SetDebug(f.name, enabled) }

// ConfigureFromEnv toggles every known facility's debug flag from a
// comma-separated env var value (the FAKENOTIFYD_LOG_LEVEL / STTRACE
// convention: "all" enables everything, otherwise a facility is enabled
// when its name appears as a substring of the env value).
func ConfigureFromEnv(envValue string, facilities ...*Facility) {
	all := envValue == "all"
	for _, f := range facilities {
		f.SetDebug(all || strings.Contains(envValue, f.name))
	}
}

// Line is a single recorded message with its timestamp.
type Line struct {
	When    time.Time
	Level   Level
	Message string
}

// Recorder keeps the last N messages at or above a minimum level, with the
// first `permanent` entries never evicted (matching the teacher's
// NewRecorder(l, minLevel, size, permanent) signature).
type Recorder struct {
	mut       sync.Mutex
	min       Level
	size      int
	permanent int
	lines     []Line
}

// NewRecorder attaches a bounded recorder to a Logger.
func NewRecorder(l *Logger, min Level, size, permanent int) *Recorder {
	r := &Recorder{min: min, size: size, permanent: permanent}
	l.AddHandler(min, func(lv Level, msg string) {
		r.mut.Lock()
		defer r.mut.Unlock()
		r.lines = append(r.lines, Line{When: time.Now(), Level: lv, Message: msg})
		overflow := len(r.lines) - r.size
		if overflow > 0 {
			r.lines = append(r.lines[:r.permanent:r.permanent], r.lines[r.permanent+overflow:]...)
		}
	})
	return r
}

// Since returns every recorded line with When after t (zero time returns all).
func (r *Recorder) Since(t time.Time) []Line {
	r.mut.Lock()
	defer r.mut.Unlock()
	out := make([]Line, 0, len(r.lines))
	for _, ln := range r.lines {
		if ln.When.After(t) {
			out = append(out, ln)
		}
	}
	return out
}

// Clear empties the recorder, keeping none of the permanent prefix.
func (r *Recorder) Clear() {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.lines = nil
}
