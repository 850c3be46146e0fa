package ioreactor

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Level is one of nginx's eight leveled-log severities (spec.md §6 "Log
// sink: leveled (emerg, alert, crit, err, warn, notice, info, debug)").
type Level uint8

const (
	LevelEmerg Level = iota
	LevelAlert
	LevelCrit
	LevelErr
	LevelWarn
	LevelNotice
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelEmerg:
		return "emerg"
	case LevelAlert:
		return "alert"
	case LevelCrit:
		return "crit"
	case LevelErr:
		return "err"
	case LevelWarn:
		return "warn"
	case LevelNotice:
		return "notice"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// logrusLevel maps the eight nginx levels onto logrus's levels, collapsing
// emerg/alert onto Fatal and crit/err onto Error while preserving the
// original distinction in a structured "nginx_level" field, so downstream
// log processors can still filter on the exact nginx severity. Panic is not
// used because logrus panics after writing an entry at that level.
func logrusLevel(l Level) logrus.Level {
	switch l {
	case LevelEmerg, LevelAlert:
		return logrus.FatalLevel
	case LevelCrit, LevelErr:
		return logrus.ErrorLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelNotice, LevelInfo:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}

// Logger is the consumed leveled log-sink interface (spec.md §6), with a
// per-connection contextual prefix rather than a single process-global
// instance (Design Notes §9: "No process-global mutable state in the
// rewrite" — every Reactor/Connection holds its own Logger value, none of
// them package-level).
type Logger interface {
	// Log emits msg at level with the given structured fields.
	Log(level Level, msg string, fields map[string]interface{})
	// Enabled reports whether level would currently be emitted.
	Enabled(level Level) bool
	// WithConn returns a Logger that prefixes every entry with connection
	// context (spec.md §6's "per-connection contextual prefix").
	WithConn(c *Connection) Logger
	// Reopen re-opens the underlying log file, for the SIGUSR1 reopen-logs
	// signal contract (spec.md §6).
	Reopen() error
}

// logrusSink wraps a single logrus.Logger the way nabbar-golib/logger wraps
// logrus for its own leveled sink.
type logrusSink struct {
	logger *logrus.Logger
	path   string
}

// leveledSink is the default Logger, filtering entries below min before
// they reach the logrus backend, since logrus's own 7 levels cannot
// represent the 8-way nginx threshold directly.
type leveledSink struct {
	base *logrusSink
	min  Level
}

// NewLogger constructs a Logger writing to path ("" or "-" for stderr) at
// the given minimum level.
func NewLogger(path string, level Level) (Logger, error) {
	l := logrus.New()
	l.SetLevel(logrus.TraceLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if path != "" && path != "-" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, WrapError("open log file", err)
		}
		l.SetOutput(f)
	}

	return &leveledSink{base: &logrusSink{logger: l, path: path}, min: level}, nil
}

func (s *leveledSink) Enabled(level Level) bool { return level <= s.min }

func (s *leveledSink) Log(level Level, msg string, fields map[string]interface{}) {
	if !s.Enabled(level) {
		return
	}
	s.emit(level, msg, fields)
}

// emit writes to the logrus backend unconditionally, letting connLogger
// bypass the base min-level filter for a debug_connection match.
func (s *leveledSink) emit(level Level, msg string, fields map[string]interface{}) {
	f := logrus.Fields{"nginx_level": level.String()}
	for k, v := range fields {
		f[k] = v
	}
	s.base.logger.WithFields(f).Log(logrusLevel(level), msg)
}

func (s *leveledSink) WithConn(c *Connection) Logger {
	return &connLogger{parent: s, conn: c}
}

func (s *leveledSink) Reopen() error {
	if s.base.path == "" || s.base.path == "-" {
		return nil
	}
	f, err := os.OpenFile(s.base.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return WrapError("reopen log file", err)
	}
	s.base.logger.SetOutput(f)
	return nil
}

// connLogger decorates every entry with the owning connection's number and
// peer address, implementing spec.md §6's per-connection contextual prefix
// without any shared mutable state between connections.
type connLogger struct {
	parent *leveledSink
	conn   *Connection
}

func (c *connLogger) Enabled(level Level) bool {
	if c.conn.Debug() {
		return true
	}
	return c.parent.Enabled(level)
}

func (c *connLogger) Log(level Level, msg string, fields map[string]interface{}) {
	if !c.Enabled(level) {
		return
	}
	merged := map[string]interface{}{
		"conn":   c.conn.Number,
		"fd":     c.conn.fd,
		"client": c.conn.PeerText,
	}
	for k, v := range fields {
		merged[k] = v
	}
	c.parent.emit(level, msg, merged)
}

func (c *connLogger) WithConn(nc *Connection) Logger { return c.parent.WithConn(nc) }
func (c *connLogger) Reopen() error                  { return c.parent.Reopen() }
