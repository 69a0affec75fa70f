// Package logging provides the Logger interface shared by every tauproxy
// component and a logrus-backed implementation of it.
package logging

import "github.com/sirupsen/logrus"

// Logger is implemented by every component's logging dependency. It mirrors
// the severities the original proxy logged at (log.c's tau_metric_proxy_log
// family), expressed as a small interface so components never depend on
// logrus directly.
type Logger interface {
	Criticalf(format string, args ...any)
	Debugf(format string, args ...any)
	Errorf(format string, args ...any)
	Noticef(format string, args ...any)
	Warningf(format string, args ...any)
}

// LogrusAdapter wraps a *logrus.Logger to satisfy Logger.
type LogrusAdapter struct {
	*logrus.Logger
}

var _ Logger = (*LogrusAdapter)(nil)

// NewLogrusAdapter builds a LogrusAdapter at the given verbosity. Verbose
// enables debug-level output; otherwise the logger runs at info level.
func NewLogrusAdapter(verbose bool) *LogrusAdapter {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return &LogrusAdapter{Logger: l}
}

func (l *LogrusAdapter) Criticalf(format string, args ...any) {
	l.Logger.Logf(logrus.FatalLevel, format, args...)
}

func (l *LogrusAdapter) Debugf(format string, args ...any) {
	l.Logger.Debugf(format, args...)
}

func (l *LogrusAdapter) Errorf(format string, args ...any) {
	l.Logger.Errorf(format, args...)
}

func (l *LogrusAdapter) Noticef(format string, args ...any) {
	l.Logger.Infof(format, args...)
}

func (l *LogrusAdapter) Warningf(format string, args ...any) {
	l.Logger.Warnf(format, args...)
}
