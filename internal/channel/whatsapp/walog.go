package whatsapp

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogAdapter routes whatsmeow's printf-style logging into slog.
type slogAdapter struct {
	l *slog.Logger
}

func newWALogger(l *slog.Logger, module string) waLog.Logger {
	return slogAdapter{l: l.With("module", module)}
}

func (a slogAdapter) Debugf(msg string, args ...any) { a.l.Debug(fmt.Sprintf(msg, args...)) }
func (a slogAdapter) Infof(msg string, args ...any)  { a.l.Info(fmt.Sprintf(msg, args...)) }
func (a slogAdapter) Warnf(msg string, args ...any)  { a.l.Warn(fmt.Sprintf(msg, args...)) }
func (a slogAdapter) Errorf(msg string, args ...any) { a.l.Error(fmt.Sprintf(msg, args...)) }

func (a slogAdapter) Sub(module string) waLog.Logger {
	return slogAdapter{l: a.l.With("sub", module)}
}
