package logging

import "github.com/rs/zerolog"

// DispatcherLogger lets the event dispatcher log through zerolog.
type DispatcherLogger struct {
	zl zerolog.Logger
}

func NewDispatcherLogger(zl zerolog.Logger) DispatcherLogger {
	return DispatcherLogger{zl: zl}
}

func (l DispatcherLogger) Debug(msg string, kv ...any) { send(l.zl.Debug(), msg, kv) }
func (l DispatcherLogger) Info(msg string, kv ...any)  { send(l.zl.Info(), msg, kv) }
func (l DispatcherLogger) Error(msg string, kv ...any) { send(l.zl.Error(), msg, kv) }

// send passes kv through as alternating keys and values, which zerolog
// writes in order.
func send(e *zerolog.Event, msg string, kv []any) {
	if e == nil {
		return
	}
	if len(kv) > 0 {
		e = e.Fields(kv)
	}
	e.Msg(msg)
}
