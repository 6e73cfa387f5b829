package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
)

// MessageWriter sends one GELF message. *gelf.Writer implements it.
type MessageWriter interface {
	WriteMessage(m *gelf.Message) error
}

// NewGraylogWriter dials a Graylog UDP input.
func NewGraylogWriter(addr string) (*gelf.Writer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to graylog at %s: %w", addr, err)
	}
	w.Facility = "breakage"
	return w, nil
}

// GelfHandler is a slog.Handler that ships records to Graylog.
type GelfHandler struct {
	w      MessageWriter
	level  slog.Leveler
	host   string
	attrs  []slog.Attr
	groups []string
}

// NewGelfHandler returns a handler writing records at or above level to w.
func NewGelfHandler(w MessageWriter, level slog.Leveler) *GelfHandler {
	host, _ := os.Hostname()
	return &GelfHandler{w: w, level: level, host: host}
}

// Enabled reports whether level is at or above the handler level.
func (h *GelfHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// syslog severities
func gelfLevel(l slog.Level) int32 {
	switch {
	case l >= slog.LevelError:
		return 3
	case l >= slog.LevelWarn:
		return 4
	case l >= slog.LevelInfo:
		return 6
	default:
		return 7
	}
}

// Handle converts the record to a GELF message.
func (h *GelfHandler) Handle(_ context.Context, r slog.Record) error {
	extra := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		h.addAttr(extra, "", a)
	}
	prefix := ""
	for _, g := range h.groups {
		prefix += g + "."
	}
	r.Attrs(func(a slog.Attr) bool {
		h.addAttr(extra, prefix, a)
		return true
	})

	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}
	return h.w.WriteMessage(&gelf.Message{
		Version:  "1.1",
		Host:     h.host,
		Short:    r.Message,
		TimeUnix: float64(t.UnixNano()) / float64(time.Second),
		Level:    gelfLevel(r.Level),
		Facility: "breakage",
		Extra:    extra,
	})
}

func (h *GelfHandler) addAttr(extra map[string]interface{}, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			h.addAttr(extra, prefix+a.Key+".", ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	// GELF additional fields are prefixed with an underscore
	extra["_"+prefix+a.Key] = v.Any()
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *GelfHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := *h
	prefix := ""
	for _, g := range h.groups {
		prefix += g + "."
	}
	n.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + a.Key
		}
		n.attrs = append(n.attrs, a)
	}
	return &n
}

// WithGroup returns a handler that qualifies later attributes with name.
func (h *GelfHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	n := *h
	n.groups = append(append([]string(nil), h.groups...), name)
	return &n
}
