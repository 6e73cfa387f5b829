package logging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// AttrFunc supplies attributes that change over a run, such as the loaded
// level. It is called once per record.
type AttrFunc func() []slog.Attr

// tee hands every record to each child enabled for its level.
type tee []slog.Handler

func newTee(handlers ...slog.Handler) tee {
	return slices.DeleteFunc(slices.Clone(handlers), func(h slog.Handler) bool { return h == nil })
}

func (t tee) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(t, func(h slog.Handler) bool { return h.Enabled(ctx, level) })
}

// Handle reports every child failure, but a failing child never keeps the
// record from the others.
func (t tee) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t tee) WithGroup(name string) slog.Handler {
	if name == "" {
		return t
	}
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t tee) each(f func(slog.Handler) slog.Handler) tee {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = f(h)
	}
	return out
}

// dynamic appends the output of attrs to each record before passing it on.
type dynamic struct {
	next  slog.Handler
	attrs AttrFunc
}

func (d dynamic) Enabled(ctx context.Context, level slog.Level) bool {
	return d.next.Enabled(ctx, level)
}

func (d dynamic) Handle(ctx context.Context, r slog.Record) error {
	if extra := d.attrs(); len(extra) > 0 {
		r.AddAttrs(extra...)
	}
	return d.next.Handle(ctx, r)
}

func (d dynamic) WithAttrs(attrs []slog.Attr) slog.Handler {
	return dynamic{next: d.next.WithAttrs(attrs), attrs: d.attrs}
}

func (d dynamic) WithGroup(name string) slog.Handler {
	if name == "" {
		return d
	}
	return dynamic{next: d.next.WithGroup(name), attrs: d.attrs}
}
