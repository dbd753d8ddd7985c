package trace

import (
	"context"
	"log/slog"
	"strings"
)

// Handler is a slog.Handler that renders records as
//
//	LEVEL [target]: message key=value ...
//
// and forwards them through a Bridge. The target is the innermost group, or
// "asan" when no group is open.
type Handler struct {
	bridge *Bridge
	level  slog.Leveler
	pre    string // attrs added with WithAttrs, already rendered
	groups []string
}

// NewHandler builds a Handler. opts may be nil; only Level is honoured.
func NewHandler(b *Bridge, opts *slog.HandlerOptions) *Handler {
	h := &Handler{bridge: b, level: slog.LevelInfo}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

// Enabled reports whether level is at or above the handler's minimum.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle renders r and forwards it.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(h.pre)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.prefix(), a)
		return true
	})
	h.bridge.Trace("%s [%s]: %s%s", r.Level, h.target(), r.Message, b.String())
	return nil
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.pre)
	for _, a := range attrs {
		writeAttr(&b, h.prefix(), a)
	}
	c := *h
	c.pre = b.String()
	return &c
}

// WithGroup returns a handler that nests subsequent attrs under name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.groups = append(append([]string(nil), h.groups...), name)
	return &c
}

func (h *Handler) target() string {
	if len(h.groups) == 0 {
		return "asan"
	}
	return h.groups[len(h.groups)-1]
}

func (h *Handler) prefix() string {
	return strings.Join(h.groups, ".")
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := a.Key
		if prefix != "" && p != "" {
			p = prefix + "." + p
		} else if p == "" {
			p = prefix
		}
		for _, ga := range a.Value.Group() {
			writeAttr(b, p, ga)
		}
		return
	}
	b.WriteByte(' ')
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteByte('.')
	}
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}
