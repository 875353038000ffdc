// Package logging builds the slog logger used across sealroom and strips
// secrets from every record before it is written.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const redacted = "[redacted]"

var sensitiveKeyParts = []string{
	"passphrase", "password", "secret", "token", "seed", "private", "mnemonic", "wrapping_key",
}

// Options selects the output format and level.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

// New returns a sanitizing logger writing to w.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	ho := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, ho)
	case "json":
		h = slog.NewJSONHandler(w, ho)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return slog.New(Wrap(h)), nil
}

// Discard returns a logger that writes nothing.
func Discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// SanitizingHandler rewrites attributes before passing records on.
type SanitizingHandler struct {
	next slog.Handler
}

// Wrap returns next behind a SanitizingHandler.
func Wrap(next slog.Handler) slog.Handler {
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(SanitizeAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		clean = append(clean, SanitizeAttr(a))
	}
	return &SanitizingHandler{next: h.next.WithAttrs(clean)}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

// SanitizeAttr redacts secret-looking keys and shortens fingerprints.
func SanitizeAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	if isSensitive(key) {
		return slog.String(a.Key, redacted)
	}
	v := a.Value.Resolve()
	switch {
	case v.Kind() == slog.KindGroup:
		group := v.Group()
		clean := make([]any, 0, len(group))
		for _, g := range group {
			clean = append(clean, SanitizeAttr(g))
		}
		return slog.Group(a.Key, clean...)
	case strings.Contains(key, "fingerprint") || key == "fpr" || key == "sender":
		s := v.String()
		if len(s) > 16 {
			s = s[:16]
		}
		return slog.String(a.Key, s)
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func isSensitive(key string) bool {
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}
