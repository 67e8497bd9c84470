// =============================================================================
// LOGGING - COMPONENT-FILTERED SLOG
// =============================================================================
//
// Every subsystem logs through a *slog.Logger tagged with a component:
//
//   logger.With("component", "storage")
//
// A debug spec picks the level per component, so one noisy subsystem can be
// turned up without drowning the rest:
//
//   -D debug                 everything at debug
//   -D 'storage=debug'       storage at debug, the rest at the default (info)
//   -D 'warn,check*=20'      default warn, checker components at debug
//
// Patterns are path.Match globs over component names. When several rules
// match, the last one wins. Levels are names (debug, info, warn, error) or
// the numeric debug levels the old tools used: >=20 debug, >=10 info,
// >=1 warn, 0 error.
//
// =============================================================================

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
)

// ComponentKey is the attribute that names the logging subsystem.
const ComponentKey = "component"

// Rule sets the level for components matching Pattern.
type Rule struct {
	Pattern string
	Level   slog.Level
}

// Spec is a parsed debug spec.
type Spec struct {
	Default slog.Level
	Rules   []Rule
}

// DefaultSpec logs everything at info.
func DefaultSpec() *Spec {
	return &Spec{Default: slog.LevelInfo}
}

// ParseDebugSpec parses "pattern=level[,pattern=level...]". A bare level sets
// the default; a bare pattern turns that pattern up to debug.
func ParseDebugSpec(s string) (*Spec, error) {
	spec := DefaultSpec()
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		pattern, levelStr, hasLevel := strings.Cut(part, "=")
		if !hasLevel {
			if lvl, err := ParseLevel(part); err == nil {
				spec.Default = lvl
				continue
			}
			levelStr = "debug"
		}
		pattern = strings.TrimSpace(pattern)
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid debug pattern %q: %w", pattern, err)
		}
		lvl, err := ParseLevel(levelStr)
		if err != nil {
			return nil, err
		}
		if pattern == "*" {
			spec.Default = lvl
			continue
		}
		spec.Rules = append(spec.Rules, Rule{Pattern: pattern, Level: lvl})
	}
	return spec, nil
}

// ParseLevel accepts a level name or a numeric debug level.
func ParseLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	switch {
	case n >= 20:
		return slog.LevelDebug, nil
	case n >= 10:
		return slog.LevelInfo, nil
	case n >= 1:
		return slog.LevelWarn, nil
	default:
		return slog.LevelError, nil
	}
}

// LevelFor returns the level in effect for component.
func (s *Spec) LevelFor(component string) slog.Level {
	lvl := s.Default
	if component == "" {
		return lvl
	}
	for _, r := range s.Rules {
		if ok, _ := path.Match(r.Pattern, component); ok {
			lvl = r.Level
		}
	}
	return lvl
}

// minLevel is the most verbose level any component may use.
func (s *Spec) minLevel() slog.Level {
	lvl := s.Default
	for _, r := range s.Rules {
		if r.Level < lvl {
			lvl = r.Level
		}
	}
	return lvl
}

// Handler filters records by the level of their component before passing
// them on.
type Handler struct {
	inner     slog.Handler
	spec      *Spec
	component string
	level     slog.Level
}

// NewHandler wraps inner. The inner handler should accept every level.
func NewHandler(inner slog.Handler, spec *Spec) *Handler {
	if spec == nil {
		spec = DefaultSpec()
	}
	return &Handler{inner: inner, spec: spec, level: spec.minLevel()}
}

// Enabled implements slog.Handler. Before a component is bound the answer
// is optimistic; Handle makes the final call.
func (h *Handler) Enabled(_ context.Context, lvl slog.Level) bool {
	return lvl >= h.level
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == ComponentKey {
			component = a.Value.String()
			return false
		}
		return true
	})
	if r.Level < h.spec.LevelFor(component) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.inner = h.inner.WithAttrs(attrs)
	for _, a := range attrs {
		if a.Key == ComponentKey {
			c.component = a.Value.String()
			c.level = h.spec.LevelFor(c.component)
		}
	}
	return &c
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	c := *h
	c.inner = h.inner.WithGroup(name)
	return &c
}

// Options configures New.
type Options struct {
	Spec *Spec
	JSON bool
}

// New returns a logger writing text (or JSON) to w, filtered by opts.Spec.
func New(w io.Writer, opts Options) *slog.Logger {
	ho := &slog.HandlerOptions{Level: slog.LevelDebug}
	var inner slog.Handler
	if opts.JSON {
		inner = slog.NewJSONHandler(w, ho)
	} else {
		inner = slog.NewTextHandler(w, ho)
	}
	return slog.New(NewHandler(inner, opts.Spec))
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
