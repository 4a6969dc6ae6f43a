package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Options configures the root logger built by main.
type Options struct {
	Format     string            // "text" (default) or "json"
	Level      string            // default level name, e.g. "info"
	Components map[string]string // per-component level overrides
}

// ParseLevel accepts slog level names case-insensitively ("debug", "WARN",
// "info+2"). An empty name is info.
func ParseLevel(name string) (slog.Level, error) {
	if strings.TrimSpace(name) == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", name, err)
	}
	return lvl, nil
}

// New builds the root logger and returns its filter handler so callers can
// adjust component levels at runtime.
func New(w io.Writer, opts Options) (*slog.Logger, *ComponentFilterHandler, error) {
	def, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	// The base handler accepts everything; ComponentFilterHandler decides.
	hopts := &slog.HandlerOptions{Level: slog.LevelDebug - 4}
	var base slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		base = slog.NewTextHandler(w, hopts)
	case "json":
		base = slog.NewJSONHandler(w, hopts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	filter := NewComponentFilterHandler(base, def)
	for component, name := range opts.Components {
		lvl, err := ParseLevel(name)
		if err != nil {
			return nil, nil, fmt.Errorf("component %s: %w", component, err)
		}
		filter.SetLevel(component, lvl)
	}
	return slog.New(filter), filter, nil
}
