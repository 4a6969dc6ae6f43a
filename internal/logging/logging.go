// Package logging builds the root slog logger and filters records by the
// component that emitted them.
//
// Loggers are injected. A component takes an optional *slog.Logger, passes
// it through Default and scopes it once with With(ComponentKey, name). Only
// cmd/weavequery builds a root logger, and nothing calls slog.SetDefault.
//
// Log points are request boundaries, cache misses and degraded results.
// Per-value loops such as the resolver worklist and row evaluation stay quiet.
package logging

import "log/slog"

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Default returns l, or a discarding logger when l is nil.
func Default(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
