package logging

import (
	"context"
	"log/slog"
	"sync"
)

// ComponentKey is the attribute that names the component a record belongs to.
const ComponentKey = "component"

// levelTable is shared by a ComponentFilterHandler and every handler derived
// from it through WithAttrs or WithGroup, so SetLevel affects loggers that
// were scoped before the call.
type levelTable struct {
	mu       sync.RWMutex
	def      slog.Level
	override map[string]slog.Level
}

func (t *levelTable) level(component string) slog.Level {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if lvl, ok := t.override[component]; ok && component != "" {
		return lvl
	}
	return t.def
}

// minLevel is the lowest level any component would accept.
func (t *levelTable) minLevel() slog.Level {
	t.mu.RLock()
	defer t.mu.RUnlock()
	lowest := t.def
	for _, lvl := range t.override {
		if lvl < lowest {
			lowest = lvl
		}
	}
	return lowest
}

// ComponentFilterHandler filters records by a per-component minimum level.
// Records without a component attribute use the default level. The wrapped
// handler should accept every level; filtering happens here.
type ComponentFilterHandler struct {
	next      slog.Handler
	levels    *levelTable
	component string // from WithAttrs, if any
}

// NewComponentFilterHandler wraps next with component level filtering.
func NewComponentFilterHandler(next slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	return &ComponentFilterHandler{
		next: next,
		levels: &levelTable{
			def:      defaultLevel,
			override: make(map[string]slog.Level),
		},
	}
}

// SetLevel overrides the minimum level for one component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.levels.mu.Lock()
	h.levels.override[component] = level
	h.levels.mu.Unlock()
}

// ClearLevel removes a component override. Clearing an unknown component is a no-op.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	h.levels.mu.Lock()
	delete(h.levels.override, component)
	h.levels.mu.Unlock()
}

// Level returns the effective minimum level for component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	return h.levels.level(component)
}

// DefaultLevel returns the level used for components without an override.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	return h.levels.def
}

func (h *ComponentFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	// The record's own attributes are not visible yet, so only a component
	// bound through WithAttrs can narrow the check.
	if h.component != "" {
		return level >= h.levels.level(h.component)
	}
	return level >= h.levels.minLevel()
}

func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	if component == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == ComponentKey {
				component = a.Value.String()
				return false
			}
			return true
		})
	}
	if r.Level < h.levels.level(component) {
		return nil
	}
	if h.next == nil {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	for _, a := range attrs {
		if a.Key == ComponentKey {
			clone.component = a.Value.String()
		}
	}
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return &clone
}

func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return &clone
}
