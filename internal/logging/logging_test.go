package logging

import (
	"context"
	"log/slog"
	"sync"
	"testing"
)

func TestDefault(t *testing.T) {
	if l := Default(nil); l.Enabled(context.Background(), slog.LevelError) {
		t.Error("Default(nil) logs")
	}
	l := slog.New(slog.DiscardHandler)
	if Default(l) != l {
		t.Error("Default replaced a non-nil logger")
	}
}

// recorder keeps the messages of every record it receives. Handlers derived
// through WithAttrs share the same storage.
type recorder struct {
	mu   *sync.Mutex
	msgs *[]string
}

func newRecorder() recorder {
	return recorder{mu: &sync.Mutex{}, msgs: &[]string{}}
}

func (r recorder) Enabled(context.Context, slog.Level) bool { return true }

func (r recorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.msgs = append(*r.msgs, rec.Message)
	return nil
}

func (r recorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r recorder) WithGroup(string) slog.Handler      { return r }

func (r recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), *r.msgs...)
}

func TestComponentFilterHandler(t *testing.T) {
	type entry struct {
		component string // "" logs without a component
		scoped    bool   // bind the component with With instead of per record
		level     slog.Level
		msg       string
	}
	tests := []struct {
		name      string
		def       slog.Level
		overrides map[string]slog.Level
		entries   []entry
		want      []string
	}{
		{
			name: "default level",
			def:  slog.LevelInfo,
			entries: []entry{
				{"memo", false, slog.LevelDebug, "dropped"},
				{"memo", false, slog.LevelInfo, "info"},
				{"", false, slog.LevelWarn, "bare warn"},
			},
			want: []string{"info", "bare warn"},
		},
		{
			name:      "override lowers one component",
			def:       slog.LevelWarn,
			overrides: map[string]slog.Level{"resolver": slog.LevelDebug},
			entries: []entry{
				{"resolver", false, slog.LevelDebug, "resolver debug"},
				{"memo", false, slog.LevelInfo, "memo info"},
				{"resolver", true, slog.LevelDebug, "scoped resolver debug"},
				{"", false, slog.LevelInfo, "bare info"},
			},
			want: []string{"resolver debug", "scoped resolver debug"},
		},
		{
			name:      "override raises one component",
			def:       slog.LevelDebug,
			overrides: map[string]slog.Level{"server": slog.LevelError},
			entries: []entry{
				{"server", true, slog.LevelWarn, "server warn"},
				{"tracestore", true, slog.LevelDebug, "store debug"},
			},
			want: []string{"store debug"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			h := NewComponentFilterHandler(rec, tt.def)
			for c, lvl := range tt.overrides {
				h.SetLevel(c, lvl)
			}
			root := slog.New(h)
			for _, e := range tt.entries {
				switch {
				case e.component == "":
					root.Log(context.Background(), e.level, e.msg)
				case e.scoped:
					root.With(ComponentKey, e.component).Log(context.Background(), e.level, e.msg)
				default:
					root.Log(context.Background(), e.level, e.msg, ComponentKey, e.component)
				}
			}
			got := rec.got()
			if len(got) != len(tt.want) {
				t.Fatalf("logged %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("record %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSetLevelReachesScopedLoggers(t *testing.T) {
	rec := newRecorder()
	h := NewComponentFilterHandler(rec, slog.LevelInfo)
	memo := slog.New(h).With(ComponentKey, "memo")

	memo.Debug("before")
	h.SetLevel("memo", slog.LevelDebug)
	memo.Debug("after set")
	h.ClearLevel("memo")
	memo.Debug("after clear")
	h.ClearLevel("never-set")

	if got := rec.got(); len(got) != 1 || got[0] != "after set" {
		t.Errorf("logged %v, want [after set]", got)
	}
	if h.Level("memo") != slog.LevelInfo || h.DefaultLevel() != slog.LevelInfo {
		t.Errorf("levels = %v/%v after clear", h.Level("memo"), h.DefaultLevel())
	}
}

func TestEnabledUsesLowestOverride(t *testing.T) {
	h := NewComponentFilterHandler(newRecorder(), slog.LevelWarn)
	ctx := context.Background()
	if h.Enabled(ctx, slog.LevelInfo) {
		t.Error("info enabled without overrides")
	}
	h.SetLevel("resolver", slog.LevelDebug)
	if !h.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug disabled with a debug override")
	}
	scoped := h.WithAttrs([]slog.Attr{slog.String(ComponentKey, "memo")})
	if scoped.Enabled(ctx, slog.LevelDebug) {
		t.Error("scoped memo handler enabled at debug")
	}
}

func TestWithGroupKeepsFiltering(t *testing.T) {
	rec := newRecorder()
	h := NewComponentFilterHandler(rec, slog.LevelInfo)
	l := slog.New(h).With(ComponentKey, "server").WithGroup("req")
	l.Debug("dropped")
	l.Info("kept")
	if got := rec.got(); len(got) != 1 || got[0] != "kept" {
		t.Errorf("logged %v, want [kept]", got)
	}
}

func TestConcurrentSetLevel(t *testing.T) {
	h := NewComponentFilterHandler(newRecorder(), slog.LevelInfo)
	l := slog.New(h).With(ComponentKey, "memo")
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Go(func() {
			for j := range 100 {
				if (i+j)%2 == 0 {
					h.SetLevel("memo", slog.LevelDebug)
				} else {
					h.ClearLevel("memo")
				}
				l.Debug("x")
			}
		})
	}
	wg.Wait()
}
