// Package storetest provides a conformance suite for settings.Store
// implementations.
package storetest

import (
	"context"
	"reflect"
	"testing"

	"weavequery/internal/settings"
)

// TestStore runs the conformance suite. newStore must return a fresh, empty
// store for each call.
func TestStore(t *testing.T, newStore func(t *testing.T) settings.Store) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		v, err := s.Get(ctx, "nope")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if v != nil {
			t.Errorf("expected nil, got %q", *v)
		}
	})

	t.Run("PutGet", func(t *testing.T) {
		s := newStore(t)
		if err := s.Put(ctx, "calls.sort", `[{"field":"started_at","sort":"desc"}]`); err != nil {
			t.Fatalf("Put: %v", err)
		}
		v, err := s.Get(ctx, "calls.sort")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if v == nil || *v != `[{"field":"started_at","sort":"desc"}]` {
			t.Errorf("Get = %v", v)
		}
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		s := newStore(t)
		if err := s.Put(ctx, "k", "1"); err != nil {
			t.Fatal(err)
		}
		if err := s.Put(ctx, "k", "2"); err != nil {
			t.Fatal(err)
		}
		v, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatal(err)
		}
		if v == nil || *v != "2" {
			t.Errorf("Get = %v, want 2", v)
		}
	})

	t.Run("EmptyValue", func(t *testing.T) {
		s := newStore(t)
		if err := s.Put(ctx, "k", ""); err != nil {
			t.Fatal(err)
		}
		v, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatal(err)
		}
		if v == nil || *v != "" {
			t.Errorf("empty value should be distinguishable from missing, got %v", v)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		if err := s.Put(ctx, "k", "v"); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		v, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatal(err)
		}
		if v != nil {
			t.Errorf("expected nil after delete, got %q", *v)
		}
		if err := s.Delete(ctx, "k"); err != nil {
			t.Errorf("Delete of missing key: %v", err)
		}
	})

	t.Run("ListPrefix", func(t *testing.T) {
		s := newStore(t)
		for k, v := range map[string]string{
			"calls.page":     "1",
			"calls.pageSize": "50",
			"evals.page":     "0",
		} {
			if err := s.Put(ctx, k, v); err != nil {
				t.Fatal(err)
			}
		}

		got, err := s.List(ctx, "calls.")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		want := map[string]string{"calls.page": "1", "calls.pageSize": "50"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("List(calls.) = %v, want %v", got, want)
		}

		all, err := s.List(ctx, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 3 {
			t.Errorf("List(\"\") returned %d entries, want 3", len(all))
		}
		if names := settings.Prefixes(all); !reflect.DeepEqual(names, []string{"calls", "evals"}) {
			t.Errorf("Prefixes = %v", names)
		}
	})
}
