// Package settings defines the string-keyed store used for persisted UI
// state such as saved grid views.
//
// Values are opaque strings. Callers own their encoding and must tolerate
// malformed values written by other versions.
package settings

import (
	"context"
	"slices"
	"strings"
)

// Store persists string settings by key.
type Store interface {
	// Get returns the value for key, or nil if the key is not set.
	Get(ctx context.Context, key string) (*string, error)
	// Put sets key to value, replacing any previous value.
	Put(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every setting whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string]string, error)
	// Close releases resources held by the store.
	Close() error
}

// Prefixes returns the distinct key prefixes before the first "." in keys,
// in sorted order. Saved views use this to enumerate view names.
func Prefixes(keys map[string]string) []string {
	seen := make(map[string]bool)
	var out []string
	for k := range keys {
		name, _, ok := strings.Cut(k, ".")
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
