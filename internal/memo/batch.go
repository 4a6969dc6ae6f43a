package memo

import (
	"context"
	"fmt"

	"weavequery/internal/callgroup"
	"weavequery/internal/metrics"
)

// RefFetcher fetches a batch of refs. Results are positional and nil marks a
// ref the server could not find.
type RefFetcher interface {
	FetchRefs(ctx context.Context, refs []string) ([]any, error)
}

// BatchFetcher memoizes a RefFetcher per ref. Cached refs are answered
// locally and the remaining ones go to the wrapped fetcher in one call.
// A ref already being fetched by a concurrent call, batched or through
// Cache.Get, is waited for instead of fetched again. Missing refs are not
// cached.
type BatchFetcher struct {
	next  RefFetcher
	cache *Cache[any]
}

// NewBatchFetcher wraps next with a cache of maxSize refs.
func NewBatchFetcher(next RefFetcher, maxSize int, opts ...Option) (*BatchFetcher, error) {
	c, err := New[any](maxSize, opts...)
	if err != nil {
		return nil, err
	}
	return &BatchFetcher{next: next, cache: c}, nil
}

// Cache exposes the underlying cache.
func (b *BatchFetcher) Cache() *Cache[any] {
	return b.cache
}

// FetchRefs returns values for refs in order. The upstream fetch runs
// detached from ctx so that callers sharing it are not failed by this
// caller's cancellation; FetchRefs itself returns ctx.Err() once ctx is done.
func (b *BatchFetcher) FetchRefs(ctx context.Context, refs []string) ([]any, error) {
	positions := make(map[string][]int)
	var order []string
	for i, r := range refs {
		if _, seen := positions[r]; !seen {
			order = append(order, r)
		}
		positions[r] = append(positions[r], i)
	}

	vals := make(map[string]any, len(order))
	flights := make(map[string]*callgroup.Flight[string, any])
	var leaders []*callgroup.Flight[string, any]
	var misses []string
	for _, r := range order {
		if v, ok := b.cache.Lookup(r); ok {
			b.cache.metrics.CacheLookup(metrics.CacheHit)
			vals[r] = v
			continue
		}
		f := b.cache.flight.Claim(r)
		flights[r] = f
		if f.Shared() {
			b.cache.metrics.CacheLookup(metrics.CacheShared)
			continue
		}
		// Another flight may have filled the entry between the miss and
		// the claim.
		if v, ok := b.cache.entries.Peek(r); ok {
			b.cache.metrics.CacheLookup(metrics.CacheHit)
			f.Finish(v, nil)
			continue
		}
		b.cache.metrics.CacheLookup(metrics.CacheMiss)
		leaders = append(leaders, f)
		misses = append(misses, r)
	}
	if len(leaders) > 0 {
		go b.fetch(context.WithoutCancel(ctx), misses, leaders)
	}

	for _, r := range order {
		f, ok := flights[r]
		if !ok {
			continue
		}
		v, err := f.Wait(ctx)
		if err != nil {
			return nil, err
		}
		vals[r] = v
	}

	out := make([]any, len(refs))
	for r, ps := range positions {
		for _, p := range ps {
			out[p] = vals[r]
		}
	}
	return out, nil
}

// fetch performs one upstream call for refs and finishes their flights.
func (b *BatchFetcher) fetch(ctx context.Context, refs []string, flights []*callgroup.Flight[string, any]) {
	vals, err := b.next.FetchRefs(ctx, refs)
	if err == nil && len(vals) != len(refs) {
		err = fmt.Errorf("fetch returned %d values for %d refs", len(vals), len(refs))
	}
	if err != nil {
		b.cache.logger.Debug("batch fetch failed", "refs", len(refs), "error", err)
		for _, f := range flights {
			f.Finish(nil, err)
		}
		return
	}
	for i, f := range flights {
		if vals[i] != nil {
			b.cache.Add(refs[i], vals[i])
		}
		f.Finish(vals[i], nil)
	}
}
