package worker

import (
	"context"
	"fmt"

	"github.com/cadenzalab/bmsrender/metrics"
	"github.com/cadenzalab/bmsrender/types"
)

// Resolver serves batched byte lookups for one job. Hits come from the
// job's session cache; misses are fetched from the controller in a
// single aggregated READ_FILES round trip per call.
type Resolver struct {
	id        string
	cache     *CacheManager
	messenger *Messenger
	collector *metrics.Collector
}

// NewResolver creates a resolver bound to one job's session.
func NewResolver(id string, cache *CacheManager, messenger *Messenger, collector *metrics.Collector) *Resolver {
	return &Resolver{
		id:        id,
		cache:     cache,
		messenger: messenger,
		collector: collector,
	}
}

// GetManyBytes returns one optional buffer per requested logical name,
// in request order. A nil entry means the controller could not find the
// file anywhere — not an error; the conversion routine is expected to
// tolerate missing optional assets.
//
// Batching is the point: N names that miss the cache cost exactly one
// cross-thread round trip, not N. When every name hits the cache the
// call returns synchronously without touching the thread boundary.
func (r *Resolver) GetManyBytes(ctx context.Context, paths []string) ([][]byte, error) {
	results := make([][]byte, len(paths))

	var missing []string
	var missingIdx []int
	for i, p := range paths {
		if buf, ok := r.cache.Lookup(r.id, p); ok {
			results[i] = buf
			continue
		}
		missing = append(missing, p)
		missingIdx = append(missingIdx, i)
	}
	r.collector.AddCacheHits(int64(len(paths) - len(missing)))
	r.collector.AddCacheMisses(int64(len(missing)))

	// Fast path: warm cache, no round trip.
	if len(missing) == 0 {
		return results, nil
	}

	wait, err := r.cache.SetPending(r.id)
	if err != nil {
		return nil, err
	}
	r.collector.IncReadRequests()
	r.messenger.Send(&types.ReadFiles{
		Type:  types.KindReadFiles,
		ID:    r.id,
		Paths: missing,
	})

	select {
	case buffers := <-wait:
		if len(buffers) != len(missing) {
			return nil, fmt.Errorf("file response carries %d buffers for %d requested paths",
				len(buffers), len(missing))
		}
		for j, buf := range buffers {
			if buf == nil {
				// Not cached: a later call may re-request the name.
				continue
			}
			r.cache.Store(r.id, missing[j], buf)
			results[missingIdx[j]] = buf
		}
		return results, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
