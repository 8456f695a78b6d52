// Package metrics provides in-process counters for the render pipeline.
//
// The Collector accumulates counters across one controller/worker pair's
// lifetime. It is a leaf package with no internal dependencies. All
// increment methods are nil-receiver safe so instrumentation can be
// dropped without branching at call sites.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after
// creation.
type Snapshot struct {
	// Job lifecycle
	JobsStarted   int64
	JobsCompleted int64
	JobsFailed    int64

	// File resolution
	ReadRequests   int64 // READ_FILES round trips
	CacheHits      int64
	CacheMisses    int64
	FilesMissing   int64 // logical names with no local match
	StaleResponses int64 // READ_FILES_RESPONSE with no pending request

	// Output
	ChunksEmitted int64
	BytesEmitted  int64

	// Decode
	DecodeFailures int64
}

// Collector accumulates render pipeline counters.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	jobsStarted   int64
	jobsCompleted int64
	jobsFailed    int64

	readRequests   int64
	cacheHits      int64
	cacheMisses    int64
	filesMissing   int64
	staleResponses int64

	chunksEmitted int64
	bytesEmitted  int64

	decodeFailures int64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// IncJobStarted records a job submission reaching the worker.
func (c *Collector) IncJobStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.jobsStarted++
	c.mu.Unlock()
}

// IncJobCompleted records a job reaching the Completed state.
func (c *Collector) IncJobCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.jobsCompleted++
	c.mu.Unlock()
}

// IncJobFailed records a job reaching the Failed state.
func (c *Collector) IncJobFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.jobsFailed++
	c.mu.Unlock()
}

// IncReadRequests records one READ_FILES round trip.
func (c *Collector) IncReadRequests() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.readRequests++
	c.mu.Unlock()
}

// AddCacheHits records n session cache hits.
func (c *Collector) AddCacheHits(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cacheHits += n
	c.mu.Unlock()
}

// AddCacheMisses records n session cache misses.
func (c *Collector) AddCacheMisses(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cacheMisses += n
	c.mu.Unlock()
}

// AddFilesMissing records n logical names that resolved to nothing.
func (c *Collector) AddFilesMissing(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.filesMissing += n
	c.mu.Unlock()
}

// IncStaleResponses records a response arriving for a torn-down session.
func (c *Collector) IncStaleResponses() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.staleResponses++
	c.mu.Unlock()
}

// AddChunk records one emitted output chunk of the given size.
func (c *Collector) AddChunk(bytes int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunksEmitted++
	c.bytesEmitted += bytes
	c.mu.Unlock()
}

// IncDecodeFailures records one input buffer that failed to decode.
func (c *Collector) IncDecodeFailures() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.decodeFailures++
	c.mu.Unlock()
}

// Snapshot returns a copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		JobsStarted:    c.jobsStarted,
		JobsCompleted:  c.jobsCompleted,
		JobsFailed:     c.jobsFailed,
		ReadRequests:   c.readRequests,
		CacheHits:      c.cacheHits,
		CacheMisses:    c.cacheMisses,
		FilesMissing:   c.filesMissing,
		StaleResponses: c.staleResponses,
		ChunksEmitted:  c.chunksEmitted,
		BytesEmitted:   c.bytesEmitted,
		DecodeFailures: c.decodeFailures,
	}
}
