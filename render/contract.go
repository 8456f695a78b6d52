// Package render defines the conversion capability contract and ships
// the reference chart-to-WAV converter.
//
// The protocol treats conversion as an opaque capability: the worker
// hands the routine the job's entry chart text, the output options, and
// a JobIO for pulling input bytes and pushing output. Everything about
// how bytes become audio is the converter's business.
package render

import (
	"context"

	"github.com/cadenzalab/bmsrender/types"
)

// JobIO is the narrow surface a conversion routine sees of its job.
type JobIO interface {
	// GetManyBytes returns one optional buffer per logical file name,
	// in request order. Nil entries mean "not found" and the routine is
	// expected to tolerate them (e.g. render silence in their place).
	// Suspends until the controller answers; this is the routine's only
	// cross-thread suspension point.
	GetManyBytes(ctx context.Context, paths []string) ([][]byte, error)

	// EmitChunk appends one output chunk. Chunk order defines final
	// byte order. The routine relinquishes the slice.
	EmitChunk(chunk []byte)

	// ReportProgress reports incremental status as a percentage in
	// [0, 100] with a human-readable stage label.
	ReportProgress(pct int, stage string)
}

// Converter is the conversion capability. It runs to completion on the
// worker, emitting chunks and progress through jio, and returns an error
// to fail the job. Exactly one terminal message per job is derived from
// its return value.
type Converter func(ctx context.Context, entryText string, opts types.RenderOptions, jio JobIO) error
