// Package types defines the wire contract between the render controller
// and the render worker.
//
// Every message carries exactly one `type` discriminator; payload fields
// are fixed per discriminator value. Messages belonging to one job echo
// the job's correlation id unchanged. All fields use msgpack tags to pin
// the wire format.
package types

// Kind is the message type discriminator.
type Kind string

// Message kinds. INIT flows both ways (request and acknowledgement);
// RENDER and READ_FILES_RESPONSE flow controller→worker; the rest flow
// worker→controller.
const (
	KindInit              Kind = "init"
	KindWarn              Kind = "warn"
	KindError             Kind = "error"
	KindResult            Kind = "result"
	KindReadFiles         Kind = "read_files"
	KindProgress          Kind = "progress"
	KindRender            Kind = "render"
	KindReadFilesResponse Kind = "read_files_response"
)

// IsTerminal returns true if this kind ends a job's message stream.
func (k Kind) IsTerminal() bool {
	return k == KindResult || k == KindError
}

// Init requests capability bring-up (controller→worker) or acknowledges
// that bring-up succeeded (worker→controller). Carries no payload.
type Init struct {
	Type Kind `msgpack:"type"`
}

// Warn is a non-fatal advisory from the worker.
type Warn struct {
	Type    Kind   `msgpack:"type"`
	Message string `msgpack:"message"`
}

// Error reports a job-scoped failure (ID set) or a job-independent
// failure such as capability bring-up (ID empty).
type Error struct {
	Type  Kind   `msgpack:"type"`
	ID    string `msgpack:"id,omitempty"`
	Error string `msgpack:"error"`
}

// Render starts one job identified by ID. EntryText is the full text of
// the job's entry chart; Options configures the output encoding.
type Render struct {
	Type      Kind          `msgpack:"type"`
	ID        string        `msgpack:"id"`
	EntryText string        `msgpack:"entry_text"`
	Options   RenderOptions `msgpack:"options"`
}

// ReadFiles requests bytes for the named logical files of job ID.
// At most one ReadFiles per job may be outstanding at any time.
type ReadFiles struct {
	Type  Kind     `msgpack:"type"`
	ID    string   `msgpack:"id"`
	Paths []string `msgpack:"paths"`
}

// ReadFilesResponse answers a ReadFiles. Buffers is positionally aligned
// with the request's Paths and equal in length; a nil entry means "not
// found", which is not an error.
type ReadFilesResponse struct {
	Type    Kind     `msgpack:"type"`
	ID      string   `msgpack:"id"`
	Buffers [][]byte `msgpack:"buffers"`
}

// Progress reports incremental job status. Progress is a percentage in
// [0, 100]; Stage is a human-readable label.
type Progress struct {
	Type     Kind   `msgpack:"type"`
	ID       string `msgpack:"id"`
	Progress int    `msgpack:"progress"`
	Stage    string `msgpack:"stage"`
}

// Result carries the final encoded output bytes for job ID. It is the
// last message of a successful job.
type Result struct {
	Type   Kind   `msgpack:"type"`
	ID     string `msgpack:"id"`
	Buffer []byte `msgpack:"buffer"`
}
