// Package worker implements the render worker: the message loop, the
// per-job file cache, the batched byte resolver, and output chunk
// accumulation. The worker communicates with the controller exclusively
// through framed messages; it never shares mutable memory with it.
package worker

import (
	"io"

	"github.com/cadenzalab/bmsrender/ipc"
	"github.com/cadenzalab/bmsrender/log"
)

// Messenger is the worker's send primitive. It emits typed messages to
// the controller over one framed stream.
//
// Buffers reachable from a sent message are moved, not shared: once a
// message has been handed to Send, the caller must not read or write
// those buffers again. Send never reports failure to the caller — a
// transport fault is outside the protocol's control and is only logged.
type Messenger struct {
	enc    *ipc.Encoder
	logger *log.Logger
}

// NewMessenger creates a messenger writing frames to w.
func NewMessenger(w io.Writer, logger *log.Logger) *Messenger {
	return &Messenger{
		enc:    ipc.NewEncoder(w),
		logger: logger,
	}
}

// Send emits one message to the controller.
func (m *Messenger) Send(msg any) {
	if err := m.enc.WriteMessage(msg); err != nil {
		m.logger.Warn("send failed", map[string]any{
			"error": err.Error(),
		})
	}
}
