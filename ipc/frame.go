// Package ipc implements the framed message transport between the
// render controller and the render worker.
//
// Each frame is a 4-byte big-endian length prefix followed by one
// msgpack-encoded message from the types package. The decoder
// discriminates messages by their `type` field.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cadenzalab/bmsrender/types"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (256 MiB), including the
	// length prefix. RESULT frames carry a whole rendered WAV, so the
	// cap is generous.
	MaxFrameSize = 256 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
	// FrameErrorUnknownKind indicates an unrecognized type discriminator.
	FrameErrorUnknownKind
)

// FrameError represents a framing or decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if this error must terminate the stream.
// Partial and oversized frames leave the stream unsynchronized; decode
// errors and unknown kinds are skippable per the message contract.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// IsUnknownKind returns true if the error reports an unrecognized
// message discriminator. Such messages are logged and skipped, never
// fatal.
func IsUnknownKind(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind == FrameErrorUnknownKind
	}
	return false
}

// Decoder decodes length-prefixed msgpack frames from a stream.
type Decoder struct {
	reader io.Reader
}

// NewDecoder creates a new frame decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: r}
}

// ReadFrame reads a single frame and returns the raw payload bytes.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
func (d *Decoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])

	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	_, err = io.ReadFull(d.reader, payload)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return payload, nil
}

// Encoder writes length-prefixed msgpack frames to a stream.
// Safe for concurrent use; each WriteMessage emits exactly one frame.
type Encoder struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewEncoder creates a new frame encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: w}
}

// WriteMessage marshals msg and writes it as a single frame.
func (e *Encoder) WriteMessage(msg any) error {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to encode message",
			Err:  err,
		}
	}
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}

	frame := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame[:LengthPrefixSize], uint32(len(payload)))
	copy(frame[LengthPrefixSize:], payload)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.writer.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// messageProbe is used to peek at the type field without a full decode.
type messageProbe struct {
	Type types.Kind `msgpack:"type"`
}

// DecodeMessage decodes a payload into its concrete message struct,
// discriminating on the `type` field.
func DecodeMessage(payload []byte) (any, error) {
	var probe messageProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode message type",
			Err:  err,
		}
	}

	var msg any
	switch probe.Type {
	case types.KindInit:
		msg = &types.Init{}
	case types.KindWarn:
		msg = &types.Warn{}
	case types.KindError:
		msg = &types.Error{}
	case types.KindResult:
		msg = &types.Result{}
	case types.KindReadFiles:
		msg = &types.ReadFiles{}
	case types.KindProgress:
		msg = &types.Progress{}
	case types.KindRender:
		msg = &types.Render{}
	case types.KindReadFilesResponse:
		msg = &types.ReadFilesResponse{}
	default:
		return nil, &FrameError{
			Kind: FrameErrorUnknownKind,
			Msg:  fmt.Sprintf("unknown message kind %q", probe.Type),
		}
	}

	if err := msgpack.Unmarshal(payload, msg); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("failed to decode %s message", probe.Type),
			Err:  err,
		}
	}
	return msg, nil
}
