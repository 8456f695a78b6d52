package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cadenzalab/bmsrender/types"
)

// encodeFrame encodes a payload with length prefix.
func encodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

func TestFrameRoundTrip_Render(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	opts := types.DefaultRenderOptions()
	sent := &types.Render{
		Type:      types.KindRender,
		ID:        "job-001",
		EntryText: "#TITLE test",
		Options:   opts,
	}
	if err := enc.WriteMessage(sent); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	dec := NewDecoder(&buf)
	payload, err := dec.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	msg, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}

	got, ok := msg.(*types.Render)
	if !ok {
		t.Fatalf("expected *types.Render, got %T", msg)
	}
	if got.ID != sent.ID {
		t.Errorf("ID = %q, want %q", got.ID, sent.ID)
	}
	if got.EntryText != sent.EntryText {
		t.Errorf("EntryText = %q, want %q", got.EntryText, sent.EntryText)
	}
	if got.Options.SampleRate != opts.SampleRate {
		t.Errorf("SampleRate = %d, want %d", got.Options.SampleRate, opts.SampleRate)
	}
}

func TestFrameRoundTrip_ReadFilesResponse(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	sent := &types.ReadFilesResponse{
		Type:    types.KindReadFilesResponse,
		ID:      "job-002",
		Buffers: [][]byte{[]byte("abc"), nil, []byte("xyz")},
	}
	if err := enc.WriteMessage(sent); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	payload, err := NewDecoder(&buf).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	msg, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}

	got := msg.(*types.ReadFilesResponse)
	if len(got.Buffers) != 3 {
		t.Fatalf("Buffers length = %d, want 3", len(got.Buffers))
	}
	if got.Buffers[1] != nil {
		t.Errorf("Buffers[1] = %v, want nil", got.Buffers[1])
	}
	if string(got.Buffers[0]) != "abc" || string(got.Buffers[2]) != "xyz" {
		t.Errorf("Buffers content mismatch: %q %q", got.Buffers[0], got.Buffers[2])
	}
}

func TestFrameRoundTrip_ErrorOmitsEmptyID(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.WriteMessage(&types.Error{Type: types.KindError, Error: "boom"}); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	payload, err := NewDecoder(&buf).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	msg, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	got := msg.(*types.Error)
	if got.ID != "" {
		t.Errorf("ID = %q, want empty", got.ID)
	}
	if got.Error != "boom" {
		t.Errorf("Error = %q, want %q", got.Error, "boom")
	}
}

func TestReadFrame_EOF(t *testing.T) {
	dec := NewDecoder(bytes.NewReader(nil))
	_, err := dec.ReadFrame()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadFrame_PartialPrefix(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte{0x00, 0x01}))
	_, err := dec.ReadFrame()

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %v", err)
	}
	if frameErr.Kind != FrameErrorPartial {
		t.Errorf("Kind = %d, want FrameErrorPartial", frameErr.Kind)
	}
	if !IsFatalFrameError(err) {
		t.Error("partial frame should be fatal")
	}
}

func TestReadFrame_PartialPayload(t *testing.T) {
	frame := encodeFrame([]byte("payload"))
	dec := NewDecoder(bytes.NewReader(frame[:len(frame)-3]))
	_, err := dec.ReadFrame()

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %v", err)
	}
	if frameErr.Kind != FrameErrorPartial {
		t.Errorf("Kind = %d, want FrameErrorPartial", frameErr.Kind)
	}
}

func TestReadFrame_TooLarge(t *testing.T) {
	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], MaxPayloadSize+1)
	dec := NewDecoder(bytes.NewReader(prefix[:]))
	_, err := dec.ReadFrame()

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %v", err)
	}
	if frameErr.Kind != FrameErrorTooLarge {
		t.Errorf("Kind = %d, want FrameErrorTooLarge", frameErr.Kind)
	}
	if !IsFatalFrameError(err) {
		t.Error("oversized frame should be fatal")
	}
}

func TestDecodeMessage_UnknownKind(t *testing.T) {
	payload, err := msgpack.Marshal(map[string]any{"type": "telemetry"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	_, err = DecodeMessage(payload)
	if !IsUnknownKind(err) {
		t.Fatalf("expected unknown-kind error, got %v", err)
	}
	if IsFatalFrameError(err) {
		t.Error("unknown kind must not be fatal")
	}
}

func TestDecodeMessage_Garbage(t *testing.T) {
	_, err := DecodeMessage([]byte{0xc1, 0xff, 0x00})
	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %v", err)
	}
	if frameErr.Kind != FrameErrorDecode {
		t.Errorf("Kind = %d, want FrameErrorDecode", frameErr.Kind)
	}
	if IsFatalFrameError(err) {
		t.Error("decode error must not be fatal")
	}
}

func TestDecodeMessage_AllKinds(t *testing.T) {
	tests := []struct {
		name string
		msg  any
	}{
		{"init", &types.Init{Type: types.KindInit}},
		{"warn", &types.Warn{Type: types.KindWarn, Message: "advisory"}},
		{"error", &types.Error{Type: types.KindError, ID: "j1", Error: "bad"}},
		{"result", &types.Result{Type: types.KindResult, ID: "j1", Buffer: []byte{1, 2}}},
		{"read_files", &types.ReadFiles{Type: types.KindReadFiles, ID: "j1", Paths: []string{"kick.wav"}}},
		{"progress", &types.Progress{Type: types.KindProgress, ID: "j1", Progress: 50, Stage: "Mixing audio"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := msgpack.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			decoded, err := DecodeMessage(payload)
			if err != nil {
				t.Fatalf("DecodeMessage failed: %v", err)
			}
			if want, got := typeName(tt.msg), typeName(decoded); want != got {
				t.Errorf("decoded type = %s, want %s", got, want)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *types.Init:
		return "init"
	case *types.Warn:
		return "warn"
	case *types.Error:
		return "error"
	case *types.Result:
		return "result"
	case *types.ReadFiles:
		return "read_files"
	case *types.Progress:
		return "progress"
	case *types.Render:
		return "render"
	case *types.ReadFilesResponse:
		return "read_files_response"
	default:
		return "unknown"
	}
}

func TestEncoder_MultipleFramesSequential(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	for i := 0; i < 3; i++ {
		if err := enc.WriteMessage(&types.Init{Type: types.KindInit}); err != nil {
			t.Fatalf("WriteMessage %d failed: %v", i, err)
		}
	}

	dec := NewDecoder(&buf)
	for i := 0; i < 3; i++ {
		if _, err := dec.ReadFrame(); err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
	}
	if _, err := dec.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after last frame, got %v", err)
	}
}
