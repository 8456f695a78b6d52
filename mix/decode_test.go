package mix

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/cadenzalab/bmsrender/types"
)

// makeWAV assembles a RIFF/WAVE byte stream from raw chunk parameters.
func makeWAV(formatTag uint16, channels, rate, bits int, pcm []byte) []byte {
	out := []byte("RIFF")
	out = binary.LittleEndian.AppendUint32(out, uint32(36+len(pcm)))
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	out = binary.LittleEndian.AppendUint16(out, formatTag)
	out = binary.LittleEndian.AppendUint16(out, uint16(channels))
	out = binary.LittleEndian.AppendUint32(out, uint32(rate))
	out = binary.LittleEndian.AppendUint32(out, uint32(rate*channels*bits/8))
	out = binary.LittleEndian.AppendUint16(out, uint16(channels*bits/8))
	out = binary.LittleEndian.AppendUint16(out, uint16(bits))
	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(pcm)))
	return append(out, pcm...)
}

func pcm16(samples ...float32) []byte {
	return Int16ChunkBytes(samples)
}

func TestDecodeAudio_PCM16Passthrough(t *testing.T) {
	data := makeWAV(wavFormatPCM, 1, 44100, 16, pcm16(0, 0.5, -0.5))

	dec, err := DecodeAudio(data, 44100, 1, types.ResampleLinear)
	if err != nil {
		t.Fatalf("DecodeAudio failed: %v", err)
	}
	if dec.Frames != 3 {
		t.Fatalf("frames = %d, want 3", dec.Frames)
	}
	want := []float32{0, 0.5, -0.5}
	for i, w := range want {
		if math.Abs(float64(dec.Samples[i]-w)) > 1e-3 {
			t.Errorf("sample %d = %g, want ~%g", i, dec.Samples[i], w)
		}
	}
}

func TestDecodeAudio_MonoToStereo(t *testing.T) {
	data := makeWAV(wavFormatPCM, 1, 44100, 16, pcm16(0.25, -0.25))

	dec, err := DecodeAudio(data, 44100, 2, types.ResampleLinear)
	if err != nil {
		t.Fatalf("DecodeAudio failed: %v", err)
	}
	if dec.Frames != 2 || len(dec.Samples) != 4 {
		t.Fatalf("frames = %d samples = %d, want 2 frames stereo", dec.Frames, len(dec.Samples))
	}
	if dec.Samples[0] != dec.Samples[1] || dec.Samples[2] != dec.Samples[3] {
		t.Error("mono upmix should duplicate each frame")
	}
}

func TestDecodeAudio_StereoToMono(t *testing.T) {
	data := makeWAV(wavFormatPCM, 2, 44100, 16, pcm16(0.5, -0.5, 0.25, 0.25))

	dec, err := DecodeAudio(data, 44100, 1, types.ResampleLinear)
	if err != nil {
		t.Fatalf("DecodeAudio failed: %v", err)
	}
	if dec.Frames != 2 {
		t.Fatalf("frames = %d, want 2", dec.Frames)
	}
	if math.Abs(float64(dec.Samples[0])) > 1e-3 {
		t.Errorf("downmix of (0.5, -0.5) = %g, want ~0", dec.Samples[0])
	}
	if math.Abs(float64(dec.Samples[1]-0.25)) > 1e-3 {
		t.Errorf("downmix of (0.25, 0.25) = %g, want ~0.25", dec.Samples[1])
	}
}

func TestDecodeAudio_Unsigned8Bit(t *testing.T) {
	data := makeWAV(wavFormatPCM, 1, 44100, 8, []byte{0, 255})

	dec, err := DecodeAudio(data, 44100, 1, types.ResampleLinear)
	if err != nil {
		t.Fatalf("DecodeAudio failed: %v", err)
	}
	if dec.Samples[0] != -1 || dec.Samples[1] != 1 {
		t.Errorf("8-bit range = %g..%g, want -1..1", dec.Samples[0], dec.Samples[1])
	}
}

func TestDecodeAudio_Float32(t *testing.T) {
	pcm := FloatChunkBytes([]float32{0.125, -0.625})
	data := makeWAV(wavFormatFloat, 1, 44100, 32, pcm)

	dec, err := DecodeAudio(data, 44100, 1, types.ResampleLinear)
	if err != nil {
		t.Fatalf("DecodeAudio failed: %v", err)
	}
	if dec.Samples[0] != 0.125 || dec.Samples[1] != -0.625 {
		t.Errorf("float decode = %v", dec.Samples)
	}
}

func TestDecodeAudio_LinearUpsample(t *testing.T) {
	samples := make([]float32, 4)
	for i := range samples {
		samples[i] = 0.5
	}
	data := makeWAV(wavFormatPCM, 1, 22050, 16, pcm16(samples...))

	dec, err := DecodeAudio(data, 44100, 1, types.ResampleLinear)
	if err != nil {
		t.Fatalf("DecodeAudio failed: %v", err)
	}
	if dec.Frames < 7 || dec.Frames > 8 {
		t.Fatalf("frames = %d, want roughly double the source", dec.Frames)
	}
	for i, s := range dec.Samples {
		if math.Abs(float64(s-0.5)) > 1e-3 {
			t.Errorf("sample %d = %g, want ~0.5 (constant signal)", i, s)
		}
	}
}

func TestDecodeAudio_SincUpsample(t *testing.T) {
	samples := make([]float32, 64)
	for i := range samples {
		samples[i] = 0.5
	}
	data := makeWAV(wavFormatPCM, 1, 22050, 16, pcm16(samples...))

	dec, err := DecodeAudio(data, 44100, 1, types.ResampleSinc)
	if err != nil {
		t.Fatalf("DecodeAudio failed: %v", err)
	}
	if dec.Frames != 128 {
		t.Fatalf("frames = %d, want 128", dec.Frames)
	}
	// The kernel rings at the edges; the interior must hold DC.
	mid := dec.Samples[dec.Frames/2]
	if math.Abs(float64(mid-0.5)) > 0.02 {
		t.Errorf("interior sample = %g, want ~0.5", mid)
	}
}

func TestDecodeAudio_Errors(t *testing.T) {
	t.Run("not wav", func(t *testing.T) {
		_, err := DecodeAudio([]byte("OggS garbage here"), 44100, 2, types.ResampleLinear)
		if !errors.Is(err, ErrNotWAV) {
			t.Errorf("err = %v, want ErrNotWAV", err)
		}
	})

	t.Run("unsupported format tag", func(t *testing.T) {
		data := makeWAV(0x0055, 1, 44100, 16, pcm16(0))
		_, err := DecodeAudio(data, 44100, 2, types.ResampleLinear)
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("err = %v, want ErrUnsupportedFormat", err)
		}
	})

	t.Run("no data chunk", func(t *testing.T) {
		data := makeWAV(wavFormatPCM, 1, 44100, 16, nil)
		// Strip the empty data chunk header.
		data = data[:len(data)-8]
		_, err := DecodeAudio(data, 44100, 2, types.ResampleLinear)
		if !errors.Is(err, ErrNoDataChunk) {
			t.Errorf("err = %v, want ErrNoDataChunk", err)
		}
	})
}
