package mix

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cadenzalab/bmsrender/types"
)

// Decode errors.
var (
	ErrNotWAV            = errors.New("not a RIFF/WAVE stream")
	ErrNoDataChunk       = errors.New("no data chunk")
	ErrUnsupportedFormat = errors.New("unsupported sample format")
)

// DecodeAudio decodes one audio source to interleaved float32 at the
// target rate and channel count. Only uncompressed WAV (PCM and IEEE
// float) is supported; anything else fails and the caller skips the
// source.
func DecodeAudio(data []byte, targetRate, targetCh int, quality types.ResampleQuality) (Decoded, error) {
	samples, srcRate, srcCh, err := decodeWAV(data)
	if err != nil {
		return Decoded{}, err
	}
	if srcCh < 1 {
		return Decoded{}, ErrUnsupportedFormat
	}

	var out []float32
	if srcRate == targetRate {
		out = convertChannels(samples, srcCh, targetCh)
	} else if quality == types.ResampleSinc {
		out = resampleSinc(samples, srcRate, srcCh, targetRate, targetCh)
	} else {
		out = resampleLinear(samples, srcRate, srcCh, targetRate, targetCh)
	}
	return Decoded{Samples: out, Frames: len(out) / targetCh}, nil
}

// decodeWAV parses a RIFF/WAVE stream into interleaved float32 in
// [-1, 1], returning the source rate and channel count.
func decodeWAV(data []byte) ([]float32, int, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, ErrNotWAV
	}

	var (
		formatTag     uint16
		channels      int
		sampleRate    int
		bitsPerSample int
		haveFmt       bool
		pcm           []byte
	)

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		payload := off + 8
		if payload+size > len(data) {
			break
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			formatTag = binary.LittleEndian.Uint16(data[payload:])
			channels = int(binary.LittleEndian.Uint16(data[payload+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[payload+4:]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[payload+14:]))
			haveFmt = true
		case "data":
			pcm = data[payload : payload+size]
		}
		// Chunks are word-aligned.
		off = payload + size + (size & 1)
	}
	if !haveFmt || channels == 0 || sampleRate == 0 {
		return nil, 0, 0, ErrNotWAV
	}
	if pcm == nil {
		return nil, 0, 0, ErrNoDataChunk
	}

	// WAVE_FORMAT_EXTENSIBLE payloads carry the real tag in the
	// extension; treat them by bit depth like plain PCM.
	const formatExtensible = 0xFFFE
	if formatTag != wavFormatPCM && formatTag != wavFormatFloat && formatTag != formatExtensible {
		return nil, 0, 0, fmt.Errorf("%w: format tag %#04x", ErrUnsupportedFormat, formatTag)
	}

	bytesPer := bitsPerSample / 8
	if bytesPer == 0 {
		return nil, 0, 0, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, bitsPerSample)
	}
	count := len(pcm) / bytesPer
	samples := make([]float32, 0, count)

	switch {
	case bitsPerSample == 8:
		for _, b := range pcm {
			samples = append(samples, float32(b)/255.0*2.0-1.0)
		}
	case bitsPerSample == 16:
		for i := 0; i+2 <= len(pcm); i += 2 {
			v := int16(binary.LittleEndian.Uint16(pcm[i:]))
			samples = append(samples, float32(v)/math.MaxInt16)
		}
	case bitsPerSample == 24:
		for i := 0; i+3 <= len(pcm); i += 3 {
			v := int32(pcm[i]) | int32(pcm[i+1])<<8 | int32(pcm[i+2])<<16
			// Sign-extend from 24 bits.
			v = v << 8 >> 8
			samples = append(samples, float32(v)/float32(1<<23))
		}
	case bitsPerSample == 32 && formatTag == wavFormatFloat:
		for i := 0; i+4 <= len(pcm); i += 4 {
			samples = append(samples, math.Float32frombits(binary.LittleEndian.Uint32(pcm[i:])))
		}
	case bitsPerSample == 32:
		for i := 0; i+4 <= len(pcm); i += 4 {
			v := int32(binary.LittleEndian.Uint32(pcm[i:]))
			samples = append(samples, float32(float64(v)/math.MaxInt32))
		}
	case bitsPerSample == 64 && formatTag == wavFormatFloat:
		for i := 0; i+8 <= len(pcm); i += 8 {
			samples = append(samples, float32(math.Float64frombits(binary.LittleEndian.Uint64(pcm[i:]))))
		}
	default:
		return nil, 0, 0, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, bitsPerSample)
	}

	return samples, sampleRate, channels, nil
}

// convertChannels remaps interleaved samples between channel counts:
// mono duplicates, stereo averages down, anything else copies or
// zero-fills positionally.
func convertChannels(input []float32, srcCh, targetCh int) []float32 {
	if srcCh == targetCh {
		return input
	}
	frames := len(input) / srcCh
	out := make([]float32, 0, frames*targetCh)

	switch {
	case srcCh == 1 && targetCh == 2:
		for _, s := range input {
			out = append(out, s, s)
		}
	case srcCh == 2 && targetCh == 1:
		for i := 0; i+2 <= len(input); i += 2 {
			out = append(out, (input[i]+input[i+1])*0.5)
		}
	default:
		for f := 0; f < frames; f++ {
			base := f * srcCh
			for c := 0; c < targetCh; c++ {
				if c < srcCh {
					out = append(out, input[base+c])
				} else {
					out = append(out, 0)
				}
			}
		}
	}
	return out
}

// resampleLinear resamples with per-frame linear interpolation,
// converting channels in the same pass.
func resampleLinear(input []float32, srcRate, srcCh, targetRate, targetCh int) []float32 {
	frames := len(input) / srcCh
	if frames == 0 {
		return nil
	}
	step := float64(srcRate) / float64(targetRate)
	outFrames := int(math.Ceil(float64(frames) / step))
	out := make([]float32, 0, outFrames*targetCh)

	lastFrame := float64(frames - 1)
	for pos := 0.0; pos <= lastFrame; pos += step {
		i0 := int(pos)
		i1 := i0 + 1
		if i1 > frames-1 {
			i1 = frames - 1
		}
		frac := float32(pos - float64(i0))
		base0 := i0 * srcCh
		base1 := i1 * srcCh

		if targetCh == 2 {
			l0, r0 := stereoFrame(input, base0, srcCh)
			l1, r1 := stereoFrame(input, base1, srcCh)
			out = append(out, l0+(l1-l0)*frac, r0+(r1-r0)*frac)
		} else {
			v0 := monoFrame(input, base0, srcCh)
			v1 := monoFrame(input, base1, srcCh)
			out = append(out, v0+(v1-v0)*frac)
		}
	}
	return out
}

func stereoFrame(input []float32, base, srcCh int) (float32, float32) {
	l := input[base]
	r := l
	if srcCh > 1 {
		r = input[base+1]
	}
	return l, r
}

func monoFrame(input []float32, base, srcCh int) float32 {
	v := input[base]
	if srcCh > 1 {
		v = (v + input[base+1]) * 0.5
	}
	return v
}

// sincTaps is the one-sided window length of the sinc kernel.
const sincTaps = 16

// resampleSinc resamples with a Hann-windowed sinc kernel. Slower than
// linear but with much less aliasing on downsampling.
func resampleSinc(input []float32, srcRate, srcCh, targetRate, targetCh int) []float32 {
	frames := len(input) / srcCh
	if frames == 0 {
		return nil
	}

	// Work on planar mono/stereo then interleave at the target layout.
	planar := deinterleave(input, srcCh)

	ratio := float64(targetRate) / float64(srcRate)
	outFrames := int(math.Ceil(float64(frames) * ratio))
	// Low-pass below the smaller Nyquist when downsampling.
	cutoff := 1.0
	if ratio < 1.0 {
		cutoff = ratio
	}

	resampled := make([][]float32, len(planar))
	for c, ch := range planar {
		out := make([]float32, outFrames)
		for i := range out {
			center := float64(i) / ratio
			lo := int(math.Floor(center)) - sincTaps + 1
			hi := int(math.Floor(center)) + sincTaps
			var acc float64
			for j := lo; j <= hi; j++ {
				if j < 0 || j >= frames {
					continue
				}
				x := (center - float64(j)) * cutoff
				acc += float64(ch[j]) * cutoff * windowedSinc(x, float64(sincTaps))
			}
			out[i] = float32(acc)
		}
		resampled[c] = out
	}

	out := make([]float32, 0, outFrames*targetCh)
	for i := 0; i < outFrames; i++ {
		if targetCh == 2 {
			l := resampled[0][i]
			r := l
			if len(resampled) > 1 {
				r = resampled[1][i]
			}
			out = append(out, l, r)
		} else {
			v := resampled[0][i]
			if len(resampled) > 1 {
				v = (v + resampled[1][i]) * 0.5
			}
			out = append(out, v)
		}
	}
	return out
}

func deinterleave(input []float32, srcCh int) [][]float32 {
	ch := srcCh
	if ch > 2 {
		ch = 2
	}
	frames := len(input) / srcCh
	planar := make([][]float32, ch)
	for c := range planar {
		planar[c] = make([]float32, frames)
	}
	for f := 0; f < frames; f++ {
		for c := 0; c < ch; c++ {
			planar[c][f] = input[f*srcCh+c]
		}
	}
	return planar
}

func windowedSinc(x, taps float64) float64 {
	if x == 0 {
		return 1
	}
	if x <= -taps || x >= taps {
		return 0
	}
	px := math.Pi * x
	// Hann window over the kernel support.
	w := 0.5 * (1 + math.Cos(px/taps))
	return w * math.Sin(px) / px
}
