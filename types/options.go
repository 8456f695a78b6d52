package types

import "fmt"

// SampleFormat selects the output sample representation.
type SampleFormat string

// Sample format values.
const (
	// SampleFormatInt is 16-bit signed integer PCM.
	SampleFormatInt SampleFormat = "int"
	// SampleFormatFloat is 32-bit IEEE float PCM.
	SampleFormatFloat SampleFormat = "float"
)

// ResampleQuality selects the resampling algorithm for input audio whose
// rate differs from the output rate.
type ResampleQuality string

// Resample quality values.
const (
	// ResampleLinear is fast linear interpolation.
	ResampleLinear ResampleQuality = "linear"
	// ResampleSinc is band-limited windowed-sinc interpolation.
	ResampleSinc ResampleQuality = "sinc"
)

// RenderOptions configures one render job's output encoding. Carried in
// the RENDER message.
type RenderOptions struct {
	Channels   int             `msgpack:"channels" yaml:"channels"`
	SampleRate int             `msgpack:"sample_rate" yaml:"sample_rate"`
	BitDepth   int             `msgpack:"bit_depth" yaml:"bit_depth"`
	Format     SampleFormat    `msgpack:"format" yaml:"format"`
	Resample   ResampleQuality `msgpack:"resample" yaml:"resample"`
}

// DefaultRenderOptions returns CD-style defaults: stereo, 44.1 kHz,
// 16-bit integer PCM, linear resampling.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		Channels:   2,
		SampleRate: 44100,
		BitDepth:   16,
		Format:     SampleFormatInt,
		Resample:   ResampleLinear,
	}
}

// Validate checks option consistency. Integer output is 16-bit, float
// output is 32-bit; other combinations are rejected.
func (o RenderOptions) Validate() error {
	if o.Channels < 1 || o.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", o.Channels)
	}
	if o.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", o.SampleRate)
	}
	switch o.Format {
	case SampleFormatInt:
		if o.BitDepth != 16 {
			return fmt.Errorf("int format requires 16-bit depth, got %d", o.BitDepth)
		}
	case SampleFormatFloat:
		if o.BitDepth != 32 {
			return fmt.Errorf("float format requires 32-bit depth, got %d", o.BitDepth)
		}
	default:
		return fmt.Errorf("unknown sample format %q", o.Format)
	}
	switch o.Resample {
	case ResampleLinear, ResampleSinc:
	default:
		return fmt.Errorf("unknown resample quality %q", o.Resample)
	}
	return nil
}
