package mix

import (
	"encoding/binary"
	"errors"
	"math"
)

// WAV format tags.
const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// ErrOutputTooLarge is returned when the output data exceeds the WAV
// 32-bit size field.
var ErrOutputTooLarge = errors.New("output exceeds WAV 4GB limit")

// EncodeWAVHeader builds the 44-byte RIFF/WAVE header for an output of
// totalSamples interleaved samples.
func EncodeWAVHeader(totalSamples, sampleRate, channels, bitsPerSample int, floatFormat bool) ([]byte, error) {
	audioFormat := uint16(wavFormatPCM)
	if floatFormat {
		audioFormat = wavFormatFloat
	}
	blockAlign := uint16(channels * bitsPerSample / 8)
	byteRate := uint32(sampleRate) * uint32(blockAlign)

	totalBytes := uint64(totalSamples) * uint64(bitsPerSample/8)
	if totalBytes > math.MaxUint32 {
		return nil, ErrOutputTooLarge
	}
	dataLen := uint32(totalBytes)

	header := make([]byte, 0, 44)
	header = append(header, "RIFF"...)
	header = binary.LittleEndian.AppendUint32(header, 36+dataLen)
	header = append(header, "WAVE"...)
	header = append(header, "fmt "...)
	header = binary.LittleEndian.AppendUint32(header, 16)
	header = binary.LittleEndian.AppendUint16(header, audioFormat)
	header = binary.LittleEndian.AppendUint16(header, uint16(channels))
	header = binary.LittleEndian.AppendUint32(header, uint32(sampleRate))
	header = binary.LittleEndian.AppendUint32(header, byteRate)
	header = binary.LittleEndian.AppendUint16(header, blockAlign)
	header = binary.LittleEndian.AppendUint16(header, uint16(bitsPerSample))
	header = append(header, "data"...)
	header = binary.LittleEndian.AppendUint32(header, dataLen)
	return header, nil
}

// Int16ChunkBytes converts float32 samples to little-endian PCM16,
// scaling to full range and clamping out-of-range values.
func Int16ChunkBytes(samples []float32) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		q := math.Round(float64(s) * math.MaxInt16)
		if q > math.MaxInt16 {
			q = math.MaxInt16
		} else if q < math.MinInt16 {
			q = math.MinInt16
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(q)))
	}
	return out
}

// FloatChunkBytes converts float32 samples to little-endian IEEE float
// bytes.
func FloatChunkBytes(samples []float32) []byte {
	out := make([]byte, 0, len(samples)*4)
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(s))
	}
	return out
}
