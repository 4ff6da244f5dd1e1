// Package audio decodes WAV byte buffers into the canonical mono 16 kHz
// float32 PCM sample sequence the feature extractor consumes.
//
// RIFF chunk walking and PCM sample decode are delegated to go-audio/wav
// and go-audio/audio wherever that library's contract covers it. It has
// no IEEE-float decode path (Decoder.FullPCMBuffer interprets every
// sample as an integer of the declared bit depth), so WAVE_FORMAT_IEEE_FLOAT
// containers and headerless streaming chunks - which have no RIFF
// container for the library to parse at all - keep a small hand-rolled
// decode path alongside it.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrUnsupportedFormat means the container or codec is not one of the
// recognized sub-formats (PCM 8/16/24/32-bit, IEEE float 32-bit).
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// ErrMalformedHeader means the RIFF/WAVE structure itself is broken:
// missing chunks, truncated data, or a size that overruns the buffer.
var ErrMalformedHeader = errors.New("audio: malformed header")

// ErrEmptyAudio means the decoded buffer contains zero samples.
var ErrEmptyAudio = errors.New("audio: empty audio")

const targetSampleRate = 16000

const (
	wFormatPCM       = 1
	wFormatIEEEFloat = 3
)

// Buffer is the canonical mono 16 kHz float32 PCM sample sequence
// produced by Decode. Samples are in [-1, 1] with no NaN/Inf.
type Buffer struct {
	Samples []float32
}

// Format describes the PCM layout a streaming session's first chunk
// declared, so subsequent raw chunks in the same stream can be decoded
// consistently with it.
type Format struct {
	AudioFormat   uint16
	NumChannels   int
	SampleRate    int
	BitsPerSample int
}

// RawPCMFallbackFormat is the contract's fallback for streams whose
// first chunk has no RIFF header: 16 kHz mono 16-bit LE PCM.
func RawPCMFallbackFormat() Format {
	return Format{AudioFormat: wFormatPCM, NumChannels: 1, SampleRate: targetSampleRate, BitsPerSample: 16}
}

// DecodeRaw decodes data as headerless PCM in Format f, applying the
// same mixdown and resample pipeline Decode uses for WAV bodies. There
// is no RIFF container here for go-audio/wav to parse, so the sample
// conversion is done directly against f.
func (f Format) DecodeRaw(data []byte) (Buffer, error) {
	samples, err := decodeRawSamples(data, f)
	if err != nil {
		return Buffer{}, err
	}
	mono := mixdown(samples, f.NumChannels)
	resampled := resample(mono, f.SampleRate, targetSampleRate)
	return Buffer{Samples: resampled}, nil
}

// Decode parses a RIFF/WAVE byte buffer into a canonical Buffer.
func Decode(data []byte) (Buffer, error) {
	buf, _, err := DecodeWithFormat(data)
	return buf, err
}

// DecodeWithFormat is Decode plus the declared PCM format, which a
// streaming session needs to decode subsequent headerless chunks the
// same way.
func DecodeWithFormat(data []byte) (Buffer, Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Buffer{}, Format{}, fmt.Errorf("%w: not a valid RIFF/WAVE container", ErrMalformedHeader)
	}

	format := Format{
		AudioFormat:   dec.WavAudioFormat,
		NumChannels:   int(dec.NumChans),
		SampleRate:    int(dec.SampleRate),
		BitsPerSample: int(dec.BitDepth),
	}
	if err := validateFormat(format); err != nil {
		return Buffer{}, Format{}, err
	}

	var samples []float32
	if format.AudioFormat == wFormatIEEEFloat {
		chunk, err := locateDataChunk(data)
		if err != nil {
			return Buffer{}, Format{}, err
		}
		samples, err = decodeFloatSamples(chunk)
		if err != nil {
			return Buffer{}, Format{}, err
		}
	} else {
		intBuf, err := dec.FullPCMBuffer()
		if err != nil {
			return Buffer{}, Format{}, fmt.Errorf("audio: decode wav: %w", err)
		}
		samples = intBufferToFloat32(intBuf, format.BitsPerSample)
	}

	if len(samples) == 0 {
		return Buffer{}, Format{}, ErrEmptyAudio
	}

	mono := mixdown(samples, format.NumChannels)
	resampled := resample(mono, format.SampleRate, targetSampleRate)
	if len(resampled) == 0 {
		return Buffer{}, Format{}, ErrEmptyAudio
	}

	return Buffer{Samples: resampled}, format, nil
}

// SniffRIFF reports whether data begins with a RIFF/WAVE header, used by
// the streaming session to decide whether the first chunk is a WAV
// buffer or raw PCM. This is a magic-byte check, not a decode, so it
// stays a direct byte comparison rather than constructing a Decoder.
func SniffRIFF(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func validateFormat(f Format) error {
	if f.NumChannels == 0 {
		return fmt.Errorf("%w: zero channels", ErrMalformedHeader)
	}
	if f.SampleRate == 0 {
		return fmt.Errorf("%w: zero sample rate", ErrMalformedHeader)
	}
	switch f.AudioFormat {
	case wFormatPCM:
		switch f.BitsPerSample {
		case 8, 16, 24, 32:
		default:
			return fmt.Errorf("%w: PCM bit depth %d", ErrUnsupportedFormat, f.BitsPerSample)
		}
	case wFormatIEEEFloat:
		if f.BitsPerSample != 32 {
			return fmt.Errorf("%w: float bit depth %d", ErrUnsupportedFormat, f.BitsPerSample)
		}
	default:
		return fmt.Errorf("%w: audio format code %d", ErrUnsupportedFormat, f.AudioFormat)
	}
	return nil
}

// intBufferToFloat32 normalizes go-audio/wav's decoded integer samples
// to [-1, 1] float32 by dividing by the bit depth's maximum magnitude.
// go-audio/wav returns 8-bit samples unsigned, so they are re-centered
// on the 128 midpoint first.
func intBufferToFloat32(buf *goaudio.IntBuffer, bitsPerSample int) []float32 {
	scale := float32(int64(1) << (bitsPerSample - 1))
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		if bitsPerSample == 8 {
			out[i] = (float32(v) - 128) / scale
		} else {
			out[i] = float32(v) / scale
		}
	}
	return out
}

// locateDataChunk walks RIFF chunks far enough to return the "data"
// chunk's body, the one piece of container parsing go-audio/wav cannot
// be reused for here since its PCM decode path would misread IEEE-float
// sample bytes as integers.
func locateDataChunk(data []byte) ([]byte, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("%w: buffer too short", ErrMalformedHeader)
	}

	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		bodyStart := pos + 8
		bodyEnd := bodyStart + chunkSize
		if chunkSize < 0 || bodyEnd > len(data) {
			return nil, fmt.Errorf("%w: chunk %q overruns buffer", ErrMalformedHeader, chunkID)
		}
		if chunkID == "data" {
			return data[bodyStart:bodyEnd], nil
		}
		// Chunks are word-aligned; a chunk of odd size has one pad byte.
		pos = bodyEnd + chunkSize%2
	}
	return nil, fmt.Errorf("%w: missing data chunk", ErrMalformedHeader)
}

// decodeFloatSamples converts raw IEEE-754 32-bit float PCM bytes into
// interleaved float32 samples.
func decodeFloatSamples(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: data size not a multiple of sample width", ErrMalformedHeader)
	}
	count := len(data) / 4
	out := make([]float32, count)
	for i := 0; i < count; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

// decodeRawSamples converts headerless PCM/float bytes into interleaved
// [-1, 1] float32 samples, one slice element per channel-sample. Used
// only for streaming chunks that carry no RIFF container.
func decodeRawSamples(data []byte, f Format) ([]float32, error) {
	if f.AudioFormat == wFormatIEEEFloat {
		return decodeFloatSamples(data)
	}

	bytesPerSample := f.BitsPerSample / 8
	if bytesPerSample == 0 || len(data)%bytesPerSample != 0 {
		return nil, fmt.Errorf("%w: data size not a multiple of sample width", ErrMalformedHeader)
	}
	count := len(data) / bytesPerSample
	out := make([]float32, count)

	switch f.BitsPerSample {
	case 8:
		for i := 0; i < count; i++ {
			// 8-bit PCM is unsigned with a 128 midpoint.
			out[i] = (float32(data[i]) - 128) / 128
		}
	case 16:
		for i := 0; i < count; i++ {
			v := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
			out[i] = float32(v) / 32768
		}
	case 24:
		for i := 0; i < count; i++ {
			b := data[i*3 : i*3+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= ^int32(0xFFFFFF)
			}
			out[i] = float32(v) / 8388608
		}
	case 32:
		for i := 0; i < count; i++ {
			v := int32(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
			out[i] = float32(v) / 2147483648
		}
	default:
		return nil, fmt.Errorf("%w: unhandled bit depth %d", ErrUnsupportedFormat, f.BitsPerSample)
	}
	return out, nil
}

// mixdown averages interleaved multi-channel samples into mono.
func mixdown(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// resample converts from srcRate to dstRate by linear interpolation,
// preserving the exact out = round(in * dstRate / srcRate) sample count.
func resample(in []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(in) == 0 {
		return in
	}
	outLen := int(math.Round(float64(len(in)) * float64(dstRate) / float64(srcRate)))
	if outLen <= 0 {
		return nil
	}
	out := make([]float32, outLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		out[i] = in[idx] + (in[idx+1]-in[idx])*float32(frac)
	}
	return out
}
