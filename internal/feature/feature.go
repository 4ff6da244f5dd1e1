// Package feature runs the acoustic model's preprocessor network to turn
// a decoded AudioBuffer into a mel-spectrogram batch the encoder
// consumes.
package feature

import (
	"fmt"

	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/onnxrt"
)

// Reference window/hop the preprocessor network is trained against.
// They are fixed constants used only by ExpectedFrames; they are not
// read from the model.
const (
	referenceWindowMillis = 25
	referenceHopMillis    = 10
)

// MelBatch is the [1, n_mels, T] preprocessor output, plus T itself
// since downstream consumers need it without reshaping.
type MelBatch struct {
	Data   []float32
	NMels  int
	Frames int
}

// Extractor wraps the loaded preprocessor session.
type Extractor struct {
	session *onnxrt.Session
	nMels   int
}

// New wraps an already-loaded preprocessor session. nMels is taken from
// the first static dimension other than 1 in the session's declared
// input shape; otherwise it falls back to 128, the typical mel-bin count
// for this model family. The declared output shape is not read at load
// time; Extract takes n_mels from the output tensor's shape on each run.
func New(session *onnxrt.Session) (*Extractor, error) {
	nMels := 128
	if shape, err := session.InputShape(0); err == nil {
		for _, d := range shape {
			if d > 0 && d != 1 {
				nMels = int(d)
				break
			}
		}
	}
	return &Extractor{session: session, nMels: nMels}, nil
}

// Extract runs the preprocessor over buf.Samples. T < 1 (audio shorter
// than one window) is not an error; callers should treat a zero-frame
// result as "empty transcript" without invoking the engine.
func (e *Extractor) Extract(buf audio.Buffer) (MelBatch, error) {
	n := len(buf.Samples)
	if n == 0 {
		return MelBatch{NMels: e.nMels}, nil
	}

	input, err := onnxrt.NewFloatTensor([]int64{1, int64(n)}, buf.Samples)
	if err != nil {
		return MelBatch{}, fmt.Errorf("feature: build input tensor: %w", err)
	}
	defer input.Close()

	lengthInput, err := onnxrt.NewInt64Tensor([]int64{1}, []int64{int64(n)})
	if err != nil {
		return MelBatch{}, fmt.Errorf("feature: build length tensor: %w", err)
	}
	defer lengthInput.Close()

	outputs, err := e.session.Run(
		[]string{"audio_signal", "length"},
		[]*onnxrt.Tensor{input, lengthInput},
		[]string{"mel", "mel_length"},
	)
	if err != nil {
		return MelBatch{}, fmt.Errorf("feature: preprocessor run: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			o.Close()
		}
	}()

	melData, err := outputs[0].FloatData()
	if err != nil {
		return MelBatch{}, fmt.Errorf("feature: read mel output: %w", err)
	}
	shape, err := outputs[0].Shape()
	if err != nil {
		return MelBatch{}, fmt.Errorf("feature: read mel shape: %w", err)
	}
	if len(shape) != 3 {
		return MelBatch{}, fmt.Errorf("feature: unexpected mel shape %v", shape)
	}

	nMels := int(shape[1])
	frames := int(shape[2])
	return MelBatch{Data: melData, NMels: nMels, Frames: frames}, nil
}

// ExpectedFrames returns the frame count a fixed-stride preprocessor
// should produce for n samples, used only by tests to sanity-check the
// model's own reported T against the documented contract.
func ExpectedFrames(n int, sampleRateHz int) int {
	window := sampleRateHz * referenceWindowMillis / 1000
	hop := sampleRateHz * referenceHopMillis / 1000
	if n < window {
		return 0
	}
	return (n - window + hop) / hop
}
