// Package engine loads the four TDT (token-and-duration transducer)
// networks that make up the acoustic model and runs greedy decoding over
// a decoded AudioBuffer to yield a token sequence.
//
// The decode loop follows the standard greedy TDT recipe: blank forces
// an advance to the next encoder frame, ties break leftmost, and total
// emitted symbols are capped as a runaway-decode safety net. Decoder
// state shapes are read from the model's declared input shapes and the
// duration-bin count from the joint network's logits width rather than
// hardcoded, so the loop adapts to whatever model is loaded at MODEL_PATH.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/feature"
	"github.com/loqalabs/loqa-stt/internal/onnxrt"
	"github.com/loqalabs/loqa-stt/internal/vocab"
)

// tracer emits one span per Infer call, covering feature extraction,
// encoder, and the greedy decode loop together.
var tracer = otel.Tracer("github.com/loqalabs/loqa-stt/internal/engine")

// ErrModelNotFound means one of the four conventionally-named model
// files (or the vocabulary) is missing from the model directory.
var ErrModelNotFound = errors.New("engine: model not found")

// ErrModelLoadError means a model file exists but failed to deserialize.
var ErrModelLoadError = errors.New("engine: model load error")

// ErrInferenceError means a runtime tensor error occurred during
// inference; the engine remains usable for subsequent calls.
var ErrInferenceError = errors.New("engine: inference error")

// blankID is the blank-symbol convention: vocabulary index 0.
const blankID int32 = 0

// maxSymsPerStepFactor bounds total emitted symbols at
// maxSymsPerStepFactor * encoderLength, guarding against runaway
// non-advancing loops on a pathological model.
const maxSymsPerStepFactor = 10

// defaultDurationBins is the reference duration-bucket set; on each
// joint invocation resolveDurationBins uses the logits width to derive
// the model's actual bucket count and falls back to this set otherwise.
var defaultDurationBins = []int32{0, 1, 2, 3, 4}

// Engine owns the four loaded networks and serializes inference, since
// ONNX Runtime sessions are not assumed safely reentrant across
// concurrent Run calls from this binding.
type Engine struct {
	env          *onnxrt.Env
	extractor    *feature.Extractor
	preprocessor *onnxrt.Session
	encoder      *onnxrt.Session
	decoder      *onnxrt.Session
	joint        *onnxrt.Session
	vocabulary   *vocab.Vocabulary

	mu           sync.Mutex
	durationBins []int32
	stateShapes  [][]int64
}

const (
	preprocessorFile = "preprocessor.onnx"
	encoderFile      = "encoder.onnx"
	decoderFile      = "decoder.onnx"
	jointFile        = "joint.onnx"
	vocabFile        = "vocab.txt"
)

// Load locates the four model files and the vocabulary by conventional
// name inside modelDir.
func Load(modelDir string) (*Engine, error) {
	paths := map[string]string{
		preprocessorFile: filepath.Join(modelDir, preprocessorFile),
		encoderFile:       filepath.Join(modelDir, encoderFile),
		decoderFile:       filepath.Join(modelDir, decoderFile),
		jointFile:         filepath.Join(modelDir, jointFile),
		vocabFile:         filepath.Join(modelDir, vocabFile),
	}
	for name, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
		}
	}

	env, err := onnxrt.NewEnv("loqa-stt-engine")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoadError, err)
	}

	preprocessorSession, err := env.NewSessionFromFile(paths[preprocessorFile])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoadError, err)
	}
	encoderSession, err := env.NewSessionFromFile(paths[encoderFile])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoadError, err)
	}
	decoderSession, err := env.NewSessionFromFile(paths[decoderFile])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoadError, err)
	}
	jointSession, err := env.NewSessionFromFile(paths[jointFile])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoadError, err)
	}

	v, err := vocab.Load(paths[vocabFile])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoadError, err)
	}

	extractor, err := feature.New(preprocessorSession)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoadError, err)
	}

	stateShapes, err := decoderStateShapes(decoderSession)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoadError, err)
	}

	return &Engine{
		env:          env,
		extractor:    extractor,
		preprocessor: preprocessorSession,
		encoder:      encoderSession,
		decoder:      decoderSession,
		joint:        jointSession,
		vocabulary:   v,
		durationBins: defaultDurationBins,
		stateShapes:  stateShapes,
	}, nil
}

// Vocabulary exposes the loaded vocabulary for detokenization.
func (e *Engine) Vocabulary() *vocab.Vocabulary {
	return e.vocabulary
}

// Infer runs the full preprocessor → encoder → greedy-TDT-decode
// pipeline over buf, returning the emitted token sequence. Audio
// shorter than one preprocessor window yields an empty sequence without
// running encoder/decoder/joint.
func (e *Engine) Infer(ctx context.Context, buf audio.Buffer) ([]int32, error) {
	ctx, span := tracer.Start(ctx, "engine.Infer", trace.WithAttributes(
		attribute.Int("stt.input_samples", len(buf.Samples)),
	))
	defer span.End()

	tokens, err := e.infer(ctx, buf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("stt.emitted_tokens", len(tokens)))
	return tokens, nil
}

func (e *Engine) infer(ctx context.Context, buf audio.Buffer) ([]int32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	mel, err := e.extractor.Extract(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceError, err)
	}
	if mel.Frames < 1 {
		return nil, nil
	}

	encoderOut, encoderLen, err := e.runEncoder(mel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceError, err)
	}
	if encoderLen < 1 {
		return nil, nil
	}

	tokens, err := greedyTDTDecode(encoderOut, encoderLen, mel.NMels, e.zeroState(), e.runDecoder, e.runJoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceError, err)
	}
	return tokens, nil
}

// Unload releases all model handles.
func (e *Engine) Unload() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.preprocessor.Close()
	e.encoder.Close()
	e.decoder.Close()
	e.joint.Close()
	e.env.Close()
}

func (e *Engine) runEncoder(mel feature.MelBatch) (encoderOut []float32, encoderLen int, err error) {
	melTensor, err := onnxrt.NewFloatTensor([]int64{1, int64(mel.NMels), int64(mel.Frames)}, mel.Data)
	if err != nil {
		return nil, 0, err
	}
	defer melTensor.Close()

	lengthTensor, err := onnxrt.NewInt64Tensor([]int64{1}, []int64{int64(mel.Frames)})
	if err != nil {
		return nil, 0, err
	}
	defer lengthTensor.Close()

	outputs, err := e.encoder.Run(
		[]string{"mel", "mel_length"},
		[]*onnxrt.Tensor{melTensor, lengthTensor},
		[]string{"encoder_out", "encoder_length"},
	)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		for _, o := range outputs {
			o.Close()
		}
	}()

	data, err := outputs[0].FloatData()
	if err != nil {
		return nil, 0, err
	}
	shape, err := outputs[0].Shape()
	if err != nil {
		return nil, 0, err
	}
	if len(shape) != 3 {
		return nil, 0, fmt.Errorf("unexpected encoder output shape %v", shape)
	}

	lenData, err := outputs[1].Int64Data()
	if err != nil || len(lenData) == 0 {
		// Some exports omit a length output when the model is
		// non-streaming; fall back to the declared time dimension.
		return data, int(shape[2]), nil
	}
	return data, int(lenData[0]), nil
}

type decoderState struct {
	hidden [][]float32
}

func (e *Engine) zeroState() decoderState {
	hidden := make([][]float32, len(e.stateShapes))
	for i, shape := range e.stateShapes {
		total := 1
		for _, d := range shape {
			if d < 0 {
				d = 1
			}
			total *= int(d)
		}
		hidden[i] = make([]float32, total)
	}
	return decoderState{hidden: hidden}
}

func (e *Engine) runDecoder(token int32, state decoderState) (decoderOut []float32, next decoderState, err error) {
	inputNames := []string{"token"}
	inputs := []*onnxrt.Tensor{}
	tokenTensor, err := onnxrt.NewInt64Tensor([]int64{1, 1}, []int64{int64(token)})
	if err != nil {
		return nil, decoderState{}, err
	}
	defer tokenTensor.Close()
	inputs = append(inputs, tokenTensor)

	for i, h := range state.hidden {
		name := fmt.Sprintf("state_%d", i)
		shape := e.stateShapes[i]
		normalized := make([]int64, len(shape))
		for j, d := range shape {
			if d < 0 {
				d = 1
			}
			normalized[j] = d
		}
		t, terr := onnxrt.NewFloatTensor(normalized, h)
		if terr != nil {
			return nil, decoderState{}, terr
		}
		defer t.Close()
		inputNames = append(inputNames, name)
		inputs = append(inputs, t)
	}

	outputNames := append([]string{"decoder_out"}, stateOutputNames(len(state.hidden))...)
	outputs, err := e.decoder.Run(inputNames, inputs, outputNames)
	if err != nil {
		return nil, decoderState{}, err
	}
	defer func() {
		for _, o := range outputs {
			o.Close()
		}
	}()

	out, err := outputs[0].FloatData()
	if err != nil {
		return nil, decoderState{}, err
	}

	newHidden := make([][]float32, len(state.hidden))
	for i := range state.hidden {
		h, herr := outputs[i+1].FloatData()
		if herr != nil {
			return nil, decoderState{}, herr
		}
		newHidden[i] = h
	}

	return out, decoderState{hidden: newHidden}, nil
}

// decoderStateShapes reads the declared shapes of every decoder input
// after the first (the target token); the rest are model-defined
// recurrent state tensors whose count and shape vary by model.
func decoderStateShapes(session *onnxrt.Session) ([][]int64, error) {
	count, err := session.InputCount()
	if err != nil {
		return nil, err
	}
	if count < 2 {
		return nil, fmt.Errorf("decoder network declares %d inputs, expected a token input plus at least one state tensor", count)
	}
	shapes := make([][]int64, count-1)
	for i := 1; i < count; i++ {
		shape, err := session.InputShape(i)
		if err != nil {
			return nil, err
		}
		shapes[i-1] = shape
	}
	return shapes, nil
}

func stateOutputNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("new_state_%d", i)
	}
	return names
}

func (e *Engine) runJoint(encoderStep, decoderStep []float32) (tokenID int32, duration int32, err error) {
	encTensor, err := onnxrt.NewFloatTensor([]int64{1, int64(len(encoderStep))}, encoderStep)
	if err != nil {
		return 0, 0, err
	}
	defer encTensor.Close()

	decTensor, err := onnxrt.NewFloatTensor([]int64{1, int64(len(decoderStep))}, decoderStep)
	if err != nil {
		return 0, 0, err
	}
	defer decTensor.Close()

	outputs, err := e.joint.Run(
		[]string{"encoder_step", "decoder_step"},
		[]*onnxrt.Tensor{encTensor, decTensor},
		[]string{"logits"},
	)
	if err != nil {
		return 0, 0, err
	}
	defer outputs[0].Close()

	logits, err := outputs[0].FloatData()
	if err != nil {
		return 0, 0, err
	}

	bins := e.resolveDurationBins(len(logits))
	vocabSize := len(logits) - len(bins)
	if vocabSize <= 0 {
		return 0, 0, fmt.Errorf("joint logits too short: %d", len(logits))
	}

	tokenID = int32(argmax(logits[:vocabSize]))
	durIdx := argmax(logits[vocabSize:])
	return tokenID, bins[durIdx], nil
}

// resolveDurationBins derives the duration-bucket count from the joint
// network's observed logits length on every call, per the Open Question
// resolution in DESIGN.md: the bucket set is read from the model, not
// hardcoded, falling back to the reference {0,1,2,3,4} when the
// vocabulary size alone cannot explain the excess width.
func (e *Engine) resolveDurationBins(logitsLen int) []int32 {
	vocabSize := e.vocabulary.Size()
	excess := logitsLen - vocabSize
	if excess > 0 && excess <= 16 {
		bins := make([]int32, excess)
		for i := range bins {
			bins[i] = int32(i)
		}
		return bins
	}
	return defaultDurationBins
}

// argmax returns the leftmost index of the maximum value, the tie-break
// rule greedy decoding expects.
func argmax(values []float32) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

// decoderStepFn runs one decoder step: given the last emitted (or
// blank) token and the current recurrent state, returns the decoder's
// output vector and the updated state.
type decoderStepFn func(token int32, state decoderState) (decoderOut []float32, next decoderState, err error)

// jointStepFn runs the joint network for one encoder frame against the
// current decoder output, returning the argmax token and duration.
type jointStepFn func(encoderFrame, decoderOut []float32) (tokenID int32, duration int32, err error)

// greedyTDTDecode runs the greedy TDT decode loop: at encoder frame t,
// run the joint network against the current decoder output, emit a
// non-blank token and advance the decoder, then move t forward by the
// predicted duration. A blank always advances at least one frame; a
// non-blank token with duration 0 stays on the same frame. The symbol cap is global
// rather than per-frame, which bounds a stuck (duration==0, non-blank)
// loop just as effectively with one counter instead of one per frame.
func greedyTDTDecode(encoderOut []float32, encoderLen int, encoderHidden int, initialState decoderState, runDecoder decoderStepFn, runJoint jointStepFn) ([]int32, error) {
	state := initialState
	decoderOut, state, err := runDecoder(blankID, state)
	if err != nil {
		return nil, err
	}

	var tokens []int32
	t := 0
	maxSyms := maxSymsPerStepFactor * encoderLen
	emitted := 0

	for t < encoderLen && emitted < maxSyms {
		frameStart := t * encoderHidden
		if frameStart+encoderHidden > len(encoderOut) {
			break
		}
		encoderFrame := encoderOut[frameStart : frameStart+encoderHidden]

		tokenID, duration, err := runJoint(encoderFrame, decoderOut)
		if err != nil {
			return nil, err
		}
		emitted++

		if tokenID == blankID {
			if duration == 0 {
				duration = 1
			}
			t += int(duration)
			continue
		}

		tokens = append(tokens, tokenID)
		decoderOut, state, err = runDecoder(tokenID, state)
		if err != nil {
			return nil, err
		}

		if duration > 0 {
			t += int(duration)
		}
	}

	return tokens, nil
}
