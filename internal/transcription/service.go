// Package transcription implements the Transcription Service façade:
// Audio Decoder → Feature Extractor → Acoustic Engine → Vocabulary →
// (optional) Phonetic Dictionary, as one Transcribe call.
//
// A constructed *Service always holds a loaded *engine.Engine: there is
// no lazy load path, since cmd/sttd loads the model at startup and
// treats load failure as fatal rather than deferring it to the first
// request.
package transcription

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/dictionary"
	"github.com/loqalabs/loqa-stt/internal/vocab"
)

// acousticEngine abstracts the acoustic engine behind an interface so
// Service can be tested without a live ONNX Runtime session.
type acousticEngine interface {
	Infer(ctx context.Context, buf audio.Buffer) ([]int32, error)
	Vocabulary() *vocab.Vocabulary
}

// Service composes the transcription pipeline. It is safe for
// concurrent use: the Engine beneath it serializes inference.
type Service struct {
	eng  acousticEngine
	dict *dictionary.Dictionary
}

// New wraps an already-loaded Engine and an optional Dictionary (nil
// disables dictionary correction even when use_dictionary is true).
func New(eng acousticEngine, dict *dictionary.Dictionary) *Service {
	return &Service{eng: eng, dict: dict}
}

// Transcribe runs the full pipeline over audioBytes (a WAV buffer) and
// returns the detokenized, optionally dictionary-corrected text. It
// propagates the first error from any stage.
func (s *Service) Transcribe(ctx context.Context, audioBytes []byte, useDictionary bool) (string, error) {
	buf, err := audio.Decode(audioBytes)
	if err != nil {
		return "", fmt.Errorf("decode audio: %w", err)
	}
	return s.transcribeBuffer(ctx, buf, useDictionary)
}

// TranscribeBuffer runs the pipeline starting from an already-decoded
// AudioBuffer, used by the streaming session which accumulates raw PCM
// directly rather than re-decoding a WAV container on every trigger.
func (s *Service) TranscribeBuffer(ctx context.Context, buf audio.Buffer, useDictionary bool) (string, error) {
	return s.transcribeBuffer(ctx, buf, useDictionary)
}

func (s *Service) transcribeBuffer(ctx context.Context, buf audio.Buffer, useDictionary bool) (string, error) {
	tokens, err := s.eng.Infer(ctx, buf)
	if err != nil {
		return "", fmt.Errorf("infer: %w", err)
	}
	text := s.eng.Vocabulary().Detokenize(tokens)

	if useDictionary && s.dict != nil {
		text = s.dict.Correct(text)
	}
	return text, nil
}
