package transcription

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/dictionary"
	"github.com/loqalabs/loqa-stt/internal/vocab"
)

type fakeEngine struct {
	tokens []int32
	err    error
	v      *vocab.Vocabulary
}

func (f *fakeEngine) Infer(ctx context.Context, buf audio.Buffer) ([]int32, error) {
	return f.tokens, f.err
}

func (f *fakeEngine) Vocabulary() *vocab.Vocabulary {
	return f.v
}

func loadTestVocab(t *testing.T) *vocab.Vocabulary {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.txt")
	if err := os.WriteFile(path, []byte("\n▁hello\n▁kieira\n"), 0o644); err != nil {
		t.Fatalf("write vocab: %v", err)
	}
	v, err := vocab.Load(path)
	if err != nil {
		t.Fatalf("load vocab: %v", err)
	}
	return v
}

func TestTranscribeBufferDetokenizes(t *testing.T) {
	v := loadTestVocab(t)
	svc := New(&fakeEngine{tokens: []int32{1}, v: v}, nil)

	text, err := svc.TranscribeBuffer(context.Background(), audio.Buffer{Samples: []float32{0, 0}}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello" {
		t.Fatalf("got %q, want %q", text, "hello")
	}
}

func TestTranscribeBufferAppliesDictionary(t *testing.T) {
	v := loadTestVocab(t)
	dict := dictionary.New([]string{"Kieirra"}, true, 2)
	svc := New(&fakeEngine{tokens: []int32{2}, v: v}, dict)

	text, err := svc.TranscribeBuffer(context.Background(), audio.Buffer{Samples: []float32{0}}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Kieirra" {
		t.Fatalf("got %q, want %q", text, "Kieirra")
	}
}

func TestTranscribeBufferSkipsDictionaryWhenNotRequested(t *testing.T) {
	v := loadTestVocab(t)
	dict := dictionary.New([]string{"Kieirra"}, true, 2)
	svc := New(&fakeEngine{tokens: []int32{2}, v: v}, dict)

	text, err := svc.TranscribeBuffer(context.Background(), audio.Buffer{Samples: []float32{0}}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "kieira" {
		t.Fatalf("got %q, want %q", text, "kieira")
	}
}

func TestTranscribePropagatesInferError(t *testing.T) {
	v := loadTestVocab(t)
	wantErr := errors.New("inference blew up")
	svc := New(&fakeEngine{err: wantErr, v: v}, nil)

	_, err := svc.TranscribeBuffer(context.Background(), audio.Buffer{Samples: []float32{0}}, false)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestTranscribePropagatesDecodeError(t *testing.T) {
	v := loadTestVocab(t)
	svc := New(&fakeEngine{v: v}, nil)

	_, err := svc.Transcribe(context.Background(), []byte("not a wav"), false)
	if err == nil {
		t.Fatal("expected decode error")
	}
}
