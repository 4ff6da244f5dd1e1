package sttapi

import (
	"context"
	"errors"
	"testing"

	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/workerpool"
)

type fakeService struct {
	text string
	err  error
}

func (f *fakeService) Transcribe(ctx context.Context, audioBytes []byte, useDictionary bool) (string, error) {
	return f.text, f.err
}

func (f *fakeService) TranscribeBuffer(ctx context.Context, buf audio.Buffer, useDictionary bool) (string, error) {
	return f.text, f.err
}

func TestTranscribeFileReturnsText(t *testing.T) {
	pool := workerpool.New(1)
	defer pool.Close()
	api := New(&fakeService{text: "hello world"}, pool)

	text, err := api.TranscribeFile(context.Background(), []byte("fake wav"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("got %q", text)
	}
}

func TestTranscribeFilePropagatesError(t *testing.T) {
	pool := workerpool.New(1)
	defer pool.Close()
	wantErr := errors.New("boom")
	api := New(&fakeService{err: wantErr}, pool)

	_, err := api.TranscribeFile(context.Background(), []byte("fake wav"), false)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestOpenStreamReturnsUsableSession(t *testing.T) {
	pool := workerpool.New(1)
	defer pool.Close()
	api := New(&fakeService{text: "partial"}, pool)

	s := api.OpenStream(context.Background(), false)
	if s == nil {
		t.Fatal("expected non-nil session")
	}
	s.Cancel()
}
