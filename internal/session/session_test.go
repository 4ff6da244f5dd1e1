package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/workerpool"
)

type fakeTranscriber struct {
	mu      sync.Mutex
	calls   int
	textFn  func(call int) (string, error)
	started chan struct{} // signaled once per call, if non-nil
	release chan struct{} // call blocks here until closed/sent, if non-nil
}

func (f *fakeTranscriber) TranscribeBuffer(ctx context.Context, buf audio.Buffer, useDictionary bool) (string, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.textFn(call)
}

func rawPCMChunk(samples int) []byte {
	return make([]byte, samples*2)
}

func waitResult(t *testing.T, s *Session) Result {
	t.Helper()
	select {
	case r := <-s.Results():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

func expectNoResult(t *testing.T, s *Session) {
	t.Helper()
	select {
	case r := <-s.Results():
		t.Fatalf("expected no result, got %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPushChunkTriggersPartialAfterWindow(t *testing.T) {
	ft := &fakeTranscriber{textFn: func(call int) (string, error) { return "hello world", nil }}
	pool := workerpool.New(2)
	defer pool.Close()
	s := New(context.Background(), ft, pool, false)

	if err := s.PushChunk(rawPCMChunk(partialWindowSamples)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := waitResult(t, s)
	if r.IsFinal || r.Text != "hello world" {
		t.Fatalf("got %+v", r)
	}
}

func TestPushChunkBelowWindowDoesNotTrigger(t *testing.T) {
	ft := &fakeTranscriber{textFn: func(call int) (string, error) { return "x", nil }}
	pool := workerpool.New(2)
	defer pool.Close()
	s := New(context.Background(), ft, pool, false)

	if err := s.PushChunk(rawPCMChunk(partialWindowSamples / 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectNoResult(t, s)
}

func TestDuplicatePartialIsSuppressed(t *testing.T) {
	ft := &fakeTranscriber{textFn: func(call int) (string, error) { return "same text", nil }}
	pool := workerpool.New(2)
	defer pool.Close()
	s := New(context.Background(), ft, pool, false)

	_ = s.PushChunk(rawPCMChunk(partialWindowSamples))
	first := waitResult(t, s)
	if first.Text != "same text" {
		t.Fatalf("got %+v", first)
	}

	_ = s.PushChunk(rawPCMChunk(partialWindowSamples))
	expectNoResult(t, s)
}

func TestEndEmitsExactlyOneFinal(t *testing.T) {
	ft := &fakeTranscriber{textFn: func(call int) (string, error) { return "final text", nil }}
	pool := workerpool.New(2)
	defer pool.Close()
	s := New(context.Background(), ft, pool, false)

	_ = s.PushChunk(rawPCMChunk(100))
	s.End()

	r := waitResult(t, s)
	if !r.IsFinal || r.Text != "final text" {
		t.Fatalf("got %+v", r)
	}
	expectNoResult(t, s)
}

func TestAudioAfterEndOfStreamIsIgnored(t *testing.T) {
	ft := &fakeTranscriber{textFn: func(call int) (string, error) { return "final text", nil }}
	pool := workerpool.New(2)
	defer pool.Close()
	s := New(context.Background(), ft, pool, false)

	_ = s.PushChunk(rawPCMChunk(100))
	s.End()
	_ = waitResult(t, s)

	if err := s.PushChunk(rawPCMChunk(100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectNoResult(t, s)
}

func TestPendingFinalRunsAfterInflightPartialCompletes(t *testing.T) {
	// Buffered so the second (final) call's start signal does not block:
	// the test only waits on the first call's signal.
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	ft := &fakeTranscriber{
		started: started,
		release: release,
		textFn: func(call int) (string, error) {
			if call == 0 {
				return "partial one", nil
			}
			return "final one", nil
		},
	}
	pool := workerpool.New(2)
	defer pool.Close()
	s := New(context.Background(), ft, pool, false)

	_ = s.PushChunk(rawPCMChunk(partialWindowSamples))
	<-started // partial inference is now running

	s.End() // observed while inflight: becomes pendingFinal
	close(release)

	partial := waitResult(t, s)
	if partial.IsFinal || partial.Text != "partial one" {
		t.Fatalf("got %+v", partial)
	}

	final := waitResult(t, s)
	if !final.IsFinal || final.Text != "final one" {
		t.Fatalf("got %+v", final)
	}
}

func TestCancelSuppressesFurtherResults(t *testing.T) {
	ft := &fakeTranscriber{textFn: func(call int) (string, error) { return "text", nil }}
	pool := workerpool.New(2)
	defer pool.Close()
	s := New(context.Background(), ft, pool, false)

	s.Cancel()
	if err := s.PushChunk(rawPCMChunk(partialWindowSamples)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.End()
	expectNoResult(t, s)
}

func TestBufferOverflowEmitsErrorAndCloses(t *testing.T) {
	ft := &fakeTranscriber{textFn: func(call int) (string, error) { return "unused", nil }}
	pool := workerpool.New(2)
	defer pool.Close()
	s := New(context.Background(), ft, pool, false)

	if err := s.PushChunk(rawPCMChunk(maxBufferedSamples + 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := waitResult(t, s)
	if !r.IsFinal || r.Err != ErrBufferOverflow {
		t.Fatalf("got %+v", r)
	}

	s.End()
	expectNoResult(t, s)
}

func TestSniffsRawPCMFallbackWhenNoRIFFHeader(t *testing.T) {
	ft := &fakeTranscriber{textFn: func(call int) (string, error) { return "ok", nil }}
	pool := workerpool.New(2)
	defer pool.Close()
	s := New(context.Background(), ft, pool, false)

	if err := s.PushChunk(rawPCMChunk(partialWindowSamples)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := waitResult(t, s)
	if r.Text != "ok" {
		t.Fatalf("got %+v", r)
	}
}
