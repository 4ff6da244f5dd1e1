// Package session implements the StreamSession state machine: a single
// streaming connection's audio accumulator, partial/final inference
// scheduling, and cancellation handling.
//
// A single connection schedules recognizer calls in a goroutine guarded
// by an Inflight/PendingFinal pair: a trigger arriving while inference
// is already running either gets dropped (partial) or remembered and
// run immediately after (final).
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/workerpool"
)

// tracer and meter are package-scoped rather than per-Session: a
// Session is created per connection, so instruments are registered
// once at package init and shared across every session's triggers.
var (
	tracer = otel.Tracer("github.com/loqalabs/loqa-stt/internal/session")
	meter  = otel.Meter("github.com/loqalabs/loqa-stt/internal/session")

	chunksReceivedCounter  metric.Int64Counter
	partialsEmittedCounter metric.Int64Counter
	bufferBytesHistogram   metric.Int64Histogram
)

func init() {
	var err error
	chunksReceivedCounter, err = meter.Int64Counter(
		"stt.session.chunks_received",
		metric.WithDescription("Audio chunks received by streaming sessions"),
	)
	if err != nil {
		slog.Default().Warn("failed to initialize chunks_received counter", slog.String("error", err.Error()))
	}
	partialsEmittedCounter, err = meter.Int64Counter(
		"stt.session.partials_emitted",
		metric.WithDescription("Non-duplicate partial transcripts emitted by streaming sessions"),
	)
	if err != nil {
		slog.Default().Warn("failed to initialize partials_emitted counter", slog.String("error", err.Error()))
	}
	bufferBytesHistogram, err = meter.Int64Histogram(
		"stt.session.buffer_bytes",
		metric.WithDescription("Size in bytes of each audio chunk pushed to a streaming session"),
	)
	if err != nil {
		slog.Default().Warn("failed to initialize buffer_bytes histogram", slog.String("error", err.Error()))
	}
}

// ErrBufferOverflow means the session's accumulated audio exceeded the
// hard cap (reference: 10 minutes at 16 kHz, 9.6M samples) before
// end_of_stream arrived.
var ErrBufferOverflow = errors.New("session: buffer overflow")

const (
	sampleRateHz = 16000

	// partialWindowSamples is the "2 s of accumulated new audio since
	// the last partial" reference window from the streaming policy.
	partialWindowSamples = 2 * sampleRateHz

	// maxBufferedSamples is the hard cap: 10 minutes at 16 kHz.
	maxBufferedSamples = 10 * 60 * sampleRateHz
)

// Transcriber is the pipeline a Session drives on each trigger. It is
// satisfied by *transcription.Service.
type Transcriber interface {
	TranscribeBuffer(ctx context.Context, buf audio.Buffer, useDictionary bool) (string, error)
}

// Result is one streamed response: a partial or final transcript, or a
// terminal error. Err set implies IsFinal true.
type Result struct {
	Text    string
	IsFinal bool
	Err     error
}

// Session is a single streaming connection's state: accumulated audio,
// the format sniffed from its first chunk, and partial/final inference
// scheduling. Exclusively owned by the task driving PushChunk/End/Cancel;
// never shared across goroutines except via its own synchronization.
type Session struct {
	transcriber   Transcriber
	pool          *workerpool.Pool
	useDictionary bool

	ctx    context.Context
	cancel context.CancelFunc

	results chan Result

	mu sync.Mutex

	haveSniffed bool
	format      audio.Format

	samples                 []float32
	samplesSinceLastPartial int
	lastPartialText         string

	inflight     bool
	pendingFinal bool
	endOfStream  bool
	closed       bool
}

// New creates a Session bound to parent's lifetime. pool offloads each
// inference call so the caller's chunk-receiving loop stays responsive
// to cancellation.
func New(parent context.Context, transcriber Transcriber, pool *workerpool.Pool, useDictionary bool) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		transcriber:   transcriber,
		pool:          pool,
		useDictionary: useDictionary,
		ctx:           ctx,
		cancel:        cancel,
		results:       make(chan Result, 8),
	}
}

// Results streams partial/final/error responses in send order. Exactly
// one IsFinal result is sent on graceful close or failure; none are
// sent after Cancel observes closure.
func (s *Session) Results() <-chan Result {
	return s.results
}

// PushChunk appends one chunk of audio. The first chunk is sniffed for
// a RIFF/WAVE header: if present, it is decoded and its declared format
// remembered for subsequent raw chunks; if absent, all chunks in the
// session (including this one) are treated as 16 kHz mono 16-bit LE PCM.
// Chunks received after End has been called are ignored.
func (s *Session) PushChunk(chunk []byte) error {
	s.mu.Lock()
	if s.closed || s.endOfStream {
		s.mu.Unlock()
		return nil
	}

	var decoded audio.Buffer
	var err error
	if !s.haveSniffed {
		s.haveSniffed = true
		if audio.SniffRIFF(chunk) {
			var format audio.Format
			decoded, format, err = audio.DecodeWithFormat(chunk)
			s.format = format
		} else {
			s.format = audio.RawPCMFallbackFormat()
			decoded, err = s.format.DecodeRaw(chunk)
		}
	} else {
		decoded, err = s.format.DecodeRaw(chunk)
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.samples = append(s.samples, decoded.Samples...)
	s.samplesSinceLastPartial += len(decoded.Samples)
	overflow := len(s.samples) > maxBufferedSamples
	triggerPartial := !overflow && !s.inflight && s.samplesSinceLastPartial >= partialWindowSamples
	s.mu.Unlock()

	chunksReceivedCounter.Add(s.ctx, 1)
	bufferBytesHistogram.Record(s.ctx, int64(len(chunk)))

	if overflow {
		s.emitResult(Result{Err: ErrBufferOverflow, IsFinal: true})
		s.finish()
		return nil
	}
	if triggerPartial {
		s.scheduleInference(false)
	}
	return nil
}

// End signals end_of_stream: one final pass runs over the full
// accumulated buffer, with dictionary correction if configured, and the
// session closes after emitting its final result. Idempotent.
func (s *Session) End() {
	s.mu.Lock()
	if s.closed || s.endOfStream {
		s.mu.Unlock()
		return
	}
	s.endOfStream = true
	if s.inflight {
		s.pendingFinal = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.scheduleInference(true)
}

// Cancel transitions the session to Closed without emitting further
// messages. Any inference already running on the worker pool is allowed
// to run to completion; its result is discarded rather than delivered.
func (s *Session) Cancel() {
	s.finish()
}

func (s *Session) finish() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

// scheduleInference offloads one pipeline run over the buffer snapshot
// taken at call time onto the worker pool. A trigger arriving while one
// is already running is either coalesced (another partial) or
// remembered as a pending final to run immediately after the current
// one completes.
func (s *Session) scheduleInference(final bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.inflight {
		if final {
			s.pendingFinal = true
		}
		s.mu.Unlock()
		return
	}
	snapshot := append([]float32(nil), s.samples...)
	s.inflight = true
	s.mu.Unlock()

	go s.runInference(snapshot, final)
}

func (s *Session) runInference(snapshot []float32, final bool) {
	ctx, span := tracer.Start(s.ctx, "session.trigger", trace.WithAttributes(
		attribute.Bool("stt.final", final),
		attribute.Int("stt.buffered_samples", len(snapshot)),
	))
	defer span.End()

	buf := audio.Buffer{Samples: snapshot}
	value, err := s.pool.Submit(ctx, func() (any, error) {
		return s.transcriber.TranscribeBuffer(ctx, buf, s.useDictionary)
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if final {
			s.emitResult(Result{Err: err, IsFinal: true})
			s.finish()
		}
		// A non-final inference error (most commonly context
		// cancellation from Submit observing Cancel) is swallowed: the
		// session either keeps accumulating or is already closing.
	} else {
		s.handleText(value.(string), final)
	}

	s.mu.Lock()
	s.inflight = false
	pendingFinal := s.pendingFinal
	s.pendingFinal = false
	closed := s.closed
	s.mu.Unlock()

	if !closed && pendingFinal && !final {
		s.scheduleInference(true)
	}
}

func (s *Session) handleText(text string, final bool) {
	if final {
		s.emitResult(Result{Text: text, IsFinal: true})
		s.finish()
		return
	}

	s.mu.Lock()
	duplicate := text == "" || text == s.lastPartialText
	if !duplicate {
		s.lastPartialText = text
	}
	s.samplesSinceLastPartial = 0
	s.mu.Unlock()

	if !duplicate {
		partialsEmittedCounter.Add(s.ctx, 1)
		s.emitResult(Result{Text: text, IsFinal: false})
	}
}

// emitResult delivers r unless the session has already closed. The
// closed check and the send are not atomic with respect to a concurrent
// Cancel: a result already in flight when Cancel runs may still be
// delivered. This only narrows, never widens, the "discarded" window the
// policy describes as best-effort, since inference itself is never
// interrupted.
func (s *Session) emitResult(r Result) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.results <- r:
	case <-s.ctx.Done():
	}
}
