// Package sttapi is the transport-agnostic RPC surface: TranscribeFile
// (unary) and TranscribeStream (bidirectional, modeled as StreamSession
// construction). cmd/sttd's NATS binding is the only caller; nothing
// here knows about NATS or JSON wire shapes.
package sttapi

import (
	"context"

	"github.com/loqalabs/loqa-stt/internal/session"
	"github.com/loqalabs/loqa-stt/internal/workerpool"
)

// Transcriber is the pipeline facade both unary and streaming calls
// drive. Satisfied by *transcription.Service.
type Transcriber interface {
	Transcribe(ctx context.Context, audioBytes []byte, useDictionary bool) (string, error)
	session.Transcriber
}

// API composes the transcription pipeline with the worker pool that
// offloads its CPU-bound inference calls, per the concurrency model's
// "inference calls MAY be offloaded to a blocking-friendly executor".
type API struct {
	svc  Transcriber
	pool *workerpool.Pool
}

// New wraps svc and pool. Both must outlive the API.
func New(svc Transcriber, pool *workerpool.Pool) *API {
	return &API{svc: svc, pool: pool}
}

// TranscribeFile implements the unary RPC: decode, run the pipeline,
// return text. ctx cancellation is observed before the offloaded call
// starts and while it runs, without interrupting the call itself.
func (a *API) TranscribeFile(ctx context.Context, audioData []byte, useDictionary bool) (string, error) {
	value, err := a.pool.Submit(ctx, func() (any, error) {
		return a.svc.Transcribe(ctx, audioData, useDictionary)
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// OpenStream starts a new StreamSession bound to ctx's lifetime, backed
// by the same pipeline and worker pool as TranscribeFile.
func (a *API) OpenStream(ctx context.Context, useDictionary bool) *session.Session {
	return session.New(ctx, a.svc, a.pool, useDictionary)
}
