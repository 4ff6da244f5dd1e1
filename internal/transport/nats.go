// Package transport binds the transport-agnostic internal/sttapi
// surface onto NATS subjects: subscribe on a subject, decode the JSON
// envelope, and for streaming, key per-session state by session ID in
// a map guarded by a mutex. Each session ID gets its own
// *session.Session, and a helper goroutine drains that session's
// Results channel onto its reply subject until the final message.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-stt/internal/bus"
	"github.com/loqalabs/loqa-stt/internal/protocol"
	"github.com/loqalabs/loqa-stt/internal/session"
	"github.com/loqalabs/loqa-stt/internal/sttapi"
)

// NATSBinding subscribes to the stt.transcribe.file and stt.stream.*
// subjects and drives internal/sttapi on their behalf.
type NATSBinding struct {
	bus *bus.Client
	api *sttapi.API
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	fileSub  *nats.Subscription
	chunkSub *nats.Subscription

	mu       sync.Mutex
	sessions map[string]*session.Session

	wg sync.WaitGroup
}

// NewNATSBinding wraps busClient and api. Start must be called before
// either subject receives traffic.
func NewNATSBinding(busClient *bus.Client, api *sttapi.API, log *slog.Logger) *NATSBinding {
	return &NATSBinding{
		bus:      busClient,
		api:      api,
		log:      log,
		sessions: make(map[string]*session.Session),
	}
}

// Start subscribes to both subjects. ctx bounds every call the binding
// makes into internal/sttapi; canceling it tears down every open stream.
func (b *NATSBinding) Start(ctx context.Context) error {
	bctx, cancel := context.WithCancel(ctx)
	b.ctx = bctx
	b.cancel = cancel

	fileSub, err := b.bus.Conn().Subscribe(protocol.SubjectTranscribeFile, b.handleTranscribeFile)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", protocol.SubjectTranscribeFile, err)
	}
	b.fileSub = fileSub

	chunkSub, err := b.bus.Conn().Subscribe(protocol.SubjectStreamChunkPrefix+"*", b.handleStreamChunk)
	if err != nil {
		_ = fileSub.Drain()
		cancel()
		return fmt.Errorf("subscribe %s*: %w", protocol.SubjectStreamChunkPrefix, err)
	}
	b.chunkSub = chunkSub

	return nil
}

// Close drains both subscriptions and waits for in-flight handlers and
// session drain goroutines to finish.
func (b *NATSBinding) Close() {
	if b == nil {
		return
	}
	if b.cancel != nil {
		b.cancel()
	}
	if b.fileSub != nil {
		_ = b.fileSub.Drain()
	}
	if b.chunkSub != nil {
		_ = b.chunkSub.Drain()
	}
	b.wg.Wait()
}

func (b *NATSBinding) handleTranscribeFile(msg *nats.Msg) {
	var req protocol.TranscribeFileRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		b.log.Warn("failed to decode transcribe-file request", slog.String("error", err.Error()))
		return
	}

	invocationID := uuid.NewString()
	b.log.Debug("transcribe-file request received",
		slog.String("invocation_id", invocationID),
		slog.String("size", humanize.Bytes(uint64(len(req.AudioData)))),
	)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		resp := protocol.TranscribeFileResponse{}
		text, err := b.api.TranscribeFile(b.ctx, req.AudioData, req.UseDictionary)
		if err != nil {
			resp.Success = false
			resp.Error = err.Error()
			b.log.Warn("transcribe-file request failed",
				slog.String("invocation_id", invocationID),
				slog.String("error", err.Error()),
			)
		} else {
			resp.Text = text
			resp.Success = true
		}

		data, err := json.Marshal(resp)
		if err != nil {
			b.log.Warn("failed to marshal transcribe-file response", slog.String("error", err.Error()))
			return
		}
		if err := msg.Respond(data); err != nil {
			b.log.Warn("failed to respond to transcribe-file request", slog.String("error", err.Error()))
		}
	}()
}

func (b *NATSBinding) handleStreamChunk(msg *nats.Msg) {
	var chunk protocol.StreamChunk
	if err := json.Unmarshal(msg.Data, &chunk); err != nil {
		b.log.Warn("failed to decode stream chunk", slog.String("error", err.Error()))
		return
	}
	if chunk.SessionID == "" {
		b.log.Warn("stream chunk missing session id")
		return
	}

	sess := b.sessionFor(chunk.SessionID)

	if len(chunk.AudioChunk) > 0 {
		if err := sess.PushChunk(chunk.AudioChunk); err != nil {
			b.publishResult(chunk.SessionID, session.Result{Err: err, IsFinal: true})
			sess.Cancel()
			b.removeSession(chunk.SessionID)
			return
		}
	}
	if chunk.EndOfStream {
		sess.End()
	}
}

// sessionFor returns the existing session for sessionID, or opens one
// and starts draining its Results channel onto the per-session result
// subject. Dictionary correction is applied whenever a dictionary is
// configured; streaming has no per-call opt-out, matching the final
// policy's "applied if configured".
func (b *NATSBinding) sessionFor(sessionID string) *session.Session {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sess, ok := b.sessions[sessionID]; ok {
		return sess
	}

	sess := b.api.OpenStream(b.ctx, true)
	b.sessions[sessionID] = sess

	b.wg.Add(1)
	go b.drainResults(sessionID, sess)

	return sess
}

func (b *NATSBinding) drainResults(sessionID string, sess *session.Session) {
	defer b.wg.Done()
	for {
		select {
		case r, ok := <-sess.Results():
			if !ok {
				b.removeSession(sessionID)
				return
			}
			b.publishResult(sessionID, r)
			if r.IsFinal {
				b.removeSession(sessionID)
				return
			}
		case <-b.ctx.Done():
			b.removeSession(sessionID)
			return
		}
	}
}

func (b *NATSBinding) publishResult(sessionID string, r session.Result) {
	msg := protocol.StreamResult{SessionID: sessionID, IsFinal: r.IsFinal}
	if r.Err != nil {
		msg.Error = r.Err.Error()
	} else {
		msg.Text = r.Text
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Warn("failed to marshal stream result", slog.String("error", err.Error()))
		return
	}
	subject := protocol.SubjectStreamResultPrefix + sessionID
	if err := b.bus.Conn().Publish(subject, data); err != nil {
		b.log.Warn("failed to publish stream result", slog.String("error", err.Error()))
	}
}

func (b *NATSBinding) removeSession(sessionID string) {
	b.mu.Lock()
	delete(b.sessions, sessionID)
	b.mu.Unlock()
}
