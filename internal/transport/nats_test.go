package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/bus"
	"github.com/loqalabs/loqa-stt/internal/config"
	"github.com/loqalabs/loqa-stt/internal/logging"
	"github.com/loqalabs/loqa-stt/internal/natsserver"
	"github.com/loqalabs/loqa-stt/internal/protocol"
	"github.com/loqalabs/loqa-stt/internal/sttapi"
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

// newTestBinding stands up an embedded NATS server on an OS-assigned
// port, connects a client to it, and starts a NATSBinding wired to a
// fake transcription service.
func newTestBinding(t *testing.T, svc *fakeService) (*NATSBinding, *nats.Conn) {
	t.Helper()
	log := logging.New("error")

	busCfg := config.BusConfig{
		Embedded:       true,
		Port:           -1,
		ConnectTimeout: 2000,
	}
	embedded, err := natsserver.Start(busCfg, log)
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(embedded.Shutdown)

	busCfg.Servers = []string{embedded.ClientURL()}
	client, err := bus.Connect(context.Background(), busCfg, log)
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(client.Close)

	pool := workerpool.New(2)
	t.Cleanup(pool.Close)
	api := sttapi.New(svc, pool)

	binding := NewNATSBinding(client, api, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := binding.Start(ctx); err != nil {
		t.Fatalf("start binding: %v", err)
	}
	t.Cleanup(binding.Close)

	testConn, err := nats.Connect(embedded.ClientURL())
	if err != nil {
		t.Fatalf("connect test client: %v", err)
	}
	t.Cleanup(testConn.Close)

	return binding, testConn
}

func TestTranscribeFileRequestReply(t *testing.T) {
	_, conn := newTestBinding(t, &fakeService{text: "hello world"})

	req := protocol.TranscribeFileRequest{AudioData: []byte("fake wav"), UseDictionary: false}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	msg, err := conn.Request(protocol.SubjectTranscribeFile, data, 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	var resp protocol.TranscribeFileResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Success || resp.Text != "hello world" {
		t.Fatalf("got %+v", resp)
	}
}

func TestTranscribeFileRequestSurfacesError(t *testing.T) {
	_, conn := newTestBinding(t, &fakeService{err: errBoom})

	req := protocol.TranscribeFileRequest{AudioData: []byte("fake wav")}
	data, _ := json.Marshal(req)

	msg, err := conn.Request(protocol.SubjectTranscribeFile, data, 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	var resp protocol.TranscribeFileResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Success || resp.Error == "" {
		t.Fatalf("got %+v", resp)
	}
}

func TestStreamChunkProducesFinalResult(t *testing.T) {
	_, conn := newTestBinding(t, &fakeService{text: "quick brown fox"})

	sessionID := "sess-1"
	resultSub, err := conn.SubscribeSync(protocol.SubjectStreamResultPrefix + sessionID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	chunk := protocol.StreamChunk{SessionID: sessionID, Sequence: 0, AudioChunk: make([]byte, 64000)}
	data, _ := json.Marshal(chunk)
	if err := conn.Publish(protocol.SubjectStreamChunkPrefix+sessionID, data); err != nil {
		t.Fatalf("publish chunk: %v", err)
	}

	final := protocol.StreamChunk{SessionID: sessionID, EndOfStream: true}
	data, _ = json.Marshal(final)
	if err := conn.Publish(protocol.SubjectStreamChunkPrefix+sessionID, data); err != nil {
		t.Fatalf("publish end of stream: %v", err)
	}

	var last protocol.StreamResult
	seenFinal := false
	for i := 0; i < 5 && !seenFinal; i++ {
		msg, err := resultSub.NextMsg(2 * time.Second)
		if err != nil {
			t.Fatalf("next msg: %v", err)
		}
		if err := json.Unmarshal(msg.Data, &last); err != nil {
			t.Fatalf("unmarshal result: %v", err)
		}
		seenFinal = last.IsFinal
	}
	if !seenFinal {
		t.Fatal("expected a final result")
	}
	if last.SessionID != sessionID || last.Text != "quick brown fox" {
		t.Fatalf("got %+v", last)
	}
}

var errBoom = errors.New("boom")
