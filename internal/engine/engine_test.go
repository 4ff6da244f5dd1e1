package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-stt/internal/vocab"
)

func TestResolveDurationBinsFromModelWidth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.txt")
	if err := os.WriteFile(path, []byte("\nA\nB\n"), 0o644); err != nil {
		t.Fatalf("write vocab: %v", err)
	}
	v, err := vocab.Load(path)
	if err != nil {
		t.Fatalf("load vocab: %v", err)
	}

	e := &Engine{vocabulary: v, durationBins: defaultDurationBins}
	bins := e.resolveDurationBins(v.Size() + 3)
	if len(bins) != 3 {
		t.Fatalf("expected 3 duration bins derived from logits width, got %d", len(bins))
	}
}

func TestResolveDurationBinsFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.txt")
	if err := os.WriteFile(path, []byte("\nA\nB\n"), 0o644); err != nil {
		t.Fatalf("write vocab: %v", err)
	}
	v, err := vocab.Load(path)
	if err != nil {
		t.Fatalf("load vocab: %v", err)
	}

	e := &Engine{vocabulary: v, durationBins: defaultDurationBins}
	bins := e.resolveDurationBins(v.Size())
	if len(bins) != len(defaultDurationBins) {
		t.Fatalf("expected fallback to default duration bins, got %v", bins)
	}
}
