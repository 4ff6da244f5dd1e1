package vocab

import (
	"os"
	"path/filepath"
	"testing"
)

func writeVocab(t *testing.T, lines []string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.txt")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write vocab: %v", err)
	}
	return path
}

func TestLoadAndDetokenize(t *testing.T) {
	path := writeVocab(t, []string{"", "▁hello", "world", "▁there"})
	v, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Size() != 4 {
		t.Fatalf("expected 4 tokens, got %d", v.Size())
	}
	got := v.Detokenize([]int32{1, 2, 3})
	want := "helloworld there"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDetokenizeEmpty(t *testing.T) {
	path := writeVocab(t, []string{""})
	v, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := v.Detokenize(nil); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestLoadRejectsEmptyFile(t *testing.T) {
	path := writeVocab(t, nil)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty vocab file")
	}
}
