// Package vocab loads the acoustic model's token vocabulary and
// detokenizes a greedy-decoded token sequence into text.
package vocab

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// WordBoundaryMarker is the model's convention for marking the start of
// a new word within a token; reference models use U+2581 "▁".
const WordBoundaryMarker = "▁"

// Vocabulary maps token indices to their string forms. Index 0 is
// always the blank symbol.
type Vocabulary struct {
	tokens []string
}

// Load reads a UTF-8 text file with one token per line; the line number
// is the token index.
func Load(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: open %s: %w", path, err)
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tokens = append(tokens, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("vocab: read %s: %w", path, err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocab: %s has no entries", path)
	}
	return &Vocabulary{tokens: tokens}, nil
}

// Size returns the number of entries, including the blank symbol.
func (v *Vocabulary) Size() int {
	return len(v.tokens)
}

// Token returns the string form of index id, or "" if out of range.
func (v *Vocabulary) Token(id int32) string {
	if id < 0 || int(id) >= len(v.tokens) {
		return ""
	}
	return v.tokens[id]
}

// Detokenize concatenates token strings for the given ids, starting a
// new word at each token beginning with WordBoundaryMarker, and strips
// leading whitespace from the result.
func (v *Vocabulary) Detokenize(ids []int32) string {
	var b strings.Builder
	for _, id := range ids {
		tok := v.Token(id)
		if tok == "" {
			continue
		}
		if strings.HasPrefix(tok, WordBoundaryMarker) {
			b.WriteByte(' ')
			b.WriteString(strings.TrimPrefix(tok, WordBoundaryMarker))
		} else {
			b.WriteString(tok)
		}
	}
	return strings.TrimLeft(b.String(), " \t\n\r")
}
