// Package dictionary corrects mis-transcribed words or short spans
// against a list of canonical terms supplied at startup, matching on a
// phonetic key rather than exact text. With fuzzy matching enabled, a
// minor transcription slip ("kieira") still resolves to the intended
// term ("Kieirra").
package dictionary

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Dictionary holds the canonical-term lookup built at construction and
// applies it to transcribed text via Correct.
type Dictionary struct {
	exact        map[string]string
	maxWindow    int
	fuzzyEnabled bool
	maxEditAbs   int
}

// defaultMaxEditDistanceAbs is the absolute cap on accepted Levenshtein
// distance regardless of span length.
const defaultMaxEditDistanceAbs = 2

// New builds a Dictionary from canonical terms. Terms later in the
// slice win on phonetic-key collisions. fuzzyEnabled and maxEditAbs
// come from an optional rules file (see rules.go); callers with no
// rules file pass (false, defaultMaxEditDistanceAbs).
func New(terms []string, fuzzyEnabled bool, maxEditAbs int) *Dictionary {
	d := &Dictionary{
		exact:        make(map[string]string),
		fuzzyEnabled: fuzzyEnabled,
		maxEditAbs:   maxEditAbs,
	}
	for _, term := range terms {
		key := phoneticKey(term)
		if key == "" {
			continue
		}
		d.exact[key] = term
		if words := wordCount(term); words > d.maxWindow {
			d.maxWindow = words
		}
	}
	return d
}

var wordOrDelimiter = regexp.MustCompile(`[\p{L}\p{N}]+|[^\p{L}\p{N}]+`)

type segment struct {
	text   string
	isWord bool
}

// Correct replaces any span of 1..K consecutive words whose phonetic
// key matches a canonical term, preserving all surrounding delimiters
// and non-matched text verbatim. An empty dictionary is the identity
// function.
func (d *Dictionary) Correct(text string) string {
	if len(d.exact) == 0 {
		return text
	}

	segments := tokenize(text)
	wordPositions := make([]int, 0, len(segments))
	for i, s := range segments {
		if s.isWord {
			wordPositions = append(wordPositions, i)
		}
	}
	if len(wordPositions) == 0 {
		return text
	}

	type candidate struct {
		length     int
		startWord  int
		segStart   int
		segEnd     int
		canonical  string
	}

	var candidates []candidate
	maxWindow := d.maxWindow
	if maxWindow < 1 {
		maxWindow = 1
	}

	for length := maxWindow; length >= 1; length-- {
		for start := 0; start+length <= len(wordPositions); start++ {
			segStart := wordPositions[start]
			segEnd := wordPositions[start+length-1]

			var joined strings.Builder
			for i := start; i < start+length; i++ {
				joined.WriteString(segments[wordPositions[i]].text)
			}
			key := phoneticKey(joined.String())
			if key == "" {
				continue
			}

			canonical, ok := d.exact[key]
			if !ok && d.fuzzyEnabled {
				canonical, ok = d.fuzzyMatch(key)
			}
			if !ok {
				continue
			}

			candidates = append(candidates, candidate{
				length:    length,
				startWord: start,
				segStart:  segStart,
				segEnd:    segEnd,
				canonical: canonical,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].length != candidates[j].length {
			return candidates[i].length > candidates[j].length
		}
		return candidates[i].startWord < candidates[j].startWord
	})

	used := make([]bool, len(segments))
	replacement := make(map[int]string)
	skip := make(map[int]bool)

	for _, c := range candidates {
		overlaps := false
		for i := c.segStart; i <= c.segEnd; i++ {
			if used[i] {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		for i := c.segStart; i <= c.segEnd; i++ {
			used[i] = true
			skip[i] = true
		}
		replacement[c.segStart] = c.canonical
		delete(skip, c.segStart)
	}

	var out strings.Builder
	for i, s := range segments {
		if r, ok := replacement[i]; ok {
			out.WriteString(r)
			continue
		}
		if skip[i] {
			continue
		}
		out.WriteString(s.text)
	}
	return out.String()
}

// fuzzyMatch returns the canonical term whose key is within the
// configured Levenshtein threshold of key, preferring the smallest
// distance and breaking ties by key ordering for determinism.
func (d *Dictionary) fuzzyMatch(key string) (string, bool) {
	threshold := maxEditDistance(len([]rune(key)), d.maxEditAbs)
	if threshold <= 0 {
		return "", false
	}

	bestDist := threshold + 1
	var bestKey, bestCanonical string
	for candidateKey, canonical := range d.exact {
		dist := levenshtein(key, candidateKey)
		if dist > threshold {
			continue
		}
		if dist < bestDist || (dist == bestDist && candidateKey < bestKey) {
			bestDist = dist
			bestKey = candidateKey
			bestCanonical = canonical
		}
	}
	if bestCanonical == "" {
		return "", false
	}
	return bestCanonical, true
}

// maxEditDistance implements ceil(len/5) capped at maxAbs.
func maxEditDistance(length, maxAbs int) int {
	ceilFifth := (length + 4) / 5
	if ceilFifth > maxAbs {
		return maxAbs
	}
	return ceilFifth
}

func tokenize(text string) []segment {
	matches := wordOrDelimiter.FindAllString(text, -1)
	segments := make([]segment, len(matches))
	for i, m := range matches {
		segments[i] = segment{text: m, isWord: isWordRune(m)}
	}
	return segments
}

func isWordRune(s string) bool {
	for _, r := range s {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}
	return false
}

func wordCount(term string) int {
	matches := wordOrDelimiter.FindAllString(term, -1)
	count := 0
	for _, m := range matches {
		if isWordRune(m) {
			count++
		}
	}
	if count == 0 {
		return 1
	}
	return count
}

// phoneticKey NFD-normalizes s, drops combining marks, lowercases, and
// removes punctuation/whitespace.
func phoneticKey(s string) string {
	normalized := norm.NFD.String(s)
	var b strings.Builder
	for _, r := range normalized {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// levenshtein computes the edit distance between a and b using the
// standard two-row dynamic-programming table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
