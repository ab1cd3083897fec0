package stt

import (
	"strings"
	"unicode/utf8"
)

// DefaultJunkPhrases are hallucinations whisper tends to emit on silence.
var DefaultJunkPhrases = []string{"editor", "subtitles", "thanks for watching", "to be continued"}

// Filter drops segments that are not real speech.
type Filter struct {
	phrases []string
}

// NewFilter builds a filter from a list of phrases. Matching is
// case-insensitive and on substrings.
func NewFilter(phrases []string) *Filter {
	f := &Filter{}
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			f.phrases = append(f.phrases, p)
		}
	}
	return f
}

// ParsePhrases splits a "a|b|c" list.
func ParsePhrases(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, "|")
}

// Keep reports whether text should stay in the transcript.
func (f *Filter) Keep(text string) bool {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= 1 {
		return false
	}
	lower := strings.ToLower(text)
	for _, p := range f.phrases {
		if strings.Contains(lower, p) {
			return false
		}
	}
	return true
}

// Apply returns the kept segments with trimmed text, in their original order.
func (f *Filter) Apply(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if !f.Keep(s.Text) {
			continue
		}
		s.Text = strings.TrimSpace(s.Text)
		out = append(out, s)
	}
	return out
}
