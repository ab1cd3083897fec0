// Package stt turns one speaker's audio file into timed text segments.
package stt

import (
	"context"
	"time"
)

//go:generate mockgen -destination=../mocks/mock_stt.go -package=mocks github.com/mrsingh-rishi/watson/stt Engine

// Segment is one recognized utterance, relative to the start of the file.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Engine is a speech-to-text backend. Transcribe blocks until the whole file
// is processed and must be safe to call from several goroutines at once.
type Engine interface {
	Transcribe(ctx context.Context, audioPath, language string) ([]Segment, error)
}
