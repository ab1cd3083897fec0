// Package pipeline turns a finalized recording into an ordered transcript
// and persists the resulting artifacts.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mrsingh-rishi/watson/model"
	"github.com/mrsingh-rishi/watson/stt"
	"github.com/mrsingh-rishi/watson/types"
	"github.com/mrsingh-rishi/watson/workers"
)

var (
	ErrTranscriptionEngine = errors.New("transcription engine failed")
	ErrNoSpeech            = errors.New("no speech recognized")
)

// EngineError carries the speaker whose audio the engine failed on. It
// matches ErrTranscriptionEngine with errors.Is.
type EngineError struct {
	SpeakerID string
	Err       error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("transcribe speaker %s: %v", e.SpeakerID, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

func (e *EngineError) Is(target error) bool { return target == ErrTranscriptionEngine }

// NameFunc resolves a speaker id to a display name.
type NameFunc func(speakerID string) string

// Pipeline fans speakers out to the worker pool and merges their segments.
type Pipeline struct {
	engine   stt.Engine
	pool     *workers.Pool
	filter   *stt.Filter
	language string
	log      logrus.FieldLogger
}

func New(engine stt.Engine, pool *workers.Pool, filter *stt.Filter, language string, log logrus.FieldLogger) (*Pipeline, error) {
	if engine == nil {
		return nil, errors.New("transcription engine is required")
	}
	if pool == nil {
		return nil, errors.New("worker pool is required")
	}
	if filter == nil {
		filter = stt.NewFilter(stt.DefaultJunkPhrases)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{
		engine:   engine,
		pool:     pool,
		filter:   filter,
		language: language,
		log:      log.WithField("component", "pipeline"),
	}, nil
}

// Transcribe runs one job per speaker on the pool and returns the merged
// transcript. It waits for every submitted job before returning so the
// caller can remove the audio files afterwards. A full queue returns
// workers.ErrQueueFull; any engine failure returns an error matching
// ErrTranscriptionEngine; an empty result returns ErrNoSpeech. Cancelling
// ctx abandons the transcription.
func (p *Pipeline) Transcribe(ctx context.Context, rec *model.Recording, names NameFunc) ([]types.TranscriptSegment, error) {
	if rec == nil || len(rec.Speakers) == 0 {
		return nil, ErrNoSpeech
	}
	if names == nil {
		names = func(string) string { return "" }
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := time.Now()
	results := make([][]types.TranscriptSegment, len(rec.Speakers))
	pending := make([]<-chan error, 0, len(rec.Speakers))
	var submitErr error

	for i, blob := range rec.Speakers {
		i, blob := i, blob
		done, err := p.pool.Submit(ctx, func(ctx context.Context) error {
			segs, err := p.engine.Transcribe(ctx, blob.Path, p.language)
			if err != nil {
				return &EngineError{SpeakerID: blob.SpeakerID, Err: err}
			}
			results[i] = p.toTranscript(blob, names(blob.SpeakerID), segs)
			return nil
		})
		if err != nil {
			submitErr = errors.Wrapf(err, "submit speaker %s", blob.SpeakerID)
			cancel()
			break
		}
		pending = append(pending, done)
	}

	var engineErr, otherErr error
	for _, done := range pending {
		err := <-done
		switch {
		case err == nil:
		case errors.Is(err, ErrTranscriptionEngine):
			if engineErr == nil {
				engineErr = err
				cancel()
			}
		case otherErr == nil:
			otherErr = err
		}
	}
	if submitErr != nil {
		return nil, submitErr
	}
	if parent.Err() != nil {
		return nil, errors.Wrap(parent.Err(), "transcription cancelled")
	}
	if engineErr != nil {
		return nil, engineErr
	}
	if otherErr != nil {
		return nil, &EngineError{SpeakerID: "unknown", Err: otherErr}
	}

	merged := Merge(results...)

	p.log.WithFields(logrus.Fields{
		"speakers": len(rec.Speakers),
		"segments": len(merged),
		"took_ms":  time.Since(started).Milliseconds(),
	}).Info("transcription finished")

	if len(merged) == 0 {
		return nil, ErrNoSpeech
	}
	return merged, nil
}

func (p *Pipeline) toTranscript(blob model.SpeakerBlob, name string, segs []stt.Segment) []types.TranscriptSegment {
	kept := p.filter.Apply(segs)
	out := make([]types.TranscriptSegment, 0, len(kept))
	for i, s := range kept {
		out = append(out, types.TranscriptSegment{
			SpeakerID:   blob.SpeakerID,
			SpeakerName: name,
			Start:       blob.Offset + s.Start,
			End:         blob.Offset + s.End,
			Text:        s.Text,
			Index:       i,
		})
	}
	return out
}
