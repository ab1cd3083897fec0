package stt

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

const DefaultWhisperModel = openai.Whisper1

// WhisperClient transcribes files through the OpenAI audio API. Any server
// speaking that API (a local faster-whisper server, for instance) can be
// targeted with a custom base URL.
type WhisperClient struct {
	Client *openai.Client
	Model  string
	log    logrus.FieldLogger
}

// NewWhisperClient creates a client. An empty apiKey is allowed for local
// servers that do not check it.
func NewWhisperClient(apiKey, baseURL, model string, log logrus.FieldLogger) (*WhisperClient, error) {
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("whisper API key is required when no base URL is set")
	}
	if model == "" {
		model = DefaultWhisperModel
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &WhisperClient{
		Client: openai.NewClientWithConfig(cfg),
		Model:  model,
		log:    log.WithField("component", "stt"),
	}, nil
}

// Transcribe sends the file and converts the verbose response to segments.
// A response without segments but with text yields one segment spanning the
// reported duration.
func (w *WhisperClient) Transcribe(ctx context.Context, audioPath, language string) ([]Segment, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return nil, errors.Wrap(err, "open audio")
	}
	started := time.Now()
	resp, err := w.Client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.Model,
		FilePath: audioPath,
		Language: language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, errors.Wrap(err, "whisper transcription")
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, Segment{
			Start: seconds(s.Start),
			End:   seconds(s.End),
			Text:  s.Text,
		})
	}
	if len(segments) == 0 && resp.Text != "" {
		segments = append(segments, Segment{End: seconds(resp.Duration), Text: resp.Text})
	}

	w.log.WithFields(logrus.Fields{
		"file":     audioPath,
		"segments": len(segments),
		"language": resp.Language,
		"took_ms":  time.Since(started).Milliseconds(),
	}).Debug("transcribed audio")
	return segments, nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
