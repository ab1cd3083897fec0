// Package llm produces short recaps of transcripts through an
// OpenAI-compatible chat API (Ollama exposes one under /v1).
package llm

import (
	"context"
	"os"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

//go:generate mockgen -destination=../mocks/mock_llm.go -package=mocks github.com/mrsingh-rishi/watson/llm Summarizer

const (
	TranscriptPlaceholder = "{{TRANSCRIPT}}"
	MaxPromptChars        = 12000
	DefaultMaxChars       = 400
	DefaultRetries        = 3
	DefaultRetryDelay     = 2 * time.Second
	DefaultTimeout        = 120 * time.Second
	DefaultOllamaHost     = "http://localhost:11434"
)

var (
	ErrDisabled      = errors.New("recap is disabled")
	ErrEmptyResponse = errors.New("recap model returned no text")
)

// Summarizer turns a transcript into a short recap. The boolean is false
// when no recap is available; failures are never returned to the caller.
type Summarizer interface {
	Recap(ctx context.Context, transcript string) (string, bool)
}

// RecapConfig configures a Recapper.
type RecapConfig struct {
	Host       string
	Model      string
	PromptFile string
	MaxChars   int
	Timeout    time.Duration
	Retries    int
	// RetryDelay is the pause between attempts. Zero retries immediately;
	// a negative value selects DefaultRetryDelay.
	RetryDelay time.Duration
}

// Recapper is a Summarizer backed by a chat completion endpoint.
type Recapper struct {
	Client *openai.Client
	cfg    RecapConfig
	log    logrus.FieldLogger
}

// NewRecapper builds a recapper. With an empty model it is disabled and
// never touches the network.
func NewRecapper(cfg RecapConfig, log logrus.FieldLogger) *Recapper {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.MaxChars <= 3 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	clientCfg := openai.DefaultConfig("ollama")
	clientCfg.BaseURL = strings.TrimRight(cfg.Host, "/") + "/v1"
	return &Recapper{
		Client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		log:    log.WithFields(logrus.Fields{"component": "recap", "model": cfg.Model}),
	}
}

// Enabled reports whether a model is configured.
func (r *Recapper) Enabled() bool {
	return r.cfg.Model != ""
}

// Recap implements Summarizer.
func (r *Recapper) Recap(ctx context.Context, transcript string) (string, bool) {
	if !r.Enabled() {
		return "", false
	}
	prompt, err := r.prompt(transcript)
	if err != nil {
		r.log.WithError(err).Warn("cannot build recap prompt")
		return "", false
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.Retries; attempt++ {
		text, err := r.complete(ctx, prompt)
		if err == nil {
			return Truncate(text, r.cfg.MaxChars), true
		}
		if errors.Is(err, ErrEmptyResponse) {
			r.log.Info("recap model returned an empty answer")
			return "", false
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < r.cfg.Retries {
			r.log.WithError(err).Debugf("recap attempt %d/%d failed, retrying in %s", attempt, r.cfg.Retries, r.cfg.RetryDelay)
			select {
			case <-ctx.Done():
			case <-time.After(r.cfg.RetryDelay):
			}
		}
	}

	if isConnRefused(lastErr) {
		r.log.WithField("host", r.cfg.Host).Info("recap backend unavailable")
	} else {
		r.log.WithError(lastErr).Warnf("recap failed after %d attempts", r.cfg.Retries)
	}
	return "", false
}

func (r *Recapper) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	resp, err := r.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (r *Recapper) prompt(transcript string) (string, error) {
	if r.cfg.PromptFile == "" {
		return "", errors.New("no prompt file configured")
	}
	tmpl, err := os.ReadFile(r.cfg.PromptFile)
	if err != nil {
		return "", errors.Wrap(err, "read prompt file")
	}
	return BuildPrompt(string(tmpl), transcript), nil
}

// Ping checks that the backend answers. A disabled recapper returns
// ErrDisabled.
func (r *Recapper) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return ErrDisabled
	}
	if _, err := r.Client.ListModels(ctx); err != nil {
		return errors.Wrapf(err, "recap backend at %s", r.cfg.Host)
	}
	return nil
}

// PromptFile returns the configured template path.
func (r *Recapper) PromptFile() string {
	return r.cfg.PromptFile
}

// BuildPrompt substitutes the transcript into the template and caps the
// result at MaxPromptChars characters.
func BuildPrompt(template, transcript string) string {
	prompt := strings.ReplaceAll(template, TranscriptPlaceholder, transcript)
	if utf8.RuneCountInString(prompt) > MaxPromptChars {
		prompt = string([]rune(prompt)[:MaxPromptChars]) + "\n\n[truncated]"
	}
	return prompt
}

// Truncate cuts text longer than max characters to max-3 characters plus
// an ellipsis.
func Truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return strings.TrimRight(string(runes[:max-3]), " \t\n") + "..."
}

func isConnRefused(err error) bool {
	return err != nil && errors.Is(err, syscall.ECONNREFUSED)
}
