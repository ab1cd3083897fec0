package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/watson/model"
)

var ErrPersistence = errors.New("persisting artifacts failed")

const (
	headerTimeLayout = "2006-01-02 15:04:05"
	fileTimeLayout   = "20060102-150405"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Artifact is the transcript of one session. It is rendered once and never
// changed afterwards.
type Artifact struct {
	CreatedAt   time.Time
	GuildName   string
	ChannelName string
	Recap       string
	Lines       []string
}

// Header is the first line of the transcript file.
func (a Artifact) Header() string {
	return fmt.Sprintf("%s — %s — %s", a.CreatedAt.Format(headerTimeLayout), a.GuildName, a.ChannelName)
}

// Body returns the transcript lines joined by newlines.
func (a Artifact) Body() string {
	return strings.Join(a.Lines, "\n")
}

// Render returns the header, a blank line, the recap and a blank line when
// present, then the body.
func (a Artifact) Render() string {
	var b strings.Builder
	b.WriteString(a.Header())
	b.WriteString("\n\n")
	if a.Recap != "" {
		b.WriteString(a.Recap)
		b.WriteString("\n\n")
	}
	b.WriteString(a.Body())
	b.WriteString("\n")
	return b.String()
}

// Saved lists the files written by Persist.
type Saved struct {
	Transcript string
	Audio      []string
}

// Paths returns every saved path, transcript first.
func (s Saved) Paths() []string {
	out := make([]string, 0, len(s.Audio)+1)
	if s.Transcript != "" {
		out = append(out, s.Transcript)
	}
	return append(out, s.Audio...)
}

// FileStem builds "<ts>-<channel>-<session>" for artifact names.
func FileStem(createdAt time.Time, channelName, sessionID string) string {
	channel := strings.Trim(unsafeName.ReplaceAllString(channelName, "_"), "_")
	if channel == "" {
		channel = "voice"
	}
	if len(sessionID) > 8 {
		sessionID = sessionID[:8]
	}
	return fmt.Sprintf("%s-%s-%s", createdAt.Format(fileTimeLayout), channel, sessionID)
}

// Persist copies every speaker blob and writes the transcript into dir.
// Files already written are removed when a later step fails. Every failure
// matches ErrPersistence.
func Persist(dir, stem string, rec *model.Recording, a Artifact) (Saved, error) {
	var saved Saved
	fail := func(err error, msg string) (Saved, error) {
		for _, p := range saved.Paths() {
			_ = os.Remove(p)
		}
		return Saved{}, errors.Wrapf(ErrPersistence, "%s: %v", msg, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail(err, "create recordings directory")
	}

	if rec != nil {
		for _, blob := range rec.Speakers {
			dst := filepath.Join(dir, fmt.Sprintf("%s-user%s.ogg", stem, blob.SpeakerID))
			if err := copyFile(blob.Path, dst); err != nil {
				return fail(err, "save audio for speaker "+blob.SpeakerID)
			}
			saved.Audio = append(saved.Audio, dst)
		}
	}

	transcript := filepath.Join(dir, stem+"-transcript.txt")
	if err := os.WriteFile(transcript, []byte(a.Render()), 0o644); err != nil {
		return fail(err, "write transcript")
	}
	saved.Transcript = transcript
	return saved, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
