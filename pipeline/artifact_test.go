package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrsingh-rishi/watson/model"
)

var created = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func TestArtifact_Render(t *testing.T) {
	a := Artifact{
		CreatedAt:   created,
		GuildName:   "Guild",
		ChannelName: "General",
		Lines:       []string{"[00:02] Linus: yo", "[00:05] Ada: hi"},
	}
	assert.Equal(t, "2025-03-14 09:26:53 — Guild — General\n\n[00:02] Linus: yo\n[00:05] Ada: hi\n", a.Render())

	a.Recap = "They greeted each other."
	assert.Equal(t, "2025-03-14 09:26:53 — Guild — General\n\nThey greeted each other.\n\n[00:02] Linus: yo\n[00:05] Ada: hi\n", a.Render())
}

func TestFileStem(t *testing.T) {
	assert.Equal(t, "20250314-092653-General_Voice-0f8fad5b", FileStem(created, "General Voice!", "0f8fad5b-d9cb-469f-a165-70867728950e"))
	assert.Equal(t, "20250314-092653-voice-abc", FileStem(created, "🎤", "abc"))
}

func TestPersist(t *testing.T) {
	src := t.TempDir()
	blob := filepath.Join(src, "speaker_1.ogg")
	require.NoError(t, os.WriteFile(blob, []byte("OggS audio"), 0o644))
	rec := &model.Recording{Speakers: []model.SpeakerBlob{{SpeakerID: "1", Path: blob}}}

	dir := filepath.Join(t.TempDir(), "guild-1")
	a := Artifact{CreatedAt: created, GuildName: "G", ChannelName: "C", Lines: []string{"[00:00] A: hi"}}
	saved, err := Persist(dir, "stem", rec, a)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "stem-transcript.txt"), saved.Transcript)
	require.Equal(t, []string{filepath.Join(dir, "stem-user1.ogg")}, saved.Audio)
	assert.Len(t, saved.Paths(), 2)

	audio, err := os.ReadFile(saved.Audio[0])
	require.NoError(t, err)
	assert.Equal(t, "OggS audio", string(audio))

	text, err := os.ReadFile(saved.Transcript)
	require.NoError(t, err)
	assert.Equal(t, a.Render(), string(text))
}

func TestPersist_FailureRemovesPartialFiles(t *testing.T) {
	src := t.TempDir()
	good := filepath.Join(src, "speaker_1.ogg")
	require.NoError(t, os.WriteFile(good, []byte("OggS"), 0o644))
	rec := &model.Recording{Speakers: []model.SpeakerBlob{
		{SpeakerID: "1", Path: good},
		{SpeakerID: "2", Path: filepath.Join(src, "missing.ogg")},
	}}

	dir := t.TempDir()
	_, err := Persist(dir, "stem", rec, Artifact{CreatedAt: created})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistence))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPersist_UnwritableDirectory(t *testing.T) {
	parent := t.TempDir()
	file := filepath.Join(parent, "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := Persist(filepath.Join(file, "guild"), "stem", nil, Artifact{CreatedAt: created})
	assert.True(t, errors.Is(err, ErrPersistence))
}
