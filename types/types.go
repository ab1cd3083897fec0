package types

import (
	"fmt"
	"time"
)

// GuildID identifies a guild (server). It is the key of the session registry.
type GuildID string

// State is the lifecycle state of a guild's recording session.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateStopping     State = "stopping"
	StateTranscribing State = "transcribing"
	StateRecapping    State = "recapping"
	StateFailed       State = "failed"
)

// Active reports whether the state holds the guild busy.
func (s State) Active() bool {
	return s != StateIdle && s != ""
}

// Trigger names what caused a session to leave Recording.
type Trigger string

const (
	TriggerCommand      Trigger = "command"
	TriggerChannelEmpty Trigger = "channel_empty"
	TriggerMaxDuration  Trigger = "max_duration"
	TriggerLeave        Trigger = "leave"
	TriggerOperator     Trigger = "operator"
	TriggerShutdown     Trigger = "shutdown"
)

// TranscriptSegment is one recognized utterance of one speaker, positioned
// relative to the start of the recording.
type TranscriptSegment struct {
	SpeakerID   string
	SpeakerName string
	Start       time.Duration
	End         time.Duration
	Text        string
	// Index is the position of the segment in its speaker's engine output.
	Index int
}

// Line renders the segment as "[mm:ss] name: text".
func (s TranscriptSegment) Line() string {
	secs := int(s.Start / time.Second)
	name := s.SpeakerName
	if name == "" {
		name = "User " + s.SpeakerID
	}
	return fmt.Sprintf("[%02d:%02d] %s: %s", secs/60, secs%60, name, s.Text)
}
