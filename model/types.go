package model

import "time"

// AudioFrame is a single Opus frame received from one speaker.
type AudioFrame struct {
	SpeakerID  string
	Opus       []byte
	ReceivedAt time.Time
}

// SpeakerBlob is the durable audio of one speaker after finalize.
type SpeakerBlob struct {
	SpeakerID string
	Path      string
	// Offset is the time between the start of the recording and the
	// speaker's first frame.
	Offset time.Duration
	// Duration covers the written frames, silence fill included.
	Duration time.Duration
	Frames   int
}

// Recording is the result of finalizing a sink.
type Recording struct {
	Dir       string
	StartedAt time.Time
	Duration  time.Duration
	Speakers  []SpeakerBlob
}
