package session

import (
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/watson/pipeline"
	"github.com/mrsingh-rishi/watson/sink"
	"github.com/mrsingh-rishi/watson/workers"
)

var (
	ErrAlreadyRecording        = errors.New("a recording is already in progress in this guild")
	ErrTranscriptionInProgress = errors.New("the previous recording of this guild is still being transcribed")
	ErrIllegalTransition       = errors.New("illegal state transition")
	ErrAborted                 = errors.New("session aborted by operator")
	ErrShutdown                = errors.New("session aborted by shutdown")
	ErrNotRecording            = errors.New("no recording in progress")
	ErrNoSession               = errors.New("no active session in this guild")
)

// IsFatal reports whether err ended a session in Failed and must be shown
// to the people in the guild.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{
		sink.ErrNoAudioCaptured,
		pipeline.ErrNoSpeech,
		pipeline.ErrTranscriptionEngine,
		pipeline.ErrPersistence,
		workers.ErrQueueFull,
		workers.ErrPoolStopped,
		ErrAborted,
		ErrShutdown,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// UserMessage turns an error into the text posted to the guild.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyRecording):
		return "Already recording in this server. Use `stop` first."
	case errors.Is(err, ErrTranscriptionInProgress):
		return "Still transcribing the previous recording. Try again when it is done."
	case errors.Is(err, sink.ErrNoAudioCaptured):
		return "Recording is empty, nothing was saved."
	case errors.Is(err, pipeline.ErrNoSpeech):
		return "Could not recognize any speech in the recording. Nothing was saved."
	case errors.Is(err, pipeline.ErrTranscriptionEngine):
		return "Transcription failed, the audio was discarded: " + err.Error()
	case errors.Is(err, workers.ErrQueueFull), errors.Is(err, workers.ErrPoolStopped):
		return "Too many transcriptions are running right now, the audio was discarded."
	case errors.Is(err, pipeline.ErrPersistence):
		return "Could not save the recording files. The transcript is attached below if available."
	case errors.Is(err, ErrAborted):
		return "Recording aborted by an operator. Nothing was saved."
	case errors.Is(err, ErrShutdown):
		return "Watson is shutting down, the recording was discarded."
	case errors.Is(err, ErrNotRecording), errors.Is(err, ErrNoSession):
		return "Not recording in this server."
	default:
		return "Something went wrong: " + err.Error()
	}
}
