package sink

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/watson/model"
	"github.com/mrsingh-rishi/watson/queue"
)

// Discord voice carries 48 kHz stereo Opus in 20 ms frames.
const (
	SampleRate      = 48000
	Channels        = 2
	FrameDuration   = 20 * time.Millisecond
	samplesPerFrame = SampleRate / 50

	// DefaultMinSpeechFrames is the least amount of speech (100 ms) for a
	// speaker to be kept at finalize.
	DefaultMinSpeechFrames = 5
)

// silenceFrame is the Opus encoding of 20 ms of silence.
var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

var (
	ErrSinkClosed       = errors.New("audio sink is closed")
	ErrAlreadyFinalized = errors.New("audio sink already finalized")
	ErrNoAudioCaptured  = errors.New("no audio captured")
	errEmptyOpusFrame   = errors.New("empty opus frame")
	errMissingSpeakerID = errors.New("frame has no speaker id")
)

type speakerBuffer struct {
	speakerID    string
	firstFrameAt time.Time
	frames       *queue.Queue[model.AudioFrame]
	speech       int
}

// Sink accumulates Opus frames per speaker for a single recording session.
// Write may be called from the voice receive goroutine while commands call
// Close or Finalize.
type Sink struct {
	mu        sync.Mutex
	startedAt time.Time
	closedAt  time.Time
	buffers   map[string]*speakerBuffer
	closed    bool
	finalized bool

	// MinSpeechFrames overrides DefaultMinSpeechFrames when positive.
	MinSpeechFrames int
}

// New creates a sink for a recording that started at startedAt.
func New(startedAt time.Time) *Sink {
	return &Sink{
		startedAt: startedAt,
		buffers:   make(map[string]*speakerBuffer),
	}
}

// Write appends a frame to its speaker's buffer.
func (s *Sink) Write(frame model.AudioFrame) error {
	if frame.SpeakerID == "" {
		return errMissingSpeakerID
	}
	if len(frame.Opus) == 0 {
		return errEmptyOpusFrame
	}
	if frame.ReceivedAt.IsZero() {
		frame.ReceivedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	buf, ok := s.buffers[frame.SpeakerID]
	if !ok {
		buf = &speakerBuffer{
			speakerID:    frame.SpeakerID,
			firstFrameAt: frame.ReceivedAt,
			frames:       queue.New[model.AudioFrame](256),
		}
		s.buffers[frame.SpeakerID] = buf
	}
	buf.frames.Enqueue(frame)
	if !isSilence(frame.Opus) {
		buf.speech++
	}
	return nil
}

// Close stops accepting frames. It is safe to call more than once.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.closedAt = time.Now()
	}
}

// Speakers returns the number of speakers heard so far.
func (s *Sink) Speakers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}

// Discard drops every buffered frame without writing anything.
func (s *Sink) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.finalized = true
	s.buffers = nil
}

// Finalize closes the sink and writes one Ogg/Opus file per speaker into dir.
// It runs once; in-memory frames are released as each file is written.
// Speakers with less than the minimum amount of speech are skipped, and
// ErrNoAudioCaptured is returned when nobody is left.
func (s *Sink) Finalize(dir string) (*model.Recording, error) {
	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return nil, ErrAlreadyFinalized
	}
	if !s.closed {
		s.closed = true
		s.closedAt = time.Now()
	}
	s.finalized = true
	buffers := s.buffers
	s.buffers = nil
	closedAt := s.closedAt
	s.mu.Unlock()

	minSpeech := s.MinSpeechFrames
	if minSpeech <= 0 {
		minSpeech = DefaultMinSpeechFrames
	}

	ids := make([]string, 0, len(buffers))
	for id, buf := range buffers {
		if buf.speech >= minSpeech {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	if len(ids) == 0 {
		return nil, ErrNoAudioCaptured
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create sink directory")
	}

	rec := &model.Recording{
		Dir:       dir,
		StartedAt: s.startedAt,
		Duration:  closedAt.Sub(s.startedAt),
	}
	for _, id := range ids {
		buf := buffers[id]
		blob, err := writeSpeaker(dir, buf)
		delete(buffers, id)
		if err != nil {
			return nil, errors.Wrapf(err, "write audio for speaker %s", id)
		}
		blob.Offset = buf.firstFrameAt.Sub(s.startedAt)
		if blob.Offset < 0 {
			blob.Offset = 0
		}
		rec.Speakers = append(rec.Speakers, blob)
	}
	return rec, nil
}

// writeSpeaker drains the speaker's frames into an Ogg file. Gaps between
// frames longer than two frame durations are filled with Opus silence so
// offsets inside the file follow wall-clock time.
func writeSpeaker(dir string, buf *speakerBuffer) (model.SpeakerBlob, error) {
	path := filepath.Join(dir, fmt.Sprintf("speaker_%s.ogg", buf.speakerID))
	w, err := oggwriter.New(path, SampleRate, Channels)
	if err != nil {
		return model.SpeakerBlob{}, err
	}

	var (
		written int
		seq     uint16
	)
	writeFrame := func(payload []byte) error {
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				SequenceNumber: seq,
				Timestamp:      uint32(written * samplesPerFrame),
			},
			Payload: payload,
		}
		seq++
		written++
		return w.WriteRTP(pkt)
	}

	for frame, ok := buf.frames.Dequeue(); ok; frame, ok = buf.frames.Dequeue() {
		expected := buf.firstFrameAt.Add(time.Duration(written) * FrameDuration)
		if lag := frame.ReceivedAt.Sub(expected); lag >= 2*FrameDuration {
			for n := int(lag / FrameDuration); n > 0; n-- {
				if err := writeFrame(silenceFrame); err != nil {
					_ = w.Close()
					return model.SpeakerBlob{}, err
				}
			}
		}
		if err := writeFrame(frame.Opus); err != nil {
			_ = w.Close()
			return model.SpeakerBlob{}, err
		}
	}

	if err := w.Close(); err != nil {
		return model.SpeakerBlob{}, err
	}
	return model.SpeakerBlob{
		SpeakerID: buf.speakerID,
		Path:      path,
		Duration:  time.Duration(written) * FrameDuration,
		Frames:    written,
	}, nil
}

func isSilence(opus []byte) bool {
	return bytes.Equal(opus, silenceFrame)
}
