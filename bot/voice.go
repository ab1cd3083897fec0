package bot

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/mrsingh-rishi/watson/model"
)

// voiceConn receives a guild's voice and maps RTP sources to users.
type voiceConn struct {
	vc  *discordgo.VoiceConnection
	log logrus.FieldLogger

	mu      sync.RWMutex
	ssrc    map[uint32]string
	unknown map[uint32]bool
}

func newVoiceConn(vc *discordgo.VoiceConnection, log logrus.FieldLogger) *voiceConn {
	c := &voiceConn{
		vc:      vc,
		log:     log,
		ssrc:    make(map[uint32]string),
		unknown: make(map[uint32]bool),
	}
	if vc != nil {
		vc.AddHandler(c.onSpeaking)
	}
	return c
}

func (c *voiceConn) onSpeaking(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ssrc[uint32(vs.SSRC)] = vs.UserID
	delete(c.unknown, uint32(vs.SSRC))
}

func (c *voiceConn) ChannelID() string {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.ChannelID
}

func (c *voiceConn) Receive(ctx context.Context, fn func(model.AudioFrame)) {
	c.vc.RLock()
	recv := c.vc.OpusRecv
	c.vc.RUnlock()
	if recv == nil {
		c.log.Warn("voice connection has no receive channel")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-recv:
			if !ok {
				c.log.Debug("voice receive channel closed")
				return
			}
			if f, ok := c.frame(p, time.Now()); ok {
				fn(f)
			}
		}
	}
}

// frame converts a packet whose source is known. Packets from sources that
// have not announced themselves yet are dropped.
func (c *voiceConn) frame(p *discordgo.Packet, at time.Time) (model.AudioFrame, bool) {
	if p == nil || len(p.Opus) == 0 {
		return model.AudioFrame{}, false
	}
	c.mu.RLock()
	user, ok := c.ssrc[p.SSRC]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		if !c.unknown[p.SSRC] {
			c.unknown[p.SSRC] = true
			c.log.WithField("ssrc", strconv.FormatUint(uint64(p.SSRC), 10)).Debug("audio from unmapped source")
		}
		c.mu.Unlock()
		return model.AudioFrame{}, false
	}
	return model.AudioFrame{SpeakerID: user, Opus: p.Opus, ReceivedAt: at}, true
}
