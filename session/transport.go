package session

import (
	"context"
	"io"

	"github.com/mrsingh-rishi/watson/model"
	"github.com/mrsingh-rishi/watson/types"
)

// Voice is the voice side of the chat platform.
type Voice interface {
	// Join connects to a voice channel, reusing an existing connection of
	// the guild when there is one.
	Join(ctx context.Context, guildID types.GuildID, channelID string) (Connection, error)
	Leave(guildID types.GuildID) error
	DisplayName(guildID types.GuildID, userID string) string
}

// Connection is a joined voice channel.
type Connection interface {
	ChannelID() string
	// Receive calls fn for every frame heard until ctx is done.
	Receive(ctx context.Context, fn func(model.AudioFrame))
}

// Reporter posts to the guild's text channel.
type Reporter interface {
	Post(channelID, content string) error
	PostFile(channelID, name string, data io.Reader) error
}

// MembershipChange is a voice state update that may change who is in the
// bot's channel. Mute and deafen updates carry the same channel twice.
type MembershipChange struct {
	GuildID         types.GuildID
	UserID          string
	BeforeChannelID string
	AfterChannelID  string
	// BotChannelID is the channel the bot is connected to, if any.
	BotChannelID string
	// HumansRemaining counts non-bot members left in BotChannelID.
	HumansRemaining int
}
