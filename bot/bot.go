// Package bot connects the session manager to Discord: chat commands,
// voice capture and posting results.
package bot

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mrsingh-rishi/watson/session"
	"github.com/mrsingh-rishi/watson/types"
)

// Discord rejects messages longer than this.
const messageLimit = 2000

const commandTimeout = 30 * time.Second

type Config struct {
	Token       string
	Prefix      string
	MaxDuration time.Duration
}

// Bot is the Discord side of the recorder. It is the session manager's
// Voice and Reporter, and feeds it commands and voice state updates.
type Bot struct {
	cfg Config
	dg  *discordgo.Session
	log logrus.FieldLogger

	rec Recorder

	mu    sync.Mutex
	conns map[types.GuildID]*voiceConn
}

var (
	_ session.Voice    = (*Bot)(nil)
	_ session.Reporter = (*Bot)(nil)
)

func New(cfg Config, log logrus.FieldLogger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("DISCORD_TOKEN must be set")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, errors.Wrap(err, "create discord session")
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent
	return &Bot{
		cfg:   cfg,
		dg:    dg,
		log:   log.WithField("component", "bot"),
		conns: make(map[types.GuildID]*voiceConn),
	}, nil
}

// Bind sets the recorder commands are sent to. It must be called before Open.
func (b *Bot) Bind(rec Recorder) { b.rec = rec }

func (b *Bot) Open() error {
	if b.rec == nil {
		return errors.New("bot has no recorder bound")
	}
	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onMessage)
	b.dg.AddHandler(b.onVoiceState)
	if err := b.dg.Open(); err != nil {
		return errors.Wrap(err, "open discord gateway")
	}
	return nil
}

// Close leaves every voice channel and closes the gateway.
func (b *Bot) Close() error {
	b.mu.Lock()
	guilds := make([]types.GuildID, 0, len(b.conns))
	for g := range b.conns {
		guilds = append(guilds, g)
	}
	b.mu.Unlock()
	for _, g := range guilds {
		if err := b.Leave(g); err != nil {
			b.log.WithError(err).WithField("guild", g).Warn("could not leave voice channel")
		}
	}
	return b.dg.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.WithFields(logrus.Fields{
		"user":   r.User.Username,
		"id":     r.User.ID,
		"guilds": len(r.Guilds),
	}).Info("watson online")
}

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	name, ok := parseCommand(b.cfg.Prefix, m.Content)
	if !ok {
		return
	}
	inv := b.invocation(name, m)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	r, ok := dispatch(ctx, b.rec, b.cfg.Prefix, inv, b.log)
	if !ok {
		return
	}

	var err error
	switch {
	case r.Embed != nil:
		_, err = s.ChannelMessageSendEmbed(m.ChannelID, r.Embed)
	case r.Text != "":
		_, err = s.ChannelMessageSend(m.ChannelID, r.Text)
	}
	if err != nil {
		b.log.WithError(err).WithField("guild", m.GuildID).Warn("could not reply to command")
	}
}

func (b *Bot) invocation(name string, m *discordgo.MessageCreate) invocation {
	inv := invocation{
		Name:          name,
		GuildID:       types.GuildID(m.GuildID),
		TextChannelID: m.ChannelID,
		AuthorID:      m.Author.ID,
		AuthorName:    m.Author.Username,
	}
	if b.cfg.MaxDuration > 0 {
		inv.MaxRecordingTime = fmt.Sprintf("%d min", int(b.cfg.MaxDuration/time.Minute))
	}
	state := b.dg.State
	if g, err := state.Guild(m.GuildID); err == nil {
		inv.GuildName = g.Name
	}
	if vs, err := state.VoiceState(m.GuildID, m.Author.ID); err == nil && vs.ChannelID != "" {
		inv.AuthorVoiceID = vs.ChannelID
		inv.AuthorVoiceName = b.channelName(vs.ChannelID)
	}
	if id := b.botChannel(inv.GuildID); id != "" {
		inv.BotVoiceID = id
		inv.BotVoiceName = b.channelName(id)
	}
	if state.User != nil {
		if perms, err := state.UserChannelPermissions(state.User.ID, m.ChannelID); err == nil {
			inv.BotPermissions = perms
		}
	}
	return inv
}

func (b *Bot) onVoiceState(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.BeforeUpdate == nil || (s.State.User != nil && v.UserID == s.State.User.ID) {
		return
	}
	g := types.GuildID(v.GuildID)
	change := session.MembershipChange{
		GuildID:         g,
		UserID:          v.UserID,
		BeforeChannelID: v.BeforeUpdate.ChannelID,
		AfterChannelID:  v.ChannelID,
		BotChannelID:    b.botChannel(g),
	}
	if change.BotChannelID != "" {
		if guild, err := s.State.Guild(v.GuildID); err == nil {
			change.HumansRemaining = countHumans(guild.VoiceStates, change.BotChannelID, v.UserID, b.isBot(v.GuildID))
		}
	}
	b.log.WithFields(logrus.Fields{
		"guild":  g,
		"user":   v.UserID,
		"before": change.BeforeChannelID,
		"after":  change.AfterChannelID,
		"humans": change.HumansRemaining,
	}).Debug("voice state update")
	b.rec.MembershipChanged(change)
}

func (b *Bot) isBot(guildID string) func(string) bool {
	return func(userID string) bool {
		m, err := b.dg.State.Member(guildID, userID)
		return err == nil && m.User != nil && m.User.Bot
	}
}

func (b *Bot) channelName(id string) string {
	if ch, err := b.dg.State.Channel(id); err == nil {
		return ch.Name
	}
	return ""
}

func (b *Bot) botChannel(g types.GuildID) string {
	b.mu.Lock()
	c := b.conns[g]
	b.mu.Unlock()
	if c == nil {
		return ""
	}
	return c.ChannelID()
}

// Join connects to channelID, moving an existing connection of the guild.
func (b *Bot) Join(ctx context.Context, g types.GuildID, channelID string) (session.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := b.dg.ChannelVoiceJoin(string(g), channelID, false, false)
	if err != nil {
		return nil, errors.Wrapf(err, "join voice channel %s", channelID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.conns[g]; ok && c.vc == vc {
		return c, nil
	}
	c := newVoiceConn(vc, b.log.WithField("guild", g))
	b.conns[g] = c
	return c, nil
}

func (b *Bot) Leave(g types.GuildID) error {
	b.mu.Lock()
	c, ok := b.conns[g]
	delete(b.conns, g)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return errors.Wrap(c.vc.Disconnect(), "disconnect voice")
}

// DisplayName prefers the member's nickname, then their global name.
func (b *Bot) DisplayName(g types.GuildID, userID string) string {
	m, err := b.dg.State.Member(string(g), userID)
	if err != nil || m == nil {
		return ""
	}
	return memberName(m)
}

func memberName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

func (b *Bot) Post(channelID, content string) error {
	for _, chunk := range splitMessage(content, messageLimit) {
		if _, err := b.dg.ChannelMessageSend(channelID, chunk); err != nil {
			return errors.Wrap(err, "send message")
		}
	}
	return nil
}

func (b *Bot) PostFile(channelID, name string, data io.Reader) error {
	_, err := b.dg.ChannelFileSend(channelID, name, data)
	return errors.Wrap(err, "send file")
}
