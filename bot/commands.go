package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mrsingh-rishi/watson/session"
	"github.com/mrsingh-rishi/watson/types"
)

// Recorder is what the chat commands drive.
type Recorder interface {
	Start(ctx context.Context, req session.StartRequest) (*session.Session, error)
	Stop(g types.GuildID, trigger types.Trigger) (bool, error)
	Join(ctx context.Context, g types.GuildID, channelID string) error
	Leave(g types.GuildID) error
	MembershipChanged(c session.MembershipChange)
}

// invocation is a command with what is known about where it was sent.
type invocation struct {
	Name             string
	GuildID          types.GuildID
	GuildName        string
	TextChannelID    string
	AuthorID         string
	AuthorName       string
	AuthorVoiceID    string
	AuthorVoiceName  string
	BotVoiceID       string
	BotVoiceName     string
	BotPermissions   int64
	MaxRecordingTime string
}

type reply struct {
	Text  string
	Embed *discordgo.MessageEmbed
}

// parseCommand returns the lowercased command name when content starts
// with prefix.
func parseCommand(prefix, content string) (string, bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToLower(fields[0]), true
}

func dispatch(ctx context.Context, rec Recorder, prefix string, inv invocation, log logrus.FieldLogger) (reply, bool) {
	log = log.WithFields(logrus.Fields{"command": inv.Name, "guild": inv.GuildID, "author": inv.AuthorName})
	switch inv.Name {
	case "check":
		log.Info("check requested")
		return reply{Embed: checkEmbed(inv)}, true
	case "join":
		return reply{Text: join(ctx, rec, inv, log)}, true
	case "record":
		return reply{Text: record(ctx, rec, prefix, inv, log)}, true
	case "stop":
		return reply{Text: stop(rec, inv, log)}, true
	case "leave":
		return reply{Text: leave(rec, inv, log)}, true
	}
	return reply{}, false
}

func join(ctx context.Context, rec Recorder, inv invocation, log logrus.FieldLogger) string {
	if inv.BotVoiceID != "" {
		log.WithField("channel", inv.BotVoiceName).Debug("rejected: already in a channel")
		return "I'm already in a channel! 🎙"
	}
	if inv.AuthorVoiceID == "" {
		log.Debug("rejected: author not in a voice channel")
		return "Join a voice channel first."
	}
	if err := rec.Join(ctx, inv.GuildID, inv.AuthorVoiceID); err != nil {
		log.WithError(err).Warn("could not join voice channel")
		return "❌ Could not join the voice channel."
	}
	log.WithField("channel", inv.AuthorVoiceName).Info("joined voice channel")
	return "🎩 Joined. Ready."
}

func record(ctx context.Context, rec Recorder, prefix string, inv invocation, log logrus.FieldLogger) string {
	channelID, channelName := inv.BotVoiceID, inv.BotVoiceName
	if channelID == "" {
		channelID, channelName = inv.AuthorVoiceID, inv.AuthorVoiceName
	}
	if channelID == "" {
		log.Debug("rejected: no voice channel")
		return fmt.Sprintf("Join a voice channel first, or invite me with `%sjoin`.", prefix)
	}

	_, err := rec.Start(ctx, session.StartRequest{
		GuildID:          inv.GuildID,
		GuildName:        inv.GuildName,
		VoiceChannelID:   channelID,
		VoiceChannelName: channelName,
		TextChannelID:    inv.TextChannelID,
		RequestedBy:      inv.AuthorName,
	})
	switch {
	case errors.Is(err, session.ErrAlreadyRecording), errors.Is(err, session.ErrTranscriptionInProgress):
		log.WithError(err).Debug("rejected")
		return "⚠️ " + session.UserMessage(err)
	case err != nil:
		return "❌ Could not start recording."
	}
	if inv.MaxRecordingTime != "" {
		return fmt.Sprintf("⏺ **Recording started.** (max %s)", inv.MaxRecordingTime)
	}
	return "⏺ **Recording started.**"
}

func stop(rec Recorder, inv invocation, log logrus.FieldLogger) string {
	stopped, err := rec.Stop(inv.GuildID, types.TriggerCommand)
	if err != nil {
		log.Debug("rejected: not recording")
		return "I'm not recording right now."
	}
	if !stopped {
		return "Already stopping, the transcript is on its way."
	}
	return "⏹ Recording stopped. Building transcript..."
}

func leave(rec Recorder, inv invocation, log logrus.FieldLogger) string {
	if inv.BotVoiceID == "" {
		log.Debug("rejected: not in a voice channel")
		return "I'm not in a voice channel."
	}
	if err := rec.Leave(inv.GuildID); err != nil {
		log.WithError(err).Warn("could not leave voice channel")
		return "❌ Could not leave the voice channel."
	}
	log.WithField("channel", inv.BotVoiceName).Info("left voice channel")
	return "Bye!"
}

const (
	colorBlue = 0x3498db
	colorRed  = 0xe74c3c
)

func checkEmbed(inv invocation) *discordgo.MessageEmbed {
	mark := func(ok bool) string {
		if ok {
			return "✅"
		}
		return "❌"
	}
	has := func(p int64) bool { return inv.BotPermissions&p == p }

	voice := mark(inv.AuthorVoiceID != "")
	if inv.AuthorVoiceID == "" {
		voice += " (you are not in a channel)"
	}
	lines := []string{
		"✅ **Connection:** OK",
		"🎤 **Voice channel:** " + voice,
		"📝 **Send messages:** " + mark(has(discordgo.PermissionSendMessages)),
		"📎 **Attach files:** " + mark(has(discordgo.PermissionAttachFiles)),
		"📜 **Read history:** " + mark(has(discordgo.PermissionReadMessageHistory)),
		"🎙 **Speak:** " + mark(has(discordgo.PermissionVoiceSpeak)),
	}
	color := colorRed
	if has(discordgo.PermissionAttachFiles) {
		color = colorBlue
	}
	return &discordgo.MessageEmbed{
		Title:       "Watson system check",
		Description: strings.Join(lines, "\n"),
		Color:       color,
	}
}

// countHumans counts the non-bot members in channelID other than leaver.
func countHumans(states []*discordgo.VoiceState, channelID, leaver string, isBot func(userID string) bool) int {
	n := 0
	for _, vs := range states {
		if vs == nil || vs.ChannelID != channelID || vs.UserID == leaver {
			continue
		}
		if isBot(vs.UserID) {
			continue
		}
		n++
	}
	return n
}

// splitMessage cuts content into chunks of at most limit bytes, preferring
// line breaks.
func splitMessage(content string, limit int) []string {
	var out []string
	for len(content) > limit {
		cut := strings.LastIndex(content[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !isRuneStart(content[cut]) {
				cut--
			}
		}
		out = append(out, content[:cut])
		content = strings.TrimPrefix(content[cut:], "\n")
	}
	if content != "" {
		out = append(out, content)
	}
	return out
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
