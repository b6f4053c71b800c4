// ABOUTME: Renders chat events into IRC protocol lines
// ABOUTME: Failures resolving senders or mentions drop the message and log

package irc

import (
	"context"
	"errors"
	"strings"

	"github.com/TinLe/localslackirc/internal/chat"
)

const botSource = "bot"

func (s *Session) render(ctx context.Context, ev chat.Event) {
	switch e := ev.(type) {
	case chat.Message:
		s.message(ctx, e.Channel, e.User, e.Text, false)
	case chat.ActionMessage:
		s.message(ctx, e.Channel, e.User, e.Text, true)
	case chat.MessageDelete:
		s.message(ctx, e.Channel, e.User(), "[deleted] "+e.Text(), false)
	case chat.MessageEdit:
		if e.Changed() {
			d := e.DiffMessage()
			s.message(ctx, d.Channel, d.User, d.Text, false)
		}
	case chat.MessageBot:
		s.deliver(ctx, e.Channel, botSource, "["+e.Username+"] "+e.Text, false)
	case chat.FileShared:
		f, err := s.backend.File(ctx, e.FileID)
		if err != nil {
			s.logger.Warn("resolving shared file failed", "file", e.FileID, "error", err)
			return
		}
		a := f.Announce()
		s.message(ctx, a.Channel, a.User, a.Text, false)
	case chat.Join:
		s.joinedParted(ctx, e.Channel, e.User, true)
	case chat.Leave:
		s.joinedParted(ctx, e.Channel, e.User, false)
	case chat.TopicChange:
		ch, err := s.backend.Channel(ctx, e.Channel)
		if err != nil {
			s.logger.Warn("topic change in unknown channel", "channel", e.Channel, "error", err)
			return
		}
		s.reply(RplTopic, e.Topic, ch.IRCName())
	case chat.GroupJoined:
		if err := s.sendChanInfo(ctx, e.Channel.IRCName(), e.Channel); err != nil {
			s.logger.Warn("announcing new channel failed", "channel", e.Channel.Name(), "error", err)
		}
	case chat.UserChange:
		// Consumed by the event stream; nothing to show.
	default:
		s.logger.Warn("unhandled event", "event", ev)
	}
}

// message renders a user message, resolving the sender name first.
func (s *Session) message(ctx context.Context, channelID, userID, text string, action bool) {
	u, err := s.backend.User(ctx, userID)
	if err != nil {
		s.logger.Warn("dropping message from unknown sender", "user", userID, "error", err)
		return
	}
	s.deliver(ctx, channelID, u.Name, text, action)
}

// deliver sends text to the IRC destination of channelID. Unknown channels
// are direct messages addressed to the local nick.
func (s *Session) deliver(ctx context.Context, channelID, source, text string, action bool) {
	dest := s.nick
	ch, err := s.backend.Channel(ctx, channelID)
	switch {
	case err == nil:
		dest = ch.IRCName()
	case errors.Is(err, chat.ErrNotFound):
	default:
		s.logger.Warn("resolving message destination failed", "channel", channelID, "error", err)
		return
	}
	if s.isParted(dest) {
		return
	}

	lines, err := s.tr.Inbound(ctx, text, s.nick)
	if err != nil {
		s.logger.Warn("dropping untranslatable message", "channel", channelID, "error", err)
		return
	}
	for _, line := range lines {
		if action {
			line = "\x01ACTION " + line + "\x01"
		}
		s.privmsg(source, dest, line)
	}
}

func (s *Session) joinedParted(ctx context.Context, channelID, userID string, joined bool) {
	u, err := s.backend.User(ctx, userID)
	if err != nil {
		s.logger.Warn("membership change of unknown user", "user", userID, "error", err)
		return
	}
	if u.Deleted {
		return
	}
	ch, err := s.backend.Channel(ctx, channelID)
	if err != nil {
		s.logger.Debug("membership change in unknown channel", "channel", channelID, "error", err)
		return
	}
	dest := ch.IRCName()
	if s.isParted(dest) {
		return
	}

	rname := strings.ReplaceAll(u.RealName(), " ", "_")
	if joined {
		s.writeLine(":%s!%s@%s JOIN :%s", u.Name, rname, localMask, dest)
	} else {
		s.writeLine(":%s!%s@%s PART %s", u.Name, rname, localMask, dest)
	}
}
