// ABOUTME: IRC command table and handlers
// ABOUTME: Each handler maps one verb onto backend calls and numeric replies

package irc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/crypto/bcrypt"

	"github.com/TinLe/localslackirc/internal/chat"
)

type handler func(s *Session, ctx context.Context, verb, rest string) error

// handlers is keyed by upper-cased verb.
var handlers = map[string]handler{
	"PASS":     (*Session).handlePass,
	"NICK":     (*Session).handleNick,
	"USER":     (*Session).handleUser,
	"PING":     (*Session).handlePing,
	"JOIN":     (*Session).handleJoin,
	"PRIVMSG":  (*Session).handlePrivmsg,
	"LIST":     (*Session).handleList,
	"WHO":      (*Session).handleWho,
	"MODE":     (*Session).handleMode,
	"PART":     (*Session).handlePart,
	"AWAY":     (*Session).handleAway,
	"TOPIC":    (*Session).handleTopic,
	"KICK":     (*Session).handleKick,
	"INVITE":   (*Session).handleInvite,
	"SENDFILE": (*Session).handleSendfile,
	"USERHOST": (*Session).handleUserhost,
	"WHOIS":    (*Session).handleWhois,
	"QUIT":     (*Session).handleQuit,
}

// trailing strips the leading colon of a trailing parameter.
func trailing(s string) string {
	return strings.TrimPrefix(s, ":")
}

func (s *Session) handlePass(_ context.Context, verb, rest string) error {
	pass := trailing(strings.TrimSpace(rest))
	if pass == "" {
		return needMoreParams(verb)
	}
	if s.opts.PasswordHash == "" {
		return nil
	}
	if bcrypt.CompareHashAndPassword([]byte(s.opts.PasswordHash), []byte(pass)) != nil {
		s.logger.Warn("rejected client password")
		s.passOK = false
		return protocolErr(ErrPasswdMismatch, nil, "Password incorrect")
	}
	s.passOK = true
	return nil
}

func (s *Session) handleNick(_ context.Context, verb, rest string) error {
	nick := trailing(strings.TrimSpace(rest))
	if nick == "" {
		return needMoreParams(verb)
	}
	s.nick = nick
	want := s.backend.Identity().Self.Name
	if want == "" {
		return protocolErr(ErrErroneusNickname, nil, "Not connected to the chat backend yet, send NICK again shortly")
	}
	if nick != want {
		return protocolErr(ErrErroneusNickname, nil, "Incorrect nickname, use %s", want)
	}
	return nil
}

func (s *Session) handleUser(ctx context.Context, verb, rest string) error {
	if !s.passOK {
		s.reply(ErrPasswdMismatch, "Password incorrect")
		return ErrQuit
	}
	if s.active {
		return nil
	}
	params := strings.SplitN(rest, " ", 4)
	if len(params) > 0 {
		s.username = params[0]
	}
	if len(params) == 4 {
		s.realname = trailing(params[3])
	}

	id := s.backend.Identity()
	s.reply(RplWelcome, "Welcome to localslackirc")
	s.reply(RplYourHost, "Your team name is: "+id.Team.Name)
	s.reply(RplYourHost, "Your team domain is: "+id.Team.Domain)
	s.reply(RplYourHost, "Your nickname must be: "+id.Self.Name)
	s.reply(RplLUserClient, "There are 1 users and 0 services on 1 server")

	if s.opts.AutoJoin && !s.opts.NoUserList {
		// One directory call instead of one users.info per member.
		if err := s.backend.PrefetchUsers(ctx); err != nil {
			s.logger.Warn("prefetching users failed", "error", err)
		}
	}

	channels, err := s.backend.Channels(ctx, false)
	if err != nil {
		s.logger.Warn("listing channels failed", "error", err)
	}
	if s.opts.AutoJoin {
		cutoff := s.opts.Now().Add(-s.opts.MPIMHideDelay)
		for _, ch := range channels {
			if !ch.IsMember || ch.InactiveSince(cutoff) {
				continue
			}
			if err := s.sendChanInfo(ctx, ch.IRCName(), ch); err != nil {
				s.logger.Warn("auto join failed", "channel", ch.Name(), "error", err)
			}
		}
	} else {
		for _, ch := range channels {
			s.parted[ch.IRCName()] = struct{}{}
		}
	}

	s.logger.Info("client registered", "nick", s.nick, "user", s.username)
	s.activate(ctx)
	return nil
}

func (s *Session) handlePing(_ context.Context, _, rest string) error {
	s.writeLine(":%s PONG %s %s", s.host, s.host, rest)
	return nil
}

func (s *Session) handleJoin(ctx context.Context, verb, rest string) error {
	target, _, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if target == "" {
		return needMoreParams(verb)
	}
	for _, name := range strings.Split(target, ",") {
		if err := s.join(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) join(ctx context.Context, ircName string) error {
	delete(s.parted, ircName)
	name := strings.TrimPrefix(ircName, "#")

	ch, err := s.backend.ChannelByName(ctx, name)
	if err != nil {
		return protocolErr(ErrNoSuchChannel, nil, "Unable to find channel: %s", name)
	}
	if !ch.IsMember {
		if err := s.backend.Join(ctx, ch.ID); err != nil {
			s.logger.Warn("joining channel failed", "channel", name, "error", err)
			s.reply(ErrNoSuchChannel, "Unable to join server channel: "+name)
		}
	}
	if err := s.sendChanInfo(ctx, ircName, ch); err != nil {
		s.logger.Warn("sending channel info failed", "channel", name, "error", err)
		return protocolErr(ErrNoSuchChannel, nil, "Unable to join channel: %s", name)
	}
	return nil
}

// sendChanInfo announces a joined channel: JOIN, topic and names.
func (s *Session) sendChanInfo(ctx context.Context, ircName string, ch chat.Channel) error {
	var names []string
	if !s.opts.NoUserList {
		ids, err := s.backend.Members(ctx, ch.ID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			u, err := s.backend.User(ctx, id)
			if err != nil || u.Deleted {
				continue
			}
			if u.IsAdmin {
				names = append(names, "@"+u.Name)
			} else {
				names = append(names, u.Name)
			}
		}
	}

	s.writeLine(":%s!%s@%s JOIN %s", s.nick, s.nick, localMask, ircName)
	s.reply(RplTopic, ch.RealTopic(), ircName)
	s.reply(RplNamReply, strings.Join(names, " "), "=", ircName)
	s.reply(RplEndOfNames, "End of NAMES list", ircName)
	return nil
}

func (s *Session) handlePrivmsg(ctx context.Context, verb, rest string) error {
	dest, msg, ok := strings.Cut(rest, " ")
	if !ok || dest == "" {
		return needMoreParams(verb)
	}
	msg = trailing(msg)

	action := false
	if strings.HasPrefix(msg, "\x01ACTION ") && strings.HasSuffix(msg, "\x01") {
		action = true
		msg = strings.TrimSuffix(strings.TrimPrefix(msg, "\x01ACTION "), "\x01")
	}

	text, err := s.tr.Outbound(msg)
	if err != nil {
		return fmt.Errorf("translating message: %w", err)
	}

	if strings.HasPrefix(dest, "#") {
		ch, err := s.backend.ChannelByName(ctx, dest[1:])
		if err != nil {
			return protocolErr(ErrNoSuchChannel, nil, "Unable to find channel: %s", dest[1:])
		}
		return s.backend.SendMessage(ctx, ch.ID, text, action)
	}

	u, err := s.backend.UserByName(dest)
	if err != nil {
		s.logger.Info("impossible to find user", "nick", dest)
		return nil
	}
	return s.backend.SendMessageToUser(ctx, u.ID, text, action)
}

func (s *Session) handleList(ctx context.Context, _, _ string) error {
	channels, err := s.backend.Channels(ctx, true)
	if err != nil {
		return err
	}
	for _, c := range channels {
		s.reply(RplList, c.RealTopic(), c.IRCName(), strconv.Itoa(c.NumMembers))
	}
	s.reply(RplListEnd, "End of LIST")
	return nil
}

func (s *Session) whoReply(name string, u chat.User) {
	s.reply(RplWhoReply, "0 "+u.RealName(), name, u.Name, localMask, s.host, u.Name, "H")
}

func (s *Session) handleWho(ctx context.Context, verb, rest string) error {
	name, _, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if name == "" {
		return needMoreParams(verb)
	}
	if !strings.HasPrefix(name, "#") {
		u, err := s.backend.UserByName(name)
		if err != nil {
			return nil
		}
		s.whoReply(name, u)
		return nil
	}

	ch, err := s.backend.ChannelByName(ctx, name[1:])
	if err != nil {
		return nil
	}
	ids, err := s.backend.Members(ctx, ch.ID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		u, err := s.backend.User(ctx, id)
		if err != nil {
			continue
		}
		s.whoReply(name, u)
	}
	s.reply(RplEndOfWho, "End of WHO list", name)
	return nil
}

func (s *Session) handleMode(_ context.Context, verb, rest string) error {
	target, _, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if target == "" {
		return needMoreParams(verb)
	}
	s.reply(RplChannelModeIs, "", target, "+")
	return nil
}

func (s *Session) handlePart(_ context.Context, verb, rest string) error {
	target, _, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if target == "" {
		return needMoreParams(verb)
	}
	for _, name := range strings.Split(target, ",") {
		s.parted[name] = struct{}{}
	}
	return nil
}

func (s *Session) handleAway(ctx context.Context, _, rest string) error {
	away := strings.TrimSpace(rest) != ""
	if err := s.backend.SetAway(ctx, away); err != nil {
		return err
	}
	if away {
		s.reply(RplNowAway, "Away status changed")
	} else {
		s.reply(RplUnAway, "Away status changed")
	}
	return nil
}

func (s *Session) handleTopic(ctx context.Context, verb, rest string) error {
	target, topic, hasTopic := strings.Cut(rest, " ")
	if target == "" {
		return needMoreParams(verb)
	}
	ch, err := s.backend.ChannelByName(ctx, strings.TrimPrefix(target, "#"))
	if err != nil {
		return protocolErr(ErrNoSuchChannel, nil, "Unable to find channel: %s", target)
	}
	if !hasTopic {
		s.reply(RplTopic, ch.RealTopic(), target)
		return nil
	}
	topic = trailing(topic)
	if err := s.backend.SetTopic(ctx, ch.ID, topic); err != nil {
		s.logger.Warn("setting topic failed", "channel", target, "error", err)
		return protocolErr(ErrUnknownCommand, nil, "Unable to set topic to %s", topic)
	}
	return nil
}

// channelAndUser resolves a "#channel" and a nickname for KICK and INVITE.
func (s *Session) channelAndUser(ctx context.Context, channel, nick string) (chat.Channel, chat.User, error) {
	ch, err := s.backend.ChannelByName(ctx, strings.TrimPrefix(channel, "#"))
	if err != nil {
		return chat.Channel{}, chat.User{}, protocolErr(ErrNoSuchChannel, nil, "Unable to find channel: %s", channel)
	}
	u, err := s.backend.UserByName(nick)
	if err != nil {
		return chat.Channel{}, chat.User{}, protocolErr(ErrNoSuchNick, nil, "Unknown user %s", nick)
	}
	return ch, u, nil
}

func (s *Session) handleKick(ctx context.Context, verb, rest string) error {
	params := strings.SplitN(rest, " ", 3)
	if len(params) < 2 {
		return needMoreParams(verb)
	}
	ch, u, err := s.channelAndUser(ctx, params[0], params[1])
	if err != nil {
		return err
	}
	if err := s.backend.Kick(ctx, ch.ID, u.ID); err != nil {
		return protocolErr(ErrUnknownCommand, nil, "Error: %v", err)
	}
	return nil
}

func (s *Session) handleInvite(ctx context.Context, verb, rest string) error {
	params := strings.SplitN(rest, " ", 3)
	if len(params) < 2 {
		return needMoreParams(verb)
	}
	ch, u, err := s.channelAndUser(ctx, params[1], params[0])
	if err != nil {
		return err
	}
	if err := s.backend.Invite(ctx, ch.ID, []string{u.ID}); err != nil {
		return protocolErr(ErrUnknownCommand, nil, "Error: %v", err)
	}
	return nil
}

func (s *Session) handleSendfile(ctx context.Context, _, rest string) error {
	dest, path, ok := strings.Cut(rest, " ")
	if !ok || dest == "" || path == "" {
		return protocolErr(ErrUnknownCommand, nil, "Syntax: /sendfile #channel filename")
	}

	var destID string
	if strings.HasPrefix(dest, "#") {
		ch, err := s.backend.ChannelByName(ctx, dest[1:])
		if err != nil {
			return protocolErr(ErrNoSuchChannel, nil, "Unable to find destination: %s", dest)
		}
		destID = ch.ID
	} else {
		u, err := s.backend.UserByName(dest)
		if err != nil {
			return protocolErr(ErrNoSuchChannel, nil, "Unable to find destination: %s", dest)
		}
		destID = u.ID
	}

	info, err := os.Stat(path)
	if err != nil {
		return protocolErr(ErrFileError, nil, "Unable to send file %v", err)
	}
	if err := s.backend.SendFile(ctx, destID, path); err != nil {
		return protocolErr(ErrFileError, nil, "Unable to send file %v", err)
	}
	s.writeLine(":%s NOTICE %s :Upload of %s (%s) completed", s.host, s.nick, path, humanize.IBytes(uint64(info.Size())))
	return nil
}

func (s *Session) handleUserhost(_ context.Context, _, rest string) error {
	var tokens []string
	for _, nick := range strings.Fields(rest) {
		tokens = append(tokens, nick+"=+unknown")
	}
	s.reply(RplUserHost, "", tokens...)
	return nil
}

func (s *Session) handleWhois(_ context.Context, verb, rest string) error {
	names := strings.Fields(rest)
	if len(names) == 0 {
		return needMoreParams(verb)
	}
	if len(names) > 1 {
		s.reply(ErrUnknownCommand, "Server parameter is not supported")
	}
	// Only the last parameter is the nickname.
	name := names[len(names)-1]
	if strings.Contains(name, "*") {
		return protocolErr(ErrUnknownCommand, nil, "Wildcards are not supported")
	}

	u, err := s.backend.UserByName(name)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return protocolErr(ErrNoSuchNick, []string{name}, "Unknown user %s", name)
		}
		return err
	}
	s.reply(RplWhoisUser, u.RealName(), name, u.Name, "localhost", "*")
	if u.Profile.Email != "" {
		s.reply(RplWhoisUser, "email: "+u.Profile.Email, name, u.Name, "localhost", "*")
	}
	if u.IsAdmin {
		s.reply(RplWhoisOperator, name+" is an IRC operator", name)
	}
	s.reply(RplEndOfWhois, "End of WHOIS list", name)
	return nil
}

func (s *Session) handleQuit(_ context.Context, _, rest string) error {
	s.logger.Info("client quit", "nick", s.nick, "reason", trailing(rest))
	return ErrQuit
}
