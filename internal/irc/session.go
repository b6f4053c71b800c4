// ABOUTME: Per-connection IRC session: activation, event holding and dispatch
// ABOUTME: Driven from a single goroutine by the server loop

package irc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/TinLe/localslackirc/internal/chat"
	"github.com/TinLe/localslackirc/internal/markup"
)

// DefaultMPIMHideDelay hides multi-party direct channels idle for longer.
const DefaultMPIMHideDelay = 50 * 24 * time.Hour

// localMask is the host part of every prefix the gateway generates.
const localMask = "127.0.0.1"

// Options configures a Session.
type Options struct {
	// Hostname is the server name in replies; defaults to os.Hostname.
	Hostname   string
	AutoJoin   bool
	NoUserList bool
	// MPIMHideDelay defaults to DefaultMPIMHideDelay.
	MPIMHideDelay time.Duration
	// PasswordHash is a bcrypt hash the client must match with PASS before
	// USER. Empty disables the check.
	PasswordHash string
	Now          func() time.Time
	Logger       *slog.Logger
}

// Session is the state of one IRC client connection. It is not safe for
// concurrent use.
type Session struct {
	w       io.Writer
	backend Backend
	tr      *markup.Translator
	opts    Options
	logger  *slog.Logger

	host     string
	nick     string
	username string
	realname string
	parted   map[string]struct{}

	passOK bool
	active bool
	held   []chat.Event

	werr error
}

// NewSession creates a session writing protocol lines to w.
func NewSession(w io.Writer, b Backend, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MPIMHideDelay <= 0 {
		opts.MPIMHideDelay = DefaultMPIMHideDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	host := opts.Hostname
	if host == "" {
		host, _ = os.Hostname()
		if host == "" {
			host = "localhost"
		}
	}
	return &Session{
		w:       w,
		backend: b,
		tr:      markup.New(b.Provider(), b),
		opts:    opts,
		logger:  logger.With("component", "irc"),
		host:    host,
		parted:  make(map[string]struct{}),
		passOK:  opts.PasswordHash == "",
	}
}

// Active reports whether the client completed registration.
func (s *Session) Active() bool { return s.active }

// Nick returns the nickname the client asked for.
func (s *Session) Nick() string { return s.nick }

// Command handles one line received from the client. It returns ErrQuit when
// the connection must be closed, or the first write error.
func (s *Session) Command(ctx context.Context, line string) error {
	verb, rest, _ := strings.Cut(line, " ")
	h, ok := handlers[strings.ToUpper(verb)]
	if !ok {
		s.logger.Info("unknown command", "line", line)
		s.reply(ErrUnknownCommand, "Unknown command", verb)
		return s.werr
	}

	err := h(s, ctx, verb, rest)
	var perr *ProtocolError
	switch {
	case err == nil:
	case errors.Is(err, ErrQuit):
		return err
	case errors.As(err, &perr):
		s.reply(perr.Code, perr.Message, perr.Tokens...)
	default:
		s.logger.Warn("command failed", "verb", verb, "error", err)
		s.reply(ErrUnknownCommand, "Error: "+err.Error(), verb)
	}
	return s.werr
}

// Event renders a backend event, or holds it until activation.
func (s *Session) Event(ctx context.Context, ev chat.Event) error {
	if !s.active {
		s.held = append(s.held, ev)
		return nil
	}
	s.render(ctx, ev)
	return s.werr
}

// activate flushes the events held before registration, exactly once.
func (s *Session) activate(ctx context.Context) {
	s.active = true
	held := s.held
	s.held = nil
	for _, ev := range held {
		s.render(ctx, ev)
	}
}

func (s *Session) isParted(name string) bool {
	_, ok := s.parted[name]
	return ok
}

// writeLine sends one protocol line. After the first failure all writes are
// skipped and the error is reported by Command and Event.
func (s *Session) writeLine(format string, args ...any) {
	if s.werr != nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	if _, err := io.WriteString(s.w, line+"\r\n"); err != nil {
		s.werr = fmt.Errorf("writing to client: %w", err)
	}
}

func (s *Session) reply(code int, message string, tokens ...string) {
	s.writeLine("%s", formatReply(s.host, code, s.nick, tokens, message))
}

func (s *Session) privmsg(from, to, message string) {
	s.writeLine(":%s!%s@%s PRIVMSG %s :%s", from, s.nick, localMask, to, message)
}
