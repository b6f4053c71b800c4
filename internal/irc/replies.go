// ABOUTME: IRC numeric replies, protocol errors and line formatting
// ABOUTME: Every reply has the form ":<host> <NNN> <nick> <tokens> :<message>"

package irc

import (
	"errors"
	"fmt"
	"strings"
)

// Numeric replies used by the gateway.
const (
	RplWelcome       = 1
	RplYourHost      = 2
	RplLUserClient   = 251
	RplUserHost      = 302
	RplUnAway        = 305
	RplNowAway       = 306
	RplWhoisUser     = 311
	RplWhoisOperator = 313
	RplEndOfWho      = 315
	RplEndOfWhois    = 318
	RplList          = 322
	RplListEnd       = 323
	RplChannelModeIs = 324
	RplTopic         = 332
	RplWhoReply      = 352
	RplNamReply      = 353
	RplEndOfNames    = 366

	ErrNoSuchNick       = 401
	ErrNoSuchChannel    = 403
	ErrUnknownCommand   = 421
	ErrFileError        = 424
	ErrErroneusNickname = 432
	ErrNeedMoreParams   = 461
	ErrPasswdMismatch   = 464
)

// ErrQuit is returned by Command when the session must be closed.
var ErrQuit = errors.New("client quit")

// ProtocolError is a command failure answered with a numeric reply.
type ProtocolError struct {
	Code    int
	Message string
	Tokens  []string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%03d %s", e.Code, e.Message)
}

func protocolErr(code int, tokens []string, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...), Tokens: tokens}
}

func needMoreParams(verb string) *ProtocolError {
	return protocolErr(ErrNeedMoreParams, []string{verb}, "Not enough parameters")
}

// formatReply builds a numeric reply line without its terminator. Before NICK
// the target is "*".
func formatReply(host string, code int, nick string, tokens []string, message string) string {
	if nick == "" {
		nick = "*"
	}
	var b strings.Builder
	fmt.Fprintf(&b, ":%s %03d %s", host, code, nick)
	for _, t := range tokens {
		b.WriteByte(' ')
		b.WriteString(t)
	}
	b.WriteString(" :")
	b.WriteString(message)
	return b.String()
}
