// ABOUTME: Contracts a backend implements to feed the event stream engine
// ABOUTME: Raw frames, typed decoding and optional history paging

package stream

import (
	"context"
	"errors"

	"github.com/TinLe/localslackirc/internal/chat"
)

// MaxBuffered bounds the frames a transport holds between reads.
const MaxBuffered = 10000

// ErrBufferFull is reported by a transport that discarded its buffer after
// reaching MaxBuffered frames. The engine reconnects and history replays
// the gap from the unchanged watermark.
var ErrBufferFull = errors.New("event buffer full")

// Raw is one undecoded backend event with the fields the engine inspects.
type Raw struct {
	Type    string
	Subtype string
	TS      chat.TS
	Data    []byte
}

// Transport is a live backend event connection.
type Transport interface {
	// Connect (re)establishes the connection and returns the logged in identity.
	Connect(ctx context.Context) (chat.Identity, error)
	// Read returns the events buffered so far without blocking. An error
	// means the connection is gone.
	Read() ([]Raw, error)
	// Ready fires when Read has something to return.
	Ready() <-chan struct{}
	// Err reports why the connection failed, without consuming buffered
	// frames. It returns nil while the connection is healthy.
	Err() error
	// Decode maps a raw event onto the chat event family. A nil event with a
	// nil error means the shape is not one the gateway handles.
	Decode(ctx context.Context, raw Raw) (chat.Event, error)
	Close() error
}

// HistoryMessage is one message from a channel history or thread listing.
type HistoryMessage struct {
	TS       chat.TS
	User     string
	Text     string
	Bot      bool
	BotID    string
	Username string
	Files    []chat.File
	// ThreadTS is set on thread parents (equal to TS) and replies.
	ThreadTS string
}

// HistoryPage is one page of a paginated history listing.
type HistoryPage struct {
	Messages []HistoryMessage
	// Next is the continuation cursor; empty on the last page.
	Next string
}

// History is implemented by transports that can replay missed messages.
type History interface {
	History(ctx context.Context, channelID string, oldest chat.TS, cursor string) (HistoryPage, error)
	Replies(ctx context.Context, channelID, threadTS, cursor string) (HistoryPage, error)
}
