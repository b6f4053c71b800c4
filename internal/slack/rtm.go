// ABOUTME: Slack RTM websocket transport feeding the event stream engine
// ABOUTME: A reader goroutine buffers frames; Read drains them without blocking

package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"nhooyr.io/websocket"

	"github.com/TinLe/localslackirc/internal/chat"
	"github.com/TinLe/localslackirc/internal/stream"
)

const (
	defaultPingInterval = 30 * time.Second
	readLimit           = 4 << 20
)

// IgnoredEvents are RTM event types the gateway never renders.
var IgnoredEvents = []string{
	"channel_marked",
	"group_marked",
	"mpim_marked",
	"hello",
	"dnd_updated_user",
	"reaction_added",
	"user_typing",
	"file_deleted",
	"file_public",
	"file_created",
	"desktop_notification",
}

var errGoodbye = errors.New("server closed the session")

// RTM is the real time messaging transport. It also serves history.
type RTM struct {
	client       *Client
	pingInterval time.Duration
	ignored      map[string]struct{}
	maxBuffered  int
	logger       *slog.Logger
	ready        chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	buf    []stream.Raw
	err    error
}

// NewRTM creates a transport over client. It does not connect.
func NewRTM(client *Client) *RTM {
	ignored := make(map[string]struct{}, len(IgnoredEvents))
	for _, name := range IgnoredEvents {
		ignored[name] = struct{}{}
	}
	return &RTM{
		client:       client,
		pingInterval: defaultPingInterval,
		ignored:      ignored,
		maxBuffered:  stream.MaxBuffered,
		logger:       client.logger.With("transport", "rtm"),
		ready:        make(chan struct{}, 1),
	}
}

// Connect asks rtm.connect for a websocket URL and dials it.
func (r *RTM) Connect(ctx context.Context) (chat.Identity, error) {
	r.shutdown()

	var out struct {
		response
		URL  string    `json:"url"`
		Self chat.Self `json:"self"`
		Team chat.Team `json:"team"`
	}
	if err := r.client.call(ctx, "rtm.connect", url.Values{}, &out); err != nil {
		return chat.Identity{}, &chat.ConnectionError{Op: "rtm.connect", Err: err}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.client.token)
	if r.client.cookie != "" {
		header.Set("Cookie", r.client.cookie)
	}
	conn, _, err := websocket.Dial(ctx, out.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return chat.Identity{}, &chat.ConnectionError{Op: "websocket dial", Err: err}
	}
	conn.SetReadLimit(readLimit)

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Lock()
	r.conn = conn
	r.cancel = cancel
	r.buf = nil
	r.err = nil
	r.mu.Unlock()

	go r.readLoop(connCtx, conn)
	go r.pingLoop(connCtx, conn)

	return chat.Identity{Self: out.Self, Team: out.Team}, nil
}

// Read returns the frames received since the previous call.
func (r *RTM) Read() ([]stream.Raw, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf) > 0 {
		batch := r.buf
		r.buf = nil
		return batch, nil
	}
	if r.err != nil {
		return nil, &chat.ConnectionError{Op: "rtm read", Err: r.err}
	}
	if r.conn == nil {
		return nil, chat.ErrNotConnected
	}
	return nil, nil
}

// Ready fires when frames are buffered or the connection dropped.
func (r *RTM) Ready() <-chan struct{} {
	return r.ready
}

// Err reports a dropped connection while leaving buffered frames in place.
func (r *RTM) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return &chat.ConnectionError{Op: "rtm read", Err: r.err}
	}
	if r.conn == nil {
		return chat.ErrNotConnected
	}
	return nil
}

// Close tears the connection down.
func (r *RTM) Close() error {
	r.shutdown()
	return nil
}

func (r *RTM) shutdown() {
	r.mu.Lock()
	conn, cancel := r.conn, r.cancel
	r.conn, r.cancel = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (r *RTM) signal() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

func (r *RTM) fail(conn *websocket.Conn, err error) {
	r.mu.Lock()
	if r.conn == conn {
		r.err = err
	}
	r.mu.Unlock()
	r.signal()
}

func (r *RTM) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Warn("rtm connection dropped", "error", err)
			}
			r.fail(conn, err)
			return
		}

		typ := gjson.GetBytes(data, "type")
		if !typ.Exists() {
			// Acknowledgements of our own frames carry only reply_to.
			continue
		}
		switch typ.String() {
		case "pong":
			continue
		case "goodbye":
			r.fail(conn, errGoodbye)
			return
		}
		if _, useless := r.ignored[typ.String()]; useless {
			continue
		}

		raw := sniff(data)
		r.mu.Lock()
		full := len(r.buf) >= r.maxBuffered
		if full {
			r.buf = nil
		} else {
			r.buf = append(r.buf, raw)
		}
		r.mu.Unlock()
		if full {
			r.logger.Warn("rtm buffer full, dropping it and reconnecting", "limit", r.maxBuffered)
			r.fail(conn, stream.ErrBufferFull)
			return
		}
		r.signal()
	}
}

func (r *RTM) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()

	var id int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			id++
			frame, _ := json.Marshal(map[string]any{"id": id, "type": "ping"})
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				r.fail(conn, fmt.Errorf("ping: %w", err))
				conn.Close(websocket.StatusGoingAway, "ping failed")
				return
			}
		}
	}
}

// sniff extracts the fields the engine inspects from a raw frame.
func sniff(data []byte) stream.Raw {
	fields := gjson.GetManyBytes(data, "type", "subtype", "ts")
	ts, _ := chat.ParseTS(fields[2].String())
	return stream.Raw{
		Type:    fields[0].String(),
		Subtype: fields[1].String(),
		TS:      ts,
		Data:    data,
	}
}

// History returns one page of channel history newer than oldest.
func (r *RTM) History(ctx context.Context, channelID string, oldest chat.TS, cursor string) (stream.HistoryPage, error) {
	page, err := r.client.historyPage(ctx, "conversations.history", url.Values{
		"channel": {channelID},
		"oldest":  {formatTS(oldest)},
	}, cursor)
	if err != nil {
		return stream.HistoryPage{}, err
	}
	return page.convert(), nil
}

// Replies returns one page of a thread, parent included.
func (r *RTM) Replies(ctx context.Context, channelID, threadTS, cursor string) (stream.HistoryPage, error) {
	page, err := r.client.historyPage(ctx, "conversations.replies", url.Values{
		"channel": {channelID},
		"ts":      {threadTS},
	}, cursor)
	if err != nil {
		return stream.HistoryPage{}, err
	}
	return page.convert(), nil
}

func (p historyPage) convert() stream.HistoryPage {
	out := stream.HistoryPage{Next: p.next, Messages: make([]stream.HistoryMessage, 0, len(p.messages))}
	for _, m := range p.messages {
		out.Messages = append(out.Messages, stream.HistoryMessage{
			TS:       m.TS,
			User:     m.User,
			Text:     m.Text,
			Bot:      m.Subtype == "bot_message",
			BotID:    m.BotID,
			Username: m.Username,
			Files:    m.Files,
			ThreadTS: m.ThreadTS,
		})
	}
	return out
}

var (
	_ stream.Transport = (*RTM)(nil)
	_ stream.History   = (*RTM)(nil)
)
