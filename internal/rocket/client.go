// ABOUTME: Rocket.Chat DDP connection: method calls, subscriptions and frame routing
// ABOUTME: Doubles as the stream transport by buffering room message frames

package rocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"nhooyr.io/websocket"

	"github.com/TinLe/localslackirc/internal/chat"
	"github.com/TinLe/localslackirc/internal/stream"
)

const (
	// DefaultCallTimeout bounds every method call and subscription.
	DefaultCallTimeout = 10 * time.Second
	readLimit          = 4 << 20
	roomMessages       = "stream-room-messages"
)

var errConnectionLost = errors.New("connection lost")

// Options configures a Client.
type Options struct {
	// URL is the DDP websocket endpoint, e.g. wss://chat.example.com/websocket.
	URL   string
	Token string
	// RESTURL overrides the REST root derived from URL.
	RESTURL     string
	HTTPClient  *http.Client
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// reply is the answer to a call or subscription.
type reply struct {
	result json.RawMessage
	err    error
}

// Client talks DDP to one Rocket.Chat server.
type Client struct {
	url         string
	restURL     string
	token       string
	http        *http.Client
	callTimeout time.Duration
	idPrefix    string
	logger      *slog.Logger
	ready       chan struct{}
	maxBuffered int
	lastID      atomic.Uint64

	mu         sync.Mutex
	conn       *websocket.Conn
	cancel     context.CancelFunc
	waiters    map[string]chan reply
	buf        []stream.Raw
	err        error
	userID     string
	subscribed map[string]bool
	users      map[string]chat.User
}

// New creates a client. It does not connect.
func New(opts Options) (*Client, error) {
	rest := opts.RESTURL
	if rest == "" {
		var err error
		if rest, err = restRoot(opts.URL); err != nil {
			return nil, err
		}
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		url:         opts.URL,
		restURL:     strings.TrimSuffix(rest, "/"),
		token:       opts.Token,
		http:        hc,
		callTimeout: timeout,
		idPrefix:    "lsi" + uuid.NewString() + "_",
		logger:      logger.With("component", "rocket"),
		ready:       make(chan struct{}, 1),
		maxBuffered: stream.MaxBuffered,
		waiters:     make(map[string]chan reply),
		subscribed:  make(map[string]bool),
		users:       make(map[string]chat.User),
	}
	c.lastID.Store(100)
	return c, nil
}

// restRoot maps ws(s)://host/websocket onto http(s)://host.
func restRoot(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing rocket url: %w", err)
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	case "http", "https":
	default:
		return "", fmt.Errorf("rocket url %q: unsupported scheme %q", raw, u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/websocket")
	u.RawQuery = ""
	return u.String(), nil
}

// Connect dials the websocket, resumes the login token, fetches the
// identity and subscribes to every room.
func (c *Client) Connect(ctx context.Context) (chat.Identity, error) {
	c.shutdown()

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return chat.Identity{}, &chat.ConnectionError{Op: "websocket dial", Err: err}
	}
	conn.SetReadLimit(readLimit)

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.buf = nil
	c.err = nil
	c.subscribed = make(map[string]bool)
	c.mu.Unlock()
	go c.readLoop(connCtx, conn)

	identity, err := c.login(ctx, conn)
	if err != nil {
		c.shutdown()
		return chat.Identity{}, &chat.ConnectionError{Op: "login", Err: err}
	}
	if _, err := c.ListChannels(ctx); err != nil {
		c.shutdown()
		return chat.Identity{}, &chat.ConnectionError{Op: "rooms/get", Err: err}
	}
	return identity, nil
}

func (c *Client) login(ctx context.Context, conn *websocket.Conn) (chat.Identity, error) {
	hello := map[string]any{"msg": "connect", "version": "1", "support": []string{"1"}}
	if err := c.send(ctx, conn, hello); err != nil {
		return chat.Identity{}, err
	}

	var session struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, "login", []any{map[string]string{"resume": c.token}}, &session); err != nil {
		return chat.Identity{}, err
	}
	c.mu.Lock()
	c.userID = session.ID
	c.mu.Unlock()

	me, err := c.me(ctx, session.ID)
	if err != nil {
		return chat.Identity{}, err
	}
	host := c.restURL
	if u, err := url.Parse(c.restURL); err == nil {
		host = u.Host
	}
	return chat.Identity{
		Self: chat.Self{ID: session.ID, Name: me.Username},
		Team: chat.Team{Name: host, Domain: host},
	}, nil
}

type meResponse struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// me fetches the logged-in account over REST.
func (c *Client) me(ctx context.Context, userID string) (meResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.restURL+"/api/v1/me", nil)
	if err != nil {
		return meResponse{}, fmt.Errorf("building me request: %w", err)
	}
	req.Header.Set("X-Auth-Token", c.token)
	req.Header.Set("X-User-Id", userID)

	resp, err := c.http.Do(req)
	if err != nil {
		return meResponse{}, fmt.Errorf("requesting me: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return meResponse{}, &chat.RequestError{Method: "me", Reason: resp.Status}
	}
	var out meResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return meResponse{}, fmt.Errorf("decoding me: %w", err)
	}
	return out, nil
}

// Read returns the room message frames received since the previous call.
func (c *Client) Read() ([]stream.Raw, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buf) > 0 {
		batch := c.buf
		c.buf = nil
		return batch, nil
	}
	if c.err != nil {
		return nil, &chat.ConnectionError{Op: "ddp read", Err: c.err}
	}
	if c.conn == nil {
		return nil, chat.ErrNotConnected
	}
	return nil, nil
}

// Ready fires when frames are buffered or the connection dropped.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// Err reports a dropped connection while leaving buffered frames in place.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return &chat.ConnectionError{Op: "ddp read", Err: c.err}
	}
	if c.conn == nil {
		return chat.ErrNotConnected
	}
	return nil
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.shutdown()
	return nil
}

func (c *Client) shutdown() {
	c.mu.Lock()
	conn, cancel := c.conn, c.cancel
	c.conn, c.cancel = nil, nil
	waiters := c.waiters
	c.waiters = make(map[string]chan reply)
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- reply{err: errConnectionLost}
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (c *Client) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, chat.ErrNotConnected
	}
	return c.conn, nil
}

func (c *Client) send(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &chat.ConnectionError{Op: "ddp write", Err: err}
	}
	return nil
}

// call runs a remote method and decodes its result into out, which may be nil.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	id := strconv.FormatUint(c.lastID.Add(1), 10)
	frame := map[string]any{"msg": "method", "method": method, "params": params, "id": id}
	rep, err := c.roundTrip(ctx, id, frame)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if rep.err != nil {
		var reqErr *chat.RequestError
		if errors.As(rep.err, &reqErr) {
			reqErr.Method = method
			return reqErr
		}
		return fmt.Errorf("%s: %w", method, rep.err)
	}
	if out == nil || len(rep.result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rep.result, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

// subscribe starts a subscription and waits for the server to accept it.
func (c *Client) subscribe(ctx context.Context, name string, params []any) error {
	id := strconv.FormatUint(c.lastID.Add(1), 10)
	frame := map[string]any{"msg": "sub", "name": name, "params": params, "id": id}
	rep, err := c.roundTrip(ctx, id, frame)
	if err != nil {
		return fmt.Errorf("subscribing %s: %w", name, err)
	}
	if rep.err != nil {
		return fmt.Errorf("subscribing %s: %w", name, rep.err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, id string, frame map[string]any) (reply, error) {
	conn, err := c.current()
	if err != nil {
		return reply{}, err
	}

	ch := make(chan reply, 1)
	c.mu.Lock()
	c.waiters[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	if err := c.send(ctx, conn, frame); err != nil {
		return reply{}, err
	}
	select {
	case rep := <-ch:
		return rep, nil
	case <-ctx.Done():
		return reply{}, fmt.Errorf("waiting for reply %s: %w", id, ctx.Err())
	}
}

func (c *Client) deliver(id string, rep reply) {
	c.mu.Lock()
	ch, ok := c.waiters[id]
	delete(c.waiters, id)
	c.mu.Unlock()
	if ok {
		ch <- rep
	}
}

func (c *Client) signal() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func (c *Client) fail(conn *websocket.Conn, err error) {
	c.mu.Lock()
	var waiters map[string]chan reply
	if c.conn == conn {
		c.err = err
		waiters = c.waiters
		c.waiters = make(map[string]chan reply)
	}
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- reply{err: errConnectionLost}
	}
	c.signal()
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("ddp connection dropped", "error", err)
			}
			c.fail(conn, err)
			return
		}

		fields := gjson.GetManyBytes(data, "msg", "id")
		switch fields[0].String() {
		case "ping":
			pong := map[string]any{"msg": "pong"}
			if fields[1].Exists() {
				pong["id"] = fields[1].String()
			}
			if err := c.send(ctx, conn, pong); err != nil {
				c.fail(conn, err)
				return
			}
		case "result", "nosub":
			c.deliver(fields[1].String(), parseReply(data))
		case "ready":
			for _, sub := range gjson.GetBytes(data, "subs").Array() {
				c.deliver(sub.String(), reply{})
			}
		case "changed":
			if gjson.GetBytes(data, "collection").String() != roomMessages {
				continue
			}
			c.mu.Lock()
			full := len(c.buf) >= c.maxBuffered
			if full {
				c.buf = nil
			} else {
				c.buf = append(c.buf, sniff(data))
			}
			c.mu.Unlock()
			if full {
				c.logger.Warn("ddp buffer full, dropping it and reconnecting", "limit", c.maxBuffered)
				c.fail(conn, stream.ErrBufferFull)
				return
			}
			c.signal()
		}
	}
}

func parseReply(data []byte) reply {
	var frame struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Error   json.RawMessage `json:"error"`
			Reason  string          `json:"reason"`
			Message string          `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return reply{err: fmt.Errorf("decoding reply: %w", err)}
	}
	if frame.Error != nil {
		reason := frame.Error.Reason
		if reason == "" {
			reason = strings.Trim(string(frame.Error.Error), `"`)
		}
		if reason == "" {
			reason = frame.Error.Message
		}
		return reply{err: &chat.RequestError{Reason: reason}}
	}
	return reply{result: frame.Result}
}

var _ stream.Transport = (*Client)(nil)
