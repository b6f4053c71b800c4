// ABOUTME: Event stream engine: connection state machine, translation and dedup
// ABOUTME: Pull-driven; every Next call performs at most one step of work

package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/TinLe/localslackirc/internal/chat"
)

// State is the connection state of the engine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Cache is what the engine needs from the entity cache.
type Cache interface {
	Channels(ctx context.Context, refresh bool) ([]chat.Channel, error)
	AddMember(channelID, userID string) error
	RemoveMember(channelID, userID string) error
	IMByChannel(ctx context.Context, channelID string) (chat.IM, bool, error)
	Forget(userID string)
}

// Dedup tracks timestamps of messages the gateway sent itself.
type Dedup interface {
	Consume(ts chat.TS) bool
	Prune()
}

// Options configures an Engine.
type Options struct {
	// Ignore lists event types dropped without decoding.
	Ignore []string
	// LastTimestamp is the persisted watermark to backfill from. Zero disables
	// backfill until a live event advances it.
	LastTimestamp  chat.TS
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// Snapshot is a point-in-time view of the engine for status reporting.
type Snapshot struct {
	State         State
	LastTimestamp chat.TS
	Backoff       time.Duration
	RetryAt       time.Time
	Identity      chat.Identity
	Queued        int
}

// Engine produces typed events from a Transport.
type Engine struct {
	transport Transport
	cache     Cache
	queue     *Queue
	dedup     Dedup
	ignore    map[string]struct{}
	now       func() time.Time
	logger    *slog.Logger

	// pending holds the undecoded remainder of the current batch.
	pending   []Raw
	batchDone bool

	mu       sync.Mutex
	state    State
	last     chat.TS
	backoff  *Backoff
	retryAt  time.Time
	identity chat.Identity
}

// NewEngine creates an engine. queue must be the sink the cache pushes to.
func NewEngine(t Transport, c Cache, q *Queue, d Dedup, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ignore := make(map[string]struct{}, len(opts.Ignore))
	for _, name := range opts.Ignore {
		ignore[name] = struct{}{}
	}
	return &Engine{
		transport: t,
		cache:     c,
		queue:     q,
		dedup:     d,
		ignore:    ignore,
		now:       now,
		logger:    logger.With("component", "stream"),
		state:     StateDisconnected,
		last:      opts.LastTimestamp,
		backoff:   NewBackoff(opts.BackoffFloor, opts.BackoffCeiling),
	}
}

// Next performs one step and returns the next event, or false when there is
// nothing to deliver right now. It never blocks on the network except while a
// due connection attempt is running.
func (e *Engine) Next(ctx context.Context) (chat.Event, bool) {
	for {
		if ev, ok := e.queue.Pop(); ok {
			return ev, true
		}

		if len(e.pending) > 0 {
			raw := e.pending[0]
			e.pending = e.pending[1:]
			if ev := e.translate(ctx, raw); ev != nil {
				return ev, true
			}
			continue
		}

		if e.batchDone {
			// One empty tick after every batch, like the original poll cycle.
			e.batchDone = false
			e.dedup.Prune()
			return nil, false
		}

		switch e.State() {
		case StateConnected:
			batch, err := e.transport.Read()
			if err != nil {
				e.logger.Warn("backend connection lost", "error", err)
				e.setState(StateConnecting)
				return nil, false
			}
			if len(batch) == 0 {
				e.dedup.Prune()
				return nil, false
			}
			e.pending = batch
			e.batchDone = true
		default:
			e.connect(ctx)
			return nil, false
		}
	}
}

// Maintain keeps the connection up without consuming any event. A
// connection that failed while nobody was reading is replaced.
func (e *Engine) Maintain(ctx context.Context) {
	if e.State() == StateConnected {
		err := e.transport.Err()
		if err == nil {
			return
		}
		e.logger.Warn("backend connection lost", "error", err)
		e.setState(StateConnecting)
	}
	e.connect(ctx)
}

// Ready fires when the live connection has buffered events. It returns nil
// (never ready) while disconnected.
func (e *Engine) Ready() <-chan struct{} {
	if e.State() != StateConnected {
		return nil
	}
	return e.transport.Ready()
}

// State returns the current connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Identity returns the identity captured on the last successful connection.
func (e *Engine) Identity() chat.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.identity
}

// LastTimestamp returns the last consumed event timestamp.
func (e *Engine) LastTimestamp() chat.TS {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Snapshot returns the engine status for health reporting.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		State:         e.state,
		LastTimestamp: e.last,
		Backoff:       e.backoff.Current(),
		RetryAt:       e.retryAt,
		Identity:      e.identity,
		Queued:        e.queue.Len(),
	}
}

// Close closes the underlying transport.
func (e *Engine) Close() error {
	return e.transport.Close()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// advance moves the watermark forward. It never moves backwards.
func (e *Engine) advance(ts chat.TS) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ts > e.last {
		e.last = ts
	}
}

// connect attempts a connection if the backoff allows it.
func (e *Engine) connect(ctx context.Context) {
	now := e.now()

	e.mu.Lock()
	if now.Before(e.retryAt) {
		e.mu.Unlock()
		return
	}
	e.state = StateConnecting
	e.mu.Unlock()

	e.logger.Info("connecting to backend")
	identity, err := e.transport.Connect(ctx)
	if err == nil {
		e.mu.Lock()
		e.identity = identity
		e.mu.Unlock()
		err = e.backfill(ctx)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		delay := e.backoff.Next()
		e.retryAt = now.Add(delay)
		e.logger.Warn("connection to backend failed", "error", err, "retry_in", delay)
		return
	}
	e.backoff.Reset()
	e.retryAt = time.Time{}
	e.state = StateConnected
	e.pending = nil
	e.batchDone = false
	e.logger.Info("connected to backend", "user", identity.Self.Name, "team", identity.Team.Name)
}

// translate turns one raw event into a typed event, or nil if it is dropped.
func (e *Engine) translate(ctx context.Context, raw Raw) chat.Event {
	e.advance(raw.TS)

	if _, useless := e.ignore[raw.Type]; useless {
		return nil
	}
	if raw.TS != 0 && e.dedup.Consume(raw.TS) {
		e.logger.Debug("suppressed echo of own message", "ts", raw.TS)
		return nil
	}

	ev, err := e.transport.Decode(ctx, raw)
	if err != nil {
		e.logger.Warn("failed to decode event", "type", raw.Type, "subtype", raw.Subtype, "error", err)
		return nil
	}
	if ev == nil {
		e.logger.Debug("unhandled event", "type", raw.Type, "subtype", raw.Subtype, "data", string(raw.Data))
		return nil
	}

	switch v := ev.(type) {
	case chat.Join:
		if err := e.cache.AddMember(v.Channel, v.User); err != nil {
			e.logger.Debug("join for uncached channel", "channel", v.Channel, "error", err)
			return nil
		}
	case chat.Leave:
		if err := e.cache.RemoveMember(v.Channel, v.User); err != nil {
			e.logger.Debug("leave for uncached channel", "channel", v.Channel, "error", err)
			return nil
		}
	case chat.UserChange:
		e.cache.Forget(v.User.ID)
		return nil
	case chat.Message:
		return e.ownDirectMessage(ctx, v.Channel, v.User, v.Text, false)
	case chat.ActionMessage:
		return e.ownDirectMessage(ctx, v.Channel, v.User, v.Text, true)
	}
	return ev
}

// ownDirectMessage rewrites messages the local user sent to a direct message
// channel from another client, so they show up as coming from the other side
// prefixed with "I say: ".
func (e *Engine) ownDirectMessage(ctx context.Context, channel, user, text string, action bool) chat.Event {
	im, ok, err := e.cache.IMByChannel(ctx, channel)
	if err != nil {
		e.logger.Debug("direct message lookup failed", "channel", channel, "error", err)
	}
	if ok && im.User != user && user == e.Identity().Self.ID {
		channel, user, text = im.ID, im.User, "I say: "+text
	}
	if action {
		return chat.ActionMessage{Channel: channel, User: user, Text: text}
	}
	return chat.Message{Channel: channel, User: user, Text: text}
}
