// ABOUTME: Test doubles for the event stream engine
// ABOUTME: Scripted transport, in-memory cache and a manual clock

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/TinLe/localslackirc/internal/chat"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// fakeTransport decodes raw events whose Data is a JSON chat.Message, keyed by
// Type: "message", "me_message", "member_joined_channel",
// "member_left_channel", "user_change".
type fakeTransport struct {
	identity    chat.Identity
	connectErrs []error
	connects    int
	batches     [][]Raw
	readErr     error
	ready       chan struct{}
	closed      bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		identity: chat.Identity{Self: chat.Self{ID: "USELF", Name: "me"}, Team: chat.Team{Name: "team"}},
		ready:    make(chan struct{}),
	}
}

func (f *fakeTransport) Connect(context.Context) (chat.Identity, error) {
	f.connects++
	f.readErr = nil
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return chat.Identity{}, err
		}
	}
	return f.identity, nil
}

func (f *fakeTransport) Read() ([]Raw, error) {
	if f.readErr != nil {
		err := f.readErr
		f.readErr = nil
		return nil, err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeTransport) Ready() <-chan struct{} { return f.ready }

func (f *fakeTransport) Err() error { return f.readErr }

func (f *fakeTransport) Decode(_ context.Context, raw Raw) (chat.Event, error) {
	var m struct {
		Channel string `json:"channel"`
		User    string `json:"user"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal(raw.Data, &m); err != nil {
		return nil, err
	}
	switch raw.Type {
	case "message":
		return chat.Message{Channel: m.Channel, User: m.User, Text: m.Text}, nil
	case "me_message":
		return chat.ActionMessage{Channel: m.Channel, User: m.User, Text: m.Text}, nil
	case "member_joined_channel":
		return chat.Join{Channel: m.Channel, User: m.User}, nil
	case "member_left_channel":
		return chat.Leave{Channel: m.Channel, User: m.User}, nil
	case "user_change":
		return chat.UserChange{User: chat.User{ID: m.User}}, nil
	}
	return nil, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

// historyTransport adds paged history to fakeTransport.
type historyTransport struct {
	*fakeTransport
	history map[string][]HistoryPage
	replies map[string][]HistoryPage
	oldest  []chat.TS
	err     error
}

func (h *historyTransport) page(pages []HistoryPage, cursor string) HistoryPage {
	idx := 0
	if cursor != "" {
		idx = int(cursor[0] - '0')
	}
	if idx >= len(pages) {
		return HistoryPage{}
	}
	return pages[idx]
}

func (h *historyTransport) History(_ context.Context, channelID string, oldest chat.TS, cursor string) (HistoryPage, error) {
	if h.err != nil {
		return HistoryPage{}, h.err
	}
	h.oldest = append(h.oldest, oldest)
	return h.page(h.history[channelID], cursor), nil
}

func (h *historyTransport) Replies(_ context.Context, _ string, threadTS, cursor string) (HistoryPage, error) {
	return h.page(h.replies[threadTS], cursor), nil
}

type fakeCache struct {
	channels  []chat.Channel
	members   map[string]map[string]bool
	ims       map[string]chat.IM
	forgotten []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		members: map[string]map[string]bool{"C1": {}},
		ims:     map[string]chat.IM{},
	}
}

func (c *fakeCache) Channels(context.Context, bool) ([]chat.Channel, error) {
	return c.channels, nil
}

func (c *fakeCache) AddMember(channelID, userID string) error {
	m, ok := c.members[channelID]
	if !ok {
		return chat.NotFoundf("channel %s", channelID)
	}
	m[userID] = true
	return nil
}

func (c *fakeCache) RemoveMember(channelID, userID string) error {
	m, ok := c.members[channelID]
	if !ok {
		return chat.NotFoundf("channel %s", channelID)
	}
	delete(m, userID)
	return nil
}

func (c *fakeCache) IMByChannel(_ context.Context, channelID string) (chat.IM, bool, error) {
	im, ok := c.ims[channelID]
	return im, ok, nil
}

func (c *fakeCache) Forget(userID string) {
	c.forgotten = append(c.forgotten, userID)
}

// fakeDedup is a set of timestamps consumed at most once.
type fakeDedup struct {
	marked map[chat.TS]bool
	pruned int
}

func (d *fakeDedup) Consume(ts chat.TS) bool {
	if d.marked[ts] {
		delete(d.marked, ts)
		return true
	}
	return false
}

func (d *fakeDedup) Prune() { d.pruned++ }

var errBoom = errors.New("boom")

func raw(typ string, ts chat.TS, channel, user, text string) Raw {
	data, _ := json.Marshal(map[string]string{"channel": channel, "user": user, "text": text})
	return Raw{Type: typ, TS: ts, Data: data}
}
