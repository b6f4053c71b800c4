package irc

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/TinLe/localslackirc/internal/chat"
)

type sentMessage struct {
	Dest   string
	Text   string
	Action bool
	ToUser bool
}

type fakeBackend struct {
	provider chat.Provider
	identity chat.Identity
	channels []chat.Channel
	users    []chat.User
	members  map[string][]string
	files    map[string]chat.File

	joinErr  error
	topicErr error

	refreshes  int
	prefetched bool
	joined     []string
	kicked     [][2]string
	invited    [][]string
	topics     map[string]string
	away       []bool
	sent       []sentMessage
	uploads    [][2]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		provider: chat.ProviderSlack,
		identity: chat.Identity{
			Self: chat.Self{ID: "U1", Name: "alice"},
			Team: chat.Team{ID: "T1", Name: "Acme", Domain: "acme"},
		},
		channels: []chat.Channel{
			{ID: "C1", NameNormalized: "random", IsMember: true, IsChannel: true, NumMembers: 3, Topic: chat.Topic{Value: "fun"}},
			{ID: "C2", NameNormalized: "ops", IsMember: false, IsChannel: true, Purpose: chat.Topic{Value: "on\ncall"}},
			{ID: "G1", NameNormalized: "mpdm-old", IsMember: true, IsMPIM: true, Latest: &chat.LatestMessage{TS: 1}},
		},
		users: []chat.User{
			{ID: "U1", Name: "alice", Profile: chat.Profile{RealName: "Alice Liddell"}},
			{ID: "U2", Name: "bob", IsAdmin: true, Profile: chat.Profile{RealName: "Bob", Email: "bob@example.com"}},
			{ID: "U3", Name: "ghost", Deleted: true},
		},
		members: map[string][]string{"C1": {"U1", "U2", "U3"}, "C2": {"U2"}},
		files:   map[string]chat.File{},
		topics:  map[string]string{},
	}
}

func (f *fakeBackend) Identity() chat.Identity { return f.identity }
func (f *fakeBackend) Provider() chat.Provider { return f.provider }

func (f *fakeBackend) Channels(_ context.Context, refresh bool) ([]chat.Channel, error) {
	if refresh {
		f.refreshes++
	}
	return f.channels, nil
}

func (f *fakeBackend) Channel(_ context.Context, id string) (chat.Channel, error) {
	for _, c := range f.channels {
		if c.ID == id {
			return c, nil
		}
	}
	return chat.Channel{}, chat.NotFoundf("channel %s", id)
}

func (f *fakeBackend) ChannelByName(_ context.Context, name string) (chat.Channel, error) {
	for _, c := range f.channels {
		if c.Name() == name {
			return c, nil
		}
	}
	return chat.Channel{}, chat.NotFoundf("channel %q", name)
}

func (f *fakeBackend) Members(_ context.Context, id string) ([]string, error) {
	return f.members[id], nil
}

func (f *fakeBackend) User(_ context.Context, id string) (chat.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return chat.User{}, chat.NotFoundf("user %s", id)
}

func (f *fakeBackend) UserByName(name string) (chat.User, error) {
	for _, u := range f.users {
		if u.Name == name {
			return u, nil
		}
	}
	return chat.User{}, chat.NotFoundf("user %q", name)
}

func (f *fakeBackend) Usernames() ([]string, uint64) {
	names := make([]string, 0, len(f.users))
	for _, u := range f.users {
		names = append(names, u.Name)
	}
	return names, uint64(len(f.users))
}

func (f *fakeBackend) Generation() uint64 { return uint64(len(f.users)) }

func (f *fakeBackend) PrefetchUsers(context.Context) error {
	f.prefetched = true
	return nil
}

func (f *fakeBackend) Join(_ context.Context, id string) error {
	f.joined = append(f.joined, id)
	return f.joinErr
}

func (f *fakeBackend) Kick(_ context.Context, channelID, userID string) error {
	f.kicked = append(f.kicked, [2]string{channelID, userID})
	return nil
}

func (f *fakeBackend) Invite(_ context.Context, channelID string, userIDs []string) error {
	f.invited = append(f.invited, append([]string{channelID}, userIDs...))
	return nil
}

func (f *fakeBackend) SetTopic(_ context.Context, channelID, topic string) error {
	if f.topicErr != nil {
		return f.topicErr
	}
	f.topics[channelID] = topic
	return nil
}

func (f *fakeBackend) SetAway(_ context.Context, away bool) error {
	f.away = append(f.away, away)
	return nil
}

func (f *fakeBackend) SendMessage(_ context.Context, channelID, text string, action bool) error {
	f.sent = append(f.sent, sentMessage{Dest: channelID, Text: text, Action: action})
	return nil
}

func (f *fakeBackend) SendMessageToUser(_ context.Context, userID, text string, action bool) error {
	f.sent = append(f.sent, sentMessage{Dest: userID, Text: text, Action: action, ToUser: true})
	return nil
}

func (f *fakeBackend) SendFile(_ context.Context, destID, path string) error {
	f.uploads = append(f.uploads, [2]string{destID, path})
	return nil
}

func (f *fakeBackend) File(_ context.Context, id string) (chat.File, error) {
	file, ok := f.files[id]
	if !ok {
		return chat.File{}, chat.NotFoundf("file %s", id)
	}
	return file, nil
}

// client wraps a session and captures its output lines.
type client struct {
	t       *testing.T
	session *Session
	backend *fakeBackend
	out     *bytes.Buffer
}

func newClient(t *testing.T, b *fakeBackend, opts Options) *client {
	t.Helper()
	out := &bytes.Buffer{}
	opts.Hostname = "testhost"
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return &client{t: t, session: NewSession(out, b, opts), backend: b, out: out}
}

// send runs commands and returns the lines written in response.
func (c *client) send(lines ...string) []string {
	c.t.Helper()
	for _, l := range lines {
		if err := c.session.Command(context.Background(), l); err != nil {
			c.t.Fatalf("command %q: %v", l, err)
		}
	}
	return c.drain()
}

func (c *client) event(evs ...chat.Event) []string {
	c.t.Helper()
	for _, ev := range evs {
		if err := c.session.Event(context.Background(), ev); err != nil {
			c.t.Fatalf("event %#v: %v", ev, err)
		}
	}
	return c.drain()
}

func (c *client) drain() []string {
	text := c.out.String()
	c.out.Reset()
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\r\n"), "\r\n")
}

// register completes NICK and USER and discards the welcome burst.
func (c *client) register() {
	c.t.Helper()
	c.send("NICK alice", "USER alice 0 * :Alice Liddell")
}
