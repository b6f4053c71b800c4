// ABOUTME: Tests for the entity cache
// ABOUTME: Covers member pagination, synthetic joins, user invalidation, channel refresh and IMs

package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TinLe/localslackirc/internal/chat"
)

// fakeSource implements Source for testing.
type fakeSource struct {
	channels     []chat.Channel
	channelCalls int
	// afterFirstList replaces channels after the first ListChannels call.
	afterFirstList []chat.Channel

	users         map[string]chat.User
	userInfoCalls int

	pages      map[string][][]string
	pageCalls  map[string]int
	lastCursor string

	ims       []chat.IM
	opened    map[string]string
	openCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		users:     make(map[string]chat.User),
		pages:     make(map[string][][]string),
		pageCalls: make(map[string]int),
		opened:    make(map[string]string),
	}
}

func (f *fakeSource) ListChannels(ctx context.Context) ([]chat.Channel, error) {
	f.channelCalls++
	chans := f.channels
	if f.afterFirstList != nil {
		f.channels = f.afterFirstList
	}
	return chans, nil
}

func (f *fakeSource) UserInfo(ctx context.Context, id string) (chat.User, error) {
	f.userInfoCalls++
	u, ok := f.users[id]
	if !ok {
		return chat.User{}, chat.NotFoundf("user %s", id)
	}
	return u, nil
}

func (f *fakeSource) ListUsers(ctx context.Context) ([]chat.User, error) {
	var out []chat.User
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

// MembersPage serves pages in order; the cursor is the index of the next page.
func (f *fakeSource) MembersPage(ctx context.Context, channelID, cursor string) ([]string, string, error) {
	f.pageCalls[channelID]++
	f.lastCursor = cursor
	pages := f.pages[channelID]
	idx := 0
	if cursor != "" {
		_, _ = fmt.Sscanf(cursor, "page-%d", &idx)
	}
	if idx >= len(pages) {
		return nil, "", nil
	}
	next := ""
	if idx+1 < len(pages) {
		next = fmt.Sprintf("page-%d", idx+1)
	}
	return pages[idx], next, nil
}

func (f *fakeSource) ListIMs(ctx context.Context) ([]chat.IM, error) {
	return f.ims, nil
}

func (f *fakeSource) OpenIM(ctx context.Context, userID string) (string, error) {
	f.openCalls++
	id := "D-" + userID
	f.opened[userID] = id
	return id, nil
}

// recordingSink collects synthetic events.
type recordingSink struct {
	events []chat.Event
}

func (r *recordingSink) Push(ev chat.Event) {
	r.events = append(r.events, ev)
}

func TestCache_Members_PaginationConvergence(t *testing.T) {
	src := newFakeSource()
	src.pages["C1"] = [][]string{{"U1", "U2"}, {"U3"}, {"U4", "U5"}}
	c := New(src, nil, Options{})
	ctx := context.Background()

	var prev int
	for i := 0; i < 3; i++ {
		ids, err := c.Members(ctx, "C1")
		require.NoError(t, err)
		assert.Greater(t, len(ids), prev, "member set must grow on every page")
		prev = len(ids)
	}

	ids, err := c.Members(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, []string{"U1", "U2", "U3", "U4", "U5"}, ids)
	assert.Equal(t, 3, src.pageCalls["C1"], "no fetch once the cursor is exhausted")
}

func TestCache_Members_PassesCursor(t *testing.T) {
	src := newFakeSource()
	src.pages["C1"] = [][]string{{"U1"}, {"U2"}}
	c := New(src, nil, Options{})
	ctx := context.Background()

	_, err := c.Members(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "", src.lastCursor)

	_, err = c.Members(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "page-1", src.lastCursor)
}

func TestCache_Members_SyntheticJoins(t *testing.T) {
	src := newFakeSource()
	src.pages["C1"] = [][]string{{"U1", "U2"}, {"U2", "U3"}}
	sink := &recordingSink{}
	c := New(src, sink, Options{})
	ctx := context.Background()

	_, err := c.Members(ctx, "C1")
	require.NoError(t, err)
	assert.Empty(t, sink.events, "the first fetch of a channel emits no joins")

	_, err = c.Members(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, []chat.Event{chat.Join{User: "U3", Channel: "C1"}}, sink.events,
		"exactly one join for the newly seen id")
}

func TestCache_AddRemoveMember(t *testing.T) {
	src := newFakeSource()
	src.pages["C1"] = [][]string{{"U1"}}
	c := New(src, nil, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, c.AddMember("C1", "U2"), chat.ErrNotFound, "uncached channel")

	_, err := c.Members(ctx, "C1")
	require.NoError(t, err)

	require.NoError(t, c.AddMember("C1", "U2"))
	ids, err := c.Members(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, []string{"U1", "U2"}, ids)

	require.NoError(t, c.RemoveMember("C1", "U1"))
	assert.ErrorIs(t, c.RemoveMember("C1", "U1"), chat.ErrNotFound)
	ids, err = c.Members(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, []string{"U2"}, ids)
}

func TestCache_User_MemoizesAndForgets(t *testing.T) {
	src := newFakeSource()
	src.users["U1"] = chat.User{ID: "U1", Name: "alice"}
	c := New(src, nil, Options{})
	ctx := context.Background()

	u, err := c.User(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Name)

	_, err = c.User(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, 1, src.userInfoCalls)

	c.Forget("U1")
	_, err = c.User(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.userInfoCalls, "forgotten users are re-fetched")

	byName, err := c.UserByName("alice")
	require.NoError(t, err, "the name map keeps forgotten users")
	assert.Equal(t, "U1", byName.ID)
}

func TestCache_User_NotFound(t *testing.T) {
	c := New(newFakeSource(), nil, Options{})

	_, err := c.User(context.Background(), "U404")
	assert.ErrorIs(t, err, chat.ErrNotFound)

	_, err = c.UserByName("nobody")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestCache_Usernames_Generation(t *testing.T) {
	src := newFakeSource()
	src.users["U1"] = chat.User{ID: "U1", Name: "alice"}
	src.users["U2"] = chat.User{ID: "U2", Name: "bob"}
	c := New(src, nil, Options{})
	ctx := context.Background()

	_, gen0 := c.Usernames()

	_, err := c.User(ctx, "U1")
	require.NoError(t, err)
	names, gen1 := c.Usernames()
	assert.NotEqual(t, gen0, gen1)
	assert.Equal(t, []string{"alice"}, names)

	c.Forget("U1")
	_, err = c.User(ctx, "U1")
	require.NoError(t, err)
	_, gen2 := c.Usernames()
	assert.Equal(t, gen1, gen2, "re-fetching a known name keeps the generation")

	require.NoError(t, c.PrefetchUsers(ctx))
	names, gen3 := c.Usernames()
	assert.NotEqual(t, gen2, gen3)
	assert.Equal(t, []string{"alice", "bob"}, names)
}

func TestCache_ChannelByName_RefreshFallback(t *testing.T) {
	src := newFakeSource()
	src.channels = []chat.Channel{{ID: "C1", NameNormalized: "general"}}
	src.afterFirstList = []chat.Channel{
		{ID: "C1", NameNormalized: "general"},
		{ID: "C2", NameNormalized: "random"},
	}
	c := New(src, nil, Options{})
	ctx := context.Background()

	ch, err := c.ChannelByName(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, "C1", ch.ID)
	assert.Equal(t, 1, src.channelCalls)

	ch, err = c.ChannelByName(ctx, "random")
	require.NoError(t, err, "falls back to one refreshed list")
	assert.Equal(t, "C2", ch.ID)
	assert.Equal(t, 2, src.channelCalls)

	_, err = c.Channel(ctx, "C404")
	assert.True(t, errors.Is(err, chat.ErrNotFound))
	assert.Equal(t, 3, src.channelCalls, "a miss costs exactly one refresh")
}

func TestCache_IMByChannel(t *testing.T) {
	src := newFakeSource()
	src.ims = []chat.IM{{ID: "D1", User: "U1"}}
	c := New(src, nil, Options{DirectPrefix: "D"})
	ctx := context.Background()

	im, ok, err := c.IMByChannel(ctx, "D1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "U1", im.User)

	_, ok, err = c.IMByChannel(ctx, "C1")
	require.NoError(t, err)
	assert.False(t, ok, "ids without the direct prefix are never direct messages")
}

func TestCache_IMForUser(t *testing.T) {
	src := newFakeSource()
	src.ims = []chat.IM{{ID: "D1", User: "U1"}}
	c := New(src, nil, Options{})
	ctx := context.Background()

	id, err := c.IMForUser(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "D1", id)

	id, err = c.IMForUser(ctx, "U2")
	require.NoError(t, err)
	assert.Equal(t, "D-U2", id)
	assert.Equal(t, 1, src.openCalls)

	_, err = c.IMForUser(ctx, "U2")
	require.NoError(t, err)
	assert.Equal(t, 1, src.openCalls, "direct message channels are memoized")
}
