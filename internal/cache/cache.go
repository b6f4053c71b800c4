// ABOUTME: Entity cache for users, channels, channel members and direct messages
// ABOUTME: Wraps a backend Source and owns all invalidation rules

package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/TinLe/localslackirc/internal/chat"
)

// Source is what the cache needs from a backend.
type Source interface {
	ListChannels(ctx context.Context) ([]chat.Channel, error)
	UserInfo(ctx context.Context, id string) (chat.User, error)
	ListUsers(ctx context.Context) ([]chat.User, error)
	// MembersPage returns one page of member ids. An empty next cursor means
	// there are no more pages.
	MembersPage(ctx context.Context, channelID, cursor string) (ids []string, next string, err error)
	ListIMs(ctx context.Context) ([]chat.IM, error)
	OpenIM(ctx context.Context, userID string) (string, error)
}

// EventSink receives the synthetic events the cache discovers.
type EventSink interface {
	Push(ev chat.Event)
}

// Options configures a Cache.
type Options struct {
	// DirectPrefix marks channel ids that may be 1:1 direct message channels.
	// Empty disables direct message detection.
	DirectPrefix string
	Logger       *slog.Logger
}

// memberSet is the cached membership of one channel.
type memberSet struct {
	ids map[string]struct{}
	// cursor is the continuation for the next page; "" once complete.
	cursor string
}

// Cache memoizes backend entities. It is safe for concurrent use.
type Cache struct {
	src    Source
	sink   EventSink
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	usersByID  map[string]chat.User
	usersByNm  map[string]chat.User
	generation uint64
	names      []string
	namesGen   uint64

	channels       []chat.Channel
	channelsLoaded bool

	members map[string]*memberSet

	// ims maps user id to direct message channel id.
	ims map[string]string
}

// New creates a cache over src. Synthetic events go to sink, which may be nil.
func New(src Source, sink EventSink, opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		src:       src,
		sink:      sink,
		opts:      opts,
		logger:    logger.With("component", "cache"),
		usersByID: make(map[string]chat.User),
		usersByNm: make(map[string]chat.User),
		members:   make(map[string]*memberSet),
		ims:       make(map[string]string),
		namesGen:  ^uint64(0),
	}
}

// User returns the user with the given id, fetching it on a cache miss.
func (c *Cache) User(ctx context.Context, id string) (chat.User, error) {
	c.mu.Lock()
	u, ok := c.usersByID[id]
	c.mu.Unlock()
	if ok {
		return u, nil
	}

	u, err := c.src.UserInfo(ctx, id)
	if err != nil {
		return chat.User{}, fmt.Errorf("fetching user %s: %w", id, err)
	}

	c.mu.Lock()
	c.storeUserLocked(u)
	c.mu.Unlock()
	return u, nil
}

// UserByName returns a user previously seen by id or via PrefetchUsers.
func (c *Cache) UserByName(name string) (chat.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.usersByNm[name]
	if !ok {
		return chat.User{}, chat.NotFoundf("user %q", name)
	}
	return u, nil
}

// Usernames returns every known username and the generation of the name set.
// The generation changes whenever a new name is added.
func (c *Cache) Usernames() ([]string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.namesGen != c.generation {
		c.names = make([]string, 0, len(c.usersByNm))
		for name := range c.usersByNm {
			c.names = append(c.names, name)
		}
		sort.Strings(c.names)
		c.namesGen = c.generation
	}
	return c.names, c.generation
}

// Generation returns the current generation of the name set.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// PrefetchUsers loads the whole user directory in one call.
func (c *Cache) PrefetchUsers(ctx context.Context) error {
	users, err := c.src.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("prefetching users: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range users {
		c.storeUserLocked(u)
	}
	c.logger.Debug("prefetched users", "count", len(users))
	return nil
}

// AddUsers stores users discovered as a side effect of another call.
func (c *Cache) AddUsers(users ...chat.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range users {
		c.storeUserLocked(u)
	}
}

// Forget evicts a user from the id map, forcing a re-fetch on next access.
// The name map keeps the entry.
func (c *Cache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.usersByID, id)
}

// storeUserLocked must be called with mu held.
func (c *Cache) storeUserLocked(u chat.User) {
	c.usersByID[u.ID] = u
	if _, known := c.usersByNm[u.Name]; !known {
		c.generation++
	}
	c.usersByNm[u.Name] = u
}

// Channels returns the channel list. refresh forces a reload from the backend.
func (c *Cache) Channels(ctx context.Context, refresh bool) ([]chat.Channel, error) {
	c.mu.Lock()
	if c.channelsLoaded && !refresh {
		chans := c.channels
		c.mu.Unlock()
		return chans, nil
	}
	c.mu.Unlock()

	chans, err := c.src.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}

	c.mu.Lock()
	c.channels = chans
	c.channelsLoaded = true
	c.mu.Unlock()
	return chans, nil
}

// Channel finds a channel by id.
func (c *Cache) Channel(ctx context.Context, id string) (chat.Channel, error) {
	return c.findChannel(ctx, func(ch chat.Channel) bool { return ch.ID == id }, "channel id %s", id)
}

// ChannelByName finds a channel by its normalized name.
func (c *Cache) ChannelByName(ctx context.Context, name string) (chat.Channel, error) {
	return c.findChannel(ctx, func(ch chat.Channel) bool { return ch.Name() == name }, "channel %q", name)
}

func (c *Cache) findChannel(ctx context.Context, match func(chat.Channel) bool, format, arg string) (chat.Channel, error) {
	for _, refresh := range []bool{false, true} {
		chans, err := c.Channels(ctx, refresh)
		if err != nil {
			return chat.Channel{}, err
		}
		for _, ch := range chans {
			if match(ch) {
				return ch, nil
			}
		}
	}
	return chat.Channel{}, chat.NotFoundf(format, arg)
}

// Members returns the member ids of a channel. Until the member list is
// complete, every call fetches exactly one more page.
func (c *Cache) Members(ctx context.Context, channelID string) ([]string, error) {
	c.mu.Lock()
	set, seen := c.members[channelID]
	if seen && set.cursor == "" {
		ids := set.sorted()
		c.mu.Unlock()
		return ids, nil
	}
	var cursor string
	if seen {
		cursor = set.cursor
	}
	c.mu.Unlock()

	page, next, err := c.src.MembersPage(ctx, channelID, cursor)
	if err != nil {
		return nil, fmt.Errorf("fetching members of %s: %w", channelID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	set, seen = c.members[channelID]
	if !seen {
		set = &memberSet{ids: make(map[string]struct{}, len(page))}
		c.members[channelID] = set
	}
	for _, id := range page {
		if _, known := set.ids[id]; known {
			continue
		}
		set.ids[id] = struct{}{}
		if seen && c.sink != nil {
			c.sink.Push(chat.Join{User: id, Channel: channelID})
		}
	}
	set.cursor = next
	return set.sorted(), nil
}

// AddMember records a join in an already cached member set.
func (c *Cache) AddMember(channelID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.members[channelID]
	if !ok {
		return chat.NotFoundf("member cache for %s", channelID)
	}
	set.ids[userID] = struct{}{}
	return nil
}

// RemoveMember records a leave in an already cached member set.
func (c *Cache) RemoveMember(channelID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.members[channelID]
	if !ok {
		return chat.NotFoundf("member cache for %s", channelID)
	}
	if _, ok := set.ids[userID]; !ok {
		return chat.NotFoundf("member %s of %s", userID, channelID)
	}
	delete(set.ids, userID)
	return nil
}

// IMByChannel returns the direct message channel with the given id, or false
// if the id is not a direct message channel.
func (c *Cache) IMByChannel(ctx context.Context, channelID string) (chat.IM, bool, error) {
	if c.opts.DirectPrefix == "" || !strings.HasPrefix(channelID, c.opts.DirectPrefix) {
		return chat.IM{}, false, nil
	}

	c.mu.Lock()
	for user, id := range c.ims {
		if id == channelID {
			c.mu.Unlock()
			return chat.IM{ID: id, User: user}, true, nil
		}
	}
	c.mu.Unlock()

	ims, err := c.src.ListIMs(ctx)
	if err != nil {
		return chat.IM{}, false, fmt.Errorf("listing direct messages: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var found chat.IM
	var ok bool
	for _, im := range ims {
		c.ims[im.User] = im.ID
		if im.ID == channelID {
			found, ok = im, true
		}
	}
	return found, ok, nil
}

// IMForUser returns the direct message channel id for a user, creating the
// channel on the backend if none exists yet.
func (c *Cache) IMForUser(ctx context.Context, userID string) (string, error) {
	c.mu.Lock()
	id, ok := c.ims[userID]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	ims, err := c.src.ListIMs(ctx)
	if err != nil {
		return "", fmt.Errorf("listing direct messages: %w", err)
	}
	for _, im := range ims {
		if im.User == userID {
			id = im.ID
			break
		}
	}
	if id == "" {
		id, err = c.src.OpenIM(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("opening direct message with %s: %w", userID, err)
		}
	}

	c.mu.Lock()
	c.ims[userID] = id
	c.mu.Unlock()
	return id, nil
}

func (s *memberSet) sorted() []string {
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
