// ABOUTME: Backend capability set composed from remote calls, cache and stream state
// ABOUTME: Implements irc.Backend and registers every sent message for echo suppression

package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/TinLe/localslackirc/internal/cache"
	"github.com/TinLe/localslackirc/internal/chat"
)

// MaxInvite is the largest number of users a single Invite accepts.
const MaxInvite = 30

// Remote is the backend-specific half of a Client: the cache source plus the
// mutations a session can request.
type Remote interface {
	cache.Source

	Provider() chat.Provider
	Join(ctx context.Context, channelID string) error
	Kick(ctx context.Context, channelID, userID string) error
	Invite(ctx context.Context, channelID string, userIDs []string) error
	SetTopic(ctx context.Context, channelID, topic string) error
	SetAway(ctx context.Context, away bool) error
	// PostMessage sends text and returns the backend timestamp of the new message.
	PostMessage(ctx context.Context, channelID, text string, action bool) (chat.TS, error)
	UploadFile(ctx context.Context, channelID, path string) error
	FileInfo(ctx context.Context, fileID string) (chat.File, error)
}

// Stream reports connection facts owned by the event stream engine.
type Stream interface {
	Identity() chat.Identity
	LastTimestamp() chat.TS
}

// Marker records timestamps of messages sent by this client.
type Marker interface {
	Mark(ts chat.TS)
}

// Options holds the parts a Client composes. All but Logger are required.
type Options struct {
	Remote Remote
	Cache  *cache.Cache
	Stream Stream
	Sent   Marker
	Logger *slog.Logger
}

// Client is the capability set a session uses to act on the chat backend.
type Client struct {
	remote Remote
	cache  *cache.Cache
	stream Stream
	sent   Marker
	logger *slog.Logger
}

// New creates a Client from opts.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		remote: opts.Remote,
		cache:  opts.Cache,
		stream: opts.Stream,
		sent:   opts.Sent,
		logger: logger.With("component", "gateway"),
	}
}

// Identity returns the logged-in user and team as of the last connect.
func (c *Client) Identity() chat.Identity { return c.stream.Identity() }

// Provider reports which chat system the remote talks to.
func (c *Client) Provider() chat.Provider { return c.remote.Provider() }

// LastTimestamp is the stream watermark to persist on shutdown.
func (c *Client) LastTimestamp() chat.TS { return c.stream.LastTimestamp() }

func (c *Client) Channels(ctx context.Context, refresh bool) ([]chat.Channel, error) {
	return c.cache.Channels(ctx, refresh)
}

func (c *Client) Channel(ctx context.Context, id string) (chat.Channel, error) {
	return c.cache.Channel(ctx, id)
}

func (c *Client) ChannelByName(ctx context.Context, name string) (chat.Channel, error) {
	return c.cache.ChannelByName(ctx, name)
}

func (c *Client) Members(ctx context.Context, channelID string) ([]string, error) {
	return c.cache.Members(ctx, channelID)
}

func (c *Client) User(ctx context.Context, id string) (chat.User, error) {
	return c.cache.User(ctx, id)
}

func (c *Client) UserByName(name string) (chat.User, error) {
	return c.cache.UserByName(name)
}

func (c *Client) Usernames() ([]string, uint64) { return c.cache.Usernames() }

func (c *Client) Generation() uint64 { return c.cache.Generation() }

func (c *Client) PrefetchUsers(ctx context.Context) error {
	return c.cache.PrefetchUsers(ctx)
}

func (c *Client) Join(ctx context.Context, channelID string) error {
	if err := c.remote.Join(ctx, channelID); err != nil {
		return fmt.Errorf("joining %s: %w", channelID, err)
	}
	return nil
}

func (c *Client) Kick(ctx context.Context, channelID, userID string) error {
	if err := c.remote.Kick(ctx, channelID, userID); err != nil {
		return fmt.Errorf("removing %s from %s: %w", userID, channelID, err)
	}
	return nil
}

// Invite adds users to a channel. At most MaxInvite users may be invited at once.
func (c *Client) Invite(ctx context.Context, channelID string, userIDs []string) error {
	if len(userIDs) > MaxInvite {
		return fmt.Errorf("inviting %d users: no more than %d allowed", len(userIDs), MaxInvite)
	}
	if len(userIDs) == 0 {
		return nil
	}
	if err := c.remote.Invite(ctx, channelID, userIDs); err != nil {
		return fmt.Errorf("inviting to %s: %w", channelID, err)
	}
	return nil
}

func (c *Client) SetTopic(ctx context.Context, channelID, topic string) error {
	if err := c.remote.SetTopic(ctx, channelID, topic); err != nil {
		return fmt.Errorf("setting topic of %s: %w", channelID, err)
	}
	return nil
}

func (c *Client) SetAway(ctx context.Context, away bool) error {
	if err := c.remote.SetAway(ctx, away); err != nil {
		return fmt.Errorf("setting presence: %w", err)
	}
	return nil
}

// SendMessage posts to a channel and marks the resulting timestamp as sent.
func (c *Client) SendMessage(ctx context.Context, channelID, text string, action bool) error {
	ts, err := c.remote.PostMessage(ctx, channelID, text, action)
	if err != nil {
		return fmt.Errorf("sending to %s: %w", channelID, err)
	}
	c.sent.Mark(ts)
	c.logger.Debug("message sent", "channel", channelID, "ts", ts.String())
	return nil
}

// SendMessageToUser posts into the direct message channel with userID,
// opening it first if needed.
func (c *Client) SendMessageToUser(ctx context.Context, userID, text string, action bool) error {
	channelID, err := c.cache.IMForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("opening direct message with %s: %w", userID, err)
	}
	return c.SendMessage(ctx, channelID, text, action)
}

// SendFile uploads the file at path to a channel or user.
func (c *Client) SendFile(ctx context.Context, destID, path string) error {
	if err := c.remote.UploadFile(ctx, destID, path); err != nil {
		return fmt.Errorf("uploading %s: %w", path, err)
	}
	return nil
}

func (c *Client) File(ctx context.Context, id string) (chat.File, error) {
	f, err := c.remote.FileInfo(ctx, id)
	if err != nil {
		return chat.File{}, fmt.Errorf("file %s: %w", id, err)
	}
	return f, nil
}
