// ABOUTME: Capabilities a session needs from the chat backend
// ABOUTME: Implemented by gateway.Client; faked in tests

package irc

import (
	"context"

	"github.com/TinLe/localslackirc/internal/chat"
)

// Backend is the chat backend as seen from an IRC session.
type Backend interface {
	Identity() chat.Identity
	Provider() chat.Provider

	Channels(ctx context.Context, refresh bool) ([]chat.Channel, error)
	Channel(ctx context.Context, id string) (chat.Channel, error)
	ChannelByName(ctx context.Context, name string) (chat.Channel, error)
	Members(ctx context.Context, channelID string) ([]string, error)

	User(ctx context.Context, id string) (chat.User, error)
	UserByName(name string) (chat.User, error)
	Usernames() ([]string, uint64)
	Generation() uint64
	PrefetchUsers(ctx context.Context) error

	Join(ctx context.Context, channelID string) error
	Kick(ctx context.Context, channelID, userID string) error
	Invite(ctx context.Context, channelID string, userIDs []string) error
	SetTopic(ctx context.Context, channelID, topic string) error
	SetAway(ctx context.Context, away bool) error

	SendMessage(ctx context.Context, channelID, text string, action bool) error
	SendMessageToUser(ctx context.Context, userID, text string, action bool) error
	SendFile(ctx context.Context, destID, path string) error
	File(ctx context.Context, id string) (chat.File, error)
}
