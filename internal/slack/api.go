// ABOUTME: Typed wrappers for the Slack web API methods the gateway calls
// ABOUTME: Conversations, users, files, chat and presence

package slack

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/TinLe/localslackirc/internal/chat"
)

const (
	channelListLimit = "1000"
	membersLimit     = "5000"
	historyLimit     = "1000"
	// MaxInvite is the number of users conversations.invite accepts at once.
	MaxInvite = 30
	// DirectPrefix starts the id of every 1:1 direct message channel.
	DirectPrefix = "D"
)

// Provider reports the markup flavor of this backend.
func (c *Client) Provider() chat.Provider { return chat.ProviderSlack }

// ListChannels returns public, private and multi-party direct channels.
func (c *Client) ListChannels(ctx context.Context) ([]chat.Channel, error) {
	var out struct {
		response
		Channels []chat.Channel `json:"channels"`
	}
	err := c.call(ctx, "conversations.list", url.Values{
		"exclude_archived": {"true"},
		"types":            {"public_channel,private_channel,mpim"},
		"limit":            {channelListLimit},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Channels, nil
}

// ListIMs returns the existing 1:1 direct message channels.
func (c *Client) ListIMs(ctx context.Context) ([]chat.IM, error) {
	var out struct {
		response
		Channels []chat.IM `json:"channels"`
	}
	err := c.call(ctx, "conversations.list", url.Values{
		"exclude_archived": {"true"},
		"types":            {"im"},
		"limit":            {channelListLimit},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Channels, nil
}

// OpenIM creates (or finds) the direct message channel with a user.
func (c *Client) OpenIM(ctx context.Context, userID string) (string, error) {
	var out struct {
		response
		Channel struct {
			ID string `json:"id"`
		} `json:"channel"`
	}
	err := c.call(ctx, "im.open", url.Values{"user": {userID}, "return_im": {"true"}}, &out)
	if err != nil {
		return "", err
	}
	return out.Channel.ID, nil
}

// UserInfo fetches one user.
func (c *Client) UserInfo(ctx context.Context, id string) (chat.User, error) {
	var out struct {
		response
		User chat.User `json:"user"`
	}
	if err := c.call(ctx, "users.info", url.Values{"user": {id}}, &out); err != nil {
		var reqErr *chat.RequestError
		if errors.As(err, &reqErr) && reqErr.Reason == "user_not_found" {
			return chat.User{}, chat.NotFoundf("user %s", id)
		}
		return chat.User{}, err
	}
	return out.User, nil
}

// ListUsers fetches the whole team directory in one call.
func (c *Client) ListUsers(ctx context.Context) ([]chat.User, error) {
	var out struct {
		response
		Members []chat.User `json:"members"`
	}
	if err := c.call(ctx, "users.list", url.Values{}, &out); err != nil {
		return nil, err
	}
	return out.Members, nil
}

// MembersPage fetches one page of channel member ids.
func (c *Client) MembersPage(ctx context.Context, channelID, cursor string) ([]string, string, error) {
	params := url.Values{"channel": {channelID}, "limit": {membersLimit}}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	var out struct {
		response
		Members []string `json:"members"`
	}
	if err := c.call(ctx, "conversations.members", params, &out); err != nil {
		return nil, "", err
	}
	return out.Members, out.Metadata.NextCursor, nil
}

// FileInfo fetches file metadata.
func (c *Client) FileInfo(ctx context.Context, fileID string) (chat.File, error) {
	var out struct {
		response
		File chat.File `json:"file"`
	}
	if err := c.call(ctx, "files.info", url.Values{"file": {fileID}}, &out); err != nil {
		var reqErr *chat.RequestError
		if errors.As(err, &reqErr) && reqErr.Reason == "file_not_found" {
			return chat.File{}, chat.NotFoundf("file %s", fileID)
		}
		return chat.File{}, err
	}
	return out.File, nil
}

// UploadFile shares a local file into a channel.
func (c *Client) UploadFile(ctx context.Context, channelID, path string) error {
	var out response
	return c.upload(ctx, "files.upload", url.Values{"channels": {channelID}}, path, &out)
}

// PostMessage sends a message as the logged in user and returns its
// timestamp. Actions go through chat.meMessage.
func (c *Client) PostMessage(ctx context.Context, channelID, text string, action bool) (chat.TS, error) {
	method := "chat.postMessage"
	if action {
		method = "chat.meMessage"
	}
	var out struct {
		response
		TS chat.TS `json:"ts"`
	}
	err := c.call(ctx, method, url.Values{
		"channel": {channelID},
		"text":    {text},
		"as_user": {"true"},
	}, &out)
	if err != nil {
		return 0, err
	}
	if out.TS == 0 {
		return 0, &chat.RequestError{Method: method, Reason: "response carried no timestamp"}
	}
	return out.TS, nil
}

// SetAway forces the away presence, or lets Slack decide when false.
func (c *Client) SetAway(ctx context.Context, away bool) error {
	presence := "auto"
	if away {
		presence = "away"
	}
	var out response
	return c.call(ctx, "users.setPresence", url.Values{"presence": {presence}}, &out)
}

// SetTopic changes a channel topic.
func (c *Client) SetTopic(ctx context.Context, channelID, topic string) error {
	var out response
	return c.call(ctx, "conversations.setTopic", url.Values{"channel": {channelID}, "topic": {topic}}, &out)
}

// Kick removes a user from a channel.
func (c *Client) Kick(ctx context.Context, channelID, userID string) error {
	var out response
	return c.call(ctx, "conversations.kick", url.Values{"channel": {channelID}, "user": {userID}}, &out)
}

// Join joins a channel.
func (c *Client) Join(ctx context.Context, channelID string) error {
	var out response
	return c.call(ctx, "conversations.join", url.Values{"channel": {channelID}}, &out)
}

// Invite adds up to MaxInvite users to a channel.
func (c *Client) Invite(ctx context.Context, channelID string, userIDs []string) error {
	if len(userIDs) > MaxInvite {
		return fmt.Errorf("inviting %d users: no more than %d allowed", len(userIDs), MaxInvite)
	}
	var out response
	return c.call(ctx, "conversations.invite", url.Values{
		"channel": {channelID},
		"users":   {strings.Join(userIDs, ",")},
	}, &out)
}

// historyMessage is a message as returned by conversations.history/replies.
type historyMessage struct {
	Type     string      `json:"type"`
	Subtype  string      `json:"subtype"`
	User     string      `json:"user"`
	Text     string      `json:"text"`
	TS       chat.TS     `json:"ts"`
	BotID    string      `json:"bot_id"`
	Username string      `json:"username"`
	Files    []chat.File `json:"files"`
	ThreadTS string      `json:"thread_ts"`
}

type historyResponse struct {
	response
	Messages []historyMessage `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

func (c *Client) historyPage(ctx context.Context, method string, params url.Values, cursor string) (historyPage, error) {
	params.Set("limit", historyLimit)
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	var out historyResponse
	if err := c.call(ctx, method, params, &out); err != nil {
		return historyPage{}, err
	}
	page := historyPage{messages: out.Messages}
	if out.HasMore {
		page.next = out.Metadata.NextCursor
	}
	return page, nil
}

type historyPage struct {
	messages []historyMessage
	next     string
}

func formatTS(ts chat.TS) string {
	return strconv.FormatFloat(float64(ts), 'f', -1, 64)
}
