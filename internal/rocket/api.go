// ABOUTME: Rocket.Chat remote methods mapped onto the gateway capability set
// ABOUTME: Rooms, members, the user directory, messages and unsupported mutations

package rocket

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/TinLe/localslackirc/internal/chat"
)

// Room types as reported by rooms/get.
const (
	roomPrivate = "p"
	roomDirect  = "d"
	roomPublic  = "c"
)

type room struct {
	ID         string `json:"_id"`
	Type       string `json:"t"`
	Name       string `json:"name"`
	FName      string `json:"fname"`
	Topic      string `json:"topic"`
	UsersCount int    `json:"usersCount"`
}

type roomUser struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Provider reports ProviderRocket.
func (c *Client) Provider() chat.Provider { return chat.ProviderRocket }

// ListChannels fetches the rooms of the logged-in user and subscribes to the
// messages of any room not yet subscribed on this connection. Direct rooms
// are subscribed but not listed.
func (c *Client) ListChannels(ctx context.Context) ([]chat.Channel, error) {
	var rooms []room
	if err := c.call(ctx, "rooms/get", []any{}, &rooms); err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, fmt.Errorf("rooms/get: no rooms returned")
	}

	var channels []chat.Channel
	for _, r := range rooms {
		if err := c.ensureSubscribed(ctx, r.ID); err != nil {
			return nil, err
		}

		ch := chat.Channel{
			ID:         r.ID,
			Topic:      chat.Topic{Value: r.Topic},
			Purpose:    chat.Topic{Value: r.Topic},
			NumMembers: r.UsersCount,
			IsMember:   true,
		}
		switch r.Type {
		case roomPrivate:
			ch.NameNormalized = r.FName
			ch.IsGroup = true
		case roomPublic:
			ch.NameNormalized = r.Name
			ch.IsChannel = true
		case roomDirect:
			continue
		default:
			c.logger.Warn("unknown room type", "room", r.ID, "type", r.Type)
			continue
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

func (c *Client) ensureSubscribed(ctx context.Context, roomID string) error {
	c.mu.Lock()
	done := c.subscribed[roomID]
	c.mu.Unlock()
	if done {
		return nil
	}
	params := []any{roomID, map[string]any{"useCollection": false, "args": []any{}}}
	if err := c.subscribe(ctx, roomMessages, params); err != nil {
		return err
	}
	c.mu.Lock()
	c.subscribed[roomID] = true
	c.mu.Unlock()
	return nil
}

// MembersPage returns every member of a room in a single page and records
// them in the user directory.
func (c *Client) MembersPage(ctx context.Context, channelID, _ string) ([]string, string, error) {
	var out struct {
		Total   int        `json:"total"`
		Records []roomUser `json:"records"`
	}
	if err := c.call(ctx, "getUsersOfRoom", []any{channelID, true}, &out); err != nil {
		return nil, "", err
	}

	ids := make([]string, 0, len(out.Records))
	c.mu.Lock()
	for _, r := range out.Records {
		if _, ok := c.users[r.ID]; !ok {
			c.users[r.ID] = chat.User{ID: r.ID, Name: r.Username, Profile: chat.Profile{RealName: r.Name}}
		}
		ids = append(ids, r.ID)
	}
	c.mu.Unlock()
	return ids, "", nil
}

// UserInfo looks a user up in the directory built from room members and
// message senders.
func (c *Client) UserInfo(_ context.Context, id string) (chat.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[id]
	if !ok {
		return chat.User{}, chat.NotFoundf("user %s", id)
	}
	return u, nil
}

// ListUsers returns the directory known so far, sorted by id.
func (c *Client) ListUsers(context.Context) ([]chat.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]chat.User, 0, len(c.users))
	for _, u := range c.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// ListIMs returns nothing: direct rooms are opened on demand.
func (c *Client) ListIMs(context.Context) ([]chat.IM, error) { return nil, nil }

// OpenIM creates (or finds) the direct room with a user.
func (c *Client) OpenIM(ctx context.Context, userID string) (string, error) {
	u, err := c.UserInfo(ctx, userID)
	if err != nil {
		return "", err
	}
	var out struct {
		RID string `json:"rid"`
	}
	if err := c.call(ctx, "createDirectMessage", []any{u.Name}, &out); err != nil {
		return "", err
	}
	if out.RID == "" {
		return "", &chat.RequestError{Method: "createDirectMessage", Reason: "no room id returned"}
	}
	return out.RID, c.ensureSubscribed(ctx, out.RID)
}

// PostMessage sends text to a room. Rocket.Chat has no action messages, so
// action is ignored.
func (c *Client) PostMessage(ctx context.Context, channelID, text string, _ bool) (chat.TS, error) {
	msg := map[string]string{
		"_id": c.idPrefix + uuid.NewString(),
		"msg": text,
		"rid": channelID,
	}
	var out struct {
		TS dateTS `json:"ts"`
	}
	if err := c.call(ctx, "sendMessage", []any{msg}, &out); err != nil {
		return 0, err
	}
	return chat.TS(out.TS), nil
}

// IsOwn reports whether a message id was generated by this client.
func (c *Client) IsOwn(messageID string) bool {
	return strings.HasPrefix(messageID, c.idPrefix)
}

func unsupported(op string) error {
	return fmt.Errorf("rocket %s: %w", op, chat.ErrUnsupported)
}

func (c *Client) Join(context.Context, string) error { return unsupported("join") }

func (c *Client) Kick(context.Context, string, string) error { return unsupported("kick") }

func (c *Client) Invite(context.Context, string, []string) error { return unsupported("invite") }

func (c *Client) SetTopic(context.Context, string, string) error { return unsupported("topic") }

func (c *Client) SetAway(context.Context, bool) error { return unsupported("away") }

func (c *Client) UploadFile(context.Context, string, string) error {
	return unsupported("file upload")
}

func (c *Client) FileInfo(context.Context, string) (chat.File, error) {
	return chat.File{}, unsupported("files")
}
