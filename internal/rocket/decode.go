// ABOUTME: Maps stream-room-messages frames onto the chat event family
// ABOUTME: Drops this client's own messages and learns unknown senders

package rocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/TinLe/localslackirc/internal/chat"
	"github.com/TinLe/localslackirc/internal/stream"
)

const argPath = "fields.args.0"

// dateTS decodes the EJSON {"$date": millis} form into seconds.
type dateTS chat.TS

func (d *dateTS) UnmarshalJSON(data []byte) error {
	v := gjson.GetBytes(data, `\$date`)
	if !v.Exists() {
		return fmt.Errorf("not an EJSON date: %s", data)
	}
	*d = dateTS(v.Float() / 1000)
	return nil
}

type roomMessage struct {
	ID       string          `json:"_id"`
	RID      string          `json:"rid"`
	Msg      string          `json:"msg"`
	U        roomUser        `json:"u"`
	EditedBy json.RawMessage `json:"editedBy"`
}

// sniff extracts the fields the engine inspects from a changed frame.
func sniff(data []byte) stream.Raw {
	arg := gjson.GetBytes(data, argPath)
	raw := stream.Raw{
		Type: "message",
		TS:   chat.TS(arg.Get(`ts.\$date`).Float() / 1000),
		Data: data,
	}
	if arg.Get("editedBy").Exists() {
		raw.Subtype = "message_changed"
	}
	return raw
}

// Decode turns a room message frame into a Message or MessageEdit. Frames
// carrying this client's message ids decode to nil.
func (c *Client) Decode(_ context.Context, raw stream.Raw) (chat.Event, error) {
	arg := gjson.GetBytes(raw.Data, argPath)
	if !arg.Exists() {
		return nil, nil
	}
	var m roomMessage
	if err := json.Unmarshal([]byte(arg.Raw), &m); err != nil {
		return nil, fmt.Errorf("decoding room message: %w", err)
	}
	if c.IsOwn(m.ID) {
		return nil, nil
	}

	if m.U.ID != "" {
		c.mu.Lock()
		if _, ok := c.users[m.U.ID]; !ok {
			c.users[m.U.ID] = chat.User{ID: m.U.ID, Name: m.U.Username, Profile: chat.Profile{RealName: "noname"}}
		}
		c.mu.Unlock()
	}

	if len(m.EditedBy) > 0 && string(m.EditedBy) != "null" {
		return chat.MessageEdit{
			Channel:  m.RID,
			Previous: chat.NoChanMessage{User: m.U.ID},
			Current:  chat.NoChanMessage{User: m.U.ID, Text: m.Msg},
		}, nil
	}
	return chat.Message{Channel: m.RID, User: m.U.ID, Text: m.Msg}, nil
}
