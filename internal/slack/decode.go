// ABOUTME: Maps raw RTM frames onto the chat event family
// ABOUTME: Unknown shapes decode to nil so the engine can log and drop them

package slack

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TinLe/localslackirc/internal/chat"
	"github.com/TinLe/localslackirc/internal/stream"
)

const defaultBotName = "bot"

// Decode turns a raw RTM frame into a typed event. It returns nil for frames
// of a shape the gateway does not handle.
func (r *RTM) Decode(_ context.Context, raw stream.Raw) (chat.Event, error) {
	return decode(raw)
}

func decode(raw stream.Raw) (chat.Event, error) {
	switch raw.Type {
	case "message":
		return decodeMessage(raw)
	case "file_shared":
		return decodeAs[chat.FileShared](raw)
	case "member_joined_channel":
		return decodeAs[chat.Join](raw)
	case "member_left_channel":
		return decodeAs[chat.Leave](raw)
	case "group_joined", "channel_joined":
		return decodeAs[chat.GroupJoined](raw)
	case "user_change":
		return decodeAs[chat.UserChange](raw)
	}
	return nil, nil
}

func decodeMessage(raw stream.Raw) (chat.Event, error) {
	switch raw.Subtype {
	case "", "slackbot_response", "thread_broadcast":
		return decodeAs[chat.Message](raw)
	case "me_message":
		m, err := unmarshal[chat.Message](raw)
		if err != nil {
			return nil, err
		}
		return chat.ActionMessage(m), nil
	case "bot_message":
		m, err := unmarshal[chat.MessageBot](raw)
		if err != nil {
			return nil, err
		}
		if m.Username == "" {
			m.Username = defaultBotName
		}
		return m, nil
	case "message_changed":
		return decodeAs[chat.MessageEdit](raw)
	case "message_deleted":
		return decodeAs[chat.MessageDelete](raw)
	case "group_topic", "channel_topic":
		return decodeAs[chat.TopicChange](raw)
	}
	return nil, nil
}

func unmarshal[T chat.Event](raw stream.Raw) (T, error) {
	var v T
	if err := json.Unmarshal(raw.Data, &v); err != nil {
		return v, fmt.Errorf("decoding %s/%s: %w", raw.Type, raw.Subtype, err)
	}
	return v, nil
}

func decodeAs[T chat.Event](raw stream.Raw) (chat.Event, error) {
	v, err := unmarshal[T](raw)
	if err != nil {
		return nil, err
	}
	return v, nil
}
