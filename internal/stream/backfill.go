// ABOUTME: Replays channel history missed while the gateway was disconnected
// ABOUTME: Thread replies are spliced after their parent in timestamp order

package stream

import (
	"context"
	"fmt"
	"slices"

	"github.com/TinLe/localslackirc/internal/chat"
)

const defaultBotName = "bot"

// backfill queues synthetic events for every message newer than the
// watermark in every member channel. Transports without history are skipped.
func (e *Engine) backfill(ctx context.Context) error {
	h, ok := e.transport.(History)
	if !ok {
		return nil
	}
	since := e.LastTimestamp()
	if since == 0 {
		e.logger.Info("no last known timestamp, skipping history")
		return nil
	}

	channels, err := e.cache.Channels(ctx, true)
	if err != nil {
		return fmt.Errorf("listing channels for history: %w", err)
	}

	for _, ch := range channels {
		if !ch.IsMember {
			continue
		}
		e.logger.Debug("fetching history", "channel", ch.Name(), "since", since)
		msgs, err := collect(func(cursor string) (HistoryPage, error) {
			return h.History(ctx, ch.ID, since, cursor)
		})
		if err != nil {
			return fmt.Errorf("history of %s: %w", ch.ID, err)
		}

		for i := 0; i < len(msgs); i++ {
			msg := msgs[i]
			// The boundary message was already seen before the disconnection.
			if msg.TS <= since {
				continue
			}
			e.advance(msg.TS)
			e.replay(ch.ID, msg)

			if isParent(msg) {
				replies, err := e.thread(ctx, h, ch.ID, msg)
				if err != nil {
					return err
				}
				msgs = slices.Insert(msgs, i+1, replies...)
			}
		}
	}
	return nil
}

// isParent reports whether msg starts a thread. Thread timestamps are
// compared numerically since backends format them inconsistently.
func isParent(msg HistoryMessage) bool {
	if msg.ThreadTS == "" {
		return false
	}
	ts, err := chat.ParseTS(msg.ThreadTS)
	return err == nil && ts == msg.TS
}

// thread returns the replies to parent in ascending order. The first reply
// loses its thread marker so it is never mistaken for a parent.
func (e *Engine) thread(ctx context.Context, h History, channelID string, parent HistoryMessage) ([]HistoryMessage, error) {
	all, err := collect(func(cursor string) (HistoryPage, error) {
		return h.Replies(ctx, channelID, parent.ThreadTS, cursor)
	})
	if err != nil {
		return nil, fmt.Errorf("thread %s in %s: %w", parent.ThreadTS, channelID, err)
	}
	replies := slices.DeleteFunc(all, isParent)
	if len(replies) > 0 {
		replies[0].ThreadTS = ""
	}
	return replies, nil
}

// replay queues the events for one history message: the message itself, then
// one announcement per attached file.
func (e *Engine) replay(channelID string, msg HistoryMessage) {
	if msg.Bot {
		name := msg.Username
		if name == "" {
			name = defaultBotName
		}
		e.queue.Push(chat.MessageBot{Channel: channelID, Text: msg.Text, Username: name, BotID: msg.BotID})
	} else {
		e.queue.Push(chat.Message{Channel: channelID, User: msg.User, Text: msg.Text})
	}

	for _, f := range msg.Files {
		f.Channels = append(slices.Clone(f.Channels), channelID)
		announce := f.Announce()
		announce.Channel = channelID
		e.queue.Push(announce)
	}
}

// collect follows cursors until the last page and sorts the result by
// timestamp.
func collect(page func(cursor string) (HistoryPage, error)) ([]HistoryMessage, error) {
	var (
		out    []HistoryMessage
		cursor string
	)
	for {
		p, err := page(cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Messages...)
		if p.Next == "" {
			break
		}
		cursor = p.Next
	}
	slices.SortStableFunc(out, func(a, b HistoryMessage) int {
		switch {
		case a.TS < b.TS:
			return -1
		case a.TS > b.TS:
			return 1
		default:
			return 0
		}
	})
	return out, nil
}
