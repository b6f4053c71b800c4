// ABOUTME: Tests for history replay after a reconnection
// ABOUTME: Covers the watermark boundary, thread splicing and file announcements

package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TinLe/localslackirc/internal/chat"
)

func newHistoryTransport() *historyTransport {
	return &historyTransport{
		fakeTransport: newFakeTransport(),
		history:       map[string][]HistoryPage{},
		replies:       map[string][]HistoryPage{},
	}
}

func texts(events []chat.Event) []string {
	var out []string
	for _, ev := range events {
		switch v := ev.(type) {
		case chat.Message:
			out = append(out, v.Text)
		case chat.MessageBot:
			out = append(out, "["+v.Username+"] "+v.Text)
		}
	}
	return out
}

func TestBackfill_SkippedWithoutWatermark(t *testing.T) {
	tr := newHistoryTransport()
	h := newHarness(tr, 0)
	h.cache.channels = []chat.Channel{{ID: "C1", IsMember: true}}

	h.engine.Next(context.Background())
	assert.Empty(t, tr.oldest)
	assert.Zero(t, h.queue.Len())
}

func TestBackfill_ReplaysNewerMessagesInOrder(t *testing.T) {
	tr := newHistoryTransport()
	h := newHarness(tr, 100)
	h.cache.channels = []chat.Channel{
		{ID: "C1", IsMember: true},
		{ID: "C2", IsMember: false},
	}
	tr.history["C1"] = []HistoryPage{
		{Messages: []HistoryMessage{{TS: 103, User: "U1", Text: "third"}, {TS: 100, User: "U1", Text: "boundary"}}, Next: "1"},
		{Messages: []HistoryMessage{{TS: 101, User: "U1", Text: "first"}, {TS: 102, Bot: true, Text: "second"}}},
	}
	tr.history["C2"] = []HistoryPage{{Messages: []HistoryMessage{{TS: 150, Text: "not a member"}}}}

	h.engine.Next(context.Background())
	assert.Equal(t, []chat.TS{100, 100}, tr.oldest, "both pages requested from the watermark")

	events := drain(t, h.engine)
	assert.Equal(t, []string{"first", "[bot] second", "third"}, texts(events))
	assert.Equal(t, chat.TS(103), h.engine.LastTimestamp())
}

func TestBackfill_SplicesThreads(t *testing.T) {
	tr := newHistoryTransport()
	h := newHarness(tr, 100)
	h.cache.channels = []chat.Channel{{ID: "C1", IsMember: true}}
	parentTS := chat.TS(101).String()
	tr.history["C1"] = []HistoryPage{{Messages: []HistoryMessage{
		{TS: 101, User: "U1", Text: "parent", ThreadTS: parentTS},
		{TS: 110, User: "U1", Text: "after thread"},
	}}}
	tr.replies[parentTS] = []HistoryPage{
		{Messages: []HistoryMessage{
			{TS: 101, User: "U1", Text: "parent", ThreadTS: parentTS},
			{TS: 105, User: "U2", Text: "reply two", ThreadTS: parentTS},
		}, Next: "1"},
		{Messages: []HistoryMessage{{TS: 102, User: "U2", Text: "reply one", ThreadTS: parentTS}}},
	}

	h.engine.Next(context.Background())
	events := drain(t, h.engine)
	assert.Equal(t, []string{"parent", "reply one", "reply two", "after thread"}, texts(events))
	assert.Equal(t, chat.TS(110), h.engine.LastTimestamp())
}

func TestBackfill_AnnouncesFiles(t *testing.T) {
	tr := newHistoryTransport()
	h := newHarness(tr, 100)
	h.cache.channels = []chat.Channel{{ID: "C1", IsMember: true}}
	tr.history["C1"] = []HistoryPage{{Messages: []HistoryMessage{{
		TS: 101, User: "U1", Text: "look",
		Files: []chat.File{{ID: "F1", Name: "cat.png", Mimetype: "image/png", Size: 2048, User: "U1", URLPrivate: "https://files/cat.png"}},
	}}}}

	h.engine.Next(context.Background())
	events := drain(t, h.engine)
	require.Len(t, events, 2)
	assert.Equal(t, chat.Message{Channel: "C1", User: "U1", Text: "look"}, events[0])
	announce := events[1].(chat.Message)
	assert.Equal(t, "C1", announce.Channel)
	assert.Equal(t, "[file upload] cat.png\nimage/png 2.0 KiB\nhttps://files/cat.png", announce.Text)
}

func TestBackfill_FailureCountsAsConnectFailure(t *testing.T) {
	tr := newHistoryTransport()
	tr.err = errBoom
	h := newHarness(tr, 100)
	h.cache.channels = []chat.Channel{{ID: "C1", IsMember: true}}

	h.engine.Next(context.Background())
	assert.NotEqual(t, StateConnected, h.engine.State())
	assert.False(t, h.engine.Snapshot().RetryAt.IsZero())
}
