// ABOUTME: Tests for the RTM transport against a local websocket server
// ABOUTME: Covers identity capture, buffering, ack filtering and drop detection

package slack

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/TinLe/localslackirc/internal/chat"
	"github.com/TinLe/localslackirc/internal/stream"
)

// rtmServer serves rtm.connect plus a websocket endpoint writing frames.
func rtmServer(t *testing.T, frames []string, closeAfter bool) (*fakeAPI, *Client, chan string) {
	api, srv := newFakeAPI(t)
	cookies := make(chan string, 1)

	ws := http.NewServeMux()
	ws.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		cookies <- r.Header.Get("Cookie")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		for _, f := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		if closeAfter {
			conn.Close(websocket.StatusNormalClosure, "bye")
			return
		}
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})
	wsSrv := newServer(t, ws)

	api.set("rtm.connect", map[string]any{
		"ok":   true,
		"url":  strings.Replace(wsSrv, "http://", "ws://", 1) + "/ws",
		"self": map[string]string{"id": "USELF", "name": "alice"},
		"team": map[string]string{"id": "T1", "name": "Acme", "domain": "acme"},
	})
	return api, testClient(srv), cookies
}

func waitBatch(t *testing.T, r *RTM, n int) []stream.Raw {
	t.Helper()
	var got []stream.Raw
	require.Eventually(t, func() bool {
		batch, err := r.Read()
		if err != nil {
			return false
		}
		got = append(got, batch...)
		return len(got) >= n
	}, 2*time.Second, 10*time.Millisecond)
	return got
}

func TestRTM_ConnectAndRead(t *testing.T) {
	frames := []string{
		`{"type":"hello"}`,
		`{"ok":true,"reply_to":1,"ts":"1.0"}`,
		`{"type":"pong","reply_to":2}`,
		`{"type":"message","channel":"C1","user":"U1","text":"hi","ts":"1700000000.000200"}`,
	}
	_, client, cookies := rtmServer(t, frames, false)
	r := NewRTM(client)
	defer r.Close()

	id, err := r.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chat.Self{ID: "USELF", Name: "alice"}, id.Self)
	assert.Equal(t, "acme", id.Team.Domain)
	assert.Equal(t, "d=abc", <-cookies)

	got := waitBatch(t, r, 1)
	require.Len(t, got, 1, "acks, pongs and ignored events are filtered")
	assert.Equal(t, "message", got[0].Type)
	assert.InDelta(t, 1700000000.0002, float64(got[0].TS), 1e-6)
	assert.NoError(t, r.Err())

	batch, err := r.Read()
	assert.NoError(t, err)
	assert.Empty(t, batch)
}

func TestRTM_DropIsReported(t *testing.T) {
	_, client, _ := rtmServer(t, []string{`{"type":"hello"}`}, true)
	r := NewRTM(client)
	defer r.Close()

	_, err := r.Connect(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return r.Err() != nil }, 2*time.Second, 10*time.Millisecond)
	_, readErr := r.Read()
	var connErr *chat.ConnectionError
	assert.ErrorAs(t, readErr, &connErr)
	assert.Error(t, r.Err(), "the failure stays visible until the next connect")
}

func TestRTM_FullBufferDropsFramesAndFails(t *testing.T) {
	frames := []string{
		`{"type":"user_typing","channel":"C1","user":"U1"}`,
		`{"type":"message","channel":"C1","user":"U1","text":"one","ts":"1.0"}`,
		`{"type":"reaction_added","user":"U1"}`,
		`{"type":"message","channel":"C1","user":"U1","text":"two","ts":"2.0"}`,
		`{"type":"message","channel":"C1","user":"U1","text":"three","ts":"3.0"}`,
	}
	_, client, _ := rtmServer(t, frames, false)
	r := NewRTM(client)
	r.maxBuffered = 2
	defer r.Close()

	_, err := r.Connect(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return r.Err() != nil }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, r.Err(), stream.ErrBufferFull)

	batch, err := r.Read()
	assert.Empty(t, batch, "the buffer is discarded")
	assert.ErrorIs(t, err, stream.ErrBufferFull)
}

func TestRTM_IgnoredEventsNeverBuffer(t *testing.T) {
	frames := []string{
		`{"type":"user_typing","channel":"C1","user":"U1"}`,
		`{"type":"reaction_added","user":"U1"}`,
		`{"type":"message","channel":"C1","user":"U1","text":"one","ts":"1.0"}`,
		`{"type":"message","channel":"C1","user":"U1","text":"two","ts":"2.0"}`,
	}
	_, client, _ := rtmServer(t, frames, false)
	r := NewRTM(client)
	r.maxBuffered = 2
	defer r.Close()

	_, err := r.Connect(context.Background())
	require.NoError(t, err)

	got := waitBatch(t, r, 2)
	assert.Len(t, got, 2)
	assert.NoError(t, r.Err())
}

func TestRTM_ConnectFailure(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.set("rtm.connect", map[string]any{"ok": false, "error": "invalid_auth"})
	r := NewRTM(testClient(srv))

	_, err := r.Connect(context.Background())
	var connErr *chat.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Contains(t, err.Error(), "invalid_auth")

	_, err = r.Read()
	assert.ErrorIs(t, err, chat.ErrNotConnected)
}

func TestRTM_History(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.set("conversations.history", map[string]any{
		"ok": true,
		"messages": []map[string]any{
			{"type": "message", "user": "U1", "text": "a", "ts": "101.000000", "thread_ts": "101.000000"},
			{"type": "message", "subtype": "bot_message", "bot_id": "B1", "username": "ci", "text": "b", "ts": "102.000000"},
		},
		"has_more":          true,
		"response_metadata": map[string]string{"next_cursor": "next"},
	})
	r := NewRTM(testClient(srv))

	page, err := r.History(context.Background(), "C1", 100.5, "")
	require.NoError(t, err)
	assert.Equal(t, "next", page.Next)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "101.000000", page.Messages[0].ThreadTS)
	assert.True(t, page.Messages[1].Bot)
	assert.Equal(t, "ci", page.Messages[1].Username)

	form := api.form("conversations.history", 0)
	assert.Equal(t, "100.5", form["oldest"])
	assert.Equal(t, "C1", form["channel"])
}
