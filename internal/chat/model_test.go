// ABOUTME: Tests for chat model helpers
// ABOUTME: Covers topics, MPIM inactivity, file announcements, timestamps and edit diffs

package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_RealTopic(t *testing.T) {
	c := Channel{Topic: Topic{Value: ""}, Purpose: Topic{Value: "line one\nline two"}}
	assert.Equal(t, "line one | line two", c.RealTopic())

	c.Topic.Value = "the topic"
	assert.Equal(t, "the topic", c.RealTopic())
}

func TestChannel_IRCName(t *testing.T) {
	assert.Equal(t, "#general", Channel{NameNormalized: "general"}.IRCName())
}

func TestChannel_InactiveSince(t *testing.T) {
	cutoff := time.Unix(1_000_000, 0)

	assert.False(t, Channel{IsMPIM: false}.InactiveSince(cutoff), "regular channels are never inactive")
	assert.True(t, Channel{IsMPIM: true}.InactiveSince(cutoff), "no latest message means inactive")
	assert.True(t, Channel{IsMPIM: true, Latest: &LatestMessage{TS: 999_999}}.InactiveSince(cutoff))
	assert.False(t, Channel{IsMPIM: true, Latest: &LatestMessage{TS: 1_000_001}}.InactiveSince(cutoff))
}

func TestUser_RealName(t *testing.T) {
	assert.Equal(t, "noname", User{}.RealName())
	assert.Equal(t, "Alice A", User{Profile: Profile{RealName: "Alice A"}}.RealName())
}

func TestFile_Announce(t *testing.T) {
	f := File{
		Name:       "cat.png",
		Mimetype:   "image/png",
		Size:       2048,
		URLPrivate: "https://files.example/cat.png",
		User:       "U1",
		Channels:   []string{"C1"},
		IMs:        []string{"D9"},
	}
	msg := f.Announce()
	assert.Equal(t, "D9", msg.Channel, "announces in the last destination")
	assert.Equal(t, "U1", msg.User)
	assert.Equal(t, "[file upload] cat.png\nimage/png 2.0 KiB\nhttps://files.example/cat.png", msg.Text)
}

func TestTS_UnmarshalJSON(t *testing.T) {
	var v struct {
		A TS `json:"a"`
		B TS `json:"b"`
		C TS `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"1234.5","b":99.25}`), &v))
	assert.Equal(t, TS(1234.5), v.A)
	assert.Equal(t, TS(99.25), v.B)
	assert.Equal(t, TS(0), v.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a":"nope"}`), &v))
}

func TestSedDiff(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{"equal", "same text", "same text", ""},
		{"one word", "hello wrold again", "hello world again", "s/wrold/world/"},
		{"appended", "hello", "hello there", "s//there/"},
		{"span", "a b c d e", "a x c y e", "s/b c d/x c y/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SedDiff(tt.a, tt.b))
		})
	}
}

func TestMessageEdit_DiffMessage(t *testing.T) {
	e := MessageEdit{
		Channel:  "C1",
		Previous: NoChanMessage{User: "U1", Text: "teh cat"},
		Current:  NoChanMessage{User: "U1", Text: "the cat"},
	}
	require.True(t, e.Changed())
	assert.Equal(t, Message{Channel: "C1", User: "U1", Text: "s/teh/the/"}, e.DiffMessage())

	e.Current.Text = e.Previous.Text
	assert.False(t, e.Changed())
}
