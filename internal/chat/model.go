// ABOUTME: Channel, user, file and identity types mirrored from the chat backend
// ABOUTME: Includes derived properties like real topics and file announcements

package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Provider selects backend-specific behavior such as markup rules.
type Provider int

const (
	ProviderSlack Provider = iota
	ProviderRocket
)

func (p Provider) String() string {
	switch p {
	case ProviderSlack:
		return "slack"
	case ProviderRocket:
		return "rocketchat"
	default:
		return "unknown"
	}
}

// Topic is the text value of a channel topic or purpose.
type Topic struct {
	Value string `json:"value"`
}

// LatestMessage carries the timestamp of the most recent message in a channel.
type LatestMessage struct {
	TS TS `json:"ts"`
}

// Channel describes a backend conversation that maps to an IRC channel.
type Channel struct {
	ID             string         `json:"id"`
	NameNormalized string         `json:"name_normalized"`
	Purpose        Topic          `json:"purpose"`
	Topic          Topic          `json:"topic"`
	NumMembers     int            `json:"num_members"`
	IsMember       bool           `json:"is_member"`
	IsChannel      bool           `json:"is_channel"`
	IsGroup        bool           `json:"is_group"`
	IsMPIM         bool           `json:"is_mpim"`
	Latest         *LatestMessage `json:"latest,omitempty"`
}

// Name returns the normalized channel name.
func (c Channel) Name() string {
	return c.NameNormalized
}

// IRCName returns the name used on the IRC side, with the leading '#'.
func (c Channel) IRCName() string {
	return "#" + c.NameNormalized
}

// RealTopic returns the topic, falling back to the purpose when the topic is
// empty. Newlines are collapsed into " | ".
func (c Channel) RealTopic() string {
	t := c.Topic.Value
	if t == "" {
		t = c.Purpose.Value
	}
	return strings.ReplaceAll(t, "\n", " | ")
}

// InactiveSince reports whether a multi-party direct channel had no activity
// after cutoff. Regular channels are never inactive.
func (c Channel) InactiveSince(cutoff time.Time) bool {
	if !c.IsMPIM {
		return false
	}
	return c.Latest == nil || c.Latest.TS.Time().Before(cutoff)
}

// Profile holds the user profile fields the gateway renders.
type Profile struct {
	RealName          string `json:"real_name"`
	Email             string `json:"email,omitempty"`
	StatusText        string `json:"status_text"`
	IsRestricted      bool   `json:"is_restricted"`
	IsUltraRestricted bool   `json:"is_ultra_restricted"`
}

// User is a backend account. Name is the unique IRC nickname.
type User struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Profile Profile `json:"profile"`
	IsAdmin bool    `json:"is_admin"`
	Deleted bool    `json:"deleted"`
}

// RealName returns the profile real name, or "noname" when unset.
func (u User) RealName() string {
	if u.Profile.RealName == "" {
		return "noname"
	}
	return u.Profile.RealName
}

// IM is a 1:1 direct message channel with another user.
type IM struct {
	ID   string `json:"id"`
	User string `json:"user"`
}

// Self is the identity the gateway is logged in as.
type Self struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Team describes the workspace the gateway is connected to.
type Team struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// Identity is captured from the backend on every (re)connection.
type Identity struct {
	Self Self `json:"self"`
	Team Team `json:"team"`
}

// File is the metadata of an uploaded file.
type File struct {
	ID         string   `json:"id"`
	URLPrivate string   `json:"url_private"`
	Size       int64    `json:"size"`
	User       string   `json:"user"`
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	Mimetype   string   `json:"mimetype"`
	Channels   []string `json:"channels"`
	Groups     []string `json:"groups"`
	IMs        []string `json:"ims"`
}

// Destinations lists every conversation the file was shared into.
func (f File) Destinations() []string {
	d := make([]string, 0, len(f.Channels)+len(f.Groups)+len(f.IMs))
	d = append(d, f.Channels...)
	d = append(d, f.Groups...)
	return append(d, f.IMs...)
}

// Announce builds the message that announces this file in its last destination.
func (f File) Announce() Message {
	var channel string
	if d := f.Destinations(); len(d) > 0 {
		channel = d[len(d)-1]
	}
	return Message{
		Channel: channel,
		User:    f.User,
		Text: fmt.Sprintf("[file upload] %s\n%s %s\n%s",
			f.Name, f.Mimetype, humanize.IBytes(uint64(max(f.Size, 0))), f.URLPrivate),
	}
}

// TS is a backend timestamp: seconds on the backend clock, as a float.
// It decodes from either a JSON number or a JSON string.
type TS float64

// ParseTS parses a backend timestamp string. Empty input yields zero.
func ParseTS(s string) (TS, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return TS(f), nil
}

// UnmarshalJSON accepts both "1234.5678" and 1234.5678.
func (t *TS) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*t = 0
		return nil
	}
	v, err := ParseTS(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Time converts the timestamp to a time.Time.
func (t TS) Time() time.Time {
	sec := int64(t)
	nsec := int64((float64(t) - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// String renders the timestamp with microsecond precision.
func (t TS) String() string {
	return strconv.FormatFloat(float64(t), 'f', 6, 64)
}
