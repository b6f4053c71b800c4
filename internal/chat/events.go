// ABOUTME: Closed family of typed events produced by the event stream engine
// ABOUTME: Each variant implements the sealed Event interface

package chat

// Event is a typed backend event. The interface is sealed: only the types in
// this file implement it.
type Event interface {
	isEvent()
}

// Message is a plain conversation message.
type Message struct {
	Channel string `json:"channel"`
	User    string `json:"user"`
	Text    string `json:"text"`
}

// ActionMessage is a /me message, rendered as a CTCP ACTION.
type ActionMessage struct {
	Channel string `json:"channel"`
	User    string `json:"user"`
	Text    string `json:"text"`
}

// MessageBot is a message posted by an integration.
type MessageBot struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	Username string `json:"username"`
	BotID    string `json:"bot_id,omitempty"`
}

// NoChanMessage is the channel-less message body carried by edits and deletes.
type NoChanMessage struct {
	User string `json:"user"`
	Text string `json:"text"`
}

// MessageEdit reports a change to an existing message.
type MessageEdit struct {
	Channel  string        `json:"channel"`
	Previous NoChanMessage `json:"previous_message"`
	Current  NoChanMessage `json:"message"`
}

// Changed reports whether the edit actually changed the text.
func (e MessageEdit) Changed() bool {
	return e.Previous.Text != e.Current.Text
}

// MessageDelete reports a deleted message.
type MessageDelete struct {
	Channel  string        `json:"channel"`
	Previous NoChanMessage `json:"previous_message"`
}

// User returns the author of the deleted message.
func (d MessageDelete) User() string { return d.Previous.User }

// Text returns the deleted text.
func (d MessageDelete) Text() string { return d.Previous.Text }

// FileShared announces that a file was shared; the file must be resolved.
type FileShared struct {
	FileID string `json:"file_id"`
	UserID string `json:"user_id"`
	TS     TS     `json:"ts"`
}

// TopicChange reports a new channel topic.
type TopicChange struct {
	Channel string `json:"channel"`
	Topic   string `json:"topic"`
	User    string `json:"user"`
}

// Join reports a user joining a channel.
type Join struct {
	User    string `json:"user"`
	Channel string `json:"channel"`
}

// Leave reports a user leaving a channel.
type Leave struct {
	User    string `json:"user"`
	Channel string `json:"channel"`
}

// GroupJoined reports the local user being added to a new channel.
type GroupJoined struct {
	Channel Channel `json:"channel"`
}

// UserChange reports that a user's profile changed. The event engine consumes
// it to invalidate the user cache; it is never rendered.
type UserChange struct {
	User User `json:"user"`
}

func (Message) isEvent()       {}
func (ActionMessage) isEvent() {}
func (MessageBot) isEvent()    {}
func (MessageEdit) isEvent()   {}
func (MessageDelete) isEvent() {}
func (FileShared) isEvent()    {}
func (TopicChange) isEvent()   {}
func (Join) isEvent()          {}
func (Leave) isEvent()         {}
func (GroupJoined) isEvent()   {}
func (UserChange) isEvent()    {}
