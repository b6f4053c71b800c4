// Package gateway composes a chat backend into the capability set an IRC
// session consumes.
//
// # Overview
//
// A Client joins four pieces:
//
//	remote  Remote            backend web calls (Slack web API, Rocket.Chat DDP)
//	cache   *cache.Cache      users, channels, members and direct messages
//	engine  *stream.Engine    connection state and the live event stream
//	dedupe  *dedupe.Cache     timestamps of messages this client sent
//
// The Client satisfies irc.Backend and markup.Directory. Sessions never talk
// to the remote directly.
//
// # Own messages
//
// Every message posted through SendMessage or SendMessageToUser has its
// returned timestamp marked in the dedup set. When the backend echoes the
// message back on the stream, the engine consumes the mark and drops the
// echo so the IRC client does not see its own line twice.
//
// # Direct messages
//
// SendMessageToUser resolves the direct message channel through the cache,
// which opens one with the backend when none is known yet.
package gateway
