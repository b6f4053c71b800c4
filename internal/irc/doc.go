// Package irc implements the IRC side of the gateway: one Session per client
// connection, the command table and the rendering of chat events into
// protocol lines.
//
// A session starts unauthenticated. Events delivered before the client sends
// USER are held and flushed, in order, right after activation.
package irc
