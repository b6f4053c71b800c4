// Package rocket is the Rocket.Chat backend: a DDP client over a websocket.
//
// One websocket carries both remote method calls and the room message
// subscriptions. A reader goroutine routes "result", "ready" and "nosub"
// frames to the waiting caller, answers server pings, and buffers
// stream-room-messages changes for the event stream engine.
//
// Messages sent by this process carry client-generated ids with a
// per-process prefix; the stream drops anything bearing that prefix so a
// sent line is never echoed back to the IRC client.
//
// Rocket.Chat has no equivalent for several Slack operations. Topics, kicks,
// presence, joins, invites and files all return chat.ErrUnsupported.
package rocket
