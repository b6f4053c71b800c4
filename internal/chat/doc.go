// Package chat defines the data model shared by every gateway component.
//
// # Overview
//
// Channels, users, files and the closed family of backend events live here,
// along with the error taxonomy the rest of the gateway uses to decide how a
// failure is reported:
//
//   - ErrNotFound: unknown user, channel or file (by id or name)
//   - RequestError: the backend answered a request with a non-success response
//   - ConnectionError: transport-level failure talking to the backend
//
// # Events
//
// Event is a sealed interface. Only the types declared in events.go implement
// it, so a type switch over Event is the single place a new variant has to be
// handled:
//
//	switch ev := ev.(type) {
//	case chat.Message:
//	case chat.MessageEdit:
//	...
//	}
//
// # Identity
//
// Channel and user identity is always the backend id. Names are only used
// where the local protocol addresses things by name (nicknames, #channels).
package chat
