// Package slack is the Slack backend: a web API client over net/http, the RTM
// websocket event transport and the decoding of raw RTM frames into chat
// events.
//
// Tokens starting with xoxc- belong to browser sessions and are only accepted
// by Slack together with the matching session cookie.
package slack
