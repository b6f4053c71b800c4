// Package cache memoizes backend lookups so the IRC session can resolve users,
// channels, channel members and direct message channels at interactive latency.
//
// # Invalidation
//
//   - Users: kept by id and by name. Forget evicts a user from the id map only,
//     so the next lookup by id re-fetches it. The name map only grows, and
//     every new name bumps the generation returned by Usernames.
//   - Channels: one list, replaced only when a refresh is requested.
//     Lookups try the cached list first and a refreshed list once.
//   - Members: fetched one page per call until the backend reports no more
//     pages. Ids first seen in a later page produce synthetic Join events.
//   - Direct messages: user id to channel id, memoized after lookup-or-create.
package cache
