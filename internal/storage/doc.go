// Package storage persists the bot's durable state.
//
// Two keyed record sets live here:
//   - subscribers: chat id -> notifications enabled
//   - fingerprints: schedule date -> content hash of the last seen schedule
//
// Every write is durable when the call returns.
package storage
