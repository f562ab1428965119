// Package presence tracks which identities are reachable right now.
//
// A Registry maps each identity to its set of live connections. An identity
// is online iff it has at least one connection, so a user with two devices
// stays online until both disconnect. Register and Deregister report the
// offline-to-online and online-to-offline transitions so the gateway emits
// user-online and user-offline exactly once per transition.
package presence
