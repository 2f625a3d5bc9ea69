// Package presence maintains the live mapping from participant identity to
// connection ID for the two identity spaces (users and experts).
//
// The registry is deliberately dumb: it never closes connections, never
// broadcasts, and treats absence as a normal outcome. Two invariants matter:
//
//   - Last connect wins. Registering an identity that is already online
//     overwrites the mapping and leaves the superseded connection open.
//   - Unregistration is by handle, not by identity. A disconnect for a
//     connection that was already superseded is a no-op, so the fresher
//     mapping survives out-of-order disconnect delivery.
package presence
