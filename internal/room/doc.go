// Package room derives canonical room keys from unordered identity pairs and
// tracks which connections have joined which room. Rooms are ephemeral
// labels, not stored entities.
package room
