// Package identity defines the two participant identity spaces (user and
// expert) and the parsing rules for handshake identity claims.
package identity
