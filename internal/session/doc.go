// Package session gates the expert message channel on confirmed
// consultation sessions.
package session
