// Package wire defines the socket event protocol: the frame envelope, the
// closed set of event names, and the typed payloads they carry. Everything
// here is wire-compatible with the deployed chat clients.
package wire
