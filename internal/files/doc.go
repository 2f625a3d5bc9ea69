// Package files stores uploaded blobs on disk under random names.
//
// Voice notes and file attachments share the same path; the distinction is a
// flag on the message record, not on the blob. Content types are sniffed
// from the bytes rather than trusted from the upload.
package files
