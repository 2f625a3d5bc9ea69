// ABOUTME: Disk-backed blob storage for uploaded files and voice notes
// ABOUTME: Blobs are stored under random names; metadata lives in the store

package files

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/parleyhq/parley-gateway/internal/store"
)

// ErrTooLarge is returned when an upload exceeds the configured size cap.
var ErrTooLarge = errors.New("file exceeds size limit")

// Storage writes uploaded blobs to a directory on disk. The database record
// for each blob is the caller's responsibility; Storage only deals in bytes.
type Storage struct {
	root     string
	maxBytes int64
	logger   *slog.Logger
}

// NewStorage creates a blob store rooted at dir, creating it if needed.
// Pass nil logger for default.
func NewStorage(dir string, maxBytes int64, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating files directory: %w", err)
	}
	return &Storage{
		root:     dir,
		maxBytes: maxBytes,
		logger:   logger.With("component", "files"),
	}, nil
}

// safeExt returns the extension of the uploaded name if it is plain ASCII
// alphanumerics, empty otherwise. The extension is cosmetic; content type
// comes from sniffing the bytes.
func safeExt(name string) string {
	ext := filepath.Ext(filepath.Base(name))
	if ext == "" || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < '0' || r > '9') && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return ""
		}
	}
	return ext
}

// Save streams r into a fresh blob and returns its metadata, with the
// content type detected from the bytes. The caller persists the returned
// record. Returns ErrTooLarge when r exceeds the size cap; nothing is left
// on disk in that case.
func (s *Storage) Save(r io.Reader, name string) (*store.FileObject, error) {
	id := uuid.New().String()
	diskName := id + safeExt(name)
	path := filepath.Join(s.root, diskName)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating blob: %w", err)
	}

	// Read one byte past the cap so an at-cap upload and an over-cap upload
	// are distinguishable.
	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing blob: %w", err)
	}
	if n > s.maxBytes {
		os.Remove(path)
		return nil, ErrTooLarge
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("detecting content type: %w", err)
	}

	obj := &store.FileObject{
		ID:          id,
		Name:        filepath.Base(name),
		ContentType: mtype.String(),
		Size:        n,
		DiskName:    diskName,
		CreatedAt:   time.Now().UTC(),
	}

	s.logger.Debug("saved blob", "id", id, "name", obj.Name, "size", n, "type", obj.ContentType)
	return obj, nil
}

// ServeFile streams a blob over HTTP with range support. Returns an error if
// the blob is missing on disk; nothing has been written to w in that case.
func (s *Storage) ServeFile(w http.ResponseWriter, r *http.Request, obj *store.FileObject) error {
	f, err := os.Open(filepath.Join(s.root, obj.DiskName))
	if err != nil {
		return fmt.Errorf("opening blob: %w", err)
	}
	defer f.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("inline", map[string]string{"filename": obj.Name}))

	http.ServeContent(w, r, obj.Name, obj.CreatedAt, f)
	return nil
}

// Remove deletes a blob from disk, best-effort. A missing blob is fine;
// anything else is logged and swallowed.
func (s *Storage) Remove(obj *store.FileObject) {
	err := os.Remove(filepath.Join(s.root, obj.DiskName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to remove blob", "id", obj.ID, "error", err)
	}
}
