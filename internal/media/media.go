// Package media stores uploaded images on local disk and removes them when
// the records that reference them go away.
package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/splax/placeshare/internal/apperr"
)

// sniffLen is how many bytes content detection looks at.
const sniffLen = 512

var mimeExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpeg",
	"image/jpg":  "jpg",
}

// ErrOutsideRoot is returned for references that do not resolve inside the upload root.
var ErrOutsideRoot = errors.New("media: reference outside upload root")

// Store owns image files under a single root directory.
type Store struct {
	root     string
	maxBytes int64
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// New ensures the upload root exists.
func New(root string, maxBytes int64, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("upload root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: filepath.Clean(root), maxBytes: maxBytes, logger: logger}, nil
}

// Root returns the upload directory.
func (s *Store) Root() string {
	return s.root
}

// Allowed reports whether contentType is an accepted image type.
func Allowed(contentType string) bool {
	_, ok := mimeExtensions[normalizeType(contentType)]
	return ok
}

// Save writes r to a new uniquely named file and returns its reference.
// The declared content type must be an accepted image type and the bytes
// must look like one.
func (s *Store) Save(r io.Reader, contentType string) (string, error) {
	ext, ok := mimeExtensions[normalizeType(contentType)]
	if !ok {
		return "", apperr.E(apperr.Validation, "Invalid mime type!", nil)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", apperr.E(apperr.Internal, "Could not read the uploaded file.", err)
	}
	head = head[:n]
	if sniffed := http.DetectContentType(head); !Allowed(sniffed) {
		return "", apperr.E(apperr.Validation, "Invalid mime type!", fmt.Errorf("content looks like %s", sniffed))
	}

	ref := filepath.ToSlash(filepath.Join(s.root, uuid.NewString()+"."+ext))
	f, err := os.OpenFile(filepath.FromSlash(ref), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", apperr.E(apperr.Internal, "Could not store the uploaded file.", err)
	}

	src := io.MultiReader(strings.NewReader(string(head)), r)
	if s.maxBytes > 0 {
		src = io.LimitReader(src, s.maxBytes+1)
	}
	written, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		s.removeQuietly(ref)
		return "", apperr.E(apperr.Internal, "Could not store the uploaded file.", copyErr)
	case closeErr != nil:
		s.removeQuietly(ref)
		return "", apperr.E(apperr.Internal, "Could not store the uploaded file.", closeErr)
	case s.maxBytes > 0 && written > s.maxBytes:
		s.removeQuietly(ref)
		return "", apperr.E(apperr.Validation, fmt.Sprintf("File too large, limit is %d bytes.", s.maxBytes), nil)
	}
	return ref, nil
}

// Remove deletes the file behind ref synchronously.
func (s *Store) Remove(ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Discard removes ref in the background. Failures are logged and dropped:
// a stray file is a leak, not a broken record.
func (s *Store) Discard(ref string) {
	if strings.TrimSpace(ref) == "" {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Remove(ref); err != nil {
			s.logger.Warn("discard media failed", "ref", ref, "error", err)
			return
		}
		s.logger.Debug("media discarded", "ref", ref)
	}()
}

// Wait blocks until every pending Discard has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

func (s *Store) removeQuietly(ref string) {
	if err := s.Remove(ref); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("cleanup partial upload failed", "ref", ref, "error", err)
	}
}

// resolve maps ref onto a file path, refusing anything outside the root.
func (s *Store) resolve(ref string) (string, error) {
	path := filepath.Clean(filepath.FromSlash(ref))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, ref)
	}
	return path, nil
}

func normalizeType(contentType string) string {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = strings.TrimSpace(mediaType[:idx])
	}
	return mediaType
}
