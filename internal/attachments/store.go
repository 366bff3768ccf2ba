// Package attachments keeps study attachments in a content directory outside
// the database. Only the relative path is stored, encrypted, in the record.
package attachments

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxSize is the largest attachment accepted.
const MaxSize = 50 << 20

var (
	ErrExtensionNotAllowed = errors.New("file type not allowed")
	ErrTooLarge            = errors.New("attachment exceeds maximum size")
	ErrInvalidPath         = errors.New("attachment path escapes the content directory")
)

var allowedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true, ".svg": true,
	".pdf": true, ".doc": true, ".docx": true, ".txt": true,
	".mp4": true, ".mov": true, ".wmv": true, ".avi": true, ".mkv": true, ".webm": true, ".flv": true, ".mpeg": true, ".mpg": true,
}

// Allowed reports whether filename carries an accepted extension.
func Allowed(filename string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Store reads and writes files under Root.
type Store struct {
	root   string
	logger *zap.Logger
}

func NewStore(root string, logger *zap.Logger) *Store {
	return &Store{root: root, logger: logger}
}

func (s *Store) Root() string { return s.root }

// Save writes content for patientID and returns the path relative to the
// root, e.g. "complementaries/12/<uuid>_blood panel.pdf".
func (s *Store) Save(patientID int64, filename string, content io.Reader) (string, error) {
	if !Allowed(filename) {
		return "", ErrExtensionNotAllowed
	}

	dir := path.Join("complementaries", strconv.FormatInt(patientID, 10))
	rel := path.Join(dir, uniqueName(filename))

	abs, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return "", fmt.Errorf("failed to create attachment directory: %w", err)
	}

	f, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create attachment: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(content, MaxSize+1))
	closeErr := f.Close()
	if err == nil && n > MaxSize {
		err = ErrTooLarge
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(abs)
		if errors.Is(err, ErrTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("failed to write attachment: %w", err)
	}
	return rel, nil
}

// Open returns the file stored at rel.
func (s *Store) Open(rel string) (*os.File, error) {
	abs, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

// Remove deletes the file at rel. A missing file is not an error.
func (s *Store) Remove(rel string) error {
	abs, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove attachment: %w", err)
	}
	return nil
}

// RemoveQuietly deletes rel and only logs a failure.
func (s *Store) RemoveQuietly(rel string) {
	if rel == "" {
		return
	}
	if err := s.Remove(rel); err != nil {
		s.logger.Warn("failed to remove attachment file", zap.String("path", rel), zap.Error(err))
	}
}

func (s *Store) resolve(rel string) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(rel))
	if clean == "/" {
		return "", ErrInvalidPath
	}
	abs := filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	if !strings.HasPrefix(abs, filepath.Clean(s.root)+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return abs, nil
}

// uniqueName keeps letters, digits, spaces, '_' and '-' from the original
// base name and prefixes a random hex id.
func uniqueName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filepath.ToSlash(filename)), filepath.Ext(filename))

	var b strings.Builder
	for _, r := range base {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	safe := strings.TrimRight(b.String(), " ")

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if safe == "" {
		return id + ext
	}
	return id + "_" + safe + ext
}
