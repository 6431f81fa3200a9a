// Package storage keeps attachment bytes on a filesystem addressed by
// storage path. Metadata lives with the task record, not here.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ErrNotExist is returned when nothing is stored at a path.
var ErrNotExist = errors.New("file not found")

// StoredFile describes the outcome of a successful Put.
type StoredFile struct {
	StoredName  string
	StoragePath string
	Size        int64
}

// File is a readable, seekable handle on stored content.
type File interface {
	io.ReadSeekCloser
	Stat() (os.FileInfo, error)
}

// AttachmentStore is the backing store for attachment content.
type AttachmentStore interface {
	Put(content io.Reader, declaredName string) (*StoredFile, error)
	Exists(storagePath string) (bool, error)
	Delete(storagePath string) error
	Open(storagePath string) (File, error)
}

const maxKeyAttempts = 3

// FileStore implements AttachmentStore on top of an afero filesystem, so the
// same code serves a local directory and an in-memory fs.
type FileStore struct {
	fs     afero.Fs
	keyGen func() string
}

func NewFileStore(fsys afero.Fs) *FileStore {
	return &FileStore{fs: fsys, keyGen: uuid.NewString}
}

// NewDiskStore roots a FileStore at dir, creating it if needed.
func NewDiskStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return NewFileStore(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// Put writes content under a fresh key derived from declaredName. Existing
// keys are never overwritten; a partially written file is removed.
func (s *FileStore) Put(content io.Reader, declaredName string) (*StoredFile, error) {
	stem, ext := splitName(declaredName)

	var (
		f    afero.File
		name string
		err  error
	)
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		name = stem + "-" + s.keyGen() + ext
		f, err = s.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("allocate storage key for %q: %w", declaredName, err)
	}

	n, err := io.Copy(f, content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(name)
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	return &StoredFile{StoredName: name, StoragePath: name, Size: n}, nil
}

func (s *FileStore) Exists(storagePath string) (bool, error) {
	p, ok := cleanPath(storagePath)
	if !ok {
		return false, nil
	}
	info, err := s.fs.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	return !info.IsDir(), nil
}

// Delete removes the file at storagePath; a missing file is not an error.
func (s *FileStore) Delete(storagePath string) error {
	p, ok := cleanPath(storagePath)
	if !ok {
		return nil
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}

func (s *FileStore) Open(storagePath string) (File, error) {
	p, ok := cleanPath(storagePath)
	if !ok {
		return nil, ErrNotExist
	}
	f, err := s.fs.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, ErrNotExist
	}
	return f, nil
}

// keys are flat names; anything with a separator or parent reference is
// rejected
func cleanPath(p string) (string, bool) {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == ".." {
		return "", false
	}
	if strings.ContainsAny(p, `/\`) || strings.Contains(p, "..") {
		return "", false
	}
	return p, true
}

const maxStemLen = 40

// splitName turns a user-supplied filename into a filesystem-safe stem and a
// lowercase extension.
func splitName(declared string) (stem, ext string) {
	base := filepath.Base(strings.ReplaceAll(declared, `\`, "/"))
	ext = strings.ToLower(filepath.Ext(base))
	if len(ext) > 10 || !isAlnum(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	stem = slug(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" {
		stem = "file"
	}
	return stem, ext
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= maxStemLen {
			break
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > maxStemLen {
		out = strings.TrimRight(out[:maxStemLen], "-")
	}
	return out
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r >= unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}
