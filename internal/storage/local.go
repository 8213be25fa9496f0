package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// LocalStorage writes covers under a directory served by the HTTP server.
// Locations are site-relative paths such as "data/covers/123.jpg".
type LocalStorage struct {
	Dir    string
	Prefix string
}

// NewLocalStorage stores files in dir and reports them under urlPrefix.
func NewLocalStorage(dir, urlPrefix string) *LocalStorage {
	return &LocalStorage{Dir: dir, Prefix: strings.Trim(urlPrefix, "/")}
}

func (l *LocalStorage) location(name string) string {
	return path.Join(l.Prefix, name)
}

func (l *LocalStorage) file(name string) (string, error) {
	clean := filepath.Base(filepath.Clean("/" + name))
	if clean == "/" || clean == "." || clean != name {
		return "", fmt.Errorf("local storage: invalid name %q", name)
	}
	return filepath.Join(l.Dir, clean), nil
}

// Save writes r atomically.
func (l *LocalStorage) Save(_ context.Context, name string, r io.Reader) (string, error) {
	target, err := l.file(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create covers dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(target, renameio.WithPermissions(0o644))
	if err != nil {
		return "", fmt.Errorf("create pending cover: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.Copy(pending, r); err != nil {
		return "", fmt.Errorf("write cover: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("replace cover: %w", err)
	}
	return l.location(name), nil
}

// Lookup reports whether a non-empty file already exists.
func (l *LocalStorage) Lookup(_ context.Context, name string) (string, bool) {
	target, err := l.file(name)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(target)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return "", false
	}
	return l.location(name), true
}
