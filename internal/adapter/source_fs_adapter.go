// Package adapter contains the infrastructure adapters of the outbox: the
// local filesystem, the catalog HTTP client and the SQLite state store.
package adapter

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	m "tagfiler.dev/pkg/outbox/internal/model"
)

const hashChunkSize = 64 * 1024

// ErrChecksumCancelled is returned when hashing stops because its context
// was cancelled. No partial digest is ever returned alongside it.
var ErrChecksumCancelled = errors.New("checksum cancelled")

// SourceFSAdapter abstracts the filesystem operations of the pipeline so the
// domain logic can be tested without touching the disk.
type SourceFSAdapter interface {
	// Walk traverses root in lexical order without following symlinks.
	Walk(root m.Path, fn FilepathWalkFunc) error

	// Owner resolves the user and group names owning info.
	Owner(info os.FileInfo) (user, group string)

	// HashFile returns the hex SHA-256 digest of the file at path.
	HashFile(ctx context.Context, path m.Path) (string, error)

	// Open opens a file for reading line rules.
	Open(path string) (io.ReadCloser, error)
}

// FilepathWalkFunc mirrors the callback shape used by filepath.Walk. It is
// defined here to avoid leaking the standard-library type directly into the
// domain layer.
type FilepathWalkFunc func(path string, info os.FileInfo, err error) error

// LocalSourceFSAdapter implements SourceFSAdapter on the local disk.
type LocalSourceFSAdapter struct {
	mu     sync.Mutex
	users  map[uint32]string
	groups map[uint32]string
}

// NewLocalSourceFSAdapter constructs a LocalSourceFSAdapter.
func NewLocalSourceFSAdapter() *LocalSourceFSAdapter {
	return &LocalSourceFSAdapter{
		users:  make(map[uint32]string),
		groups: make(map[uint32]string),
	}
}

// Walk iterates over root and everything beneath it.
func (a *LocalSourceFSAdapter) Walk(root m.Path, fn FilepathWalkFunc) error {
	return filepath.Walk(string(root), filepath.WalkFunc(fn))
}

// Owner returns the owner names of info, falling back to numeric ids.
func (a *LocalSourceFSAdapter) Owner(info os.FileInfo) (string, string) {
	uid, gid, ok := ownerIDs(info)
	if !ok {
		return "", ""
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	name, found := a.users[uid]
	if !found {
		name = lookupUser(uid)
		a.users[uid] = name
	}

	group, found := a.groups[gid]
	if !found {
		group = lookupGroup(gid)
		a.groups[gid] = group
	}

	return name, group
}

// HashFile returns the SHA-256 hash of the file at path. The context is
// checked between chunks.
func (a *LocalSourceFSAdapter) HashFile(ctx context.Context, path m.Path) (string, error) {
	f, err := os.Open(string(path))
	if err != nil {
		return "", err
	}

	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %w", ErrChecksumCancelled, err)
		}

		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}

		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return "", err
		}
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Open opens path for reading.
func (a *LocalSourceFSAdapter) Open(path string) (io.ReadCloser, error) {
	// #nosec G304 - paths come from the configured scan roots
	return os.Open(path)
}

// EntryKind classifies a walked entry.
func EntryKind(info fs.FileInfo) string {
	switch {
	case info.Mode().IsRegular():
		return "file"
	case info.IsDir():
		return "dir"
	case info.Mode()&fs.ModeSymlink != 0:
		return "symlink"
	default:
		return "other"
	}
}
