// Package filestore holds the file manager's storage backends. Writes are
// all-or-nothing: a reader never observes a partially written file.
package filestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	// ErrNotFound is returned when the named file does not exist.
	ErrNotFound = errors.New("filestore: file not found")

	// ErrInvalidName is returned for names that could escape the store or
	// collide with staging files.
	ErrInvalidName = errors.New("filestore: invalid file name")

	// ErrShortWrite is returned when the source ends before the declared size.
	ErrShortWrite = errors.New("filestore: body shorter than declared size")
)

// tempInfix separates a destination name from the writer's token in staging
// file names.
const tempInfix = ".tmp-"

// processToken keeps staging names of different processes apart, so a file
// left behind by a crashed run never collides with a later writer.
var processToken = newProcessToken()

func newProcessToken() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.Itoa(os.Getpid())
	}
	return hex.EncodeToString(b[:])
}

// Store is a flat namespace of files.
type Store interface {
	// List returns the stored names in lexical order.
	List(ctx context.Context) ([]string, error)

	// Open returns the file contents and size.
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)

	// Put stores exactly size bytes from r under name, replacing any previous
	// file only once the new contents are complete. token must be unique among
	// concurrent writers.
	Put(ctx context.Context, name, token string, r io.Reader, size int64) error

	Remove(ctx context.Context, name string) error
	Rename(ctx context.Context, from, to string) error
}

// ValidName rejects empty names, path separators, dot entries and staging
// names.
func ValidName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidName
	case strings.ContainsAny(name, "/\\\x00"):
		return ErrInvalidName
	case strings.Contains(name, tempInfix):
		return ErrInvalidName
	}
	return nil
}

// TempName is the staging name this process uses while writing name.
func TempName(name, token string) string {
	return name + tempInfix + processToken + "-" + token
}

func isTempName(name string) bool {
	return strings.Contains(name, tempInfix)
}
