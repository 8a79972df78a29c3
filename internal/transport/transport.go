// Package transport provides the remote-filesystem session used by the sync
// engine. The engine depends only on the Transport interface; the concrete
// implementation speaks SFTP over an SSH connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrorKind classifies transport failures so the engine can decide between
// retrying, reconnecting, and giving up.
type ErrorKind string

const (
	AuthFailure    ErrorKind = "auth_failure"
	ConnectionLost ErrorKind = "connection_lost"
	RemoteIO       ErrorKind = "remote_io"
)

// Error is the failure type returned by all Transport operations.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("transport: %s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("transport: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsConnectionLost reports whether err is a transport error caused by a lost
// connection.
func IsConnectionLost(err error) bool {
	var terr *Error
	return errors.As(err, &terr) && terr.Kind == ConnectionLost
}

// IsAuthFailure reports whether err is a transport authentication error.
func IsAuthFailure(err error) bool {
	var terr *Error
	return errors.As(err, &terr) && terr.Kind == AuthFailure
}

// FileInfo describes a single remote entry. Paths are relative to the remote
// root, slash separated.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Transport is a non-reentrant session against one remote host. All paths are
// relative to the remote root configured at construction. Exactly one
// goroutine may issue operations at a time.
type Transport interface {
	// Connect opens (or reopens) the session.
	Connect(ctx context.Context) error

	// Put uploads a local file to the remote path.
	Put(localPath, remotePath string) error

	// Get downloads a remote file to the local path.
	Get(remotePath, localPath string) error

	// Delete removes a remote file or empty directory.
	Delete(path string) error

	// Mkdir creates a remote directory including missing parents.
	Mkdir(path string) error

	// Chmod changes the mode of a remote file.
	Chmod(path string, mode os.FileMode) error

	// Stat describes a single remote entry.
	Stat(path string) (*FileInfo, error)

	// List returns the direct children of a remote directory.
	List(path string) ([]*FileInfo, error)

	// Walk returns every entry under a remote directory, recursively.
	Walk(path string) ([]*FileInfo, error)

	// IsAlive reports whether the session is usable.
	IsAlive() bool

	// Close terminates the session.
	Close() error
}

// ErrNotExist is returned by Stat/List/Walk for missing remote paths,
// wrapped in a *Error so callers can errors.Is against it.
var ErrNotExist = os.ErrNotExist
