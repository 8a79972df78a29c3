package sync

import (
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/goodCoderXD/cync/internal/transport"
)

type fakeEntry struct {
	data  []byte
	mode  os.FileMode
	mtime time.Time
	isDir bool
}

// fakeTransport is an in-memory transport.Transport for tests. Error
// injection happens through opErr, consulted before every operation.
type fakeTransport struct {
	mu      gosync.Mutex
	entries map[string]*fakeEntry

	connects    int
	connectErrs []error
	dead        bool
	opErr       func(op, path string) error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{entries: make(map[string]*fakeEntry)}
}

func connLost(op, path string) error {
	return &transport.Error{Kind: transport.ConnectionLost, Op: op, Path: path, Err: io.EOF}
}

func remoteIOErr(op, path string, err error) error {
	return &transport.Error{Kind: transport.RemoteIO, Op: op, Path: path, Err: err}
}

func (f *fakeTransport) check(op, path string) error {
	if f.opErr != nil {
		return f.opErr(op, path)
	}
	return nil
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.dead = false
	return nil
}

func (f *fakeTransport) Put(localPath, remotePath string) error {
	if err := f.check("put", remotePath); err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return remoteIOErr("put", remotePath, err)
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return remoteIOErr("put", remotePath, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[remotePath] = &fakeEntry{data: data, mode: 0o644, mtime: info.ModTime()}
	return nil
}

func (f *fakeTransport) Get(remotePath, localPath string) error {
	if err := f.check("get", remotePath); err != nil {
		return err
	}

	f.mu.Lock()
	entry, ok := f.entries[remotePath]
	f.mu.Unlock()
	if !ok {
		return remoteIOErr("get", remotePath, transport.ErrNotExist)
	}
	if err := os.WriteFile(localPath, entry.data, 0o644); err != nil {
		return remoteIOErr("get", remotePath, err)
	}
	return os.Chtimes(localPath, entry.mtime, entry.mtime)
}

func (f *fakeTransport) Delete(p string) error {
	if err := f.check("delete", p); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[p]
	if !ok {
		return remoteIOErr("delete", p, transport.ErrNotExist)
	}
	if entry.isDir {
		prefix := p + "/"
		for other := range f.entries {
			if strings.HasPrefix(other, prefix) {
				return remoteIOErr("delete", p, errors.New("directory not empty"))
			}
		}
	}
	delete(f.entries, p)
	return nil
}

func (f *fakeTransport) Mkdir(p string) error {
	if err := f.check("mkdir", p); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.Split(p, "/")
	for i := range parts {
		dir := strings.Join(parts[:i+1], "/")
		if _, ok := f.entries[dir]; !ok {
			f.entries[dir] = &fakeEntry{isDir: true, mode: 0o755, mtime: time.Now()}
		}
	}
	return nil
}

func (f *fakeTransport) Chmod(p string, mode os.FileMode) error {
	if err := f.check("chmod", p); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[p]
	if !ok {
		return remoteIOErr("chmod", p, transport.ErrNotExist)
	}
	entry.mode = mode
	return nil
}

func (f *fakeTransport) Stat(p string) (*transport.FileInfo, error) {
	if err := f.check("stat", p); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p == "." {
		return &transport.FileInfo{Path: ".", IsDir: true}, nil
	}
	entry, ok := f.entries[p]
	if !ok {
		return nil, remoteIOErr("stat", p, transport.ErrNotExist)
	}
	return &transport.FileInfo{
		Path:    p,
		Size:    int64(len(entry.data)),
		ModTime: entry.mtime,
		IsDir:   entry.isDir,
	}, nil
}

func (f *fakeTransport) List(p string) ([]*transport.FileInfo, error) {
	if err := f.check("list", p); err != nil {
		return nil, err
	}
	return f.collect(func(path string) bool {
		return pathDir(path) == p || (p == "." && !strings.Contains(path, "/"))
	}), nil
}

func (f *fakeTransport) Walk(p string) ([]*transport.FileInfo, error) {
	if err := f.check("walk", p); err != nil {
		return nil, err
	}
	return f.collect(func(path string) bool {
		return p == "." || IsSubPath(p, path)
	}), nil
}

func (f *fakeTransport) collect(match func(string) bool) []*transport.FileInfo {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*transport.FileInfo
	for path, entry := range f.entries {
		if !match(path) {
			continue
		}
		out = append(out, &transport.FileInfo{
			Path:    path,
			Size:    int64(len(entry.data)),
			ModTime: entry.mtime,
			IsDir:   entry.isDir,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (f *fakeTransport) IsAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead
}

func (f *fakeTransport) setDead(dead bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = dead
}

func (f *fakeTransport) connCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) Close() error { return nil }

// content returns the stored bytes for a remote path, or nil.
func (f *fakeTransport) content(p string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry, ok := f.entries[p]; ok {
		return entry.data
	}
	return nil
}

func (f *fakeTransport) exists(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[p]
	return ok
}

func (f *fakeTransport) putFile(p, content string, mtime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[p] = &fakeEntry{data: []byte(content), mode: 0o644, mtime: mtime}
}

var _ transport.Transport = (*fakeTransport)(nil)
