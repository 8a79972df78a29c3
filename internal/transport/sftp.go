package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

const (
	dialTimeout = 10 * time.Second
	partSuffix  = ".cync.part"
)

// SFTPTransport implements Transport over an SSH connection. It is
// non-reentrant; the engine serializes access through the transfer executor.
type SFTPTransport struct {
	target *Target

	mu         sync.Mutex
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

var _ Transport = (*SFTPTransport)(nil)

// NewSFTP creates a transport for the given parsed target. No connection is
// made until Connect.
func NewSFTP(target *Target) *SFTPTransport {
	return &SFTPTransport{target: target}
}

func (t *SFTPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closeLocked()

	settings := resolveSSHConfig(t.target)
	if settings.user == "" {
		if u := os.Getenv("USER"); u != "" {
			settings.user = u
		}
	}

	cfg := &ssh.ClientConfig{
		User: settings.user,
		Auth: authMethods(settings),
		// Hosts are trusted on first use, matching plain `ssh` with an
		// accept-new policy.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	addr := fmt.Sprintf("%s:%d", settings.hostname, settings.port)
	slog.Debug("transport connect", "addr", addr, "user", settings.user)

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &Error{Kind: ConnectionLost, Op: "connect", Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return &Error{Kind: AuthFailure, Op: "connect", Err: err}
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return &Error{Kind: ConnectionLost, Op: "connect", Err: err}
	}

	t.sshClient = sshClient
	t.sftpClient = sftpClient
	return nil
}

func (t *SFTPTransport) Put(localPath, remotePath string) error {
	client, err := t.client()
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return &Error{Kind: RemoteIO, Op: "put", Path: remotePath, Err: err}
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return &Error{Kind: RemoteIO, Op: "put", Path: remotePath, Err: err}
	}

	full := t.abs(remotePath)
	part := full + partSuffix

	dst, err := client.Create(part)
	if err != nil {
		return t.wrap("put", remotePath, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		client.Remove(part)
		return t.wrap("put", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		client.Remove(part)
		return t.wrap("put", remotePath, err)
	}

	// Carry the local mtime so both sides agree on last-writer ordering.
	if err := client.Chtimes(part, time.Now(), info.ModTime()); err != nil {
		slog.Debug("transport put chtimes", "path", remotePath, "error", err)
	}

	if err := client.PosixRename(part, full); err != nil {
		client.Remove(part)
		return t.wrap("put", remotePath, err)
	}
	return nil
}

func (t *SFTPTransport) Get(remotePath, localPath string) error {
	client, err := t.client()
	if err != nil {
		return err
	}

	full := t.abs(remotePath)
	src, err := client.Open(full)
	if err != nil {
		return t.wrap("get", remotePath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return t.wrap("get", remotePath, err)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return &Error{Kind: RemoteIO, Op: "get", Path: remotePath, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), filepath.Base(localPath)+partSuffix+".*")
	if err != nil {
		return &Error{Kind: RemoteIO, Op: "get", Path: remotePath, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return t.wrap("get", remotePath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &Error{Kind: RemoteIO, Op: "get", Path: remotePath, Err: err}
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return &Error{Kind: RemoteIO, Op: "get", Path: remotePath, Err: err}
	}

	// Carry the remote mtime for last-writer ordering.
	if err := os.Chtimes(localPath, time.Now(), info.ModTime()); err != nil {
		slog.Debug("transport get chtimes", "path", localPath, "error", err)
	}
	return nil
}

func (t *SFTPTransport) Delete(p string) error {
	client, err := t.client()
	if err != nil {
		return err
	}

	full := t.abs(p)
	info, err := client.Stat(full)
	if err != nil {
		return t.wrap("delete", p, err)
	}

	if info.IsDir() {
		err = client.RemoveDirectory(full)
	} else {
		err = client.Remove(full)
	}
	if err != nil {
		return t.wrap("delete", p, err)
	}
	return nil
}

func (t *SFTPTransport) Mkdir(p string) error {
	client, err := t.client()
	if err != nil {
		return err
	}
	if err := client.MkdirAll(t.abs(p)); err != nil {
		return t.wrap("mkdir", p, err)
	}
	return nil
}

func (t *SFTPTransport) Chmod(p string, mode os.FileMode) error {
	client, err := t.client()
	if err != nil {
		return err
	}
	if err := client.Chmod(t.abs(p), mode); err != nil {
		return t.wrap("chmod", p, err)
	}
	return nil
}

func (t *SFTPTransport) Stat(p string) (*FileInfo, error) {
	client, err := t.client()
	if err != nil {
		return nil, err
	}
	info, err := client.Stat(t.abs(p))
	if err != nil {
		return nil, t.wrap("stat", p, err)
	}
	return &FileInfo{
		Path:    p,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

func (t *SFTPTransport) List(p string) ([]*FileInfo, error) {
	client, err := t.client()
	if err != nil {
		return nil, err
	}

	entries, err := client.ReadDir(t.abs(p))
	if err != nil {
		return nil, t.wrap("list", p, err)
	}

	infos := make([]*FileInfo, 0, len(entries))
	for _, entry := range entries {
		infos = append(infos, &FileInfo{
			Path:    path.Join(p, entry.Name()),
			Size:    entry.Size(),
			ModTime: entry.ModTime(),
			IsDir:   entry.IsDir(),
		})
	}
	return infos, nil
}

func (t *SFTPTransport) Walk(p string) ([]*FileInfo, error) {
	client, err := t.client()
	if err != nil {
		return nil, err
	}

	root := t.abs(p)
	var infos []*FileInfo

	walker := client.Walk(root)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			slog.Warn("transport walk", "path", walker.Path(), "error", err)
			continue
		}
		if walker.Path() == root {
			continue
		}
		rel := relRemote(root, walker.Path())
		info := walker.Stat()
		infos = append(infos, &FileInfo{
			Path:    path.Join(p, rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   info.IsDir(),
		})
	}
	return infos, nil
}

func (t *SFTPTransport) IsAlive() bool {
	t.mu.Lock()
	client := t.sftpClient
	t.mu.Unlock()

	if client == nil {
		return false
	}
	_, err := client.Getwd()
	return err == nil
}

func (t *SFTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}

func (t *SFTPTransport) closeLocked() {
	if t.sftpClient != nil {
		t.sftpClient.Close()
		t.sftpClient = nil
	}
	if t.sshClient != nil {
		t.sshClient.Close()
		t.sshClient = nil
	}
}

func (t *SFTPTransport) client() (*sftp.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sftpClient == nil {
		return nil, &Error{Kind: ConnectionLost, Op: "client", Err: errors.New("not connected")}
	}
	return t.sftpClient, nil
}

func (t *SFTPTransport) abs(p string) string {
	if p == "" || p == "." {
		return t.target.Dir
	}
	return path.Join(t.target.Dir, p)
}

// wrap classifies an sftp error into the transport taxonomy.
func (t *SFTPTransport) wrap(op, p string, err error) error {
	kind := RemoteIO
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, sftp.ErrSSHFxConnectionLost),
		errors.Is(err, sftp.ErrSSHFxNoConnection):
		kind = ConnectionLost
	case errors.Is(err, os.ErrNotExist),
		errors.Is(err, sftp.ErrSSHFxNoSuchFile):
		err = fmt.Errorf("%w: %v", os.ErrNotExist, err)
	case errors.Is(err, sftp.ErrSSHFxPermissionDenied):
		// still RemoteIO, but keep the sentinel visible
	}
	return &Error{Kind: kind, Op: op, Path: p, Err: err}
}

func relRemote(root, full string) string {
	rel := full
	if len(full) > len(root) && full[:len(root)] == root {
		rel = full[len(root):]
	}
	for len(rel) > 0 && rel[0] == '/' {
		rel = rel[1:]
	}
	return rel
}

// authMethods builds the SSH auth chain: agent first, then the identity file
// from ssh config, then the conventional default keys.
func authMethods(settings sshConfigSettings) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	candidates := []string{settings.identityFile}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
		)
	}

	seen := map[string]bool{}
	for _, keyPath := range candidates {
		if keyPath == "" || seen[keyPath] {
			continue
		}
		seen[keyPath] = true

		data, err := os.ReadFile(keyPath)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			slog.Debug("transport skip key", "path", keyPath, "error", err)
			continue
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	return methods
}
