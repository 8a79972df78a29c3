package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ssh_config "github.com/kevinburke/ssh_config"
)

// Target is a parsed remote destination of the form `[user@]host[:port]:/path`.
type Target struct {
	User string
	Host string
	Port int
	Dir  string
}

func (t *Target) String() string {
	host := t.Host
	if t.User != "" {
		host = t.User + "@" + host
	}
	if t.Port != 0 && t.Port != 22 {
		host = fmt.Sprintf("%s:%d", host, t.Port)
	}
	return host + ":" + t.Dir
}

// Addr returns the dial address host:port.
func (t *Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", t.Host, port)
}

// ParseTarget splits `[user@]host[:port]:/path` into its parts. The path
// component is required; everything else has defaults.
func ParseTarget(raw string) (*Target, error) {
	idx := strings.Index(raw, ":")
	if idx <= 0 || idx == len(raw)-1 {
		return nil, fmt.Errorf("invalid target %q: want [user@]host[:port]:/path", raw)
	}

	hostPart := raw[:idx]
	rest := raw[idx+1:]

	t := &Target{}

	if at := strings.Index(hostPart, "@"); at >= 0 {
		t.User = hostPart[:at]
		hostPart = hostPart[at+1:]
		if t.User == "" {
			return nil, fmt.Errorf("invalid target %q: empty user", raw)
		}
	}
	if hostPart == "" {
		return nil, fmt.Errorf("invalid target %q: empty host", raw)
	}
	t.Host = hostPart

	// An optional numeric port may sit between host and path: host:2222:/p
	if i := strings.Index(rest, ":"); i > 0 {
		if port, err := strconv.Atoi(rest[:i]); err == nil {
			t.Port = port
			rest = rest[i+1:]
		}
	}

	if rest == "" {
		return nil, fmt.Errorf("invalid target %q: empty remote path", raw)
	}
	t.Dir = rest

	return t, nil
}

// sshConfigSettings holds connection parameters resolved from ~/.ssh/config,
// matching what an `ssh host` invocation would use.
type sshConfigSettings struct {
	hostname     string
	user         string
	port         int
	identityFile string
}

// resolveSSHConfig fills in target defaults from the user's ssh config.
// Explicit values on the target always win.
func resolveSSHConfig(t *Target) sshConfigSettings {
	s := sshConfigSettings{
		hostname: t.Host,
		user:     t.User,
		port:     t.Port,
	}

	if hostname := ssh_config.Get(t.Host, "HostName"); hostname != "" {
		s.hostname = hostname
	}
	if s.user == "" {
		s.user = ssh_config.Get(t.Host, "User")
	}
	if s.port == 0 {
		if portStr := ssh_config.Get(t.Host, "Port"); portStr != "" {
			if port, err := strconv.Atoi(portStr); err == nil {
				s.port = port
			}
		}
	}
	if s.port == 0 {
		s.port = 22
	}

	if identity := ssh_config.Get(t.Host, "IdentityFile"); identity != "" {
		s.identityFile = expandHome(identity)
	}

	return s
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
