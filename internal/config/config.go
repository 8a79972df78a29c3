package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goodCoderXD/cync/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".cync", "config.json")
	DefaultLogPath    = filepath.Join(home, ".cync", "logs", "cync.log")
)

const (
	// DefaultDebounceWindow is the quiet period before a burst of change
	// events for one path collapses into a single action.
	DefaultDebounceWindow = 500 * time.Millisecond

	// DefaultPollInterval is how often the remote tree is re-listed for
	// changes, since there are no push notifications over SSH.
	DefaultPollInterval = 5 * time.Second

	// DefaultRetryBudget bounds per-path transfer retries.
	DefaultRetryBudget = 3

	// DefaultReconnectBudget bounds reconnection attempts before the
	// connection is declared failed.
	DefaultReconnectBudget = 10

	// DefaultExtensions mirrors the classic extension allow-list. An empty
	// list syncs every file type.
	DefaultExtensions = "j2,py,sh,yml,json,yaml,txt,md,toml,conf,service"
)

type Config struct {
	// LocalDir is the root of the local tree being mirrored.
	LocalDir string `json:"local_dir"`

	// Remote is the sync target in `[user@]host[:port]:/path` form.
	Remote string `json:"remote"`

	// Ignore holds gitignore-style exclusion patterns, applied after the
	// built-in defaults.
	Ignore []string `json:"ignore,omitempty"`

	// Extensions is a comma-separated allow-list of file extensions.
	// Empty means all files participate.
	Extensions string `json:"extensions,omitempty"`

	// MaxFileSize excludes files larger than this many bytes. Zero disables
	// the threshold.
	MaxFileSize int64 `json:"max_file_size,omitempty"`

	// FollowSymlinks includes symlinks in sync. Off by default: the remote
	// behavior of a followed symlink is undefined.
	FollowSymlinks bool `json:"follow_symlinks,omitempty"`

	DebounceWindow  time.Duration `json:"debounce_window,omitempty"`
	PollInterval    time.Duration `json:"poll_interval,omitempty"`
	RetryBudget     int           `json:"retry_budget,omitempty"`
	ReconnectBudget int           `json:"reconnect_budget,omitempty"`

	// PreserveConflicts keeps the losing side of a conflict as
	// `<path>.conflict-<timestamp>` instead of silently overwriting it.
	PreserveConflicts bool `json:"preserve_conflicts,omitempty"`

	// CreateMissing creates the remote root directory at startup if absent.
	CreateMissing bool `json:"create_missing,omitempty"`

	Path string `json:"-"`
}

func (c *Config) Validate() error {
	if c.LocalDir == "" {
		return fmt.Errorf("local dir is required")
	}

	localDir, err := utils.ResolvePath(c.LocalDir)
	if err != nil {
		return fmt.Errorf("resolve local dir: %w", err)
	}
	if !utils.DirExists(localDir) {
		return fmt.Errorf("local dir does not exist: %s", localDir)
	}
	c.LocalDir = localDir

	if c.Remote == "" {
		return fmt.Errorf("remote target is required")
	}
	if !strings.Contains(c.Remote, ":") {
		return fmt.Errorf("remote target %q must be in [user@]host:/path form", c.Remote)
	}

	for _, pattern := range c.Ignore {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("empty ignore pattern")
		}
		if strings.ContainsRune(pattern, 0) {
			return fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}

	if c.DebounceWindow <= 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = DefaultRetryBudget
	}
	if c.ReconnectBudget <= 0 {
		c.ReconnectBudget = DefaultReconnectBudget
	}

	return nil
}

// ExtensionList splits the comma-separated allow-list, dropping empties.
func (c *Config) ExtensionList() []string {
	if c.Extensions == "" {
		return nil
	}
	parts := strings.Split(c.Extensions, ",")
	exts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		exts = append(exts, strings.TrimPrefix(p, "."))
	}
	return exts
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// write-then-rename so a crash cannot leave a truncated config behind
	return utils.WriteFileAtomic(path, data, 0o644)
}

func Load(path string) (*Config, error) {
	if !utils.FileExists(path) {
		return nil, fmt.Errorf("config file %s does not exist: %w", path, os.ErrNotExist)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.Path = path
	return &cfg, nil
}
