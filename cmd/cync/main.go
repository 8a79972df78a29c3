package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goodCoderXD/cync/internal/config"
	"github.com/goodCoderXD/cync/internal/sync"
	"github.com/goodCoderXD/cync/internal/utils"
	"github.com/goodCoderXD/cync/internal/version"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "cync [flags] [local-dir] [[user@]host[:port]:/path]",
	Short:   "Mirror a local directory to a remote host over SSH, no mount required",
	Args:    cobra.MaximumNArgs(2),
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromViper()
		if len(args) > 0 {
			cfg.LocalDir = args[0]
		}
		if len(args) > 1 {
			cfg.Remote = args[1]
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		showHeader()

		engine, err := sync.NewEngine(cfg)
		if err != nil {
			return err
		}

		go printReports(engine.Reports())

		defer slog.Info("Bye!")
		return engine.Run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("local", "l", "", "local directory to mirror")
	rootCmd.Flags().StringP("remote", "r", "", "remote target as [user@]host[:port]:/path")
	rootCmd.Flags().StringSlice("ignore", nil, "extra gitignore-style exclusion patterns")
	rootCmd.Flags().String("extensions", config.DefaultExtensions, "comma-separated file extension allow-list, empty for all")
	rootCmd.Flags().Int64("max-file-size", 0, "skip files larger than this many bytes, 0 for no limit")
	rootCmd.Flags().Bool("follow-symlinks", false, "sync symlinked files")
	rootCmd.Flags().Duration("debounce", config.DefaultDebounceWindow, "quiet window before a change is synced")
	rootCmd.Flags().Duration("poll", config.DefaultPollInterval, "remote change poll interval")
	rootCmd.Flags().Bool("preserve-conflicts", false, "keep the losing side of a conflict as <path>.conflict-<timestamp>")
	rootCmd.Flags().Bool("create-if-missing", false, "create the remote directory if it does not exist")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "cync config file")
}

func main() {
	logFile := config.DefaultLogPath
	if err := utils.EnsureParent(logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".cync"))
		viper.AddConfigPath(filepath.Join(home, ".config/cync"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("local_dir", cmd.Flags().Lookup("local"))
	viper.BindPFlag("remote", cmd.Flags().Lookup("remote"))
	viper.BindPFlag("ignore", cmd.Flags().Lookup("ignore"))
	viper.BindPFlag("extensions", cmd.Flags().Lookup("extensions"))
	viper.BindPFlag("max_file_size", cmd.Flags().Lookup("max-file-size"))
	viper.BindPFlag("follow_symlinks", cmd.Flags().Lookup("follow-symlinks"))
	viper.BindPFlag("debounce_window", cmd.Flags().Lookup("debounce"))
	viper.BindPFlag("poll_interval", cmd.Flags().Lookup("poll"))
	viper.BindPFlag("preserve_conflicts", cmd.Flags().Lookup("preserve-conflicts"))
	viper.BindPFlag("create_missing", cmd.Flags().Lookup("create-if-missing"))

	viper.SetEnvPrefix("CYNC")
	viper.AutomaticEnv()

	return nil
}

func configFromViper() *config.Config {
	return &config.Config{
		Path:              viper.ConfigFileUsed(),
		LocalDir:          viper.GetString("local_dir"),
		Remote:            viper.GetString("remote"),
		Ignore:            viper.GetStringSlice("ignore"),
		Extensions:        viper.GetString("extensions"),
		MaxFileSize:       viper.GetInt64("max_file_size"),
		FollowSymlinks:    viper.GetBool("follow_symlinks"),
		DebounceWindow:    viper.GetDuration("debounce_window"),
		PollInterval:      viper.GetDuration("poll_interval"),
		PreserveConflicts: viper.GetBool("preserve_conflicts"),
		CreateMissing:     viper.GetBool("create_missing"),
	}
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Printf("cync %s\n", version.Short())
}
