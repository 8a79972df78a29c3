package main

import (
	"fmt"
	"os"

	"github.com/goodCoderXD/cync/internal/config"
	"github.com/goodCoderXD/cync/internal/transport"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	var localDir string
	var remote string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a cync config file",
		Run: func(cmd *cobra.Command, args []string) {
			if cfg, err := config.Load(config.DefaultConfigPath); err == nil {
				fmt.Println("cync already initialized")
				fmt.Printf("Config Path: %s\n", green(cfg.Path))
				fmt.Printf("Local Dir:   %s\n", cyan(cfg.LocalDir))
				fmt.Printf("Remote:      %s\n", cyan(cfg.Remote))
				os.Exit(0)
			}

			if localDir == "" {
				fmt.Printf("%s: %s\n", red("ERROR"), "local dir is required")
				os.Exit(1)
			}
			if _, err := transport.ParseTarget(remote); err != nil {
				fmt.Printf("%s: %s\n", red("ERROR"), err)
				os.Exit(1)
			}

			cfg := &config.Config{
				LocalDir: localDir,
				Remote:   remote,
			}
			if err := cfg.Validate(); err != nil {
				fmt.Printf("%s: %s\n", red("ERROR"), err)
				os.Exit(1)
			}
			if err := cfg.Save(config.DefaultConfigPath); err != nil {
				fmt.Printf("%s: %s\n", red("ERROR"), err)
				os.Exit(1)
			}

			fmt.Println("cync initialized")
			fmt.Printf("Config Path: %s\n", green(config.DefaultConfigPath))
			fmt.Printf("Local Dir:   %s\n", cyan(cfg.LocalDir))
			fmt.Printf("Remote:      %s\n", cyan(cfg.Remote))
			fmt.Printf("Debounce:    %s  Poll: %s\n", cyan(cfg.DebounceWindow), cyan(cfg.PollInterval))
		},
	}

	cmd.Flags().StringVarP(&localDir, "local", "l", "", "local directory to mirror")
	cmd.Flags().StringVarP(&remote, "remote", "r", "", "remote target as [user@]host[:port]:/path")
	cmd.MarkFlagRequired("local")
	cmd.MarkFlagRequired("remote")

	return cmd
}
