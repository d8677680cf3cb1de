// Package main provides the feedvault CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/feedvault/feedvault/pkg/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// settings carries the persistent flags shared by every subcommand.
type settings struct {
	cfgFile string
	viper   *viper.Viper
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(&settings{viper: config.NewViper()})
}

func buildRootCmd(s *settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "feedvault",
		Short: "Content-addressed archive of subscribed feeds",
		Long: `feedvault polls subscribed channels, downloads each new post's media,
and stores it in a sharded, deduplicated archive alongside the post metadata.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&s.cfgFile, "config", "", "Path to config file (default: nearest .feedvault/config.yaml)")
	pf.String("archive-root", "", "Archive root directory")
	pf.String("workspace", "", "Scratch workspace directory")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	s.bindFlag(rootCmd, "archive.root", "archive-root")
	s.bindFlag(rootCmd, "archive.workspace", "workspace")
	s.bindFlag(rootCmd, "log.level", "log-level")

	rootCmd.AddCommand(
		newRunCmd(s),
		newOnceCmd(s),
		newFingerprintCmd(),
		newShowCmd(s),
		newVerifyCmd(s),
	)
	return rootCmd
}

func (s *settings) bindFlag(cmd *cobra.Command, key, flag string) {
	if err := s.viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

// load reads the config file, applies environment and flag overrides, and
// validates the result.
func (s *settings) load() (*config.Config, error) {
	path := s.cfgFile
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	} else if cwd, err := os.Getwd(); err == nil {
		path = config.FindConfigFile(cwd)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyOverrides(s.viper); err != nil {
		return nil, fmt.Errorf("config overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
