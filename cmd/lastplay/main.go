package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/lastplay/internal/ui"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type flags struct {
	configPath string
	games      string
	game       string
	debug      bool
	initConfig bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "lastplay",
		Short: "Record rhythm game plays and keep the ones worth saving",
		Long: `lastplay watches the foreground game, switches recorder scenes as the
game moves between song select, gameplay and results, and records every
play. Press the save key on the result screen to keep the last play;
unsaved plays are purged (or filed, with the always-keep policy).`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", defaultConfigPath(), "configuration file")
	cmd.Flags().StringVar(&f.games, "games", "", "game profile file (overrides detection.profiles)")
	cmd.Flags().StringVar(&f.game, "game", "", "pin a game profile id instead of probing windows")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "log at debug level")
	cmd.Flags().BoolVar(&f.initConfig, "init-config", false, "write a default configuration file if none exists")
	return cmd
}

func defaultConfigPath() string {
	if s := os.Getenv("LASTPLAY_CONFIG"); s != "" {
		return s
	}
	return "config.toml"
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		ui.NewFormatter(os.Stderr, ui.ShouldUseColor(os.Stderr)).Error(err)
		os.Exit(1)
	}
}
