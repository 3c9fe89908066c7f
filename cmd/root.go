package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yasunobu-nonaka/abema-cm-muter/cmd/benchmark"
	"github.com/yasunobu-nonaka/abema-cm-muter/cmd/devices"
	"github.com/yasunobu-nonaka/abema-cm-muter/cmd/monitor"
	"github.com/yasunobu-nonaka/abema-cm-muter/cmd/patterns"
	"github.com/yasunobu-nonaka/abema-cm-muter/cmd/record"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cm-muter",
		Short: "Commercial break detector and muter",
		Long: "cm-muter listens to system audio, matches it against recorded " +
			"commercial patterns and mutes the output while a commercial plays.",
	}

	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(
		monitor.Command(settings),
		record.Command(settings),
		patterns.Command(settings),
		devices.Command(settings),
		benchmark.Command(settings),
	)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Audio.Source, "source", viper.GetString("audio.source"), "Audio capture source (\"sysdefault\", \"BlackHole\", etc.)")
	rootCmd.PersistentFlags().StringVar(&settings.Patterns.Directory, "patterns", viper.GetString("patterns.directory"), "Directory holding reference pattern recordings")

	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}
