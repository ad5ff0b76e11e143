package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/totegamma/appforge/internal/config"
)

var (
	configPath string
	pretty     bool
	conf       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "appforge",
	Short: "Low-code application store",
	Long: `appforge stores low-code application documents and serves their
editing and live views, extracted queries, module dependencies and
container sizes over HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		var err error
		conf, err = config.Load(configPath)
		if err != nil {
			return err
		}

		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		if pretty {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		}
		level, err := zerolog.ParseLevel(conf.Server.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %v", conf.Server.LogLevel, err)
		}
		zerolog.SetGlobalLevel(level)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("APPFORGE_CONFIG"), "path to the yaml config file")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "human readable log output")
}
