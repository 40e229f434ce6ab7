package command

import (
	"github.com/clusterlabs/striker-console/pkg/config"
	"github.com/clusterlabs/striker-console/pkg/logger"
	"github.com/clusterlabs/striker-console/pkg/version"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	name = "striker-console"

	// skipConfig marks commands that run without a config file.
	skipConfig = "skip-config"
)

var (
	configFile string
	logRotate  *lumberjack.Logger
)

var RootCmd = &cobra.Command{
	Use:               name,
	Short:             "Remote console client for Striker-managed servers",
	Version:           version.Version,
	SilenceUsage:      true,
	PersistentPreRunE: initCommand,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Debug().Msg("Bye.")
		if logRotate != nil {
			_ = logRotate.Close()
		}
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file (default /etc/striker-console/striker-console.conf, then ~/.striker-console.conf)")
	RootCmd.AddCommand(connectCmd, sendCmd, chordsCmd, releaseCmd, orphansCmd)
}

func initCommand(cmd *cobra.Command, args []string) error {
	logRotate = logger.InitLogger()

	if cmd.Annotations[skipConfig] == "true" {
		return nil
	}

	files := config.Files(name)
	if configFile != "" {
		files = []string{configFile}
	}
	settings, err := config.LoadConfig(files)
	if err != nil {
		return err
	}
	config.InitSettings(settings)

	log.Debug().Msgf("Starting %s... (version: %s)", name, version.Version)
	return nil
}
