package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hwendt/llmgate/internal/cmd"
	"github.com/hwendt/llmgate/internal/config"
	"github.com/hwendt/llmgate/internal/logging"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the llmgate server",
	Long: `Start the llmgate feedback server.

It loads the configuration, connects the usage database and starts the
HTTP server with the streaming and management endpoints.`,
	Run: func(c *cobra.Command, args []string) {
		logging.SetupBaseLogger()

		configPath := cfgFile
		if configPath == "" {
			configPath = DefaultConfigPath
		}

		result, err := Bootstrap(configPath)
		if err != nil {
			logging.Fatalf("Failed to bootstrap: %v", err)
			os.Exit(1)
		}

		cfg := result.Config
		if servePort != 0 && servePort != config.DefaultPort {
			cfg.Port = servePort
		}

		logging.SetDebug(cfg.Debug)
		if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir); err != nil {
			logging.Fatalf("Failed to configure log output: %v", err)
		}

		cmd.StartService(cfg, result.ConfigFilePath)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", config.DefaultPort, "server port")
	rootCmd.AddCommand(serveCmd)
}
