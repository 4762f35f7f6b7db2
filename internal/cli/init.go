package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hwendt/llmgate/internal/logging"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize config and generate a management key",
	Long: `Initialize the llmgate configuration.

On first run this creates the config file and generates a management key
for the management API. If the config already exists, the current key is
shown. Use --force to regenerate the key.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath := cfgFile
		if configPath == "" {
			configPath = DefaultConfigPath
		}
		if err := DoInitConfig(configPath, forceInit); err != nil {
			logging.Fatalf("Init failed: %v", err)
			os.Exit(1)
		}
	},
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "force regenerate management key")
	rootCmd.AddCommand(initCmd)
}
