// Package cli provides the Cobra-based command-line interface for llmgate.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// DefaultConfigPath is resolved against XDG_CONFIG_HOME at runtime.
const DefaultConfigPath = "$XDG_CONFIG_HOME/llmgate/config.yaml"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "llmgate",
	Short: "Streaming LLM feedback gateway",
	Long: `llmgate streams model-generated feedback on student submissions.

It fronts one or more LLM backends (Ollama, Azure AI, Azure OpenAI),
enforces per-provider token quotas and records token usage.`,
	Run: func(c *cobra.Command, args []string) {
		// Bare invocation behaves like serve.
		serveCmd.Run(c, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
