// Package cli wires the ragguard subcommands.
package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ragguard",
	Short: "RAGGuard - RAG poisoning demonstration with a judge-model guardrail",
	Long: `RAGGuard runs a deliberately vulnerable payment agent on top of a
lexically-retrieved vendor store, demonstrates how a poisoned vendor record
hijacks the agent's payment decision, and shows a judge-model guardrail
catching the poisoned context before it reaches the agent.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "ragguard.yaml", "Path to config YAML file")
}

func Execute() error {
	// Provider API keys come from the environment; a local .env is honored
	// but optional.
	_ = godotenv.Load()
	return rootCmd.Execute()
}
