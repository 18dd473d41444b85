// Quant Agent — a financial Q&A assistant with cached market data tools.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "quantagent",
	Short: "Quant Agent — a financial Q&A assistant with cached market data tools.",
	Long: `Quant Agent answers financial questions by combining a chat model with
live data tools: web search, market news, and stock quotes. Tool responses
are cached on disk so repeated questions do not burn provider quota.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, chatCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
