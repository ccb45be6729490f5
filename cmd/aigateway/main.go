package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "aigateway",
	Short: "aigateway — AI request gateway",
	Long:  "aigateway is a server-side facade in front of an OpenAI-style provider: it queues and retries upstream calls, deduplicates identical in-flight requests, caches results, and enforces per-tenant hourly budgets for scope generation and material price lookups.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; environment variables override)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
