// Command ffagent runs the natural-language query resolution daemon for
// fibre network operations data.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "ffagent",
		Short: "Natural-language query resolution for fibre network data",
		Long: `ffagent resolves operations questions into structured queries through
a tiered pipeline: a semantic pattern cache, a specialized text-to-SQL
service, and a general LLM fallback. User feedback feeds pattern
statistics and corrections back into the cache.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRulesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
