// Command analyst answers data-analysis questions by generating and running
// programs in a sandbox.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "analyst",
	Short: "Answer data-analysis questions with sandboxed generated programs",
	Long: `analyst takes a question plus data files, asks an LLM for a plan and a
program, runs the program in an isolated sandbox and returns the JSON the
plan asked for. Failed runs are repaired up to the configured attempt limit.`,
	SilenceUsage: true,
}

func init() {
	defaultConfig := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultConfig = v
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd, askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
