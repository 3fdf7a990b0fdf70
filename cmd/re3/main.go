package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "re3",
		Short: "RE3 harness - distributed prompt repetition experiments",
		Long: `RE3 runs prompt-repetition experiment slices against a local model
endpoint. Workers coordinate through append-only logs in a shared git
repository: each worker claims a slice, runs its benchmark items and
publishes the results, with no central server involved.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
