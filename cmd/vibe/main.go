package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "vibe",
		Short: "Vibe - an execution runtime for LM-interleaved scripts",
		Long:  "Vibe runs a pre-parsed program tree, suspending at each language-model call, embedded host-language block, tool invocation, or asynchronous join point and resuming once the external collaborator responds.",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a JSON config file (optional, env vars override)")

	rootCmd.AddCommand(runCmd(), traceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
