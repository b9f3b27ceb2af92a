// Command ignisd runs the Invoker Engine host: it boots the base VM
// image, starts one dispatcher core per configured core, and pumps
// Invocations from the configured Transport until it receives a shutdown
// signal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "ignisd",
		Short: "Ignis invoker engine host",
		Long:  "Run the Ignis invoker engine: bootstrap the base image, start dispatcher cores, and serve Invocations over the configured Transport.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
