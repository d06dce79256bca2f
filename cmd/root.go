// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "defrag",
	Short: "defrag - IPv4 datagram reassembly engine",
	Long: `defrag buffers IPv4 fragments, joins overlapping and out-of-order
pieces into original datagrams, and enforces global memory, timing, and
safety limits against adversarial or malformed input.

The replay subcommand streams a pcap capture through the engine and
reports what was delivered, dropped, and left pending.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults apply when empty)")

	rootCmd.AddCommand(replayCmd)
}
