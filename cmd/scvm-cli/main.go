package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "scvm-cli",
	Short: "Smart contract VM command line tool",
	Long: `A command line tool for encoding contract invocations and running
them against a local sqlite state.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./state.db", "State database path")

	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(callCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
