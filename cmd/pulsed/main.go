// Command pulsed is the media monitoring daemon. One process runs the
// collectors, the analysis pool, the issue engine, and the aggregation
// rollups against a shared MySQL store.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pulsed",
	Short: "pulsed - public sentiment monitoring daemon",
	Long: `pulsed ingests public mentions from social and press sources, scores
their sentiment and emotions, clusters related mentions into tracked
issues, and rolls everything up into windowed sentiment indexes.`,
	Run: func(cmd *cobra.Command, args []string) {
		// No subcommand - show help
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
