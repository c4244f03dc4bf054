// Package cli implements the command-line interface for picstash.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "picstash",
	Short: "Image upload service with AI labeling",
	Long: `Picstash is an image upload service. Uploaded images are stored as
immutable blobs, analyzed by a vision model for labels and a caption,
and indexed in a metadata store for listing and retrieval.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config",
		envOrDefault("PICSTASH_CONFIG", ""), "Path to TOML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(gcCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// envOrDefault returns the value of the environment variable key, or defaultVal if unset.
func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
