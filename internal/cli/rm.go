package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete an image on a running server",
	Long:  `Delete an image and its stored file from a picstash server.`,
	Args:  cobra.ExactArgs(1),
	Run:   runRm,
}

func init() {
	f := rmCmd.Flags()
	f.StringVar(&serverURL, "url",
		envOrDefault("PICSTASH_SERVER_URL", ""),
		"Server base URL (env: PICSTASH_SERVER_URL)")
}

func runRm(_ *cobra.Command, args []string) {
	c := resolveClient()

	if err := c.DeleteImage(context.Background(), args[0]); err != nil {
		exitError("%v", err)
	}

	fmt.Printf("Deleted image '%s'\n", args[0])
}
