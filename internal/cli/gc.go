package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/picstash/internal/client"
)

var (
	serverURL  string
	adminToken string
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Sweep orphaned blobs on a running server",
	Long: `Run a reconciliation sweep on a running picstash server.

A failed metadata commit can leave a finalized blob with no record
pointing at it. The sweep lists every stored blob, subtracts the ones
referenced by a record, and deletes the rest.

Examples:
  picstash gc --url http://localhost:8708
  PICSTASH_SERVER_URL=http://localhost:8708 PICSTASH_ADMIN_TOKEN=... picstash gc`,
	Run: runGC,
}

func init() {
	f := gcCmd.Flags()
	f.StringVar(&serverURL, "url",
		envOrDefault("PICSTASH_SERVER_URL", ""),
		"Server base URL (env: PICSTASH_SERVER_URL)")
	f.StringVar(&adminToken, "admin-token",
		os.Getenv("PICSTASH_ADMIN_TOKEN"),
		"Admin token (env: PICSTASH_ADMIN_TOKEN)")
}

// resolveClient builds an API client from the package-level flag vars.
func resolveClient() *client.Client {
	if serverURL == "" {
		exitError("--url or PICSTASH_SERVER_URL is required")
	}
	return client.New(serverURL, adminToken)
}

func runGC(_ *cobra.Command, _ []string) {
	if adminToken == "" {
		exitError("--admin-token or PICSTASH_ADMIN_TOKEN is required")
	}
	c := resolveClient()

	result, err := c.GC(context.Background())
	if err != nil {
		exitError("%v", err)
	}

	fmt.Printf("Scanned %d blobs, %d referenced.\n", result.BlobsScanned, result.ReferencedBlobs)
	if result.BlobsDeleted == 0 {
		fmt.Println("Nothing to sweep.")
		return
	}

	green := color.New(color.FgGreen)
	green.Printf("Deleted %d orphaned blob(s).\n", result.BlobsDeleted)
}
