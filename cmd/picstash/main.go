// Command picstash runs the picstash image service and its companion
// CLI commands.
package main

import (
	"os"

	"github.com/kilupskalvis/picstash/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
