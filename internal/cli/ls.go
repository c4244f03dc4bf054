package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var lsOneline bool

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List images on a running server",
	Long:  `List all images stored on a picstash server, newest first.`,
	Run:   runLs,
}

func init() {
	lsCmd.Flags().BoolVar(&lsOneline, "oneline", false, "Show each image on a single line")
	f := lsCmd.Flags()
	f.StringVar(&serverURL, "url",
		envOrDefault("PICSTASH_SERVER_URL", ""),
		"Server base URL (env: PICSTASH_SERVER_URL)")
}

func runLs(_ *cobra.Command, _ []string) {
	c := resolveClient()

	images, err := c.ListImages(context.Background())
	if err != nil {
		exitError("%v", err)
	}

	if len(images) == 0 {
		fmt.Println("No images yet")
		return
	}

	yellow := color.New(color.FgYellow)

	for _, img := range images {
		if lsOneline {
			yellow.Printf("%s ", img.ID)
			fmt.Printf("%s  %s\n", img.Filename, img.Caption)
			continue
		}

		yellow.Printf("image %s\n", img.ID)
		fmt.Printf("File:     %s (%s)\n", img.Filename, img.ContentType)
		fmt.Printf("Uploaded: %s\n", img.UploadedAt.Format("Mon Jan 2 15:04:05 2006"))
		if img.Caption != "" {
			fmt.Printf("\n    %s\n", img.Caption)
		}
		if len(img.Tags) > 0 {
			fmt.Printf("    [%s]\n", strings.Join(img.Tags, ", "))
		}
		fmt.Println()
	}
}
