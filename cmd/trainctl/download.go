package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var downloadCommand = &cobra.Command{
	Use:   "download",
	Short: "Download the checkpoint archive of a completed job",
	RunE:  runDownload,
}

var (
	downloadJobID  string
	downloadOutput string
)

func init() {
	downloadCommand.Flags().StringVar(&downloadJobID, "job", "", "Job id to download")
	downloadCommand.Flags().StringVarP(&downloadOutput, "output", "o", "", "Output path (defaults to the server-suggested filename)")
	_ = downloadCommand.MarkFlagRequired("job")
	rootCmd.AddCommand(downloadCommand)
}

func runDownload(cmd *cobra.Command, _ []string) error {
	c, err := portalClient()
	if err != nil {
		return err
	}
	body, filename, err := c.Download(cmd.Context(), downloadJobID)
	if err != nil {
		return err
	}
	defer body.Close()

	out := downloadOutput
	if out == "" {
		out = filename
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	defer f.Close()

	n, err := io.Copy(f, body)
	if err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Printf("wrote %s (%d bytes)\n", out, n)
	return nil
}
