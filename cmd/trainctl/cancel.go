package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCommand = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel an in-flight training run",
	RunE:  runCancel,
}

var cancelJobID string

func init() {
	cancelCommand.Flags().StringVar(&cancelJobID, "job", "", "Job id to cancel")
	_ = cancelCommand.MarkFlagRequired("job")
	rootCmd.AddCommand(cancelCommand)
}

func runCancel(cmd *cobra.Command, _ []string) error {
	c, err := portalClient()
	if err != nil {
		return err
	}
	// The cancel endpoint checks the body user id against the session, so
	// resolve our own id first.
	_, userID, err := c.UserStatus(cmd.Context())
	if err != nil {
		return err
	}
	if err := c.Cancel(cmd.Context(), userID, cancelJobID); err != nil {
		return err
	}
	fmt.Printf("cancel requested for job %s\n", cancelJobID)
	return nil
}
