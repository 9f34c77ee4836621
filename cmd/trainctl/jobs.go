package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var jobsCommand = &cobra.Command{
	Use:   "jobs",
	Short: "List completed training jobs",
	RunE:  runJobs,
}

var statusCommand = &cobra.Command{
	Use:   "status",
	Short: "Show the account's approval status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(jobsCommand)
	rootCmd.AddCommand(statusCommand)
}

func runJobs(cmd *cobra.Command, _ []string) error {
	c, err := portalClient()
	if err != nil {
		return err
	}
	jobs, err := c.Jobs(cmd.Context())
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("no completed jobs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATUS\tCOMPLETED\tCHECKPOINT")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			j.JobID, j.Status, j.UpdatedAt.Format("2006-01-02 15:04"), j.ArtifactKey)
	}
	return w.Flush()
}

func runStatus(cmd *cobra.Command, _ []string) error {
	c, err := portalClient()
	if err != nil {
		return err
	}
	approved, userID, err := c.UserStatus(cmd.Context())
	if err != nil {
		return err
	}
	if approved {
		fmt.Printf("user %s is approved to train\n", userID)
	} else {
		fmt.Printf("user %s is waiting for admin approval\n", userID)
	}
	return nil
}
