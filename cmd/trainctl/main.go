// Package main provides trainctl, a command line client for the fine-tuning
// portal: submit training runs, follow their logs, cancel them, and fetch
// finished checkpoints.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"finetune-portal/internal/client"
)

var rootCmd = &cobra.Command{
	Use:   "trainctl",
	Short: "Client for the fine-tuning portal",
	Long:  "trainctl submits LoRA and full fine-tuning runs to the portal, streams their training logs, and manages completed checkpoints.",
}

var (
	serverURL    string
	sessionToken string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Portal base URL (defaults to PORTAL_URL env var)")
	rootCmd.PersistentFlags().StringVar(&sessionToken, "token", "", "Session token (defaults to PORTAL_TOKEN env var)")
}

// portalClient resolves the connection flags, falling back to the
// environment, and returns a ready client.
func portalClient() (*client.Client, error) {
	server := serverURL
	if server == "" {
		server = os.Getenv("PORTAL_URL")
	}
	token := sessionToken
	if token == "" {
		token = os.Getenv("PORTAL_TOKEN")
	}
	if server == "" {
		return nil, fmt.Errorf("no portal address: pass --server or set PORTAL_URL")
	}
	if token == "" {
		return nil, fmt.Errorf("no session token: pass --token or set PORTAL_TOKEN")
	}
	return client.New(server, token), nil
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
