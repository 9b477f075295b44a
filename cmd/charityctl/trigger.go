package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

func triggerCommand() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Ask a running server to start a background sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			adminSecret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
			if adminSecret == "" {
				return errors.New("missing ADMIN_SECRET environment variable")
			}

			resp, err := resty.New().R().
				SetContext(cmd.Context()).
				SetHeader("X-Admin-Secret", adminSecret).
				Post(strings.TrimRight(baseURL, "/") + "/api/v1/admin/sync")
			if err != nil {
				return fmt.Errorf("error sending request: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Response Status: %s\n%s\n", resp.Status(), resp.String())
			if resp.StatusCode() != http.StatusAccepted {
				return errors.New("sync was not started")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8081", "server base URL")
	return cmd
}
