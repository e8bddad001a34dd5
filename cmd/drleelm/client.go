package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drleelm/drleelm/internal/client"
	"github.com/drleelm/drleelm/internal/config"
)

// newAPIClient resolves the server address from --server, then the
// configured backend URL.
var newAPIClient = func(cmd *cobra.Command) (*client.Client, error) {
	if s, _ := cmd.Flags().GetString("server"); s != "" {
		return client.New(s), nil
	}
	cfg, _, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return client.New(serverURL(cfg)), nil
}

func serverURL(cfg config.Config) string {
	if u := strings.TrimSpace(cfg.Server.BaseURL); u != "" {
		return strings.TrimRight(u, "/")
	}
	return fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
}
