// Package main implements latentctl, the command-line client for the latentd
// HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/latentd/internal/apiclient"
	"github.com/fyrsmithlabs/latentd/internal/embeddings"
	latenthttp "github.com/fyrsmithlabs/latentd/internal/http"
)

// version information
var version = "dev"

// requestTimeout bounds a single API call. Optimisation and model switches
// re-encode the whole registry, so it is generous.
const requestTimeout = 2 * time.Minute

// cli carries the persistent flags shared by every command.
type cli struct {
	serverURL string
	jsonOut   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "latentctl",
		Short: "CLI for latentd experiments",
		Long: `latentctl is a command-line interface for the latentd HTTP server.
It creates and edits experiments, stages and promotes query candidates,
switches embedding models and runs optimisation rounds.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&c.serverURL, "server", "http://localhost:8088", "latentd server URL")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print raw JSON responses")

	root.AddCommand(
		c.healthCmd(),
		c.modelsCmd(),
		c.experimentsCmd(),
		c.tableCmd(),
		c.columnCmd(),
		c.cellCmd(),
		c.stageCmd(),
		c.queriesCmd(),
		c.promoteCmd(),
		c.recordCmd(),
		c.modelCmd(),
		c.optimizeCmd(),
		c.seedCmd(),
		c.ellipseCmd(),
		c.mixtureCmd(),
		c.watchCmd(),
	)
	return root
}

// client returns an API client for --server.
func (c *cli) client() (*apiclient.Client, error) {
	api, err := apiclient.New(apiclient.Config{
		BaseURL: c.serverURL,
		Timeout: requestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid --server %q: %w", c.serverURL, err)
	}
	return api, nil
}

func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}

// versioned runs a mutation that answers with the new state version.
func (c *cli) versioned(cmd *cobra.Command, what string, call func(*apiclient.Client, *latenthttp.VersionResponse) error) error {
	api, err := c.client()
	if err != nil {
		return err
	}
	var resp latenthttp.VersionResponse
	if err := call(api, &resp); err != nil {
		return err
	}
	if c.jsonOut {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "OK: %s (version %d)\n", what, resp.Version)
	return nil
}

// experimentPath joins an experiment id and a sub-resource.
func experimentPath(id, sub string) string {
	p := "/api/v1/experiments/" + id
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *cli) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check latentd server health",
		Long: `Check the health status of the latentd HTTP server.

Examples:
  # Check health
  latentctl health

  # Check health on a different server
  latentctl health --server http://localhost:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			var resp latenthttp.HealthResponse
			if err := api.Get(ctx, "health", "/health", nil, &resp); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server: %s\nStatus: %s\n", c.serverURL, resp.Status)
			return nil
		},
	}
}

func (c *cli) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the embedding models offered by the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			var models []embeddings.Model
			if err := api.Get(ctx, "list models", "/api/v1/models", nil, &models); err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), models)
			}
			rows := make([][]string, len(models))
			for i, m := range models {
				rows[i] = []string{m.UUID, m.Name}
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "NAME"}, rows)
			return nil
		},
	}
}
