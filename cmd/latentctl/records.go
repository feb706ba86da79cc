package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/latentd/internal/apiclient"
	latenthttp "github.com/fyrsmithlabs/latentd/internal/http"
	"github.com/fyrsmithlabs/latentd/internal/latent"
	"github.com/fyrsmithlabs/latentd/internal/registry"
)

func (c *cli) tableCmd() *cobra.Command {
	var load string
	cmd := &cobra.Command{
		Use:   "table <id>",
		Short: "Show the sequence registry or load rows into it",
		Long: `Show the sequence registry of an experiment as a table, or append the
rows of a CSV file.

Examples:
  # Print the registry
  latentctl table 1b2c...

  # Append rows from a CSV export
  latentctl table 1b2c... --load round1.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			if load != "" {
				t, err := readTableFile(load)
				if err != nil {
					return err
				}
				var resp latenthttp.LoadTableResponse
				if err := api.Post(ctx, "load table", experimentPath(args[0], "table"), t, &resp); err != nil {
					return err
				}
				if c.jsonOut {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d rows (version %d)\n", len(resp.Indices), resp.Version)
				return nil
			}

			var t registry.Table
			if err := api.Get(ctx, "get table", experimentPath(args[0], "table"), nil, &t); err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), t)
			}
			printRegistry(cmd.OutOrStdout(), t)
			return nil
		},
	}
	cmd.Flags().StringVar(&load, "load", "", "CSV file to append")
	return cmd
}

func readTableFile(path string) (registry.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return registry.Table{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	t, err := registry.ParseCSV(f)
	if err != nil {
		return registry.Table{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return t, nil
}

func printRegistry(w io.Writer, t registry.Table) {
	headers := append([]string{"INDEX", "SEQ ID", "SEQUENCE", "X", "Y", "STAGED"}, t.Columns...)
	rows := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		row := []string{strconv.Itoa(r.Index), r.ID, r.Sequence, formatFloat(r.X), formatFloat(r.Y), formatBool(r.Staged)}
		for _, v := range r.Values {
			row = append(row, formatCell(v))
		}
		rows[i] = row
	}
	printTable(w, headers, rows)
}

func (c *cli) columnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "column",
		Short: "Add or remove value columns",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <id> <name>",
			Short: "Add an empty value column",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.versioned(cmd, "add column", func(api *apiclient.Client, out *latenthttp.VersionResponse) error {
					return api.Post(cmd.Context(), "add column", experimentPath(args[0], "columns"),
						latenthttp.ColumnRequest{Name: args[1]}, out)
				})
			},
		},
		&cobra.Command{
			Use:     "remove <id> <name>",
			Aliases: []string{"rm"},
			Short:   "Remove a value column",
			Args:    cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.versioned(cmd, "remove column", func(api *apiclient.Client, out *latenthttp.VersionResponse) error {
					return api.Delete(cmd.Context(), "remove column", experimentPath(args[0], "columns/"+args[1]), out)
				})
			},
		},
	)
	return cmd
}

func (c *cli) cellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cell <id> <index> <column> [value]",
		Short: "Set or clear one measured value",
		Long: `Set the value of a registry cell. Without a value the cell is cleared.

Examples:
  latentctl cell 1b2c... 4 brightness 0.82
  latentctl cell 1b2c... 4 brightness`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			req := latenthttp.CellRequest{Index: &index, Column: args[2]}
			if len(args) == 4 {
				v, err := strconv.ParseFloat(args[3], 64)
				if err != nil {
					return fmt.Errorf("invalid value %q: %w", args[3], err)
				}
				req.Value = &v
			}
			return c.versioned(cmd, "set cell", func(api *apiclient.Client, out *latenthttp.VersionResponse) error {
				return api.Put(cmd.Context(), "set cell", experimentPath(args[0], "cells"), req, out)
			})
		},
	}
}

func (c *cli) stageCmd() *cobra.Command {
	var unstage bool
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Stage records or query candidates for the next view",
	}
	cmd.PersistentFlags().BoolVar(&unstage, "unstage", false, "clear the staged flag instead")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "records <id>",
			Short: "Stage every record",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				staged := !unstage
				return c.versioned(cmd, "stage records", func(api *apiclient.Client, out *latenthttp.VersionResponse) error {
					return api.Post(cmd.Context(), "stage records", experimentPath(args[0], "records/stage"),
						latenthttp.StageRequest{Staged: &staged}, out)
				})
			},
		},
		&cobra.Command{
			Use:   "queries <id> [position...]",
			Short: "Stage query candidates, all of them when no positions are given",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				positions, err := parseIndices(args[1:])
				if err != nil {
					return err
				}
				staged := !unstage
				return c.versioned(cmd, "stage queries", func(api *apiclient.Client, out *latenthttp.VersionResponse) error {
					return api.Post(cmd.Context(), "stage queries", experimentPath(args[0], "queries/stage"),
						latenthttp.StageRequest{Staged: &staged, Positions: positions}, out)
				})
			},
		},
	)
	return cmd
}

func (c *cli) queriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queries <id>",
		Short: "List the query pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			var resp latenthttp.QueriesResponse
			if err := api.Get(ctx, "list queries", experimentPath(args[0], "queries"), nil, &resp); err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printQueries(cmd.OutOrStdout(), resp.Queries)
			return nil
		},
	}
}

func printQueries(w io.Writer, pool []latent.QueryCandidate) {
	rows := make([][]string, len(pool))
	for i, q := range pool {
		rows[i] = []string{strconv.Itoa(i), q.Sequence, formatFloat(q.X), formatFloat(q.Y), formatBool(q.Staged)}
	}
	printTable(w, []string{"POS", "SEQUENCE", "X", "Y", "STAGED"}, rows)
}

func (c *cli) promoteCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "promote <id> [position...]",
		Short: "Move query candidates into the registry",
		Long: `Move query candidates into the registry. Without positions the staged
candidates are promoted; --all promotes the whole pool.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			positions, err := parseIndices(args[1:])
			if err != nil {
				return err
			}
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			var resp latenthttp.PromoteResponse
			req := latenthttp.PromoteRequest{Positions: positions, All: all}
			if err := api.Post(ctx, "promote queries", experimentPath(args[0], "promote"), req, &resp); err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Promoted %d candidates (version %d)\n", len(resp.Records), resp.Version)
			for _, r := range resp.Records {
				fmt.Fprintf(cmd.OutOrStdout(), "  %d\t%s\t%s\n", r.Index, r.ID, r.Sequence)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "promote every candidate")
	return cmd
}

func (c *cli) recordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Edit a single registry record",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "rename <id> <index> <seq-id>",
			Short: "Change the sequence id of a record",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.updateRecord(cmd, args[0], args[1], latenthttp.RecordUpdateRequest{ID: &args[2]})
			},
		},
		&cobra.Command{
			Use:   "stage <id> <index>",
			Short: "Toggle the staged flag of a record",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				unstage, _ := cmd.Flags().GetBool("unstage")
				staged := !unstage
				return c.updateRecord(cmd, args[0], args[1], latenthttp.RecordUpdateRequest{Staged: &staged})
			},
		},
		&cobra.Command{
			Use:   "move <id> <index> <x> <y>",
			Short: "Place a record at new coordinates and re-decode its sequence",
			Args:  cobra.ExactArgs(4),
			RunE: func(cmd *cobra.Command, args []string) error {
				index, err := parseIndex(args[1])
				if err != nil {
					return err
				}
				x, err := strconv.ParseFloat(args[2], 64)
				if err != nil {
					return fmt.Errorf("invalid x %q: %w", args[2], err)
				}
				y, err := strconv.ParseFloat(args[3], 64)
				if err != nil {
					return fmt.Errorf("invalid y %q: %w", args[3], err)
				}
				path := experimentPath(args[0], "records/"+strconv.Itoa(index)+"/coordinates")
				return c.recordCall(cmd, func(api *apiclient.Client, out *latenthttp.RecordResponse) error {
					return api.Put(cmd.Context(), "edit coordinates", path, latenthttp.CoordinatesRequest{X: &x, Y: &y}, out)
				})
			},
		},
		&cobra.Command{
			Use:     "remove <id> <index>",
			Aliases: []string{"rm"},
			Short:   "Remove a record",
			Args:    cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				index, err := parseIndex(args[1])
				if err != nil {
					return err
				}
				return c.versioned(cmd, "remove record", func(api *apiclient.Client, out *latenthttp.VersionResponse) error {
					return api.Delete(cmd.Context(), "remove record", experimentPath(args[0], "records/"+strconv.Itoa(index)), out)
				})
			},
		},
	)
	cmd.PersistentFlags().Bool("unstage", false, "clear the staged flag instead")
	return cmd
}

func (c *cli) updateRecord(cmd *cobra.Command, id, rawIndex string, req latenthttp.RecordUpdateRequest) error {
	index, err := parseIndex(rawIndex)
	if err != nil {
		return err
	}
	path := experimentPath(id, "records/"+strconv.Itoa(index))
	return c.recordCall(cmd, func(api *apiclient.Client, out *latenthttp.RecordResponse) error {
		return api.Patch(cmd.Context(), "update record", path, req, out)
	})
}

func (c *cli) recordCall(cmd *cobra.Command, call func(*apiclient.Client, *latenthttp.RecordResponse) error) error {
	api, err := c.client()
	if err != nil {
		return err
	}
	var resp latenthttp.RecordResponse
	if err := call(api, &resp); err != nil {
		return err
	}
	if c.jsonOut {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	r := resp.Record
	fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t(%s, %s)\n", r.Index, r.ID, r.Sequence, formatFloat(r.X), formatFloat(r.Y))
	return nil
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return i, nil
}

func parseIndices(args []string) ([]int, error) {
	out := make([]int, 0, len(args))
	for _, a := range args {
		i, err := parseIndex(a)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}
