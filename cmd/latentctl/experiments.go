package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/latentd/internal/experiment"
	latenthttp "github.com/fyrsmithlabs/latentd/internal/http"
)

func (c *cli) experimentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "experiments",
		Aliases: []string{"exp"},
		Short:   "Manage experiments",
	}
	cmd.AddCommand(
		c.expListCmd(),
		c.expCreateCmd(),
		c.expOpenCmd(),
		c.expShowCmd(),
		c.expRenameCmd(),
		c.expConfigureCmd(),
		c.expSaveCmd(),
		c.expCloseCmd(),
		c.expDeleteCmd(),
	)
	return cmd
}

func (c *cli) expListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored experiments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			var list []experiment.Summary
			if err := api.Get(ctx, "list experiments", "/api/v1/experiments", nil, &list); err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), list)
			}
			rows := make([][]string, len(list))
			for i, s := range list {
				rows[i] = []string{s.ID, s.Name, s.ModelID, s.LastModified.Local().Format(time.DateTime)}
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "NAME", "MODEL", "LAST MODIFIED"}, rows)
			return nil
		},
	}
}

func (c *cli) expCreateCmd() *cobra.Command {
	var req latenthttp.CreateExperimentRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty experiment",
		Long: `Create an empty experiment bound to an embedding model.

Examples:
  # Create with the backend's default model
  latentctl exp create --name gfp-round-1

  # Pick the model explicitly
  latentctl exp create --name gfp-round-1 --model 5f0c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.postExperiment(cmd, req)
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "experiment name")
	cmd.Flags().StringVar(&req.ModelID, "model", "", "embedding model id")
	return cmd
}

func (c *cli) expOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <snapshot-id>",
		Short: "Load a stored experiment into the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.postExperiment(cmd, latenthttp.CreateExperimentRequest{SnapshotID: args[0]})
		},
	}
}

func (c *cli) postExperiment(cmd *cobra.Command, req latenthttp.CreateExperimentRequest) error {
	api, err := c.client()
	if err != nil {
		return err
	}
	ctx, cancel := c.context(cmd)
	defer cancel()

	var view latenthttp.ExperimentView
	if err := api.Post(ctx, "create experiment", "/api/v1/experiments", req, &view); err != nil {
		return err
	}
	if c.jsonOut {
		return printJSON(cmd.OutOrStdout(), view)
	}
	printExperiment(cmd.OutOrStdout(), view)
	return nil
}

func (c *cli) expShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			var view latenthttp.ExperimentView
			if err := api.Get(ctx, "get experiment", experimentPath(args[0], ""), nil, &view); err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), view)
			}
			printExperiment(cmd.OutOrStdout(), view)
			return nil
		},
	}
}

func (c *cli) expRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename an experiment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[1]
			return c.patchExperiment(cmd, args[0], latenthttp.UpdateExperimentRequest{Name: &name})
		},
	}
}

func (c *cli) expConfigureCmd() *cobra.Command {
	var (
		method string
		target string
		budget int
	)
	cmd := &cobra.Command{
		Use:   "configure <id>",
		Short: "Change the optimisation settings of an experiment",
		Long: `Change the optimisation settings of an experiment. Unset flags keep
their current value.

Examples:
  # Optimise the "brightness" column, three queries per round
  latentctl exp configure 1b2c... --target brightness --budget 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			var view latenthttp.ExperimentView
			if err := api.Get(ctx, "get experiment", experimentPath(args[0], ""), nil, &view); err != nil {
				return err
			}
			opt := view.Optimization
			if cmd.Flags().Changed("method") {
				opt.Method = method
			}
			if cmd.Flags().Changed("target") {
				opt.TargetColumn = target
			}
			if cmd.Flags().Changed("budget") {
				opt.Budget = budget
			}
			return c.patchExperiment(cmd, args[0], latenthttp.UpdateExperimentRequest{Optimization: &opt})
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "acquisition method")
	cmd.Flags().StringVar(&target, "target", "", "target column to maximise")
	cmd.Flags().IntVar(&budget, "budget", 0, "queries proposed per round")
	return cmd
}

func (c *cli) patchExperiment(cmd *cobra.Command, id string, req latenthttp.UpdateExperimentRequest) error {
	api, err := c.client()
	if err != nil {
		return err
	}
	ctx, cancel := c.context(cmd)
	defer cancel()

	var view latenthttp.ExperimentView
	if err := api.Patch(ctx, "update experiment", experimentPath(id, ""), req, &view); err != nil {
		return err
	}
	if c.jsonOut {
		return printJSON(cmd.OutOrStdout(), view)
	}
	printExperiment(cmd.OutOrStdout(), view)
	return nil
}

func (c *cli) expSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <id>",
		Short: "Persist an experiment snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			var sum experiment.Summary
			if err := api.Post(ctx, "save experiment", experimentPath(args[0], "save"), nil, &sum); err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), sum)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s) at %s\n", sum.ID, sum.Name, sum.LastModified.Local().Format(time.DateTime))
			return nil
		},
	}
}

func (c *cli) expCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <id>",
		Short: "Unload an experiment, discarding unsaved changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			if err := api.Post(ctx, "close experiment", experimentPath(args[0], "close"), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Closed %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) expDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an experiment and its snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			if err := api.Delete(ctx, "delete experiment", experimentPath(args[0], ""), nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

// printExperiment writes a short human-readable summary.
func printExperiment(w io.Writer, v latenthttp.ExperimentView) {
	state := "saved"
	if v.Dirty {
		state = "unsaved"
	}
	staged := 0
	for _, row := range v.Table.Rows {
		if row.Staged {
			staged++
		}
	}
	target := v.Optimization.TargetColumn
	if target == "" {
		target = "(none)"
	}

	fmt.Fprintf(w, "ID:       %s\n", v.ID)
	fmt.Fprintf(w, "Name:     %s\n", v.Name)
	fmt.Fprintf(w, "Model:    %s\n", v.ModelID)
	fmt.Fprintf(w, "Version:  %d (%s)\n", v.Version, state)
	fmt.Fprintf(w, "Records:  %d (%d staged)\n", len(v.Table.Rows), staged)
	fmt.Fprintf(w, "Columns:  %d\n", len(v.Table.Columns))
	fmt.Fprintf(w, "Queries:  %d\n", len(v.Pool))
	fmt.Fprintf(w, "Target:   %s\n", target)
	fmt.Fprintf(w, "Method:   %s (budget %s)\n", v.Optimization.Method, strconv.Itoa(v.Optimization.Budget))
}
