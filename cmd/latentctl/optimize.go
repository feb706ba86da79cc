package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	latenthttp "github.com/fyrsmithlabs/latentd/internal/http"
)

func (c *cli) modelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "model <id> <model-id>",
		Short: "Switch the embedding model and re-encode the experiment",
		Long: `Switch the embedding model of an experiment. Every record is re-encoded
and every query candidate re-embedded under the new model.

A switch that was overtaken by a newer one is reported as not committed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			var resp latenthttp.ModelResponse
			req := latenthttp.ModelRequest{ModelID: args[1]}
			if err := api.Put(ctx, "switch model", experimentPath(args[0], "model"), req, &resp); err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			if !resp.Committed {
				fmt.Fprintf(cmd.OutOrStdout(), "Switch to %s was superseded; experiment uses %s (version %d)\n",
					args[1], resp.ModelID, resp.Version)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to %s (version %d)\n", resp.ModelID, resp.Version)
			return nil
		},
	}
}

func (c *cli) optimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize <id>",
		Short: "Run one optimisation round and append its proposals to the query pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			var resp latenthttp.QueriesResponse
			if err := api.Post(ctx, "optimize", experimentPath(args[0], "optimize"), nil, &resp); err != nil {
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

func (c *cli) seedCmd() *cobra.Command {
	var components int
	cmd := &cobra.Command{
		Use:   "seed <id> <job-id>",
		Short: "Replace the registry with sequences sampled from a mixture model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			var resp latenthttp.SeedResponse
			req := latenthttp.SeedRequest{JobID: args[1], NComponents: components}
			if err := api.Post(ctx, "seed", experimentPath(args[0], "seed"), req, &resp); err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded from %s: %d components under %s (version %d)\n",
				resp.JobID, resp.Components, resp.ModelID, resp.Version)
			return nil
		},
	}
	cmd.Flags().IntVar(&components, "components", 0, "number of mixture components, 0 for the job default")
	return cmd
}

func (c *cli) ellipseCmd() *cobra.Command {
	var (
		mean  []float64
		cov   []float64
		step  float64
		scale float64
		open  bool
	)
	cmd := &cobra.Command{
		Use:   "ellipse",
		Short: "Sample the contour of a 2-D Gaussian",
		Long: `Sample the contour of a 2-D Gaussian given its mean and covariance.

Examples:
  latentctl ellipse --mean 0,0 --cov 4,0,0,1
  latentctl ellipse --mean 1,2 --cov 2,0.5,0.5,1 --scale 5.991 --step 0.05`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(mean) != 2 {
				return fmt.Errorf("--mean needs 2 values, got %d", len(mean))
			}
			if len(cov) != 4 {
				return fmt.Errorf("--cov needs 4 values, got %d", len(cov))
			}
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			closed := !open
			req := latenthttp.EllipseRequest{
				Mean:       [2]float64{mean[0], mean[1]},
				Covariance: [2][2]float64{{cov[0], cov[1]}, {cov[2], cov[3]}},
				Step:       step,
				Scale:      scale,
				Closed:     &closed,
			}
			var resp latenthttp.ContourView
			if err := api.Post(ctx, "ellipse", "/api/v1/ellipse", req, &resp); err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printContours(cmd, []latenthttp.ContourView{resp})
			return nil
		},
	}
	cmd.Flags().Float64SliceVar(&mean, "mean", nil, "mean as x,y")
	cmd.Flags().Float64SliceVar(&cov, "cov", nil, "covariance as a,b,c,d (row major)")
	cmd.Flags().Float64Var(&step, "step", 0, "angular step in radians")
	cmd.Flags().Float64Var(&scale, "scale", 0, "covariance scale, e.g. a chi-square quantile")
	cmd.Flags().BoolVar(&open, "open", false, "do not repeat the first point at the end")
	return cmd
}

func (c *cli) mixtureCmd() *cobra.Command {
	var (
		components int
		step       float64
	)
	cmd := &cobra.Command{
		Use:   "mixture <job-id>",
		Short: "Show the component contours of a fitted mixture model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			query := url.Values{}
			if components > 0 {
				query.Set("n_components", strconv.Itoa(components))
			}
			if step > 0 {
				query.Set("step", formatFloat(step))
			}
			var resp latenthttp.ContoursResponse
			path := "/api/v1/mixtures/" + url.PathEscape(args[0]) + "/contours"
			if err := api.Get(ctx, "mixture contours", path, query, &resp); err != nil {
				return err
			}
			if c.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Mixture %s (model %s)\n", resp.JobID, resp.ModelID)
			printContours(cmd, resp.Contours)
			return nil
		},
	}
	cmd.Flags().IntVar(&components, "components", 0, "number of components, 0 for the job default")
	cmd.Flags().Float64Var(&step, "step", 0, "angular step in radians")
	return cmd
}

func printContours(cmd *cobra.Command, contours []latenthttp.ContourView) {
	rows := make([][]string, len(contours))
	for i, cv := range contours {
		rows[i] = []string{
			strconv.Itoa(i),
			formatFloat(cv.Weight),
			formatFloat(cv.Width),
			formatFloat(cv.Height),
			formatFloat(cv.Theta),
			strconv.Itoa(len(cv.X)),
		}
	}
	printTable(cmd.OutOrStdout(), []string{"#", "WEIGHT", "WIDTH", "HEIGHT", "THETA", "POINTS"}, rows)
}
