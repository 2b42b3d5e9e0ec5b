package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gofinetune/app"
	"gofinetune/domain/trial"
	"gofinetune/internal/config"
	"gofinetune/internal/container"
	"gofinetune/internal/workspace"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string
	var c *container.Container

	rootCmd := &cobra.Command{
		Use:   "finetune",
		Short: "Threshold-aware accumulative fine-tuning on an external cohort",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			c, err = container.New(cfg, nil)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c != nil {
				c.Close()
			}
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "finetune.yaml", "Path to the YAML config file")

	get := func() *container.Container { return c }
	rootCmd.AddCommand(
		newSampleCmd(get),
		newSeriesCmd(get),
		newSummaryCmd(get),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSampleCmd(get func() *container.Container) *cobra.Command {
	var seed int64
	var out string

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Draw one stratified fold set and write it to a fold file",
		Long: `Draw one fold set from the configured clip tables without training.

Example: finetune sample --seed 7 --out folds/patient_folds.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := get()
			if !cmd.Flags().Changed("seed") {
				seed = c.Config.FoldSample.Seed
			}
			if out == "" {
				out = filepath.Join(c.Config.Paths.Trials, workspace.FoldsDir, workspace.FoldFile)
			}

			series := app.NewTrialSeries(c.Config, c.Provider, c.Sampler, nil, c.Files, nil, c.Logger)
			set, err := series.DrawFolds(cmd.Context(), out, seed)
			if err != nil {
				return err
			}

			fmt.Printf("%d subjects in %d folds (seed %d) written to %s\n", set.SubjectCount(), len(set.Folds), seed, out)
			for _, st := range set.Stats {
				flag := ""
				if st.Degenerate {
					flag = "  (no positive clips)"
				}
				fmt.Printf("  fold %d: %3d/%-3d subjects, %4d negative / %3d positive clips, ratio %.2f%s\n",
					st.Index+1, st.Subjects.Negative, st.Subjects.Positive, st.Examples.Negative, st.Examples.Positive, st.Ratio, flag)
			}
			fmt.Printf("mean negative:positive ratio %.2f\n", set.MeanRatio)
			return nil
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 0, "Sampling seed (default: fold_sample.seed)")
	cmd.Flags().StringVar(&out, "out", "", "Fold file to write (default: <trials>/folds/patient_folds.txt)")

	return cmd
}

func newSeriesCmd(get func() *container.Container) *cobra.Command {
	var trials int

	cmd := &cobra.Command{
		Use:   "series",
		Short: "Run independent accumulative fine-tuning trials",
		Long: `Run N trials, each with freshly drawn folds, grafting one fold at a time
until the model meets every configured bound or the folds run out.

Example: finetune series --trials 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := get()
			if !cmd.Flags().Changed("trials") {
				trials = c.Config.Series.NumTrials
			}
			if err := c.InitWithDatabase(cmd.Context()); err != nil {
				return err
			}
			if err := c.InitTraining(); err != nil {
				return err
			}

			summary, err := c.Series.Run(cmd.Context(), trials)
			if err != nil {
				return err
			}
			printSummary(summary)
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d trials failed", summary.Failed, summary.Trials)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&trials, "trials", "n", 0, "Number of trials (default: series.num_trials)")

	return cmd
}

func newSummaryCmd(get func() *container.Container) *cobra.Command {
	var asJSON bool
	var xlsx string

	cmd := &cobra.Command{
		Use:   "summary [series-id]",
		Short: "Show the outcome of a stored series",
		Long: `Show a stored series. Without an id the most recent series is shown.

Example: finetune summary --xlsx results/summary.xlsx`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := get()
			if err := c.InitWithDatabase(cmd.Context()); err != nil {
				return err
			}

			id := ""
			if len(args) == 1 {
				id = args[0]
			} else {
				list, err := c.Reader.ListSeries(cmd.Context(), 1)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					return fmt.Errorf("no series stored yet")
				}
				id = list[0].SeriesID.String()
			}

			summary, err := c.Reader.GetSeries(cmd.Context(), id)
			if err != nil {
				return err
			}
			if xlsx != "" {
				if err := c.Reporter.WriteSummary(xlsx, summary); err != nil {
					return err
				}
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			printSummary(summary)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "Also write the summary workbook to this path")

	return cmd
}

func printSummary(s *trial.SeriesSummary) {
	fmt.Printf("series %s: %d trials, %d passed, %d exhausted, %d failed\n",
		s.SeriesID, s.Trials, s.Passed, s.Exhausted, s.Failed)
	for _, o := range s.Outcomes {
		if o == nil {
			continue
		}
		line := fmt.Sprintf("  trial %d (seed %d): %s after %d evaluations", o.Index+1, o.Seed, o.Status, len(o.Records))
		if o.Passed() {
			line += fmt.Sprintf(", passed with %d folds grafted -> %s", o.PassedAt, o.ArtifactRef)
		}
		if o.Error != "" {
			line += ": " + o.Error
		}
		fmt.Println(line)
	}
}
