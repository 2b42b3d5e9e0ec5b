package main

import (
	"context"
	"fmt"
	"os"

	"gofinetune/app"
	"gofinetune/internal/config"
	"gofinetune/internal/container"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string
	var importFiles bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the trial database schema",
		Long: `Create or update the trial database schema. With --import the series
currently stored under the trials directory is copied into the database.

Example: DATABASE_URL=postgres://localhost/finetune migrate --import`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.Database.Enabled() {
				return fmt.Errorf("database.url (or DATABASE_URL) must be set")
			}
			c, err := container.New(cfg, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := cmd.Context()
			if err := c.InitWithDatabase(ctx); err != nil {
				return err
			}
			c.Logger.Info("schema up to date on %s", cfg.Database.Driver)

			if importFiles {
				return importSeries(ctx, c)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "finetune.yaml", "Path to the YAML config file")
	cmd.Flags().BoolVar(&importFiles, "import", false, "Import the series stored under paths.trials")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func importSeries(ctx context.Context, c *container.Container) error {
	list, err := c.Files.ListSeries(ctx, 1)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		c.Logger.Warn("no series under %s", c.Config.Paths.Trials)
		return nil
	}

	summary, err := c.Files.GetSeries(ctx, list[0].SeriesID.String())
	if err != nil {
		return err
	}
	if err := app.Replay(ctx, summary, c.Trials, c.Trials); err != nil {
		return err
	}
	c.Logger.Info("imported series %s with %d trials", summary.SeriesID, len(summary.Outcomes))
	return nil
}
