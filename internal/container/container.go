package container

import (
	"context"
	"fmt"

	"gofinetune/adapters/command"
	"gofinetune/adapters/excel"
	"gofinetune/adapters/filestore"
	"gofinetune/adapters/postgres"
	"gofinetune/app"
	"gofinetune/internal"
	"gofinetune/internal/config"
	"gofinetune/internal/errors"
	"gofinetune/internal/migration"
	"gofinetune/internal/sampling"
	"gofinetune/ports"

	"github.com/jmoiron/sqlx"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB *sqlx.DB

	// Stores
	Files  *filestore.Store
	Trials *postgres.TrialRepository
	Reader ports.TrialReader

	// Collaborators
	Provider     ports.DatasetProvider
	Collaborator *command.Client
	Reporter     *excel.ReportWriter

	// Orchestration
	Sampler *sampling.FoldSampler
	Runner  *app.TrialRunner
	Series  *app.TrialSeries
}

// New creates a container with the file store, the clip table provider and
// the fold sampler. Database and training components are added by the Init
// methods.
func New(cfg *config.Config, logger *internal.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel))
	}

	c := &Container{
		Config:   cfg,
		Logger:   logger,
		Files:    filestore.NewStore(cfg.Paths.Trials, logger),
		Provider: excel.NewClipTableProvider(cfg.Paths.ClipTables, cfg.Dataset, logger),
		Reporter: excel.NewReportWriter(),
		Sampler:  sampling.NewFoldSampler(logger),
	}
	c.Reader = c.Files
	return c, nil
}

// InitWithDatabase connects the SQL trial store when one is configured and
// brings its schema up to date. Without a database URL it does nothing.
func (c *Container) InitWithDatabase(ctx context.Context) error {
	if !c.Config.Database.Enabled() {
		return nil
	}

	db, err := postgres.Open(ctx, c.Config.Database.Driver, c.Config.Database.URL)
	if err != nil {
		return err
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		db.Close()
		return errors.Wrap(err, "migrate trial database")
	}

	c.DB = db
	c.Trials = postgres.NewTrialRepository(db)
	c.Reader = c.Trials
	c.Logger.Info("trial records mirrored to %s database", c.Config.Database.Driver)
	return nil
}

// InitTraining builds the trial runner and series on the configured
// collaborator program
func (c *Container) InitTraining() error {
	client, err := command.NewClient(c.Config.Collaborator, c.Logger)
	if err != nil {
		return err
	}
	c.Collaborator = client
	c.InitTrainingWith(client, client)
	return nil
}

// InitTrainingWith builds the trial runner and series on the given trainer
// and evaluator
func (c *Container) InitTrainingWith(trainer ports.Trainer, evaluator ports.Evaluator) {
	sinks := c.sinks()
	c.Runner = app.NewTrialRunner(c.Config, c.Provider, trainer, evaluator, sinks, c.Files, c.Logger)
	c.Series = app.NewTrialSeries(c.Config, c.Provider, c.Sampler, c.Runner, sinks, c.Reporter, c.Logger)
}

func (c *Container) sinks() *app.Sinks {
	s := &app.Sinks{
		Records:  []ports.RecordSink{c.Files},
		Outcomes: []ports.OutcomeSink{c.Files},
	}
	if c.Trials != nil {
		s.Records = append(s.Records, c.Trials)
		s.Outcomes = append(s.Outcomes, c.Trials)
	}
	return s
}

// Close releases the database connection and flushes the logger
func (c *Container) Close() error {
	var err error
	if c.DB != nil {
		err = c.DB.Close()
	}
	_ = c.Logger.Sync()
	return err
}
