package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"gofinetune/domain/cohort"
	"gofinetune/domain/core"
	"gofinetune/domain/trial"
	"gofinetune/internal"
	"gofinetune/internal/config"
	"gofinetune/internal/errors"
	"gofinetune/internal/sampling"
	"gofinetune/internal/workspace"
	"gofinetune/ports"

	"golang.org/x/sync/errgroup"
)

// CodeVersion is stamped into every series fingerprint
const CodeVersion = "gofinetune/v0.1.0"

// TrialSeries repeats independent trials over the same external cohort.
// Every trial draws its own folds into its own directory.
type TrialSeries struct {
	cfg      *config.Config
	provider ports.DatasetProvider
	sampler  *sampling.FoldSampler
	runner   *TrialRunner
	outcomes ports.OutcomeSink
	reporter ports.SummaryReporter
	logger   *internal.Logger
}

// NewTrialSeries creates a trial series. reporter may be nil.
func NewTrialSeries(
	cfg *config.Config,
	provider ports.DatasetProvider,
	sampler *sampling.FoldSampler,
	runner *TrialRunner,
	outcomes ports.OutcomeSink,
	reporter ports.SummaryReporter,
	logger *internal.Logger,
) *TrialSeries {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &TrialSeries{
		cfg:      cfg,
		provider: provider,
		sampler:  sampler,
		runner:   runner,
		outcomes: outcomes,
		reporter: reporter,
		logger:   logger,
	}
}

// Run executes n trials. Configuration and cohort errors abort before any
// trial starts; a failed trial is recorded and the others still run.
func (s *TrialSeries) Run(ctx context.Context, n int) (*trial.SeriesSummary, error) {
	if n <= 0 {
		return nil, core.NewConfigError("series.num_trials", fmt.Sprintf("must be positive, got %d", n))
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	examples, err := s.provider.Examples(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load external examples")
	}
	c, err := cohort.Build(examples)
	if err != nil {
		return nil, err
	}
	subjects := c.Subjects()
	if err := s.sampler.Check(subjects, s.cfg.FoldSample.NumFolds); err != nil {
		return nil, err
	}

	manifest := &trial.SeriesManifest{
		SeriesID:  core.NewSeriesID(),
		NumTrials: n,
		Lazy:      s.cfg.Finetune.Lazy,
		PinSeed:   s.cfg.FoldSample.PinSeed,
		Subjects:  c.Len(),
		Examples:  len(examples),
		Fingerprint: trial.NewSeriesFingerprint(
			c.Hash(), s.cfg.ParamsHash(), s.cfg.FoldSample.Seed, s.cfg.FoldSample.NumFolds, CodeVersion),
		CreatedAt: core.Now(),
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	if err := s.outcomes.SaveManifest(ctx, manifest); err != nil {
		return nil, errors.Wrap(err, "save series manifest")
	}
	s.logger.Info("series %s: %d trials over %d subjects (%d examples), fingerprint %s",
		manifest.SeriesID, n, c.Len(), len(examples), manifest.Fingerprint.Fingerprint.Short())

	start := time.Now()
	outcomes := make([]*trial.Outcome, n)
	var g errgroup.Group
	g.SetLimit(s.cfg.Series.Parallelism)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			outcomes[i] = s.runTrial(ctx, manifest, subjects, i)
			return nil
		})
	}
	_ = g.Wait()

	summary := trial.Summarize(manifest.SeriesID, outcomes)
	summary.Manifest = manifest
	if err := s.outcomes.SaveSummary(ctx, &summary); err != nil {
		s.logger.Error("save series summary: %v", err)
	}
	if s.reporter != nil && s.cfg.Series.Report {
		path := filepath.Join(s.cfg.Paths.Trials, workspace.ReportFile)
		if err := s.reporter.WriteSummary(path, &summary); err != nil {
			s.logger.Error("write summary report: %v", err)
		}
	}

	s.logger.Info("series %s done in %s: %d passed, %d exhausted, %d failed",
		manifest.SeriesID, time.Since(start).Round(time.Millisecond), summary.Passed, summary.Exhausted, summary.Failed)
	return &summary, nil
}

// runTrial prepares the trial directory and fold file, then runs the trial.
// It always returns an outcome.
func (s *TrialSeries) runTrial(ctx context.Context, manifest *trial.SeriesManifest, subjects []cohort.Subject, index int) *trial.Outcome {
	key := trial.Key{SeriesID: manifest.SeriesID, Index: index}
	seed := manifest.TrialSeed(index)
	dir := filepath.Join(s.cfg.Paths.Trials, workspace.TrialDirName(index))
	foldsPath := filepath.Join(dir, workspace.FoldsDir, workspace.FoldFile)

	var out *trial.Outcome
	if err := s.prepare(ctx, dir, foldsPath, subjects, seed); err != nil {
		out = trial.NewOutcome(index, seed)
		out.FoldsPath = foldsPath
		out.Fail(core.WithTrialContext(err, index, 0))
		s.logger.Error("trial %d not started: %v", index+1, err)
	} else {
		trialCtx := ctx
		if s.cfg.Series.TrialTimeout > 0 {
			var cancel context.CancelFunc
			trialCtx, cancel = context.WithTimeout(ctx, s.cfg.Series.TrialTimeout)
			defer cancel()
		}
		out = s.runner.Run(trialCtx, TrialRequest{Key: key, Seed: seed, Dir: dir, FoldsPath: foldsPath})
	}

	if err := s.outcomes.SaveOutcome(ctx, key, out); err != nil {
		s.logger.Error("save outcome of trial %d: %v", index+1, err)
	}
	return out
}

// prepare gives the trial a clean directory and a freshly drawn fold file
func (s *TrialSeries) prepare(ctx context.Context, dir, foldsPath string, subjects []cohort.Subject, seed int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := workspace.Ensure(dir, s.cfg.Series.Refresh); err != nil {
		return err
	}
	set, err := s.sampler.Sample(subjects, s.cfg.FoldSample.NumFolds, seed)
	if err != nil {
		return err
	}
	return sampling.WriteFoldFile(foldsPath, set.Folds)
}

// DrawFolds samples one fold set from the provider's cohort and writes it
// to path without running a trial
func (s *TrialSeries) DrawFolds(ctx context.Context, path string, seed int64) (*sampling.FoldSet, error) {
	examples, err := s.provider.Examples(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load external examples")
	}
	c, err := cohort.Build(examples)
	if err != nil {
		return nil, err
	}
	set, err := s.sampler.Sample(c.Subjects(), s.cfg.FoldSample.NumFolds, seed)
	if err != nil {
		return nil, err
	}
	if err := sampling.WriteFoldFile(path, set.Folds); err != nil {
		return nil, err
	}
	return set, nil
}
