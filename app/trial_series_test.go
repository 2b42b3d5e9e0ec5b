package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gofinetune/adapters/filestore"
	"gofinetune/domain/cohort"
	"gofinetune/domain/core"
	"gofinetune/domain/trial"
	"gofinetune/internal/config"
	"gofinetune/internal/sampling"
	"gofinetune/internal/testkit"
	"gofinetune/internal/workspace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seriesFixture struct {
	cfg       *config.Config
	provider  *testkit.MemoryProvider
	trainer   *testkit.ScriptedTrainer
	evaluator *testkit.ScriptedEvaluator
	store     *testkit.MemoryStore
}

func newSeriesFixture(t *testing.T, examples []cohort.Example) *seriesFixture {
	t.Helper()
	if examples == nil {
		examples = testkit.NewCohortGenerator(testkit.DefaultCohortConfig()).Generate()
	}
	return &seriesFixture{
		cfg:       testConfig(t),
		provider:  testkit.NewMemoryProvider(examples),
		trainer:   &testkit.ScriptedTrainer{},
		evaluator: &testkit.ScriptedEvaluator{},
		store:     testkit.NewMemoryStore(),
	}
}

func (f *seriesFixture) series() *TrialSeries {
	runner := NewTrialRunner(f.cfg, f.provider, f.trainer, f.evaluator, f.store, f.store, nil)
	return NewTrialSeries(f.cfg, f.provider, sampling.NewFoldSampler(nil), runner, f.store, nil, nil)
}

func (f *seriesFixture) foldFile(t *testing.T, index int) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.cfg.Paths.Trials, workspace.TrialDirName(index), workspace.FoldsDir, workspace.FoldFile))
	require.NoError(t, err)
	return string(data)
}

func TestTrialSeries_IndependentTrials(t *testing.T) {
	f := newSeriesFixture(t, nil)

	summary, err := f.series().Run(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Trials)
	assert.Equal(t, 3, summary.Exhausted)
	require.Len(t, summary.Outcomes, 3)

	for i, out := range summary.Outcomes {
		assert.Equal(t, i, out.Index)
		assert.Equal(t, f.cfg.FoldSample.Seed+int64(i), out.Seed)
		assert.Len(t, out.Records, 5)
		assert.Same(t, out, f.store.Outcome(trial.Key{SeriesID: summary.SeriesID, Index: i}))
	}

	a, b, c := f.foldFile(t, 0), f.foldFile(t, 1), f.foldFile(t, 2)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, b, c)

	require.Len(t, f.store.Manifests(), 1)
	manifest := f.store.Manifests()[0]
	assert.Equal(t, summary.SeriesID, manifest.SeriesID)
	assert.Equal(t, 100, manifest.Subjects)
	assert.False(t, manifest.Fingerprint.Fingerprint.IsEmpty())
	require.Len(t, f.store.Summaries(), 1)
}

func TestTrialSeries_PinnedSeedRepeatsFolds(t *testing.T) {
	f := newSeriesFixture(t, nil)
	f.cfg.FoldSample.PinSeed = true

	_, err := f.series().Run(context.Background(), 3)
	require.NoError(t, err)

	a := f.foldFile(t, 0)
	assert.Equal(t, a, f.foldFile(t, 1))
	assert.Equal(t, a, f.foldFile(t, 2))
}

func TestTrialSeries_ContinuesAfterFailedTrial(t *testing.T) {
	f := newSeriesFixture(t, nil)
	f.trainer.FailOn = 1

	summary, err := f.series().Run(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Exhausted)
	assert.Equal(t, trial.StatusFailed, summary.Outcomes[0].Status)
	assert.True(t, core.IsTrainingError(summary.Outcomes[0].Err()))
	assert.Len(t, summary.Outcomes[0].Records, 1)
}

func TestTrialSeries_ParallelTrials(t *testing.T) {
	f := newSeriesFixture(t, nil)
	f.cfg.Series.Parallelism = 3
	f.evaluator.PassFrom = 1

	summary, err := f.series().Run(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Passed)
	for i := 0; i < 6; i++ {
		assert.DirExists(t, filepath.Join(f.cfg.Paths.Trials, workspace.TrialDirName(i)))
	}
	assert.Len(t, f.store.KeptArtifacts(), 6)
}

func TestTrialSeries_RefreshPurgesStaleFiles(t *testing.T) {
	f := newSeriesFixture(t, nil)
	stale := filepath.Join(f.cfg.Paths.Trials, workspace.TrialDirName(0), "stale.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	_, err := f.series().Run(context.Background(), 1)
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
}

func TestTrialSeries_WithoutRefreshRecordsStayPerSeries(t *testing.T) {
	f := newSeriesFixture(t, nil)
	f.cfg.Series.Refresh = false
	files := filestore.NewStore(f.cfg.Paths.Trials, nil)
	ctx := context.Background()

	run := func(evaluator *testkit.ScriptedEvaluator) *trial.SeriesSummary {
		runner := NewTrialRunner(f.cfg, f.provider, f.trainer, evaluator, files, files, nil)
		summary, err := NewTrialSeries(f.cfg, f.provider, sampling.NewFoldSampler(nil), runner, files, nil, nil).Run(ctx, 1)
		require.NoError(t, err)
		return summary
	}

	first := run(&testkit.ScriptedEvaluator{PassFrom: 1})
	require.Equal(t, 1, first.Passed)
	trialDir := filepath.Join(f.cfg.Paths.Trials, workspace.TrialDirName(0))
	require.FileExists(t, filepath.Join(trialDir, workspace.ModelsDir, workspace.PassedFile))

	second := run(&testkit.ScriptedEvaluator{})
	require.Equal(t, 1, second.Exhausted)
	require.NotEqual(t, first.SeriesID, second.SeriesID)

	records, err := files.GetRecords(ctx, trial.Key{SeriesID: second.SeriesID, Index: 0})
	require.NoError(t, err)
	assert.Len(t, records, len(second.Outcomes[0].Records))
	assert.Len(t, records, f.cfg.FoldSample.NumFolds)
	assert.NoFileExists(t, filepath.Join(trialDir, workspace.ModelsDir, workspace.PassedFile))
	assert.NoFileExists(t, filepath.Join(trialDir, workspace.FoldsDir, workspace.FoldsUsed))
}

func TestTrialSeries_ConfigErrorAbortsBeforeAnyTrial(t *testing.T) {
	small := testkit.NewCohortGenerator(testkit.CohortGeneratorConfig{Negatives: 3, Positives: 2, Seed: 1}).Generate()
	f := newSeriesFixture(t, small)

	_, err := f.series().Run(context.Background(), 2)
	require.Error(t, err)
	assert.True(t, core.IsConfigError(err))
	assert.Empty(t, f.store.Manifests())
	assert.NoDirExists(t, filepath.Join(f.cfg.Paths.Trials, workspace.TrialDirName(0)))
}

func TestTrialSeries_EmptyClassAborts(t *testing.T) {
	negOnly := testkit.NewCohortGenerator(testkit.CohortGeneratorConfig{Negatives: 10, Seed: 1}).Generate()
	f := newSeriesFixture(t, negOnly)

	_, err := f.series().Run(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, core.IsDataIntegrityError(err))
}

func TestTrialSeries_MixedLabelSubjectAborts(t *testing.T) {
	examples := testkit.NewCohortGenerator(testkit.DefaultCohortConfig()).Generate()
	bad := examples[0]
	bad.ID = "conflicting-clip"
	bad.Label = 1 - bad.Label
	f := newSeriesFixture(t, append(examples, bad))

	_, err := f.series().Run(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, core.IsDataIntegrityError(err))
}

func TestTrialSeries_RejectsZeroTrials(t *testing.T) {
	f := newSeriesFixture(t, nil)
	_, err := f.series().Run(context.Background(), 0)
	assert.True(t, core.IsConfigError(err))
}

func TestTrialSeries_DrawFolds(t *testing.T) {
	f := newSeriesFixture(t, nil)
	path := filepath.Join(t.TempDir(), "folds.txt")

	set, err := f.series().DrawFolds(context.Background(), path, 11)
	require.NoError(t, err)
	assert.Equal(t, 100, set.SubjectCount())

	folds, err := sampling.ReadFoldFile(path)
	require.NoError(t, err)
	assert.Equal(t, set.Folds, folds)
}
