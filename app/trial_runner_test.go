package app

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gofinetune/adapters/filestore"
	"gofinetune/domain/cohort"
	"gofinetune/domain/core"
	"gofinetune/domain/trial"
	"gofinetune/internal/config"
	"gofinetune/internal/ledger"
	"gofinetune/internal/sampling"
	"gofinetune/internal/testkit"
	"gofinetune/internal/workspace"
	"gofinetune/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Trials = t.TempDir()
	cfg.Paths.ClipTables = []string{"synthetic.csv"}
	cfg.Finetune.BaseModel = "models/base.pt"
	cfg.Finetune.LowerBounds = map[string]float64{"sensitivity": 0.9}
	require.NoError(t, cfg.Validate())
	return cfg
}

type runnerFixture struct {
	cfg       *config.Config
	examples  []cohort.Example
	folds     []cohort.Fold
	provider  *testkit.MemoryProvider
	trainer   *testkit.ScriptedTrainer
	evaluator *testkit.ScriptedEvaluator
	store     *testkit.MemoryStore
	req       TrialRequest
}

// newRunnerFixture samples the 80/20 synthetic cohort into k=5 folds and
// writes the fold file of trial 0
func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	cfg := testConfig(t)
	examples := testkit.NewCohortGenerator(testkit.DefaultCohortConfig()).Generate()
	c, err := cohort.Build(examples)
	require.NoError(t, err)

	set, err := sampling.NewFoldSampler(nil).Sample(c.Subjects(), cfg.FoldSample.NumFolds, 7)
	require.NoError(t, err)

	dir := filepath.Join(cfg.Paths.Trials, workspace.TrialDirName(0))
	foldsPath := filepath.Join(dir, workspace.FoldsDir, workspace.FoldFile)
	require.NoError(t, sampling.WriteFoldFile(foldsPath, set.Folds))

	return &runnerFixture{
		cfg:       cfg,
		examples:  examples,
		folds:     set.Folds,
		provider:  testkit.NewMemoryProvider(examples),
		trainer:   &testkit.ScriptedTrainer{},
		evaluator: &testkit.ScriptedEvaluator{},
		store:     testkit.NewMemoryStore(),
		req: TrialRequest{
			Key:       trial.Key{SeriesID: "series-test", Index: 0},
			Seed:      7,
			Dir:       dir,
			FoldsPath: foldsPath,
		},
	}
}

func (f *runnerFixture) runner() *TrialRunner {
	return NewTrialRunner(f.cfg, f.provider, f.trainer, f.evaluator, f.store, f.store, nil)
}

func (f *runnerFixture) run() *trial.Outcome {
	return f.runner().Run(context.Background(), f.req)
}

func (f *runnerFixture) foldExampleCount(i int) int {
	n := 0
	for _, ex := range f.examples {
		if f.folds[i].Contains(ex.SubjectID) {
			n++
		}
	}
	return n
}

func TestTrialRunner_NeverPassesExhaustsAllFolds(t *testing.T) {
	f := newRunnerFixture(t)

	out := f.run()
	require.NoError(t, out.Err())
	assert.Equal(t, trial.StatusExhausted, out.Status)
	assert.False(t, out.Passed())
	assert.Empty(t, out.ArtifactRef)

	require.Len(t, out.Records, 5)
	for i, rec := range out.Records {
		assert.Equal(t, i, rec.Increment)
		assert.Equal(t, i, rec.FoldsGrafted)
		assert.False(t, rec.Passed)
		assert.False(t, rec.Stopped)
		assert.Equal(t, len(f.examples), rec.TestSize+rec.TrainSize)
		assert.Contains(t, rec.Metrics, "sensitivity")
		assert.Contains(t, rec.Metrics, "specificity")
	}
	assert.Nil(t, out.Records[0].Training)
	assert.NotNil(t, out.Records[1].Training)

	// test pool shrinks by exactly the grafted fold each increment
	for i := 1; i < len(out.Records); i++ {
		assert.Equal(t, out.Records[i-1].TestSize-f.foldExampleCount(i-1), out.Records[i].TestSize)
		assert.Equal(t, out.Records[i-1].TrainSize+f.foldExampleCount(i-1), out.Records[i].TrainSize)
	}

	// every fold is grafted and trained on, the last one with the full pool
	reqs := f.trainer.Requests()
	require.Len(t, reqs, 5)
	last := reqs[len(reqs)-1]
	assert.Equal(t, len(f.examples), len(last.Train)+len(last.Validation))
	assert.Equal(t, 5, f.evaluator.Calls())

	assert.Equal(t, out.Records, f.store.Records(f.req.Key))
}

func TestTrialRunner_LazyPassOnThirdEvaluation(t *testing.T) {
	f := newRunnerFixture(t)
	f.evaluator.PassFrom = 3

	out := f.run()
	require.NoError(t, out.Err())
	assert.Equal(t, trial.StatusPassed, out.Status)
	require.Len(t, out.Records, 3)
	assert.Equal(t, 2, out.PassedAt)
	assert.True(t, out.Records[2].Passed)
	assert.True(t, out.Records[2].Stopped)
	assert.Len(t, f.trainer.Requests(), 2)

	kept := f.store.KeptArtifacts()
	require.Len(t, kept, 1)
	assert.Equal(t, "model-2", kept[0].Artifact.ID)
	assert.Equal(t, f.folds[:2], kept[0].Folds)
	assert.Equal(t, f.req.Dir, kept[0].TrialDir)
	assert.Equal(t, "model-2", out.ArtifactRef)
}

func TestTrialRunner_PassOnBaseModel(t *testing.T) {
	f := newRunnerFixture(t)
	f.evaluator.PassFrom = 1

	out := f.run()
	assert.Equal(t, trial.StatusPassed, out.Status)
	require.Len(t, out.Records, 1)
	assert.Empty(t, f.trainer.Requests())

	kept := f.store.KeptArtifacts()
	require.Len(t, kept, 1)
	assert.Equal(t, "base", kept[0].Artifact.ID)
	assert.Empty(t, kept[0].Folds)
}

func TestTrialRunner_NonLazyFirstPassWins(t *testing.T) {
	f := newRunnerFixture(t)
	f.cfg.Finetune.Lazy = false
	f.evaluator.PassFrom = 2

	out := f.run()
	require.NoError(t, out.Err())
	assert.Equal(t, trial.StatusPassed, out.Status)
	require.Len(t, out.Records, 5)
	assert.False(t, out.Records[0].Passed)
	for _, rec := range out.Records[1:] {
		assert.True(t, rec.Passed)
		assert.False(t, rec.Stopped)
	}

	kept := f.store.KeptArtifacts()
	require.Len(t, kept, 1, "later passes must not overwrite the first")
	assert.Equal(t, "model-1", kept[0].Artifact.ID)
	assert.Equal(t, 1, out.PassedAt)
}

func TestTrialRunner_TrainingFailureKeepsPartialRecords(t *testing.T) {
	f := newRunnerFixture(t)
	f.trainer.FailOn = 2

	out := f.run()
	assert.Equal(t, trial.StatusFailed, out.Status)
	require.Error(t, out.Err())
	assert.True(t, core.IsTrainingError(out.Err()))

	var te *core.TrialError
	require.True(t, errors.As(out.Err(), &te))
	assert.Equal(t, 0, te.Trial)
	assert.Equal(t, 2, te.Increment)

	assert.Len(t, out.Records, 2)
	assert.Len(t, f.store.Records(f.req.Key), 2)
	assert.NotEmpty(t, out.Error)
}

func TestTrialRunner_FitRequestShape(t *testing.T) {
	f := newRunnerFixture(t)
	f.cfg.Finetune.HParams = map[string]interface{}{"epochs": 5}

	out := f.run()
	require.NoError(t, out.Err())

	reqs := f.trainer.Requests()
	require.NotEmpty(t, reqs)
	first := reqs[0]
	pool := append(append([]cohort.Example(nil), first.Train...), first.Validation...)
	assert.Equal(t, f.foldExampleCount(0), len(pool))
	assert.Len(t, first.Validation, int(float64(len(pool))*f.cfg.Finetune.ValSplit))

	// validation is the tail of the pool in graft order
	var foldOrder []core.SubjectID
	for _, ex := range pool {
		if len(foldOrder) == 0 || foldOrder[len(foldOrder)-1] != ex.SubjectID {
			foldOrder = append(foldOrder, ex.SubjectID)
		}
	}
	assert.Equal(t, f.folds[0].SubjectIDs, foldOrder)

	weights, err := ledger.ClassWeights(pool)
	require.NoError(t, err)
	assert.Equal(t, weights, first.ClassWeights)
	assert.Equal(t, ports.Artifact{ID: "base", URI: "models/base.pt"}, first.Base)
	assert.Equal(t, filepath.Join(f.req.Dir, workspace.ModelsDir, "increment_1"), first.OutputDir)

	// the history summary reaches the next record
	training := out.Records[1].Training
	require.NotNil(t, training)
	assert.Equal(t, 3, training.Epochs)
	assert.True(t, training.StoppedEarly)
	assert.InDelta(t, 0.5, training.BestValLoss, 1e-9)
	assert.InDelta(t, 0.55, training.FinalValLoss, 1e-9)

	// every later fit restarts from the base model and the evaluator sees the newest fit
	for _, req := range reqs {
		assert.Equal(t, "base", req.Base.ID)
	}
	arts := f.evaluator.Artifacts()
	assert.Equal(t, "base", arts[0].ID)
	assert.Equal(t, "model-1", arts[1].ID)
}

func TestTrialRunner_WarmStart(t *testing.T) {
	f := newRunnerFixture(t)
	f.cfg.Finetune.WarmStart = true

	f.run()
	reqs := f.trainer.Requests()
	require.Len(t, reqs, 5)
	assert.Equal(t, "base", reqs[0].Base.ID)
	assert.Equal(t, "model-1", reqs[1].Base.ID)
	assert.Equal(t, "model-4", reqs[4].Base.ID)
}

type mockEvaluator struct {
	mock.Mock
}

func (m *mockEvaluator) Predict(ctx context.Context, artifact ports.Artifact, examples []cohort.Example) ([]float64, error) {
	args := m.Called(ctx, artifact, examples)
	return args.Get(0).([]float64), args.Error(1)
}

func TestTrialRunner_PredictLengthMismatch(t *testing.T) {
	f := newRunnerFixture(t)
	evaluator := &mockEvaluator{}
	evaluator.On("Predict", mock.Anything, mock.Anything, mock.Anything).Return([]float64{0.2, 0.9}, nil).Once()

	runner := NewTrialRunner(f.cfg, f.provider, f.trainer, evaluator, f.store, f.store, nil)
	out := runner.Run(context.Background(), f.req)

	assert.Equal(t, trial.StatusFailed, out.Status)
	assert.True(t, core.IsTrainingError(out.Err()))
	assert.Empty(t, out.Records)
	evaluator.AssertExpectations(t)
}

func TestTrialRunner_NonFiniteScoreFailsTrial(t *testing.T) {
	f := newRunnerFixture(t)
	scores := make([]float64, len(f.examples))
	scores[3] = math.NaN()
	evaluator := &mockEvaluator{}
	evaluator.On("Predict", mock.Anything, mock.Anything, mock.Anything).Return(scores, nil).Once()

	runner := NewTrialRunner(f.cfg, f.provider, f.trainer, evaluator, f.store, f.store, nil)
	out := runner.Run(context.Background(), f.req)

	assert.Equal(t, trial.StatusFailed, out.Status)
	assert.True(t, core.IsTrainingError(out.Err()))
	assert.Contains(t, out.Err().Error(), "non-finite score")
	assert.Empty(t, out.Records)
}

func TestTrialRunner_DivergedLossStillRecorded(t *testing.T) {
	f := newRunnerFixture(t)
	f.trainer.History = ports.History{
		"loss":     {0.7, math.Inf(1)},
		"val_loss": {0.6, math.NaN()},
	}
	ctx := context.Background()
	files := filestore.NewStore(f.cfg.Paths.Trials, nil)
	require.NoError(t, files.SaveManifest(ctx, &trial.SeriesManifest{SeriesID: f.req.Key.SeriesID, NumTrials: 1}))

	runner := NewTrialRunner(f.cfg, f.provider, f.trainer, f.evaluator, files, f.store, nil)
	out := runner.Run(ctx, f.req)
	require.NoError(t, out.Err())
	assert.Equal(t, trial.StatusExhausted, out.Status)

	records, err := files.GetRecords(ctx, f.req.Key)
	require.NoError(t, err)
	require.Len(t, records, f.cfg.FoldSample.NumFolds)
	fit := records[1].Training
	require.NotNil(t, fit)
	assert.True(t, fit.LossDiverged)
	assert.Equal(t, 2, fit.Epochs)
	assert.Equal(t, 0.7, fit.FinalLoss)
	assert.Equal(t, 0.6, fit.FinalValLoss)
	assert.Equal(t, 0.6, fit.BestValLoss)
}

func TestSummarizeHistory(t *testing.T) {
	sum := summarizeHistory(ports.History{
		"loss":     {0.9, 0.6, 0.4},
		"val_loss": {0.8, 0.5, 0.55},
	}, 80, 8, map[string]interface{}{"epochs": 10})

	assert.Equal(t, 3, sum.Epochs)
	assert.Equal(t, 0.4, sum.FinalLoss)
	assert.Equal(t, 0.55, sum.FinalValLoss)
	assert.Equal(t, 0.5, sum.BestValLoss)
	assert.True(t, sum.StoppedEarly)
	assert.False(t, sum.LossDiverged)
	assert.Equal(t, 80, sum.TrainExamples)
	assert.Equal(t, 8, sum.ValExamples)

	diverged := summarizeHistory(ports.History{"val_loss": {math.NaN()}}, 10, 1, nil)
	assert.True(t, diverged.LossDiverged)
	assert.Equal(t, 1, diverged.Epochs)
	assert.Zero(t, diverged.FinalValLoss)
	assert.Zero(t, diverged.BestValLoss)
}

func TestTrialRunner_MissingBoundMetric(t *testing.T) {
	f := newRunnerFixture(t)
	f.cfg.Finetune.Metrics = []string{"sensitivity"}
	f.cfg.Finetune.LowerBounds = map[string]float64{"auc": 0.8}

	out := f.run()
	assert.Equal(t, trial.StatusFailed, out.Status)
	assert.True(t, errors.Is(out.Err(), core.ErrMetricMissing))
}

func TestTrialRunner_CancelledAtIncrementBoundary(t *testing.T) {
	f := newRunnerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.runner().Run(ctx, f.req)
	assert.Equal(t, trial.StatusFailed, out.Status)
	assert.True(t, errors.Is(out.Err(), context.Canceled))
	assert.Len(t, out.Records, 1)
	assert.Empty(t, f.trainer.Requests())
}

func TestTrialRunner_SubjectWithoutRows(t *testing.T) {
	f := newRunnerFixture(t)
	missing := f.folds[2].SubjectIDs[0]
	var rows []cohort.Example
	for _, ex := range f.examples {
		if ex.SubjectID != missing {
			rows = append(rows, ex)
		}
	}
	f.provider = testkit.NewMemoryProvider(rows)

	out := f.run()
	assert.Equal(t, trial.StatusFailed, out.Status)
	assert.True(t, core.IsDataIntegrityError(out.Err()))
	assert.Equal(t, 0, f.evaluator.Calls())
}

func TestTrialRunner_CorruptFoldFile(t *testing.T) {
	f := newRunnerFixture(t)
	require.NoError(t, os.WriteFile(f.req.FoldsPath, []byte("3\npt-0001\n"), 0o644))

	out := f.run()
	assert.Equal(t, trial.StatusFailed, out.Status)
	assert.True(t, errors.Is(out.Err(), core.ErrCorruptFolds))
}
