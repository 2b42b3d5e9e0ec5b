package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gofinetune/domain/cohort"
	"gofinetune/domain/core"
	"gofinetune/domain/trial"
	"gofinetune/internal/sampling"
	"gofinetune/internal/workspace"
	"gofinetune/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedManifest(t *testing.T, s *Store, trials int) *trial.SeriesManifest {
	t.Helper()
	m := &trial.SeriesManifest{
		SeriesID:  "series-a",
		NumTrials: trials,
		Fingerprint: trial.NewSeriesFingerprint(
			"cohort", "params", 42, 5, "test"),
		CreatedAt: core.Now(),
	}
	require.NoError(t, s.SaveManifest(context.Background(), m))
	return m
}

func TestStore_AppendAndReadRecords(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := NewStore(root, nil)
	seedManifest(t, s, 2)

	key := trial.Key{SeriesID: "series-a", Index: 1}
	for i := 0; i < 3; i++ {
		rec := trial.IncrementRecord{
			Trial:     1,
			Increment: i,
			Metrics:   map[string]float64{"sensitivity": 0.1 * float64(i+1)},
			TestSize:  10 - 2*i,
			TrainSize: 2 * i,
		}
		require.NoError(t, s.Append(ctx, key, rec))
	}

	_, err := os.Stat(filepath.Join(root, "trial_2", workspace.RecordsFile))
	require.NoError(t, err)

	records, err := s.GetRecords(ctx, key)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, i, rec.Increment)
		assert.Equal(t, 2*i, rec.TrainSize)
	}

	empty, err := s.GetRecords(ctx, trial.Key{SeriesID: "series-a", Index: 0})
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.GetRecords(ctx, trial.Key{SeriesID: "other", Index: 1})
	assert.True(t, core.IsNotFoundError(err))
}

func TestStore_CorruptRecordLog(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)
	seedManifest(t, s, 1)

	dir := filepath.Join(root, "trial_1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, workspace.RecordsFile), []byte("{\"trial\":0}\n{oops\n"), 0o644))

	_, err := s.GetRecords(context.Background(), trial.Key{SeriesID: "series-a", Index: 0})
	require.Error(t, err)
	assert.True(t, core.IsDataIntegrityError(err))
	assert.Contains(t, err.Error(), "line 2")
}

func TestStore_SeriesFromOutcomesThenSummary(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir(), nil)
	m := seedManifest(t, s, 3)

	passed := trial.NewOutcome(0, 42)
	passed.PassedAt = 1
	passed.Finish(trial.StatusPassed)
	exhausted := trial.NewOutcome(2, 44)
	exhausted.Finish(trial.StatusExhausted)

	require.NoError(t, s.SaveOutcome(ctx, trial.Key{SeriesID: m.SeriesID, Index: 0}, passed))
	require.NoError(t, s.SaveOutcome(ctx, trial.Key{SeriesID: m.SeriesID, Index: 2}, exhausted))

	// trial 2 still running
	got, err := s.GetSeries(ctx, "series-a")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Trials)
	assert.Equal(t, 1, got.Passed)
	assert.Equal(t, 1, got.Exhausted)
	require.Len(t, got.Outcomes, 2)
	assert.Equal(t, 1, got.Outcomes[0].PassedAt)

	failed := trial.NewOutcome(1, 43)
	failed.Fail(core.NewInvariantError("boom"))
	summary := trial.Summarize(m.SeriesID, []*trial.Outcome{passed, failed, exhausted})
	summary.Manifest = m
	require.NoError(t, s.SaveSummary(ctx, &summary))

	got, err = s.GetSeries(ctx, "series-a")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Failed)
	assert.Len(t, got.Outcomes, 3)

	_, err = s.GetSeries(ctx, "series-b")
	assert.True(t, core.IsNotFoundError(err))
}

func TestStore_ListSeries(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir(), nil)

	list, err := s.ListSeries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	seedManifest(t, s, 1)
	list, err = s.ListSeries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, core.SeriesID("series-a"), list[0].SeriesID)
}

func TestStore_KeepWritesUsedFolds(t *testing.T) {
	trialDir := filepath.Join(t.TempDir(), "trial_1")
	s := NewStore(filepath.Dir(trialDir), nil)

	used := []cohort.Fold{
		{Index: 0, SubjectIDs: []core.SubjectID{"a", "b"}},
		{Index: 1, SubjectIDs: []core.SubjectID{"c"}},
	}
	ref, err := s.Keep(context.Background(), trialDir, ports.Artifact{ID: "model-2", URI: "/models/increment_2"}, used)
	require.NoError(t, err)
	assert.Equal(t, "/models/increment_2", ref)

	folds, err := sampling.ReadFoldFile(filepath.Join(trialDir, workspace.FoldsDir, workspace.FoldsUsed))
	require.NoError(t, err)
	require.Len(t, folds, 2)
	assert.Equal(t, used[1].SubjectIDs, folds[1].SubjectIDs)

	var artifact ports.Artifact
	require.NoError(t, readJSON(filepath.Join(trialDir, workspace.ModelsDir, workspace.PassedFile), &artifact))
	assert.Equal(t, "model-2", artifact.ID)

	ref, err = s.Keep(context.Background(), trialDir, ports.Artifact{ID: "base"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "base", ref)
}
