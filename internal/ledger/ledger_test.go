package ledger

import (
	"errors"
	"fmt"
	"testing"

	"gofinetune/domain/cohort"
	"gofinetune/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// examplesFor builds clipsPer examples for each subject, labelled by prefix
func examplesFor(subjects []core.SubjectID, clipsPer int) []cohort.Example {
	var out []cohort.Example
	for _, s := range subjects {
		label := cohort.LabelNegative
		if s[0] == 'p' {
			label = cohort.LabelPositive
		}
		for c := 0; c < clipsPer; c++ {
			out = append(out, cohort.Example{
				ID:        core.ExampleID(fmt.Sprintf("%s-%d", s, c)),
				SubjectID: s,
				FileRef:   fmt.Sprintf("%s/%d.npz", s, c),
				Label:     label,
			})
		}
	}
	return out
}

func exampleIDs(examples []cohort.Example) map[core.ExampleID]bool {
	out := make(map[core.ExampleID]bool, len(examples))
	for _, ex := range examples {
		out[ex.ID] = true
	}
	return out
}

func testFolds() []cohort.Fold {
	return []cohort.Fold{
		{Index: 0, SubjectIDs: []core.SubjectID{"n1", "n2", "p1"}},
		{Index: 1, SubjectIDs: []core.SubjectID{"n3", "p2"}},
		{Index: 2, SubjectIDs: []core.SubjectID{"n4", "n5", "p3"}},
	}
}

func allSubjects(folds []cohort.Fold) []core.SubjectID {
	var out []core.SubjectID
	for _, f := range folds {
		out = append(out, f.SubjectIDs...)
	}
	return out
}

func TestLedger_PartitionInvariantAndMonotonicGrafting(t *testing.T) {
	folds := testFolds()
	examples := examplesFor(allSubjects(folds), 3)
	l, err := New(examples)
	require.NoError(t, err)

	all := exampleIDs(examples)
	prevTest, prevTrain := l.Sizes()
	assert.Equal(t, len(examples), prevTest)
	assert.Equal(t, 0, prevTrain)

	for _, fold := range folds {
		moved, err := l.Graft(fold)
		require.NoError(t, err)
		assert.Equal(t, 3*fold.Len(), moved)

		snap := l.Snapshot()
		test, train := exampleIDs(snap.Test), exampleIDs(snap.Train)
		for id := range test {
			assert.False(t, train[id], "example %s in both pools", id)
		}
		assert.Equal(t, len(all), len(test)+len(train))
		for id := range all {
			assert.True(t, test[id] || train[id], "example %s lost", id)
		}

		testSize, trainSize := l.Sizes()
		assert.Equal(t, prevTest-moved, testSize)
		assert.Equal(t, prevTrain+moved, trainSize)
		prevTest, prevTrain = testSize, trainSize
	}
	assert.Empty(t, l.Test())
	assert.Len(t, l.Train(), len(examples))
}

func TestLedger_TrainKeepsInsertionOrder(t *testing.T) {
	folds := testFolds()
	l, err := New(examplesFor(allSubjects(folds), 1))
	require.NoError(t, err)

	_, err = l.Graft(folds[1])
	require.NoError(t, err)
	_, err = l.Graft(folds[0])
	require.NoError(t, err)

	var got []core.SubjectID
	for _, ex := range l.Train() {
		got = append(got, ex.SubjectID)
	}
	assert.Equal(t, []core.SubjectID{"n3", "p2", "n1", "n2", "p1"}, got)
	assert.Equal(t, []int{1, 0}, l.Snapshot().Grafted)

	var rest []core.SubjectID
	for _, ex := range l.Test() {
		rest = append(rest, ex.SubjectID)
	}
	assert.Equal(t, []core.SubjectID{"n4", "n5", "p3"}, rest)
}

func TestLedger_DoubleGraft(t *testing.T) {
	folds := testFolds()
	l, err := New(examplesFor(allSubjects(folds), 2))
	require.NoError(t, err)

	_, err = l.Graft(folds[0])
	require.NoError(t, err)

	_, err = l.Graft(folds[0])
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDoubleGraft))
	assert.True(t, core.IsInvariantError(err))

	// a different fold index reusing a grafted subject
	_, err = l.Graft(cohort.Fold{Index: 9, SubjectIDs: []core.SubjectID{"n1"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrFoldSubject))
}

func TestLedger_FailedGraftMovesNothing(t *testing.T) {
	folds := testFolds()
	l, err := New(examplesFor(allSubjects(folds), 2))
	require.NoError(t, err)

	bad := cohort.Fold{Index: 5, SubjectIDs: []core.SubjectID{"n1", "ghost"}}
	_, err = l.Graft(bad)
	require.Error(t, err)
	assert.True(t, core.IsInvariantError(err))

	test, train := l.Sizes()
	assert.Equal(t, 0, train)
	assert.Equal(t, l.Total(), test)
	assert.False(t, l.Grafted(5))
}

func TestLedger_SnapshotIsACopy(t *testing.T) {
	folds := testFolds()
	l, err := New(examplesFor(allSubjects(folds), 1))
	require.NoError(t, err)
	_, err = l.Graft(folds[0])
	require.NoError(t, err)

	snap := l.Snapshot()
	snap.Train[0].FileRef = "mutated"
	snap.Test = snap.Test[:0]

	assert.NotEqual(t, "mutated", l.Train()[0].FileRef)
	assert.NotEmpty(t, l.Test())
}

func TestNew_RejectsDuplicateExamples(t *testing.T) {
	examples := examplesFor([]core.SubjectID{"n1"}, 1)
	examples = append(examples, examples[0])

	_, err := New(examples)
	require.Error(t, err)
	assert.True(t, core.IsDataIntegrityError(err))
}

func TestSplit_TailIsValidation(t *testing.T) {
	examples := examplesFor([]core.SubjectID{"n1", "n2", "p1"}, 3)

	train, val := Split(examples, 0.25)
	assert.Len(t, val, 2) // int(9 * 0.25)
	assert.Equal(t, examples[7:], val)
	assert.Equal(t, examples[:7], train)

	train, val = Split(examples, 0)
	assert.Empty(t, val)
	assert.Len(t, train, 9)
}

func TestClassWeights(t *testing.T) {
	examples := append(
		examplesFor([]core.SubjectID{"n1", "n2", "n3"}, 2),
		examplesFor([]core.SubjectID{"p1"}, 2)...,
	)

	weights, err := ClassWeights(examples)
	require.NoError(t, err)
	assert.InDelta(t, 8.0/12.0, weights[cohort.LabelNegative], 1e-9)
	assert.InDelta(t, 8.0/4.0, weights[cohort.LabelPositive], 1e-9)

	_, err = ClassWeights(examplesFor([]core.SubjectID{"n1"}, 2))
	assert.Error(t, err)
}
