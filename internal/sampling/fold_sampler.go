package sampling

import (
	"fmt"
	"math/rand"

	"gofinetune/domain/cohort"
	"gofinetune/domain/core"
	"gofinetune/internal"

	"github.com/montanaflynn/stats"
)

// FoldStats describes the realized class balance of one fold
type FoldStats struct {
	Index      int                `json:"index"`
	Subjects   cohort.ClassCounts `json:"subjects"`
	Examples   cohort.ClassCounts `json:"examples"`
	Ratio      float64            `json:"ratio"`
	Degenerate bool               `json:"degenerate"`
}

// FoldSet is the ordered result of one draw
type FoldSet struct {
	Folds     []cohort.Fold `json:"folds"`
	Stats     []FoldStats   `json:"stats"`
	MeanRatio float64       `json:"mean_ratio"`
	Seed      int64         `json:"seed"`
}

// SubjectCount returns the number of subjects across all folds
func (fs *FoldSet) SubjectCount() int {
	n := 0
	for _, f := range fs.Folds {
		n += f.Len()
	}
	return n
}

// FoldSampler partitions subjects into k class-balanced folds
type FoldSampler struct {
	logger *internal.Logger
}

func NewFoldSampler(logger *internal.Logger) *FoldSampler {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &FoldSampler{logger: logger}
}

// Check validates a draw of k folds over subjects without sampling
func (s *FoldSampler) Check(subjects []cohort.Subject, k int) error {
	_, err := partition(subjects, k)
	return err
}

// Sample draws k folds. Negative subjects are chunked off a shuffled stack,
// floor(n/k) per fold, with the remainder on the last fold so the oversized
// fold is always the final graft. Positive subjects are then dealt
// round-robin starting at fold 0.
func (s *FoldSampler) Sample(subjects []cohort.Subject, k int, seed int64) (*FoldSet, error) {
	groups, err := partition(subjects, k)
	if err != nil {
		return nil, err
	}
	negatives, positives := groups.negatives, groups.positives

	s.logger.Info("%d unique %s subjects found", len(negatives), cohort.LabelNegative)
	s.logger.Info("%d unique %s subjects found", len(positives), cohort.LabelPositive)

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(negatives), func(i, j int) { negatives[i], negatives[j] = negatives[j], negatives[i] })
	rng.Shuffle(len(positives), func(i, j int) { positives[i], positives[j] = positives[j], positives[i] })

	sizes := make([]int, k)
	for i := range sizes {
		sizes[i] = len(negatives) / k
	}
	sizes[k-1] += len(negatives) % k

	folds := make([]cohort.Fold, k)
	majority := NewSubjectStack(negatives)
	for i, size := range sizes {
		folds[i] = cohort.Fold{Index: i, SubjectIDs: majority.PopN(size)}
	}

	minority := NewSubjectStack(positives)
	cursor := NewRoundRobin(k)
	for minority.Len() > 0 {
		id, _ := minority.Pop()
		slot := cursor.Next()
		folds[slot].SubjectIDs = append(folds[slot].SubjectIDs, id)
	}

	set := &FoldSet{Folds: folds, Seed: seed}
	s.describe(set, groups.byID)
	return set, nil
}

type classGroups struct {
	negatives []core.SubjectID
	positives []core.SubjectID
	byID      map[core.SubjectID]cohort.Subject
}

// partition splits subjects by label in ID order and rejects inputs no
// draw of k folds can satisfy
func partition(subjects []cohort.Subject, k int) (*classGroups, error) {
	if k <= 0 {
		return nil, core.NewConfigError("fold_sample.num_folds", fmt.Sprintf("must be positive, got %d", k))
	}

	ordered := cohort.SortSubjects(subjects)
	g := &classGroups{byID: make(map[core.SubjectID]cohort.Subject, len(ordered))}
	for _, subj := range ordered {
		if _, dup := g.byID[subj.ID]; dup {
			return nil, core.NewDataIntegrityError(fmt.Sprintf("subject %s listed twice", subj.ID))
		}
		g.byID[subj.ID] = subj
		switch subj.Label {
		case cohort.LabelPositive:
			g.positives = append(g.positives, subj.ID)
		case cohort.LabelNegative:
			g.negatives = append(g.negatives, subj.ID)
		default:
			return nil, core.NewDataIntegrityError(fmt.Sprintf("subject %s has invalid label %d", subj.ID, int(subj.Label)))
		}
	}

	if len(g.negatives) == 0 {
		return nil, fmt.Errorf("%w: no %s subjects", core.ErrEmptyClass, cohort.LabelNegative)
	}
	if len(g.positives) == 0 {
		return nil, fmt.Errorf("%w: no %s subjects", core.ErrEmptyClass, cohort.LabelPositive)
	}
	if k > len(g.negatives) {
		return nil, core.NewConfigError("fold_sample.num_folds",
			fmt.Sprintf("%d folds requested but only %d %s subjects", k, len(g.negatives), cohort.LabelNegative))
	}
	return g, nil
}

// describe fills per-fold example counts and the mean negative:positive
// example ratio. Folds without positive examples are flagged and left out
// of the mean so it stays finite.
func (s *FoldSampler) describe(set *FoldSet, byID map[core.SubjectID]cohort.Subject) {
	var ratios stats.Float64Data
	set.Stats = make([]FoldStats, len(set.Folds))
	for i, fold := range set.Folds {
		st := FoldStats{Index: fold.Index}
		for _, id := range fold.SubjectIDs {
			subj := byID[id]
			st.Subjects.Add(subj.Label, 1)
			st.Examples.Add(subj.Label, subj.ExampleCount)
		}
		if st.Examples.Positive == 0 {
			st.Degenerate = true
			s.logger.Warn("fold %d has no %s examples; excluded from the mean ratio", fold.Index, cohort.LabelPositive)
		} else {
			st.Ratio = float64(st.Examples.Negative) / float64(st.Examples.Positive)
			ratios = append(ratios, st.Ratio)
		}
		s.logger.Debug("fold %d: %d subjects, %d %s / %d %s examples",
			fold.Index, fold.Len(), st.Examples.Negative, cohort.LabelNegative, st.Examples.Positive, cohort.LabelPositive)
		set.Stats[i] = st
	}

	mean, err := stats.Mean(ratios)
	if err != nil {
		s.logger.Warn("mean fold ratio unavailable: %v", err)
		return
	}
	set.MeanRatio = mean
	s.logger.Info("mean %s:%s example ratio across folds: %.3f", cohort.LabelNegative, cohort.LabelPositive, mean)
}
