// Package ledger tracks which examples of one trial are still held out for
// evaluation and which have been grafted into training.
package ledger

import (
	"fmt"
	"sync"

	"gofinetune/domain/cohort"
	"gofinetune/domain/core"
)

// Snapshot is a point-in-time copy of both pools. Mutating it never
// affects the ledger.
type Snapshot struct {
	Test    []cohort.Example
	Train   []cohort.Example
	Grafted []int
}

// PartitionLedger owns the test and train pools of one trial. The pools are
// disjoint and their union is always the full example set.
type PartitionLedger struct {
	mu sync.RWMutex

	// examples of each subject in input order
	bySubject map[core.SubjectID][]cohort.Example
	// subject order as first seen, used to keep the test pool in input order
	order   []core.SubjectID
	inTrain map[core.SubjectID]bool
	train   []cohort.Example
	grafted map[int]bool
	history []int
	total   int
}

// New puts every example in the test pool
func New(examples []cohort.Example) (*PartitionLedger, error) {
	l := &PartitionLedger{
		bySubject: make(map[core.SubjectID][]cohort.Example),
		inTrain:   make(map[core.SubjectID]bool),
		grafted:   make(map[int]bool),
	}
	seen := make(map[core.ExampleID]bool, len(examples))
	for _, ex := range examples {
		if seen[ex.ID] {
			return nil, core.NewDataIntegrityError(fmt.Sprintf("example %s listed twice", ex.ID))
		}
		seen[ex.ID] = true
		if _, ok := l.bySubject[ex.SubjectID]; !ok {
			l.order = append(l.order, ex.SubjectID)
		}
		l.bySubject[ex.SubjectID] = append(l.bySubject[ex.SubjectID], ex)
	}
	l.total = len(examples)
	return l, nil
}

// Graft moves every example of the fold's subjects from test to train,
// appending them to the train pool in fold order. The fold must not have
// been grafted before and all of its subjects must still be fully in the
// test pool; otherwise nothing moves and an invariant error is returned.
func (l *PartitionLedger) Graft(fold cohort.Fold) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.grafted[fold.Index] {
		return 0, fmt.Errorf("%w: fold %d", core.ErrDoubleGraft, fold.Index)
	}
	within := make(map[core.SubjectID]bool, fold.Len())
	for _, id := range fold.SubjectIDs {
		if _, ok := l.bySubject[id]; !ok {
			return 0, fmt.Errorf("%w: fold %d subject %s has no examples in this trial", core.ErrFoldSubject, fold.Index, id)
		}
		if l.inTrain[id] || within[id] {
			return 0, fmt.Errorf("%w: fold %d subject %s is not in the test pool", core.ErrFoldSubject, fold.Index, id)
		}
		within[id] = true
	}

	moved := 0
	for _, id := range fold.SubjectIDs {
		l.inTrain[id] = true
		l.train = append(l.train, l.bySubject[id]...)
		moved += len(l.bySubject[id])
	}
	l.grafted[fold.Index] = true
	l.history = append(l.history, fold.Index)
	return moved, nil
}

// Snapshot copies both pools under the read lock
func (l *PartitionLedger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return Snapshot{
		Test:    l.testLocked(),
		Train:   append([]cohort.Example(nil), l.train...),
		Grafted: append([]int(nil), l.history...),
	}
}

// Test returns a copy of the test pool in input order
func (l *PartitionLedger) Test() []cohort.Example {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.testLocked()
}

// Train returns a copy of the train pool in insertion order
func (l *PartitionLedger) Train() []cohort.Example {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]cohort.Example(nil), l.train...)
}

// Sizes returns the number of examples in the test and train pools
func (l *PartitionLedger) Sizes() (test, train int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total - len(l.train), len(l.train)
}

// Total returns the number of examples in the trial
func (l *PartitionLedger) Total() int {
	return l.total
}

// Grafted reports whether a fold has been moved into training
func (l *PartitionLedger) Grafted(index int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.grafted[index]
}

func (l *PartitionLedger) testLocked() []cohort.Example {
	out := make([]cohort.Example, 0, l.total-len(l.train))
	for _, id := range l.order {
		if !l.inTrain[id] {
			out = append(out, l.bySubject[id]...)
		}
	}
	return out
}

// Split divides examples into a training head and a validation tail. The
// tail holds int(len*fraction) examples, so the most recently grafted
// examples validate.
func Split(examples []cohort.Example, fraction float64) (train, validation []cohort.Example) {
	n := int(float64(len(examples)) * fraction)
	if n < 0 {
		n = 0
	}
	if n > len(examples) {
		n = len(examples)
	}
	cut := len(examples) - n
	train = append([]cohort.Example(nil), examples[:cut]...)
	validation = append([]cohort.Example(nil), examples[cut:]...)
	return train, validation
}

// ClassWeights returns total/(2*count) per class over examples. A class
// with no examples cannot be weighted and is an error.
func ClassWeights(examples []cohort.Example) (map[cohort.Label]float64, error) {
	counts := cohort.CountExamples(examples)
	if counts.Negative == 0 || counts.Positive == 0 {
		return nil, fmt.Errorf("cannot weight classes: %d %s and %d %s examples",
			counts.Negative, cohort.LabelNegative, counts.Positive, cohort.LabelPositive)
	}
	total := float64(counts.Total())
	return map[cohort.Label]float64{
		cohort.LabelNegative: total / (2 * float64(counts.Negative)),
		cohort.LabelPositive: total / (2 * float64(counts.Positive)),
	}, nil
}
