package cohort

import (
	"fmt"
	"strings"

	"gofinetune/domain/core"
)

// Label is the ground-truth class of an example or subject
type Label int

const (
	// LabelNegative marks lung sliding present, the majority class
	LabelNegative Label = 0
	// LabelPositive marks lung sliding absent, the rarer target class
	LabelPositive Label = 1
)

func (l Label) String() string {
	switch l {
	case LabelNegative:
		return "sliding"
	case LabelPositive:
		return "no_sliding"
	default:
		return fmt.Sprintf("label(%d)", int(l))
	}
}

// Valid reports whether l is one of the two known classes
func (l Label) Valid() bool {
	return l == LabelNegative || l == LabelPositive
}

// ParseLabel maps a raw table cell onto a Label. positiveValue is the cell
// content that denotes the positive class; the only other accepted value is
// the complementary 0/1 digit or any value listed in negativeValues.
func ParseLabel(raw, positiveValue string, negativeValues ...string) (Label, error) {
	v := strings.TrimSpace(raw)
	if strings.EqualFold(v, positiveValue) {
		return LabelPositive, nil
	}
	for _, neg := range negativeValues {
		if strings.EqualFold(v, neg) {
			return LabelNegative, nil
		}
	}
	switch {
	case positiveValue == "1" && v == "0", positiveValue == "0" && v == "1":
		return LabelNegative, nil
	}
	return 0, fmt.Errorf("unrecognized label %q", raw)
}

// Example is one clip belonging to exactly one subject
type Example struct {
	ID        core.ExampleID `json:"example_id" db:"example_id"`
	SubjectID core.SubjectID `json:"subject_id" db:"subject_id"`
	FileRef   string         `json:"file_ref" db:"file_ref"`
	Label     Label          `json:"label" db:"label"`
}

// Subject is a patient contributing one or more examples
type Subject struct {
	ID           core.SubjectID `json:"subject_id"`
	Label        Label          `json:"label"`
	ExampleCount int            `json:"example_count"`
}

// Fold is an ordered set of subjects grafted together
type Fold struct {
	Index      int              `json:"index"`
	SubjectIDs []core.SubjectID `json:"subject_ids"`
}

// Len returns the number of subjects in the fold
func (f Fold) Len() int {
	return len(f.SubjectIDs)
}

// Contains reports whether the fold holds the given subject
func (f Fold) Contains(id core.SubjectID) bool {
	for _, s := range f.SubjectIDs {
		if s == id {
			return true
		}
	}
	return false
}

// ClassCounts tallies examples per class
type ClassCounts struct {
	Negative int `json:"negative"`
	Positive int `json:"positive"`
}

// Add counts n more examples of the given class
func (c *ClassCounts) Add(label Label, n int) {
	if label == LabelPositive {
		c.Positive += n
		return
	}
	c.Negative += n
}

// Total returns the number of counted examples
func (c ClassCounts) Total() int {
	return c.Negative + c.Positive
}

// CountExamples tallies the class distribution of a set of examples
func CountExamples(examples []Example) ClassCounts {
	var counts ClassCounts
	for _, ex := range examples {
		counts.Add(ex.Label, 1)
	}
	return counts
}
