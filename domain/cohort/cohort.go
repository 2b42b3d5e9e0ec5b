package cohort

import (
	"fmt"
	"sort"

	"gofinetune/domain/core"
)

// Cohort is the validated subject population behind a set of examples
type Cohort struct {
	subjects map[core.SubjectID]*Subject
	order    []core.SubjectID
	examples map[core.SubjectID][]Example
}

// Build groups examples by subject and infers each subject's label. A subject
// whose examples disagree on the label is rejected, as are duplicate example
// ids and labels outside the two known classes.
func Build(examples []Example) (*Cohort, error) {
	c := &Cohort{
		subjects: make(map[core.SubjectID]*Subject),
		examples: make(map[core.SubjectID][]Example),
	}
	seen := make(map[core.ExampleID]struct{}, len(examples))

	for _, ex := range examples {
		if ex.SubjectID == "" {
			return nil, core.NewDataIntegrityError(fmt.Sprintf("example %s has no subject", ex.ID))
		}
		if !ex.Label.Valid() {
			return nil, core.NewDataIntegrityError(fmt.Sprintf("example %s has invalid label %d", ex.ID, ex.Label))
		}
		if _, dup := seen[ex.ID]; dup {
			return nil, core.NewDataIntegrityError(fmt.Sprintf("duplicate example id %s", ex.ID))
		}
		seen[ex.ID] = struct{}{}

		s, ok := c.subjects[ex.SubjectID]
		if !ok {
			s = &Subject{ID: ex.SubjectID, Label: ex.Label}
			c.subjects[ex.SubjectID] = s
			c.order = append(c.order, ex.SubjectID)
		} else if s.Label != ex.Label {
			return nil, fmt.Errorf("%w: %s", core.ErrMixedLabels, ex.SubjectID)
		}
		s.ExampleCount++
		c.examples[ex.SubjectID] = append(c.examples[ex.SubjectID], ex)
	}

	return c, nil
}

// Len returns the number of subjects
func (c *Cohort) Len() int {
	return len(c.order)
}

// Subjects returns the subjects in first-seen order
func (c *Cohort) Subjects() []Subject {
	out := make([]Subject, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.subjects[id])
	}
	return out
}

// Subject looks up one subject
func (c *Cohort) Subject(id core.SubjectID) (Subject, bool) {
	s, ok := c.subjects[id]
	if !ok {
		return Subject{}, false
	}
	return *s, true
}

// ExamplesFor returns the examples of one subject in input order
func (c *Cohort) ExamplesFor(id core.SubjectID) []Example {
	src := c.examples[id]
	out := make([]Example, len(src))
	copy(out, src)
	return out
}

// Labels returns subject id -> label name, the input of the cohort hash
func (c *Cohort) Labels() map[core.SubjectID]string {
	out := make(map[core.SubjectID]string, len(c.subjects))
	for id, s := range c.subjects {
		out[id] = s.Label.String()
	}
	return out
}

// Hash identifies the cohort independent of row order
func (c *Cohort) Hash() core.CohortHash {
	return core.ComputeCohortHash(c.Labels())
}

// SortSubjects orders subjects by id so downstream shuffles depend only on the
// subject set and not on the order rows were read in.
func SortSubjects(subjects []Subject) []Subject {
	out := make([]Subject, len(subjects))
	copy(out, subjects)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
