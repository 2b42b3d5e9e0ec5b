package ports

import (
	"context"

	"gofinetune/domain/cohort"
	"gofinetune/domain/core"
)

// DatasetProvider resolves subjects to their external examples
type DatasetProvider interface {
	// Examples returns every external example known to the provider
	Examples(ctx context.Context) ([]cohort.Example, error)

	// RowsFor returns the examples of the given subjects, grouped by subject
	// in the order the ids were given
	RowsFor(ctx context.Context, subjectIDs []core.SubjectID) ([]cohort.Example, error)
}
