package ports

import (
	"context"

	"gofinetune/domain/cohort"
)

// Artifact is an opaque reference to a fitted classifier
type Artifact struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// IsZero reports whether the artifact reference is unset
func (a Artifact) IsZero() bool {
	return a.ID == "" && a.URI == ""
}

// History is the per-epoch loss/metric trajectory of one fit
type History map[string][]float64

// FitRequest carries everything a Trainer needs for one fine-tuning pass
type FitRequest struct {
	Base         Artifact                 `json:"base"`
	Train        []cohort.Example         `json:"train"`
	Validation   []cohort.Example         `json:"validation"`
	ClassWeights map[cohort.Label]float64 `json:"class_weights"`
	HParams      map[string]interface{}   `json:"hparams"`
	OutputDir    string                   `json:"output_dir"`
}

// Trainer fits a classifier starting from a base artifact
type Trainer interface {
	Fit(ctx context.Context, req FitRequest) (Artifact, History, error)
}

// Evaluator produces positive-class probabilities, one per example, in
// example order
type Evaluator interface {
	Predict(ctx context.Context, artifact Artifact, examples []cohort.Example) ([]float64, error)
}
