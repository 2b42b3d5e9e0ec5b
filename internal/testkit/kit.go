package testkit

import (
	"context"
	"fmt"
	"sync"

	"gofinetune/domain/cohort"
	"gofinetune/domain/core"
	"gofinetune/domain/trial"
	"gofinetune/ports"
)

// MemoryProvider serves a fixed example table
type MemoryProvider struct {
	examples []cohort.Example
}

func NewMemoryProvider(examples []cohort.Example) *MemoryProvider {
	return &MemoryProvider{examples: append([]cohort.Example(nil), examples...)}
}

func (p *MemoryProvider) Examples(ctx context.Context) ([]cohort.Example, error) {
	return append([]cohort.Example(nil), p.examples...), nil
}

// RowsFor groups rows by subject in request order
func (p *MemoryProvider) RowsFor(ctx context.Context, subjectIDs []core.SubjectID) ([]cohort.Example, error) {
	bySubject := make(map[core.SubjectID][]cohort.Example)
	for _, ex := range p.examples {
		bySubject[ex.SubjectID] = append(bySubject[ex.SubjectID], ex)
	}
	var out []cohort.Example
	for _, id := range subjectIDs {
		out = append(out, bySubject[id]...)
	}
	return out, nil
}

// ScriptedTrainer returns a new artifact per call and remembers each request.
// FailOn makes the n-th call (1-based) fail. History replaces the default
// loss curves when set.
type ScriptedTrainer struct {
	FailOn  int
	History ports.History

	mu       sync.Mutex
	requests []ports.FitRequest
}

func (t *ScriptedTrainer) Fit(ctx context.Context, req ports.FitRequest) (ports.Artifact, ports.History, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests = append(t.requests, req)
	n := len(t.requests)
	if t.FailOn > 0 && n == t.FailOn {
		return ports.Artifact{}, nil, fmt.Errorf("scripted fit failure on call %d", n)
	}
	history := ports.History{
		"loss":     {0.9, 0.6, 0.4},
		"val_loss": {0.8, 0.5, 0.55},
	}
	if t.History != nil {
		history = t.History
	}
	return ports.Artifact{ID: fmt.Sprintf("model-%d", n), URI: req.OutputDir}, history, nil
}

// Requests returns the fit requests seen so far
func (t *ScriptedTrainer) Requests() []ports.FitRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ports.FitRequest(nil), t.requests...)
}

// ScriptedEvaluator scores every example 0 until call PassFrom (1-based),
// after which it scores perfectly. PassFrom 0 never passes. FailOn makes
// the n-th call fail.
type ScriptedEvaluator struct {
	PassFrom int
	FailOn   int

	mu        sync.Mutex
	calls     int
	artifacts []ports.Artifact
	sizes     []int
}

func (e *ScriptedEvaluator) Predict(ctx context.Context, artifact ports.Artifact, examples []cohort.Example) ([]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++
	e.artifacts = append(e.artifacts, artifact)
	e.sizes = append(e.sizes, len(examples))
	if e.FailOn > 0 && e.calls == e.FailOn {
		return nil, fmt.Errorf("scripted predict failure on call %d", e.calls)
	}

	scores := make([]float64, len(examples))
	if e.PassFrom > 0 && e.calls >= e.PassFrom {
		for i, ex := range examples {
			if ex.Label == cohort.LabelPositive {
				scores[i] = 1
			}
		}
	}
	return scores, nil
}

// Calls returns how many predictions were requested
func (e *ScriptedEvaluator) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Artifacts returns the artifact evaluated by each call
func (e *ScriptedEvaluator) Artifacts() []ports.Artifact {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ports.Artifact(nil), e.artifacts...)
}

// TestSizes returns the number of examples scored by each call
func (e *ScriptedEvaluator) TestSizes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.sizes...)
}

// Kept is one artifact handed to MemoryStore.Keep
type Kept struct {
	TrialDir string
	Artifact ports.Artifact
	Folds    []cohort.Fold
}

// MemoryStore records everything the runner and series persist
type MemoryStore struct {
	mu        sync.Mutex
	records   map[trial.Key][]trial.IncrementRecord
	outcomes  map[trial.Key]*trial.Outcome
	kept      []Kept
	manifests []*trial.SeriesManifest
	summaries []*trial.SeriesSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[trial.Key][]trial.IncrementRecord),
		outcomes: make(map[trial.Key]*trial.Outcome),
	}
}

func (s *MemoryStore) Append(ctx context.Context, key trial.Key, record trial.IncrementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = append(s.records[key], record)
	return nil
}

func (s *MemoryStore) SaveManifest(ctx context.Context, manifest *trial.SeriesManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests = append(s.manifests, manifest)
	return nil
}

func (s *MemoryStore) SaveOutcome(ctx context.Context, key trial.Key, outcome *trial.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[key] = outcome
	return nil
}

func (s *MemoryStore) SaveSummary(ctx context.Context, summary *trial.SeriesSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, summary)
	return nil
}

func (s *MemoryStore) Keep(ctx context.Context, trialDir string, artifact ports.Artifact, used []cohort.Fold) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kept = append(s.kept, Kept{TrialDir: trialDir, Artifact: artifact, Folds: append([]cohort.Fold(nil), used...)})
	return artifact.ID, nil
}

// Records returns the records appended for a trial
func (s *MemoryStore) Records(key trial.Key) []trial.IncrementRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]trial.IncrementRecord(nil), s.records[key]...)
}

// Outcome returns the saved outcome of a trial
func (s *MemoryStore) Outcome(key trial.Key) *trial.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcomes[key]
}

// KeptArtifacts returns every Keep call in order
func (s *MemoryStore) KeptArtifacts() []Kept {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Kept(nil), s.kept...)
}

// Manifests returns the saved series manifests
func (s *MemoryStore) Manifests() []*trial.SeriesManifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*trial.SeriesManifest(nil), s.manifests...)
}

// Summaries returns the saved series summaries
func (s *MemoryStore) Summaries() []*trial.SeriesSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*trial.SeriesSummary(nil), s.summaries...)
}
