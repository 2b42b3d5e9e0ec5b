package testkit

import (
	"fmt"
	"math/rand"

	"gofinetune/domain/cohort"
	"gofinetune/domain/core"
)

// CohortGeneratorConfig configures the synthetic external cohort
type CohortGeneratorConfig struct {
	Negatives int   `json:"negatives"`
	Positives int   `json:"positives"`
	MinClips  int   `json:"min_clips"`
	MaxClips  int   `json:"max_clips"`
	Seed      int64 `json:"seed"`
}

// DefaultCohortConfig returns an 80/20 cohort with one to four clips per subject
func DefaultCohortConfig() CohortGeneratorConfig {
	return CohortGeneratorConfig{
		Negatives: 80,
		Positives: 20,
		MinClips:  1,
		MaxClips:  4,
		Seed:      42,
	}
}

// CohortGenerator produces clip rows for synthetic subjects
type CohortGenerator struct {
	config CohortGeneratorConfig
	rng    *rand.Rand
}

func NewCohortGenerator(config CohortGeneratorConfig) *CohortGenerator {
	if config.MinClips <= 0 {
		config.MinClips = 1
	}
	if config.MaxClips < config.MinClips {
		config.MaxClips = config.MinClips
	}
	return &CohortGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Generate returns the examples of every subject. Subject ids are numbered
// independently of their labels so id order carries no class signal.
func (g *CohortGenerator) Generate() []cohort.Example {
	total := g.config.Negatives + g.config.Positives
	labels := make([]cohort.Label, total)
	for i := g.config.Negatives; i < total; i++ {
		labels[i] = cohort.LabelPositive
	}
	g.rng.Shuffle(total, func(i, j int) { labels[i], labels[j] = labels[j], labels[i] })

	var examples []cohort.Example
	for i, label := range labels {
		subject := core.SubjectID(fmt.Sprintf("pt-%04d", i))
		clips := g.config.MinClips + g.rng.Intn(g.config.MaxClips-g.config.MinClips+1)
		for c := 0; c < clips; c++ {
			examples = append(examples, cohort.Example{
				ID:        core.ExampleID(fmt.Sprintf("%s-clip-%02d", subject, c)),
				SubjectID: subject,
				FileRef:   fmt.Sprintf("external/%s/clip_%02d.npz", subject, c),
				Label:     label,
			})
		}
	}
	return examples
}
