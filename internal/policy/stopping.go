// Package policy decides whether a metrics record meets the acceptance
// bounds that stop a trial.
package policy

import (
	"sort"
	"strings"

	"gofinetune/domain/core"
	"gofinetune/domain/verdict"
)

// Passes reports whether every configured lower bound is met from above and
// every upper bound from below. A bounded metric missing from metrics is a
// configuration error. Names compare case-insensitively.
func Passes(metrics, lower, upper map[string]float64) (bool, error) {
	v, err := New(lower, upper).Evaluate(metrics)
	if err != nil {
		return false, err
	}
	return v.Passed, nil
}

// StoppingPolicy holds normalized lower and upper bounds
type StoppingPolicy struct {
	lower map[string]float64
	upper map[string]float64
}

// New copies the bounds with lower-cased names
func New(lower, upper map[string]float64) *StoppingPolicy {
	return &StoppingPolicy{
		lower: normalize(lower),
		upper: normalize(upper),
	}
}

// Bounded returns the names of every bounded metric, sorted
func (p *StoppingPolicy) Bounded() []string {
	set := make(map[string]bool, len(p.lower)+len(p.upper))
	for name := range p.lower {
		set[name] = true
	}
	for name := range p.upper {
		set[name] = true
	}
	return sortedNames(set)
}

// Evaluate checks metrics against every bound and lists each violation.
// An empty policy passes anything.
func (p *StoppingPolicy) Evaluate(metrics map[string]float64) (verdict.Verdict, error) {
	values := normalize(metrics)
	v := verdict.Verdict{Passed: true}

	for _, kind := range []struct {
		bounds map[string]float64
		kind   verdict.BoundKind
	}{
		{p.lower, verdict.BoundLower},
		{p.upper, verdict.BoundUpper},
	} {
		for _, name := range sortedKeys(kind.bounds) {
			bound := kind.bounds[name]
			value, ok := values[name]
			if !ok {
				return verdict.Verdict{}, core.NewMetricMissingError(name)
			}
			v.Checked++
			violated := value < bound
			if kind.kind == verdict.BoundUpper {
				violated = value > bound
			}
			if violated {
				v.Passed = false
				v.Failures = append(v.Failures, verdict.BoundFailure{
					Metric: name,
					Kind:   kind.kind,
					Bound:  bound,
					Value:  value,
				})
			}
		}
	}
	return v, nil
}

func normalize(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedNames(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for k := range set {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
