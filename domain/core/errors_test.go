package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorTaxonomy(t *testing.T) {
	if !IsConfigError(NewMetricMissingError("sensitivity")) {
		t.Error("missing metric must classify as a configuration error")
	}
	if !errors.Is(NewMetricMissingError("sensitivity"), ErrMetricMissing) {
		t.Error("missing metric must match ErrMetricMissing")
	}
	if !IsInvariantError(fmt.Errorf("ledger: %w", ErrDoubleGraft)) {
		t.Error("double graft must classify as an invariant error")
	}
	if !IsDataIntegrityError(ErrCorruptFolds) {
		t.Error("corrupt fold file must classify as a data integrity error")
	}
	if IsConfigError(ErrInvariant) {
		t.Error("invariant error must not classify as configuration error")
	}
}

func TestNewTrainingError_CarriesPosition(t *testing.T) {
	cause := errors.New("out of memory")
	err := NewTrainingError(2, 3, "fit", cause)

	if !IsTrainingError(err) {
		t.Fatal("expected training error")
	}
	if !errors.Is(err, cause) {
		t.Error("training error must keep its cause in the chain")
	}

	var te *TrialError
	if !errors.As(err, &te) {
		t.Fatal("expected TrialError in chain")
	}
	if te.Trial != 2 || te.Increment != 3 {
		t.Errorf("unexpected position trial=%d increment=%d", te.Trial, te.Increment)
	}
	if !strings.HasPrefix(err.Error(), "trial 3 increment 3: ") {
		t.Errorf("message should number trials from 1: %q", err.Error())
	}
}

func TestWithTrialContext_DoesNotDoubleWrap(t *testing.T) {
	inner := NewTrainingError(1, 1, "predict", errors.New("boom"))
	outer := WithTrialContext(fmt.Errorf("runner: %w", inner), 9, 9)

	var te *TrialError
	if !errors.As(outer, &te) {
		t.Fatal("expected TrialError")
	}
	if te.Trial != 1 {
		t.Errorf("existing trial context was overwritten: %d", te.Trial)
	}
	if WithTrialContext(nil, 0, 0) != nil {
		t.Error("nil error must stay nil")
	}
}
