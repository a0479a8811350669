package conditions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kjannette/trahn-botengine/internal/models"
)

// ValidateTree rejects anything the evaluator could not interpret. All problems are reported.
func ValidateTree(name string, tree models.RuleTree) error {
	var errs []error
	switch tree.Operator {
	case models.OperatorAND, models.OperatorOR:
	default:
		errs = append(errs, fmt.Errorf("%s: operator must be AND or OR, got %q", name, tree.Operator))
	}
	for i, c := range tree.Conditions {
		if err := ValidateCondition(c); err != nil {
			errs = append(errs, fmt.Errorf("%s.conditions[%d]: %w", name, i, err))
		}
	}
	return errors.Join(errs...)
}

func ValidateCondition(c models.Condition) error {
	ind, ok := Lookup(c.Indicator)
	if !ok {
		return fmt.Errorf("unknown indicator %q", c.Indicator)
	}
	if !validTimeframe(c.Timeframe) {
		return fmt.Errorf("unknown timeframe %q for %s", c.Timeframe, ind.Name)
	}
	if !c.Comparator.Valid() {
		return fmt.Errorf("unknown comparator %q", c.Comparator)
	}
	switch {
	case len(ind.Outputs) == 0 && c.Output != "":
		return fmt.Errorf("%s has no output %q", ind.Name, c.Output)
	case len(ind.Outputs) > 0 && c.Output == "":
		return fmt.Errorf("%s requires an output (one of %s)", ind.Name, strings.Join(ind.Outputs, ", "))
	case len(ind.Outputs) > 0 && !ind.hasOutput(c.Output):
		return fmt.Errorf("%s has no output %q", ind.Name, c.Output)
	}
	return nil
}
