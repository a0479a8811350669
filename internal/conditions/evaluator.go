// Package conditions evaluates indicator rule trees with three-valued logic.
package conditions

import (
	"fmt"

	"github.com/kjannette/trahn-botengine/internal/models"
)

// Result is the outcome of evaluating a rule tree against one snapshot.
type Result struct {
	Verdict  models.Verdict    `json:"verdict"`
	Evidence []models.Evidence `json:"evidence"`
	Summary  string            `json:"summary"`
}

// Evaluate evaluates every leaf exactly once, then combines.
//
// AND: any indeterminate leaf makes the tree false; otherwise all leaves must be true.
// OR: only determinate leaves count; the tree is indeterminate only when every leaf is.
// An empty tree is indeterminate.
func Evaluate(tree models.RuleTree, snap models.MarketSnapshot) Result {
	evidence := make([]models.Evidence, 0, len(tree.Conditions))
	var trues, falses, unknown int
	for _, c := range tree.Conditions {
		ev := evaluateLeaf(c, snap)
		switch ev.Result {
		case models.VerdictTrue:
			trues++
		case models.VerdictFalse:
			falses++
		default:
			unknown++
		}
		evidence = append(evidence, ev)
	}

	op := tree.Operator
	if op == "" {
		op = models.OperatorAND
	}

	res := Result{Evidence: evidence}
	switch {
	case len(tree.Conditions) == 0:
		res.Verdict = models.VerdictIndeterminate
	case op == models.OperatorOR:
		switch {
		case trues > 0:
			res.Verdict = models.VerdictTrue
		case falses > 0:
			res.Verdict = models.VerdictFalse
		default:
			res.Verdict = models.VerdictIndeterminate
		}
	default:
		if trues == len(tree.Conditions) {
			res.Verdict = models.VerdictTrue
		} else {
			res.Verdict = models.VerdictFalse
		}
	}
	res.Summary = summarize(op, len(tree.Conditions), trues, unknown)
	return res
}

func evaluateLeaf(c models.Condition, snap models.MarketSnapshot) models.Evidence {
	ev := models.Evidence{
		Indicator:  c.Indicator,
		Timeframe:  c.Timeframe,
		Output:     c.Output,
		Comparator: c.Comparator,
		Threshold:  c.Threshold,
		Result:     models.VerdictIndeterminate,
	}
	if !c.Comparator.Valid() {
		return ev
	}
	v, ok := snap.Lookup(c.Indicator, c.Timeframe, c.Output)
	if !ok {
		return ev
	}
	ev.Value = &v
	if c.Comparator.Compare(v, c.Threshold) {
		ev.Result = models.VerdictTrue
	} else {
		ev.Result = models.VerdictFalse
	}
	return ev
}

func summarize(op models.Operator, total, trues, unknown int) string {
	s := fmt.Sprintf("%s %d/%d true", op, trues, total)
	if unknown > 0 {
		s += fmt.Sprintf(" (%d indeterminate)", unknown)
	}
	return s
}
