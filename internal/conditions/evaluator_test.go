package conditions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/trahn-botengine/internal/models"
)

func snapshot(values map[string]float64) models.MarketSnapshot {
	return models.MarketSnapshot{Pair: "BTCUSD", Price: 50000, Indicators: values}
}

func rsi(cmp models.Comparator, threshold float64) models.Condition {
	return models.Condition{Indicator: "RSI", Timeframe: "1h", Comparator: cmp, Threshold: threshold}
}

func TestEvaluateSingleLeaf(t *testing.T) {
	tree := models.RuleTree{Operator: models.OperatorAND, Conditions: []models.Condition{rsi(models.CompLT, 30)}}

	res := Evaluate(tree, snapshot(map[string]float64{"RSI:1h": 25}))
	assert.Equal(t, models.VerdictTrue, res.Verdict)
	assert.Equal(t, "AND 1/1 true", res.Summary)
	require.Len(t, res.Evidence, 1)
	require.NotNil(t, res.Evidence[0].Value)
	assert.Equal(t, 25.0, *res.Evidence[0].Value)

	res = Evaluate(tree, snapshot(map[string]float64{"RSI:1h": 45}))
	assert.Equal(t, models.VerdictFalse, res.Verdict)
}

func TestEvaluateAndWithMissingLeafIsFalse(t *testing.T) {
	tree := models.RuleTree{Operator: models.OperatorAND, Conditions: []models.Condition{
		rsi(models.CompLT, 30),
		{Indicator: "MACD", Timeframe: "1h", Output: "histogram", Comparator: models.CompGT, Threshold: 0},
	}}

	res := Evaluate(tree, snapshot(map[string]float64{"RSI:1h": 20}))
	assert.Equal(t, models.VerdictFalse, res.Verdict)
	require.Len(t, res.Evidence, 2, "every leaf is reported")
	assert.Equal(t, models.VerdictTrue, res.Evidence[0].Result)
	assert.Equal(t, models.VerdictIndeterminate, res.Evidence[1].Result)
	assert.Nil(t, res.Evidence[1].Value)
	assert.Equal(t, "AND 1/2 true (1 indeterminate)", res.Summary)
}

func TestEvaluateOr(t *testing.T) {
	tree := models.RuleTree{Operator: models.OperatorOR, Conditions: []models.Condition{
		rsi(models.CompGT, 70),
		{Indicator: "BB", Timeframe: "4h", Output: "upper", Comparator: models.CompLT, Threshold: 60000},
	}}

	t.Run("one determinate true", func(t *testing.T) {
		res := Evaluate(tree, snapshot(map[string]float64{"BB:4h:upper": 55000}))
		assert.Equal(t, models.VerdictTrue, res.Verdict)
		assert.Len(t, res.Evidence, 2)
	})
	t.Run("determinate false", func(t *testing.T) {
		res := Evaluate(tree, snapshot(map[string]float64{"RSI:1h": 50}))
		assert.Equal(t, models.VerdictFalse, res.Verdict)
	})
	t.Run("all missing", func(t *testing.T) {
		res := Evaluate(tree, snapshot(nil))
		assert.Equal(t, models.VerdictIndeterminate, res.Verdict)
	})
}

func TestEvaluateEmptyTree(t *testing.T) {
	res := Evaluate(models.RuleTree{Operator: models.OperatorAND}, snapshot(map[string]float64{"RSI:1h": 10}))
	assert.Equal(t, models.VerdictIndeterminate, res.Verdict)
	assert.Empty(t, res.Evidence)
}

func TestEvaluateComparators(t *testing.T) {
	cases := []struct {
		cmp  models.Comparator
		want models.Verdict
	}{
		{models.CompLT, models.VerdictFalse},
		{models.CompLTE, models.VerdictTrue},
		{models.CompGT, models.VerdictFalse},
		{models.CompGTE, models.VerdictTrue},
	}
	for _, tc := range cases {
		tree := models.RuleTree{Operator: models.OperatorAND, Conditions: []models.Condition{rsi(tc.cmp, 30)}}
		res := Evaluate(tree, snapshot(map[string]float64{"RSI:1h": 30}))
		assert.Equal(t, tc.want, res.Verdict, "comparator %s", tc.cmp)
	}
}

func TestEvaluatePriceFallsBackToSnapshotPrice(t *testing.T) {
	tree := models.RuleTree{Operator: models.OperatorAND, Conditions: []models.Condition{
		{Indicator: "PRICE", Timeframe: "1m", Comparator: models.CompGT, Threshold: 40000},
	}}
	res := Evaluate(tree, snapshot(nil))
	assert.Equal(t, models.VerdictTrue, res.Verdict)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	tree := models.RuleTree{Operator: models.OperatorOR, Conditions: []models.Condition{
		rsi(models.CompLT, 30),
		{Indicator: "STOCH", Timeframe: "15m", Output: "k", Comparator: models.CompLT, Threshold: 20},
		{Indicator: "ADX", Timeframe: "1d", Comparator: models.CompGT, Threshold: 25},
	}}
	snap := snapshot(map[string]float64{"RSI:1h": 31, "STOCH:15m:k": 12})

	first := Evaluate(tree, snap)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Evaluate(tree, snap))
	}
}

func TestValidateTree(t *testing.T) {
	good := models.RuleTree{Operator: models.OperatorAND, Conditions: []models.Condition{
		rsi(models.CompLT, 30),
		{Indicator: "macd", Timeframe: "4h", Output: "signal", Comparator: models.CompGT, Threshold: 0},
	}}
	require.NoError(t, ValidateTree("entry", good))

	cases := map[string]models.Condition{
		"unknown indicator":  {Indicator: "FOO", Timeframe: "1h", Comparator: models.CompLT},
		"unknown timeframe":  {Indicator: "RSI", Timeframe: "2h", Comparator: models.CompLT},
		"unknown comparator": {Indicator: "RSI", Timeframe: "1h", Comparator: "=="},
		"missing output":     {Indicator: "BB", Timeframe: "1h", Comparator: models.CompLT},
		"bad output":         {Indicator: "BB", Timeframe: "1h", Output: "top", Comparator: models.CompLT},
		"output on scalar":   {Indicator: "RSI", Timeframe: "1h", Output: "k", Comparator: models.CompLT},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			tree := models.RuleTree{Operator: models.OperatorAND, Conditions: []models.Condition{c}}
			assert.Error(t, ValidateTree("entry", tree))
		})
	}

	assert.Error(t, ValidateTree("entry", models.RuleTree{Operator: "XOR"}))
}

func TestCatalogGroupsByCategory(t *testing.T) {
	cats := Categories()
	assert.Contains(t, cats["momentum"], "RSI")
	assert.Contains(t, cats["volatility"], "BB")
	assert.Contains(t, cats["volume"], "VOLUME")
	assert.Len(t, Catalog(), 10)
}
