package conditions

import (
	"sort"
	"strings"
)

type Indicator struct {
	Name        string   `json:"name"`
	Label       string   `json:"label"`
	Category    string   `json:"category"`
	Outputs     []string `json:"outputs,omitempty"`
	Description string   `json:"description"`
}

// Timeframes supported by the indicator feed, shortest first.
var Timeframes = []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d", "1w"}

var catalog = map[string]Indicator{
	"RSI": {Name: "RSI", Label: "Relative Strength Index", Category: "momentum",
		Description: "Momentum oscillator between 0 and 100"},
	"MACD": {Name: "MACD", Label: "Moving Average Convergence Divergence", Category: "momentum",
		Outputs: []string{"macd", "signal", "histogram"}, Description: "Difference of fast and slow EMAs"},
	"STOCH": {Name: "STOCH", Label: "Stochastic Oscillator", Category: "momentum",
		Outputs: []string{"k", "d"}, Description: "Close relative to the recent high/low range"},
	"EMA": {Name: "EMA", Label: "Exponential Moving Average", Category: "trend",
		Description: "Exponentially weighted average price"},
	"SMA": {Name: "SMA", Label: "Simple Moving Average", Category: "trend",
		Description: "Arithmetic average price"},
	"ADX": {Name: "ADX", Label: "Average Directional Index", Category: "trend",
		Description: "Trend strength between 0 and 100"},
	"PRICE": {Name: "PRICE", Label: "Last Price", Category: "trend",
		Description: "Last traded price of the pair"},
	"BB": {Name: "BB", Label: "Bollinger Bands", Category: "volatility",
		Outputs: []string{"upper", "middle", "lower"}, Description: "SMA with standard-deviation bands"},
	"ATR": {Name: "ATR", Label: "Average True Range", Category: "volatility",
		Description: "Average range per candle"},
	"VOLUME": {Name: "VOLUME", Label: "Volume", Category: "volume",
		Description: "Traded base volume per candle"},
}

// Lookup returns the catalogue entry for name, case-insensitively.
func Lookup(name string) (Indicator, bool) {
	ind, ok := catalog[strings.ToUpper(name)]
	return ind, ok
}

// Catalog lists every indicator sorted by category then name.
func Catalog() []Indicator {
	out := make([]Indicator, 0, len(catalog))
	for _, ind := range catalog {
		out = append(out, ind)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Categories groups indicator names by category.
func Categories() map[string][]string {
	out := make(map[string][]string)
	for _, ind := range Catalog() {
		out[ind.Category] = append(out[ind.Category], ind.Name)
	}
	return out
}

func validTimeframe(tf string) bool {
	for _, t := range Timeframes {
		if t == tf {
			return true
		}
	}
	return false
}

func (ind Indicator) hasOutput(out string) bool {
	for _, o := range ind.Outputs {
		if o == strings.ToLower(out) {
			return true
		}
	}
	return false
}
