package models

import (
	"strings"
	"time"
)

// MarketSnapshot is the price plus pre-computed indicator values for one pair at one instant.
// Indicators are keyed by IndicatorKey.
type MarketSnapshot struct {
	Pair       string             `json:"pair"`
	Price      float64            `json:"price"`
	At         time.Time          `json:"at"`
	Indicators map[string]float64 `json:"indicators"`
}

// IndicatorKey builds "RSI:1h" or "MACD:1h:signal".
func IndicatorKey(indicator, timeframe, output string) string {
	key := strings.ToUpper(indicator) + ":" + timeframe
	if output != "" {
		key += ":" + strings.ToLower(output)
	}
	return key
}

// Lookup returns the value for a leaf. PRICE falls back to the snapshot price.
func (s MarketSnapshot) Lookup(indicator, timeframe, output string) (float64, bool) {
	if v, ok := s.Indicators[IndicatorKey(indicator, timeframe, output)]; ok {
		return v, true
	}
	if strings.EqualFold(indicator, "PRICE") && output == "" && s.Price > 0 {
		return s.Price, true
	}
	return 0, false
}
