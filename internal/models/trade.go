package models

import "time"

// A trade is a DecisionLogEntry with outcome "trade"; TradeStats aggregates them.
type TradeStats struct {
	TotalTrades int64      `json:"totalTrades"`
	BuyCount    int64      `json:"buyCount"`
	SellCount   int64      `json:"sellCount"`
	TotalVolume float64    `json:"totalVolume"`
	TotalFees   float64    `json:"totalFees"`
	RealizedPnL float64    `json:"realizedPnl"`
	AvgPrice    *float64   `json:"avgPrice"`
	FirstTrade  *time.Time `json:"firstTrade"`
	LastTrade   *time.Time `json:"lastTrade"`
}

// SummarizeTrades ignores entries that are not trades.
func SummarizeTrades(entries []DecisionLogEntry) TradeStats {
	var s TradeStats
	var priceSum float64
	for _, e := range entries {
		if !e.IsTrade() {
			continue
		}
		s.TotalTrades++
		switch e.Side {
		case SideBuy:
			s.BuyCount++
		case SideSell:
			s.SellCount++
		}
		s.TotalVolume += e.Price * e.Quantity
		s.TotalFees += e.Fee
		s.RealizedPnL += e.PnLDelta
		priceSum += e.Price

		ts := e.Timestamp
		if s.FirstTrade == nil || ts.Before(*s.FirstTrade) {
			s.FirstTrade = &ts
		}
		if s.LastTrade == nil || ts.After(*s.LastTrade) {
			s.LastTrade = &ts
		}
	}
	if s.TotalTrades > 0 {
		avg := priceSum / float64(s.TotalTrades)
		s.AvgPrice = &avg
	}
	return s
}
