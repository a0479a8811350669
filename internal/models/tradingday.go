package models

import "time"

// TradingDay returns the trading day (YYYY-MM-DD) for ts. Days roll over at cutoffHour UTC.
func TradingDay(ts time.Time, cutoffHour int) string {
	utc := ts.UTC()
	day := utc
	if utc.Hour() < cutoffHour {
		day = day.AddDate(0, 0, -1)
	}
	return day.Format("2006-01-02")
}
