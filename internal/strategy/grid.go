package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"github.com/kjannette/trahn-botengine/internal/models"
)

// GridLevel is one price line of a grid. Index is 1-based from the lower bound.
type GridLevel struct {
	Index int     `json:"index"`
	Price float64 `json:"price"`
}

type GridStats struct {
	Levels       int     `json:"levels"`
	LowestPrice  float64 `json:"lowestPrice"`
	HighestPrice float64 `json:"highestPrice"`
	LevelsBelow  int     `json:"levelsBelow"`
	LevelsAbove  int     `json:"levelsAbove"`
	OrderAmount  float64 `json:"orderAmount"`
}

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// CalculateGridLevels returns GridCount levels from LowerPrice to UpperPrice inclusive,
// sorted ascending.
func CalculateGridLevels(p models.GridParams) ([]GridLevel, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	lower := decimal.NewFromFloat(p.LowerPrice)
	upper := decimal.NewFromFloat(p.UpperPrice)
	steps := int64(p.GridCount - 1)

	grid := make([]GridLevel, p.GridCount)
	switch p.Spacing {
	case models.SpacingGeometric:
		ratio := decimal.NewFromFloat(math.Pow(p.UpperPrice/p.LowerPrice, 1/float64(steps)))
		price := lower
		for i := range grid {
			grid[i] = GridLevel{Index: i + 1, Price: price.InexactFloat64()}
			price = price.Mul(ratio)
		}
	default:
		step := upper.Sub(lower).Div(decimal.NewFromInt(steps))
		for i := range grid {
			price := lower.Add(step.Mul(decimal.NewFromInt(int64(i))))
			grid[i] = GridLevel{Index: i + 1, Price: price.InexactFloat64()}
		}
	}
	// pin the top level so rounding never leaves it short of the bound
	grid[len(grid)-1].Price = p.UpperPrice
	return grid, nil
}

// FindCrossedLevel returns the level crossed when price moves from ref to current.
// When several levels are crossed in one move, the one nearest current wins.
func FindCrossedLevel(grid []GridLevel, ref, current float64) (*GridLevel, Direction) {
	switch {
	case current > ref:
		for i := len(grid) - 1; i >= 0; i-- {
			if grid[i].Price > ref && grid[i].Price <= current {
				return &grid[i], DirectionUp
			}
		}
	case current < ref:
		for i := range grid {
			if grid[i].Price < ref && grid[i].Price >= current {
				return &grid[i], DirectionDown
			}
		}
	}
	return nil, ""
}

// SideFor maps a crossing direction to the order it triggers: sell into rises, buy into dips.
func SideFor(d Direction) models.Side {
	if d == DirectionUp {
		return models.SideSell
	}
	return models.SideBuy
}

func GridTrigger(level int, d Direction) string {
	return fmt.Sprintf("grid_level_cross:level=%d,direction=%s", level, d)
}

// OrderQuantity converts a quote amount into base quantity at price.
func OrderQuantity(amount, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return decimal.NewFromFloat(amount).Div(decimal.NewFromFloat(price)).InexactFloat64()
}

func GetGridStats(grid []GridLevel, price, orderAmount float64) GridStats {
	if len(grid) == 0 {
		return GridStats{}
	}
	s := GridStats{
		Levels:       len(grid),
		LowestPrice:  grid[0].Price,
		HighestPrice: grid[len(grid)-1].Price,
		OrderAmount:  orderAmount,
	}
	for _, l := range grid {
		switch {
		case l.Price < price:
			s.LevelsBelow++
		case l.Price > price:
			s.LevelsAbove++
		}
	}
	return s
}

func IsPriceOutsideGrid(currentPrice float64, grid []GridLevel) bool {
	if len(grid) == 0 {
		return true
	}
	return currentPrice < grid[0].Price || currentPrice > grid[len(grid)-1].Price
}

// FormatGridTable renders the grid top-down with the reference price marked.
func FormatGridTable(pair string, grid []GridLevel, refPrice, orderAmount float64) string {
	if len(grid) == 0 {
		return "No grid levels initialized."
	}
	sorted := make([]GridLevel, len(grid))
	copy(sorted, grid)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price > sorted[j].Price })

	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("GRID %s", pair))
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Level", "Price", "On cross up", "On cross down"})
	marked := false
	for _, l := range sorted {
		marker := ""
		if !marked && refPrice > 0 && l.Price <= refPrice {
			marker = " <"
			marked = true
		}
		t.AppendRow(table.Row{l.Index, fmt.Sprintf("%.2f%s", l.Price, marker), "SELL", "BUY"})
	}
	t.AppendSeparator()
	t.AppendFooter(table.Row{"", fmt.Sprintf("ref %.2f", refPrice), fmt.Sprintf("$%.2f/level", orderAmount), ""})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
	})
	return t.Render()
}
