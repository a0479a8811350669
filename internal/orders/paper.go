package orders

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kjannette/trahn-botengine/internal/engine"
	"github.com/kjannette/trahn-botengine/internal/models"
)

// PaperAccount is the simulator's running tally for one bot.
type PaperAccount struct {
	Orders     int     `json:"orders"`
	BuyOrders  int     `json:"buyOrders"`
	SellOrders int     `json:"sellOrders"`
	BaseDelta  float64 `json:"baseDelta"`
	QuoteDelta float64 `json:"quoteDelta"`
	FeesPaid   float64 `json:"feesPaid"`
}

// PaperPlacer fills every order immediately at the reference price moved against the
// trader by a random slippage in [0, SlippagePercent], charging FeePercent of notional.
type PaperPlacer struct {
	SlippagePercent float64
	FeePercent      float64

	mu       sync.Mutex
	rand     func() float64
	accounts map[string]*PaperAccount
}

func NewPaperPlacer(slippagePct, feePct float64) *PaperPlacer {
	return &PaperPlacer{
		SlippagePercent: slippagePct,
		FeePercent:      feePct,
		rand:            rand.Float64,
		accounts:        make(map[string]*PaperAccount),
	}
}

func (p *PaperPlacer) Place(ctx context.Context, req Request) (engine.Fill, error) {
	if err := ctx.Err(); err != nil {
		return engine.Fill{}, err
	}
	if err := req.validate(); err != nil {
		return engine.Fill{}, err
	}
	if req.Price <= 0 {
		return engine.Fill{}, ErrRejected
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	slip := decimal.NewFromFloat(p.rand() * p.SlippagePercent / 100)
	ref := decimal.NewFromFloat(req.Price)
	exec := ref.Mul(decimal.NewFromInt(1).Add(slip))
	if req.Side == models.SideSell {
		exec = ref.Mul(decimal.NewFromInt(1).Sub(slip))
	}

	qty := decimal.NewFromFloat(req.Quantity)
	if !qty.IsPositive() {
		qty = decimal.NewFromFloat(req.Amount).Div(exec)
	}
	qty = qty.Round(8)
	notional := exec.Mul(qty)
	fee := notional.Mul(decimal.NewFromFloat(p.FeePercent / 100)).Round(8)

	acct := p.account(req.BotID)
	acct.Orders++
	acct.FeesPaid = decimal.NewFromFloat(acct.FeesPaid).Add(fee).InexactFloat64()
	if req.Side == models.SideBuy {
		acct.BuyOrders++
		acct.BaseDelta = decimal.NewFromFloat(acct.BaseDelta).Add(qty).InexactFloat64()
		acct.QuoteDelta = decimal.NewFromFloat(acct.QuoteDelta).Sub(notional).Sub(fee).InexactFloat64()
	} else {
		acct.SellOrders++
		acct.BaseDelta = decimal.NewFromFloat(acct.BaseDelta).Sub(qty).InexactFloat64()
		acct.QuoteDelta = decimal.NewFromFloat(acct.QuoteDelta).Add(notional).Sub(fee).InexactFloat64()
	}

	return engine.Fill{
		OrderID:  "paper-" + uuid.NewString(),
		Price:    exec.Round(8).InexactFloat64(),
		Quantity: qty.InexactFloat64(),
		Fee:      fee.InexactFloat64(),
		Filled:   true,
	}, nil
}

// CancelOpen is a no-op: paper orders never rest.
func (p *PaperPlacer) CancelOpen(context.Context, string, string) (int, error) {
	return 0, nil
}

// Status always fails: paper orders fill inside Place.
func (p *PaperPlacer) Status(_ context.Context, orderID string) (Status, error) {
	return Status{}, fmt.Errorf("paper order %s: %w", orderID, ErrUnknownOrder)
}

// Account returns a copy of the bot's paper tally.
func (p *PaperPlacer) Account(botID string) PaperAccount {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.accounts[botID]; ok {
		return *a
	}
	return PaperAccount{}
}

func (p *PaperPlacer) account(botID string) *PaperAccount {
	a, ok := p.accounts[botID]
	if !ok {
		a = &PaperAccount{}
		p.accounts[botID] = a
	}
	return a
}
