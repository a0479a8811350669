package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/kjannette/trahn-botengine/internal/engine"
	"github.com/kjannette/trahn-botengine/internal/models"
)

var (
	// ErrNoVenue means the bot's mode has no configured venue.
	ErrNoVenue = errors.New("no order venue configured")
	// ErrRejected means the venue refused the order.
	ErrRejected = errors.New("order rejected")
	// ErrUnknownOrder means the venue has no record of the order id.
	ErrUnknownOrder = errors.New("unknown order")
)

type OrderState string

const (
	StateOpen      OrderState = "open"
	StateFilled    OrderState = "filled"
	StateCancelled OrderState = "cancelled"
)

// Status is the venue's current view of a resting order. Fill is set once State is
// filled.
type Status struct {
	State OrderState
	Fill  engine.Fill
}

// Done reports whether the order left the book.
func (s Status) Done() bool { return s.State == StateFilled || s.State == StateCancelled }

// Request is one order handed to a venue. Amount is in quote currency; Quantity is the
// base amount the strategy computed at Price.
type Request struct {
	ClientOrderID string
	BotID         string
	OwnerID       string
	Pair          string
	Mode          models.Mode
	Side          models.Side
	Amount        float64
	Price         float64
	Quantity      float64
}

func (r Request) validate() error {
	if r.Side != models.SideBuy && r.Side != models.SideSell {
		return fmt.Errorf("invalid side %q", r.Side)
	}
	if r.Amount <= 0 && r.Quantity <= 0 {
		return errors.New("order needs an amount or quantity")
	}
	return nil
}

// Placer submits orders to a venue.
type Placer interface {
	Place(ctx context.Context, req Request) (engine.Fill, error)
	// CancelOpen cancels every resting order for the bot and returns how many were cancelled.
	CancelOpen(ctx context.Context, botID, pair string) (int, error)
	// Status looks up an order previously returned unfilled by Place.
	Status(ctx context.Context, orderID string) (Status, error)
}

// Router sends paper orders to the simulator and live orders to the gateway.
type Router struct {
	paper Placer
	live  Placer
}

// NewRouter accepts a nil live placer; live orders then fail with ErrNoVenue.
func NewRouter(paper, live Placer) *Router {
	return &Router{paper: paper, live: live}
}

func (r *Router) venue(mode models.Mode) (Placer, error) {
	switch mode {
	case models.ModePaper:
		return r.paper, nil
	case models.ModeLive:
		if r.live == nil {
			return nil, ErrNoVenue
		}
		return r.live, nil
	}
	return nil, fmt.Errorf("unknown mode %q", mode)
}

func (r *Router) Place(ctx context.Context, req Request) (engine.Fill, error) {
	v, err := r.venue(req.Mode)
	if err != nil {
		return engine.Fill{}, err
	}
	return v.Place(ctx, req)
}

// CancelFor cancels resting orders on the venue matching mode.
func (r *Router) CancelFor(ctx context.Context, mode models.Mode, botID, pair string) (int, error) {
	v, err := r.venue(mode)
	if err != nil {
		return 0, err
	}
	return v.CancelOpen(ctx, botID, pair)
}

// StatusFor asks the venue matching mode about a resting order.
func (r *Router) StatusFor(ctx context.Context, mode models.Mode, orderID string) (Status, error) {
	v, err := r.venue(mode)
	if err != nil {
		return Status{}, err
	}
	return v.Status(ctx, orderID)
}
