package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-botengine/internal/engine"
	"github.com/kjannette/trahn-botengine/internal/httputil"
)

// GatewayPlacer forwards live orders to an HTTP order gateway. The client order id
// doubles as the idempotency key, so retried POSTs never place twice.
type GatewayPlacer struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retry   httputil.RetryConfig
}

func NewGatewayPlacer(baseURL, apiKey string, log *logrus.Entry) *GatewayPlacer {
	retry := httputil.DefaultRetry
	retry.Log = log
	return &GatewayPlacer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		retry:   retry,
	}
}

type gatewayOrder struct {
	ClientOrderID string  `json:"clientOrderId"`
	BotID         string  `json:"botId"`
	Pair          string  `json:"pair"`
	Side          string  `json:"side"`
	Amount        float64 `json:"amount"`
	Quantity      float64 `json:"quantity"`
	Price         float64 `json:"price"`
}

type gatewayFill struct {
	OrderID  string  `json:"orderId"`
	Status   string  `json:"status"` // filled | open | rejected | cancelled
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Fee      float64 `json:"fee"`
	Reason   string  `json:"reason"`
}

func (g *GatewayPlacer) Place(ctx context.Context, req Request) (engine.Fill, error) {
	if err := req.validate(); err != nil {
		return engine.Fill{}, err
	}
	body, err := json.Marshal(gatewayOrder{
		ClientOrderID: req.ClientOrderID,
		BotID:         req.BotID,
		Pair:          req.Pair,
		Side:          string(req.Side),
		Amount:        req.Amount,
		Quantity:      req.Quantity,
		Price:         req.Price,
	})
	if err != nil {
		return engine.Fill{}, err
	}

	var out gatewayFill
	if err := g.call(ctx, http.MethodPost, "/orders", req.ClientOrderID, body, &out); err != nil {
		return engine.Fill{}, err
	}

	switch out.Status {
	case "filled":
		return engine.Fill{OrderID: out.OrderID, Price: out.Price, Quantity: out.Quantity, Fee: out.Fee, Filled: true}, nil
	case "open":
		return engine.Fill{OrderID: out.OrderID, Price: req.Price, Quantity: req.Quantity}, nil
	case "rejected":
		return engine.Fill{}, fmt.Errorf("%w: %s", ErrRejected, out.Reason)
	}
	return engine.Fill{}, fmt.Errorf("gateway returned unknown status %q", out.Status)
}

// Status polls GET /orders/{id}. A 404 maps to ErrUnknownOrder.
func (g *GatewayPlacer) Status(ctx context.Context, orderID string) (Status, error) {
	var out gatewayFill
	if err := g.call(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), "", nil, &out); err != nil {
		return Status{}, err
	}
	switch out.Status {
	case "open":
		return Status{State: StateOpen}, nil
	case "filled":
		return Status{State: StateFilled, Fill: engine.Fill{
			OrderID: orderID, Price: out.Price, Quantity: out.Quantity, Fee: out.Fee, Filled: true,
		}}, nil
	case "cancelled", "rejected":
		return Status{State: StateCancelled, Fill: engine.Fill{OrderID: orderID}}, nil
	}
	return Status{}, fmt.Errorf("gateway returned unknown status %q for %s", out.Status, orderID)
}

func (g *GatewayPlacer) CancelOpen(ctx context.Context, botID, pair string) (int, error) {
	body, err := json.Marshal(map[string]string{"botId": botID, "pair": pair})
	if err != nil {
		return 0, err
	}
	var out struct {
		Cancelled int `json:"cancelled"`
	}
	if err := g.call(ctx, http.MethodPost, "/orders/cancel", "", body, &out); err != nil {
		return 0, err
	}
	return out.Cancelled, nil
}

func (g *GatewayPlacer) call(ctx context.Context, method, path, idempotencyKey string, body []byte, out any) error {
	resp, err := httputil.Do(ctx, g.client, g.retry, func() (*http.Request, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rd)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if g.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.apiKey)
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("order gateway %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, path)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: gateway %s returned %d: %s", ErrRejected, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
