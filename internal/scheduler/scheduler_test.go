package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/trahn-botengine/internal/engine"
	"github.com/kjannette/trahn-botengine/internal/events"
	"github.com/kjannette/trahn-botengine/internal/marketdata"
	"github.com/kjannette/trahn-botengine/internal/models"
	"github.com/kjannette/trahn-botengine/internal/orders"
	"github.com/kjannette/trahn-botengine/internal/repository"
	"github.com/kjannette/trahn-botengine/internal/risk"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// flakyLog fails the next n appends.
type flakyLog struct {
	*repository.MemoryDecisionLog
	failures atomic.Int32
}

func (f *flakyLog) Append(ctx context.Context, e *models.DecisionLogEntry) (string, error) {
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return "", errors.New("connection refused")
	}
	return f.MemoryDecisionLog.Append(ctx, e)
}

type recordingNotifier struct {
	mu      sync.Mutex
	failed  []string
	stopped []string
}

func (n *recordingNotifier) BotFailed(b *models.Bot, cause string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, b.ID+":"+cause)
}

func (n *recordingNotifier) BotAutoStopped(b *models.Bot, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = append(n.stopped, b.ID+":"+reason)
}

type placerFunc func(ctx context.Context, req orders.Request) (engine.Fill, error)

func (f placerFunc) Place(ctx context.Context, req orders.Request) (engine.Fill, error) {
	return f(ctx, req)
}

func (f placerFunc) StatusFor(context.Context, models.Mode, string) (orders.Status, error) {
	return orders.Status{}, orders.ErrUnknownOrder
}

// bookVenue rests every order until the test fills it.
type bookVenue struct {
	mu     sync.Mutex
	states map[string]orders.Status
}

func newBookVenue() *bookVenue {
	return &bookVenue{states: make(map[string]orders.Status)}
}

func (v *bookVenue) Place(_ context.Context, req orders.Request) (engine.Fill, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := fmt.Sprintf("venue-%d", len(v.states)+1)
	v.states[id] = orders.Status{State: orders.StateOpen}
	return engine.Fill{OrderID: id, Price: req.Price, Quantity: req.Quantity}, nil
}

func (v *bookVenue) StatusFor(_ context.Context, _ models.Mode, id string) (orders.Status, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.states[id]
	if !ok {
		return orders.Status{}, orders.ErrUnknownOrder
	}
	return st, nil
}

func (v *bookVenue) fill(id string, price, qty float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.states[id] = orders.Status{State: orders.StateFilled,
		Fill: engine.Fill{OrderID: id, Price: price, Quantity: qty, Filled: true}}
}

type harness struct {
	s        *Scheduler
	store    *repository.MemoryBotStore
	log      *flakyLog
	market   *marketdata.StaticSource
	sw       *risk.Switch
	clock    *clock
	notifier *recordingNotifier
	events   *events.Subscription[events.Event]
}

func newHarness(t *testing.T, mutate func(*Config, *Deps)) *harness {
	t.Helper()
	l, _ := logtest.NewNullLogger()
	h := &harness{
		store:    repository.NewMemoryBotStore(),
		log:      &flakyLog{MemoryDecisionLog: repository.NewMemoryDecisionLog()},
		market:   marketdata.NewStaticSource(),
		sw:       risk.NewSwitch(),
		clock:    &clock{now: t0},
		notifier: &recordingNotifier{},
	}
	hub := events.NewHub[events.Event]()
	h.events = hub.Subscribe(64)

	cfg := Config{TickInterval: time.Second, TickTimeout: 200 * time.Millisecond, RetryBase: time.Hour}
	deps := Deps{
		Store:    h.store,
		Log:      h.log,
		Engine:   engine.New(risk.NewGuardian(risk.Limits{})),
		Market:   h.market,
		Orders:   orders.NewRouter(orders.NewPaperPlacer(0, 0), nil),
		Controls: h.sw,
		Events:   events.HubSink{Hub: hub},
		Notifier: h.notifier,
		Logger:   logrus.NewEntry(l),
		Now:      h.clock.Now,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	h.s = New(cfg, deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.s.Stop(ctx)
	})
	return h
}

func (h *harness) add(t *testing.T, b *models.Bot) {
	t.Helper()
	b.OwnerID = "owner-1"
	b.Status = models.StatusRunning
	b.CreatedAt = t0
	require.NoError(t, h.store.Create(context.Background(), b))
}

func (h *harness) sweep(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.s.Sweep(ctx))
}

// entries returns the bot's log oldest first.
func (h *harness) entries(t *testing.T, botID string) []models.DecisionLogEntry {
	t.Helper()
	got, err := h.log.Query(context.Background(), models.DecisionFilter{BotID: botID, Limit: 1000})
	require.NoError(t, err)
	for i, j := 0, len(got)-1; i < j; i, j = i+1, j-1 {
		got[i], got[j] = got[j], got[i]
	}
	return got
}

func (h *harness) bot(t *testing.T, id string) *models.Bot {
	t.Helper()
	b, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return b
}

func gridBot(id string, mode models.Mode) *models.Bot {
	return &models.Bot{
		ID: id, Name: "grid", Type: models.BotTypeGrid, Pair: "BTC/USDT", Mode: mode,
		Params: models.BotParams{Grid: &models.GridParams{
			LowerPrice: 80000, UpperPrice: 100000, GridCount: 10, InvestmentAmount: 1000,
			Spacing: models.SpacingArithmetic,
		}},
	}
}

func TestSweepGridScenario(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, gridBot("g1", models.ModePaper))

	h.market.SetPrice("BTC/USDT", 81000, t0)
	h.sweep(t)
	h.clock.Advance(time.Minute)
	h.market.SetPrice("BTC/USDT", 83000, t0)
	h.sweep(t)

	log := h.entries(t, "g1")
	require.Len(t, log, 2)
	assert.Equal(t, models.OutcomeNoAction, log[0].Outcome)
	assert.True(t, strings.HasPrefix(log[0].TriggerReason, "grid_reference_set"))

	trade := log[1]
	assert.Equal(t, models.OutcomeTrade, trade.Outcome)
	assert.Equal(t, models.SideSell, trade.Side)
	assert.Equal(t, "grid_level_cross:level=2,direction=up", trade.TriggerReason)
	assert.Equal(t, models.RiskCheckAllowed, trade.RiskCheck)
	assert.True(t, strings.HasPrefix(trade.OrderID, "paper-"))
	assert.Equal(t, "owner-1", trade.OwnerID)
	assert.Equal(t, t0.Add(time.Minute), trade.Timestamp)

	b := h.bot(t, "g1")
	assert.Equal(t, 1, b.Runtime.TotalOrdersPlaced)
	assert.Equal(t, 83000.0, b.Runtime.Grid.ReferencePrice)
	assert.Equal(t, models.StatusRunning, b.Status)

	ev := <-h.events.C()
	assert.Equal(t, events.KindDecision, ev.Kind)
	require.NotNil(t, ev.Decision)
	assert.Equal(t, log[0].LogID, ev.Decision.LogID)
}

func TestSweepDataUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, gridBot("g1", models.ModePaper))

	h.sweep(t)

	log := h.entries(t, "g1")
	require.Len(t, log, 1)
	assert.Equal(t, models.OutcomeNoAction, log[0].Outcome)
	assert.True(t, strings.HasPrefix(log[0].TriggerReason, "data_unavailable:"))
	assert.Equal(t, models.StatusRunning, h.bot(t, "g1").Status)
}

type stuckSource struct{ release chan struct{} }

func (s stuckSource) Snapshot(context.Context, string) (models.MarketSnapshot, error) {
	<-s.release
	return models.MarketSnapshot{}, marketdata.ErrDataUnavailable
}

func TestTickTimeoutAbandonsFetch(t *testing.T) {
	src := stuckSource{release: make(chan struct{})}
	defer close(src.release)
	h := newHarness(t, func(c *Config, d *Deps) {
		c.TickTimeout = 50 * time.Millisecond
		d.Market = src
	})
	h.add(t, gridBot("g1", models.ModePaper))

	h.sweep(t)

	log := h.entries(t, "g1")
	require.Len(t, log, 1)
	assert.Equal(t, "tick_timeout", log[0].TriggerReason)
	assert.Equal(t, models.StatusRunning, h.bot(t, "g1").Status)
}

func TestTickOutlivesSweepDeadline(t *testing.T) {
	src := stuckSource{release: make(chan struct{})}
	defer close(src.release)
	h := newHarness(t, func(c *Config, d *Deps) {
		d.Market = src
	})
	h.add(t, gridBot("g1", models.ModePaper))

	// the sweep gives up waiting exactly when the fetch budget runs out
	ctx, cancel := context.WithTimeout(context.Background(), h.s.cfg.TickTimeout)
	defer cancel()
	_ = h.s.Sweep(ctx)

	require.Eventually(t, func() bool {
		got, err := h.log.Query(context.Background(), models.DecisionFilter{BotID: "g1", Limit: 10})
		return err == nil && len(got) == 1 && got[0].TriggerReason == "tick_timeout"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.StatusRunning, h.bot(t, "g1").Status)
}

func TestCancelledSweepRecordsNothing(t *testing.T) {
	src := stuckSource{release: make(chan struct{})}
	defer close(src.release)
	h := newHarness(t, func(c *Config, d *Deps) {
		d.Market = src
	})
	h.add(t, gridBot("g1", models.ModePaper))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	assert.ErrorIs(t, h.s.Sweep(ctx), context.Canceled)

	// runs after the tick on the same actor
	require.NoError(t, h.s.Submit(context.Background(), "g1", func(context.Context, *Section) error { return nil }))
	assert.Empty(t, h.entries(t, "g1"))
}

func TestRestingOrdersSettleFromVenue(t *testing.T) {
	venue := newBookVenue()
	h := newHarness(t, func(c *Config, d *Deps) {
		d.Orders = venue
	})
	h.add(t, &models.Bot{
		ID: "s1", Name: "sig", Type: models.BotTypeSignal, Pair: "BTC/USDT", Mode: models.ModeLive,
		Risk: &models.RiskParams{MaxOpenOrders: 1},
		Params: models.BotParams{Signal: &models.SignalParams{
			Timeframe:   "1h",
			OrderAmount: 500,
			Entry: models.RuleTree{Operator: models.OperatorAND, Conditions: []models.Condition{
				{Indicator: "RSI", Comparator: models.CompLT, Threshold: 30},
			}},
			Exit: models.RuleTree{Operator: models.OperatorOR, Conditions: []models.Condition{
				{Indicator: "RSI", Comparator: models.CompGT, Threshold: 70},
			}},
		}},
	})
	rsi := func(price, v float64) {
		h.market.Set(models.MarketSnapshot{Pair: "BTC/USDT", Price: price, At: t0,
			Indicators: map[string]float64{"RSI:1h": v}})
	}

	rsi(100, 20)
	h.sweep(t)
	b := h.bot(t, "s1")
	require.Equal(t, 1, b.Runtime.OpenOrders)
	require.Len(t, b.Runtime.Resting, 1)
	assert.Equal(t, "venue-1", b.Runtime.Resting[0].OrderID)

	// the unfilled entry holds the only open-order slot, the exit still goes out
	h.clock.Advance(time.Minute)
	rsi(101, 75)
	h.sweep(t)
	log := h.entries(t, "s1")
	require.Len(t, log, 2)
	assert.Equal(t, models.OutcomeTrade, log[1].Outcome)
	assert.Equal(t, models.SideSell, log[1].Side)
	assert.Equal(t, 2, h.bot(t, "s1").Runtime.OpenOrders)

	venue.fill("venue-1", 99, 5)
	venue.fill("venue-2", 101, 5)
	h.clock.Advance(time.Minute)
	rsi(101, 50)
	h.sweep(t)

	log = h.entries(t, "s1")
	require.Len(t, log, 5)
	assert.Equal(t, models.OutcomeLifecycle, log[2].Outcome)
	assert.Equal(t, "order_filled:id=venue-1", log[2].TriggerReason)
	assert.Equal(t, 99.0, log[2].Price)
	assert.Equal(t, "order_filled:id=venue-2", log[3].TriggerReason)
	assert.InDelta(t, 10.0, log[3].PnLDelta, 1e-9)
	assert.Equal(t, models.OutcomeNoAction, log[4].Outcome)

	b = h.bot(t, "s1")
	assert.Zero(t, b.Runtime.OpenOrders)
	assert.Empty(t, b.Runtime.Resting)
	assert.Zero(t, b.Runtime.BaseHeld)
	assert.InDelta(t, 10.0, b.Runtime.RealizedPnL, 1e-9)

	// with the slot free a new entry is allowed again
	h.clock.Advance(time.Minute)
	rsi(100, 20)
	h.sweep(t)
	log = h.entries(t, "s1")
	assert.Equal(t, models.OutcomeTrade, log[len(log)-1].Outcome)
}

func TestUnknownRestingOrderIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, gridBot("g1", models.ModePaper))
	b := h.bot(t, "g1")
	b.Runtime.OpenOrders = 1
	b.Runtime.Resting = []models.RestingOrder{{OrderID: "gone", Side: models.SideBuy, Amount: 100}}
	require.NoError(t, h.store.Save(context.Background(), b))
	h.market.SetPrice("BTC/USDT", 81000, t0)

	h.sweep(t)

	log := h.entries(t, "g1")
	require.Len(t, log, 2)
	assert.Equal(t, "order_cancelled:id=gone", log[0].TriggerReason)
	after := h.bot(t, "g1")
	assert.Zero(t, after.Runtime.OpenOrders)
	assert.Empty(t, after.Runtime.Resting)
}

func TestOrderFailureKeepsBotRunning(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, gridBot("live", models.ModeLive))

	b := h.bot(t, "live")
	b.Runtime.Grid.ReferencePrice = 81000
	require.NoError(t, h.store.Save(context.Background(), b))
	h.market.SetPrice("BTC/USDT", 83000, t0)
	h.sweep(t)

	log := h.entries(t, "live")
	require.Len(t, log, 1)
	assert.Equal(t, models.OutcomeOrderFailed, log[0].Outcome)
	assert.Equal(t, models.SideSell, log[0].Side)
	assert.Contains(t, log[0].TriggerReason, "order_error:")

	after := h.bot(t, "live")
	assert.Equal(t, models.StatusRunning, after.Status)
	assert.Equal(t, models.RiskWarning, after.Runtime.RiskStatus)
	assert.Zero(t, after.Runtime.TotalOrdersPlaced)
}

func TestEngineFaultMovesBotToError(t *testing.T) {
	h := newHarness(t, nil)
	b := gridBot("bad", models.ModePaper)
	b.Params = models.BotParams{DCA: &models.DCAParams{AmountPerInterval: 1, TotalBudget: 2, Interval: "daily"}}
	h.add(t, b)
	h.market.SetPrice("BTC/USDT", 81000, t0)

	h.sweep(t)

	after := h.bot(t, "bad")
	assert.Equal(t, models.StatusError, after.Status)
	assert.NotEmpty(t, after.Runtime.LastError)

	log := h.entries(t, "bad")
	require.Len(t, log, 1)
	assert.Equal(t, models.OutcomeError, log[0].Outcome)
	assert.True(t, strings.HasPrefix(log[0].TriggerReason, "engine_fault:"))
	assert.Len(t, h.notifier.failed, 1)

	// bots in error are no longer swept
	h.sweep(t)
	assert.Len(t, h.entries(t, "bad"), 1)
}

func TestPanicDuringTickIsRecovered(t *testing.T) {
	h := newHarness(t, func(_ *Config, d *Deps) {
		d.Orders = placerFunc(func(context.Context, orders.Request) (engine.Fill, error) {
			panic("venue adapter bug")
		})
	})
	h.add(t, gridBot("g1", models.ModePaper))
	b := h.bot(t, "g1")
	b.Runtime.Grid.ReferencePrice = 81000
	require.NoError(t, h.store.Save(context.Background(), b))
	h.market.SetPrice("BTC/USDT", 83000, t0)

	h.sweep(t)

	after := h.bot(t, "g1")
	assert.Equal(t, models.StatusError, after.Status)
	assert.Contains(t, after.Runtime.LastError, "venue adapter bug")
	assert.Zero(t, after.Runtime.TotalOrdersPlaced, "half-applied tick is discarded")
}

func TestDCABudgetExhaustedAutoStops(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, &models.Bot{
		ID: "d1", Name: "dca", Type: models.BotTypeDCA, Pair: "ETH/USDT", Mode: models.ModePaper,
		Params: models.BotParams{DCA: &models.DCAParams{AmountPerInterval: 100, TotalBudget: 200, Interval: "daily"}},
	})
	h.market.SetPrice("ETH/USDT", 2500, t0)

	h.sweep(t)
	h.clock.Advance(24 * time.Hour)
	h.sweep(t)
	h.clock.Advance(24 * time.Hour)
	h.sweep(t)

	log := h.entries(t, "d1")
	require.Len(t, log, 3)
	assert.Equal(t, "dca_interval:n=1", log[0].TriggerReason)
	assert.Equal(t, "dca_interval:n=2", log[1].TriggerReason)
	assert.Equal(t, models.OutcomeLifecycle, log[2].Outcome)
	assert.Equal(t, "auto_stop:budget_exhausted", log[2].TriggerReason)

	after := h.bot(t, "d1")
	assert.Equal(t, models.StatusStopped, after.Status)
	assert.Equal(t, "budget_exhausted", after.StatusReason)
	assert.Equal(t, 200.0, after.Runtime.DCA.Spent)
	assert.Equal(t, []string{"d1:budget_exhausted"}, h.notifier.stopped)
}

func TestEmergencyStopBlocksOrders(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, gridBot("g1", models.ModePaper))
	b := h.bot(t, "g1")
	b.Runtime.Grid.ReferencePrice = 81000
	require.NoError(t, h.store.Save(context.Background(), b))
	h.sw.Activate("exchange incident", t0)
	h.market.SetPrice("BTC/USDT", 83000, t0)

	h.sweep(t)

	log := h.entries(t, "g1")
	require.Len(t, log, 1)
	assert.Equal(t, models.OutcomeBlocked, log[0].Outcome)
	assert.Equal(t, "blocked:emergency_stop", log[0].RiskCheck)
	assert.Equal(t, models.RiskBlocked, h.bot(t, "g1").Runtime.RiskStatus)
}

func TestFailedAppendsAreQueuedInOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, gridBot("g1", models.ModePaper))
	h.market.SetPrice("BTC/USDT", 81000, t0)

	h.log.failures.Store(1)
	h.sweep(t)
	assert.Empty(t, h.entries(t, "g1"), "first entry is still queued")

	h.clock.Advance(time.Minute)
	h.market.SetPrice("BTC/USDT", 83000, t0)
	h.sweep(t)

	log := h.entries(t, "g1")
	require.Len(t, log, 2)
	assert.True(t, strings.HasPrefix(log[0].TriggerReason, "grid_reference_set"))
	assert.Equal(t, models.OutcomeTrade, log[1].Outcome)
}

func TestSubmitSerialisesPerBot(t *testing.T) {
	h := newHarness(t, nil)
	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.s.Submit(context.Background(), "b1", func(context.Context, *Section) error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())

	err := h.s.Submit(context.Background(), "b1", func(context.Context, *Section) error {
		panic("boom")
	})
	var fault *engine.Fault
	assert.True(t, errors.As(err, &fault))
}

func TestSweepReapsIdleActors(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, gridBot("g1", models.ModePaper))
	h.market.SetPrice("BTC/USDT", 81000, t0)
	h.sweep(t)
	assert.Equal(t, 1, h.s.Actors())

	b := h.bot(t, "g1")
	b.Status = models.StatusPaused
	require.NoError(t, h.store.Save(context.Background(), b))
	h.sweep(t)
	assert.Equal(t, 0, h.s.Actors())
}

func TestStartRunsLoop(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) {
		c.TickInterval = 20 * time.Millisecond
		c.TickTimeout = 10 * time.Millisecond
	})
	h.add(t, gridBot("g1", models.ModePaper))
	h.market.SetPrice("BTC/USDT", 81000, t0)

	h.s.Start(context.Background())
	assert.True(t, h.s.Running())
	require.Eventually(t, func() bool {
		return h.log.Len() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.s.Stop(ctx)
	assert.False(t, h.s.Running())
}
