package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-botengine/internal/engine"
	"github.com/kjannette/trahn-botengine/internal/events"
	"github.com/kjannette/trahn-botengine/internal/logger"
	"github.com/kjannette/trahn-botengine/internal/marketdata"
	"github.com/kjannette/trahn-botengine/internal/models"
	"github.com/kjannette/trahn-botengine/internal/orders"
	"github.com/kjannette/trahn-botengine/internal/repository"
)

const publishTimeout = 2 * time.Second

// NewEntry fills the fields every decision log entry carries.
func NewEntry(b *models.Bot, now time.Time, outcome models.Outcome, trigger, riskCheck string) models.DecisionLogEntry {
	return models.DecisionLogEntry{
		LogID:         uuid.NewString(),
		BotID:         b.ID,
		OwnerID:       b.OwnerID,
		Timestamp:     now.UTC(),
		Outcome:       outcome,
		Side:          models.SideNone,
		Pair:          b.Pair,
		Mode:          b.Mode,
		TriggerReason: trigger,
		RiskCheck:     riskCheck,
	}
}

// LifecycleEntry records a status change.
func LifecycleEntry(b *models.Bot, now time.Time, trigger string) models.DecisionLogEntry {
	return NewEntry(b, now, models.OutcomeLifecycle, trigger, models.RiskCheckNA)
}

func (s *Scheduler) tick(ctx context.Context, a *actor) {
	start := s.deps.Now()
	s.flush(ctx, a)

	bot, err := s.deps.Store.Get(ctx, a.id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.deps.Logger.WithError(err).WithField("bot_id", a.id).Warn("load bot for tick")
		}
		return
	}
	if bot.Status != models.StatusRunning {
		return
	}
	log := logger.WithBot(s.deps.Logger, bot.ID, bot.Pair)

	outcome := s.safely(bot.ID, "tick", func() error {
		return s.runTick(ctx, a, bot, log)
	})
	if outcome != nil {
		var fault *engine.Fault
		if !errors.As(outcome, &fault) {
			fault = &engine.Fault{BotID: bot.ID, Operation: "tick", Err: outcome}
		}
		s.fail(ctx, a, bot, fault, log)
		s.deps.Metrics.RecordTick(string(bot.Type), string(models.OutcomeError), s.deps.Now().Sub(start))
	}
}

// runTick returns an error only for engine faults. Every other path records an entry.
func (s *Scheduler) runTick(ctx context.Context, a *actor, bot *models.Bot, log *logrus.Entry) error {
	start := s.deps.Now()
	s.reconcile(ctx, a, bot, log)

	tctx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()

	snap, err := s.fetch(tctx, bot.Pair)
	if err != nil {
		var fault *engine.Fault
		if errors.As(err, &fault) {
			fault.BotID = bot.ID
			return fault
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil // shutting down
		}
		trigger := "data_unavailable:" + err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			trigger = "tick_timeout"
		}
		log.WithError(err).Debug("no market data this tick")
		s.record(ctx, a, NewEntry(bot, s.deps.Now(), models.OutcomeNoAction, trigger, models.RiskCheckNA))
		s.deps.Metrics.RecordTick(string(bot.Type), string(models.OutcomeNoAction), s.deps.Now().Sub(start))
		return nil
	}
	s.deps.Metrics.UpdatePrice(bot.Pair, snap.Price)

	now := s.deps.Now()
	work := bot.Clone()
	dec, err := s.deps.Engine.Decide(work, snap, s.deps.Controls.Snapshot(), now)
	if err != nil {
		return err
	}

	entry := NewEntry(work, now, dec.Outcome, dec.Trigger, dec.RiskCheck)
	entry.Price = snap.Price
	entry.Evidence = dec.Evidence

	autoStop := dec.AutoStop
	switch dec.Outcome {
	case models.OutcomeTrade:
		in := dec.Intent
		entry.Side = in.Side
		req := orders.Request{
			ClientOrderID: entry.LogID,
			BotID:         work.ID,
			OwnerID:       work.OwnerID,
			Pair:          work.Pair,
			Mode:          work.Mode,
			Side:          in.Side,
			Amount:        in.Amount,
			Price:         in.Price,
			Quantity:      in.Quantity,
		}
		fill, err := s.deps.Orders.Place(tctx, req)
		if err != nil {
			entry.Outcome = models.OutcomeOrderFailed
			entry.Price = in.Price
			entry.Quantity = in.Quantity
			entry.TriggerReason = dec.Trigger + "|order_error:" + err.Error()
			work.Runtime.RiskStatus = models.RiskWarning
			work.Runtime.LastError = err.Error()
			log.WithError(err).Warn("order placement failed")
			break
		}
		pnl, stop := s.deps.Engine.ApplyFill(work, dec, fill, now)
		if autoStop == "" {
			autoStop = stop
		}
		entry.OrderID = fill.OrderID
		entry.Price = fill.Price
		entry.Quantity = fill.Quantity
		entry.Fee = fill.Fee
		entry.PnLDelta = pnl
		if !fill.Filled {
			entry.Price = in.Price
			entry.Quantity = in.Quantity
		}
		s.deps.Metrics.RecordTrade(work.Pair, string(in.Side), string(work.Mode), in.Amount)
		log.WithFields(logrus.Fields{
			"side":    in.Side,
			"price":   entry.Price,
			"qty":     entry.Quantity,
			"trigger": dec.Trigger,
		}).Info("order placed")
	case models.OutcomeBlocked:
		entry.Side = dec.Intent.Side
		entry.Price = dec.Intent.Price
		entry.Quantity = dec.Intent.Quantity
		s.deps.Metrics.RecordRiskBlock(blockedReason(dec.RiskCheck))
	}

	if autoStop != "" {
		s.deps.Engine.AutoStop(work, autoStop, now)
	}
	if err := s.deps.Store.Save(ctx, work); err != nil {
		log.WithError(err).Error("save runtime state")
	}

	s.record(ctx, a, entry)
	if autoStop != "" {
		s.record(ctx, a, LifecycleEntry(work, now, "auto_stop:"+autoStop))
		s.publish(ctx, events.Event{Kind: events.KindStatus, OwnerID: work.OwnerID, BotID: work.ID,
			At: now, Status: work.Status, Reason: autoStop})
		if s.deps.Notifier != nil {
			s.deps.Notifier.BotAutoStopped(work, autoStop)
		}
		log.WithField("reason", autoStop).Info("bot stopped automatically")
	}
	s.deps.Metrics.RecordTick(string(work.Type), string(entry.Outcome), s.deps.Now().Sub(start))
	return nil
}

// reconcile settles resting orders the venue has since filled or cancelled, so open
// order counts and inventory follow the book. An order the venue no longer knows is
// dropped as cancelled. Lookup errors leave the order for the next tick.
func (s *Scheduler) reconcile(ctx context.Context, a *actor, bot *models.Bot, log *logrus.Entry) {
	if len(bot.Runtime.Resting) == 0 {
		return
	}
	lookup, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()
	resting := append([]models.RestingOrder(nil), bot.Runtime.Resting...)
	var settled []models.DecisionLogEntry
	for _, o := range resting {
		st, err := s.deps.Orders.StatusFor(lookup, bot.Mode, o.OrderID)
		switch {
		case errors.Is(err, orders.ErrUnknownOrder):
			st = orders.Status{State: orders.StateCancelled}
		case err != nil:
			log.WithError(err).WithField("order_id", o.OrderID).Debug("order status unavailable")
			continue
		}
		if !st.Done() {
			continue
		}
		now := s.deps.Now()
		fill := st.Fill
		fill.Filled = st.State == orders.StateFilled
		pnl, ok := s.deps.Engine.Settle(bot, o.OrderID, fill, now)
		if !ok {
			continue
		}
		entry := LifecycleEntry(bot, now, fmt.Sprintf("order_%s:id=%s", st.State, o.OrderID))
		entry.OrderID = o.OrderID
		entry.Side = o.Side
		entry.Price = o.Price
		entry.Quantity = o.Quantity
		if fill.Filled {
			entry.Price = fill.Price
			entry.Quantity = fill.Quantity
			entry.Fee = fill.Fee
			entry.PnLDelta = pnl
		}
		settled = append(settled, entry)
		log.WithFields(logrus.Fields{"order_id": o.OrderID, "state": st.State}).Info("resting order settled")
	}
	if len(settled) == 0 {
		return
	}
	if err := s.deps.Store.Save(ctx, bot); err != nil {
		log.WithError(err).Error("save settled orders")
	}
	for _, e := range settled {
		s.record(ctx, a, e)
	}
}

// fail moves the bot to error from its pre-tick state, so a half-applied tick is never saved.
func (s *Scheduler) fail(ctx context.Context, a *actor, bot *models.Bot, fault *engine.Fault, log *logrus.Entry) {
	now := s.deps.Now()
	s.deps.Engine.Fail(bot, fault.Err, now)
	log.WithError(fault).Error("engine fault, bot moved to error")
	if err := s.deps.Store.Save(ctx, bot); err != nil {
		log.WithError(err).Error("save failed bot")
	}
	entry := NewEntry(bot, now, models.OutcomeError, "engine_fault:"+fault.Err.Error(), models.RiskCheckNA)
	s.record(ctx, a, entry)
	s.publish(ctx, events.Event{Kind: events.KindStatus, OwnerID: bot.OwnerID, BotID: bot.ID,
		At: now, Status: bot.Status, Reason: bot.StatusReason})
	if s.deps.Notifier != nil {
		s.deps.Notifier.BotFailed(bot, fault.Err.Error())
	}
}

// fetch abandons a snapshot read that outlives ctx even if the source ignores it.
func (s *Scheduler) fetch(ctx context.Context, pair string) (models.MarketSnapshot, error) {
	type result struct {
		snap models.MarketSnapshot
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: &engine.Fault{Operation: "fetch", Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		snap, err := s.deps.Market.Snapshot(ctx, pair)
		ch <- result{snap, err}
	}()
	select {
	case r := <-ch:
		if r.err == nil && r.snap.Price <= 0 {
			return models.MarketSnapshot{}, fmt.Errorf("%w: no price for %s", marketdata.ErrDataUnavailable, pair)
		}
		return r.snap, r.err
	case <-ctx.Done():
		return models.MarketSnapshot{}, ctx.Err()
	}
}

// --- decision log queue ---

// record queues entry behind any unflushed ones so the log keeps tick order.
func (s *Scheduler) record(ctx context.Context, a *actor, entry models.DecisionLogEntry) {
	if entry.LogID == "" {
		entry.LogID = uuid.NewString()
	}
	a.pending = append(a.pending, entry)
	a.pendingLen.Store(int32(len(a.pending)))
	s.flush(ctx, a)
}

func (s *Scheduler) flush(ctx context.Context, a *actor) {
	for len(a.pending) > 0 {
		e := a.pending[0]
		if _, err := s.deps.Log.Append(ctx, &e); err != nil {
			s.deps.Metrics.RecordAppendFailure()
			s.deps.Logger.WithError(err).WithFields(logrus.Fields{
				"bot_id":  a.id,
				"pending": len(a.pending),
			}).Warn("decision log append failed, entry queued")
			s.armRetry(a)
			return
		}
		a.pending = a.pending[1:]
		a.pendingLen.Store(int32(len(a.pending)))
		s.publish(ctx, events.Event{Kind: events.KindDecision, OwnerID: e.OwnerID, BotID: e.BotID,
			At: e.Timestamp, Decision: &e})
	}
	a.pending = nil
	a.backoff = 0
}

// armRetry schedules one flush on the actor after an exponential backoff.
func (s *Scheduler) armRetry(a *actor) {
	if !a.retryArmed.CompareAndSwap(false, true) {
		return
	}
	if a.backoff == 0 {
		a.backoff = s.cfg.RetryBase
	} else {
		a.backoff = min(a.backoff*2, s.cfg.RetryMax)
	}
	time.AfterFunc(a.backoff, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TickTimeout)
		defer cancel()
		err := s.Submit(ctx, a.id, func(jctx context.Context, sec *Section) error {
			a.retryArmed.Store(false)
			s.flush(jctx, sec.a)
			return nil
		})
		if err != nil {
			// the next tick or record flushes instead
			a.retryArmed.Store(false)
		}
	})
}

func (s *Scheduler) publish(ctx context.Context, ev events.Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.deps.Events.Publish(pctx, ev); err != nil {
		s.deps.Logger.WithError(err).WithField("bot_id", ev.BotID).Debug("event publish failed")
	}
}

func blockedReason(riskCheck string) string {
	const prefix = "blocked:"
	if len(riskCheck) > len(prefix) && riskCheck[:len(prefix)] == prefix {
		return riskCheck[len(prefix):]
	}
	return riskCheck
}
