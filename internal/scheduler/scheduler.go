// Package scheduler runs every running bot on a fixed tick. Each bot has one actor
// goroutine; ticks and lifecycle commands for that bot are serialised through its
// mailbox while different bots proceed concurrently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-botengine/internal/engine"
	"github.com/kjannette/trahn-botengine/internal/events"
	"github.com/kjannette/trahn-botengine/internal/marketdata"
	"github.com/kjannette/trahn-botengine/internal/models"
	"github.com/kjannette/trahn-botengine/internal/monitoring"
	"github.com/kjannette/trahn-botengine/internal/orders"
	"github.com/kjannette/trahn-botengine/internal/repository"
	"github.com/kjannette/trahn-botengine/internal/risk"
)

// OrderPlacer routes an order to the venue for its mode.
type OrderPlacer interface {
	Place(ctx context.Context, req orders.Request) (engine.Fill, error)
	StatusFor(ctx context.Context, mode models.Mode, orderID string) (orders.Status, error)
}

// Notifier announces bots that leave running on their own.
type Notifier interface {
	BotFailed(b *models.Bot, cause string)
	BotAutoStopped(b *models.Bot, reason string)
}

type Config struct {
	TickInterval time.Duration
	TickTimeout  time.Duration
	MailboxSize  int
	// RetryBase and RetryMax bound the backoff for re-flushing queued log entries.
	RetryBase time.Duration
	RetryMax  time.Duration
}

type Deps struct {
	Store    repository.BotStore
	Log      repository.DecisionLog
	Engine   *engine.Engine
	Market   marketdata.Source
	Orders   OrderPlacer
	Controls *risk.Switch
	Events   events.Sink         // optional
	Metrics  *monitoring.Metrics // optional
	Notifier Notifier            // optional
	Logger   *logrus.Entry
	Now      func() time.Time
}

type Scheduler struct {
	cfg  Config
	deps Deps

	mu     sync.Mutex
	actors map[string]*actor

	loopMu  sync.Mutex
	running bool
	stopCh  chan struct{}
	loopWG  sync.WaitGroup
}

func New(cfg Config, deps Deps) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.TickTimeout <= 0 || cfg.TickTimeout > cfg.TickInterval {
		cfg.TickTimeout = cfg.TickInterval
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 16
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 30 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Events == nil {
		deps.Events = events.Fanout(nil)
	}
	if deps.Logger == nil {
		deps.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{cfg: cfg, deps: deps, actors: make(map[string]*actor)}
}

// --- actors ---

type job struct {
	ctx context.Context
	run func(ctx context.Context)
}

type actor struct {
	id      string
	mailbox chan job
	quit    chan struct{}

	// inflight counts enqueued plus running jobs; guarded by Scheduler.mu.
	inflight int
	// ticking is set while a tick for this bot is queued or running.
	ticking atomic.Bool

	// pending and backoff are only touched from the actor goroutine.
	pending    []models.DecisionLogEntry
	pendingLen atomic.Int32
	backoff    time.Duration
	retryArmed atomic.Bool
}

func (s *Scheduler) acquire(botID string) *actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[botID]
	if !ok {
		a = &actor{
			id:      botID,
			mailbox: make(chan job, s.cfg.MailboxSize),
			quit:    make(chan struct{}),
		}
		s.actors[botID] = a
		go s.loop(a)
	}
	a.inflight++
	return a
}

func (s *Scheduler) release(a *actor) {
	s.mu.Lock()
	a.inflight--
	s.mu.Unlock()
}

func (s *Scheduler) loop(a *actor) {
	for {
		select {
		case j := <-a.mailbox:
			s.runJob(a, j)
		case <-a.quit:
			return
		}
	}
}

func (s *Scheduler) runJob(a *actor, j job) {
	defer s.release(a)
	defer func() {
		if r := recover(); r != nil {
			s.deps.Logger.WithField("bot_id", a.id).Errorf("panic escaped actor job: %v", r)
		}
	}()
	j.run(j.ctx)
}

func (s *Scheduler) enqueue(ctx context.Context, a *actor, run func(ctx context.Context)) error {
	select {
	case a.mailbox <- job{ctx: ctx, run: run}:
		return nil
	case <-ctx.Done():
		s.release(a)
		return ctx.Err()
	}
}

// Section is the exclusive view of one bot handed to Submit callbacks.
type Section struct {
	s *Scheduler
	a *actor
}

// Record appends entry to the decision log, queueing it on the actor if storage is down.
func (sec *Section) Record(ctx context.Context, entry models.DecisionLogEntry) {
	sec.s.record(ctx, sec.a, entry)
}

// Publish sends a non-decision event (decisions are published by Record).
func (sec *Section) Publish(ctx context.Context, ev events.Event) {
	sec.s.publish(ctx, ev)
}

// Submit runs fn in the bot's exclusive section and returns its error. A panic in fn
// is recovered and returned as a Fault.
func (s *Scheduler) Submit(ctx context.Context, botID string, fn func(ctx context.Context, sec *Section) error) error {
	a := s.acquire(botID)
	res := make(chan error, 1)
	err := s.enqueue(ctx, a, func(jctx context.Context) {
		res <- s.safely(botID, "submit", func() error {
			return fn(jctx, &Section{s: s, a: a})
		})
	})
	if err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) safely(botID, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &engine.Fault{BotID: botID, Operation: op, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return fn()
}

// --- sweep ---

// Sweep ticks every running bot once and returns when each tick completed or ctx ended.
// A bot whose previous tick is still queued is skipped for this cycle.
func (s *Scheduler) Sweep(ctx context.Context) error {
	bots, err := s.deps.Store.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("list running bots: %w", err)
	}
	s.deps.Metrics.SetRunningBots(len(bots))

	var wg sync.WaitGroup
	running := make(map[string]bool, len(bots))
	for _, b := range bots {
		running[b.ID] = true
		a := s.acquire(b.ID)
		if !a.ticking.CompareAndSwap(false, true) {
			s.release(a)
			continue
		}
		wg.Add(1)
		err := s.enqueue(ctx, a, func(jctx context.Context) {
			defer wg.Done()
			defer a.ticking.Store(false)
			tctx, cancel := s.tickContext(jctx)
			defer cancel()
			s.tick(tctx, a)
		})
		if err != nil {
			a.ticking.Store(false)
			wg.Done()
			break
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.reap(running)
	return nil
}

// tickContext gives a queued tick its own budget. The sweep's deadline only bounds how
// long Sweep waits; cancelling the sweep still stops the tick.
func (s *Scheduler) tickContext(sweep context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(sweep), s.cfg.TickTimeout+s.cfg.TickInterval)
	stop := context.AfterFunc(sweep, func() {
		if errors.Is(sweep.Err(), context.Canceled) {
			cancel()
		}
	})
	return ctx, func() {
		stop()
		cancel()
	}
}

// reap stops idle actors of bots that are no longer running.
func (s *Scheduler) reap(running map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.actors {
		if running[id] || a.inflight > 0 || a.pendingLen.Load() > 0 {
			continue
		}
		close(a.quit)
		delete(s.actors, id)
	}
}

// Actors reports how many bot actors are alive.
func (s *Scheduler) Actors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actors)
}

// --- run loop ---

func (s *Scheduler) Start(ctx context.Context) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.running {
		s.deps.Logger.Warn("scheduler already running")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh

	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			s.sweepOnce(ctx)
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	s.deps.Logger.WithField("interval", s.cfg.TickInterval.String()).Info("scheduler started")
}

func (s *Scheduler) sweepOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TickInterval)
	defer cancel()
	if err := s.Sweep(ctx); err != nil {
		s.deps.Logger.WithError(err).Warn("sweep incomplete")
	}
}

// Stop ends the tick loop, then gives every actor until ctx ends to flush queued
// decision log entries.
func (s *Scheduler) Stop(ctx context.Context) {
	s.loopMu.Lock()
	if s.running {
		close(s.stopCh)
		s.running = false
	}
	s.loopMu.Unlock()
	s.loopWG.Wait()

	s.mu.Lock()
	actors := make([]*actor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.mu.Unlock()

	for _, a := range actors {
		if a.pendingLen.Load() == 0 {
			continue
		}
		_ = s.Submit(ctx, a.id, func(jctx context.Context, _ *Section) error {
			s.flush(jctx, a)
			return nil
		})
	}

	s.mu.Lock()
	for id, a := range s.actors {
		close(a.quit)
		delete(s.actors, id)
	}
	s.mu.Unlock()
	s.deps.Logger.Info("scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	return s.running
}
