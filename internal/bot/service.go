// Package bot is the request/response facade over the bot registry, the scheduler and the
// decision log. Every mutation of an existing bot runs inside the bot's scheduler section,
// so it never interleaves with a tick.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-botengine/internal/conditions"
	"github.com/kjannette/trahn-botengine/internal/engine"
	"github.com/kjannette/trahn-botengine/internal/events"
	"github.com/kjannette/trahn-botengine/internal/models"
	"github.com/kjannette/trahn-botengine/internal/monitoring"
	"github.com/kjannette/trahn-botengine/internal/presets"
	"github.com/kjannette/trahn-botengine/internal/repository"
	"github.com/kjannette/trahn-botengine/internal/risk"
	"github.com/kjannette/trahn-botengine/internal/scheduler"
	"github.com/kjannette/trahn-botengine/internal/strategy"
)

// ErrNotFound is returned for unknown bots and for bots owned by someone else.
var ErrNotFound = repository.ErrNotFound

// OrderCanceller cancels a bot's resting orders on the venue for its mode.
type OrderCanceller interface {
	CancelFor(ctx context.Context, mode models.Mode, botID, pair string) (int, error)
}

// Notifier announces emergency stop changes.
type Notifier interface {
	EmergencyStop(active bool, reason string)
}

type Deps struct {
	Store     repository.BotStore
	Log       repository.DecisionLog
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Orders    OrderCanceller
	Controls  *risk.Switch
	Events    events.Sink         // optional
	Metrics   *monitoring.Metrics // optional
	Notifier  Notifier            // optional
	Logger    *logrus.Entry
	// FeePercent is used for preview fee estimates.
	FeePercent float64
	// ControlsStore keeps the emergency stop across restarts; optional.
	ControlsStore repository.ControlsStore
}

type Service struct {
	deps Deps
	now  func() time.Time
}

func NewService(deps Deps) *Service {
	if deps.Events == nil {
		deps.Events = events.Fanout(nil)
	}
	if deps.Logger == nil {
		deps.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{deps: deps, now: time.Now}
}

// WithNow replaces the clock. Tests only.
func (s *Service) WithNow(fn func() time.Time) *Service {
	s.now = fn
	return s
}

// --- catalogue ---

type IndicatorCatalog struct {
	Indicators []conditions.Indicator `json:"indicators"`
	Timeframes []string               `json:"timeframes"`
	Categories map[string][]string    `json:"categories"`
}

func (s *Service) IndicatorsCatalog() IndicatorCatalog {
	return IndicatorCatalog{
		Indicators: conditions.Catalog(),
		Timeframes: append([]string(nil), conditions.Timeframes...),
		Categories: conditions.Categories(),
	}
}

func (s *Service) ListPresets(category string) []models.Preset {
	return presets.List(category)
}

func (s *Service) PresetCategories() []string {
	return presets.Categories()
}

// Instantiate clones a preset into draft input; nothing is persisted.
func (s *Service) Instantiate(presetID string, overrides json.RawMessage) (models.DraftBot, error) {
	draft, err := presets.Instantiate(presetID, overrides)
	if errors.Is(err, presets.ErrInvalidOverrides) {
		return models.DraftBot{}, fmt.Errorf("%w: %v", engine.ErrValidation, err)
	}
	return draft, err
}

// Preview validates the draft and estimates what it would do. It is pure.
func (s *Service) Preview(draft models.DraftBot) (strategy.Estimate, error) {
	if draft.Mode == "" {
		draft.Mode = models.ModePaper
	}
	if err := engine.ValidateDraft(draft.Type, draft.Pair, draft.Mode, draft.Params, draft.Risk); err != nil {
		return strategy.Estimate{}, err
	}
	est, err := strategy.Preview(draft.Type, strings.ToUpper(draft.Pair), draft.Params, s.deps.FeePercent/100)
	if err != nil {
		return strategy.Estimate{}, fmt.Errorf("%w: %v", engine.ErrValidation, err)
	}
	return est, nil
}

// --- registry ---

// Create stores a new draft. Full validation happens at start, so incomplete drafts can
// be saved from the wizard; type, mode and the params variant must already agree.
func (s *Service) Create(ctx context.Context, ownerID string, in models.DraftBot) (*models.Bot, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner is required", engine.ErrValidation)
	}
	if in.Mode == "" {
		in.Mode = models.ModePaper
	}
	switch {
	case !in.Type.Valid():
		return nil, fmt.Errorf("%w: unknown bot type %q", engine.ErrValidation, in.Type)
	case !in.Mode.Valid():
		return nil, fmt.Errorf("%w: mode must be paper or live, got %q", engine.ErrValidation, in.Mode)
	case in.Params.Kind() != in.Type:
		return nil, fmt.Errorf("%w: params do not match bot type %s", engine.ErrValidation, in.Type)
	case strings.TrimSpace(in.Pair) == "":
		return nil, fmt.Errorf("%w: pair is required", engine.ErrValidation)
	}
	if in.Risk != nil {
		if err := in.Risk.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrValidation, err)
		}
	}

	now := s.now().UTC()
	b := &models.Bot{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(in.Name),
		Type:      in.Type,
		Pair:      strings.ToUpper(strings.TrimSpace(in.Pair)),
		Mode:      in.Mode,
		Status:    models.StatusDraft,
		Params:    in.Params.Clone(),
		Risk:      cloneRisk(in.Risk),
		Runtime:   models.RuntimeState{RiskStatus: models.RiskOK},
		PresetID:  in.PresetID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if b.Name == "" {
		b.Name = fmt.Sprintf("%s %s", strings.ToUpper(string(b.Type)), b.Pair)
	}
	if err := s.deps.Store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	err := s.deps.Scheduler.Submit(ctx, b.ID, func(jctx context.Context, sec *scheduler.Section) error {
		s.announce(jctx, sec, b, "created")
		return nil
	})
	if err != nil {
		s.deps.Logger.WithError(err).WithField("bot_id", b.ID).Warn("record bot creation")
	}
	s.deps.Logger.WithFields(logrus.Fields{
		"bot_id": b.ID,
		"type":   b.Type,
		"pair":   b.Pair,
		"preset": b.PresetID,
	}).Info("bot created")
	return b, nil
}

func (s *Service) Get(ctx context.Context, ownerID, id string) (*models.Bot, error) {
	b, err := s.deps.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return b, nil
}

func (s *Service) List(ctx context.Context, ownerID string) ([]models.Bot, error) {
	return s.deps.Store.ListByOwner(ctx, ownerID)
}

// --- lifecycle ---

func (s *Service) Start(ctx context.Context, ownerID, id string) (*models.Bot, error) {
	return s.mutate(ctx, ownerID, id, func(_ context.Context, b *models.Bot, now time.Time) (string, error) {
		if err := s.deps.Engine.Start(b, now); err != nil {
			return "", err
		}
		if b.Type == models.BotTypeGrid {
			if levels, err := strategy.CalculateGridLevels(*b.Params.Grid); err == nil {
				amount := b.Params.Grid.OrderAmount()
				stats := strategy.GetGridStats(levels, b.Runtime.LastPrice, amount)
				s.deps.Logger.WithFields(logrus.Fields{
					"bot_id":       b.ID,
					"levels":       stats.Levels,
					"levels_below": stats.LevelsBelow,
					"levels_above": stats.LevelsAbove,
				}).Debug("\n" + strategy.FormatGridTable(b.Pair, levels, b.Runtime.Grid.ReferencePrice, amount))
			}
		}
		return "started", nil
	})
}

func (s *Service) Pause(ctx context.Context, ownerID, id string) (*models.Bot, error) {
	return s.mutate(ctx, ownerID, id, func(_ context.Context, b *models.Bot, now time.Time) (string, error) {
		if err := s.deps.Engine.Pause(b, now); err != nil {
			return "", err
		}
		return "paused", nil
	})
}

// Stop halts the bot. With cancelOrders the venue is asked to cancel resting orders first;
// a failed cancel is logged and the bot still stops.
func (s *Service) Stop(ctx context.Context, ownerID, id string, cancelOrders bool) (*models.Bot, error) {
	return s.mutate(ctx, ownerID, id, func(jctx context.Context, b *models.Bot, now time.Time) (string, error) {
		if err := s.deps.Engine.Stop(b, "user", false, now); err != nil {
			return "", err
		}
		trigger := "stopped"
		if !cancelOrders {
			return trigger, nil
		}
		n, err := s.deps.Orders.CancelFor(jctx, b.Mode, b.ID, b.Pair)
		if err != nil {
			s.deps.Logger.WithError(err).WithField("bot_id", b.ID).Warn("cancel open orders")
			return trigger + ":cancel_failed", nil
		}
		b.Runtime.OpenOrders = 0
		b.Runtime.Resting = nil
		return fmt.Sprintf("%s:orders_cancelled=%d", trigger, n), nil
	})
}

func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	return s.deps.Scheduler.Submit(ctx, id, func(jctx context.Context, sec *scheduler.Section) error {
		b, err := s.Get(jctx, ownerID, id)
		if err != nil {
			return err
		}
		if err := engine.CanDelete(b); err != nil {
			return err
		}
		if err := s.deps.Store.Delete(jctx, id); err != nil {
			return err
		}
		sec.Record(jctx, scheduler.LifecycleEntry(b, s.now(), "deleted"))
		s.deps.Logger.WithField("bot_id", id).Info("bot deleted")
		return nil
	})
}

// UpdateInput carries the editable fields. Nil fields are left alone.
type UpdateInput struct {
	Name   *string            `json:"name,omitempty"`
	Pair   *string            `json:"pair,omitempty"`
	Mode   *models.Mode       `json:"mode,omitempty"`
	Params json.RawMessage    `json:"params,omitempty"`
	Risk   *models.RiskParams `json:"risk,omitempty"`
}

// Update edits a bot that is not running. Non-draft bots must stay fully valid.
func (s *Service) Update(ctx context.Context, ownerID, id string, in UpdateInput) (*models.Bot, error) {
	return s.mutate(ctx, ownerID, id, func(_ context.Context, b *models.Bot, now time.Time) (string, error) {
		pairChanged := in.Pair != nil && !strings.EqualFold(strings.TrimSpace(*in.Pair), b.Pair)
		if err := engine.CanEdit(b, pairChanged); err != nil {
			return "", err
		}
		if in.Name != nil {
			b.Name = strings.TrimSpace(*in.Name)
		}
		if pairChanged {
			b.Pair = strings.ToUpper(strings.TrimSpace(*in.Pair))
		}
		if in.Mode != nil {
			b.Mode = *in.Mode
		}
		if len(in.Params) > 0 && string(in.Params) != "null" {
			p, err := models.DecodeParams(b.Type, in.Params)
			if err != nil {
				return "", fmt.Errorf("%w: %v", engine.ErrValidation, err)
			}
			b.Params = p
		}
		if in.Risk != nil {
			b.Risk = cloneRisk(in.Risk)
		}

		if b.Status == models.StatusDraft {
			if !b.Mode.Valid() {
				return "", fmt.Errorf("%w: mode must be paper or live, got %q", engine.ErrValidation, b.Mode)
			}
			if b.Risk != nil {
				if err := b.Risk.Validate(); err != nil {
					return "", fmt.Errorf("%w: %v", engine.ErrValidation, err)
				}
			}
		} else if err := engine.ValidateDraft(b.Type, b.Pair, b.Mode, b.Params, b.Risk); err != nil {
			return "", err
		}
		b.UpdatedAt = now
		return "edited", nil
	})
}

type Settings struct {
	SafeMode *bool `json:"safeMode,omitempty"`
}

// PatchSettings is allowed in any status; a running bot picks it up on its next tick.
func (s *Service) PatchSettings(ctx context.Context, ownerID, id string, in Settings) (*models.Bot, error) {
	if in.SafeMode == nil {
		return nil, fmt.Errorf("%w: no settings given", engine.ErrValidation)
	}
	return s.mutate(ctx, ownerID, id, func(_ context.Context, b *models.Bot, now time.Time) (string, error) {
		if b.Risk == nil {
			b.Risk = &models.RiskParams{}
		}
		b.Risk.SafeMode = *in.SafeMode
		b.UpdatedAt = now
		if *in.SafeMode {
			return "settings:safe_mode=on", nil
		}
		return "settings:safe_mode=off", nil
	})
}

// mutate loads the bot inside its section, applies fn, saves, and logs the lifecycle entry
// fn names. Nothing is saved when fn fails.
func (s *Service) mutate(ctx context.Context, ownerID, id string,
	fn func(ctx context.Context, b *models.Bot, now time.Time) (string, error),
) (*models.Bot, error) {
	var out *models.Bot
	err := s.deps.Scheduler.Submit(ctx, id, func(jctx context.Context, sec *scheduler.Section) error {
		b, err := s.Get(jctx, ownerID, id)
		if err != nil {
			return err
		}
		before := b.Status
		trigger, err := fn(jctx, b, s.now().UTC())
		if err != nil {
			return err
		}
		if err := s.deps.Store.Save(jctx, b); err != nil {
			return fmt.Errorf("save bot %s: %w", id, err)
		}
		s.announce(jctx, sec, b, trigger)
		if before != b.Status {
			s.deps.Logger.WithFields(logrus.Fields{
				"bot_id": id,
				"from":   before,
				"to":     b.Status,
			}).Info("bot status changed")
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) announce(ctx context.Context, sec *scheduler.Section, b *models.Bot, trigger string) {
	now := s.now()
	sec.Record(ctx, scheduler.LifecycleEntry(b, now, trigger))
	sec.Publish(ctx, events.Event{Kind: events.KindStatus, OwnerID: b.OwnerID, BotID: b.ID,
		At: now.UTC(), Status: b.Status, Reason: trigger})
}

// --- decision log ---

func (s *Service) Logs(ctx context.Context, ownerID, id string, limit int) ([]models.DecisionLogEntry, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return s.deps.Log.Query(ctx, models.DecisionFilter{OwnerID: ownerID, BotID: id, Limit: limit})
}

type TradeHistory struct {
	Trades []models.DecisionLogEntry `json:"trades"`
	Stats  models.TradeStats         `json:"stats"`
}

func (s *Service) Trades(ctx context.Context, ownerID, id string, limit int) (TradeHistory, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return TradeHistory{}, err
	}
	trades, err := s.deps.Log.Query(ctx, models.DecisionFilter{
		OwnerID: ownerID, BotID: id, Outcome: models.OutcomeTrade, Limit: limit,
	})
	if err != nil {
		return TradeHistory{}, err
	}
	if trades == nil {
		trades = []models.DecisionLogEntry{}
	}
	return TradeHistory{Trades: trades, Stats: models.SummarizeTrades(trades)}, nil
}

// AuditLog queries across all of the owner's bots, including deleted ones.
func (s *Service) AuditLog(ctx context.Context, ownerID string, f models.DecisionFilter) ([]models.DecisionLogEntry, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner is required", engine.ErrValidation)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, fmt.Errorf("%w: to is before from", engine.ErrValidation)
	}
	f.OwnerID = ownerID
	return s.deps.Log.Query(ctx, f)
}

// --- emergency stop ---

func (s *Service) EmergencyStatus() risk.Controls {
	return s.deps.Controls.Snapshot()
}

// ActivateEmergencyStop is idempotent; changed is false when it was already active.
func (s *Service) ActivateEmergencyStop(ctx context.Context, reason string) (risk.Controls, bool) {
	if strings.TrimSpace(reason) == "" {
		reason = "manual"
	}
	changed := s.deps.Controls.Activate(reason, s.now())
	ctl := s.deps.Controls.Snapshot()
	if changed {
		s.deps.Logger.WithField("reason", reason).Warn("EMERGENCY STOP engaged")
		s.emergencyChanged(ctx, ctl)
	}
	return ctl, changed
}

func (s *Service) ClearEmergencyStop(ctx context.Context) (risk.Controls, bool) {
	changed := s.deps.Controls.Clear()
	ctl := s.deps.Controls.Snapshot()
	if changed {
		s.deps.Logger.Warn("emergency stop cleared")
		s.emergencyChanged(ctx, ctl)
	}
	return ctl, changed
}

// RestoreControls loads persisted controls into the switch. Call it before the scheduler starts.
func (s *Service) RestoreControls(ctx context.Context) error {
	if s.deps.ControlsStore == nil {
		return nil
	}
	ctl, err := s.deps.ControlsStore.LoadControls(ctx)
	if err != nil {
		return err
	}
	s.deps.Controls.Restore(ctl)
	s.deps.Metrics.SetEmergencyStop(ctl.EmergencyStop)
	if ctl.EmergencyStop {
		s.deps.Logger.WithField("reason", ctl.Reason).Warn("emergency stop still engaged from before restart")
	}
	return nil
}

func (s *Service) emergencyChanged(ctx context.Context, ctl risk.Controls) {
	if s.deps.ControlsStore != nil {
		if err := s.deps.ControlsStore.SaveControls(ctx, ctl); err != nil {
			s.deps.Logger.WithError(err).Error("persist emergency controls")
		}
	}
	s.deps.Metrics.SetEmergencyStop(ctl.EmergencyStop)
	if s.deps.Notifier != nil {
		s.deps.Notifier.EmergencyStop(ctl.EmergencyStop, ctl.Reason)
	}
	ev := events.Event{Kind: events.KindEmergency, At: s.now().UTC(), Reason: ctl.Reason}
	if err := s.deps.Events.Publish(ctx, ev); err != nil {
		s.deps.Logger.WithError(err).Debug("publish emergency event")
	}
}

func cloneRisk(r *models.RiskParams) *models.RiskParams {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}
