// Package engine implements the bot lifecycle and per-tick strategy dispatch.
//
// Everything here works on a *models.Bot owned by the caller; the scheduler
// hands in a working copy and commits it only after the tick finishes.
package engine

import (
	"errors"
	"strings"
	"time"

	"github.com/kjannette/trahn-botengine/internal/conditions"
	"github.com/kjannette/trahn-botengine/internal/models"
	"github.com/kjannette/trahn-botengine/internal/risk"
)

type Engine struct {
	guard      *risk.Guardian
	cutoffHour int
}

func New(guard *risk.Guardian) *Engine {
	return &Engine{guard: guard, cutoffHour: guard.Limits().DayCutoffHour}
}

// Validate runs the full type-specific validation required before a bot may run.
func (e *Engine) Validate(bot *models.Bot) error {
	if err := ValidateDraft(bot.Type, bot.Pair, bot.Mode, bot.Params, bot.Risk); err != nil {
		return err
	}
	if err := e.guard.CheckStart(bot); err != nil {
		return validationf("%v", err)
	}
	return nil
}

// ValidateDraft checks the user-editable parts of a bot.
func ValidateDraft(t models.BotType, pair string, mode models.Mode, params models.BotParams, r *models.RiskParams) error {
	if !t.Valid() {
		return validationf("unknown bot type %q", t)
	}
	if strings.TrimSpace(pair) == "" {
		return validationf("pair is required")
	}
	if !mode.Valid() {
		return validationf("mode must be paper or live, got %q", mode)
	}
	if params.Kind() != t {
		return validationf("params do not match bot type %s", t)
	}

	var err error
	switch t {
	case models.BotTypeGrid:
		err = params.Grid.Validate()
	case models.BotTypeDCA:
		err = params.DCA.Validate()
	case models.BotTypeSignal:
		s := params.Signal
		if err = s.Validate(); err == nil {
			err = errors.Join(
				conditions.ValidateTree("entry", s.Entry.WithDefaultTimeframe(s.Timeframe)),
				validateExit(s),
			)
		}
	}
	if err != nil {
		return validationf("%v", err)
	}
	if r != nil {
		if err := r.Validate(); err != nil {
			return validationf("%v", err)
		}
	}
	return nil
}

func validateExit(s *models.SignalParams) error {
	if s.Exit.Empty() && s.Exit.Operator == "" {
		return nil
	}
	return conditions.ValidateTree("exit", s.Exit.WithDefaultTimeframe(s.Timeframe))
}

// Start moves draft, paused or stopped bots to running.
func (e *Engine) Start(bot *models.Bot, now time.Time) error {
	switch bot.Status {
	case models.StatusDraft, models.StatusPaused, models.StatusStopped:
	default:
		return transitionErr(string(bot.Status), "start")
	}
	if err := e.Validate(bot); err != nil {
		return err
	}
	bot.Status = models.StatusRunning
	bot.StatusReason = ""
	bot.Runtime.RiskStatus = models.RiskOK
	bot.Runtime.LastError = ""
	bot.UpdatedAt = now
	return nil
}

func (e *Engine) Pause(bot *models.Bot, now time.Time) error {
	if bot.Status != models.StatusRunning {
		return transitionErr(string(bot.Status), "pause")
	}
	bot.Status = models.StatusPaused
	bot.UpdatedAt = now
	return nil
}

// Stop is valid from running, paused and error. Cancelling open orders is the caller's job;
// Stop only zeroes the counter once that succeeded.
func (e *Engine) Stop(bot *models.Bot, reason string, ordersCancelled bool, now time.Time) error {
	switch bot.Status {
	case models.StatusRunning, models.StatusPaused, models.StatusError:
	default:
		return transitionErr(string(bot.Status), "stop")
	}
	bot.Status = models.StatusStopped
	bot.StatusReason = reason
	if ordersCancelled {
		bot.Runtime.OpenOrders = 0
		bot.Runtime.Resting = nil
	}
	bot.UpdatedAt = now
	return nil
}

// Fail records an engine fault.
func (e *Engine) Fail(bot *models.Bot, cause error, now time.Time) {
	bot.Status = models.StatusError
	bot.StatusReason = "engine_fault"
	bot.Runtime.LastError = cause.Error()
	bot.UpdatedAt = now
}

// AutoStop stops a running bot from inside a tick.
func (e *Engine) AutoStop(bot *models.Bot, reason string, now time.Time) {
	bot.Status = models.StatusStopped
	bot.StatusReason = reason
	bot.UpdatedAt = now
}

func CanDelete(bot *models.Bot) error {
	if bot.Status == models.StatusRunning {
		return transitionErr(string(bot.Status), "delete")
	}
	return nil
}

// CanEdit reports whether params may change. pairChanged is only allowed in draft.
func CanEdit(bot *models.Bot, pairChanged bool) error {
	if bot.Status == models.StatusRunning {
		return transitionErr(string(bot.Status), "edit")
	}
	if pairChanged && bot.Status != models.StatusDraft {
		return validationf("pair can only change while the bot is a draft")
	}
	return nil
}
