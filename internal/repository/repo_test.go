package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kjannette/trahn-botengine/internal/models"
	"github.com/kjannette/trahn-botengine/internal/repository"
	"github.com/kjannette/trahn-botengine/internal/risk"
	"github.com/kjannette/trahn-botengine/internal/testutil"
)

// ---------- BotRepo ----------

func TestBotRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	repo := repository.NewBotRepo(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	owner := "owner-" + uuid.NewString()
	bot := &models.Bot{
		ID:      uuid.NewString(),
		OwnerID: owner,
		Name:    "dca weekly",
		Type:    models.BotTypeDCA,
		Pair:    "ETH/USDT",
		Mode:    models.ModePaper,
		Status:  models.StatusDraft,
		Params: models.BotParams{DCA: &models.DCAParams{
			AmountPerInterval: 50, TotalBudget: 500, Interval: "weekly",
		}},
		Risk:      &models.RiskParams{StopLossPercent: 10},
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Create + Get
	if err := repo.Create(ctx, bot); err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = repo.Delete(ctx, bot.ID) })

	got, err := repo.Get(ctx, bot.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Params.DCA == nil || got.Params.DCA.TotalBudget != 500 {
		t.Fatalf("params not round-tripped: %+v", got.Params)
	}
	if got.Risk == nil || got.Risk.StopLossPercent != 10 {
		t.Fatalf("risk not round-tripped: %+v", got.Risk)
	}

	// Save
	got.Status = models.StatusRunning
	got.Runtime.TotalOrdersPlaced = 2
	got.Runtime.DCA.Spent = 100
	if err := repo.Save(ctx, got); err != nil {
		t.Fatalf("Save: %v", err)
	}
	saved, err := repo.Get(ctx, bot.ID)
	if err != nil {
		t.Fatalf("Get after save: %v", err)
	}
	if saved.Status != models.StatusRunning || saved.Runtime.DCA.Spent != 100 {
		t.Fatalf("runtime not persisted: status=%s spent=%.2f", saved.Status, saved.Runtime.DCA.Spent)
	}

	// ListByOwner / ListRunning
	mine, err := repo.ListByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(mine) != 1 {
		t.Fatalf("expected 1 bot for owner, got %d", len(mine))
	}
	running, err := repo.ListRunning(ctx)
	if err != nil {
		t.Fatalf("ListRunning: %v", err)
	}
	found := false
	for _, b := range running {
		if b.ID == bot.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected bot in running list")
	}

	// Delete
	if err := repo.Delete(ctx, bot.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, bot.ID); err != repository.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ---------- DecisionLogRepo ----------

func TestDecisionLogRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	repo := repository.NewDecisionLogRepo(pool)
	ctx := context.Background()

	owner := "owner-" + uuid.NewString()
	botID := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Millisecond)
	v := 27.5

	entries := []models.DecisionLogEntry{
		{BotID: botID, OwnerID: owner, Timestamp: base, Outcome: models.OutcomeNoAction, Side: models.SideNone,
			Pair: "BTC/USDT", Mode: models.ModePaper, TriggerReason: "entry_rule_not_met:AND 0/1 true",
			RiskCheck: models.RiskCheckNA,
			Evidence: []models.Evidence{{Indicator: "RSI", Timeframe: "1h", Comparator: "<", Threshold: 30,
				Value: &v, Result: models.VerdictFalse}}},
		{BotID: botID, OwnerID: owner, Timestamp: base.Add(time.Second), Outcome: models.OutcomeTrade,
			Side: models.SideBuy, Pair: "BTC/USDT", Price: 84000, Quantity: 0.001, Mode: models.ModePaper,
			TriggerReason: "entry_rule_met:AND 1/1 true", RiskCheck: models.RiskCheckAllowed, OrderID: "paper-1"},
	}
	for i := range entries {
		id, err := repo.Append(ctx, &entries[i])
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if id == "" {
			t.Fatal("expected log id")
		}
	}

	// Retried append is ignored
	if _, err := repo.Append(ctx, &entries[1]); err != nil {
		t.Fatalf("Append retry: %v", err)
	}

	got, err := repo.Query(ctx, models.DecisionFilter{OwnerID: owner})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Outcome != models.OutcomeTrade {
		t.Fatalf("expected newest first, got %s", got[0].Outcome)
	}
	if len(got[1].Evidence) != 1 || got[1].Evidence[0].Value == nil || *got[1].Evidence[0].Value != 27.5 {
		t.Fatalf("evidence not round-tripped: %+v", got[1].Evidence)
	}

	trades, err := repo.Query(ctx, models.DecisionFilter{OwnerID: owner, Outcome: models.OutcomeTrade, Text: "entry"})
	if err != nil {
		t.Fatalf("Query trades: %v", err)
	}
	if len(trades) != 1 || trades[0].OrderID != "paper-1" {
		t.Fatalf("unexpected trade query result: %+v", trades)
	}

	// wildcards in the text filter match literally
	literal, err := repo.Query(ctx, models.DecisionFilter{OwnerID: owner, Text: "%"})
	if err != nil {
		t.Fatalf("Query literal: %v", err)
	}
	if len(literal) != 0 {
		t.Fatalf("expected no entries containing %%, got %d", len(literal))
	}
}

// ---------- ControlsRepo ----------

func TestControlsRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	repo := repository.NewControlsRepo(pool)
	ctx := context.Background()
	t.Cleanup(func() { _ = repo.SaveControls(context.Background(), risk.Controls{}) })

	since := time.Now().UTC().Truncate(time.Microsecond)
	if err := repo.SaveControls(ctx, risk.Controls{EmergencyStop: true, Reason: "venue outage", Since: &since}); err != nil {
		t.Fatalf("SaveControls: %v", err)
	}
	got, err := repo.LoadControls(ctx)
	if err != nil {
		t.Fatalf("LoadControls: %v", err)
	}
	if !got.EmergencyStop || got.Reason != "venue outage" || got.Since == nil || !got.Since.Equal(since) {
		t.Fatalf("controls not round-tripped: %+v", got)
	}

	if err := repo.SaveControls(ctx, risk.Controls{}); err != nil {
		t.Fatalf("SaveControls clear: %v", err)
	}
	got, err = repo.LoadControls(ctx)
	if err != nil {
		t.Fatalf("LoadControls after clear: %v", err)
	}
	if got.EmergencyStop || got.Since != nil {
		t.Fatalf("expected cleared controls, got %+v", got)
	}
}
