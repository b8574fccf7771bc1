package engine_test

import (
	"testing"
	"time"

	"verifika/internal/domain"
	"verifika/internal/engine"
)

func TestDashboardEmptyDatabase(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.Dashboard(env.Ctx, engine.DashboardFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Total != 0 || d.ApprovalRate != 0 || d.AvgScore != 0 {
		t.Fatalf("empty dashboard = %+v, want zeros", d)
	}
}

func TestDashboardCountsAndRates(t *testing.T) {
	env := newTestEnv(t)

	// One approved, one rejected, one still pending.
	a1 := completedActivity(t, env, "act-1", "client-1")
	v1 := openValidation(t, env, a1.ID)
	if _, err := env.Engine.StartReview(env.Ctx, v1.ID, "rev-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Validate(env.Ctx, engine.ValidateOptions{ValidationID: v1.ID, Score: 8, ActorID: "rev-1"}); err != nil {
		t.Fatal(err)
	}

	a2 := completedActivity(t, env, "act-2", "client-1")
	v2 := openValidation(t, env, a2.ID)
	if _, err := env.Engine.StartReview(env.Ctx, v2.ID, "rev-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Reject(env.Ctx, engine.RejectOptions{
		ValidationID:    v2.ID,
		PrimaryComment:  "incomplete",
		RequiredChanges: []domain.RequiredChange{{Description: "finish the survey"}},
		ActorID:         "rev-1",
	}); err != nil {
		t.Fatal(err)
	}

	a3 := completedActivity(t, env, "act-3", "client-1")
	openValidation(t, env, a3.ID)

	d, err := env.Engine.Dashboard(env.Ctx, engine.DashboardFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Total != 3 || d.Approved != 1 || d.Rejected != 1 || d.PendingReview != 1 {
		t.Fatalf("dashboard = %+v", d)
	}
	if d.ApprovalRate != 0.5 {
		t.Fatalf("approval rate = %v, want 0.5", d.ApprovalRate)
	}
	if d.AvgScore != 8 {
		t.Fatalf("avg score = %v, want 8", d.AvgScore)
	}
	if d.CompletedToday != 2 {
		t.Fatalf("completed today = %d, want 2", d.CompletedToday)
	}
	if d.DueWithin24h != 0 {
		t.Fatalf("due within 24h = %d, want 0 for a 3 day window", d.DueWithin24h)
	}

	// Client filter excludes everything else.
	d, err = env.Engine.Dashboard(env.Ctx, engine.DashboardFilters{ClientID: "other-client"})
	if err != nil {
		t.Fatal(err)
	}
	if d.Total != 0 {
		t.Fatalf("filtered total = %d, want 0", d.Total)
	}
}

func TestDashboardOverdueExcludesEscalated(t *testing.T) {
	env := newTestEnv(t)

	// One escalated, one still pending; let both deadlines pass.
	a1 := completedActivity(t, env, "act-1", "client-1")
	v1 := openValidation(t, env, a1.ID)
	if _, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{ValidationID: v1.ID, ActorID: "rev-1"}); err != nil {
		t.Fatal(err)
	}
	a2 := completedActivity(t, env, "act-2", "client-1")
	openValidation(t, env, a2.ID)

	env.Advance(4 * 24 * time.Hour)

	d, err := env.Engine.Dashboard(env.Ctx, engine.DashboardFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Escalated != 1 {
		t.Fatalf("escalated = %d, want 1", d.Escalated)
	}
	// An escalated record sits with the supervisor; only the pending one is overdue.
	if d.Overdue != 1 {
		t.Fatalf("overdue = %d, want 1", d.Overdue)
	}
}

func TestTechnicianReport(t *testing.T) {
	env := newTestEnv(t)

	a1 := completedActivity(t, env, "act-1", "client-1")
	v1 := openValidation(t, env, a1.ID)
	if _, err := env.Engine.StartReview(env.Ctx, v1.ID, "rev-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Validate(env.Ctx, engine.ValidateOptions{ValidationID: v1.ID, Score: 6, ActorID: "rev-1"}); err != nil {
		t.Fatal(err)
	}
	a2 := completedActivity(t, env, "act-2", "client-1")
	v2 := openValidation(t, env, a2.ID)
	if _, err := env.Engine.StartReview(env.Ctx, v2.ID, "rev-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Reject(env.Ctx, engine.RejectOptions{
		ValidationID:    v2.ID,
		PrimaryComment:  "rework",
		RequiredChanges: []domain.RequiredChange{{Description: "redo"}},
		ActorID:         "rev-1",
	}); err != nil {
		t.Fatal(err)
	}

	rows, err := env.Engine.TechnicianReport(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	r := rows[0]
	if r.TechnicianID != "tech-1" || r.Total != 2 || r.Approved != 1 || r.Rejected != 1 {
		t.Fatalf("report = %+v", r)
	}
	if r.ApprovalRate != 0.5 {
		t.Fatalf("approval rate = %v, want 0.5", r.ApprovalRate)
	}
	if r.AvgScore != 6 {
		t.Fatalf("avg score = %v, want 6", r.AvgScore)
	}
}
