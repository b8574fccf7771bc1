package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"verifika/internal/config"
	"verifika/internal/db"
	"verifika/internal/domain"
	"verifika/internal/engine"
	"verifika/internal/migrate"
	"verifika/internal/notify"
)

type testEnv struct {
	Engine   engine.Engine
	Notifier *notify.Dispatcher
	Ctx      context.Context
	now      *time.Time
}

func (env *testEnv) Advance(d time.Duration) {
	*env.now = env.now.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	notifier := notify.New(conn, nil, nil)
	notifier.Now = func() time.Time { return now }
	eng := engine.New(conn, config.Default(), notifier)
	eng.Now = func() time.Time { return now }

	ctx := context.Background()
	env := &testEnv{Engine: eng, Notifier: notifier, Ctx: ctx, now: &now}

	c1 := "client-1"
	seed := []domain.User{
		{ID: "rev-1", Name: "Reviewer", Email: "rev@example.com", Role: "reviewer"},
		{ID: "tech-1", Name: "Technician", Email: "tech@example.com", Role: "technician", ClientID: &c1},
		{ID: "sup-1", Name: "Supervisor", Email: "sup@example.com", Role: "supervisor", ClientID: &c1},
	}
	for _, u := range seed {
		if _, err := eng.CreateUser(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	return env
}

// completedActivity seeds an activity that is ready for review.
func completedActivity(t *testing.T, env *testEnv, id, clientID string) domain.Activity {
	t.Helper()
	a, err := env.Engine.CreateActivity(env.Ctx, domain.Activity{
		ID:           id,
		Title:        "Install fiber node",
		TechnicianID: "tech-1",
		ClientID:     clientID,
	})
	if err != nil {
		t.Fatalf("create activity: %v", err)
	}
	if _, err := env.Engine.SetActivityStatus(env.Ctx, a.ID, domain.ActivityCompleted); err != nil {
		t.Fatalf("complete activity: %v", err)
	}
	a.Status = domain.ActivityCompleted
	return a
}

func openValidation(t *testing.T, env *testEnv, activityID string) domain.Validation {
	t.Helper()
	v, err := env.Engine.CreateValidation(env.Ctx, engine.ValidationCreateOptions{
		ActivityID: activityID,
		ReviewerID: "rev-1",
		ActorID:    "admin",
	})
	if err != nil {
		t.Fatalf("create validation: %v", err)
	}
	return v
}

func TestValidationLifecycleApprove(t *testing.T) {
	env := newTestEnv(t)
	act := completedActivity(t, env, "act-1", "client-1")
	v := openValidation(t, env, act.ID)

	if v.Status != domain.StatusPendingReview {
		t.Fatalf("new validation status = %s", v.Status)
	}
	wantDeadline := env.now.AddDate(0, 0, 3).Format(time.RFC3339)
	if v.DeadlineAt != wantDeadline {
		t.Fatalf("deadline = %s, want %s", v.DeadlineAt, wantDeadline)
	}

	v, err := env.Engine.StartReview(env.Ctx, v.ID, "rev-1")
	if err != nil {
		t.Fatalf("start review: %v", err)
	}
	if v.Status != domain.StatusInReview || v.ReviewStartedAt == nil {
		t.Fatalf("after start: status=%s started=%v", v.Status, v.ReviewStartedAt)
	}

	env.Advance(2 * time.Hour)
	v, err = env.Engine.Validate(env.Ctx, engine.ValidateOptions{
		ValidationID:   v.ID,
		Score:          8,
		CriteriaScores: map[string]int{"quality": 9, "timeliness": 7},
		PrimaryComment: "solid work",
		ActorID:        "rev-1",
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v.Status != domain.StatusApproved {
		t.Fatalf("status = %s, want approved", v.Status)
	}
	if v.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	if v.ReviewHours == nil || *v.ReviewHours != 2 {
		t.Fatalf("review hours = %v, want 2", v.ReviewHours)
	}

	a, err := env.Engine.Repo.GetActivity(env.Ctx, act.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != domain.ActivityValidated {
		t.Fatalf("activity status = %s, want validated", a.Status)
	}

	// Approval notifies the technician via email.
	msgs, err := env.Notifier.ListByRecipient(env.Ctx, "tech-1", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, m := range msgs {
		if m.Kind == notify.KindApproval && m.Channel == notify.ChannelEmail {
			found = true
		}
	}
	if !found {
		t.Fatalf("no approval email notification for technician: %+v", msgs)
	}

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "validation.approved", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("approved events = %d, want 1", len(events))
	}
}

func TestApproveGuards(t *testing.T) {
	env := newTestEnv(t)
	act := completedActivity(t, env, "act-1", "client-1")
	v := openValidation(t, env, act.ID)

	if _, err := env.Engine.Validate(env.Ctx, engine.ValidateOptions{ValidationID: v.ID, Score: 7, ActorID: "rev-1"}); !errors.Is(err, engine.ErrNotInReview) {
		t.Fatalf("approve on pending = %v, want ErrNotInReview", err)
	}

	for _, score := range []int{0, 11, -3} {
		if _, err := env.Engine.Validate(env.Ctx, engine.ValidateOptions{ValidationID: v.ID, Score: score, ActorID: "rev-1"}); err == nil {
			t.Fatalf("score %d accepted", score)
		}
	}

	if _, err := env.Engine.StartReview(env.Ctx, v.ID, "rev-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Validate(env.Ctx, engine.ValidateOptions{ValidationID: v.ID, Score: 6, ActorID: "rev-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Validate(env.Ctx, engine.ValidateOptions{ValidationID: v.ID, Score: 6, ActorID: "rev-1"}); !errors.Is(err, engine.ErrAlreadyTerminal) {
		t.Fatalf("second approve = %v, want ErrAlreadyTerminal", err)
	}
}

func TestRejectRequiresExplanation(t *testing.T) {
	env := newTestEnv(t)
	act := completedActivity(t, env, "act-1", "client-1")
	v := openValidation(t, env, act.ID)
	if _, err := env.Engine.StartReview(env.Ctx, v.ID, "rev-1"); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.Reject(env.Ctx, engine.RejectOptions{ValidationID: v.ID, ActorID: "rev-1"}); err == nil {
		t.Fatal("reject without comment accepted")
	}
	if _, err := env.Engine.Reject(env.Ctx, engine.RejectOptions{
		ValidationID: v.ID, PrimaryComment: "bad splice", ActorID: "rev-1",
	}); err == nil {
		t.Fatal("reject without required changes accepted")
	}

	v, err := env.Engine.Reject(env.Ctx, engine.RejectOptions{
		ValidationID:    v.ID,
		PrimaryComment:  "bad splice",
		RequiredChanges: []domain.RequiredChange{{Description: "redo the splice", Priority: "high"}},
		ActorID:         "rev-1",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if v.Status != domain.StatusRejected {
		t.Fatalf("status = %s, want rejected", v.Status)
	}

	a, err := env.Engine.Repo.GetActivity(env.Ctx, act.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != domain.ActivityRejected {
		t.Fatalf("activity status = %s, want rejected", a.Status)
	}

	msgs, _ := env.Notifier.ListByRecipient(env.Ctx, "tech-1", false, 0)
	found := false
	for _, m := range msgs {
		if m.Kind == notify.KindRejection && m.Channel == notify.ChannelEmail && m.Urgency == notify.UrgencyHigh {
			found = true
		}
	}
	if !found {
		t.Fatalf("no high urgency rejection email: %+v", msgs)
	}
}

func TestIllegalTransitions(t *testing.T) {
	env := newTestEnv(t)
	act := completedActivity(t, env, "act-1", "client-1")
	v := openValidation(t, env, act.ID)
	if _, err := env.Engine.StartReview(env.Ctx, v.ID, "rev-1"); err != nil {
		t.Fatal(err)
	}
	v, err := env.Engine.Reject(env.Ctx, engine.RejectOptions{
		ValidationID:    v.ID,
		PrimaryComment:  "nope",
		RequiredChanges: []domain.RequiredChange{{Description: "fix it"}},
		ActorID:         "rev-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	// rejected is final: no restart, no reopen, no escalation
	if _, err := env.Engine.StartReview(env.Ctx, v.ID, "rev-1"); !errors.Is(err, engine.ErrIllegalTransition) {
		t.Fatalf("start on rejected = %v, want illegal transition", err)
	}
	if _, err := env.Engine.Reopen(env.Ctx, engine.ReopenOptions{ValidationID: v.ID, Reason: "appeal", ActorID: "tech-1"}); !errors.Is(err, engine.ErrIllegalTransition) {
		t.Fatalf("reopen on rejected = %v, want illegal transition", err)
	}
	if _, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{ValidationID: v.ID, ActorID: "rev-1"}); !errors.Is(err, engine.ErrAlreadyTerminal) {
		t.Fatalf("escalate on rejected = %v, want ErrAlreadyTerminal", err)
	}
}

func TestManualEscalation(t *testing.T) {
	env := newTestEnv(t)
	act := completedActivity(t, env, "act-1", "client-1")
	v := openValidation(t, env, act.ID)

	v, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{
		ValidationID: v.ID,
		Reason:       "reviewer unavailable",
		Urgency:      notify.UrgencyCritical,
		ActorID:      "rev-1",
	})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if v.Status != domain.StatusEscalated {
		t.Fatalf("status = %s, want escalated", v.Status)
	}
	if v.SupervisorID == nil || *v.SupervisorID != "sup-1" {
		t.Fatalf("supervisor = %v, want sup-1", v.SupervisorID)
	}
	wantDeadline := env.now.AddDate(0, 0, 2).Format(time.RFC3339)
	if v.DeadlineAt != wantDeadline {
		t.Fatalf("deadline = %s, want %s", v.DeadlineAt, wantDeadline)
	}

	// Critical manual escalations go out by email.
	msgs, _ := env.Notifier.ListByRecipient(env.Ctx, "sup-1", false, 0)
	if len(msgs) != 1 || msgs[0].Channel != notify.ChannelEmail {
		t.Fatalf("supervisor notifications = %+v", msgs)
	}

	// The supervisor picks the escalated review up.
	v, err = env.Engine.StartReview(env.Ctx, v.ID, "sup-1")
	if err != nil {
		t.Fatalf("start after escalation: %v", err)
	}
	if v.Status != domain.StatusInReview {
		t.Fatalf("status = %s, want in_review", v.Status)
	}
}

func TestEscalationWithoutSupervisorFails(t *testing.T) {
	env := newTestEnv(t)
	act := completedActivity(t, env, "act-2", "client-without-supervisor")
	v := openValidation(t, env, act.ID)
	if _, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{ValidationID: v.ID, ActorID: "rev-1"}); err == nil {
		t.Fatal("escalate without a supervisor succeeded")
	}
}

func TestEscalationToExplicitSupervisor(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateUser(env.Ctx, domain.User{
		ID: "sup-2", Name: "Backup Supervisor", Email: "sup2@example.com", Role: "supervisor",
	}); err != nil {
		t.Fatal(err)
	}
	act := completedActivity(t, env, "act-1", "client-1")
	v := openValidation(t, env, act.ID)

	v, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{
		ValidationID: v.ID,
		SupervisorID: "sup-2",
		Reason:       "client supervisor on leave",
		ActorID:      "rev-1",
	})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if v.SupervisorID == nil || *v.SupervisorID != "sup-2" {
		t.Fatalf("supervisor = %v, want sup-2", v.SupervisorID)
	}

	act2 := completedActivity(t, env, "act-2", "client-1")
	v2 := openValidation(t, env, act2.ID)
	if _, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{
		ValidationID: v2.ID, SupervisorID: "tech-1", ActorID: "rev-1",
	}); err == nil {
		t.Fatal("escalation to a technician accepted")
	}
	if _, err := env.Engine.Escalate(env.Ctx, engine.EscalateOptions{
		ValidationID: v2.ID, SupervisorID: "nobody", ActorID: "rev-1",
	}); err == nil {
		t.Fatal("escalation to an unknown user accepted")
	}
}

func TestReopenApprovedValidation(t *testing.T) {
	env := newTestEnv(t)
	act := completedActivity(t, env, "act-1", "client-1")
	v := openValidation(t, env, act.ID)
	if _, err := env.Engine.StartReview(env.Ctx, v.ID, "rev-1"); err != nil {
		t.Fatal(err)
	}
	v, err := env.Engine.Validate(env.Ctx, engine.ValidateOptions{
		ValidationID: v.ID, Score: 9, PrimaryComment: "great", ActorID: "rev-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.Reopen(env.Ctx, engine.ReopenOptions{ValidationID: v.ID, ActorID: "tech-1"}); err == nil {
		t.Fatal("reopen without a reason accepted")
	}

	env.Advance(48 * time.Hour)
	v, err = env.Engine.Reopen(env.Ctx, engine.ReopenOptions{
		ValidationID: v.ID, Reason: "client reported the link is down", ActorID: "tech-1",
	})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if v.Status != domain.StatusReopened {
		t.Fatalf("status = %s, want reopened", v.Status)
	}
	if v.CompletedAt != nil {
		t.Fatal("completed_at should be cleared on reopen")
	}
	if !strings.Contains(v.PrimaryComment, "[REOPENED] client reported the link is down") {
		t.Fatalf("reason not recorded: %q", v.PrimaryComment)
	}
	wantDeadline := env.now.AddDate(0, 0, v.DeadlineDays).Format(time.RFC3339)
	if v.DeadlineAt != wantDeadline {
		t.Fatalf("deadline = %s, want full window %s", v.DeadlineAt, wantDeadline)
	}

	// A reopened validation goes through the normal review cycle again.
	if _, err := env.Engine.StartReview(env.Ctx, v.ID, "rev-1"); err != nil {
		t.Fatalf("start after reopen: %v", err)
	}
	if _, err := env.Engine.Validate(env.Ctx, engine.ValidateOptions{ValidationID: v.ID, Score: 10, ActorID: "rev-1"}); err != nil {
		t.Fatalf("approve after reopen: %v", err)
	}
}

func TestCreateValidationGuards(t *testing.T) {
	env := newTestEnv(t)

	// Activity must exist and be completed.
	if _, err := env.Engine.CreateValidation(env.Ctx, engine.ValidationCreateOptions{
		ActivityID: "missing", ReviewerID: "rev-1", ActorID: "admin",
	}); err == nil {
		t.Fatal("validation for missing activity accepted")
	}
	a, err := env.Engine.CreateActivity(env.Ctx, domain.Activity{
		Title: "In progress work", TechnicianID: "tech-1", ClientID: "client-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateValidation(env.Ctx, engine.ValidationCreateOptions{
		ActivityID: a.ID, ReviewerID: "rev-1", ActorID: "admin",
	}); err == nil {
		t.Fatal("validation for pending activity accepted")
	}

	// Technicians cannot review.
	act := completedActivity(t, env, "act-1", "client-1")
	if _, err := env.Engine.CreateValidation(env.Ctx, engine.ValidationCreateOptions{
		ActivityID: act.ID, ReviewerID: "tech-1", ActorID: "admin",
	}); err == nil {
		t.Fatal("technician accepted as reviewer")
	}

	// Only one open validation per activity.
	openValidation(t, env, act.ID)
	if _, err := env.Engine.CreateValidation(env.Ctx, engine.ValidationCreateOptions{
		ActivityID: act.ID, ReviewerID: "rev-1", ActorID: "admin",
	}); err == nil {
		t.Fatal("second open validation accepted")
	}
}
