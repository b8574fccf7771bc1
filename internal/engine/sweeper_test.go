package engine_test

import (
	"testing"
	"time"

	"verifika/internal/domain"
	"verifika/internal/notify"
)

func TestSweepExpiredAutoEscalates(t *testing.T) {
	env := newTestEnv(t)
	act := completedActivity(t, env, "act-1", "client-1")
	v := openValidation(t, env, act.ID)

	// Nothing expired yet.
	res, err := env.Engine.SweepExpired(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Scanned != 0 {
		t.Fatalf("scanned = %d, want 0", res.Scanned)
	}

	env.Advance(4 * 24 * time.Hour)
	res, err = env.Engine.SweepExpired(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Scanned != 1 || res.Escalated != 1 {
		t.Fatalf("sweep = %+v, want 1 scanned 1 escalated", res)
	}

	got, err := env.Engine.GetValidation(env.Ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusEscalated || !got.AutoEscalated {
		t.Fatalf("status=%s auto=%v", got.Status, got.AutoEscalated)
	}
	wantDeadline := env.now.AddDate(0, 0, 1).Format(time.RFC3339)
	if got.DeadlineAt != wantDeadline {
		t.Fatalf("deadline = %s, want %s", got.DeadlineAt, wantDeadline)
	}

	// Supervisor gets the email, the reviewer an in-app missed-deadline note.
	supMsgs, _ := env.Notifier.ListByRecipient(env.Ctx, "sup-1", false, 0)
	if len(supMsgs) != 1 || supMsgs[0].Channel != notify.ChannelEmail || supMsgs[0].Kind != notify.KindEscalation {
		t.Fatalf("supervisor msgs = %+v", supMsgs)
	}
	revDeadline := 0
	revMsgs, _ := env.Notifier.ListByRecipient(env.Ctx, "rev-1", false, 0)
	for _, m := range revMsgs {
		if m.Kind == notify.KindDeadline && m.Channel == notify.ChannelInApp {
			revDeadline++
		}
	}
	if revDeadline != 1 {
		t.Fatalf("reviewer deadline notes = %d, want 1", revDeadline)
	}

	// Escalated records never escalate twice.
	res, err = env.Engine.SweepExpired(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Scanned != 0 || res.Escalated != 0 {
		t.Fatalf("second sweep = %+v, want no-op", res)
	}
	if _, err := env.Engine.EscalateAutomatically(env.Ctx, v.ID); err != nil {
		t.Fatalf("auto-escalate on escalated = %v, want idempotent nil", err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, "validation.escalated", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("escalation events = %d, want exactly 1", len(events))
	}
}

func TestSweepSkipsRecordsWithoutSupervisor(t *testing.T) {
	env := newTestEnv(t)
	act := completedActivity(t, env, "act-1", "client-without-supervisor")
	v := openValidation(t, env, act.ID)

	env.Advance(4 * 24 * time.Hour)
	res, err := env.Engine.SweepExpired(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Scanned != 1 || res.Escalated != 0 || res.Skipped != 1 {
		t.Fatalf("sweep = %+v, want skip", res)
	}
	got, err := env.Engine.GetValidation(env.Ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPendingReview {
		t.Fatalf("status = %s, record should stay open", got.Status)
	}
}

func TestDeadlineReminderThresholdsAndSuppression(t *testing.T) {
	env := newTestEnv(t)
	act := completedActivity(t, env, "act-1", "client-1")
	v := openValidation(t, env, act.ID)

	// 5 hours before the deadline: the 6h threshold fires by email.
	env.Advance(3*24*time.Hour - 5*time.Hour)
	res, err := env.Engine.SweepUpcomingDeadlines(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Noticed != 1 {
		t.Fatalf("noticed = %d, want 1", res.Noticed)
	}
	msgs, _ := env.Notifier.ListByRecipient(env.Ctx, "rev-1", false, 0)
	deadlineMsgs := filterKind(msgs, notify.KindDeadline)
	if len(deadlineMsgs) != 1 {
		t.Fatalf("deadline msgs = %+v", deadlineMsgs)
	}
	if deadlineMsgs[0].Urgency != notify.UrgencyHigh || deadlineMsgs[0].Channel != notify.ChannelEmail {
		t.Fatalf("first reminder = %s/%s, want high/email", deadlineMsgs[0].Urgency, deadlineMsgs[0].Channel)
	}

	// An immediate re-sweep is suppressed: the last notice is too fresh.
	res, err = env.Engine.SweepUpcomingDeadlines(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Noticed != 0 {
		t.Fatalf("re-sweep noticed = %d, want suppression", res.Noticed)
	}

	// 1 hour left: the 1h threshold fires critically.
	env.Advance(4 * time.Hour)
	res, err = env.Engine.SweepUpcomingDeadlines(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Noticed != 1 {
		t.Fatalf("noticed = %d, want 1", res.Noticed)
	}
	msgs, _ = env.Notifier.ListByRecipient(env.Ctx, "rev-1", false, 0)
	deadlineMsgs = filterKind(msgs, notify.KindDeadline)
	if len(deadlineMsgs) != 2 {
		t.Fatalf("deadline msgs = %d, want 2", len(deadlineMsgs))
	}
	// Newest first.
	if deadlineMsgs[0].Urgency != notify.UrgencyCritical {
		t.Fatalf("second reminder urgency = %s, want critical", deadlineMsgs[0].Urgency)
	}

	got, err := env.Engine.GetValidation(env.Ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastDeadlineNoticeAt == nil {
		t.Fatal("last notice timestamp not stamped")
	}
}

func filterKind(msgs []domain.Notification, kind string) []domain.Notification {
	var out []domain.Notification
	for _, m := range msgs {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}
