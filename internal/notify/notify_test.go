package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"verifika/internal/db"
	"verifika/internal/domain"
	"verifika/internal/migrate"
	"verifika/internal/notify"
)

func TestChannelMapping(t *testing.T) {
	cases := []struct {
		kind, urgency, want string
	}{
		{notify.KindApproval, notify.UrgencyNormal, notify.ChannelEmail},
		{notify.KindRejection, notify.UrgencyHigh, notify.ChannelEmail},
		{notify.KindReopen, notify.UrgencyNormal, notify.ChannelEmail},
		{notify.KindEscalation, notify.UrgencyNormal, notify.ChannelInApp},
		{notify.KindEscalation, notify.UrgencyHigh, notify.ChannelEmail},
		{notify.KindEscalation, notify.UrgencyCritical, notify.ChannelEmail},
		{notify.KindDeadline, notify.UrgencyNormal, notify.ChannelInApp},
		{notify.KindDeadline, notify.UrgencyHigh, notify.ChannelEmail},
		{notify.KindDeadline, notify.UrgencyCritical, notify.ChannelEmail},
		{notify.KindComment, notify.UrgencyNormal, notify.ChannelInApp},
		{notify.KindComment, notify.UrgencyCritical, notify.ChannelInApp},
		{notify.KindValidation, notify.UrgencyNormal, notify.ChannelInApp},
		{notify.KindValidation, notify.UrgencyHigh, notify.ChannelEmail},
	}
	for _, tc := range cases {
		if got := notify.ChannelFor(tc.kind, tc.urgency); got != tc.want {
			t.Errorf("ChannelFor(%s, %s) = %s, want %s", tc.kind, tc.urgency, got, tc.want)
		}
	}
}

func newTestDispatcher(t *testing.T, sender notify.Sender) *notify.Dispatcher {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	d := notify.New(conn, sender, nil)
	d.Now = func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }
	if err := d.Repo.InsertUser(context.Background(), domain.User{
		ID: "u1", Name: "User One", Email: "u1@example.com", Role: "reviewer",
		CreatedAt: "2025-03-10T09:00:00Z",
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return d
}

func TestEmitInAppMarkedSentAndRead(t *testing.T) {
	d := newTestDispatcher(t, nil)
	ctx := context.Background()
	d.Emit(ctx, notify.Message{
		RecipientID: "u1",
		Kind:        notify.KindComment,
		Title:       "New comment",
		Body:        "someone replied",
		EntityKind:  "validation",
		EntityID:    "v1",
	})
	items, err := d.ListByRecipient(ctx, "u1", true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("notifications = %d, want 1", len(items))
	}
	n := items[0]
	if n.Channel != notify.ChannelInApp || !n.Sent || n.Read {
		t.Fatalf("in-app notification = %+v", n)
	}
	if err := d.MarkRead(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	items, err = d.ListByRecipient(ctx, "u1", true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("unread after mark read = %d, want 0", len(items))
	}
}

func TestEmailStaysPendingWithoutSender(t *testing.T) {
	d := newTestDispatcher(t, nil)
	ctx := context.Background()
	d.Emit(ctx, notify.Message{
		RecipientID: "u1",
		Kind:        notify.KindApproval,
		Title:       "Approved",
		Body:        "nice",
		EntityKind:  "validation",
		EntityID:    "v1",
	})
	pending, err := d.ListPendingEmail(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Sent {
		t.Fatalf("pending = %+v, want one unsent email", pending)
	}
}

func TestWebhookSenderAndPendingDelivery(t *testing.T) {
	var got []map[string]any
	mailer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode mailer payload: %v", err)
		}
		got = append(got, payload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer mailer.Close()

	d := newTestDispatcher(t, nil)
	ctx := context.Background()
	d.Emit(ctx, notify.Message{
		RecipientID: "u1",
		Kind:        notify.KindRejection,
		Title:       "Rejected",
		Body:        "please rework",
		EntityKind:  "validation",
		EntityID:    "v1",
		Urgency:     notify.UrgencyHigh,
	})

	// The mailer comes online later; the delivery loop drains the backlog.
	d.Sender = notify.NewWebhookSender(mailer.URL, "https://verifika.example.com")
	n, err := d.ProcessPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if len(got) != 1 {
		t.Fatalf("mailer received %d payloads, want 1", len(got))
	}
	if got[0]["to"] != "u1@example.com" || got[0]["subject"] != "Rejected" {
		t.Fatalf("payload = %+v", got[0])
	}
	if got[0]["link"] != "https://verifika.example.com/validations/v1" {
		t.Fatalf("link = %v", got[0]["link"])
	}

	pending, err := d.ListPendingEmail(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after delivery = %d, want 0", len(pending))
	}
}
