package notify

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"verifika/internal/domain"
	"verifika/internal/repo"
)

// Notification kinds emitted by the workflow engine.
const (
	KindValidation = "validation"
	KindComment    = "comment"
	KindApproval   = "approval"
	KindRejection  = "rejection"
	KindEscalation = "escalation"
	KindDeadline   = "deadline"
	KindReopen     = "reopen"
)

const (
	UrgencyNormal   = "normal"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

const (
	ChannelInApp = "inapp"
	ChannelEmail = "email"
)

// Message is one pending fan-out computed by a workflow transition. The
// engine collects messages during the transaction and hands them to the
// dispatcher only after the commit.
type Message struct {
	RecipientID string
	Kind        string
	Title       string
	Body        string
	EntityKind  string
	EntityID    string
	Urgency     string
	Metadata    map[string]any
}

// ChannelFor is the fixed kind/urgency to channel mapping. Call sites never
// pick channels themselves.
func ChannelFor(kind, urgency string) string {
	switch kind {
	case KindApproval, KindRejection, KindReopen:
		return ChannelEmail
	case KindEscalation:
		if urgency == UrgencyNormal {
			return ChannelInApp
		}
		return ChannelEmail
	case KindDeadline:
		if urgency == UrgencyNormal {
			return ChannelInApp
		}
		return ChannelEmail
	case KindValidation:
		if urgency == UrgencyHigh || urgency == UrgencyCritical {
			return ChannelEmail
		}
		return ChannelInApp
	default:
		return ChannelInApp
	}
}

// Sender delivers an email-channel notification to its recipient address.
type Sender interface {
	Send(ctx context.Context, n domain.Notification, recipientEmail string) error
}

// Dispatcher persists notifications and triggers delivery. Delivery failures
// are logged and swallowed; they never reach the workflow transition that
// produced the message.
type Dispatcher struct {
	DB     *sql.DB
	Repo   repo.Repo
	Sender Sender
	Logger *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, sender Sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Sender: sender,
		Logger: logger,
		Now:    time.Now,
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Emit resolves the channel, stores the notification, and attempts delivery.
// It never returns an error to the caller.
func (d *Dispatcher) Emit(ctx context.Context, m Message) {
	if m.Urgency == "" {
		m.Urgency = UrgencyNormal
	}
	n := domain.Notification{
		RecipientID: m.RecipientID,
		Kind:        m.Kind,
		Title:       m.Title,
		Message:     m.Body,
		EntityKind:  m.EntityKind,
		EntityID:    m.EntityID,
		Channel:     ChannelFor(m.Kind, m.Urgency),
		Urgency:     m.Urgency,
		Metadata:    m.Metadata,
		CreatedAt:   d.now().UTC().Format(time.RFC3339),
	}
	id, err := d.insert(ctx, n)
	if err != nil {
		d.Logger.Error("store notification", "recipient", m.RecipientID, "kind", m.Kind, "err", err)
		return
	}
	n.ID = id
	d.deliver(ctx, n)
}

// Dispatch emits a batch, isolating each message.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []Message) {
	for _, m := range msgs {
		d.Emit(ctx, m)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n domain.Notification) {
	if n.Channel == ChannelInApp {
		// In-app notifications are the stored row itself.
		if err := d.markSent(ctx, n.ID); err != nil {
			d.Logger.Error("mark notification sent", "id", n.ID, "err", err)
		}
		return
	}
	if d.Sender == nil {
		// Left pending; the delivery loop retries once a sender exists.
		d.Logger.Warn("email delivery not configured", "id", n.ID, "recipient", n.RecipientID)
		return
	}
	u, err := d.Repo.GetUser(ctx, n.RecipientID)
	if err != nil {
		d.Logger.Error("resolve notification recipient", "id", n.ID, "recipient", n.RecipientID, "err", err)
		return
	}
	if err := d.Sender.Send(ctx, n, u.Email); err != nil {
		d.Logger.Error("send notification email", "id", n.ID, "recipient", u.Email, "err", err)
		return
	}
	if err := d.markSent(ctx, n.ID); err != nil {
		d.Logger.Error("mark notification sent", "id", n.ID, "err", err)
	}
}
