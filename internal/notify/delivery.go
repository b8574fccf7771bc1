package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"verifika/internal/domain"
)

const (
	defaultDeliveryInterval = 30 * time.Second
	defaultDeliveryTimeout  = 5 * time.Second
	defaultDeliveryBatch    = 100
)

// WebhookSender posts email-channel notifications as JSON to an external
// mailer endpoint. The endpoint owns templating and actual SMTP delivery.
type WebhookSender struct {
	Endpoint    string
	FrontendURL string
	Client      *http.Client
}

func NewWebhookSender(endpoint, frontendURL string) *WebhookSender {
	return &WebhookSender{
		Endpoint:    endpoint,
		FrontendURL: frontendURL,
		Client:      &http.Client{Timeout: defaultDeliveryTimeout},
	}
}

type emailPayload struct {
	To         string         `json:"to"`
	Subject    string         `json:"subject"`
	Body       string         `json:"body"`
	Kind       string         `json:"kind"`
	Urgency    string         `json:"urgency"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Link       string         `json:"link,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (s *WebhookSender) Send(ctx context.Context, n domain.Notification, recipientEmail string) error {
	if strings.TrimSpace(s.Endpoint) == "" {
		return fmt.Errorf("email endpoint not configured")
	}
	payload := emailPayload{
		To:         recipientEmail,
		Subject:    n.Title,
		Body:       n.Message,
		Kind:       n.Kind,
		Urgency:    n.Urgency,
		EntityKind: n.EntityKind,
		EntityID:   n.EntityID,
		Metadata:   n.Metadata,
	}
	if s.FrontendURL != "" && n.EntityKind == "validation" {
		payload.Link = strings.TrimRight(s.FrontendURL, "/") + "/validations/" + n.EntityID
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: defaultDeliveryTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mailer returned status %d", resp.StatusCode)
	}
	return nil
}

// ProcessPending retries delivery of email notifications that are still
// unsent, for example those emitted while the mailer was unreachable. A
// delivery failure stops the batch; remaining rows are picked up next round.
func (d *Dispatcher) ProcessPending(ctx context.Context) (int, error) {
	if d.Sender == nil {
		return 0, nil
	}
	pending, err := d.ListPendingEmail(ctx, defaultDeliveryBatch)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, n := range pending {
		u, err := d.Repo.GetUser(ctx, n.RecipientID)
		if err != nil {
			d.Logger.Error("resolve notification recipient", "id", n.ID, "recipient", n.RecipientID, "err", err)
			continue
		}
		if err := d.Sender.Send(ctx, n, u.Email); err != nil {
			return delivered, err
		}
		if err := d.markSent(ctx, n.ID); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// StartDeliveryLoop retries pending email notifications on a fixed interval
// until ctx is cancelled.
func (d *Dispatcher) StartDeliveryLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultDeliveryInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if n, err := d.ProcessPending(ctx); err != nil {
				d.Logger.Error("process pending notifications", "delivered", n, "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
