package notify

import (
	"context"
	"database/sql"
	"encoding/json"

	"verifika/internal/domain"
	"verifika/internal/repo"
)

const notificationColumns = `id, recipient_id, kind, title, message, entity_kind, entity_id,
channel, urgency, metadata_json, sent, read, created_at`

func (d *Dispatcher) insert(ctx context.Context, n domain.Notification) (int64, error) {
	var metadata any
	if n.Metadata != nil {
		b, err := json.Marshal(n.Metadata)
		if err != nil {
			return 0, err
		}
		metadata = string(b)
	}
	res, err := d.DB.ExecContext(ctx, `INSERT INTO notifications(recipient_id, kind, title, message, entity_kind, entity_id, channel, urgency, metadata_json, sent, read, created_at)
VALUES (?,?,?,?,?,?,?,?,?,0,0,?)`,
		n.RecipientID, n.Kind, n.Title, n.Message, n.EntityKind, n.EntityID, n.Channel, n.Urgency, metadata, n.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (d *Dispatcher) markSent(ctx context.Context, id int64) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE notifications SET sent=1 WHERE id=?`, id)
	return err
}

// MarkRead flips the read flag of an in-app notification.
func (d *Dispatcher) MarkRead(ctx context.Context, id int64) error {
	res, err := d.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func scanNotification(scan func(...any) error) (domain.Notification, error) {
	var (
		n            domain.Notification
		metadataJSON sql.NullString
		sent, read   int
	)
	err := scan(&n.ID, &n.RecipientID, &n.Kind, &n.Title, &n.Message, &n.EntityKind, &n.EntityID,
		&n.Channel, &n.Urgency, &metadataJSON, &sent, &read, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, repo.ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		_ = json.Unmarshal([]byte(metadataJSON.String), &n.Metadata)
	}
	n.Sent = sent != 0
	n.Read = read != 0
	return n, nil
}

// ListByRecipient returns a recipient's notifications, newest first.
// unreadOnly restricts to rows not yet marked read.
func (d *Dispatcher) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id=?`
	if unreadOnly {
		query += ` AND read=0`
	}
	query += ` ORDER BY id DESC LIMIT ?`
	rows, err := d.DB.QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// ListPendingEmail returns email-channel notifications that have not been
// delivered yet, oldest first.
func (d *Dispatcher) ListPendingEmail(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE sent=0 AND channel='email' ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
