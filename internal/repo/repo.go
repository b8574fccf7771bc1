package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"verifika/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrStaleStatus reports a guarded update that matched the row id but not the
// expected status; the record changed under the caller.
var ErrStaleStatus = errors.New("status changed since read")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func marshalJSON(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// --- users ---

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,email,role,client_id,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, u.Role, nullableStringPtr(u.ClientID), u.CreatedAt)
	return err
}

func scanUser(scan func(...any) error) (domain.User, error) {
	var u domain.User
	var clientID sql.NullString
	err := scan(&u.ID, &u.Name, &u.Email, &u.Role, &clientID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if clientID.Valid {
		u.ClientID = &clientID.String
	}
	return u, nil
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,name,email,role,client_id,created_at FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,email,role,client_id,created_at FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// FindSupervisorForClient returns the first supervisor registered for the
// client, or ErrNotFound.
func (r Repo) FindSupervisorForClient(ctx context.Context, clientID string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,name,email,role,client_id,created_at FROM users WHERE client_id=? AND role='supervisor' ORDER BY created_at ASC LIMIT 1`, clientID)
	return scanUser(row.Scan)
}

// ResolveParticipants returns the distinct users involved in a validation:
// reviewer, technician, escalated supervisor, and every comment author.
func (r Repo) ResolveParticipants(ctx context.Context, validationID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT DISTINCT user_id FROM (
    SELECT reviewer_id AS user_id FROM validations WHERE id=?
    UNION
    SELECT technician_id FROM validations WHERE id=?
    UNION
    SELECT supervisor_id FROM validations WHERE id=? AND supervisor_id IS NOT NULL
    UNION
    SELECT author_id FROM comments WHERE validation_id=?
) WHERE user_id IS NOT NULL`, validationID, validationID, validationID, validationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

// --- activities ---

func (r Repo) InsertActivity(ctx context.Context, a domain.Activity) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO activities(id,title,description,technician_id,client_id,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.Title, nullable(a.Description), a.TechnicianID, a.ClientID, a.Status, a.CreatedAt, a.UpdatedAt)
	return err
}

func scanActivity(scan func(...any) error) (domain.Activity, error) {
	var a domain.Activity
	var desc sql.NullString
	err := scan(&a.ID, &a.Title, &desc, &a.TechnicianID, &a.ClientID, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if desc.Valid {
		a.Description = desc.String
	}
	return a, nil
}

func (r Repo) GetActivity(ctx context.Context, id string) (domain.Activity, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,title,description,technician_id,client_id,status,created_at,updated_at FROM activities WHERE id=?`, id)
	return scanActivity(row.Scan)
}

func (r Repo) ListActivities(ctx context.Context, status string) ([]domain.Activity, error) {
	query := `SELECT id,title,description,technician_id,client_id,status,created_at,updated_at FROM activities`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateActivityStatus(ctx context.Context, id, status, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE activities SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateActivityStatusTx(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE activities SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	var (
		conds []string
		args  []any
	)
	if evtType != "" {
		conds = append(conds, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		conds = append(conds, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		conds = append(conds, "entity_id=?")
		args = append(args, entityID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events past a cursor in ascending id order, for
// incremental consumers of the audit log.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`,
		cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

