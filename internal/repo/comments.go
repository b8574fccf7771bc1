package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"verifika/internal/domain"
)

const commentColumns = `id, validation_id, parent_id, author_id, body, type, attachments_json,
nesting_level, thread_root_id, edited, edited_at, created_at, updated_at`

func (r Repo) InsertCommentTx(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	attachments, err := marshalJSON(c.Attachments)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO comments(`+commentColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ValidationID, nullableStringPtr(c.ParentID), c.AuthorID, c.Body, c.Type, jsonOrNil(attachments),
		c.NestingLevel, nullableStringPtr(c.ThreadRootID), boolToInt(c.Edited), nullableStringPtr(c.EditedAt),
		c.CreatedAt, c.UpdatedAt)
	return err
}

func scanComment(scan func(...any) error) (domain.Comment, error) {
	var (
		c                                domain.Comment
		parentID, threadRootID, editedAt sql.NullString
		attachmentsJSON                  sql.NullString
		edited                           int
	)
	err := scan(&c.ID, &c.ValidationID, &parentID, &c.AuthorID, &c.Body, &c.Type, &attachmentsJSON,
		&c.NestingLevel, &threadRootID, &edited, &editedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if parentID.Valid {
		c.ParentID = &parentID.String
	}
	if threadRootID.Valid {
		c.ThreadRootID = &threadRootID.String
	}
	if attachmentsJSON.Valid && attachmentsJSON.String != "" {
		_ = json.Unmarshal([]byte(attachmentsJSON.String), &c.Attachments)
	}
	c.Edited = edited != 0
	if editedAt.Valid {
		c.EditedAt = &editedAt.String
	}
	return c, nil
}

func (r Repo) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=?`, id)
	return scanComment(row.Scan)
}

func (r Repo) GetCommentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Comment, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=?`, id)
	return scanComment(row.Scan)
}

// ListCommentsByValidation returns every comment of the validation in
// creation order; tree assembly is the engine's job.
func (r Repo) ListCommentsByValidation(ctx context.Context, validationID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE validation_id=? ORDER BY created_at ASC, id ASC`, validationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CountReplies reports how many comments point at the given parent.
func (r Repo) CountReplies(ctx context.Context, commentID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE parent_id=?`, commentID).Scan(&n)
	return n, err
}

func (r Repo) CountRepliesTx(ctx context.Context, tx *sql.Tx, commentID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE parent_id=?`, commentID).Scan(&n)
	return n, err
}

// UpdateCommentBodyTx rewrites the content fields and stamps the edit.
func (r Repo) UpdateCommentBodyTx(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	attachments, err := marshalJSON(c.Attachments)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE comments SET body=?, type=?, attachments_json=?, edited=?, edited_at=?, updated_at=? WHERE id=?`,
		c.Body, c.Type, jsonOrNil(attachments), boolToInt(c.Edited), nullableStringPtr(c.EditedAt), c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteCommentTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
