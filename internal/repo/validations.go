package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"verifika/internal/domain"
)

const validationColumns = `id, activity_id, technician_id, client_id, reviewer_id, supervisor_id,
status, previous_status, score, criteria_scores_json,
deadline_at, assigned_at, review_started_at, completed_at, deadline_days, auto_escalated, last_deadline_notice_at,
primary_comment, positives_json, improvements_json, required_changes_json, business_impact, satisfaction, review_hours,
created_at, updated_at`

func (r Repo) InsertValidationTx(ctx context.Context, tx *sql.Tx, v domain.Validation) error {
	criteria, err := marshalJSON(v.CriteriaScores)
	if err != nil {
		return err
	}
	positives, err := marshalJSON(v.Positives)
	if err != nil {
		return err
	}
	improvements, err := marshalJSON(v.Improvements)
	if err != nil {
		return err
	}
	changes, err := marshalJSON(v.RequiredChanges)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO validations(`+validationColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		v.ID, v.ActivityID, v.TechnicianID, v.ClientID, v.ReviewerID, nullableStringPtr(v.SupervisorID),
		v.Status, nullableStringPtr(v.PreviousStatus), nullableIntPtr(v.Score), jsonOrNil(criteria),
		v.DeadlineAt, v.AssignedAt, nullableStringPtr(v.ReviewStartedAt), nullableStringPtr(v.CompletedAt),
		v.DeadlineDays, boolToInt(v.AutoEscalated), nullableStringPtr(v.LastDeadlineNoticeAt),
		nullable(v.PrimaryComment), jsonOrNil(positives), jsonOrNil(improvements), jsonOrNil(changes),
		nullable(v.BusinessImpact), nullableIntPtr(v.Satisfaction), nullableFloatPtr(v.ReviewHours),
		v.CreatedAt, v.UpdatedAt)
	return err
}

// UpdateValidationGuardedTx rewrites every mutable field of the validation,
// but only when the stored status still equals expectedStatus. Zero affected
// rows means either the row is gone (ErrNotFound) or another writer won the
// race (ErrStaleStatus).
func (r Repo) UpdateValidationGuardedTx(ctx context.Context, tx *sql.Tx, v domain.Validation, expectedStatus string) error {
	criteria, err := marshalJSON(v.CriteriaScores)
	if err != nil {
		return err
	}
	positives, err := marshalJSON(v.Positives)
	if err != nil {
		return err
	}
	improvements, err := marshalJSON(v.Improvements)
	if err != nil {
		return err
	}
	changes, err := marshalJSON(v.RequiredChanges)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE validations SET
supervisor_id=?, status=?, previous_status=?, score=?, criteria_scores_json=?,
deadline_at=?, review_started_at=?, completed_at=?, auto_escalated=?, last_deadline_notice_at=?,
primary_comment=?, positives_json=?, improvements_json=?, required_changes_json=?,
business_impact=?, satisfaction=?, review_hours=?, updated_at=?
WHERE id=? AND status=?`,
		nullableStringPtr(v.SupervisorID), v.Status, nullableStringPtr(v.PreviousStatus),
		nullableIntPtr(v.Score), jsonOrNil(criteria),
		v.DeadlineAt, nullableStringPtr(v.ReviewStartedAt), nullableStringPtr(v.CompletedAt),
		boolToInt(v.AutoEscalated), nullableStringPtr(v.LastDeadlineNoticeAt),
		nullable(v.PrimaryComment), jsonOrNil(positives), jsonOrNil(improvements), jsonOrNil(changes),
		nullable(v.BusinessImpact), nullableIntPtr(v.Satisfaction), nullableFloatPtr(v.ReviewHours), v.UpdatedAt,
		v.ID, expectedStatus)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM validations WHERE id=?`, v.ID).Scan(&one)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrStaleStatus
	}
	return nil
}

// SetLastDeadlineNotice stamps the reminder timestamp without touching the
// rest of the record.
func (r Repo) SetLastDeadlineNotice(ctx context.Context, id, ts string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE validations SET last_deadline_notice_at=?, updated_at=? WHERE id=?`, ts, ts, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanValidation(scan func(...any) error) (domain.Validation, error) {
	var (
		v                                                domain.Validation
		supervisorID, previousStatus                     sql.NullString
		score, satisfaction                              sql.NullInt64
		criteriaJSON                                     sql.NullString
		reviewStartedAt, completedAt, lastDeadlineNotice sql.NullString
		autoEscalated                                    int
		primaryComment, businessImpact                   sql.NullString
		positivesJSON, improvementsJSON, changesJSON     sql.NullString
		reviewHours                                      sql.NullFloat64
	)
	err := scan(&v.ID, &v.ActivityID, &v.TechnicianID, &v.ClientID, &v.ReviewerID, &supervisorID,
		&v.Status, &previousStatus, &score, &criteriaJSON,
		&v.DeadlineAt, &v.AssignedAt, &reviewStartedAt, &completedAt, &v.DeadlineDays, &autoEscalated, &lastDeadlineNotice,
		&primaryComment, &positivesJSON, &improvementsJSON, &changesJSON, &businessImpact, &satisfaction, &reviewHours,
		&v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	if supervisorID.Valid {
		v.SupervisorID = &supervisorID.String
	}
	if previousStatus.Valid {
		v.PreviousStatus = &previousStatus.String
	}
	if score.Valid {
		n := int(score.Int64)
		v.Score = &n
	}
	if criteriaJSON.Valid && criteriaJSON.String != "" {
		_ = json.Unmarshal([]byte(criteriaJSON.String), &v.CriteriaScores)
	}
	if reviewStartedAt.Valid {
		v.ReviewStartedAt = &reviewStartedAt.String
	}
	if completedAt.Valid {
		v.CompletedAt = &completedAt.String
	}
	v.AutoEscalated = autoEscalated != 0
	if lastDeadlineNotice.Valid {
		v.LastDeadlineNoticeAt = &lastDeadlineNotice.String
	}
	if primaryComment.Valid {
		v.PrimaryComment = primaryComment.String
	}
	if positivesJSON.Valid && positivesJSON.String != "" {
		_ = json.Unmarshal([]byte(positivesJSON.String), &v.Positives)
	}
	if improvementsJSON.Valid && improvementsJSON.String != "" {
		_ = json.Unmarshal([]byte(improvementsJSON.String), &v.Improvements)
	}
	if changesJSON.Valid && changesJSON.String != "" {
		_ = json.Unmarshal([]byte(changesJSON.String), &v.RequiredChanges)
	}
	if businessImpact.Valid {
		v.BusinessImpact = businessImpact.String
	}
	if satisfaction.Valid {
		n := int(satisfaction.Int64)
		v.Satisfaction = &n
	}
	if reviewHours.Valid {
		v.ReviewHours = &reviewHours.Float64
	}
	return v, nil
}

func (r Repo) GetValidation(ctx context.Context, id string) (domain.Validation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+validationColumns+` FROM validations WHERE id=?`, id)
	return scanValidation(row.Scan)
}

func (r Repo) GetValidationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Validation, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+validationColumns+` FROM validations WHERE id=?`, id)
	return scanValidation(row.Scan)
}

// ValidationFilters narrows ListValidations.
type ValidationFilters struct {
	Status       []string
	ClientID     string
	TechnicianID string
	ReviewerID   string
	ActivityID   string
	Limit        int
}

func (r Repo) ListValidations(ctx context.Context, f ValidationFilters) ([]domain.Validation, error) {
	query := `SELECT ` + validationColumns + ` FROM validations`
	var (
		conds []string
		args  []any
	)
	if len(f.Status) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Status)), ",")
		conds = append(conds, fmt.Sprintf("status IN (%s)", placeholders))
		for _, s := range f.Status {
			args = append(args, s)
		}
	}
	if f.ClientID != "" {
		conds = append(conds, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.TechnicianID != "" {
		conds = append(conds, "technician_id=?")
		args = append(args, f.TechnicianID)
	}
	if f.ReviewerID != "" {
		conds = append(conds, "reviewer_id=?")
		args = append(args, f.ReviewerID)
	}
	if f.ActivityID != "" {
		conds = append(conds, "activity_id=?")
		args = append(args, f.ActivityID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY assigned_at DESC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Validation
	for rows.Next() {
		v, err := scanValidation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// ListExpired returns open validations whose deadline passed before now and
// which have not been auto-escalated yet. Timestamps are RFC3339 UTC, so the
// string comparison is chronological.
func (r Repo) ListExpired(ctx context.Context, now string) ([]domain.Validation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+validationColumns+` FROM validations
WHERE deadline_at < ? AND status IN ('pending_review','in_review','reopened') AND auto_escalated=0
ORDER BY deadline_at ASC, id ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Validation
	for rows.Next() {
		v, err := scanValidation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// ListDueBetween returns open validations with now < deadline_at <= cutoff.
func (r Repo) ListDueBetween(ctx context.Context, now, cutoff string) ([]domain.Validation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+validationColumns+` FROM validations
WHERE deadline_at > ? AND deadline_at <= ? AND status IN ('pending_review','in_review','reopened')
ORDER BY deadline_at ASC, id ASC`, now, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Validation
	for rows.Next() {
		v, err := scanValidation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func jsonOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
