package engine

import (
	"context"
	"math"
	"time"

	"verifika/internal/domain"
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DashboardFilters narrows the rollup; zero values mean no filter.
type DashboardFilters struct {
	ClientID   string
	ReviewerID string
}

// Dashboard computes the validation rollup in a single aggregate query.
// Ratios with an empty denominator come back as 0, never NaN.
func (e Engine) Dashboard(ctx context.Context, f DashboardFilters) (domain.Dashboard, error) {
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	cutoff24 := now.Add(24 * time.Hour).Format(time.RFC3339)
	dayStart := now.Truncate(24 * time.Hour).Format(time.RFC3339)

	query := `SELECT
  COUNT(*),
  COALESCE(SUM(CASE WHEN status='pending_review' THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN status='in_review' THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN status='approved' THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN status='rejected' THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN status='escalated' THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN status='reopened' THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN status IN ('pending_review','in_review','reopened') AND deadline_at > ? AND deadline_at <= ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN status IN ('pending_review','in_review','reopened') AND deadline_at < ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN completed_at >= ? THEN 1 ELSE 0 END), 0),
  COALESCE(AVG(review_hours), 0),
  COALESCE(AVG(score), 0),
  COALESCE(AVG(satisfaction), 0)
FROM validations`
	args := []any{nowStr, cutoff24, nowStr, dayStart}
	query, args = appendDashboardFilters(query, args, f)

	var d domain.Dashboard
	err := e.DB.QueryRowContext(ctx, query, args...).Scan(
		&d.Total, &d.PendingReview, &d.InReview, &d.Approved, &d.Rejected,
		&d.Escalated, &d.Reopened, &d.DueWithin24h, &d.Overdue, &d.CompletedToday,
		&d.AvgReviewHours, &d.AvgScore, &d.AvgSatisfaction)
	if err != nil {
		return domain.Dashboard{}, err
	}
	if decided := d.Approved + d.Rejected; decided > 0 {
		d.ApprovalRate = round2(float64(d.Approved) / float64(decided))
	}
	d.AvgReviewHours = round2(d.AvgReviewHours)
	d.AvgScore = round2(d.AvgScore)
	d.AvgSatisfaction = round2(d.AvgSatisfaction)
	return d, nil
}

func appendDashboardFilters(query string, args []any, f DashboardFilters) (string, []any) {
	conds := ""
	if f.ClientID != "" {
		conds += " AND client_id=?"
		args = append(args, f.ClientID)
	}
	if f.ReviewerID != "" {
		conds += " AND reviewer_id=?"
		args = append(args, f.ReviewerID)
	}
	if conds != "" {
		query += " WHERE 1=1" + conds
	}
	return query, args
}

// TechnicianReport aggregates review outcomes per technician, ordered by
// volume. Technicians without validations are omitted.
func (e Engine) TechnicianReport(ctx context.Context, clientID string) ([]domain.TechnicianReport, error) {
	query := `SELECT
  v.technician_id,
  COALESCE(u.name, v.technician_id),
  COUNT(*),
  SUM(CASE WHEN v.status='approved' THEN 1 ELSE 0 END),
  SUM(CASE WHEN v.status='rejected' THEN 1 ELSE 0 END),
  COALESCE(AVG(v.score), 0),
  COALESCE(AVG(v.review_hours), 0),
  SUM(CASE WHEN v.auto_escalated=1 THEN 1 ELSE 0 END)
FROM validations v
LEFT JOIN users u ON u.id = v.technician_id`
	var args []any
	if clientID != "" {
		query += ` WHERE v.client_id=?`
		args = append(args, clientID)
	}
	query += ` GROUP BY v.technician_id ORDER BY COUNT(*) DESC, v.technician_id ASC`

	rows, err := e.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TechnicianReport
	for rows.Next() {
		var r domain.TechnicianReport
		if err := rows.Scan(&r.TechnicianID, &r.TechnicianName, &r.Total, &r.Approved, &r.Rejected,
			&r.AvgScore, &r.AvgReviewHours, &r.AutoEscalations); err != nil {
			return nil, err
		}
		if decided := r.Approved + r.Rejected; decided > 0 {
			r.ApprovalRate = round2(float64(r.Approved) / float64(decided))
		}
		r.AvgScore = round2(r.AvgScore)
		r.AvgReviewHours = round2(r.AvgReviewHours)
		res = append(res, r)
	}
	return res, rows.Err()
}
