package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"verifika/internal/config"
	"verifika/internal/domain"
	"verifika/internal/events"
	"verifika/internal/notify"
	"verifika/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Notifier *notify.Dispatcher
	Config   *config.Config
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, notifier *notify.Dispatcher) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Notifier: notifier,
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) notifyAll(ctx context.Context, msgs []notify.Message) {
	if e.Notifier == nil {
		return
	}
	e.Notifier.Dispatch(ctx, msgs)
}

var validRoles = map[string]bool{
	"technician": true,
	"reviewer":   true,
	"supervisor": true,
	"client":     true,
	"admin":      true,
}

func (e Engine) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	if strings.TrimSpace(u.Name) == "" {
		return domain.User{}, errors.New("name is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return domain.User{}, errors.New("email is required")
	}
	if !validRoles[u.Role] {
		return domain.User{}, fmt.Errorf("unknown role %q", u.Role)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = e.nowRFC()
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (e Engine) CreateActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	if strings.TrimSpace(a.Title) == "" {
		return domain.Activity{}, errors.New("title is required")
	}
	if a.TechnicianID == "" {
		return domain.Activity{}, errors.New("technician is required")
	}
	if a.ClientID == "" {
		return domain.Activity{}, errors.New("client is required")
	}
	if _, err := e.Repo.GetUser(ctx, a.TechnicianID); err != nil {
		return domain.Activity{}, fmt.Errorf("technician %s: %w", a.TechnicianID, err)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = domain.ActivityPending
	}
	now := e.nowRFC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if err := e.Repo.InsertActivity(ctx, a); err != nil {
		return domain.Activity{}, fmt.Errorf("insert activity: %w", err)
	}
	return a, nil
}

var activityStatuses = map[string]bool{
	domain.ActivityPending:    true,
	domain.ActivityInProgress: true,
	domain.ActivityCompleted:  true,
	domain.ActivityValidated:  true,
	domain.ActivityRejected:   true,
}

// SetActivityStatus moves an activity through its lifecycle. The validated
// and rejected states are reserved for the workflow engine itself.
func (e Engine) SetActivityStatus(ctx context.Context, id, status string) (domain.Activity, error) {
	if !activityStatuses[status] {
		return domain.Activity{}, fmt.Errorf("unknown activity status %q", status)
	}
	if status == domain.ActivityValidated || status == domain.ActivityRejected {
		return domain.Activity{}, fmt.Errorf("status %q is set by the review workflow", status)
	}
	if err := e.Repo.UpdateActivityStatus(ctx, id, status, e.nowRFC()); err != nil {
		return domain.Activity{}, err
	}
	return e.Repo.GetActivity(ctx, id)
}

// ValidationCreateOptions are parameters for opening a review.
type ValidationCreateOptions struct {
	ID           string
	ActivityID   string
	ReviewerID   string
	DeadlineDays int
	ActorID      string
}

// CreateValidation opens a review for a completed activity. The deadline is
// DeadlineDays from now; zero means the configured default.
func (e Engine) CreateValidation(ctx context.Context, opts ValidationCreateOptions) (domain.Validation, error) {
	if e.Config == nil {
		return domain.Validation{}, errors.New("config not loaded")
	}
	if opts.ActivityID == "" {
		return domain.Validation{}, errors.New("activity is required")
	}
	if opts.ReviewerID == "" {
		return domain.Validation{}, errors.New("reviewer is required")
	}
	act, err := e.Repo.GetActivity(ctx, opts.ActivityID)
	if err != nil {
		return domain.Validation{}, fmt.Errorf("activity %s: %w", opts.ActivityID, err)
	}
	if act.Status != domain.ActivityCompleted {
		return domain.Validation{}, fmt.Errorf("activity %s is %s, only completed activities can be reviewed", act.ID, act.Status)
	}
	reviewer, err := e.Repo.GetUser(ctx, opts.ReviewerID)
	if err != nil {
		return domain.Validation{}, fmt.Errorf("reviewer %s: %w", opts.ReviewerID, err)
	}
	if reviewer.Role != "reviewer" && reviewer.Role != "supervisor" && reviewer.Role != "admin" {
		return domain.Validation{}, fmt.Errorf("user %s has role %s, cannot review", reviewer.ID, reviewer.Role)
	}
	open, err := e.Repo.ListValidations(ctx, repo.ValidationFilters{
		ActivityID: opts.ActivityID,
		Status:     []string{domain.StatusPendingReview, domain.StatusInReview, domain.StatusReopened, domain.StatusEscalated},
	})
	if err != nil {
		return domain.Validation{}, err
	}
	if len(open) > 0 {
		return domain.Validation{}, fmt.Errorf("activity %s already has an open validation %s", opts.ActivityID, open[0].ID)
	}

	days := opts.DeadlineDays
	if days <= 0 {
		days = e.Config.Workflow.DeadlineDays
	}
	now := e.now().UTC()
	v := domain.Validation{
		ID:           opts.ID,
		ActivityID:   act.ID,
		TechnicianID: act.TechnicianID,
		ClientID:     act.ClientID,
		ReviewerID:   opts.ReviewerID,
		Status:       domain.StatusPendingReview,
		DeadlineAt:   now.AddDate(0, 0, days).Format(time.RFC3339),
		AssignedAt:   now.Format(time.RFC3339),
		DeadlineDays: days,
		CreatedAt:    now.Format(time.RFC3339),
		UpdatedAt:    now.Format(time.RFC3339),
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Validation{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertValidationTx(ctx, tx, v); err != nil {
		return domain.Validation{}, fmt.Errorf("insert validation: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "validation.created", "validation", v.ID, opts.ActorID, events.EventPayload{
		"activity_id": v.ActivityID,
		"reviewer_id": v.ReviewerID,
		"deadline_at": v.DeadlineAt,
	}); err != nil {
		return domain.Validation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Validation{}, err
	}

	e.notifyAll(ctx, []notify.Message{{
		RecipientID: v.ReviewerID,
		Kind:        notify.KindValidation,
		Title:       "New validation assigned",
		Body:        fmt.Sprintf("Activity %q is ready for review, due %s.", act.Title, v.DeadlineAt),
		EntityKind:  "validation",
		EntityID:    v.ID,
		Urgency:     notify.UrgencyNormal,
	}})
	return v, nil
}

// GetValidation resolves a validation or ErrValidationNotFound.
func (e Engine) GetValidation(ctx context.Context, id string) (domain.Validation, error) {
	v, err := e.Repo.GetValidation(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Validation{}, ErrValidationNotFound
	}
	return v, err
}
