package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"verifika/internal/domain"
	"verifika/internal/events"
	"verifika/internal/notify"
	"verifika/internal/repo"
)

// SystemActor is recorded on events produced by the sweeper rather than a
// user action.
const SystemActor = "system"

func (e Engine) loadForTransition(ctx context.Context, tx *sql.Tx, id string) (domain.Validation, error) {
	v, err := e.Repo.GetValidationTx(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Validation{}, ErrValidationNotFound
	}
	return v, err
}

// applyGuarded persists the transition with a compare-and-swap on the status
// the record had when it was read inside this transaction.
func (e Engine) applyGuarded(ctx context.Context, tx *sql.Tx, v domain.Validation, expectedStatus string) error {
	err := e.Repo.UpdateValidationGuardedTx(ctx, tx, v, expectedStatus)
	if errors.Is(err, repo.ErrStaleStatus) {
		return ErrConcurrentModification
	}
	if errors.Is(err, repo.ErrNotFound) {
		return ErrValidationNotFound
	}
	return err
}

func reviewHours(startedAt *string, end time.Time) *float64 {
	if startedAt == nil {
		return nil
	}
	start, err := time.Parse(time.RFC3339, *startedAt)
	if err != nil {
		return nil
	}
	h := end.Sub(start).Hours()
	if h < 0 {
		h = 0
	}
	h = math.Round(h*100) / 100
	return &h
}

// StartReview moves a waiting validation into in_review. Escalated
// validations are picked up the same way by the supervisor.
func (e Engine) StartReview(ctx context.Context, validationID, actorID string) (domain.Validation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Validation{}, err
	}
	defer tx.Rollback()

	v, err := e.loadForTransition(ctx, tx, validationID)
	if err != nil {
		return domain.Validation{}, err
	}
	if err := ensureTransition(v.Status, domain.StatusInReview); err != nil {
		return domain.Validation{}, err
	}
	from := v.Status
	now := e.nowRFC()
	v.PreviousStatus = &from
	v.Status = domain.StatusInReview
	v.ReviewStartedAt = &now
	v.UpdatedAt = now
	if err := e.applyGuarded(ctx, tx, v, from); err != nil {
		return domain.Validation{}, err
	}
	if err := e.Events.Append(ctx, tx, "validation.review_started", "validation", v.ID, actorID, events.EventPayload{
		"from": from,
	}); err != nil {
		return domain.Validation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Validation{}, err
	}
	return v, nil
}

// ValidateOptions carries the review outcome for an approval.
type ValidateOptions struct {
	ValidationID   string
	Score          int
	CriteriaScores map[string]int
	PrimaryComment string
	Positives      []string
	Improvements   []string
	BusinessImpact string
	Satisfaction   *int
	ActorID        string
}

// Validate approves an in_review validation. The score is on a 1-10 scale.
func (e Engine) Validate(ctx context.Context, opts ValidateOptions) (domain.Validation, error) {
	if opts.Score < 1 || opts.Score > 10 {
		return domain.Validation{}, fmt.Errorf("score must be between 1 and 10, got %d", opts.Score)
	}
	for name, s := range opts.CriteriaScores {
		if s < 1 || s > 10 {
			return domain.Validation{}, fmt.Errorf("criteria %q score must be between 1 and 10, got %d", name, s)
		}
	}
	if opts.Satisfaction != nil && (*opts.Satisfaction < 1 || *opts.Satisfaction > 5) {
		return domain.Validation{}, fmt.Errorf("satisfaction must be between 1 and 5, got %d", *opts.Satisfaction)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Validation{}, err
	}
	defer tx.Rollback()

	v, err := e.loadForTransition(ctx, tx, opts.ValidationID)
	if err != nil {
		return domain.Validation{}, err
	}
	if v.Status != domain.StatusInReview {
		if isTerminalStatus(v.Status) {
			return domain.Validation{}, ErrAlreadyTerminal
		}
		return domain.Validation{}, ErrNotInReview
	}
	from := v.Status
	nowT := e.now().UTC()
	now := nowT.Format(time.RFC3339)
	score := opts.Score
	v.PreviousStatus = &from
	v.Status = domain.StatusApproved
	v.Score = &score
	v.CriteriaScores = opts.CriteriaScores
	v.PrimaryComment = opts.PrimaryComment
	v.Positives = opts.Positives
	v.Improvements = opts.Improvements
	v.BusinessImpact = opts.BusinessImpact
	v.Satisfaction = opts.Satisfaction
	v.CompletedAt = &now
	v.ReviewHours = reviewHours(v.ReviewStartedAt, nowT)
	v.UpdatedAt = now
	if err := e.applyGuarded(ctx, tx, v, from); err != nil {
		return domain.Validation{}, err
	}
	if err := e.Repo.UpdateActivityStatusTx(ctx, tx, v.ActivityID, domain.ActivityValidated, now); err != nil {
		return domain.Validation{}, fmt.Errorf("mark activity validated: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "validation.approved", "validation", v.ID, opts.ActorID, events.EventPayload{
		"score": score,
	}); err != nil {
		return domain.Validation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Validation{}, err
	}

	e.notifyAll(ctx, []notify.Message{{
		RecipientID: v.TechnicianID,
		Kind:        notify.KindApproval,
		Title:       "Validation approved",
		Body:        fmt.Sprintf("Your activity passed review with a score of %d/10.", score),
		EntityKind:  "validation",
		EntityID:    v.ID,
		Urgency:     notify.UrgencyNormal,
	}})
	return v, nil
}

// RejectOptions carries the review outcome for a rejection. A rejection must
// explain itself: comment and at least one required change.
type RejectOptions struct {
	ValidationID    string
	PrimaryComment  string
	RequiredChanges []domain.RequiredChange
	Improvements    []string
	BusinessImpact  string
	Satisfaction    *int
	ActorID         string
}

func (e Engine) Reject(ctx context.Context, opts RejectOptions) (domain.Validation, error) {
	if strings.TrimSpace(opts.PrimaryComment) == "" {
		return domain.Validation{}, errors.New("a rejection requires a comment")
	}
	if opts.Satisfaction != nil && (*opts.Satisfaction < 1 || *opts.Satisfaction > 5) {
		return domain.Validation{}, fmt.Errorf("satisfaction must be between 1 and 5, got %d", *opts.Satisfaction)
	}
	if len(opts.RequiredChanges) == 0 {
		return domain.Validation{}, errors.New("a rejection requires at least one required change")
	}
	for i, c := range opts.RequiredChanges {
		if strings.TrimSpace(c.Description) == "" {
			return domain.Validation{}, fmt.Errorf("required change %d has no description", i+1)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Validation{}, err
	}
	defer tx.Rollback()

	v, err := e.loadForTransition(ctx, tx, opts.ValidationID)
	if err != nil {
		return domain.Validation{}, err
	}
	if v.Status != domain.StatusInReview {
		if isTerminalStatus(v.Status) {
			return domain.Validation{}, ErrAlreadyTerminal
		}
		return domain.Validation{}, ErrNotInReview
	}
	from := v.Status
	nowT := e.now().UTC()
	now := nowT.Format(time.RFC3339)
	v.PreviousStatus = &from
	v.Status = domain.StatusRejected
	v.PrimaryComment = opts.PrimaryComment
	v.RequiredChanges = opts.RequiredChanges
	v.Improvements = opts.Improvements
	v.BusinessImpact = opts.BusinessImpact
	v.Satisfaction = opts.Satisfaction
	v.CompletedAt = &now
	v.ReviewHours = reviewHours(v.ReviewStartedAt, nowT)
	v.UpdatedAt = now
	if err := e.applyGuarded(ctx, tx, v, from); err != nil {
		return domain.Validation{}, err
	}
	if err := e.Repo.UpdateActivityStatusTx(ctx, tx, v.ActivityID, domain.ActivityRejected, now); err != nil {
		return domain.Validation{}, fmt.Errorf("mark activity rejected: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "validation.rejected", "validation", v.ID, opts.ActorID, events.EventPayload{
		"required_changes": len(opts.RequiredChanges),
	}); err != nil {
		return domain.Validation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Validation{}, err
	}

	e.notifyAll(ctx, []notify.Message{{
		RecipientID: v.TechnicianID,
		Kind:        notify.KindRejection,
		Title:       "Validation rejected",
		Body:        fmt.Sprintf("Your activity was rejected: %s (%d required changes).", opts.PrimaryComment, len(opts.RequiredChanges)),
		EntityKind:  "validation",
		EntityID:    v.ID,
		Urgency:     notify.UrgencyHigh,
	}})
	return v, nil
}

// EscalateOptions parameterizes a manual escalation. SupervisorID names the
// target supervisor explicitly; when empty the client's registered supervisor
// is resolved instead.
type EscalateOptions struct {
	ValidationID string
	SupervisorID string
	Reason       string
	Urgency      string
	ActorID      string
}

// resolveSupervisor picks the escalation target: the explicitly named user
// when given (must hold a supervisor or admin role), otherwise the client's
// registered supervisor.
func (e Engine) resolveSupervisor(ctx context.Context, clientID, supervisorID string) (domain.User, error) {
	if supervisorID != "" {
		sup, err := e.Repo.GetUser(ctx, supervisorID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, fmt.Errorf("supervisor %s: %w", supervisorID, err)
		}
		if err != nil {
			return domain.User{}, err
		}
		if sup.Role != "supervisor" && sup.Role != "admin" {
			return domain.User{}, fmt.Errorf("user %s has role %s, cannot receive escalations", sup.ID, sup.Role)
		}
		return sup, nil
	}
	sup, err := e.Repo.FindSupervisorForClient(ctx, clientID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, fmt.Errorf("client %s has no supervisor to escalate to", clientID)
	}
	return sup, err
}

// Escalate hands a stuck validation to the client's supervisor and extends
// the deadline by the configured manual-escalation window.
func (e Engine) Escalate(ctx context.Context, opts EscalateOptions) (domain.Validation, error) {
	if e.Config == nil {
		return domain.Validation{}, errors.New("config not loaded")
	}
	if opts.Urgency == "" {
		opts.Urgency = notify.UrgencyNormal
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Validation{}, err
	}
	defer tx.Rollback()

	v, err := e.loadForTransition(ctx, tx, opts.ValidationID)
	if err != nil {
		return domain.Validation{}, err
	}
	if isTerminalStatus(v.Status) {
		return domain.Validation{}, ErrAlreadyTerminal
	}
	if err := ensureTransition(v.Status, domain.StatusEscalated); err != nil {
		return domain.Validation{}, err
	}
	sup, err := e.resolveSupervisor(ctx, v.ClientID, opts.SupervisorID)
	if err != nil {
		return domain.Validation{}, err
	}
	from := v.Status
	nowT := e.now().UTC()
	now := nowT.Format(time.RFC3339)
	v.PreviousStatus = &from
	v.Status = domain.StatusEscalated
	v.SupervisorID = &sup.ID
	v.DeadlineAt = nowT.AddDate(0, 0, e.Config.Workflow.ManualEscalationDays).Format(time.RFC3339)
	v.UpdatedAt = now
	if err := e.applyGuarded(ctx, tx, v, from); err != nil {
		return domain.Validation{}, err
	}
	if err := e.Events.Append(ctx, tx, "validation.escalated", "validation", v.ID, opts.ActorID, events.EventPayload{
		"supervisor_id": sup.ID,
		"reason":        opts.Reason,
		"auto":          false,
	}); err != nil {
		return domain.Validation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Validation{}, err
	}

	body := fmt.Sprintf("Validation %s was escalated to you. New deadline: %s.", v.ID, v.DeadlineAt)
	if opts.Reason != "" {
		body = fmt.Sprintf("Validation %s was escalated to you: %s. New deadline: %s.", v.ID, opts.Reason, v.DeadlineAt)
	}
	e.notifyAll(ctx, []notify.Message{{
		RecipientID: sup.ID,
		Kind:        notify.KindEscalation,
		Title:       "Validation escalated",
		Body:        body,
		EntityKind:  "validation",
		EntityID:    v.ID,
		Urgency:     opts.Urgency,
	}})
	return v, nil
}

// EscalateAutomatically is the sweeper's escalation path. It is idempotent:
// a validation that is already escalated is returned unchanged, so two
// overlapping sweeps cannot escalate twice.
func (e Engine) EscalateAutomatically(ctx context.Context, validationID string) (domain.Validation, error) {
	if e.Config == nil {
		return domain.Validation{}, errors.New("config not loaded")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Validation{}, err
	}
	defer tx.Rollback()

	v, err := e.loadForTransition(ctx, tx, validationID)
	if err != nil {
		return domain.Validation{}, err
	}
	if v.Status == domain.StatusEscalated {
		return v, nil
	}
	if isTerminalStatus(v.Status) {
		return domain.Validation{}, ErrAlreadyTerminal
	}
	if err := ensureTransition(v.Status, domain.StatusEscalated); err != nil {
		return domain.Validation{}, err
	}
	sup, err := e.Repo.FindSupervisorForClient(ctx, v.ClientID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Validation{}, fmt.Errorf("client %s has no supervisor to escalate to", v.ClientID)
	}
	if err != nil {
		return domain.Validation{}, err
	}
	from := v.Status
	nowT := e.now().UTC()
	now := nowT.Format(time.RFC3339)
	v.PreviousStatus = &from
	v.Status = domain.StatusEscalated
	v.SupervisorID = &sup.ID
	v.AutoEscalated = true
	v.DeadlineAt = nowT.AddDate(0, 0, e.Config.Workflow.AutoEscalationDays).Format(time.RFC3339)
	v.UpdatedAt = now
	if err := e.applyGuarded(ctx, tx, v, from); err != nil {
		return domain.Validation{}, err
	}
	if err := e.Events.Append(ctx, tx, "validation.escalated", "validation", v.ID, SystemActor, events.EventPayload{
		"supervisor_id": sup.ID,
		"reason":        "deadline expired",
		"auto":          true,
	}); err != nil {
		return domain.Validation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Validation{}, err
	}

	e.notifyAll(ctx, []notify.Message{
		{
			RecipientID: sup.ID,
			Kind:        notify.KindEscalation,
			Title:       "Validation auto-escalated",
			Body:        fmt.Sprintf("Validation %s missed its deadline and was escalated to you. New deadline: %s.", v.ID, v.DeadlineAt),
			EntityKind:  "validation",
			EntityID:    v.ID,
			Urgency:     notify.UrgencyHigh,
		},
		{
			RecipientID: v.ReviewerID,
			Kind:        notify.KindDeadline,
			Title:       "Validation deadline missed",
			Body:        fmt.Sprintf("Validation %s expired before you completed the review and was escalated.", v.ID),
			EntityKind:  "validation",
			EntityID:    v.ID,
			Urgency:     notify.UrgencyNormal,
		},
	})
	return v, nil
}

// ReopenOptions parameterizes reopening an approved validation.
type ReopenOptions struct {
	ValidationID string
	Reason       string
	ActorID      string
}

// Reopen puts an approved validation back into review with a fresh full
// deadline window. The reason is appended to the review comment.
func (e Engine) Reopen(ctx context.Context, opts ReopenOptions) (domain.Validation, error) {
	if e.Config == nil {
		return domain.Validation{}, errors.New("config not loaded")
	}
	if strings.TrimSpace(opts.Reason) == "" {
		return domain.Validation{}, errors.New("reopening requires a reason")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Validation{}, err
	}
	defer tx.Rollback()

	v, err := e.loadForTransition(ctx, tx, opts.ValidationID)
	if err != nil {
		return domain.Validation{}, err
	}
	if err := ensureTransition(v.Status, domain.StatusReopened); err != nil {
		return domain.Validation{}, err
	}
	from := v.Status
	nowT := e.now().UTC()
	now := nowT.Format(time.RFC3339)
	v.PreviousStatus = &from
	v.Status = domain.StatusReopened
	v.DeadlineAt = nowT.AddDate(0, 0, v.DeadlineDays).Format(time.RFC3339)
	v.CompletedAt = nil
	v.AutoEscalated = false
	v.LastDeadlineNoticeAt = nil
	if v.PrimaryComment != "" {
		v.PrimaryComment += "\n\n"
	}
	v.PrimaryComment += "[REOPENED] " + opts.Reason
	v.UpdatedAt = now
	if err := e.applyGuarded(ctx, tx, v, from); err != nil {
		return domain.Validation{}, err
	}
	if err := e.Events.Append(ctx, tx, "validation.reopened", "validation", v.ID, opts.ActorID, events.EventPayload{
		"reason": opts.Reason,
	}); err != nil {
		return domain.Validation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Validation{}, err
	}

	e.notifyAll(ctx, []notify.Message{{
		RecipientID: v.ReviewerID,
		Kind:        notify.KindReopen,
		Title:       "Validation reopened",
		Body:        fmt.Sprintf("Validation %s was reopened: %s. New deadline: %s.", v.ID, opts.Reason, v.DeadlineAt),
		EntityKind:  "validation",
		EntityID:    v.ID,
		Urgency:     notify.UrgencyNormal,
	}})
	return v, nil
}

// IsExpired reports whether an open validation's deadline has passed.
func (e Engine) IsExpired(v domain.Validation) bool {
	if !isOpenStatus(v.Status) {
		return false
	}
	deadline, err := time.Parse(time.RFC3339, v.DeadlineAt)
	if err != nil {
		return false
	}
	return e.now().After(deadline)
}

// HoursUntilDeadline returns the remaining time in hours, negative when past
// due.
func (e Engine) HoursUntilDeadline(v domain.Validation) (float64, error) {
	deadline, err := time.Parse(time.RFC3339, v.DeadlineAt)
	if err != nil {
		return 0, fmt.Errorf("parse deadline: %w", err)
	}
	return deadline.Sub(e.now()).Hours(), nil
}

// IsDueSoon reports whether an open validation falls due within the given
// number of hours.
func (e Engine) IsDueSoon(v domain.Validation, hours int) bool {
	if !isOpenStatus(v.Status) {
		return false
	}
	left, err := e.HoursUntilDeadline(v)
	if err != nil {
		return false
	}
	return left > 0 && left <= float64(hours)
}
