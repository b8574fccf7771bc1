package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"verifika/internal/notify"
)

// SweepResult summarizes one pass of the deadline sweeper.
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Escalated int `json:"escalated"`
	Noticed   int `json:"noticed"`
	Skipped   int `json:"skipped"`
}

// SweepExpired auto-escalates every open validation whose deadline has
// passed. A failure on one record is logged and skipped so the rest of the
// batch still runs; records without a resolvable supervisor stay open until
// one is registered.
func (e Engine) SweepExpired(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	expired, err := e.Repo.ListExpired(ctx, e.nowRFC())
	if err != nil {
		return res, fmt.Errorf("list expired: %w", err)
	}
	res.Scanned = len(expired)
	for _, v := range expired {
		if _, err := e.EscalateAutomatically(ctx, v.ID); err != nil {
			res.Skipped++
			slog.Warn("sweep: escalate failed", "validation", v.ID, "err", err)
			continue
		}
		res.Escalated++
	}
	return res, nil
}

func noticeUrgency(thresholdHours int) string {
	if thresholdHours <= 1 {
		return notify.UrgencyCritical
	}
	return notify.UrgencyHigh
}

// matchThreshold returns the tightest reminder threshold the remaining hours
// fall under, or 0 when none applies. Thresholds are configured in
// descending order.
func matchThreshold(reminderHours []int, left float64) int {
	matched := 0
	for _, h := range reminderHours {
		if left <= float64(h) {
			matched = h
		}
	}
	return matched
}

// SweepUpcomingDeadlines sends deadline reminders for open validations that
// fall due within the largest configured threshold. A reminder for the same
// validation is suppressed while the previous one is younger than half the
// matched threshold, so repeated sweeps do not spam the reviewer.
func (e Engine) SweepUpcomingDeadlines(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if e.Config == nil || len(e.Config.Workflow.ReminderHours) == 0 {
		return res, nil
	}
	maxHours := e.Config.Workflow.ReminderHours[0]
	now := e.now().UTC()
	cutoff := now.Add(time.Duration(maxHours) * time.Hour)
	due, err := e.Repo.ListDueBetween(ctx, now.Format(time.RFC3339), cutoff.Format(time.RFC3339))
	if err != nil {
		return res, fmt.Errorf("list due: %w", err)
	}
	res.Scanned = len(due)
	for _, v := range due {
		left, err := e.HoursUntilDeadline(v)
		if err != nil {
			res.Skipped++
			slog.Warn("sweep: bad deadline", "validation", v.ID, "err", err)
			continue
		}
		threshold := matchThreshold(e.Config.Workflow.ReminderHours, left)
		if threshold == 0 {
			res.Skipped++
			continue
		}
		if v.LastDeadlineNoticeAt != nil {
			last, err := time.Parse(time.RFC3339, *v.LastDeadlineNoticeAt)
			if err == nil && now.Sub(last).Hours() < float64(threshold)/2 {
				res.Skipped++
				continue
			}
		}
		if err := e.Repo.SetLastDeadlineNotice(ctx, v.ID, now.Format(time.RFC3339)); err != nil {
			res.Skipped++
			slog.Warn("sweep: stamp notice failed", "validation", v.ID, "err", err)
			continue
		}
		e.notifyAll(ctx, []notify.Message{{
			RecipientID: v.ReviewerID,
			Kind:        notify.KindDeadline,
			Title:       "Validation due soon",
			Body:        fmt.Sprintf("Validation %s is due in less than %d hours (%s).", v.ID, threshold, v.DeadlineAt),
			EntityKind:  "validation",
			EntityID:    v.ID,
			Urgency:     noticeUrgency(threshold),
		}})
		res.Noticed++
	}
	return res, nil
}

// Sweep runs both sweeper passes and merges the counters.
func (e Engine) Sweep(ctx context.Context) (SweepResult, error) {
	expired, err := e.SweepExpired(ctx)
	if err != nil {
		return expired, err
	}
	upcoming, err := e.SweepUpcomingDeadlines(ctx)
	if err != nil {
		return expired, err
	}
	return SweepResult{
		Scanned:   expired.Scanned + upcoming.Scanned,
		Escalated: expired.Escalated,
		Noticed:   upcoming.Noticed,
		Skipped:   expired.Skipped + upcoming.Skipped,
	}, nil
}

// Runner drives periodic sweeps for long-running processes.
type Runner struct {
	Engine   Engine
	Interval time.Duration
	Logger   *slog.Logger
}

func NewRunner(e Engine) *Runner {
	interval := 5 * time.Minute
	if e.Config != nil && e.Config.Sweep.IntervalMinutes > 0 {
		interval = time.Duration(e.Config.Sweep.IntervalMinutes) * time.Minute
	}
	return &Runner{Engine: e, Interval: interval, Logger: slog.Default()}
}

// Start sweeps immediately and then on every tick until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		for {
			res, err := r.Engine.Sweep(ctx)
			if err != nil {
				r.Logger.Error("sweep failed", "err", err)
			} else if res.Escalated > 0 || res.Noticed > 0 {
				r.Logger.Info("sweep complete",
					"scanned", res.Scanned, "escalated", res.Escalated,
					"noticed", res.Noticed, "skipped", res.Skipped)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
