package engine

import (
	"errors"
	"fmt"

	"verifika/internal/domain"
)

// Typed guard failures. Callers match with errors.Is / errors.As.
var (
	ErrNotInReview            = errors.New("validation is not in review")
	ErrAlreadyTerminal        = errors.New("validation already completed")
	ErrConcurrentModification = errors.New("validation changed concurrently; retry")
	ErrValidationNotFound     = errors.New("validation not found")
	ErrParentNotFound         = errors.New("parent comment not found")
	ErrDepthExceeded          = errors.New("maximum comment nesting level reached")
	ErrNotAuthor              = errors.New("only the original author may edit a comment")
)

// IllegalTransitionError names the rejected source and target state.
type IllegalTransitionError struct {
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal validation transition %s -> %s", e.From, e.To)
}

// ErrIllegalTransition matches any IllegalTransitionError via errors.Is.
var ErrIllegalTransition = errors.New("illegal validation transition")

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// legalTransitions is the single source of truth for the workflow.
// reopened behaves like pending_review: it accepts the same outgoing edges.
var legalTransitions = map[string][]string{
	domain.StatusPendingReview: {domain.StatusInReview, domain.StatusEscalated},
	domain.StatusReopened:      {domain.StatusInReview, domain.StatusEscalated},
	domain.StatusInReview:      {domain.StatusApproved, domain.StatusRejected, domain.StatusEscalated},
	domain.StatusApproved:      {domain.StatusReopened},
	domain.StatusRejected:      {},
	domain.StatusEscalated:     {domain.StatusInReview},
}

func ensureTransition(from, to string) error {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &IllegalTransitionError{From: from, To: to}
}

// openStatuses are the states in which a validation still awaits a verdict
// and deadlines apply.
func isOpenStatus(status string) bool {
	switch status {
	case domain.StatusPendingReview, domain.StatusInReview, domain.StatusReopened:
		return true
	}
	return false
}

func isTerminalStatus(status string) bool {
	return status == domain.StatusApproved || status == domain.StatusRejected
}
