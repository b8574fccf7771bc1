package domain

// Status values a validation moves through. Transitions are guarded by the
// engine; nothing outside internal/engine writes this field.
const (
	StatusPendingReview = "pending_review"
	StatusInReview      = "in_review"
	StatusApproved      = "approved"
	StatusRejected      = "rejected"
	StatusEscalated     = "escalated"
	StatusReopened      = "reopened"
)

// RequiredChange is one correction item attached to a rejection.
type RequiredChange struct {
	Description string `json:"description"`
	Priority    string `json:"priority" enum:"low,medium,high,critical"`
}

type Validation struct {
	ID           string  `json:"id"`
	ActivityID   string  `json:"activity_id"`
	TechnicianID string  `json:"technician_id"`
	ClientID     string  `json:"client_id"`
	ReviewerID   string  `json:"reviewer_id"`
	SupervisorID *string `json:"supervisor_id,omitempty"`

	Status         string  `json:"status" enum:"pending_review,in_review,approved,rejected,escalated,reopened"`
	PreviousStatus *string `json:"previous_status,omitempty"`

	Score          *int           `json:"score,omitempty" minimum:"1" maximum:"10"`
	CriteriaScores map[string]int `json:"criteria_scores,omitempty"`

	DeadlineAt           string  `json:"deadline_at" format:"date-time"`
	AssignedAt           string  `json:"assigned_at" format:"date-time"`
	ReviewStartedAt      *string `json:"review_started_at,omitempty" format:"date-time"`
	CompletedAt          *string `json:"completed_at,omitempty" format:"date-time"`
	DeadlineDays         int     `json:"deadline_days"`
	AutoEscalated        bool    `json:"auto_escalated"`
	LastDeadlineNoticeAt *string `json:"last_deadline_notice_at,omitempty" format:"date-time"`

	PrimaryComment  string           `json:"primary_comment,omitempty"`
	Positives       []string         `json:"positives,omitempty"`
	Improvements    []string         `json:"improvements,omitempty"`
	RequiredChanges []RequiredChange `json:"required_changes,omitempty"`
	BusinessImpact  string           `json:"business_impact,omitempty"`
	Satisfaction    *int             `json:"satisfaction,omitempty" minimum:"1" maximum:"5"`
	ReviewHours     *float64         `json:"review_hours,omitempty"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Attachment is a file reference carried on a comment.
type Attachment struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	MimeType   string `json:"mime_type"`
	Size       int64  `json:"size"`
	UploadedAt string `json:"uploaded_at" format:"date-time"`
}

// TombstoneBody replaces the content of a deleted comment that still has
// replies, preserving thread shape.
const TombstoneBody = "[deleted]"

type Comment struct {
	ID           string  `json:"id"`
	ValidationID string  `json:"validation_id"`
	ParentID     *string `json:"parent_id,omitempty"`
	AuthorID     string  `json:"author_id"`

	Body        string       `json:"body"`
	Type        string       `json:"type" enum:"general,question,suggestion,correction,approval"`
	Attachments []Attachment `json:"attachments,omitempty"`

	NestingLevel int     `json:"nesting_level"`
	ThreadRootID *string `json:"thread_root_id,omitempty"`

	Edited   bool    `json:"edited"`
	EditedAt *string `json:"edited_at,omitempty" format:"date-time"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`

	Replies []Comment `json:"replies,omitempty"`
}

// Deleted reports whether the comment is a tombstone left behind by a soft
// delete.
func (c Comment) Deleted() bool {
	return c.Body == TombstoneBody
}

// Activity lifecycle states. Completed activities become eligible for
// review; validated and rejected are set by the workflow.
const (
	ActivityPending    = "pending"
	ActivityInProgress = "in_progress"
	ActivityCompleted  = "completed"
	ActivityValidated  = "validated"
	ActivityRejected   = "rejected"
)

// Activity is the unit of work under review. The engine only reads it and
// flips its status as a side effect of approve/reject.
type Activity struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	TechnicianID string `json:"technician_id"`
	ClientID     string `json:"client_id"`
	Status       string `json:"status" enum:"pending,in_progress,completed,validated,rejected"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

// User is the directory entry the engine needs for supervisor resolution and
// notification addressing. Authentication lives with the host.
type User struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Role      string  `json:"role" enum:"admin,reviewer,supervisor,technician,client"`
	ClientID  *string `json:"client_id,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Notification struct {
	ID          int64          `json:"id"`
	RecipientID string         `json:"recipient_id"`
	Kind        string         `json:"kind"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id"`
	Channel     string         `json:"channel" enum:"inapp,email"`
	Urgency     string         `json:"urgency" enum:"normal,high,critical"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Sent        bool           `json:"sent"`
	Read        bool           `json:"read"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Dashboard is the read-only rollup over validation state.
type Dashboard struct {
	Total           int     `json:"total"`
	PendingReview   int     `json:"pending_review"`
	InReview        int     `json:"in_review"`
	Approved        int     `json:"approved"`
	Rejected        int     `json:"rejected"`
	Escalated       int     `json:"escalated"`
	Reopened        int     `json:"reopened"`
	DueWithin24h    int     `json:"due_within_24h"`
	Overdue         int     `json:"overdue"`
	CompletedToday  int     `json:"completed_today"`
	AvgReviewHours  float64 `json:"avg_review_hours"`
	AvgScore        float64 `json:"avg_score"`
	AvgSatisfaction float64 `json:"avg_satisfaction"`
	ApprovalRate    float64 `json:"approval_rate"`
}

// TechnicianReport is one row of the per-technician quality report.
type TechnicianReport struct {
	TechnicianID    string  `json:"technician_id"`
	TechnicianName  string  `json:"technician_name"`
	Total           int     `json:"total"`
	Approved        int     `json:"approved"`
	Rejected        int     `json:"rejected"`
	AvgScore        float64 `json:"avg_score"`
	ApprovalRate    float64 `json:"approval_rate"`
	AvgReviewHours  float64 `json:"avg_review_hours"`
	AutoEscalations int     `json:"auto_escalations"`
}
