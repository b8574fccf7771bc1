package server

import "verifika/internal/domain"

type CreateUserRequest struct {
	ID       string  `json:"id,omitempty"`
	Name     string  `json:"name"`
	Email    string  `json:"email" format:"email"`
	Role     string  `json:"role" enum:"admin,reviewer,supervisor,technician,client"`
	ClientID *string `json:"client_id,omitempty"`
}

type CreateActivityRequest struct {
	ID           string `json:"id,omitempty"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	TechnicianID string `json:"technician_id"`
	ClientID     string `json:"client_id"`
}

type ActivityStatusRequest struct {
	Status string `json:"status" enum:"pending,in_progress,completed"`
}

type CreateValidationRequest struct {
	ID           string `json:"id,omitempty"`
	ActivityID   string `json:"activity_id"`
	ReviewerID   string `json:"reviewer_id"`
	DeadlineDays int    `json:"deadline_days,omitempty" minimum:"0"`
}

type ApproveRequest struct {
	Score          int            `json:"score" minimum:"1" maximum:"10"`
	CriteriaScores map[string]int `json:"criteria_scores,omitempty"`
	Comment        string         `json:"comment,omitempty"`
	Positives      []string       `json:"positives,omitempty"`
	Improvements   []string       `json:"improvements,omitempty"`
	BusinessImpact string         `json:"business_impact,omitempty"`
	Satisfaction   *int           `json:"satisfaction,omitempty" minimum:"1" maximum:"5"`
}

type RejectRequest struct {
	Comment         string                  `json:"comment"`
	RequiredChanges []domain.RequiredChange `json:"required_changes"`
	Improvements    []string                `json:"improvements,omitempty"`
	BusinessImpact  string                  `json:"business_impact,omitempty"`
	Satisfaction    *int                    `json:"satisfaction,omitempty" minimum:"1" maximum:"5"`
}

type EscalateRequest struct {
	SupervisorID string `json:"supervisor_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Urgency      string `json:"urgency,omitempty" enum:"normal,high,critical"`
}

type ReopenRequest struct {
	Reason string `json:"reason"`
}

type CreateCommentRequest struct {
	ID          string              `json:"id,omitempty"`
	ParentID    string              `json:"parent_id,omitempty"`
	Body        string              `json:"body"`
	Type        string              `json:"type,omitempty" enum:"general,question,suggestion,correction,approval"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

type EditCommentRequest struct {
	Body        string              `json:"body"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Key     string `json:"key,omitempty"`
}
