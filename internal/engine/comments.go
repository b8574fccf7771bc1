package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"verifika/internal/domain"
	"verifika/internal/events"
	"verifika/internal/notify"
	"verifika/internal/repo"
)

// CommentCreateOptions are parameters for adding a comment or a reply.
type CommentCreateOptions struct {
	ID           string
	ValidationID string
	ParentID     string
	AuthorID     string
	Body         string
	Type         string
	Attachments  []domain.Attachment
}

// CreateComment adds a comment to a validation thread. Replies inherit the
// thread root and sit one nesting level below their parent, capped by the
// configured maximum depth.
func (e Engine) CreateComment(ctx context.Context, opts CommentCreateOptions) (domain.Comment, error) {
	if e.Config == nil {
		return domain.Comment{}, errors.New("config not loaded")
	}
	if strings.TrimSpace(opts.Body) == "" {
		return domain.Comment{}, errors.New("comment body is required")
	}
	if opts.Type == "" {
		opts.Type = "general"
	}
	if _, err := e.Repo.GetUser(ctx, opts.AuthorID); err != nil {
		return domain.Comment{}, fmt.Errorf("author %s: %w", opts.AuthorID, err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	v, err := e.loadForTransition(ctx, tx, opts.ValidationID)
	if err != nil {
		return domain.Comment{}, err
	}

	now := e.nowRFC()
	c := domain.Comment{
		ID:           opts.ID,
		ValidationID: v.ID,
		AuthorID:     opts.AuthorID,
		Body:         opts.Body,
		Type:         opts.Type,
		Attachments:  opts.Attachments,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if opts.ParentID != "" {
		parent, err := e.Repo.GetCommentTx(ctx, tx, opts.ParentID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Comment{}, ErrParentNotFound
		}
		if err != nil {
			return domain.Comment{}, err
		}
		if parent.ValidationID != v.ID {
			return domain.Comment{}, ErrParentNotFound
		}
		if parent.NestingLevel+1 > e.Config.Comments.MaxDepth {
			return domain.Comment{}, ErrDepthExceeded
		}
		c.ParentID = &parent.ID
		c.NestingLevel = parent.NestingLevel + 1
		root := parent.ID
		if parent.ThreadRootID != nil {
			root = *parent.ThreadRootID
		}
		c.ThreadRootID = &root
	}
	if err := e.Repo.InsertCommentTx(ctx, tx, c); err != nil {
		return domain.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "comment.created", "comment", c.ID, opts.AuthorID, events.EventPayload{
		"validation_id": v.ID,
		"nesting_level": c.NestingLevel,
	}); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}

	e.notifyAll(ctx, e.commentFanout(ctx, v, c))
	return c, nil
}

// commentFanout targets everyone already in the conversation except the new
// comment's author: prior comment authors, the reviewer, the technician, and
// the supervisor when escalation assigned one.
func (e Engine) commentFanout(ctx context.Context, v domain.Validation, c domain.Comment) []notify.Message {
	participants, err := e.Repo.ResolveParticipants(ctx, v.ID)
	if err != nil {
		participants = []string{v.ReviewerID, v.TechnicianID}
	}
	var msgs []notify.Message
	for _, id := range participants {
		if id == c.AuthorID {
			continue
		}
		msgs = append(msgs, notify.Message{
			RecipientID: id,
			Kind:        notify.KindComment,
			Title:       "New comment",
			Body:        fmt.Sprintf("New comment on validation %s.", v.ID),
			EntityKind:  "validation",
			EntityID:    v.ID,
			Urgency:     notify.UrgencyNormal,
		})
	}
	return msgs
}

// ListThread returns the validation's comments as a tree of root comments
// with nested replies, in creation order at every level.
func (e Engine) ListThread(ctx context.Context, validationID string) ([]domain.Comment, error) {
	if _, err := e.GetValidation(ctx, validationID); err != nil {
		return nil, err
	}
	flat, err := e.Repo.ListCommentsByValidation(ctx, validationID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Comment, len(flat))
	order := make([]*domain.Comment, 0, len(flat))
	for i := range flat {
		c := flat[i]
		byID[c.ID] = &c
		order = append(order, &c)
	}
	var roots []domain.Comment
	// Children attach bottom-up so a parent's Replies slice is complete
	// before the parent itself is appended anywhere.
	for i := len(order) - 1; i >= 0; i-- {
		c := order[i]
		if c.ParentID == nil {
			continue
		}
		parent, ok := byID[*c.ParentID]
		if !ok {
			continue
		}
		parent.Replies = append([]domain.Comment{*c}, parent.Replies...)
	}
	for _, c := range order {
		if c.ParentID == nil {
			roots = append(roots, *c)
		}
	}
	return roots, nil
}

// CommentEditOptions are parameters for editing a comment.
type CommentEditOptions struct {
	CommentID   string
	AuthorID    string
	Body        string
	Attachments []domain.Attachment
}

// EditComment rewrites a comment's body. Only the original author may edit,
// and tombstoned comments stay deleted.
func (e Engine) EditComment(ctx context.Context, opts CommentEditOptions) (domain.Comment, error) {
	if strings.TrimSpace(opts.Body) == "" {
		return domain.Comment{}, errors.New("comment body is required")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCommentTx(ctx, tx, opts.CommentID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Comment{}, repo.ErrNotFound
	}
	if err != nil {
		return domain.Comment{}, err
	}
	if c.AuthorID != opts.AuthorID {
		return domain.Comment{}, ErrNotAuthor
	}
	if c.Deleted() {
		return domain.Comment{}, errors.New("cannot edit a deleted comment")
	}
	now := e.nowRFC()
	c.Body = opts.Body
	c.Attachments = opts.Attachments
	c.Edited = true
	c.EditedAt = &now
	c.UpdatedAt = now
	if err := e.Repo.UpdateCommentBodyTx(ctx, tx, c); err != nil {
		return domain.Comment{}, err
	}
	if err := e.Events.Append(ctx, tx, "comment.edited", "comment", c.ID, opts.AuthorID, events.EventPayload{
		"validation_id": c.ValidationID,
	}); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// DeleteComment removes a comment. A comment with replies becomes a
// tombstone so the thread keeps its shape; a leaf is removed outright.
// Deleting an already tombstoned comment is a no-op.
func (e Engine) DeleteComment(ctx context.Context, commentID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCommentTx(ctx, tx, commentID)
	if errors.Is(err, repo.ErrNotFound) {
		return repo.ErrNotFound
	}
	if err != nil {
		return err
	}
	if c.AuthorID != actorID {
		return ErrNotAuthor
	}
	if c.Deleted() {
		return nil
	}
	replies, err := e.Repo.CountRepliesTx(ctx, tx, c.ID)
	if err != nil {
		return err
	}
	now := e.nowRFC()
	if replies > 0 {
		c.Body = domain.TombstoneBody
		c.Attachments = nil
		c.Edited = true
		c.EditedAt = &now
		c.UpdatedAt = now
		if err := e.Repo.UpdateCommentBodyTx(ctx, tx, c); err != nil {
			return err
		}
	} else {
		if err := e.Repo.DeleteCommentTx(ctx, tx, c.ID); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, "comment.deleted", "comment", c.ID, actorID, events.EventPayload{
		"validation_id": c.ValidationID,
		"tombstone":     replies > 0,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
