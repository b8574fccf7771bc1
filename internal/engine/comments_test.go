package engine_test

import (
	"errors"
	"testing"

	"verifika/internal/domain"
	"verifika/internal/engine"
	"verifika/internal/notify"
	"verifika/internal/repo"
)

func addComment(t *testing.T, env *testEnv, validationID, parentID, author, body string) domain.Comment {
	t.Helper()
	c, err := env.Engine.CreateComment(env.Ctx, engine.CommentCreateOptions{
		ValidationID: validationID,
		ParentID:     parentID,
		AuthorID:     author,
		Body:         body,
	})
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	return c
}

func TestCommentThreadAssembly(t *testing.T) {
	env := newTestEnv(t)
	act := completedActivity(t, env, "act-1", "client-1")
	v := openValidation(t, env, act.ID)

	root := addComment(t, env, v.ID, "", "rev-1", "why is the attenuation so high?")
	reply := addComment(t, env, v.ID, root.ID, "tech-1", "bad patch cord, replaced it")
	nested := addComment(t, env, v.ID, reply.ID, "rev-1", "thanks, re-measuring")
	other := addComment(t, env, v.ID, "", "sup-1", "keep me posted")

	if root.NestingLevel != 0 || reply.NestingLevel != 1 || nested.NestingLevel != 2 {
		t.Fatalf("nesting levels = %d/%d/%d", root.NestingLevel, reply.NestingLevel, nested.NestingLevel)
	}
	if reply.ThreadRootID == nil || *reply.ThreadRootID != root.ID {
		t.Fatalf("reply thread root = %v", reply.ThreadRootID)
	}
	if nested.ThreadRootID == nil || *nested.ThreadRootID != root.ID {
		t.Fatalf("nested thread root = %v, want original root", nested.ThreadRootID)
	}

	thread, err := env.Engine.ListThread(env.Ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) != 2 {
		t.Fatalf("root comments = %d, want 2", len(thread))
	}
	if thread[0].ID != root.ID || thread[1].ID != other.ID {
		t.Fatalf("root order = %s,%s", thread[0].ID, thread[1].ID)
	}
	if len(thread[0].Replies) != 1 || thread[0].Replies[0].ID != reply.ID {
		t.Fatalf("replies of root = %+v", thread[0].Replies)
	}
	if len(thread[0].Replies[0].Replies) != 1 || thread[0].Replies[0].Replies[0].ID != nested.ID {
		t.Fatal("nested reply not attached")
	}
}

func TestCommentDepthLimit(t *testing.T) {
	env := newTestEnv(t)
	act := completedActivity(t, env, "act-1", "client-1")
	v := openValidation(t, env, act.ID)

	maxDepth := env.Engine.Config.Comments.MaxDepth
	parent := addComment(t, env, v.ID, "", "rev-1", "level 0")
	for i := 1; i <= maxDepth; i++ {
		parent = addComment(t, env, v.ID, parent.ID, "rev-1", "deeper")
	}
	// The cap itself is reachable; only one past it fails.
	if parent.NestingLevel != maxDepth {
		t.Fatalf("deepest level = %d, want %d", parent.NestingLevel, maxDepth)
	}
	_, err := env.Engine.CreateComment(env.Ctx, engine.CommentCreateOptions{
		ValidationID: v.ID,
		ParentID:     parent.ID,
		AuthorID:     "rev-1",
		Body:         "too deep",
	})
	if !errors.Is(err, engine.ErrDepthExceeded) {
		t.Fatalf("err = %v, want ErrDepthExceeded", err)
	}
}

func TestCommentGuards(t *testing.T) {
	env := newTestEnv(t)
	act := completedActivity(t, env, "act-1", "client-1")
	v := openValidation(t, env, act.ID)

	if _, err := env.Engine.CreateComment(env.Ctx, engine.CommentCreateOptions{
		ValidationID: "missing", AuthorID: "rev-1", Body: "hi",
	}); !errors.Is(err, engine.ErrValidationNotFound) {
		t.Fatalf("err = %v, want ErrValidationNotFound", err)
	}
	if _, err := env.Engine.CreateComment(env.Ctx, engine.CommentCreateOptions{
		ValidationID: v.ID, ParentID: "missing", AuthorID: "rev-1", Body: "hi",
	}); !errors.Is(err, engine.ErrParentNotFound) {
		t.Fatalf("err = %v, want ErrParentNotFound", err)
	}

	// A parent belonging to another validation is not a valid parent.
	act2 := completedActivity(t, env, "act-2", "client-1")
	v2 := openValidation(t, env, act2.ID)
	foreign := addComment(t, env, v2.ID, "", "rev-1", "other thread")
	if _, err := env.Engine.CreateComment(env.Ctx, engine.CommentCreateOptions{
		ValidationID: v.ID, ParentID: foreign.ID, AuthorID: "rev-1", Body: "cross-link",
	}); !errors.Is(err, engine.ErrParentNotFound) {
		t.Fatalf("err = %v, want ErrParentNotFound for foreign parent", err)
	}
}

func TestCommentDeleteTombstoneAndHardDelete(t *testing.T) {
	env := newTestEnv(t)
	act := completedActivity(t, env, "act-1", "client-1")
	v := openValidation(t, env, act.ID)

	root := addComment(t, env, v.ID, "", "rev-1", "original")
	addComment(t, env, v.ID, root.ID, "tech-1", "a reply")
	leaf := addComment(t, env, v.ID, "", "rev-1", "standalone")

	// With replies: soft delete keeps the node as a tombstone.
	if err := env.Engine.DeleteComment(env.Ctx, root.ID, "rev-1"); err != nil {
		t.Fatalf("delete root: %v", err)
	}
	got, err := env.Engine.Repo.GetComment(env.Ctx, root.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Deleted() || got.Body != domain.TombstoneBody {
		t.Fatalf("root not tombstoned: %q", got.Body)
	}
	if !got.Edited || got.EditedAt == nil {
		t.Fatalf("tombstone not flagged edited: edited=%v at=%v", got.Edited, got.EditedAt)
	}
	// Deleting a tombstone again is a no-op.
	if err := env.Engine.DeleteComment(env.Ctx, root.ID, "rev-1"); err != nil {
		t.Fatalf("re-delete tombstone: %v", err)
	}

	// Without replies: hard delete.
	if err := env.Engine.DeleteComment(env.Ctx, leaf.ID, "rev-1"); err != nil {
		t.Fatalf("delete leaf: %v", err)
	}
	if _, err := env.Engine.Repo.GetComment(env.Ctx, leaf.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("leaf still present: %v", err)
	}

	// The thread keeps its shape around the tombstone.
	thread, err := env.Engine.ListThread(env.Ctx, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) != 1 || len(thread[0].Replies) != 1 {
		t.Fatalf("thread shape lost: %+v", thread)
	}
}

func TestCommentEditAuthorOnly(t *testing.T) {
	env := newTestEnv(t)
	act := completedActivity(t, env, "act-1", "client-1")
	v := openValidation(t, env, act.ID)
	c := addComment(t, env, v.ID, "", "tech-1", "first version")

	if _, err := env.Engine.EditComment(env.Ctx, engine.CommentEditOptions{
		CommentID: c.ID, AuthorID: "rev-1", Body: "hijack",
	}); !errors.Is(err, engine.ErrNotAuthor) {
		t.Fatalf("err = %v, want ErrNotAuthor", err)
	}
	if err := env.Engine.DeleteComment(env.Ctx, c.ID, "rev-1"); !errors.Is(err, engine.ErrNotAuthor) {
		t.Fatalf("delete by non-author = %v, want ErrNotAuthor", err)
	}

	edited, err := env.Engine.EditComment(env.Ctx, engine.CommentEditOptions{
		CommentID: c.ID, AuthorID: "tech-1", Body: "second version",
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !edited.Edited || edited.EditedAt == nil || edited.Body != "second version" {
		t.Fatalf("edit not recorded: %+v", edited)
	}
}

func TestCommentNotifiesParticipants(t *testing.T) {
	env := newTestEnv(t)
	act := completedActivity(t, env, "act-1", "client-1")
	v := openValidation(t, env, act.ID)

	addComment(t, env, v.ID, "", "tech-1", "done, please check")

	// Reviewer hears about it in-app; the author does not notify themselves.
	revMsgs, _ := env.Notifier.ListByRecipient(env.Ctx, "rev-1", false, 0)
	found := false
	for _, m := range revMsgs {
		if m.Kind == notify.KindComment && m.Channel == notify.ChannelInApp {
			found = true
		}
	}
	if !found {
		t.Fatalf("reviewer got no comment notification: %+v", revMsgs)
	}
	techMsgs, _ := env.Notifier.ListByRecipient(env.Ctx, "tech-1", false, 0)
	for _, m := range techMsgs {
		if m.Kind == notify.KindComment {
			t.Fatalf("author notified about own comment: %+v", m)
		}
	}
}
