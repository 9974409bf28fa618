package conversationrepo_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bodhiapp/chat-core/internal/domain/conversation"
	"github.com/bodhiapp/chat-core/internal/infrastructure/database"
	"github.com/bodhiapp/chat-core/internal/infrastructure/database/dbschema"
	"github.com/bodhiapp/chat-core/internal/infrastructure/database/repository/conversationrepo"
	"github.com/bodhiapp/chat-core/internal/infrastructure/database/transaction"
)

func newTestRepo(t *testing.T) conversation.Repository {
	t.Helper()
	db, err := database.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := database.Migrate(db, dbschema.Migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conversationrepo.NewConversationGormRepository(transaction.NewDatabase(db))
}

func mustCreateConversation(t *testing.T, repo conversation.Repository, id, userID string, lastModified time.Time) {
	t.Helper()
	err := repo.CreateConversation(context.Background(), &conversation.Conversation{
		ID:           id,
		UserID:       userID,
		Name:         "chat " + id,
		LastModified: lastModified,
		CreatedAt:    lastModified,
	})
	if err != nil {
		t.Fatalf("CreateConversation(%s): %v", id, err)
	}
}

func TestConversationRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	mustCreateConversation(t, repo, "conv_roundtrip", "u", now)

	got, err := repo.GetConversation(ctx, "conv_roundtrip")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got == nil || got.UserID != "u" || got.Name != "chat conv_roundtrip" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	missing, err := repo.GetConversation(ctx, "conv_missing")
	if err != nil {
		t.Fatalf("GetConversation(missing): %v", err)
	}
	if missing != nil {
		t.Errorf("missing conversation should be (nil, nil), got %+v", missing)
	}
}

func TestUpdateConversationPartialFields(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustCreateConversation(t, repo, "conv_upd", "u", time.Now())

	pinned := true
	if err := repo.UpdateConversation(ctx, "conv_upd", conversation.ConversationUpdate{Pinned: &pinned}); err != nil {
		t.Fatalf("UpdateConversation: %v", err)
	}
	got, _ := repo.GetConversation(ctx, "conv_upd")
	if !got.Pinned {
		t.Error("pinned not updated")
	}
	if got.Name != "chat conv_upd" {
		t.Errorf("untouched field changed: %q", got.Name)
	}
}

func TestListConversationsByUserScoping(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	mustCreateConversation(t, repo, "conv_a1", "alice", now.Add(-time.Hour))
	mustCreateConversation(t, repo, "conv_a2", "alice", now)
	mustCreateConversation(t, repo, "conv_b1", "bob", now)

	list, err := repo.ListConversationsByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListConversationsByUser: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 conversations for alice, got %d", len(list))
	}
	for _, c := range list {
		if c.UserID != "alice" {
			t.Errorf("foreign conversation leaked: %+v", c)
		}
	}
	if list[0].ID != "conv_a2" {
		t.Errorf("most recent should come first, got %s", list[0].ID)
	}
}

func TestMessageOrderingAndExtraRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustCreateConversation(t, repo, "conv_msgs", "u", time.Now())

	// Two rows sharing one timestamp: insertion order must win.
	ts := time.Now().Truncate(time.Second)
	msgs := []*conversation.Message{
		{ID: "msg_1", ConvID: "conv_msgs", Role: conversation.RoleUser, Content: "first", CreatedAt: ts},
		{ID: "msg_2", ConvID: "conv_msgs", Role: conversation.RoleAssistant, Content: "second", CreatedAt: ts,
			Extra: map[string]any{"reasoning_content": "thinking", "custom": "kept"}},
		{ID: "msg_3", ConvID: "conv_msgs", Role: conversation.RoleUser, Content: "third", CreatedAt: ts.Add(time.Second)},
	}
	for _, m := range msgs {
		if err := repo.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage(%s): %v", m.ID, err)
		}
	}

	got, err := repo.ListMessages(ctx, "conv_msgs")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, want := range []string{"msg_1", "msg_2", "msg_3"} {
		if got[i].ID != want {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, want)
		}
	}
	if got[1].ReasoningContent() != "thinking" {
		t.Errorf("reasoning content lost: %+v", got[1].Extra)
	}
	if got[1].Extra["custom"] != "kept" {
		t.Errorf("unknown extra keys must round-trip: %+v", got[1].Extra)
	}
}

func TestDeleteConversationCascade(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustCreateConversation(t, repo, "conv_doomed", "u", time.Now())
	mustCreateConversation(t, repo, "conv_kept", "u", time.Now())

	for i, convID := range []string{"conv_doomed", "conv_doomed", "conv_kept"} {
		err := repo.CreateMessage(ctx, &conversation.Message{
			ID: fmt.Sprintf("msg_%d", i), ConvID: convID, Role: conversation.RoleUser, Content: "m", CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	if err := repo.DeleteConversationCascade(ctx, "conv_doomed"); err != nil {
		t.Fatalf("DeleteConversationCascade: %v", err)
	}

	if got, _ := repo.GetConversation(ctx, "conv_doomed"); got != nil {
		t.Error("conversation row survived the cascade")
	}
	orphans, _ := repo.ListMessages(ctx, "conv_doomed")
	if len(orphans) != 0 {
		t.Errorf("cascade left %d orphaned messages", len(orphans))
	}
	kept, _ := repo.ListMessages(ctx, "conv_kept")
	if len(kept) != 1 {
		t.Errorf("other conversations must be untouched, have %d messages", len(kept))
	}
}

func TestUpdateMessageContentReportsRows(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustCreateConversation(t, repo, "conv_edit", "u", time.Now())
	err := repo.CreateMessage(ctx, &conversation.Message{
		ID: "msg_edit", ConvID: "conv_edit", Role: conversation.RoleUser, Content: "before", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	rows, err := repo.UpdateMessageContent(ctx, "conv_edit", "msg_edit", "after")
	if err != nil {
		t.Fatalf("UpdateMessageContent: %v", err)
	}
	if rows != 1 {
		t.Errorf("expected 1 row updated, got %d", rows)
	}

	// Wrong conversation id must not match the row.
	rows, err = repo.UpdateMessageContent(ctx, "conv_other", "msg_edit", "x")
	if err != nil {
		t.Fatalf("UpdateMessageContent: %v", err)
	}
	if rows != 0 {
		t.Errorf("expected 0 rows for mismatched conversation, got %d", rows)
	}
}

func TestInTransactionRollsBack(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustCreateConversation(t, repo, "conv_tx", "u", time.Now())

	wantErr := fmt.Errorf("abort")
	err := repo.InTransaction(ctx, func(txCtx context.Context) error {
		if err := repo.CreateMessage(txCtx, &conversation.Message{
			ID: "msg_tx", ConvID: "conv_tx", Role: conversation.RoleUser, Content: "m", CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		return wantErr
	})
	if err == nil {
		t.Fatal("expected transaction error")
	}

	msgs, _ := repo.ListMessages(ctx, "conv_tx")
	if len(msgs) != 0 {
		t.Errorf("rolled-back write is visible, %d messages", len(msgs))
	}
}
