package conversation_test

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/bodhiapp/chat-core/internal/domain/conversation"
	"github.com/bodhiapp/chat-core/internal/utils/apperrors"
)

// fakeRepository is an in-memory conversation.Repository. quotaFailures
// makes the next N message writes fail as if storage were exhausted.
type fakeRepository struct {
	convs         map[string]*conversation.Conversation
	msgs          []*conversation.Message
	quotaFailures int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{convs: make(map[string]*conversation.Conversation)}
}

func (r *fakeRepository) CreateConversation(ctx context.Context, conv *conversation.Conversation) error {
	cp := *conv
	r.convs[conv.ID] = &cp
	return nil
}

func (r *fakeRepository) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	conv, ok := r.convs[id]
	if !ok {
		return nil, nil
	}
	cp := *conv
	return &cp, nil
}

func (r *fakeRepository) UpdateConversation(ctx context.Context, id string, update conversation.ConversationUpdate) error {
	conv, ok := r.convs[id]
	if !ok {
		return nil
	}
	if update.Name != nil {
		conv.Name = *update.Name
	}
	if update.Pinned != nil {
		conv.Pinned = *update.Pinned
	}
	if update.LastModified != nil {
		conv.LastModified = *update.LastModified
	}
	return nil
}

func (r *fakeRepository) DeleteConversationCascade(ctx context.Context, id string) error {
	delete(r.convs, id)
	kept := r.msgs[:0]
	for _, m := range r.msgs {
		if m.ConvID != id {
			kept = append(kept, m)
		}
	}
	r.msgs = kept
	return nil
}

func (r *fakeRepository) ListConversationsByUser(ctx context.Context, userID string) ([]*conversation.Conversation, error) {
	var out []*conversation.Conversation
	for _, c := range r.convs {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepository) CreateMessage(ctx context.Context, msg *conversation.Message) error {
	if r.quotaFailures > 0 {
		r.quotaFailures--
		return apperrors.New(apperrors.LayerRepository, apperrors.KindQuotaExceeded, "database or disk is full", nil)
	}
	cp := *msg
	r.msgs = append(r.msgs, &cp)
	return nil
}

func (r *fakeRepository) ListMessages(ctx context.Context, convID string) ([]*conversation.Message, error) {
	var out []*conversation.Message
	for _, m := range r.msgs {
		if m.ConvID == convID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *fakeRepository) UpdateMessageContent(ctx context.Context, convID, messageID, content string) (int64, error) {
	for _, m := range r.msgs {
		if m.ID == messageID && m.ConvID == convID {
			m.Content = content
			return 1, nil
		}
	}
	return 0, nil
}

func (r *fakeRepository) BulkDeleteMessages(ctx context.Context, ids []string) error {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := r.msgs[:0]
	for _, m := range r.msgs {
		if !drop[m.ID] {
			kept = append(kept, m)
		}
	}
	r.msgs = kept
	return nil
}

func (r *fakeRepository) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func seedConversation(t *testing.T, svc *conversation.Service, userID, name string) *conversation.Conversation {
	t.Helper()
	conv, err := svc.CreateConversation(context.Background(), userID, name)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return conv
}

func seedMessage(t *testing.T, svc *conversation.Service, userID, convID string, role conversation.Role, content string, at time.Time) string {
	t.Helper()
	result, err := svc.SaveMessage(context.Background(), userID, convID, conversation.Message{
		Role:      role,
		Content:   content,
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	return result.MessageID
}

func TestCreateConversation(t *testing.T) {
	svc := conversation.NewService(newFakeRepository())

	conv := seedConversation(t, svc, "user-1", "My chat")
	if !strings.HasPrefix(conv.ID, "conv_") {
		t.Errorf("expected conv_ prefix, got %q", conv.ID)
	}
	if conv.Pinned {
		t.Error("new conversation should not be pinned")
	}
	if conv.LastModified.IsZero() || conv.CreatedAt.IsZero() {
		t.Error("timestamps should be set")
	}

	if _, err := svc.CreateConversation(context.Background(), "", "x"); !apperrors.IsUnauthenticated(err) {
		t.Errorf("expected unauthenticated error, got %v", err)
	}
}

func TestGenerateConversationTitle(t *testing.T) {
	long := strings.Repeat("a", 60)
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"short kept as-is", "Hello world", "Hello world"},
		{"whitespace trimmed", "  padded  ", "padded"},
		{"exactly at limit", strings.Repeat("b", 50), strings.Repeat("b", 50)},
		{"long truncated", long, strings.Repeat("a", 50) + "..."},
		{"trim happens before truncation", "   " + long + "   ", strings.Repeat("a", 50) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := conversation.GenerateConversationTitle(tt.input); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserIsolation(t *testing.T) {
	repo := newFakeRepository()
	svc := conversation.NewService(repo)
	conv := seedConversation(t, svc, "alice", "Alice's chat")

	if _, err := svc.GetConversation(context.Background(), "bob", conv.ID); !apperrors.IsNotFound(err) {
		t.Errorf("foreign conversation should be not-found, got %v", err)
	}
	if err := svc.DeleteConversation(context.Background(), "bob", conv.ID); !apperrors.IsNotFound(err) {
		t.Errorf("foreign delete should be not-found, got %v", err)
	}
	if _, ok := repo.convs[conv.ID]; !ok {
		t.Error("foreign delete must not remove the conversation")
	}
}

func TestListConversationsOrdering(t *testing.T) {
	repo := newFakeRepository()
	svc := conversation.NewService(repo)
	ctx := context.Background()

	base := time.Now()
	old := seedConversation(t, svc, "u", "old")
	mid := seedConversation(t, svc, "u", "mid pinned")
	recent := seedConversation(t, svc, "u", "recent")
	repo.convs[old.ID].LastModified = base.Add(-3 * time.Hour)
	repo.convs[mid.ID].LastModified = base.Add(-2 * time.Hour)
	repo.convs[recent.ID].LastModified = base.Add(-1 * time.Hour)

	if _, err := svc.TogglePin(ctx, "u", mid.ID); err != nil {
		t.Fatalf("TogglePin: %v", err)
	}
	// Pinning must not bump recency.
	if got := repo.convs[mid.ID].LastModified; !got.Equal(base.Add(-2 * time.Hour)) {
		t.Errorf("pin bumped lastModified to %v", got)
	}

	list, err := svc.ListConversations(ctx, "u")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	gotIDs := []string{list[0].ID, list[1].ID, list[2].ID}
	wantIDs := []string{mid.ID, recent.ID, old.ID}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Fatalf("position %d: got %s, want %s (order %v)", i, gotIDs[i], wantIDs[i], gotIDs)
		}
	}
}

func TestRenameBumpsRecency(t *testing.T) {
	repo := newFakeRepository()
	svc := conversation.NewService(repo)
	conv := seedConversation(t, svc, "u", "before")
	stale := time.Now().Add(-time.Hour)
	repo.convs[conv.ID].LastModified = stale

	if err := svc.RenameConversation(context.Background(), "u", conv.ID, "after"); err != nil {
		t.Fatalf("RenameConversation: %v", err)
	}
	if repo.convs[conv.ID].Name != "after" {
		t.Errorf("name not updated: %q", repo.convs[conv.ID].Name)
	}
	if !repo.convs[conv.ID].LastModified.After(stale) {
		t.Error("rename should bump lastModified")
	}
}

func TestSaveMessageQuotaRecovery(t *testing.T) {
	repo := newFakeRepository()
	svc := conversation.NewService(repo)
	ctx := context.Background()
	base := time.Now()

	target := seedConversation(t, svc, "u", "target")
	pinned := seedConversation(t, svc, "u", "pinned")
	var unpinned []*conversation.Conversation
	for i := 0; i < 4; i++ {
		c := seedConversation(t, svc, "u", "old")
		repo.convs[c.ID].LastModified = base.Add(time.Duration(i) * time.Minute)
		unpinned = append(unpinned, c)
	}
	if _, err := svc.TogglePin(ctx, "u", pinned.ID); err != nil {
		t.Fatalf("TogglePin: %v", err)
	}
	repo.convs[pinned.ID].LastModified = base.Add(-time.Hour)

	repo.quotaFailures = 1
	result, err := svc.SaveMessage(ctx, "u", target.ID, conversation.Message{Role: conversation.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("SaveMessage after recovery: %v", err)
	}
	if result.EvictedConversations != 3 {
		t.Errorf("expected 3 evicted, got %d", result.EvictedConversations)
	}
	if _, ok := repo.convs[pinned.ID]; !ok {
		t.Error("pinned conversation must never be evicted")
	}
	if _, ok := repo.convs[target.ID]; !ok {
		t.Error("the conversation being written to must never be evicted")
	}
	// The three oldest unpinned ones go, the newest survives.
	for i := 0; i < 3; i++ {
		if _, ok := repo.convs[unpinned[i].ID]; ok {
			t.Errorf("unpinned conversation %d should be evicted", i)
		}
	}
	if _, ok := repo.convs[unpinned[3].ID]; !ok {
		t.Error("newest unpinned conversation should survive a single eviction round")
	}
	if len(repo.msgs) != 1 {
		t.Errorf("retry should have written the message, have %d", len(repo.msgs))
	}
}

func TestSaveMessageQuotaRecoveryFailsWhenRetryFails(t *testing.T) {
	repo := newFakeRepository()
	svc := conversation.NewService(repo)
	conv := seedConversation(t, svc, "u", "only")

	// Both the first write and the retry hit the quota.
	repo.quotaFailures = 2
	_, err := svc.SaveMessage(context.Background(), "u", conv.ID, conversation.Message{Role: conversation.RoleUser, Content: "hi"})
	if !apperrors.IsQuotaExceeded(err) {
		t.Errorf("expected quota error after failed retry, got %v", err)
	}
}

func TestCascadeDelete(t *testing.T) {
	repo := newFakeRepository()
	svc := conversation.NewService(repo)
	ctx := context.Background()
	conv := seedConversation(t, svc, "u", "chat")

	base := time.Now()
	var ids []string
	for i := 0; i < 5; i++ {
		id := seedMessage(t, svc, "u", conv.ID, conversation.RoleUser, "m", base.Add(time.Duration(i)*time.Second))
		ids = append(ids, id)
	}

	count, err := svc.CascadeCount(ctx, "u", conv.ID, ids[2])
	if err != nil {
		t.Fatalf("CascadeCount: %v", err)
	}
	if count != 3 {
		t.Errorf("expected cascade count 3, got %d", count)
	}

	if err := svc.DeleteMessageCascade(ctx, "u", conv.ID, ids[2]); err != nil {
		t.Fatalf("DeleteMessageCascade: %v", err)
	}
	remaining, err := svc.LoadMessages(ctx, "u", conv.ID)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining messages, got %d", len(remaining))
	}
	if remaining[0].ID != ids[0] || remaining[1].ID != ids[1] {
		t.Error("wrong messages survived the cascade")
	}

	// Unknown target is a no-op.
	if err := svc.DeleteMessageCascade(ctx, "u", conv.ID, "msg_nope"); err != nil {
		t.Fatalf("no-op cascade: %v", err)
	}
	remaining, _ = svc.LoadMessages(ctx, "u", conv.ID)
	if len(remaining) != 2 {
		t.Errorf("no-op cascade removed messages, %d left", len(remaining))
	}

	// Cascading from the first message empties the conversation.
	if err := svc.DeleteMessageCascade(ctx, "u", conv.ID, ids[0]); err != nil {
		t.Fatalf("full cascade: %v", err)
	}
	remaining, _ = svc.LoadMessages(ctx, "u", conv.ID)
	if len(remaining) != 0 {
		t.Errorf("cascade from the first message should remove everything, %d left", len(remaining))
	}
	if _, ok := repo.convs[conv.ID]; !ok {
		t.Error("the conversation row itself must survive a message cascade")
	}
}

func TestUpdateMessage(t *testing.T) {
	repo := newFakeRepository()
	svc := conversation.NewService(repo)
	ctx := context.Background()
	conv := seedConversation(t, svc, "u", "chat")
	id := seedMessage(t, svc, "u", conv.ID, conversation.RoleUser, "before", time.Now())

	if err := svc.UpdateMessage(ctx, "u", conv.ID, id, "after"); err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	msgs, _ := svc.LoadMessages(ctx, "u", conv.ID)
	if msgs[0].Content != "after" {
		t.Errorf("content not updated: %q", msgs[0].Content)
	}

	if err := svc.UpdateMessage(ctx, "u", conv.ID, "msg_missing", "x"); !apperrors.IsNotFound(err) {
		t.Errorf("expected not-found for unknown message, got %v", err)
	}
}

func TestLoadMessagesFiltersSystemRole(t *testing.T) {
	repo := newFakeRepository()
	svc := conversation.NewService(repo)
	ctx := context.Background()
	conv := seedConversation(t, svc, "u", "chat")

	base := time.Now()
	seedMessage(t, svc, "u", conv.ID, conversation.RoleSystem, "system prompt", base)
	seedMessage(t, svc, "u", conv.ID, conversation.RoleUser, "hi", base.Add(time.Second))
	seedMessage(t, svc, "u", conv.ID, conversation.RoleAssistant, "hello", base.Add(2*time.Second))

	msgs, err := svc.LoadMessages(ctx, "u", conv.ID)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 visible messages, got %d", len(msgs))
	}
	if msgs[0].Role != conversation.RoleUser || msgs[1].Role != conversation.RoleAssistant {
		t.Error("system rows must be filtered out")
	}
}
