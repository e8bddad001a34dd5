package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_chats_updated", "idx_chat_messages_chat", "idx_flashcards_tag", "idx_flashcards_created"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("expected index %s to exist", idx)
		}
	}
}

func TestAppendMessagesCreatesChat(t *testing.T) {
	s := openTestStore(t)

	err := s.AppendMessages("c1", "What is entropy?",
		ChatMessage{Role: "user", Content: "What is entropy?"},
		ChatMessage{Role: "assistant", Content: "A measure of disorder."},
	)
	if err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	chat, msgs, err := s.GetChat("c1")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if chat.Title != "What is entropy?" {
		t.Errorf("Title = %q", chat.Title)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("messages out of order: %+v", msgs)
	}
	if msgs[1].ChatID != "c1" {
		t.Errorf("ChatID = %q", msgs[1].ChatID)
	}
}

func TestAppendMessagesKeepsTitleAndBumpsUpdated(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	if err := s.AppendMessages("c1", "first", ChatMessage{Role: "user", Content: "a"}); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return base.Add(time.Minute) }
	if err := s.AppendMessages("c1", "second", ChatMessage{Role: "user", Content: "b"}); err != nil {
		t.Fatal(err)
	}

	chat, msgs, err := s.GetChat("c1")
	if err != nil {
		t.Fatal(err)
	}
	if chat.Title != "first" {
		t.Errorf("Title = %q, want first", chat.Title)
	}
	if !chat.UpdatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v", chat.UpdatedAt)
	}
	if !chat.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v", chat.CreatedAt)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs))
	}
}

func TestListChatsOrder(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		id := fmt.Sprintf("c%d", i)
		if err := s.AppendMessages(id, id, ChatMessage{Role: "user", Content: id}); err != nil {
			t.Fatal(err)
		}
	}

	chats, err := s.ListChats(2)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}
	if chats[0].ID != "c2" || chats[1].ID != "c1" {
		t.Errorf("unexpected order: %s, %s", chats[0].ID, chats[1].ID)
	}
}

func TestChatMessagesLimitKeepsNewest(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		if err := s.AppendMessages("c1", "t", ChatMessage{Role: "user", Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.ChatMessages("c1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "m3" || msgs[1].Content != "m4" {
		t.Errorf("got %q, %q; want m3, m4", msgs[0].Content, msgs[1].Content)
	}
}

func TestGetChatNotFound(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.GetChat("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteChat(t *testing.T) {
	s := openTestStore(t)
	if err := s.AppendMessages("c1", "t", ChatMessage{Role: "user", Content: "x"}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteChat("c1"); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if _, _, err := s.GetChat("c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	msgs, err := s.ChatMessages("c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected messages removed, got %d", len(msgs))
	}
	if err := s.DeleteChat("c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestFlashcardsCRUD(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	cards := []Flashcard{
		{ID: "f1", Question: "q1", Answer: "a1", Tag: "bio", CreatedAt: base},
		{ID: "f2", Question: "q2", Answer: "a2", Tag: "chem", CreatedAt: base.Add(time.Minute)},
		{ID: "f3", Question: "q3", Answer: "a3", Tag: "bio", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, c := range cards {
		if _, err := s.SaveFlashcard(c); err != nil {
			t.Fatalf("SaveFlashcard(%s): %v", c.ID, err)
		}
	}

	all, err := s.ListFlashcards("", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "f3" {
		t.Errorf("unexpected list: %+v", all)
	}

	bio, err := s.ListFlashcards("bio", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(bio) != 2 {
		t.Errorf("got %d bio cards, want 2", len(bio))
	}

	if err := s.DeleteFlashcard("f1"); err != nil {
		t.Fatalf("DeleteFlashcard: %v", err)
	}
	if err := s.DeleteFlashcard("f1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveFlashcardDefaultsCreatedAt(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	f, err := s.SaveFlashcard(Flashcard{ID: "f1", Question: "q", Answer: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if !f.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", f.CreatedAt, now)
	}
}

func TestEmbeddingCacheRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, ok, err := s.CachedEmbedding("m", "h"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	vec := []float32{0.1, -2.5, 3}
	if err := s.PutEmbedding("m", "h", vec); err != nil {
		t.Fatalf("PutEmbedding: %v", err)
	}
	got, ok, err := s.CachedEmbedding("m", "h")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(got) != len(vec) {
		t.Fatalf("len = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], vec[i])
		}
	}

	if _, ok, _ := s.CachedEmbedding("other-model", "h"); ok {
		t.Error("cache must be keyed by model")
	}
}

func TestDecodeFloat32sRejectsBadLength(t *testing.T) {
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
