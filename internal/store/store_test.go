package store

import (
	"testing"

	"gorm.io/gorm"

	"jabagram/internal/db"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return gdb
}

func int64p(v int64) *int64 { return &v }

// --- ChatStore ---

func TestChatStore_AddAndAll(t *testing.T) {
	s := NewChatStore(openTestDB(t))
	if err := s.Add(-100123, "room@conf.example.org"); err != nil {
		t.Fatalf("add: %v", err)
	}
	chats := s.All()
	if len(chats) != 1 {
		t.Fatalf("expected 1 pairing, got %d", len(chats))
	}
	if chats[0].TelegramID != -100123 || chats[0].MUC != "room@conf.example.org" {
		t.Fatalf("unexpected pairing: %+v", chats[0])
	}
}

func TestChatStore_UniquePerChat(t *testing.T) {
	s := NewChatStore(openTestDB(t))
	if err := s.Add(-1, "a@conf.example.org"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(-1, "b@conf.example.org"); err == nil {
		t.Fatal("expected unique violation for duplicate telegram id")
	}
	if err := s.Add(-2, "a@conf.example.org"); err == nil {
		t.Fatal("expected unique violation for duplicate room")
	}
}

func TestChatStore_RemoveByEitherAddress(t *testing.T) {
	s := NewChatStore(openTestDB(t))
	if err := s.Add(-100123, "room@conf.example.org"); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.Remove("room@conf.example.org")
	if got := len(s.All()); got != 0 {
		t.Fatalf("expected pairing removed by room, %d left", got)
	}

	if err := s.Add(-100123, "room@conf.example.org"); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	s.Remove("-100123")
	if got := len(s.All()); got != 0 {
		t.Fatalf("expected pairing removed by telegram id, %d left", got)
	}
}

// --- MessageStore ---

func TestMessageStore_RoundTripByID(t *testing.T) {
	s := NewMessageStore(openTestDB(t))
	muc := "room@conf.example.org"
	if err := s.Add(-100123, nil, "hi", 42, muc, "stanza-1"); err != nil {
		t.Fatalf("add: %v", err)
	}

	byTG, ok := s.GetByID(-100123, nil, muc, "42")
	if !ok {
		t.Fatal("expected lookup by telegram id to hit")
	}
	if byTG.StanzaID != "stanza-1" || byTG.TelegramID != 42 {
		t.Fatalf("unexpected entry: %+v", byTG)
	}

	byStanza, ok := s.GetByID(-100123, nil, muc, "stanza-1")
	if !ok {
		t.Fatal("expected lookup by stanza id to hit")
	}
	if byStanza.TelegramID != 42 {
		t.Fatalf("unexpected entry: %+v", byStanza)
	}
}

func TestMessageStore_GetByBody(t *testing.T) {
	s := NewMessageStore(openTestDB(t))
	muc := "room@conf.example.org"
	if err := s.Add(-100123, nil, "hi", 42, muc, "stanza-1"); err != nil {
		t.Fatalf("add: %v", err)
	}

	entry, ok := s.GetByBody(-100123, nil, muc, "hi")
	if !ok {
		t.Fatal("expected reply lookup to hit")
	}
	if entry.TelegramID != 42 {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	if _, ok := s.GetByBody(-100123, nil, muc, "bye"); ok {
		t.Fatal("expected miss for unknown body")
	}
}

func TestMessageStore_ScopedToPairing(t *testing.T) {
	s := NewMessageStore(openTestDB(t))
	if err := s.Add(-1, nil, "hi", 42, "a@conf.example.org", "stanza-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, ok := s.GetByID(-1, nil, "b@conf.example.org", "42"); ok {
		t.Fatal("expected miss outside the pairing")
	}
	if _, ok := s.GetByBody(-2, nil, "a@conf.example.org", "hi"); ok {
		t.Fatal("expected miss for foreign chat id")
	}
}

func TestMessageStore_TopicScope(t *testing.T) {
	s := NewMessageStore(openTestDB(t))
	muc := "room@conf.example.org"
	if err := s.Add(-1, int64p(7), "hi", 42, muc, "stanza-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	entry, ok := s.GetByID(-1, int64p(7), muc, "42")
	if !ok {
		t.Fatal("expected topic-scoped hit")
	}
	if entry.TopicID == nil || *entry.TopicID != 7 {
		t.Fatalf("expected topic id 7, got %+v", entry.TopicID)
	}
	if _, ok := s.GetByID(-1, int64p(8), muc, "42"); ok {
		t.Fatal("expected miss for wrong topic")
	}
}

func TestMessageStore_LatestEditWins(t *testing.T) {
	s := NewMessageStore(openTestDB(t))
	muc := "room@conf.example.org"
	if err := s.Add(-1, nil, "hi", 42, muc, "stanza-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(-1, nil, "hi2", 42, muc, "stanza-1"); err != nil {
		t.Fatalf("re-add after edit: %v", err)
	}

	if _, ok := s.GetByBody(-1, nil, muc, "hi"); ok {
		t.Fatal("pre-edit body should no longer resolve")
	}
	entry, ok := s.GetByBody(-1, nil, muc, "hi2")
	if !ok {
		t.Fatal("post-edit body should resolve")
	}
	if entry.TelegramID != 42 || entry.StanzaID != "stanza-1" {
		t.Fatalf("unexpected entry after edit: %+v", entry)
	}
}

// --- StickerCache ---

func TestStickerCache_UpsertAndGet(t *testing.T) {
	s := NewStickerCache(openTestDB(t))
	if _, ok := s.Get("abc"); ok {
		t.Fatal("expected initial miss")
	}
	if err := s.Add("abc", "https://up.example.org/1.webp"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if url, ok := s.Get("abc"); !ok || url != "https://up.example.org/1.webp" {
		t.Fatalf("unexpected cache content: %q %v", url, ok)
	}

	// Re-upload after the server expired the file replaces the row.
	if err := s.Add("abc", "https://up.example.org/2.webp"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if url, _ := s.Get("abc"); url != "https://up.example.org/2.webp" {
		t.Fatalf("expected replaced url, got %q", url)
	}
}

// --- TopicNameCache ---

func TestTopicNameCache(t *testing.T) {
	s := NewTopicNameCache(openTestDB(t))
	if _, ok := s.Get(-1, 7); ok {
		t.Fatal("expected initial miss")
	}
	if err := s.Add(-1, 7, "Offtopic"); err != nil {
		t.Fatalf("add: %v", err)
	}
	name, ok := s.Get(-1, 7)
	if !ok || name != "Offtopic" {
		t.Fatalf("unexpected topic name: %q %v", name, ok)
	}
}

func TestDigest(t *testing.T) {
	d := Digest("hi")
	if len(d) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(d))
	}
	if d != Digest("hi") {
		t.Fatal("digest must be deterministic")
	}
	if d == Digest("hi2") {
		t.Fatal("distinct bodies must not collide")
	}
}
