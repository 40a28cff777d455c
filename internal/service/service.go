// Package service maintains pending pairings and completes the invitation
// handshake that binds a Telegram chat to an XMPP room.
package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"jabagram/internal/model"
	"jabagram/internal/store"
)

// Service owns the pending-pairing map and the registered handler
// factories. Pending entries live in memory only; confirmed pairings are
// persisted and handlers are spawned through every factory.
type Service struct {
	chats *store.ChatStore
	key   string
	out   io.Writer

	mu        sync.Mutex
	pending   map[string]int64 // room JID -> Telegram chat id
	factories []model.HandlerFactory
}

// Opts holds parameters for creating a Service.
type Opts struct {
	Chats *store.ChatStore
	Key   string    // shared handshake secret
	Out   io.Writer // defaults to os.Stdout
}

// New creates a Service.
func New(opts Opts) (*Service, error) {
	if opts.Chats == nil {
		return nil, fmt.Errorf("service: chat store is required")
	}
	if opts.Key == "" {
		return nil, fmt.Errorf("service: handshake key is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Service{
		chats:   opts.Chats,
		key:     opts.Key,
		out:     out,
		pending: make(map[string]int64),
	}, nil
}

// RegisterFactory appends a handler factory. Factories are invoked once per
// pairing, on bind and on startup reload.
func (s *Service) RegisterFactory(f model.HandlerFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories = append(s.factories, f)
}

// Pending stages a room for confirmation. A chat re-issuing the pair
// command replaces its previous pending room.
func (s *Service) Pending(room string, chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for staged, id := range s.pending {
		if id == chatID {
			delete(s.pending, staged)
			break
		}
	}
	s.pending[room] = chatID
	fmt.Fprintf(s.out, "service: staged for confirmation: %s - %d\n", room, chatID)
}

// Bind completes the handshake for room. It is a silent no-op unless room
// is pending and suppliedKey matches the configured secret; on success the
// pairing is persisted, the pending entry consumed, and every factory asked
// to create its handler.
func (s *Service) Bind(ctx context.Context, room, suppliedKey string) {
	s.mu.Lock()
	chatID, ok := s.pending[room]
	if !ok {
		s.mu.Unlock()
		return
	}
	if suppliedKey != s.key {
		s.mu.Unlock()
		log.Printf("service: wrong key received for room %s", room)
		return
	}
	delete(s.pending, room)
	s.mu.Unlock()

	fmt.Fprintf(s.out, "service: new chat pair bound: %s - %d\n", room, chatID)
	if err := s.chats.Add(chatID, room); err != nil {
		log.Printf("service: persist pairing: %v", err)
	}
	s.spawnHandlers(ctx, chatID, room)
}

// LoadChats recreates handlers for every persisted pairing; used at startup.
func (s *Service) LoadChats(ctx context.Context) {
	fmt.Fprintf(s.out, "service: loading chats from database...\n")
	for _, chat := range s.chats.All() {
		s.spawnHandlers(ctx, chat.TelegramID, chat.MUC)
	}
}

func (s *Service) spawnHandlers(ctx context.Context, chatID int64, room string) {
	s.mu.Lock()
	factories := make([]model.HandlerFactory, len(s.factories))
	copy(factories, s.factories)
	s.mu.Unlock()

	fmt.Fprintf(s.out, "service: create handlers for chat %d and MUC %s\n", chatID, room)
	for _, f := range factories {
		if err := f.CreateHandler(ctx, chatID, room); err != nil {
			log.Printf("service: create handler for %d - %s: %v", chatID, room, err)
		}
	}
}
