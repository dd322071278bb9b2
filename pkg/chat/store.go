package chat

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/kabili207/mesh-chess/pkg/models"
)

// Listener is notified after a chat log has changed.
type Listener interface {
	ChatUpdated(key models.ChatKey)
}

// Archive persists chat messages outside of memory.
type Archive interface {
	SaveMessage(ctx context.Context, key models.ChatKey, msg models.ChatMessage) error
	History(ctx context.Context, limit int) (map[models.ChatKey][]models.ChatMessage, error)
}

// StoreOptions contains the optional collaborators of a Store.
type StoreOptions struct {
	Listener Listener
	Archive  Archive
	Log      *slog.Logger
}

// Store holds the append-only chat logs, one per channel index and one per direct-message peer.
type Store struct {
	mu   sync.RWMutex
	logs map[models.ChatKey][]models.ChatMessage

	listener Listener
	archive  Archive
	log      *slog.Logger
}

func NewStore(opts StoreOptions) *Store {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		logs:     make(map[models.ChatKey][]models.ChatMessage),
		listener: opts.Listener,
		archive:  opts.Archive,
		log:      log,
	}
}

// Append adds msg to the end of the log for key. Identical messages are appended
// again; the store never deduplicates.
func (s *Store) Append(key models.ChatKey, msg models.ChatMessage) {
	s.mu.Lock()
	s.logs[key] = append(s.logs[key], msg)
	s.mu.Unlock()

	if s.archive != nil {
		if err := s.archive.SaveMessage(context.Background(), key, msg); err != nil {
			s.log.Warn("failed to archive chat message", "chat", key.String(), "error", err)
		}
	}
	if s.listener != nil {
		s.listener.ChatUpdated(key)
	}
}

// Messages returns a copy of the log for key in display order.
func (s *Store) Messages(key models.ChatKey) []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.logs[key])
}

// Len returns the number of messages in the log for key.
func (s *Store) Len(key models.ChatKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs[key])
}

// Keys lists every known log: channels by index first, then direct messages by peer.
func (s *Store) Keys() []models.ChatKey {
	s.mu.RLock()
	keys := make([]models.ChatKey, 0, len(s.logs))
	for k := range s.logs {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	slices.SortFunc(keys, func(a, b models.ChatKey) int {
		if a.IsDirect() != b.IsDirect() {
			if a.IsDirect() {
				return 1
			}
			return -1
		}
		if a.IsDirect() {
			return compareUint(uint32(a.Peer), uint32(b.Peer))
		}
		return compareUint(a.Channel, b.Channel)
	})
	return keys
}

// Restore seeds the logs from the archive. Restored messages are placed ahead of
// anything appended since startup.
func (s *Store) Restore(ctx context.Context, limit int) error {
	if s.archive == nil {
		return nil
	}
	history, err := s.archive.History(ctx, limit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for key, msgs := range history {
		s.logs[key] = append(slices.Clone(msgs), s.logs[key]...)
	}
	s.mu.Unlock()

	s.log.Info("restored chat history", "logs", len(history))
	if s.listener != nil {
		for key := range history {
			s.listener.ChatUpdated(key)
		}
	}
	return nil
}

func compareUint(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
