package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/models"
)

type recordingListener struct {
	mu   sync.Mutex
	keys []models.ChatKey
}

func (l *recordingListener) ChatUpdated(key models.ChatKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
}

type memoryArchive struct {
	saved   []models.ChatMessage
	history map[models.ChatKey][]models.ChatMessage
}

func (a *memoryArchive) SaveMessage(_ context.Context, _ models.ChatKey, msg models.ChatMessage) error {
	a.saved = append(a.saved, msg)
	return nil
}

func (a *memoryArchive) History(context.Context, int) (map[models.ChatKey][]models.ChatMessage, error) {
	return a.history, nil
}

func TestAppendKeepsOrderAndDuplicates(t *testing.T) {
	l := &recordingListener{}
	s := NewStore(StoreOptions{Listener: l})
	key := models.ChannelKey(0)

	msg := models.ChatMessage{From: 0x10, To: meshtastic.BROADCAST_ID, Text: "hello", Time: time.Unix(100, 0)}
	s.Append(key, msg)
	s.Append(key, msg)
	s.Append(key, models.ChatMessage{From: 0x11, Text: "second"})

	got := s.Messages(key)
	require.Len(t, got, 3)
	require.Equal(t, "hello", got[0].Text)
	require.Equal(t, "hello", got[1].Text)
	require.Equal(t, "second", got[2].Text)
	require.Len(t, l.keys, 3)
}

func TestMessagesReturnsCopy(t *testing.T) {
	s := NewStore(StoreOptions{})
	key := models.DirectKey(0x42)
	s.Append(key, models.ChatMessage{Text: "a"})

	msgs := s.Messages(key)
	msgs[0].Text = "mutated"
	require.Equal(t, "a", s.Messages(key)[0].Text)
}

func TestKeysOrdersChannelsBeforeDirect(t *testing.T) {
	s := NewStore(StoreOptions{})
	s.Append(models.DirectKey(0x20), models.ChatMessage{})
	s.Append(models.ChannelKey(2), models.ChatMessage{})
	s.Append(models.DirectKey(0x10), models.ChatMessage{})
	s.Append(models.ChannelKey(0), models.ChatMessage{})

	require.Equal(t, []models.ChatKey{
		models.ChannelKey(0),
		models.ChannelKey(2),
		models.DirectKey(0x10),
		models.DirectKey(0x20),
	}, s.Keys())
}

func TestArchiveMirrorAndRestore(t *testing.T) {
	key := models.ChannelKey(1)
	archive := &memoryArchive{
		history: map[models.ChatKey][]models.ChatMessage{
			key: {{Text: "old"}},
		},
	}
	s := NewStore(StoreOptions{Archive: archive})
	s.Append(key, models.ChatMessage{Text: "new"})
	require.Len(t, archive.saved, 1)

	require.NoError(t, s.Restore(context.Background(), 100))
	got := s.Messages(key)
	require.Len(t, got, 2)
	require.Equal(t, "old", got[0].Text)
	require.Equal(t, "new", got[1].Text)
}

func TestConcurrentAppend(t *testing.T) {
	s := NewStore(StoreOptions{})
	key := models.ChannelKey(0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Append(key, models.ChatMessage{Text: "x"})
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 400, s.Len(key))
}
