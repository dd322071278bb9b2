package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/models"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(db))
}

func TestChatArchiveHistory(t *testing.T) {
	archive := NewChatArchive(openTestDB(t))
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	channel := models.ChannelKey(0)
	dm := models.DirectKey(0x1234)

	for i := 0; i < 5; i++ {
		require.NoError(t, archive.SaveMessage(ctx, channel, models.ChatMessage{
			From:    0x1111,
			To:      meshtastic.BROADCAST_ID,
			Channel: 0,
			Text:    fmt.Sprintf("msg %d", i),
			Time:    base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, archive.SaveMessage(ctx, dm, models.ChatMessage{
		From:   0xaaaa,
		To:     0x1234,
		Text:   `{"chess":"invite"}`,
		Time:   base,
		IsSelf: true,
	}))

	history, err := archive.History(ctx, 3)
	require.NoError(t, err)
	require.Len(t, history, 2)

	msgs := history[channel]
	require.Len(t, msgs, 3)
	require.Equal(t, "msg 2", msgs[0].Text)
	require.Equal(t, "msg 4", msgs[2].Text)
	require.True(t, msgs[2].Time.Equal(base.Add(4*time.Second)))
	require.Equal(t, meshtastic.NodeID(meshtastic.BROADCAST_ID), msgs[0].To)

	direct := history[dm]
	require.Len(t, direct, 1)
	require.True(t, direct[0].IsSelf)
	require.Equal(t, meshtastic.NodeID(0xaaaa), direct[0].From)
}

func TestNodeStore(t *testing.T) {
	nodes := NewNodeStore(openTestDB(t))

	missing, err := nodes.GetNode(0x42)
	require.NoError(t, err)
	require.Nil(t, missing)

	heard := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, nodes.SaveNode(&models.Node{
		ID:        0x42,
		LongName:  "Hilltop",
		ShortName: "HILL",
		PublicKey: []byte{1, 2, 3},
		Position:  &models.Position{Latitude: 40.1, Longitude: -79.9, Altitude: 300},
		LastHeard: heard,
	}))

	// An update without position or key keeps the stored ones.
	require.NoError(t, nodes.SaveNode(&models.Node{
		ID:        0x42,
		LongName:  "Hilltop Relay",
		LastHeard: heard.Add(time.Minute),
	}))

	n, err := nodes.GetNode(0x42)
	require.NoError(t, err)
	require.NotNil(t, n)
	require.Equal(t, "Hilltop Relay", n.LongName)
	require.Equal(t, []byte{1, 2, 3}, n.PublicKey)
	require.NotNil(t, n.Position)
	require.InDelta(t, 40.1, n.Position.Latitude, 1e-9)
	require.Equal(t, int32(300), n.Position.Altitude)
	require.True(t, n.LastHeard.Equal(heard.Add(time.Minute)))

	require.NoError(t, nodes.SaveNode(&models.Node{ID: 0x7, LastHeard: heard}))
	all, err := nodes.GetAllNodes()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, meshtastic.NodeID(0x7), all[0].ID)
	require.Nil(t, all[0].Position)
}
