package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/models"
)

// ChatArchive persists chat logs so they survive a restart.
type ChatArchive interface {
	SaveMessage(ctx context.Context, key models.ChatKey, msg models.ChatMessage) error
	// History returns up to limit of the most recent messages of every chat, oldest first.
	History(ctx context.Context, limit int) (map[models.ChatKey][]models.ChatMessage, error)
}

type chatMessageRow struct {
	ID       int64  `db:"id"`
	ChatKey  string `db:"chat_key"`
	FromNode int64  `db:"from_node"`
	ToNode   int64  `db:"to_node"`
	Channel  int64  `db:"channel"`
	Text     string `db:"text"`
	SentAt   int64  `db:"sent_at"`
	IsSelf   bool   `db:"is_self"`
}

type sqliteChatArchive struct {
	db *sqlx.DB
}

func NewChatArchive(dbconn *sqlx.DB) ChatArchive {
	return &sqliteChatArchive{db: dbconn}
}

func (s *sqliteChatArchive) SaveMessage(ctx context.Context, key models.ChatKey, msg models.ChatMessage) error {
	stmt := `
	INSERT INTO chat_messages (chat_key, from_node, to_node, channel, text, sent_at, is_self)
	VALUES (:chat_key, :from_node, :to_node, :channel, :text, :sent_at, :is_self);`

	row := chatMessageRow{
		ChatKey:  key.String(),
		FromNode: int64(msg.From),
		ToNode:   int64(msg.To),
		Channel:  int64(msg.Channel),
		Text:     msg.Text,
		SentAt:   msg.Time.UnixMilli(),
		IsSelf:   msg.IsSelf,
	}
	_, err := s.db.NamedExecContext(ctx, stmt, row)
	return err
}

func (s *sqliteChatArchive) History(ctx context.Context, limit int) (map[models.ChatKey][]models.ChatMessage, error) {
	query := `
	SELECT id, chat_key, from_node, to_node, channel, text, sent_at, is_self FROM (
		SELECT m.*, ROW_NUMBER() OVER (PARTITION BY chat_key ORDER BY id DESC) AS rn
		FROM chat_messages m
	)
	WHERE rn <= ?
	ORDER BY chat_key, id;`

	rows := []chatMessageRow{}
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, err
	}

	history := make(map[models.ChatKey][]models.ChatMessage)
	for _, r := range rows {
		key, err := models.ParseChatKey(r.ChatKey)
		if err != nil {
			continue
		}
		history[key] = append(history[key], models.ChatMessage{
			From:    meshtastic.NodeID(r.FromNode),
			To:      meshtastic.NodeID(r.ToNode),
			Channel: uint32(r.Channel),
			Text:    r.Text,
			Time:    time.UnixMilli(r.SentAt),
			IsSelf:  r.IsSelf,
		})
	}
	return history, nil
}
