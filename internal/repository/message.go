package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsvc/internal/logger"
	"github.com/chatsvc/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create persists the message and promotes it to the chat's last message in
// one transaction. The chats row update takes a row lock, so concurrent
// senders serialize and last_message_id reflects commit order.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("message.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("messageRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, content, image, reply_to_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		m.ID, m.ChatID, m.SenderID, m.Content, m.Image, m.ReplyToID, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.Create insert: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE chats SET last_message_id = $1, updated_at = $2 WHERE id = $3`,
		m.ID, m.CreatedAt, m.ChatID,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.Create update chat: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("messageRepo.Create commit: %w", err)
	}
	return nil
}

const messageSelect = `
	SELECT m.id, m.chat_id, m.sender_id, COALESCE(m.content, ''), COALESCE(m.image, ''), m.reply_to_id,
	       m.created_at, m.updated_at,
	       u.id, u.first_name, u.last_name, u.email, u.avatar_url, u.status, u.is_online, u.created_at
	FROM messages m
	JOIN users u ON u.id = m.sender_id`

func scanMessage(s interface{ Scan(dest ...any) error }) (*model.Message, error) {
	m := &model.Message{}
	u := &model.User{}
	err := s.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.Image, &m.ReplyToID,
		&m.CreatedAt, &m.UpdatedAt,
		&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.AvatarURL, &u.Status, &u.IsOnline, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Sender = u
	return m, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.GetByID", time.Now())()
	row := r.pool.QueryRow(ctx, messageSelect+` WHERE m.id = $1`, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("messageRepo.GetByID: %w", err)
	}
	return m, nil
}

// Page returns one window of a chat's history counted from the newest
// message: offset 0 is the latest limit messages. The slice itself is
// ordered oldest first, ready for rendering.
func (r *MessageRepository) Page(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("message.Page", time.Now())()
	rows, err := r.pool.Query(ctx,
		messageSelect+` WHERE m.chat_id = $1 ORDER BY m.created_at DESC LIMIT $2 OFFSET $3`,
		chatID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.Page query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("messageRepo.Page scan: %w", err)
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messageRepo.Page rows: %w", err)
	}
	// Flip newest-first into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *MessageRepository) CountByChat(ctx context.Context, chatID string) (int, error) {
	defer logger.DeferLogDuration("message.CountByChat", time.Now())()
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_id = $1`, chatID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("messageRepo.CountByChat: %w", err)
	}
	return n, nil
}

// ListByChat returns the full history oldest first, with reply previews
// attached where a message replies to another.
func (r *MessageRepository) ListByChat(ctx context.Context, chatID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("message.ListByChat", time.Now())()
	rows, err := r.pool.Query(ctx,
		messageSelect+` WHERE m.chat_id = $1 ORDER BY m.created_at ASC`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ListByChat query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, 64)
	byID := make(map[string]int)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("messageRepo.ListByChat scan: %w", err)
		}
		byID[m.ID] = len(msgs)
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messageRepo.ListByChat rows: %w", err)
	}
	for i := range msgs {
		if msgs[i].ReplyToID == nil {
			continue
		}
		if j, ok := byID[*msgs[i].ReplyToID]; ok {
			target := msgs[j]
			msgs[i].ReplyTo = &target
		}
	}
	return msgs, nil
}

// LastMessage resolves chats.last_message_id, returning ErrNotFound for a
// chat with no messages yet.
func (r *MessageRepository) LastMessage(ctx context.Context, chatID string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.LastMessage", time.Now())()
	row := r.pool.QueryRow(ctx,
		messageSelect+` JOIN chats c ON c.last_message_id = m.id WHERE c.id = $1`, chatID,
	)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("messageRepo.LastMessage: %w", err)
	}
	return m, nil
}
