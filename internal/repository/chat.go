package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsvc/internal/logger"
	"github.com/chatsvc/internal/model"
)

const chatCols = `id, is_group, COALESCE(group_name, ''), created_by, created_at, updated_at`

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func scanChat(s interface{ Scan(dest ...any) error }, c *model.Chat) error {
	return s.Scan(&c.ID, &c.IsGroup, &c.GroupName, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
}

// GroupNameExists checks group names case-insensitively. The partial unique
// index on lower(group_name) backs this up under concurrency; this check
// exists to reject duplicates before the insert.
func (r *ChatRepository) GroupNameExists(ctx context.Context, name string) (bool, error) {
	defer logger.DeferLogDuration("chat.GroupNameExists", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chats WHERE is_group AND LOWER(group_name) = LOWER($1))`,
		name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chatRepo.GroupNameExists: %w", err)
	}
	return exists, nil
}

// CreateGroup inserts the chat and its initial participants as one
// transaction. A group-name collision surfaces as ErrDuplicate.
func (r *ChatRepository) CreateGroup(ctx context.Context, chat *model.Chat) error {
	defer logger.DeferLogDuration("chat.CreateGroup", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("chatRepo.CreateGroup begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO chats (id, is_group, group_name, created_by, created_at, updated_at)
		 VALUES ($1, TRUE, $2, $3, $4, $4)`,
		chat.ID, chat.GroupName, chat.CreatedBy, chat.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("chatRepo.CreateGroup insert chat: %w", err)
	}
	if err := insertParticipants(ctx, tx, chat.Participants); err != nil {
		return fmt.Errorf("chatRepo.CreateGroup: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chatRepo.CreateGroup commit: %w", err)
	}
	return nil
}

// CreateDirect inserts a direct chat plus both participant rows as one
// transaction. The pair_key unique index turns a concurrent first-contact
// race into ErrDuplicate; the caller fetches the winner via FindDirect.
func (r *ChatRepository) CreateDirect(ctx context.Context, chat *model.Chat, userA, userB string) error {
	defer logger.DeferLogDuration("chat.CreateDirect", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("chatRepo.CreateDirect begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO chats (id, is_group, pair_key, created_by, created_at, updated_at)
		 VALUES ($1, FALSE, $2, $3, $4, $4)`,
		chat.ID, PairKey(userA, userB), chat.CreatedBy, chat.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("chatRepo.CreateDirect insert chat: %w", err)
	}
	if err := insertParticipants(ctx, tx, chat.Participants); err != nil {
		return fmt.Errorf("chatRepo.CreateDirect: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chatRepo.CreateDirect commit: %w", err)
	}
	return nil
}

func insertParticipants(ctx context.Context, tx pgx.Tx, participants []model.Participant) error {
	for _, p := range participants {
		_, err := tx.Exec(ctx,
			`INSERT INTO chat_participants (id, chat_id, user_id, is_admin, joined_at)
			 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (chat_id, user_id) DO NOTHING`,
			p.ID, p.ChatID, p.UserID, p.IsAdmin, p.JoinedAt,
		)
		if err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}
	return nil
}

// FindDirect returns the direct chat for the unordered user pair, or
// ErrNotFound.
func (r *ChatRepository) FindDirect(ctx context.Context, userA, userB string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.FindDirect", time.Now())()
	c := &model.Chat{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+chatCols+` FROM chats WHERE pair_key = $1`, PairKey(userA, userB),
	)
	if err := scanChat(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.FindDirect: %w", err)
	}
	return c, nil
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c := &model.Chat{}
	row := r.pool.QueryRow(ctx, `SELECT `+chatCols+` FROM chats WHERE id = $1`, id)
	if err := scanChat(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	return c, nil
}

// ListForUser returns the chats the user participates in, most recently
// updated first. updated_at is touched on every send, so this orders the
// room list by latest activity.
func (r *ChatRepository) ListForUser(ctx context.Context, userID string) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chat.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.is_group, COALESCE(c.group_name, ''), c.created_by, c.created_at, c.updated_at
		 FROM chats c
		 JOIN chat_participants cp ON cp.chat_id = c.id
		 WHERE cp.user_id = $1
		 ORDER BY c.updated_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	chats := make([]model.Chat, 0, 16)
	for rows.Next() {
		var c model.Chat
		if err := scanChat(rows, &c); err != nil {
			return nil, fmt.Errorf("chatRepo.ListForUser scan: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser rows: %w", err)
	}
	return chats, nil
}

// Participants returns the chat's membership records with users hydrated,
// in join order.
func (r *ChatRepository) Participants(ctx context.Context, chatID string) ([]model.Participant, error) {
	defer logger.DeferLogDuration("chat.Participants", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT cp.id, cp.chat_id, cp.user_id, cp.is_admin, cp.joined_at,
		        u.id, u.first_name, u.last_name, u.email, u.avatar_url, u.status, u.is_online, u.created_at
		 FROM chat_participants cp
		 JOIN users u ON u.id = cp.user_id
		 WHERE cp.chat_id = $1
		 ORDER BY cp.joined_at`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.Participants query: %w", err)
	}
	defer rows.Close()

	participants := make([]model.Participant, 0, 8)
	for rows.Next() {
		var p model.Participant
		u := &model.User{}
		if err := rows.Scan(&p.ID, &p.ChatID, &p.UserID, &p.IsAdmin, &p.JoinedAt,
			&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.AvatarURL, &u.Status, &u.IsOnline, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("chatRepo.Participants scan: %w", err)
		}
		p.User = u
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.Participants rows: %w", err)
	}
	return participants, nil
}

func (r *ChatRepository) ParticipantIDs(ctx context.Context, chatID string) ([]string, error) {
	defer logger.DeferLogDuration("chat.ParticipantIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM chat_participants WHERE chat_id = $1`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ParticipantIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatRepo.ParticipantIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ParticipantIDs rows: %w", err)
	}
	return ids, nil
}

func (r *ChatRepository) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	defer logger.DeferLogDuration("chat.IsParticipant", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chatRepo.IsParticipant: %w", err)
	}
	return exists, nil
}

// RoomIDsForUser returns the ids of every chat the user participates in,
// used to join broadcast rooms on connect.
func (r *ChatRepository) RoomIDsForUser(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("chat.RoomIDsForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT chat_id FROM chat_participants WHERE user_id = $1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.RoomIDsForUser query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatRepo.RoomIDsForUser scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.RoomIDsForUser rows: %w", err)
	}
	return ids, nil
}

// AddParticipants inserts the given users as non-admin participants,
// skipping ids already present, and reports which ids were actually added.
// Safe to retry: the (chat_id, user_id) constraint keeps it idempotent.
func (r *ChatRepository) AddParticipants(ctx context.Context, chatID string, userIDs []string) ([]string, error) {
	defer logger.DeferLogDuration("chat.AddParticipants", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.AddParticipants begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	added := make([]string, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, uid := range userIDs {
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		tag, err := tx.Exec(ctx,
			`INSERT INTO chat_participants (id, chat_id, user_id, is_admin, joined_at)
			 VALUES ($1, $2, $3, FALSE, $4) ON CONFLICT (chat_id, user_id) DO NOTHING`,
			uuid.New().String(), chatID, uid, now,
		)
		if err != nil {
			return nil, fmt.Errorf("chatRepo.AddParticipants insert: %w", err)
		}
		if tag.RowsAffected() > 0 {
			added = append(added, uid)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("chatRepo.AddParticipants commit: %w", err)
	}
	return added, nil
}
