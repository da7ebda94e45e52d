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

const userCols = `id, first_name, last_name, email, avatar_url, status, is_online, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser scans a row into model.User (column order matches userCols).
func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.AvatarURL, &u.Status, &u.IsOnline, &u.CreatedAt)
}

// Upsert mirrors a user record owned by the identity provider. Identity
// fields win over whatever was mirrored before; is_online is ours and is
// left untouched, created_at comes from the column default on first insert.
func (r *UserRepository) Upsert(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Upsert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, first_name, last_name, email, avatar_url, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   first_name = EXCLUDED.first_name,
		   last_name = EXCLUDED.last_name,
		   email = EXCLUDED.email,
		   avatar_url = EXCLUDED.avatar_url,
		   status = EXCLUDED.status`,
		u.ID, u.FirstName, u.LastName, u.Email, u.AvatarURL, u.Status,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Upsert: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// ListDiscoverable returns onboarded users other than the requester,
// for the room creation picker.
func (r *UserRepository) ListDiscoverable(ctx context.Context, excludeUserID string) ([]model.User, error) {
	defer logger.DeferLogDuration("user.ListDiscoverable", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users
		 WHERE status = $1 AND id != $2
		 ORDER BY first_name, last_name`,
		model.UserStatusVerified, excludeUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.ListDiscoverable query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, 16)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.ListDiscoverable scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.ListDiscoverable rows: %w", err)
	}
	return users, nil
}

// SetOnline mirrors the presence flag into the users table so that list
// responses carry it without a presence-store round trip.
func (r *UserRepository) SetOnline(ctx context.Context, userID string, online bool) error {
	defer logger.DeferLogDuration("user.SetOnline", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $1 WHERE id = $2`,
		online, userID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetOnline: %w", err)
	}
	return nil
}
