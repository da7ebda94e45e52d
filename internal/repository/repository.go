// Package repository implements Postgres persistence for chats,
// participants, messages, users, and push subscriptions. One struct per
// entity over a shared pgx pool; callers see ErrNotFound/ErrDuplicate
// sentinels, everything else is wrapped.
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// isUniqueViolation reports a Postgres 23505 error, used to turn constraint
// collisions (group name, direct-chat pair) into ErrDuplicate.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PairKey builds the canonical key for the unordered pair of user ids
// behind a direct chat. The unique index on chats.pair_key makes concurrent
// first-contact creations collide instead of duplicating the chat.
func PairKey(userA, userB string) string {
	if userA < userB {
		return userA + ":" + userB
	}
	return userB + ":" + userA
}
