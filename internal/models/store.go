// Package models holds the blog's records and the document store contract
// every storage backend implements.
package models

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when saving a user whose email is already taken.
	ErrDuplicate = errors.New("duplicate")
)

type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
	// SaveUser inserts the user or replaces the stored document with the same ID.
	SaveUser(ctx context.Context, u *User) error
}

type PostStore interface {
	FindPostByID(ctx context.Context, id string) (*Post, error)
	// SavePost inserts the post or replaces the stored document with the same ID.
	SavePost(ctx context.Context, p *Post) error
	DeletePost(ctx context.Context, id string) error
	CountPosts(ctx context.Context) (int, error)
	// PaginatePosts returns up to limit posts after skipping skip,
	// newest first by creation time.
	PaginatePosts(ctx context.Context, skip, limit int) ([]*Post, error)
}

// Store is the document store used by the resolvers.
type Store interface {
	UserStore
	PostStore

	// Atomic runs fn against a transactional view of the store. Everything fn
	// writes through tx is committed together, or not at all if fn fails.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
