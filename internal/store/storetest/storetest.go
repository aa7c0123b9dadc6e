// Package storetest holds the behaviour every models.Store backend must share.
// Backends call Run from their own tests with a constructor for a fresh store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/blogql/internal/models"
)

// epoch is truncated to milliseconds, the coarsest precision of any backend.
var epoch = time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC)

// Run exercises open()'s store. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) models.Store) {
	t.Run("users", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("posts", func(t *testing.T) { testPosts(t, open(t)) })
	t.Run("pagination", func(t *testing.T) { testPagination(t, open(t)) })
	t.Run("atomic", func(t *testing.T) { testAtomic(t, open(t)) })
}

// NewUser returns an unsaved user with a fresh id.
func NewUser(email string) *models.User {
	return &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         "Max",
		PasswordHash: "digest",
		Status:       models.DefaultStatus,
		PostIDs:      []string{},
		CreatedAt:    epoch,
		UpdatedAt:    epoch,
	}
}

// NewPost returns an unsaved post created at epoch+offset.
func NewPost(creatorID string, offset time.Duration) *models.Post {
	at := epoch.Add(offset)
	return &models.Post{
		ID:        uuid.NewString(),
		Title:     "A title",
		Content:   "Some content",
		ImageURL:  "images/01H-cat.png",
		CreatorID: creatorID,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func testUsers(t *testing.T, s models.Store) {
	ctx := context.Background()
	u := NewUser("max@example.com")
	require.NoError(t, s.SaveUser(ctx, u))

	t.Run("find by id and email", func(t *testing.T) {
		byID, err := s.FindUserByID(ctx, u.ID)
		require.NoError(t, err)
		assertUser(t, u, byID)

		byEmail, err := s.FindUserByEmail(ctx, "max@example.com")
		require.NoError(t, err)
		assertUser(t, u, byEmail)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := s.FindUserByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, models.ErrNotFound)

		_, err = s.FindUserByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("duplicate email", func(t *testing.T) {
		err := s.SaveUser(ctx, NewUser("max@example.com"))
		assert.ErrorIs(t, err, models.ErrDuplicate)
	})

	t.Run("save replaces", func(t *testing.T) {
		u.Email = "maximilian@example.com"
		u.Status = "busy"
		u.PostIDs = []string{"p1", "p2"}
		u.UpdatedAt = epoch.Add(time.Minute)
		require.NoError(t, s.SaveUser(ctx, u))

		got, err := s.FindUserByEmail(ctx, "maximilian@example.com")
		require.NoError(t, err)
		assertUser(t, u, got)

		_, err = s.FindUserByEmail(ctx, "max@example.com")
		assert.ErrorIs(t, err, models.ErrNotFound)

		// the old address is free again
		require.NoError(t, s.SaveUser(ctx, NewUser("max@example.com")))
	})
}

func testPosts(t *testing.T, s models.Store) {
	ctx := context.Background()
	owner := NewUser("owner@example.com")
	require.NoError(t, s.SaveUser(ctx, owner))

	p := NewPost(owner.ID, 0)
	require.NoError(t, s.SavePost(ctx, p))

	got, err := s.FindPostByID(ctx, p.ID)
	require.NoError(t, err)
	assertPost(t, p, got)

	t.Run("save replaces", func(t *testing.T) {
		p.Title = "Another title"
		p.UpdatedAt = epoch.Add(time.Hour)
		require.NoError(t, s.SavePost(ctx, p))

		got, err := s.FindPostByID(ctx, p.ID)
		require.NoError(t, err)
		assertPost(t, p, got)

		count, err := s.CountPosts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.DeletePost(ctx, p.ID))

		_, err := s.FindPostByID(ctx, p.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)

		count, err := s.CountPosts(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("delete missing", func(t *testing.T) {
		err := s.DeletePost(ctx, uuid.NewString())
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func testPagination(t *testing.T, s models.Store) {
	ctx := context.Background()
	owner := NewUser("pager@example.com")
	require.NoError(t, s.SaveUser(ctx, owner))

	// saved out of order; the newest has the largest offset
	var posts []*models.Post
	for _, minutes := range []int{3, 0, 4, 1, 2} {
		p := NewPost(owner.ID, time.Duration(minutes)*time.Minute)
		p.Title = fmt.Sprintf("post %d", minutes)
		require.NoError(t, s.SavePost(ctx, p))
		posts = append(posts, p)
	}

	titles := func(ps []*models.Post) []string {
		out := make([]string, 0, len(ps))
		for _, p := range ps {
			out = append(out, p.Title)
		}
		return out
	}

	tests := []struct {
		name        string
		skip, limit int
		want        []string
	}{
		{"first page", 0, 3, []string{"post 4", "post 3", "post 2"}},
		{"second page", 3, 3, []string{"post 1", "post 0"}},
		{"past the end", 6, 3, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.PaginatePosts(ctx, tt.skip, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, titles(got))
		})
	}

	count, err := s.CountPosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(posts), count)
}

func testAtomic(t *testing.T, s models.Store) {
	ctx := context.Background()
	owner := NewUser("atomic@example.com")
	require.NoError(t, s.SaveUser(ctx, owner))

	t.Run("commits every write", func(t *testing.T) {
		p := NewPost(owner.ID, 0)
		err := s.Atomic(ctx, func(ctx context.Context, tx models.Store) error {
			if err := tx.SavePost(ctx, p); err != nil {
				return err
			}
			u, err := tx.FindUserByID(ctx, owner.ID)
			if err != nil {
				return err
			}
			u.AddPost(p.ID)
			return tx.SaveUser(ctx, u)
		})
		require.NoError(t, err)

		u, err := s.FindUserByID(ctx, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{p.ID}, u.PostIDs)

		_, err = s.FindPostByID(ctx, p.ID)
		assert.NoError(t, err)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		p := NewPost(owner.ID, time.Minute)
		err := s.Atomic(ctx, func(ctx context.Context, tx models.Store) error {
			if err := tx.SavePost(ctx, p); err != nil {
				return err
			}
			u, err := tx.FindUserByID(ctx, owner.ID)
			if err != nil {
				return err
			}
			u.AddPost(p.ID)
			if err := tx.SaveUser(ctx, u); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = s.FindPostByID(ctx, p.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)

		u, err := s.FindUserByID(ctx, owner.ID)
		require.NoError(t, err)
		assert.NotContains(t, u.PostIDs, p.ID)
	})
}

func assertUser(t *testing.T, want, got *models.User) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Email, got.Email)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.PasswordHash, got.PasswordHash)
	assert.Equal(t, want.Status, got.Status)
	assert.ElementsMatch(t, want.PostIDs, got.PostIDs)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "createdAt %v != %v", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updatedAt %v != %v", want.UpdatedAt, got.UpdatedAt)
}

func assertPost(t *testing.T, want, got *models.Post) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Title, got.Title)
	assert.Equal(t, want.Content, got.Content)
	assert.Equal(t, want.ImageURL, got.ImageURL)
	assert.Equal(t, want.CreatorID, got.CreatorID)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "createdAt %v != %v", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updatedAt %v != %v", want.UpdatedAt, got.UpdatedAt)
}
