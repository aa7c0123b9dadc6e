package pgstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/blogql/internal/models"
)

var (
	userCols = []string{"id", "email", "name", "password_hash", "status", "post_ids", "created_at", "updated_at"}
	postCols = []string{"id", "title", "content", "image_url", "creator_id", "created_at", "updated_at"}
	at       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		mock.Close()
	})
	return mock, New(mock)
}

func TestStore_FindUserByEmail(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
	}{
		{
			name: "found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows(userCols).
					AddRow("u1", "max@example.com", "Max", "digest", "I am new!", []string{"p1"}, at, at)
				mock.ExpectQuery(`SELECT .+ FROM users WHERE email = \$1`).
					WithArgs("max@example.com").
					WillReturnRows(rows)
			},
		},
		{
			name: "missing",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT .+ FROM users WHERE email = \$1`).
					WithArgs("max@example.com").
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: models.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, s := newMock(t)
			tt.setupMock(mock)

			u, err := s.FindUserByEmail(context.Background(), "max@example.com")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u1", u.ID)
			assert.Equal(t, []string{"p1"}, u.PostIDs)
			assert.Equal(t, at, u.CreatedAt)
		})
	}
}

func TestStore_FindUserByID_DriverError(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
		WithArgs("u1").
		WillReturnError(errors.New("connection refused"))

	_, err := s.FindUserByID(context.Background(), "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrNotFound)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStore_SaveUser(t *testing.T) {
	u := &models.User{ID: "u1", Email: "max@example.com", Name: "Max", PasswordHash: "digest", Status: "I am new!", CreatedAt: at, UpdatedAt: at}

	t.Run("nil post ids stored as empty array", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectExec(`INSERT INTO users .+ ON CONFLICT \(id\) DO UPDATE`).
			WithArgs("u1", "max@example.com", "Max", "digest", "I am new!", []string{}, at, at).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.SaveUser(context.Background(), u))
	})

	t.Run("taken email", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectExec(`INSERT INTO users`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_email_key"})

		err := s.SaveUser(context.Background(), u)
		assert.ErrorIs(t, err, models.ErrDuplicate)
	})
}

func TestStore_DeletePost(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{"deleted", 1, nil},
		{"missing", 0, models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, s := newMock(t)
			mock.ExpectExec(`DELETE FROM posts WHERE id = \$1`).
				WithArgs("p1").
				WillReturnResult(pgxmock.NewResult("DELETE", tt.affected))

			err := s.DeletePost(context.Background(), "p1")
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestStore_PaginatePosts(t *testing.T) {
	mock, s := newMock(t)
	rows := pgxmock.NewRows(postCols).
		AddRow("p2", "Second", "Content", "images/b.png", "u1", at.Add(time.Minute), at.Add(time.Minute)).
		AddRow("p1", "First", "Content", "images/a.png", "u1", at, at)
	mock.ExpectQuery(`SELECT .+ FROM posts ORDER BY created_at DESC, id DESC OFFSET \$1 LIMIT \$2`).
		WithArgs(3, 3).
		WillReturnRows(rows)

	posts, err := s.PaginatePosts(context.Background(), 3, 3)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "p2", posts[0].ID)
	assert.Equal(t, "p1", posts[1].ID)
}

func TestStore_CountPosts(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM posts`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestStore_Atomic(t *testing.T) {
	post := &models.Post{ID: "p1", Title: "Title", Content: "Content", ImageURL: "images/a.png", CreatorID: "u1", CreatedAt: at, UpdatedAt: at}

	t.Run("commits", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO posts`).
			WithArgs("p1", "Title", "Content", "images/a.png", "u1", at, at).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		err := s.Atomic(context.Background(), func(ctx context.Context, tx models.Store) error {
			return tx.SavePost(ctx, post)
		})
		require.NoError(t, err)
	})

	t.Run("rolls back when the callback fails", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO posts`).
			WithArgs("p1", "Title", "Content", "images/a.png", "u1", at, at).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := s.Atomic(context.Background(), func(ctx context.Context, tx models.Store) error {
			if err := tx.SavePost(ctx, post); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("nested calls share the transaction", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		err := s.Atomic(context.Background(), func(ctx context.Context, tx models.Store) error {
			return tx.Atomic(ctx, func(context.Context, models.Store) error { return nil })
		})
		require.NoError(t, err)
	})
}
