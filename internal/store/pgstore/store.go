// Package pgstore implements the document store on PostgreSQL through pgx.
package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/you/blogql/internal/models"
)

// DB is the subset of pgx shared by *pgxpool.Pool, pgx.Tx and pgxmock.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements models.Store. A Store handed to an Atomic callback runs
// every statement inside that callback's transaction.
type Store struct {
	db   DB
	pool *pgxpool.Pool
	inTx bool
}

var _ models.Store = (*Store)(nil)

// New wraps an existing connection.
func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a connection pool for url and checks it answers.
func Connect(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, oops.Code("POSTGRES_CONNECT_FAILED").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("POSTGRES_CONNECT_FAILED").Wrap(err)
	}
	return &Store{db: pool, pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `SELECT 1`); err != nil {
		return oops.Code("POSTGRES_PING_FAILED").Wrap(err)
	}
	return nil
}

func (s *Store) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx models.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return oops.Code("POSTGRES_TX_FAILED").With("operation", "begin").Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &Store{db: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("POSTGRES_TX_FAILED").With("operation", "commit").Wrap(err)
	}
	return nil
}

const userColumns = `id, email, name, password_hash, status, post_ids, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Status, &u.PostIDs, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(models.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("POSTGRES_QUERY_FAILED").With("operation", "find user by email").Wrap(err)
	}
	return u, nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(models.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("POSTGRES_QUERY_FAILED").With("operation", "find user by id").Wrap(err)
	}
	return u, nil
}

func (s *Store) SaveUser(ctx context.Context, u *models.User) error {
	postIDs := u.PostIDs
	if postIDs == nil {
		postIDs = []string{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   email = EXCLUDED.email,
		   name = EXCLUDED.name,
		   password_hash = EXCLUDED.password_hash,
		   status = EXCLUDED.status,
		   post_ids = EXCLUDED.post_ids,
		   updated_at = EXCLUDED.updated_at`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Status, postIDs, u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("USER_EMAIL_TAKEN").With("email", u.Email).Wrap(models.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("POSTGRES_QUERY_FAILED").With("operation", "save user").With("user_id", u.ID).Wrap(err)
	}
	return nil
}

const postColumns = `id, title, content, image_url, creator_id, created_at, updated_at`

func scanPost(row pgx.Row) (*models.Post, error) {
	var p models.Post
	if err := row.Scan(&p.ID, &p.Title, &p.Content, &p.ImageURL, &p.CreatorID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) FindPostByID(ctx context.Context, id string) (*models.Post, error) {
	p, err := scanPost(s.db.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("POST_NOT_FOUND").With("post_id", id).Wrap(models.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("POSTGRES_QUERY_FAILED").With("operation", "find post").Wrap(err)
	}
	return p, nil
}

func (s *Store) SavePost(ctx context.Context, p *models.Post) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO posts (`+postColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   title = EXCLUDED.title,
		   content = EXCLUDED.content,
		   image_url = EXCLUDED.image_url,
		   updated_at = EXCLUDED.updated_at`,
		p.ID, p.Title, p.Content, p.ImageURL, p.CreatorID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return oops.Code("POSTGRES_QUERY_FAILED").With("operation", "save post").With("post_id", p.ID).Wrap(err)
	}
	return nil
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return oops.Code("POSTGRES_QUERY_FAILED").With("operation", "delete post").With("post_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("POST_NOT_FOUND").With("post_id", id).Wrap(models.ErrNotFound)
	}
	return nil
}

func (s *Store) CountPosts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM posts`).Scan(&n); err != nil {
		return 0, oops.Code("POSTGRES_QUERY_FAILED").With("operation", "count posts").Wrap(err)
	}
	return n, nil
}

func (s *Store) PaginatePosts(ctx context.Context, skip, limit int) ([]*models.Post, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+postColumns+` FROM posts ORDER BY created_at DESC, id DESC OFFSET $1 LIMIT $2`,
		skip, limit)
	if err != nil {
		return nil, oops.Code("POSTGRES_QUERY_FAILED").With("operation", "paginate posts").Wrap(err)
	}
	defer rows.Close()

	posts := make([]*models.Post, 0, limit)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, oops.Code("POSTGRES_SCAN_FAILED").With("operation", "paginate posts").Wrap(err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("POSTGRES_QUERY_FAILED").With("operation", "paginate posts").Wrap(err)
	}
	return posts, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
