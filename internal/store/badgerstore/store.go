// Package badgerstore implements the document store on an embedded badger
// database. With in-memory mode it doubles as the store used by tests.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/you/blogql/internal/models"
)

const (
	userPrefix     = "user/"
	emailPrefix    = "user-email/"
	postPrefix     = "post/"
	postTimePrefix = "post-by-time/"
)

// conflictRetries bounds how often a write transaction is replayed after
// losing a conflict to a concurrent writer.
const conflictRetries = 5

// Store implements models.Store. A Store returned to an Atomic callback is
// bound to that callback's transaction.
type Store struct {
	db  *badger.DB
	txn *badger.Txn
}

var _ models.Store = (*Store)(nil)

// Open opens (or creates) the database in dir. When inMemory is set dir is ignored.
func Open(dir string, inMemory bool, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	if logger != nil {
		opts = opts.WithLogger(slogAdapter{logger: logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, oops.Code("STORE_OPEN_FAILED").With("dir", dir).With("in_memory", inMemory).Wrap(err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return oops.Code("STORE_CLOSED").Errorf("badger database is closed")
	}
	return nil
}

func (s *Store) Close(_ context.Context) error {
	if err := s.db.Close(); err != nil {
		return oops.Code("STORE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx models.Store) error) error {
	if s.txn != nil {
		return fn(ctx, s)
	}
	return s.runUpdate(ctx, func(txn *badger.Txn) error {
		return fn(ctx, &Store{db: s.db, txn: txn})
	})
}

func (s *Store) view(fn func(txn *badger.Txn) error) error {
	if s.txn != nil {
		return fn(s.txn)
	}
	return s.db.View(fn)
}

func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if s.txn != nil {
		return fn(s.txn)
	}
	return s.runUpdate(ctx, fn)
}

// runUpdate commits fn in a read-write transaction, replaying it when badger
// reports a conflict with a concurrent transaction.
func (s *Store) runUpdate(ctx context.Context, fn func(txn *badger.Txn) error) error {
	backoff := retry.WithMaxRetries(conflictRetries, retry.NewExponential(5*time.Millisecond))
	return retry.Do(ctx, backoff, func(_ context.Context) error {
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.view(func(txn *badger.Txn) error {
		id, err := getString(txn, emailPrefix+email)
		if err != nil {
			return err
		}
		return getJSON(txn, userPrefix+id, &u)
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(err)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").With("email", email).Wrap(err)
	}
	return &u, nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.view(func(txn *badger.Txn) error {
		return getJSON(txn, userPrefix+id, &u)
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id).Wrap(err)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").With("id", id).Wrap(err)
	}
	return &u, nil
}

func (s *Store) SaveUser(ctx context.Context, u *models.User) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		owner, err := getString(txn, emailPrefix+u.Email)
		switch {
		case err == nil && owner != u.ID:
			return models.ErrDuplicate
		case err != nil && !errors.Is(err, models.ErrNotFound):
			return err
		}

		var prev models.User
		err = getJSON(txn, userPrefix+u.ID, &prev)
		switch {
		case err == nil && prev.Email != u.Email:
			if err := txn.Delete([]byte(emailPrefix + prev.Email)); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, models.ErrNotFound):
			return err
		}

		if err := setJSON(txn, userPrefix+u.ID, u); err != nil {
			return err
		}
		return txn.Set([]byte(emailPrefix+u.Email), []byte(u.ID))
	})
	if errors.Is(err, models.ErrDuplicate) {
		return oops.Code("USER_EMAIL_TAKEN").With("email", u.Email).Wrap(err)
	}
	if err != nil {
		return oops.Code("USER_SAVE_FAILED").With("id", u.ID).Wrap(err)
	}
	return nil
}

func (s *Store) FindPostByID(_ context.Context, id string) (*models.Post, error) {
	var p models.Post
	err := s.view(func(txn *badger.Txn) error {
		return getJSON(txn, postPrefix+id, &p)
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil, oops.Code("POST_NOT_FOUND").With("id", id).Wrap(err)
	}
	if err != nil {
		return nil, oops.Code("POST_GET_FAILED").With("id", id).Wrap(err)
	}
	return &p, nil
}

func (s *Store) SavePost(ctx context.Context, p *models.Post) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var prev models.Post
		err := getJSON(txn, postPrefix+p.ID, &prev)
		switch {
		case err == nil && !prev.CreatedAt.Equal(p.CreatedAt):
			if err := txn.Delete(postTimeKey(&prev)); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, models.ErrNotFound):
			return err
		}

		if err := setJSON(txn, postPrefix+p.ID, p); err != nil {
			return err
		}
		return txn.Set(postTimeKey(p), nil)
	})
	if err != nil {
		return oops.Code("POST_SAVE_FAILED").With("id", p.ID).Wrap(err)
	}
	return nil
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var p models.Post
		if err := getJSON(txn, postPrefix+id, &p); err != nil {
			return err
		}
		if err := txn.Delete(postTimeKey(&p)); err != nil {
			return err
		}
		return txn.Delete([]byte(postPrefix + id))
	})
	if errors.Is(err, models.ErrNotFound) {
		return oops.Code("POST_NOT_FOUND").With("id", id).Wrap(err)
	}
	if err != nil {
		return oops.Code("POST_DELETE_FAILED").With("id", id).Wrap(err)
	}
	return nil
}

func (s *Store) CountPosts(_ context.Context) (int, error) {
	count := 0
	err := s.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(postPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, oops.Code("POST_COUNT_FAILED").Wrap(err)
	}
	return count, nil
}

func (s *Store) PaginatePosts(_ context.Context, skip, limit int) ([]*models.Post, error) {
	posts := make([]*models.Post, 0, limit)
	err := s.view(func(txn *badger.Txn) error {
		prefix := []byte(postTimePrefix)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = prefix

		var ids []string
		it := txn.NewIterator(opts)
		defer it.Close()
		seen := 0
		for it.Seek(append(prefix, 0xFF)); it.ValidForPrefix(prefix) && len(ids) < limit; it.Next() {
			if seen < skip {
				seen++
				continue
			}
			key := string(it.Item().Key())
			ids = append(ids, key[strings.LastIndexByte(key, '/')+1:])
		}

		for _, id := range ids {
			var p models.Post
			if err := getJSON(txn, postPrefix+id, &p); err != nil {
				return err
			}
			posts = append(posts, &p)
		}
		return nil
	})
	if err != nil {
		return nil, oops.Code("POST_PAGINATE_FAILED").With("skip", skip).With("limit", limit).Wrap(err)
	}
	return posts, nil
}

// postTimeKey orders posts by creation time; the id breaks ties.
func postTimeKey(p *models.Post) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", postTimePrefix, uint64(p.CreatedAt.UnixNano()), p.ID))
}

func getString(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}
