// Package graph holds the GraphQL schema and the resolvers behind it. Every
// protected field checks the identity placed on the context by the HTTP
// layer before touching the store.
package graph

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/you/blogql/internal/apperr"
	"github.com/you/blogql/internal/auth"
	"github.com/you/blogql/internal/models"
	"github.com/you/blogql/internal/storage"
)

// PostsPerPage is the page size of the posts query.
const PostsPerPage = 3

// TimeLayout formats createdAt and updatedAt.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Resolver is the root resolver for both queries and mutations.
type Resolver struct {
	store    models.Store
	images   storage.Images
	hasher   *auth.Hasher
	tokens   *auth.Tokens
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time

	// cleanup tracks image removals still running after their request.
	cleanup sync.WaitGroup
}

type Option func(*Resolver)

// WithClock replaces time.Now as the source of post and user timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func NewResolver(store models.Store, images storage.Images, hasher *auth.Hasher, tokens *auth.Tokens, logger *slog.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		store:    store,
		images:   images,
		hasher:   hasher,
		tokens:   tokens,
		logger:   logger,
		validate: newValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Wait blocks until background image removals have finished.
func (r *Resolver) Wait() {
	r.cleanup.Wait()
}

// requireAuth returns the caller's user id or an Unauthenticated error.
func requireAuth(ctx context.Context) (string, error) {
	id := auth.IdentityFrom(ctx)
	if !id.Authenticated {
		return "", apperr.Unauthenticated("Not authenticated!")
	}
	return id.UserID, nil
}

func (r *Resolver) timestamp() time.Time {
	return r.now().UTC()
}

// removeImage deletes imagePath in the background. Failures are logged only.
func (r *Resolver) removeImage(ctx context.Context, imagePath string) {
	if imagePath == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	r.cleanup.Add(1)
	go func() {
		defer r.cleanup.Done()
		if err := r.images.Remove(ctx, imagePath); err != nil {
			r.logger.WarnContext(ctx, "failed to remove image", "path", imagePath, "error", err)
		}
	}()
}
