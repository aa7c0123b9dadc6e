package graph

import (
	"context"
	"errors"

	"github.com/google/uuid"
	graphql "github.com/graph-gophers/graphql-go"

	"github.com/you/blogql/internal/apperr"
	"github.com/you/blogql/internal/models"
)

// msgLoginFailed is shared by unknown-email and wrong-password logins so a
// caller cannot tell which accounts exist.
const msgLoginFailed = "Invalid email or password."

type userResolver struct {
	r    *Resolver
	user *models.User
}

func (u *userResolver) ID() graphql.ID { return graphql.ID(u.user.ID) }
func (u *userResolver) Name() string   { return u.user.Name }
func (u *userResolver) Email() string  { return u.user.Email }
func (u *userResolver) Status() string { return u.user.Status }

// Posts resolves the user's posts in list order, skipping ids that no longer
// resolve to a post.
func (u *userResolver) Posts(ctx context.Context) ([]*postResolver, error) {
	out := make([]*postResolver, 0, len(u.user.PostIDs))
	for _, id := range u.user.PostIDs {
		p, err := u.r.store.FindPostByID(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			u.r.logger.DebugContext(ctx, "skipping dangling post id", "user_id", u.user.ID, "post_id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, &postResolver{r: u.r, post: p, creator: u.user})
	}
	return out, nil
}

type authDataResolver struct {
	token  string
	userID string
}

func (a *authDataResolver) Token() string  { return a.token }
func (a *authDataResolver) UserID() string { return a.userID }

func (r *Resolver) CreateUser(ctx context.Context, args struct{ UserInput *UserInputData }) (*userResolver, error) {
	var in UserInputData
	if args.UserInput != nil {
		in = *args.UserInput
	}
	if err := r.check(ctx, in); err != nil {
		return nil, err
	}

	_, err := r.store.FindUserByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return nil, apperr.Conflict("User exists already!")
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}

	digest, err := r.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := r.timestamp()
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: digest,
		Status:       models.DefaultStatus,
		PostIDs:      []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.store.SaveUser(ctx, user); err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, models.ErrDuplicate) {
			return nil, apperr.Conflict("User exists already!")
		}
		return nil, err
	}

	r.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return &userResolver{r: r, user: user}, nil
}

func (r *Resolver) Login(ctx context.Context, args struct {
	Email    string
	Password string
}) (*authDataResolver, error) {
	user, err := r.store.FindUserByEmail(ctx, args.Email)
	if errors.Is(err, models.ErrNotFound) {
		r.hasher.VerifyMissing(args.Password)
		return nil, apperr.Unauthenticated(msgLoginFailed)
	}
	if err != nil {
		return nil, err
	}
	if !r.hasher.Verify(args.Password, user.PasswordHash) {
		return nil, apperr.Unauthenticated(msgLoginFailed)
	}

	token, err := r.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &authDataResolver{token: token, userID: user.ID}, nil
}

// currentUser loads the authenticated caller.
func (r *Resolver) currentUser(ctx context.Context) (*models.User, error) {
	userID, err := requireAuth(ctx)
	if err != nil {
		return nil, err
	}
	user, err := r.store.FindUserByID(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, apperr.NotFound("No user found!")
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *Resolver) User(ctx context.Context) (*userResolver, error) {
	user, err := r.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return &userResolver{r: r, user: user}, nil
}

func (r *Resolver) UserStatus(ctx context.Context) (string, error) {
	user, err := r.currentUser(ctx)
	if err != nil {
		return "", err
	}
	return user.Status, nil
}

func (r *Resolver) UpdateStatus(ctx context.Context, args struct{ Status string }) (*userResolver, error) {
	user, err := r.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	user.Status = args.Status
	user.UpdatedAt = r.timestamp()
	if err := r.store.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return &userResolver{r: r, user: user}, nil
}
