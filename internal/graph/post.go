package graph

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	graphql "github.com/graph-gophers/graphql-go"

	"github.com/you/blogql/internal/apperr"
	"github.com/you/blogql/internal/models"
)

// unchangedImage is sent by clients as imageUrl when the image stays as is.
const unchangedImage = "undefined"

type postResolver struct {
	r       *Resolver
	post    *models.Post
	creator *models.User
}

func (p *postResolver) ID() graphql.ID    { return graphql.ID(p.post.ID) }
func (p *postResolver) Title() string     { return p.post.Title }
func (p *postResolver) Content() string   { return p.post.Content }
func (p *postResolver) ImageURL() string  { return p.post.ImageURL }
func (p *postResolver) CreatedAt() string { return p.post.CreatedAt.UTC().Format(TimeLayout) }
func (p *postResolver) UpdatedAt() string { return p.post.UpdatedAt.UTC().Format(TimeLayout) }

func (p *postResolver) Creator(ctx context.Context) (*userResolver, error) {
	if p.creator == nil {
		user, err := p.r.store.FindUserByID(ctx, p.post.CreatorID)
		if errors.Is(err, models.ErrNotFound) {
			return nil, apperr.NotFound("No user found!")
		}
		if err != nil {
			return nil, err
		}
		p.creator = user
	}
	return &userResolver{r: p.r, user: p.creator}, nil
}

type postDataResolver struct {
	posts []*postResolver
	total int
}

func (d *postDataResolver) Posts() []*postResolver { return d.posts }
func (d *postDataResolver) TotalPosts() int32      { return int32(d.total) }

func (r *Resolver) CreatePost(ctx context.Context, args struct{ PostInput *PostInputData }) (*postResolver, error) {
	userID, err := requireAuth(ctx)
	if err != nil {
		return nil, err
	}
	var in PostInputData
	if args.PostInput != nil {
		in = *args.PostInput
	}
	if err := r.check(ctx, in); err != nil {
		return nil, err
	}

	now := r.timestamp()
	post := &models.Post{
		ID:        uuid.NewString(),
		Title:     in.Title,
		Content:   in.Content,
		ImageURL:  in.ImageURL,
		CreatorID: userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var creator *models.User
	err = r.store.Atomic(ctx, func(ctx context.Context, tx models.Store) error {
		user, err := tx.FindUserByID(ctx, userID)
		if errors.Is(err, models.ErrNotFound) {
			return apperr.Unauthenticated("Invalid user.")
		}
		if err != nil {
			return err
		}
		if err := tx.SavePost(ctx, post); err != nil {
			return err
		}
		user.AddPost(post.ID)
		user.UpdatedAt = now
		if err := tx.SaveUser(ctx, user); err != nil {
			return err
		}
		creator = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "post created", "post_id", post.ID, "user_id", userID)
	return &postResolver{r: r, post: post, creator: creator}, nil
}

// Posts lists one page of posts, newest first. Pages below 1 read as page 1.
func (r *Resolver) Posts(ctx context.Context, args struct{ Page *int32 }) (*postDataResolver, error) {
	if _, err := requireAuth(ctx); err != nil {
		return nil, err
	}
	page := 1
	if args.Page != nil && *args.Page > 1 {
		page = int(*args.Page)
	}

	total, err := r.store.CountPosts(ctx)
	if err != nil {
		return nil, err
	}
	posts, err := r.store.PaginatePosts(ctx, (page-1)*PostsPerPage, PostsPerPage)
	if err != nil {
		return nil, err
	}

	// creators are loaded once per page
	creators := make(map[string]*models.User)
	out := make([]*postResolver, 0, len(posts))
	for _, p := range posts {
		creator, ok := creators[p.CreatorID]
		if !ok {
			creator, err = r.store.FindUserByID(ctx, p.CreatorID)
			if err != nil && !errors.Is(err, models.ErrNotFound) {
				return nil, err
			}
			creators[p.CreatorID] = creator
		}
		out = append(out, &postResolver{r: r, post: p, creator: creator})
	}
	return &postDataResolver{posts: out, total: total}, nil
}

// findPost loads id or fails with NotFound.
func (r *Resolver) findPost(ctx context.Context, store models.PostStore, id string) (*models.Post, error) {
	post, err := store.FindPostByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, apperr.NotFound("No post found!")
	}
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (r *Resolver) Post(ctx context.Context, args struct{ ID graphql.ID }) (*postResolver, error) {
	if _, err := requireAuth(ctx); err != nil {
		return nil, err
	}
	post, err := r.findPost(ctx, r.store, string(args.ID))
	if err != nil {
		return nil, err
	}
	return &postResolver{r: r, post: post}, nil
}

func (r *Resolver) UpdatePost(ctx context.Context, args struct {
	ID        graphql.ID
	PostInput *PostInputData
}) (*postResolver, error) {
	userID, err := requireAuth(ctx)
	if err != nil {
		return nil, err
	}
	post, err := r.findPost(ctx, r.store, string(args.ID))
	if err != nil {
		return nil, err
	}
	if post.CreatorID != userID {
		return nil, apperr.Forbidden("Not authorized!")
	}

	var in PostInputData
	if args.PostInput != nil {
		in = *args.PostInput
	}
	if err := r.check(ctx, in); err != nil {
		return nil, err
	}

	post.Title = in.Title
	post.Content = in.Content
	if in.ImageURL != unchangedImage {
		post.ImageURL = in.ImageURL
	}
	post.UpdatedAt = r.timestamp()
	if err := r.store.SavePost(ctx, post); err != nil {
		return nil, err
	}
	return &postResolver{r: r, post: post}, nil
}

// DeletePost answers true once the post and its owner link are gone. Every
// failure, including a missing identity, answers false and is logged.
func (r *Resolver) DeletePost(ctx context.Context, args struct{ ID graphql.ID }) (bool, error) {
	postID := string(args.ID)
	imagePath, err := r.deletePost(ctx, postID)
	if err != nil {
		r.logger.InfoContext(ctx, "post not deleted",
			"post_id", postID,
			"code", apperr.Code(err),
			"error", err)
		return false, nil
	}

	r.removeImage(ctx, imagePath)
	r.logger.InfoContext(ctx, "post deleted", "post_id", postID)
	return true, nil
}

// deletePost removes the post and unlinks it from its owner in one
// transaction and returns the image path the post referenced.
func (r *Resolver) deletePost(ctx context.Context, postID string) (string, error) {
	userID, err := requireAuth(ctx)
	if err != nil {
		return "", err
	}

	var imagePath string
	err = r.store.Atomic(ctx, func(ctx context.Context, tx models.Store) error {
		post, err := r.findPost(ctx, tx, postID)
		if err != nil {
			return err
		}
		if post.CreatorID != userID {
			return apperr.Forbidden("Not authorized!")
		}
		if err := tx.DeletePost(ctx, postID); err != nil {
			return err
		}

		user, err := tx.FindUserByID(ctx, userID)
		if errors.Is(err, models.ErrNotFound) {
			return apperr.NotFound("No user found!")
		}
		if err != nil {
			return err
		}
		user.RemovePost(postID)
		user.UpdatedAt = r.timestamp()
		if err := tx.SaveUser(ctx, user); err != nil {
			return err
		}

		saved, err := tx.FindUserByID(ctx, userID)
		if err != nil {
			return err
		}
		if saved.OwnsPost(postID) {
			return apperr.Inconsistent("post still linked to its owner")
		}

		imagePath = post.ImageURL
		return nil
	})
	return imagePath, err
}

// OwnsImage reports whether imagePath is the image of one of userID's posts.
func (r *Resolver) OwnsImage(ctx context.Context, userID, imagePath string) (bool, error) {
	imagePath = strings.TrimPrefix(imagePath, "/")
	if imagePath == "" {
		return false, nil
	}
	user, err := r.store.FindUserByID(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, postID := range user.PostIDs {
		post, err := r.store.FindPostByID(ctx, postID)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if post.CreatorID == userID && strings.TrimPrefix(post.ImageURL, "/") == imagePath {
			return true, nil
		}
	}
	return false, nil
}
