package graph_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	graphql "github.com/graph-gophers/graphql-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"github.com/you/blogql/internal/apperr"
	"github.com/you/blogql/internal/auth"
	"github.com/you/blogql/internal/graph"
	"github.com/you/blogql/internal/models"
	"github.com/you/blogql/internal/storage"
	"github.com/you/blogql/internal/store/badgerstore"
)

var start = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// stepClock advances by one minute every time it is read.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(time.Minute)
	return t
}

// faultyStore fails SaveUser with saveErr once armed, or reports success
// without writing while dropSaves is set, inside and outside transactions.
// It counts every SaveUser call.
type faultyStore struct {
	models.Store
	saveErr   *error
	dropSaves *bool
	saves     *int
}

func (f *faultyStore) SaveUser(ctx context.Context, u *models.User) error {
	*f.saves++
	if *f.saveErr != nil {
		return *f.saveErr
	}
	if *f.dropSaves {
		return nil
	}
	return f.Store.SaveUser(ctx, u)
}

func (f *faultyStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx models.Store) error) error {
	return f.Store.Atomic(ctx, func(ctx context.Context, tx models.Store) error {
		return fn(ctx, &faultyStore{Store: tx, saveErr: f.saveErr, dropSaves: f.dropSaves, saves: f.saves})
	})
}

type env struct {
	store     *faultyStore
	images    *storage.Disk
	tokens    *auth.Tokens
	resolver  *graph.Resolver
	schema    *graphql.Schema
	saveErr   error
	dropSaves bool
	saves     int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := badgerstore.Open("", true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })

	images, err := storage.NewDisk(t.TempDir())
	require.NoError(t, err)
	tokens, err := auth.NewTokens("test-secret", "blogql")
	require.NoError(t, err)

	e := &env{images: images, tokens: tokens}
	e.store = &faultyStore{Store: db, saveErr: &e.saveErr, dropSaves: &e.dropSaves, saves: &e.saves}

	clock := &stepClock{now: start}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.resolver = graph.NewResolver(e.store, images, auth.NewHasherWithCost(bcrypt.MinCost), tokens, logger,
		graph.WithClock(clock.Now))
	e.schema, err = graph.NewSchema(e.resolver)
	require.NoError(t, err)
	return e
}

type result struct {
	data map[string]any
	errs []*queryError
}

type queryError struct {
	message  string
	resolver error
}

func (e *env) exec(t *testing.T, ctx context.Context, query string, vars map[string]any) result {
	t.Helper()
	resp := e.schema.Exec(ctx, query, "", vars)
	var res result
	if len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, &res.data))
	}
	for _, qe := range resp.Errors {
		res.errs = append(res.errs, &queryError{message: qe.Message, resolver: qe.ResolverError})
	}
	return res
}

// single returns the only error of res.
func single(t *testing.T, res result) *queryError {
	t.Helper()
	require.Len(t, res.errs, 1)
	return res.errs[0]
}

func as(userID string) context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{Authenticated: true, UserID: userID})
}

const createUserMutation = `mutation($email: String!, $password: String!) {
	createUser(userInput: {email: $email, name: "Max", password: $password}) { _id email name status }
}`

func (e *env) register(t *testing.T, email string) string {
	t.Helper()
	res := e.exec(t, context.Background(), createUserMutation, map[string]any{"email": email, "password": "secret"})
	require.Empty(t, res.errs)
	return res.data["createUser"].(map[string]any)["_id"].(string)
}

const createPostMutation = `mutation($title: String!, $content: String!, $imageUrl: String!) {
	createPost(postInput: {title: $title, content: $content, imageUrl: $imageUrl}) {
		_id title imageUrl createdAt creator { _id name }
	}
}`

func (e *env) createPost(t *testing.T, userID, title, imageURL string) string {
	t.Helper()
	res := e.exec(t, as(userID), createPostMutation, map[string]any{
		"title": title, "content": "Some content", "imageUrl": imageURL,
	})
	require.Empty(t, res.errs)
	return res.data["createPost"].(map[string]any)["_id"].(string)
}

func TestRegisterThenLogin(t *testing.T) {
	e := newEnv(t)

	res := e.exec(t, context.Background(), createUserMutation, map[string]any{"email": "max@example.com", "password": "secret"})
	require.Empty(t, res.errs)
	user := res.data["createUser"].(map[string]any)
	assert.Equal(t, "max@example.com", user["email"])
	assert.Equal(t, models.DefaultStatus, user["status"])

	res = e.exec(t, context.Background(), `query { login(email: "max@example.com", password: "secret") { token userId } }`, nil)
	require.Empty(t, res.errs)
	login := res.data["login"].(map[string]any)
	assert.Equal(t, user["_id"], login["userId"])

	claims, err := e.tokens.Verify(login["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, user["_id"], claims.UserID)
	assert.Equal(t, "max@example.com", claims.Email)
}

func TestRegister_PasswordIsNotExposed(t *testing.T) {
	e := newEnv(t)
	res := e.exec(t, context.Background(), `mutation {
		createUser(userInput: {email: "max@example.com", name: "Max", password: "secret"}) { password }
	}`, nil)

	qe := single(t, res)
	assert.Nil(t, qe.resolver, "rejected before any resolver ran")
	assert.Zero(t, e.saves)
}

func TestRegister_CollectsViolations(t *testing.T) {
	e := newEnv(t)
	res := e.exec(t, context.Background(), createUserMutation, map[string]any{"email": "not-an-email", "password": "abc"})

	qe := single(t, res)
	assert.Equal(t, "Invalid input.", qe.message)
	assert.Equal(t, 422, apperr.Status(qe.resolver))
	assert.Equal(t, []apperr.Violation{
		{Message: "E-Mail is invalid.", Field: "email"},
		{Message: "Password too short!", Field: "password"},
	}, apperr.Data(qe.resolver))
	assert.Zero(t, e.saves)
}

func TestRegister_PasswordByteLimit(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"at the limit", strings.Repeat("a", auth.MaxPasswordBytes), false},
		{"over the limit", strings.Repeat("a", 80), true},
		{"multibyte runes over the limit", strings.Repeat("é", 40), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			res := e.exec(t, context.Background(), createUserMutation, map[string]any{
				"email": "max@example.com", "password": tt.password,
			})

			if !tt.wantErr {
				require.Empty(t, res.errs)
				login := e.exec(t, context.Background(), `query($e: String!, $p: String!) { login(email: $e, password: $p) { token } }`,
					map[string]any{"e": "max@example.com", "p": tt.password})
				assert.Empty(t, login.errs)
				return
			}
			qe := single(t, res)
			assert.Equal(t, 422, apperr.Status(qe.resolver))
			assert.Equal(t, []apperr.Violation{
				{Message: "Password too long!", Field: "password"},
			}, apperr.Data(qe.resolver))
			assert.Zero(t, e.saves)
		})
	}
}

func TestRegister_MissingInput(t *testing.T) {
	e := newEnv(t)
	res := e.exec(t, context.Background(), `mutation { createUser { _id } }`, nil)

	qe := single(t, res)
	assert.Equal(t, apperr.CodeValidation, apperr.Code(qe.resolver))
}

func TestRegister_DuplicateEmail(t *testing.T) {
	e := newEnv(t)
	e.register(t, "max@example.com")
	saves := e.saves

	res := e.exec(t, context.Background(), createUserMutation, map[string]any{"email": "max@example.com", "password": "another"})

	qe := single(t, res)
	assert.Equal(t, "User exists already!", qe.message)
	assert.Equal(t, apperr.CodeConflict, apperr.Code(qe.resolver))
	assert.Equal(t, 500, apperr.Status(qe.resolver))
	assert.Equal(t, saves, e.saves, "no store mutation")
}

func TestLogin_Rejected(t *testing.T) {
	e := newEnv(t)
	e.register(t, "max@example.com")

	tests := []struct {
		name, email, password string
	}{
		{"wrong password", "max@example.com", "wrong-password"},
		{"unknown email", "nobody@example.com", "secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.exec(t, context.Background(), `query($e: String!, $p: String!) { login(email: $e, password: $p) { token } }`,
				map[string]any{"e": tt.email, "p": tt.password})

			qe := single(t, res)
			assert.Equal(t, "Invalid email or password.", qe.message)
			assert.Equal(t, 401, apperr.Status(qe.resolver))
		})
	}
}

func TestProtectedFields_RequireAuthentication(t *testing.T) {
	e := newEnv(t)
	ownerID := e.register(t, "owner@example.com")
	postID := e.createPost(t, ownerID, "A title", "images/a.png")

	tests := []struct {
		name  string
		query string
	}{
		{"posts", `query { posts { totalPosts } }`},
		{"post", `query { post(id: "` + postID + `") { _id } }`},
		{"user", `query { user { _id } }`},
		{"userStatus", `query { userStatus }`},
		{"createPost", `mutation { createPost(postInput: {title: "A title", content: "Content", imageUrl: "x"}) { _id } }`},
		// authentication is checked before existence and ownership
		{"updatePost", `mutation { updatePost(id: "missing", postInput: {title: "A title", content: "Content", imageUrl: "x"}) { _id } }`},
		{"updateStatus", `mutation { updateStatus(status: "busy") { _id } }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saves := e.saves
			res := e.exec(t, context.Background(), tt.query, nil)

			qe := single(t, res)
			assert.Equal(t, "Not authenticated!", qe.message)
			assert.Equal(t, 401, apperr.Status(qe.resolver))
			assert.Equal(t, saves, e.saves)
		})
	}
}

func TestCreatePost(t *testing.T) {
	e := newEnv(t)
	userID := e.register(t, "max@example.com")

	res := e.exec(t, as(userID), createPostMutation, map[string]any{
		"title": "A title", "content": "Some content", "imageUrl": "images/cat.png",
	})
	require.Empty(t, res.errs)

	post := res.data["createPost"].(map[string]any)
	assert.Equal(t, "A title", post["title"])
	assert.Equal(t, "images/cat.png", post["imageUrl"])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, post["createdAt"])
	assert.Equal(t, map[string]any{"_id": userID, "name": "Max"}, post["creator"])

	user, err := e.store.FindUserByID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, []string{post["_id"].(string)}, user.PostIDs)
}

func TestCreatePost_CollectsViolations(t *testing.T) {
	e := newEnv(t)
	userID := e.register(t, "max@example.com")

	res := e.exec(t, as(userID), createPostMutation, map[string]any{"title": "abc", "content": "", "imageUrl": "x"})

	qe := single(t, res)
	assert.Equal(t, 422, apperr.Status(qe.resolver))
	assert.Equal(t, []apperr.Violation{
		{Message: "Title is invalid.", Field: "title"},
		{Message: "Content is invalid.", Field: "content"},
	}, apperr.Data(qe.resolver))

	n, err := e.store.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreatePost_UnknownUser(t *testing.T) {
	e := newEnv(t)

	res := e.exec(t, as(uuid.NewString()), createPostMutation, map[string]any{
		"title": "A title", "content": "Some content", "imageUrl": "x",
	})

	qe := single(t, res)
	assert.Equal(t, "Invalid user.", qe.message)
	assert.Equal(t, 401, apperr.Status(qe.resolver))

	n, err := e.store.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "post write rolled back")
}

func TestCreatePost_OwnerUpdateFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	userID := e.register(t, "max@example.com")
	e.saveErr = errors.New("disk full")

	res := e.exec(t, as(userID), createPostMutation, map[string]any{
		"title": "A title", "content": "Some content", "imageUrl": "x",
	})

	qe := single(t, res)
	assert.ErrorIs(t, qe.resolver, e.saveErr)
	n, err := e.store.CountPosts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPosts_Pagination(t *testing.T) {
	e := newEnv(t)
	userID := e.register(t, "max@example.com")
	for _, title := range []string{"post one", "post two", "post three", "post four", "post five"} {
		e.createPost(t, userID, title, "x")
	}

	query := `query($page: Int) { posts(page: $page) { totalPosts posts { title creator { _id } } } }`
	titles := func(data map[string]any) []string {
		var out []string
		for _, p := range data["posts"].(map[string]any)["posts"].([]any) {
			post := p.(map[string]any)
			assert.Equal(t, userID, post["creator"].(map[string]any)["_id"])
			out = append(out, post["title"].(string))
		}
		return out
	}

	tests := []struct {
		name string
		page any
		want []string
	}{
		{"unset", nil, []string{"post five", "post four", "post three"}},
		{"first", 1, []string{"post five", "post four", "post three"}},
		{"second", 2, []string{"post two", "post one"}},
		{"zero", 0, []string{"post five", "post four", "post three"}},
		{"negative", -4, []string{"post five", "post four", "post three"}},
		{"beyond", 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.exec(t, as(userID), query, map[string]any{"page": tt.page})
			require.Empty(t, res.errs)
			assert.Equal(t, tt.want, titles(res.data))
			assert.EqualValues(t, 5, res.data["posts"].(map[string]any)["totalPosts"])
		})
	}
}

func TestPost(t *testing.T) {
	e := newEnv(t)
	userID := e.register(t, "max@example.com")
	postID := e.createPost(t, userID, "A title", "x")

	res := e.exec(t, as(userID), `query($id: ID!) { post(id: $id) { title creator { email } } }`, map[string]any{"id": postID})
	require.Empty(t, res.errs)
	assert.Equal(t, map[string]any{
		"title":   "A title",
		"creator": map[string]any{"email": "max@example.com"},
	}, res.data["post"])

	res = e.exec(t, as(userID), `query { post(id: "missing") { title } }`, nil)
	qe := single(t, res)
	assert.Equal(t, "No post found!", qe.message)
	assert.Equal(t, 404, apperr.Status(qe.resolver))
}

const updatePostMutation = `mutation($id: ID!, $title: String!, $imageUrl: String!) {
	updatePost(id: $id, postInput: {title: $title, content: "Changed content", imageUrl: $imageUrl}) {
		title content imageUrl updatedAt
	}
}`

func TestUpdatePost(t *testing.T) {
	e := newEnv(t)
	ownerID := e.register(t, "owner@example.com")
	otherID := e.register(t, "other@example.com")
	postID := e.createPost(t, ownerID, "A title", "images/old.png")

	t.Run("keeps the image when unchanged", func(t *testing.T) {
		res := e.exec(t, as(ownerID), updatePostMutation, map[string]any{"id": postID, "title": "New title", "imageUrl": "undefined"})
		require.Empty(t, res.errs)
		post := res.data["updatePost"].(map[string]any)
		assert.Equal(t, "New title", post["title"])
		assert.Equal(t, "Changed content", post["content"])
		assert.Equal(t, "images/old.png", post["imageUrl"])
	})

	t.Run("replaces the image", func(t *testing.T) {
		res := e.exec(t, as(ownerID), updatePostMutation, map[string]any{"id": postID, "title": "New title", "imageUrl": "images/new.png"})
		require.Empty(t, res.errs)
		assert.Equal(t, "images/new.png", res.data["updatePost"].(map[string]any)["imageUrl"])
	})

	t.Run("rejects a non-owner", func(t *testing.T) {
		res := e.exec(t, as(otherID), updatePostMutation, map[string]any{"id": postID, "title": "Hijacked", "imageUrl": "x"})
		qe := single(t, res)
		assert.Equal(t, "Not authorized!", qe.message)
		assert.Equal(t, 403, apperr.Status(qe.resolver))

		post, err := e.store.FindPostByID(context.Background(), postID)
		require.NoError(t, err)
		assert.Equal(t, "New title", post.Title)
	})

	t.Run("missing post", func(t *testing.T) {
		res := e.exec(t, as(ownerID), updatePostMutation, map[string]any{"id": "missing", "title": "New title", "imageUrl": "x"})
		assert.Equal(t, 404, apperr.Status(single(t, res).resolver))
	})

	t.Run("ownership is checked before input", func(t *testing.T) {
		res := e.exec(t, as(otherID), updatePostMutation, map[string]any{"id": postID, "title": "x", "imageUrl": "x"})
		assert.Equal(t, 403, apperr.Status(single(t, res).resolver))
	})

	t.Run("invalid input", func(t *testing.T) {
		res := e.exec(t, as(ownerID), updatePostMutation, map[string]any{"id": postID, "title": "x", "imageUrl": "x"})
		qe := single(t, res)
		assert.Equal(t, 422, apperr.Status(qe.resolver))
		assert.Len(t, apperr.Data(qe.resolver), 1)
	})
}

const deletePostMutation = `mutation($id: ID!) { deletePost(id: $id) }`

func TestDeletePost(t *testing.T) {
	e := newEnv(t)
	ownerID := e.register(t, "owner@example.com")
	otherID := e.register(t, "other@example.com")

	imagePath, err := e.images.Put(context.Background(), "cat.png", bytes.NewReader([]byte("png")), 3, "image/png")
	require.NoError(t, err)
	postID := e.createPost(t, ownerID, "A title", imagePath)

	deleted := func(ctx context.Context, id string) bool {
		res := e.exec(t, ctx, deletePostMutation, map[string]any{"id": id})
		require.Empty(t, res.errs, "deletePost never raises")
		return res.data["deletePost"].(bool)
	}

	assert.False(t, deleted(context.Background(), postID), "unauthenticated")
	assert.False(t, deleted(as(otherID), postID), "non-owner")
	assert.False(t, deleted(as(ownerID), "missing"), "missing post")

	_, err = e.store.FindPostByID(context.Background(), postID)
	require.NoError(t, err, "failed attempts leave the post in place")

	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	assert.True(t, deleted(as(ownerID), postID))
	e.resolver.Wait()

	_, err = e.store.FindPostByID(context.Background(), postID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	owner, err := e.store.FindUserByID(context.Background(), ownerID)
	require.NoError(t, err)
	assert.NotContains(t, owner.PostIDs, postID)

	_, _, err = e.images.Open(context.Background(), imagePath)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeletePost_PartialFailureIsRolledBack(t *testing.T) {
	e := newEnv(t)
	ownerID := e.register(t, "owner@example.com")
	postID := e.createPost(t, ownerID, "A title", "x")
	e.saveErr = errors.New("disk full")

	res := e.exec(t, as(ownerID), deletePostMutation, map[string]any{"id": postID})
	require.Empty(t, res.errs)
	assert.Equal(t, false, res.data["deletePost"])

	e.saveErr = nil
	_, err := e.store.FindPostByID(context.Background(), postID)
	require.NoError(t, err, "post removal rolled back")

	owner, err := e.store.FindUserByID(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Contains(t, owner.PostIDs, postID)
}

func TestDeletePost_OwnerStillLinkedIsRolledBack(t *testing.T) {
	e := newEnv(t)
	ownerID := e.register(t, "owner@example.com")
	postID := e.createPost(t, ownerID, "A title", "x")
	e.dropSaves = true

	res := e.exec(t, as(ownerID), deletePostMutation, map[string]any{"id": postID})
	require.Empty(t, res.errs)
	assert.Equal(t, false, res.data["deletePost"])

	e.dropSaves = false
	_, err := e.store.FindPostByID(context.Background(), postID)
	require.NoError(t, err, "post removal rolled back")

	owner, err := e.store.FindUserByID(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Contains(t, owner.PostIDs, postID)
}

func TestUserStatus(t *testing.T) {
	e := newEnv(t)
	userID := e.register(t, "max@example.com")

	res := e.exec(t, as(userID), `query { userStatus }`, nil)
	require.Empty(t, res.errs)
	assert.Equal(t, models.DefaultStatus, res.data["userStatus"])

	res = e.exec(t, as(userID), `mutation { updateStatus(status: "Writing.") { status } }`, nil)
	require.Empty(t, res.errs)
	assert.Equal(t, "Writing.", res.data["updateStatus"].(map[string]any)["status"])

	res = e.exec(t, as(userID), `query { userStatus }`, nil)
	require.Empty(t, res.errs)
	assert.Equal(t, "Writing.", res.data["userStatus"])

	ghost := as(uuid.NewString())
	for _, q := range []string{`query { userStatus }`, `mutation { updateStatus(status: "x") { status } }`, `query { user { _id } }`} {
		qe := single(t, e.exec(t, ghost, q, nil))
		assert.Equal(t, "No user found!", qe.message)
		assert.Equal(t, 404, apperr.Status(qe.resolver))
	}
}

func TestUser_SkipsDanglingPosts(t *testing.T) {
	e := newEnv(t)
	userID := e.register(t, "max@example.com")
	e.createPost(t, userID, "First post", "x")

	ctx := context.Background()
	user, err := e.store.FindUserByID(ctx, userID)
	require.NoError(t, err)
	user.AddPost("gone")
	require.NoError(t, e.store.SaveUser(ctx, user))

	res := e.exec(t, as(userID), `query { user { email posts { title } } }`, nil)
	require.Empty(t, res.errs)
	assert.Equal(t, map[string]any{
		"email": "max@example.com",
		"posts": []any{map[string]any{"title": "First post"}},
	}, res.data["user"])
}
