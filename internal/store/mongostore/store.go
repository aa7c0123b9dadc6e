// Package mongostore implements the document store on MongoDB. Users and
// posts live in the "users" and "posts" collections of one database.
package mongostore

import (
	"context"
	"errors"

	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/you/blogql/internal/models"
)

// Store implements models.Store.
//
// Atomic uses a session transaction when transactions are enabled, which
// needs a replica set or a sharded cluster. Without them fn runs directly
// and a failure part way through is not undone.
type Store struct {
	client       *mongo.Client
	users        *mongo.Collection
	posts        *mongo.Collection
	transactions bool
	inTx         bool
}

var _ models.Store = (*Store)(nil)

// Connect dials uri, verifies the primary answers and ensures the indexes exist.
func Connect(ctx context.Context, uri, database string, transactions bool) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, oops.Code("MONGO_CONNECT_FAILED").Wrap(err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, oops.Code("MONGO_CONNECT_FAILED").Wrap(err)
	}

	db := client.Database(database)
	s := &Store{
		client:       client,
		users:        db.Collection("users"),
		posts:        db.Collection("posts"),
		transactions: transactions,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("users_email_key"),
	})
	if err != nil {
		return oops.Code("MONGO_INDEX_FAILED").With("collection", "users").Wrap(err)
	}
	_, err = s.posts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}},
		Options: options.Index().SetName("posts_created_at_idx"),
	})
	if err != nil {
		return oops.Code("MONGO_INDEX_FAILED").With("collection", "posts").Wrap(err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return oops.Code("MONGO_PING_FAILED").Wrap(err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return oops.Code("MONGO_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx models.Store) error) error {
	if s.inTx || !s.transactions {
		return fn(ctx, s)
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return oops.Code("MONGO_TX_FAILED").With("operation", "start session").Wrap(err)
	}
	defer sess.EndSession(ctx)

	tx := *s
	tx.inTx = true
	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx, &tx)
	})
	return err
}

func (s *Store) findUser(ctx context.Context, filter bson.D) (*models.User, error) {
	var u models.User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := s.findUser(ctx, bson.D{{Key: "email", Value: email}})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(models.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("MONGO_QUERY_FAILED").With("operation", "find user by email").Wrap(err)
	}
	return u, nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	u, err := s.findUser(ctx, bson.D{{Key: "_id", Value: id}})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(models.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("MONGO_QUERY_FAILED").With("operation", "find user by id").Wrap(err)
	}
	return u, nil
}

func (s *Store) SaveUser(ctx context.Context, u *models.User) error {
	doc := *u
	if doc.PostIDs == nil {
		doc.PostIDs = []string{}
	}
	_, err := s.users.ReplaceOne(ctx, bson.D{{Key: "_id", Value: u.ID}}, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return oops.Code("USER_EMAIL_TAKEN").With("email", u.Email).Wrap(models.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("MONGO_QUERY_FAILED").With("operation", "save user").With("user_id", u.ID).Wrap(err)
	}
	return nil
}

func (s *Store) FindPostByID(ctx context.Context, id string) (*models.Post, error) {
	var p models.Post
	err := s.posts.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, oops.Code("POST_NOT_FOUND").With("post_id", id).Wrap(models.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("MONGO_QUERY_FAILED").With("operation", "find post").Wrap(err)
	}
	return &p, nil
}

func (s *Store) SavePost(ctx context.Context, p *models.Post) error {
	_, err := s.posts.ReplaceOne(ctx, bson.D{{Key: "_id", Value: p.ID}}, p, options.Replace().SetUpsert(true))
	if err != nil {
		return oops.Code("MONGO_QUERY_FAILED").With("operation", "save post").With("post_id", p.ID).Wrap(err)
	}
	return nil
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	res, err := s.posts.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return oops.Code("MONGO_QUERY_FAILED").With("operation", "delete post").With("post_id", id).Wrap(err)
	}
	if res.DeletedCount == 0 {
		return oops.Code("POST_NOT_FOUND").With("post_id", id).Wrap(models.ErrNotFound)
	}
	return nil
}

func (s *Store) CountPosts(ctx context.Context) (int, error) {
	n, err := s.posts.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, oops.Code("MONGO_QUERY_FAILED").With("operation", "count posts").Wrap(err)
	}
	return int(n), nil
}

func (s *Store) PaginatePosts(ctx context.Context, skip, limit int) ([]*models.Post, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))

	cur, err := s.posts.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, oops.Code("MONGO_QUERY_FAILED").With("operation", "paginate posts").Wrap(err)
	}
	posts := make([]*models.Post, 0, limit)
	if err := cur.All(ctx, &posts); err != nil {
		return nil, oops.Code("MONGO_QUERY_FAILED").With("operation", "paginate posts").Wrap(err)
	}
	return posts, nil
}
