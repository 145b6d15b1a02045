package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/fathima-sithara/chat-app/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type MongoStore struct {
	client    *mongo.Client
	users     *mongo.Collection
	threads   *mongo.Collection
	messages  *mongo.Collection
	opTimeout time.Duration
}

func NewMongoStore(ctx context.Context, uri, database string, opTimeout time.Duration) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(database)
	s := &MongoStore{
		client:    client,
		users:     db.Collection("users"),
		threads:   db.Collection("threads"),
		messages:  db.Collection("messages"),
		opTimeout: opTimeout,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("users index: %w", err)
	}
	if _, err := s.threads.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_a", Value: 1}, {Key: "user_b", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_b", Value: 1}, {Key: "last_activity_at", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("threads index: %w", err)
	}
	if _, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "is_read", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("messages index: %w", err)
	}
	return nil
}

func (s *MongoStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.opTimeout)
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (s *MongoStore) CreateUser(ctx context.Context, u *models.User) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var u models.User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *MongoStore) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) (*models.User, error) {
	set := bson.M{}
	if patch.Username != nil {
		set["username"] = *patch.Username
	}
	if patch.Avatar != nil {
		set["avatar"] = *patch.Avatar
	}
	if patch.Bio != nil {
		set["bio"] = *patch.Bio
	}
	if len(set) == 0 {
		return s.GetUser(ctx, id)
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var u models.User
	err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&u)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *MongoStore) SearchUsers(ctx context.Context, excludeID, query string, limit int) ([]models.User, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	filter := bson.M{"_id": bson.M{"$ne": excludeID}}
	if query != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"}
		filter["$or"] = []bson.M{{"username": re}, {"email": re}}
	}
	opts := options.Find().SetSort(bson.D{{Key: "username", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	out := []models.User{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) SetLastSeen(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	res, err := s.users.UpdateByID(ctx, id, bson.M{"$set": bson.M{"last_seen": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) InsertThread(ctx context.Context, t *models.Thread) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if _, err := s.threads.InsertOne(ctx, t); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *MongoStore) findThread(ctx context.Context, filter bson.M) (*models.Thread, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var t models.Thread
	if err := s.threads.FindOne(ctx, filter).Decode(&t); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *MongoStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	return s.findThread(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetThreadByPair(ctx context.Context, userA, userB string) (*models.Thread, error) {
	return s.findThread(ctx, bson.M{"user_a": userA, "user_b": userB})
}

func (s *MongoStore) ListThreadsByUser(ctx context.Context, userID string) ([]models.Thread, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	filter := bson.M{"$or": []bson.M{{"user_a": userID}, {"user_b": userID}}}
	opts := options.Find().SetSort(bson.D{{Key: "last_activity_at", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := s.threads.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	out := []models.Thread{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) TouchThread(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	res, err := s.threads.UpdateByID(ctx, id, bson.M{"$max": bson.M{"last_activity_at": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) InsertMessage(ctx context.Context, m *models.Message) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if _, err := s.messages.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *MongoStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var m models.Message
	if err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

var messageOrder = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

func (s *MongoStore) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	cur, err := s.messages.Find(ctx, bson.M{"thread_id": threadID}, options.Find().SetSort(messageOrder))
	if err != nil {
		return nil, err
	}
	out := []models.Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) LastMessage(ctx context.Context, threadID string) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	var m models.Message
	if err := s.messages.FindOne(ctx, bson.M{"thread_id": threadID}, opts).Decode(&m); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *MongoStore) CountUnread(ctx context.Context, threadID, receiverID string) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.messages.CountDocuments(ctx, bson.M{"thread_id": threadID, "receiver_id": receiverID, "is_read": false})
}

func (s *MongoStore) updateMessage(ctx context.Context, filter, update bson.M) (*models.Message, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var m models.Message
	err := s.messages.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&m)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *MongoStore) EditMessage(ctx context.Context, id, text string) (*models.Message, error) {
	return s.updateMessage(ctx,
		bson.M{"_id": id, "deleted": false},
		bson.M{"$set": bson.M{"text": text, "edited": true}})
}

func (s *MongoStore) SoftDeleteMessage(ctx context.Context, id, tombstone string) (*models.Message, error) {
	return s.updateMessage(ctx,
		bson.M{"_id": id, "deleted": false},
		bson.M{
			"$set":   bson.M{"text": tombstone, "deleted": true},
			"$unset": bson.M{"media": "", "media_kind": ""},
		})
}

func (s *MongoStore) MarkRead(ctx context.Context, id string) (*models.Message, error) {
	return s.updateMessage(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"is_read": true}})
}

func (s *MongoStore) MarkThreadRead(ctx context.Context, threadID, receiverID string, before time.Time) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	res, err := s.messages.UpdateMany(ctx,
		bson.M{
			"thread_id":   threadID,
			"receiver_id": receiverID,
			"is_read":     false,
			"created_at":  bson.M{"$lte": before},
		},
		bson.M{"$set": bson.M{"is_read": true}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
