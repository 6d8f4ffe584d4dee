// Package mongostore is the MongoDB implementation of store.Store. Collection
// and field names follow the documents the dashboard has always stored:
// references to users and accounts are ObjectIds, not hex strings.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"twilioreport/internal/core"
	applog "twilioreport/internal/log"
	"twilioreport/internal/store"
)

const (
	usersCollection    = "users"
	accountsCollection = "twilioaccounts"
	jobsCollection     = "exportjobs"
)

type Store struct {
	client   *mongo.Client
	users    *mongo.Collection
	accounts *mongo.Collection
	jobs     *mongo.Collection
	now      func() time.Time
	logger   *applog.Logger
}

var _ store.Store = (*Store)(nil)

type userDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	FirstName string             `bson:"firstName"`
	LastName  string             `bson:"lastName"`
	Email     string             `bson:"email"`
	Password  string             `bson:"password"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

type accountDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	User      primitive.ObjectID `bson:"user"`
	Name      string             `bson:"name"`
	SID       string             `bson:"sid"`
	AuthToken string             `bson:"authToken"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

type jobDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	User      primitive.ObjectID `bson:"user"`
	Account   primitive.ObjectID `bson:"account"`
	Days      int                `bson:"days"`
	Status    string             `bson:"status"`
	SheetRef  string             `bson:"sheetRef,omitempty"`
	Error     string             `bson:"error,omitempty"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

// Connect dials uri, verifies the primary is reachable and ensures the
// unique indexes exist.
func Connect(ctx context.Context, uri, database string, logger *applog.Logger) (*Store, error) {
	if logger == nil {
		logger = applog.Default(applog.ComponentStorage)
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetAppName("twilioreport"))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:   client,
		users:    db.Collection(usersCollection),
		accounts: db.Collection(accountsCollection),
		jobs:     db.Collection(jobsCollection),
		now:      time.Now,
		logger:   logger.WithComponent(applog.ComponentStorage),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	s.logger.InfoContext(ctx, "MongoDB store ready", "database", database)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create users email index: %w", err)
	}

	_, err = s.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user", Value: 1}, {Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create accounts name index: %w", err)
	}

	_, err = s.jobs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create export jobs status index: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Drop removes every collection. Used by integration tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.users.Database().Drop(ctx)
}

func (s *Store) stamp() time.Time {
	// BSON dates keep millisecond precision.
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Store) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	now := s.stamp()
	doc := userDoc{
		ID:        primitive.NewObjectID(),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Password:  u.PasswordHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		return core.User{}, fmt.Errorf("create user: %w", mapErr(err))
	}
	return doc.toCore(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&doc); err != nil {
		return core.User{}, fmt.Errorf("get user by email: %w", mapErr(err))
	}
	return doc.toCore(), nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (core.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return core.User{}, fmt.Errorf("get user %s: %w", id, store.ErrNotFound)
	}
	var doc userDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return core.User{}, fmt.Errorf("get user %s: %w", id, mapErr(err))
	}
	return doc.toCore(), nil
}

func (s *Store) CreateAccount(ctx context.Context, a core.ProviderAccount) (core.ProviderAccount, error) {
	user, err := primitive.ObjectIDFromHex(a.UserID)
	if err != nil {
		return core.ProviderAccount{}, fmt.Errorf("create account %q: user %s: %w", a.Name, a.UserID, store.ErrNotFound)
	}
	now := s.stamp()
	doc := accountDoc{
		ID:        primitive.NewObjectID(),
		User:      user,
		Name:      a.Name,
		SID:       a.SID,
		AuthToken: a.AuthToken,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.accounts.InsertOne(ctx, doc); err != nil {
		return core.ProviderAccount{}, fmt.Errorf("create account %q: %w", a.Name, mapErr(err))
	}
	return doc.toCore(), nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (core.ProviderAccount, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return core.ProviderAccount{}, fmt.Errorf("get account %s: %w", id, store.ErrNotFound)
	}
	var doc accountDoc
	if err := s.accounts.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return core.ProviderAccount{}, fmt.Errorf("get account %s: %w", id, mapErr(err))
	}
	return doc.toCore(), nil
}

func (s *Store) ListAccountsByUser(ctx context.Context, userID string) ([]core.ProviderAccount, error) {
	user, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return []core.ProviderAccount{}, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.accounts.Find(ctx, bson.M{"user": user}, opts)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	var docs []accountDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]core.ProviderAccount, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toCore())
	}
	return out, nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", id, store.ErrNotFound)
	}
	res, err := s.accounts.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete account %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateExportJob(ctx context.Context, j core.ExportJob) (core.ExportJob, error) {
	user, err := primitive.ObjectIDFromHex(j.UserID)
	if err != nil {
		return core.ExportJob{}, fmt.Errorf("create export job: user %s: %w", j.UserID, store.ErrNotFound)
	}
	account, err := primitive.ObjectIDFromHex(j.AccountID)
	if err != nil {
		return core.ExportJob{}, fmt.Errorf("create export job: account %s: %w", j.AccountID, store.ErrNotFound)
	}
	now := s.stamp()
	doc := jobDoc{
		ID:        primitive.NewObjectID(),
		User:      user,
		Account:   account,
		Days:      j.Days,
		Status:    string(core.ExportPending),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.jobs.InsertOne(ctx, doc); err != nil {
		return core.ExportJob{}, fmt.Errorf("create export job: %w", mapErr(err))
	}
	return doc.toCore(), nil
}

func (s *Store) GetExportJob(ctx context.Context, id string) (core.ExportJob, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return core.ExportJob{}, fmt.Errorf("get export job %s: %w", id, store.ErrNotFound)
	}
	var doc jobDoc
	if err := s.jobs.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return core.ExportJob{}, fmt.Errorf("get export job %s: %w", id, mapErr(err))
	}
	return doc.toCore(), nil
}

func (s *Store) ListPendingExportJobs(ctx context.Context, limit int) ([]core.ExportJob, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.jobs.Find(ctx, bson.M{"status": string(core.ExportPending)}, opts)
	if err != nil {
		return nil, fmt.Errorf("list pending export jobs: %w", err)
	}
	var docs []jobDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list pending export jobs: %w", err)
	}
	out := make([]core.ExportJob, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toCore())
	}
	return out, nil
}

func (s *Store) MarkExportDone(ctx context.Context, id, sheetRef string) error {
	return s.updateJob(ctx, id, bson.M{
		"status":   string(core.ExportDone),
		"sheetRef": sheetRef,
		"error":    "",
	})
}

func (s *Store) MarkExportFailed(ctx context.Context, id, reason string) error {
	return s.updateJob(ctx, id, bson.M{
		"status": string(core.ExportFailed),
		"error":  reason,
	})
}

func (s *Store) updateJob(ctx context.Context, id string, set bson.M) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("update export job %s: %w", id, store.ErrNotFound)
	}
	set["updatedAt"] = s.stamp()
	res, err := s.jobs.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update export job %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update export job %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (d userDoc) toCore() core.User {
	return core.User{
		ID:           d.ID.Hex(),
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		Email:        d.Email,
		PasswordHash: d.Password,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func (d accountDoc) toCore() core.ProviderAccount {
	return core.ProviderAccount{
		ID:        d.ID.Hex(),
		UserID:    d.User.Hex(),
		Name:      d.Name,
		SID:       d.SID,
		AuthToken: d.AuthToken,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func (d jobDoc) toCore() core.ExportJob {
	return core.ExportJob{
		ID:        d.ID.Hex(),
		UserID:    d.User.Hex(),
		AccountID: d.Account.Hex(),
		Days:      d.Days,
		Status:    core.ExportStatus(d.Status),
		SheetRef:  d.SheetRef,
		Error:     d.Error,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	default:
		return err
	}
}
