package load

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/denorm/internal/logger"
	"github.com/roach88/denorm/internal/model"
)

// Mongo is a Sink and validation reader backed by a MongoDB database.
type Mongo struct {
	db *mongo.Database
}

// NewMongo wraps an open database handle.
func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{db: db}
}

// ConnectMongo opens a client, pings it and returns the named database.
// The caller disconnects the returned client.
func ConnectMongo(ctx context.Context, uri, database string, log *slog.Logger) (*mongo.Client, *Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	log.With(logger.Scope("load")).Info("connected to mongo", slog.String("database", database))
	return client, NewMongo(client.Database(database)), nil
}

// Upsert writes docs with one unordered bulk write. Each document is matched
// by original_id and replaced whole, so fields absent from the new version
// are removed. The server refuses a replacement that changes _id, which
// keeps an existing document's identity.
func (m *Mongo) Upsert(ctx context.Context, c model.Collection, docs []model.Document) (BatchStats, error) {
	if len(docs) == 0 {
		return BatchStats{}, nil
	}
	writes := upsertModels(docs)

	res, err := m.db.Collection(string(c)).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))

	var stats BatchStats
	var bulkErr mongo.BulkWriteException
	switch {
	case errors.As(err, &bulkErr):
		for _, we := range bulkErr.WriteErrors {
			stats.Failed++
			stats.Causes = append(stats.Causes, writeCause(docs, we.Index, we.Message))
		}
		if bulkErr.WriteConcernError != nil {
			return stats, fmt.Errorf("write concern: %s", bulkErr.WriteConcernError.Message)
		}
	case err != nil:
		return stats, err
	}
	if res != nil {
		stats.Inserted = int(res.UpsertedCount)
		stats.Updated = int(res.MatchedCount)
	}
	return stats, nil
}

func writeCause(docs []model.Document, index int, msg string) string {
	if index >= 0 && index < len(docs) {
		return fmt.Sprintf("original_id %d: %s", docs[index].SourceID(), msg)
	}
	return msg
}

// upsertModels builds one replace-or-insert write per document.
func upsertModels(docs []model.Document) []mongo.WriteModel {
	writes := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "original_id", Value: d.SourceID()}}).
			SetReplacement(d).
			SetUpsert(true))
	}
	return writes
}

// EnsureIndexes creates every index from Indexes. Existing indexes with the
// same definition are left alone.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	specs := Indexes()
	for _, c := range model.Collections {
		models := make([]mongo.IndexModel, 0, len(specs[c]))
		for _, s := range specs[c] {
			models = append(models, s.model())
		}
		if _, err := m.db.Collection(string(c)).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", c, err)
		}
	}
	return nil
}

// Clear deletes every document in the target collections and returns the
// number removed per collection.
func (m *Mongo) Clear(ctx context.Context) (map[model.Collection]int64, error) {
	removed := make(map[model.Collection]int64, len(model.Collections))
	for _, c := range model.Collections {
		res, err := m.db.Collection(string(c)).DeleteMany(ctx, bson.D{})
		if err != nil {
			return removed, fmt.Errorf("clear %s: %w", c, err)
		}
		removed[c] = res.DeletedCount
	}
	return removed, nil
}

// Count returns the number of documents in c.
func (m *Mongo) Count(ctx context.Context, c model.Collection) (int64, error) {
	n, err := m.db.Collection(string(c)).CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c, err)
	}
	return n, nil
}

// Documents reads every document in c ordered by original_id.
func (m *Mongo) Documents(ctx context.Context, c model.Collection) ([]model.Document, error) {
	cur, err := m.db.Collection(string(c)).Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "original_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c, err)
	}
	defer cur.Close(ctx)

	switch c {
	case model.CollectionOrganizations:
		return collect[model.OrganizationDoc](ctx, cur)
	case model.CollectionUsers:
		return collect[model.UserDoc](ctx, cur)
	case model.CollectionLabels:
		return collect[model.LabelDoc](ctx, cur)
	case model.CollectionProjects:
		return collect[model.ProjectDoc](ctx, cur)
	}
	return nil, fmt.Errorf("read: unknown collection %q", c)
}

// Get reads the document with the given original id.
func (m *Mongo) Get(ctx context.Context, c model.Collection, originalID int64) (model.Document, bool, error) {
	cur, err := m.db.Collection(string(c)).Find(ctx,
		bson.D{{Key: "original_id", Value: originalID}}, options.Find().SetLimit(1))
	if err != nil {
		return nil, false, fmt.Errorf("get %s %d: %w", c, originalID, err)
	}
	defer cur.Close(ctx)

	var docs []model.Document
	switch c {
	case model.CollectionOrganizations:
		docs, err = collect[model.OrganizationDoc](ctx, cur)
	case model.CollectionUsers:
		docs, err = collect[model.UserDoc](ctx, cur)
	case model.CollectionLabels:
		docs, err = collect[model.LabelDoc](ctx, cur)
	case model.CollectionProjects:
		docs, err = collect[model.ProjectDoc](ctx, cur)
	default:
		return nil, false, fmt.Errorf("get: unknown collection %q", c)
	}
	if err != nil || len(docs) == 0 {
		return nil, false, err
	}
	return docs[0], true, nil
}

func collect[D model.Document](ctx context.Context, cur *mongo.Cursor) ([]model.Document, error) {
	var typed []D
	if err := cur.All(ctx, &typed); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	docs := make([]model.Document, len(typed))
	for i, d := range typed {
		docs[i] = d
	}
	return docs, nil
}
