package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pinnokio/orchestrator/pkg/database"
)

// maxReadDocs caps GET_STRUCTURED_DATA results so a broad path cannot flood
// the conversation.
const maxReadDocs = 50

// pathCollections maps the first path segment to a store collection.
var pathCollections = map[string]string{
	"clients":       database.CollClients,
	"mandates":      database.CollMandates,
	"erp":           database.CollERP,
	"tasks":         database.CollTasks,
	"jobs":          database.CollJobs,
	"notifications": database.CollNotifications,
}

// MongoPathReader resolves path-addressed reads against the document store.
// Paths look like "mandates/{user_id}"; the first segment selects the
// collection and an optional second segment scopes to a user.
type MongoPathReader struct {
	db *database.Client
}

// NewMongoPathReader creates a path reader over the store.
func NewMongoPathReader(db *database.Client) *MongoPathReader {
	return &MongoPathReader{db: db}
}

// ReadPath implements PathReader.
func (r *MongoPathReader) ReadPath(ctx context.Context, path string, filters map[string]any) ([]map[string]any, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	coll, ok := pathCollections[segments[0]]
	if !ok {
		return nil, fmt.Errorf("unknown path root %q", segments[0])
	}

	query := bson.M{}
	for k, v := range filters {
		query[k] = v
	}
	if len(segments) > 1 && segments[1] != "" {
		query["user_id"] = segments[1]
	}

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cur, err := r.db.Collection(coll).Find(readCtx, query, options.Find().SetLimit(maxReadDocs))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var docs []map[string]any
	if err := cur.All(readCtx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return docs, nil
}
