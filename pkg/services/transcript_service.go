package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pinnokio/orchestrator/pkg/database"
	"github.com/pinnokio/orchestrator/pkg/models"
)

// TranscriptService persists thread transcripts. Persistence happens
// regardless of connection mode; a detached user reads the transcript on
// reconnect.
type TranscriptService struct {
	db *database.Client
}

// NewTranscriptService creates a new TranscriptService
func NewTranscriptService(db *database.Client) *TranscriptService {
	return &TranscriptService{db: db}
}

// AppendMessage writes a new transcript entry and returns its ID.
func (s *TranscriptService) AppendMessage(httpCtx context.Context, msg *models.ChatMessage) (string, error) {
	if msg.CompanyID == "" {
		return "", models.NewValidationError("company_id", "required")
	}
	if msg.ThreadKey == "" {
		return "", models.NewValidationError("thread_key", "required")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.Status == "" {
		msg.Status = models.MessageStatusComplete
	}

	_, err := s.db.Collection(database.CollMessages).InsertOne(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("failed to append message: %w", err)
	}
	return msg.ID, nil
}

// UpdateStreamingContent rewrites the accumulated content of a streaming
// assistant message. Called as chunks arrive so a reconnecting frontend sees
// partial output.
func (s *TranscriptService) UpdateStreamingContent(httpCtx context.Context, messageID, content string) error {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	_, err := s.db.Collection(database.CollMessages).UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$set": bson.M{"content": content}},
	)
	if err != nil {
		return fmt.Errorf("failed to update streaming content: %w", err)
	}
	return nil
}

// CompleteMessage marks a streaming message terminal with its final content.
func (s *TranscriptService) CompleteMessage(httpCtx context.Context, messageID, content string, status models.MessageStatus) error {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	_, err := s.db.Collection(database.CollMessages).UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$set": bson.M{"content": content, "status": status}},
	)
	if err != nil {
		return fmt.Errorf("failed to complete message: %w", err)
	}
	return nil
}

// ListThread returns the transcript for a thread in timestamp order.
func (s *TranscriptService) ListThread(httpCtx context.Context, companyID, threadKey string, limit int) ([]*models.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cur, err := s.db.Collection(database.CollMessages).Find(ctx,
		bson.M{"company_id": companyID, "thread_key": threadKey}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread: %w", err)
	}
	var msgs []*models.ChatMessage
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode thread: %w", err)
	}
	return msgs, nil
}
