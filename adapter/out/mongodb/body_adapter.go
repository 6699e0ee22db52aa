// Package mongodb implements document-store adapters.
package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/creamytech/Castra-site-sub000/core/port/out"
)

// =============================================================================
// MongoDB Message Body Adapter
// =============================================================================

const (
	collectionMessageBodies = "message_bodies"

	// Only compress bodies larger than this
	compressionThreshold = 1024 // 1KB

	bodyTTL = 90 * 24 * time.Hour
)

// BodyAdapter implements out.BodyRepository using MongoDB. Bodies live outside
// the relational store: they are large, write-once, and only read back for
// reclassification.
type BodyAdapter struct {
	collection *mongo.Collection
}

// NewBodyAdapter creates a new MongoDB body adapter.
func NewBodyAdapter(db *mongo.Database) *BodyAdapter {
	return &BodyAdapter{
		collection: db.Collection(collectionMessageBodies),
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *BodyAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "external_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0), // TTL index
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// bodyDocument represents the MongoDB document structure.
type bodyDocument struct {
	UserID     string `bson:"user_id"`
	ExternalID string `bson:"external_id"`

	Body         []byte `bson:"body"`
	IsCompressed bool   `bson:"is_compressed"`
	OriginalSize int64  `bson:"original_size"`

	SavedAt   time.Time `bson:"saved_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// Save upserts the body for (user, external id).
func (a *BodyAdapter) Save(ctx context.Context, userID uuid.UUID, externalID, body string) error {
	data := []byte(body)
	originalSize := int64(len(data))
	isCompressed := false

	if originalSize > compressionThreshold {
		compressed, err := compress(data)
		if err != nil {
			return fmt.Errorf("failed to compress body: %w", err)
		}
		data = compressed
		isCompressed = true
	}

	now := time.Now()
	doc := &bodyDocument{
		UserID:       userID.String(),
		ExternalID:   externalID,
		Body:         data,
		IsCompressed: isCompressed,
		OriginalSize: originalSize,
		SavedAt:      now,
		ExpiresAt:    now.Add(bodyTTL),
	}

	filter := bson.M{"user_id": doc.UserID, "external_id": externalID}
	opts := options.Replace().SetUpsert(true)

	if _, err := a.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to save message body: %w", err)
	}
	return nil
}

// Get retrieves a body, empty string when absent.
func (a *BodyAdapter) Get(ctx context.Context, userID uuid.UUID, externalID string) (string, error) {
	var doc bodyDocument
	filter := bson.M{"user_id": userID.String(), "external_id": externalID}

	err := a.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return "", nil
		}
		return "", fmt.Errorf("failed to get message body: %w", err)
	}

	data := doc.Body
	if doc.IsCompressed {
		data, err = decompress(doc.Body)
		if err != nil {
			return "", fmt.Errorf("failed to decompress body: %w", err)
		}
	}
	return string(data), nil
}

// =============================================================================
// Compression Helpers
// =============================================================================

func compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

// =============================================================================
// Interface Compliance
// =============================================================================

var _ out.BodyRepository = (*BodyAdapter)(nil)
