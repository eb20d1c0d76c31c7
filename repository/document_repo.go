package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/casefile-ai/docproc-be/database"
	"github.com/casefile-ai/docproc-be/types"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

type documentRepo struct {
	collection *mongo.Collection
}

// NewDocumentRepo wraps the documents collection. Index creation is
// idempotent, so failures are logged rather than fatal.
func NewDocumentRepo(db *mongo.Database) database.DocumentStore {
	collection := db.Collection("documents")
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "firm_id", Value: 1},
				{Key: "status", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "firm_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
	}
	if _, err := collection.Indexes().CreateMany(context.Background(), indexes); err != nil {
		slog.Warn("failed to create document indexes", "error", err)
	}
	return &documentRepo{collection: collection}
}

func (r *documentRepo) CreateDocument(ctx context.Context, doc *types.Document) error {
	now := time.Now().Unix()
	if doc.CreatedAt == 0 {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = types.StatusUnprocessed
	}
	_, err := r.collection.InsertOne(ctx, doc)
	return err
}

func (r *documentRepo) GetDocument(ctx context.Context, firmID, id string) (*types.Document, error) {
	var doc types.Document
	err := r.collection.FindOne(ctx, bson.M{"_id": id, "firm_id": firmID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) UpdateStatus(ctx context.Context, firmID, id string, status types.DocumentStatus) error {
	return r.updateFields(ctx, firmID, id, bson.M{"status": status})
}

func (r *documentRepo) UpdateOCRResult(ctx context.Context, firmID, id string, res *types.OCRResult) error {
	return r.updateFields(ctx, firmID, id, bson.M{
		"status":          res.Status(),
		"ocr_processed":   true,
		"ocr_text":        res.Text,
		"ocr_confidence":  res.Confidence,
		"ocr_language":    res.Language,
		"ocr_method":      res.Method,
		"ocr_error":       "",
		"pages_processed": res.PagesProcessed,
		"is_searchable":   res.SuccessfulPages > 0,
	})
}

func (r *documentRepo) MarkFailed(ctx context.Context, firmID, id string, cause string) error {
	return r.updateFields(ctx, firmID, id, bson.M{
		"status":        types.StatusFailed,
		"ocr_error":     cause,
		"is_searchable": false,
	})
}

func (r *documentRepo) UpdateClassification(ctx context.Context, firmID, id string, c *types.Classification) error {
	return r.updateFields(ctx, firmID, id, bson.M{
		"ai_category":   c.Category,
		"ai_summary":    c.Summary,
		"ai_confidence": c.Confidence,
		"ai_processed":  true,
		"ai_error":      "",
	})
}

func (r *documentRepo) SetClassificationError(ctx context.Context, firmID, id string, cause string) error {
	return r.updateFields(ctx, firmID, id, bson.M{
		"ai_error":     cause,
		"ai_processed": false,
	})
}

func (r *documentRepo) ClearClassification(ctx context.Context, firmID, id string) error {
	now := time.Now().Unix()
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "firm_id": firmID},
		bson.M{
			"$set": bson.M{"ai_processed": false, "updated_at": now},
			"$unset": bson.M{
				"ai_category":   "",
				"ai_summary":    "",
				"ai_confidence": "",
				"ai_error":      "",
			},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (r *documentRepo) updateFields(ctx context.Context, firmID, id string, fields bson.M) error {
	fields["updated_at"] = time.Now().Unix()
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "firm_id": firmID},
		bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return database.ErrNotFound
	}
	return nil
}
