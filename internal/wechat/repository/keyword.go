package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jisongniu/WeChatRobot/internal/wechat/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoKeywordRepository 关键词数据访问层
type MongoKeywordRepository struct {
	collection *mongo.Collection
}

// NewKeywordRepository 创建关键词 Repository
func NewKeywordRepository(db *mongo.Database) *MongoKeywordRepository {
	return &MongoKeywordRepository{
		collection: db.Collection("keywords"),
	}
}

// ReplaceAll 整体替换关键词数据
func (r *MongoKeywordRepository) ReplaceAll(ctx context.Context, keywords []*models.Keyword) error {
	now := time.Now()

	if _, err := r.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear keywords: %w", err)
	}
	if len(keywords) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(keywords))
	for _, keyword := range keywords {
		if keyword.CreatedAt.IsZero() {
			keyword.CreatedAt = now
		}
		keyword.UpdatedAt = now
		docs = append(docs, keyword)
	}

	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert keywords: %w", err)
	}
	return nil
}

// ListAll 列出所有关键词映射
func (r *MongoKeywordRepository) ListAll(ctx context.Context) ([]*models.Keyword, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	defer cursor.Close(ctx)

	var keywords []*models.Keyword
	if err := cursor.All(ctx, &keywords); err != nil {
		return nil, fmt.Errorf("failed to decode keywords: %w", err)
	}
	return keywords, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoKeywordRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "keyword", Value: 1}},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create keyword indexes: %w", err)
	}
	return nil
}
