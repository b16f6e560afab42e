package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jisongniu/WeChatRobot/internal/wechat/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoForwardListRepository 转发列表数据访问层
type MongoForwardListRepository struct {
	collection *mongo.Collection
}

// NewForwardListRepository 创建转发列表 Repository
func NewForwardListRepository(db *mongo.Database) *MongoForwardListRepository {
	return &MongoForwardListRepository{
		collection: db.Collection("forward_lists"),
	}
}

// ReplaceAll 整体替换转发列表数据
func (r *MongoForwardListRepository) ReplaceAll(ctx context.Context, lists []*models.ForwardList) error {
	now := time.Now()

	if _, err := r.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear forward lists: %w", err)
	}
	if len(lists) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(lists))
	for _, list := range lists {
		if list.CreatedAt.IsZero() {
			list.CreatedAt = now
		}
		list.UpdatedAt = now
		docs = append(docs, list)
	}

	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert forward lists: %w", err)
	}
	return nil
}

// ListAll 按 list_id 升序列出所有转发列表
func (r *MongoForwardListRepository) ListAll(ctx context.Context) ([]*models.ForwardList, error) {
	opts := options.Find().SetSort(bson.D{{Key: "list_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list forward lists: %w", err)
	}
	defer cursor.Close(ctx)

	var lists []*models.ForwardList
	if err := cursor.All(ctx, &lists); err != nil {
		return nil, fmt.Errorf("failed to decode forward lists: %w", err)
	}
	return lists, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoForwardListRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "list_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create forward list indexes: %w", err)
	}
	return nil
}
