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

// MongoAdminRepository 管理员数据访问层
type MongoAdminRepository struct {
	collection *mongo.Collection
}

// NewAdminRepository 创建管理员 Repository
func NewAdminRepository(db *mongo.Database) *MongoAdminRepository {
	return &MongoAdminRepository{
		collection: db.Collection("admins"),
	}
}

// ReplaceAll 整体替换管理员数据
func (r *MongoAdminRepository) ReplaceAll(ctx context.Context, admins []*models.Admin) error {
	now := time.Now()

	if _, err := r.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear admins: %w", err)
	}
	if len(admins) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(admins))
	for _, admin := range admins {
		if admin.CreatedAt.IsZero() {
			admin.CreatedAt = now
		}
		admin.UpdatedAt = now
		docs = append(docs, admin)
	}

	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert admins: %w", err)
	}
	return nil
}

// ListAll 列出所有管理员
func (r *MongoAdminRepository) ListAll(ctx context.Context) ([]*models.Admin, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	defer cursor.Close(ctx)

	var admins []*models.Admin
	if err := cursor.All(ctx, &admins); err != nil {
		return nil, fmt.Errorf("failed to decode admins: %w", err)
	}
	return admins, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoAdminRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "wxid", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create admin indexes: %w", err)
	}
	return nil
}
