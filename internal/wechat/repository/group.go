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

// MongoGroupRepository 群组数据访问层
type MongoGroupRepository struct {
	collection *mongo.Collection
}

// NewGroupRepository 创建群组 Repository
func NewGroupRepository(db *mongo.Database) *MongoGroupRepository {
	return &MongoGroupRepository{
		collection: db.Collection("groups"),
	}
}

// ReplaceAll 用一次目录同步的结果整体替换群组数据
func (r *MongoGroupRepository) ReplaceAll(ctx context.Context, groups []*models.Group) error {
	now := time.Now()

	if _, err := r.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear groups: %w", err)
	}
	if len(groups) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(groups))
	for _, group := range groups {
		if group.CreatedAt.IsZero() {
			group.CreatedAt = now
		}
		group.UpdatedAt = now
		docs = append(docs, group)
	}

	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert groups: %w", err)
	}
	return nil
}

// ListAll 列出所有群组
func (r *MongoGroupRepository) ListAll(ctx context.Context) ([]*models.Group, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer cursor.Close(ctx)

	var groups []*models.Group
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("failed to decode groups: %w", err)
	}
	return groups, nil
}

// UpdateName 更新群名
func (r *MongoGroupRepository) UpdateName(ctx context.Context, wxid, name string) error {
	filter := bson.M{"wxid": wxid}
	update := bson.M{
		"$set": bson.M{
			"name":       name,
			"updated_at": time.Now(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update group name: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("group not found: %s", wxid)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoGroupRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "wxid", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "allow_forward", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "list_ids", Value: 1}},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create group indexes: %w", err)
	}
	return nil
}
