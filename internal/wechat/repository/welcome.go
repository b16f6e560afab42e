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

// MongoWelcomeMessageRepository 迎新消息数据访问层
type MongoWelcomeMessageRepository struct {
	collection *mongo.Collection
}

// NewWelcomeMessageRepository 创建迎新消息 Repository
func NewWelcomeMessageRepository(db *mongo.Database) *MongoWelcomeMessageRepository {
	return &MongoWelcomeMessageRepository{
		collection: db.Collection("welcome_messages"),
	}
}

// ReplaceForGroup 整体替换某个群的迎新消息序列
func (r *MongoWelcomeMessageRepository) ReplaceForGroup(ctx context.Context, groupWxid string, messages []*models.WelcomeMessage) error {
	now := time.Now()

	if _, err := r.collection.DeleteMany(ctx, bson.M{"group_wxid": groupWxid}); err != nil {
		return fmt.Errorf("failed to clear welcome messages for %s: %w", groupWxid, err)
	}
	if len(messages) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(messages))
	for i, msg := range messages {
		msg.GroupWxid = groupWxid
		msg.Seq = i + 1
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		msg.UpdatedAt = now
		docs = append(docs, msg)
	}

	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert welcome messages for %s: %w", groupWxid, err)
	}
	return nil
}

// ListByGroup 按 seq 升序列出某个群的迎新消息
func (r *MongoWelcomeMessageRepository) ListByGroup(ctx context.Context, groupWxid string) ([]*models.WelcomeMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"group_wxid": groupWxid}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list welcome messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []*models.WelcomeMessage
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode welcome messages: %w", err)
	}
	return messages, nil
}

// ListAll 列出全部迎新消息
func (r *MongoWelcomeMessageRepository) ListAll(ctx context.Context) ([]*models.WelcomeMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "group_wxid", Value: 1}, {Key: "seq", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list welcome messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []*models.WelcomeMessage
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode welcome messages: %w", err)
	}
	return messages, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoWelcomeMessageRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "group_wxid", Value: 1}, {Key: "seq", Value: 1}},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create welcome message indexes: %w", err)
	}
	return nil
}
