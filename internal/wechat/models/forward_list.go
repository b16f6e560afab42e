package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ForwardList 转发列表：一组接收转发的群聊的命名集合
type ForwardList struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	ListID      int                `bson:"list_id"`               // 列表编号（唯一，Notion 中人工维护）
	ListName    string             `bson:"list_name"`             // 列表名称
	Description string             `bson:"description,omitempty"` // 描述
	CreatedAt   time.Time          `bson:"created_at"`            // 创建时间
	UpdatedAt   time.Time          `bson:"updated_at"`            // 更新时间
}
