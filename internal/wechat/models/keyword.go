package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Keyword 关键词到群组的映射：私聊命中关键词即邀请进对应群
type Keyword struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Keyword   string             `bson:"keyword"`    // 触发关键词
	GroupWxid string             `bson:"group_wxid"` // 目标群 wxid
	CreatedAt time.Time          `bson:"created_at"` // 创建时间
	UpdatedAt time.Time          `bson:"updated_at"` // 更新时间
}
