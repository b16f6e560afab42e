package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 迎新消息类型
const (
	WelcomeTypeText   = "text"   // 文本
	WelcomeTypeImage  = "image"  // 图片（content 为本地路径）
	WelcomeTypeMerged = "merged" // 合并转发引用（content 为原始消息 ID）
)

// WelcomeMessage 一条按群配置的迎新消息
type WelcomeMessage struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	GroupWxid string             `bson:"group_wxid"`        // 群 wxid
	Seq       int                `bson:"seq"`               // 发送顺序
	Type      string             `bson:"type"`              // text/image/merged
	Content   string             `bson:"content,omitempty"` // 文本内容或本地路径
	Extra     string             `bson:"extra,omitempty"`   // 类型相关的附加数据
	Operator  string             `bson:"operator"`          // 配置者 wxid
	CreatedAt time.Time          `bson:"created_at"`        // 创建时间
	UpdatedAt time.Time          `bson:"updated_at"`        // 更新时间
}
