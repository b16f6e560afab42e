package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Admin 管理员：允许打开 ncc 管理会话的操作者
type Admin struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Wxid      string             `bson:"wxid"`       // 管理员 wxid（唯一）
	Name      string             `bson:"name"`       // 昵称
	CreatedAt time.Time          `bson:"created_at"` // 创建时间
	UpdatedAt time.Time          `bson:"updated_at"` // 更新时间
}
