package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Group 群组模型。只由目录同步写入，转发子系统本身从不修改。
type Group struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	Wxid           string             `bson:"wxid"`                  // 微信群 ID（唯一）
	Name           string             `bson:"name"`                  // 群名称
	AllowSpeak     bool               `bson:"allow_speak"`           // 是否允许机器人在群内发言
	AllowForward   bool               `bson:"allow_forward"`         // 是否接收转发
	WelcomeEnabled bool               `bson:"welcome_enabled"`       // 是否启用迎新推送
	WelcomeURL     string             `bson:"welcome_url,omitempty"` // 迎新小卡片链接
	ListIDs        []int              `bson:"list_ids,omitempty"`    // 所属转发列表编号（多对多关系内嵌）

	CreatedAt time.Time `bson:"created_at"` // 创建时间
	UpdatedAt time.Time `bson:"updated_at"` // 更新时间
}

// InList 群组是否属于指定转发列表
func (g *Group) InList(listID int) bool {
	for _, id := range g.ListIDs {
		if id == listID {
			return true
		}
	}
	return false
}
