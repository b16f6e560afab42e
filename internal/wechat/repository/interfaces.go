package repository

import (
	"context"

	"github.com/jisongniu/WeChatRobot/internal/wechat/models"
)

// GroupRepository 群组数据访问接口
type GroupRepository interface {
	// ReplaceAll 用一次目录同步的结果整体替换群组数据
	ReplaceAll(ctx context.Context, groups []*models.Group) error

	// ListAll 列出所有群组
	ListAll(ctx context.Context) ([]*models.Group, error)

	// UpdateName 更新群名（群内改名系统消息触发）
	UpdateName(ctx context.Context, wxid, name string) error

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// ForwardListRepository 转发列表数据访问接口
type ForwardListRepository interface {
	// ReplaceAll 整体替换转发列表数据
	ReplaceAll(ctx context.Context, lists []*models.ForwardList) error

	// ListAll 按 list_id 升序列出所有转发列表
	ListAll(ctx context.Context) ([]*models.ForwardList, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// AdminRepository 管理员数据访问接口
type AdminRepository interface {
	// ReplaceAll 整体替换管理员数据
	ReplaceAll(ctx context.Context, admins []*models.Admin) error

	// ListAll 列出所有管理员
	ListAll(ctx context.Context) ([]*models.Admin, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// KeywordRepository 关键词数据访问接口
type KeywordRepository interface {
	// ReplaceAll 整体替换关键词数据
	ReplaceAll(ctx context.Context, keywords []*models.Keyword) error

	// ListAll 列出所有关键词映射
	ListAll(ctx context.Context) ([]*models.Keyword, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// WelcomeMessageRepository 迎新消息数据访问接口
type WelcomeMessageRepository interface {
	// ReplaceForGroup 整体替换某个群的迎新消息序列
	ReplaceForGroup(ctx context.Context, groupWxid string, messages []*models.WelcomeMessage) error

	// ListByGroup 按 seq 升序列出某个群的迎新消息
	ListByGroup(ctx context.Context, groupWxid string) ([]*models.WelcomeMessage, error)

	// ListAll 列出全部迎新消息（启动时装载缓存）
	ListAll(ctx context.Context) ([]*models.WelcomeMessage, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}
