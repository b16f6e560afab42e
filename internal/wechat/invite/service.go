package invite

import (
	"context"
	"strings"
	"time"

	"github.com/jisongniu/WeChatRobot/internal/logger"
	"github.com/jisongniu/WeChatRobot/internal/wcf"
)

// Inviter 拉群能力（wcf 客户端实现）
type Inviter interface {
	InviteChatroomMembers(ctx context.Context, roomID, wxid string) error
	SendText(ctx context.Context, receiver, text string) error
}

// Directory 关键词到目标群的映射
type Directory interface {
	GroupsForKeyword(keyword string) []string
	GroupName(wxid string) string
}

// Service 私聊关键词自动拉群。
// 用户回复 Notion 里配置的关键词，机器人把对方拉进对应的群。
type Service struct {
	dir     Directory
	inviter Inviter
	timeout time.Duration
}

// NewService 创建拉群服务
func NewService(dir Directory, inviter Inviter) *Service {
	return &Service{dir: dir, inviter: inviter, timeout: 30 * time.Second}
}

// HandleKeyword 处理一条私聊文本，命中关键词时异步发出入群邀请
func (s *Service) HandleKeyword(ctx context.Context, msg *wcf.Message) bool {
	if msg.Type != wcf.MsgTypeText {
		return false
	}
	keyword := strings.TrimSpace(msg.Content)
	groups := s.dir.GroupsForKeyword(keyword)
	if len(groups) == 0 {
		return false
	}

	logger.L().Infof("关键词拉群: %q → %d 个群: sender=%s", keyword, len(groups), msg.Sender)

	// 邀请走独立超时，不占用消息处理循环
	go func(sender string, groups []string) {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		for _, group := range groups {
			if err := s.inviter.InviteChatroomMembers(ctx, group, sender); err != nil {
				logger.L().Errorf("入群邀请失败: group=%s sender=%s: %v", s.dir.GroupName(group), sender, err)
			}
		}
	}(msg.Sender, groups)

	if err := s.inviter.SendText(ctx, msg.Sender, "已发送入群邀请，请留意群聊邀请通知"); err != nil {
		logger.L().Errorf("拉群提示发送失败: sender=%s: %v", msg.Sender, err)
	}
	return true
}
