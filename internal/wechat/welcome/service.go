package welcome

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/jisongniu/WeChatRobot/internal/logger"
	"github.com/jisongniu/WeChatRobot/internal/wcf"
	"github.com/jisongniu/WeChatRobot/internal/wechat/models"
)

// 群系统消息里的入群事件。两种来源：被邀请、扫码加入。
var joinPatterns = []*regexp.Regexp{
	regexp.MustCompile(`邀请"(.+?)"加入了群聊`),
	regexp.MustCompile(`"(.+?)"通过扫描二维码加入群聊`),
}

// 迎新卡片的公众号落款
const (
	cardName    = "NCC社区"
	cardAccount = "gh_0b00895e7394"
)

// Sender 迎新推送用到的发送能力
type Sender interface {
	SendText(ctx context.Context, receiver, text string) error
	SendImage(ctx context.Context, receiver, path string) error
	ForwardRef(ctx context.Context, receiver string, msgID uint64) error
	SendRichText(ctx context.Context, receiver, name, account, title, digest, url string) error
}

// Directory 迎新推送需要的目录数据
type Directory interface {
	Group(wxid string) (*models.Group, bool)
	WelcomeMessages(groupWxid string) []*models.WelcomeMessage
}

// Service 监听群系统消息，给新成员推送迎新内容
type Service struct {
	dir    Directory
	sender Sender

	// 消息间隔，测试置零
	pause time.Duration
}

// NewService 创建迎新服务
func NewService(dir Directory, sender Sender) *Service {
	return &Service{dir: dir, sender: sender, pause: time.Second}
}

// HandleSystemMessage 处理一条群系统消息，返回是否命中入群事件
func (s *Service) HandleSystemMessage(ctx context.Context, msg *wcf.Message) bool {
	if !msg.FromGroup() {
		return false
	}
	member, ok := matchJoin(msg.Content)
	if !ok {
		return false
	}

	group, ok := s.dir.Group(msg.RoomID)
	if !ok || !group.WelcomeEnabled {
		return false
	}

	logger.L().Infof("新成员入群: %s → %s", member, group.Name)
	s.push(ctx, group, member)
	return true
}

func matchJoin(content string) (string, bool) {
	for _, pattern := range joinPatterns {
		if m := pattern.FindStringSubmatch(content); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// push 先发迎新卡片（配置了推送链接时），再按顺序发配置的迎新消息
func (s *Service) push(ctx context.Context, group *models.Group, member string) {
	if group.WelcomeURL != "" {
		title := fmt.Sprintf("欢迎 %s 加入 NCC！", member)
		err := s.sender.SendRichText(ctx, group.Wxid, cardName, cardAccount, title, "点开看看", group.WelcomeURL)
		if err != nil {
			logger.L().Errorf("迎新卡片发送失败: group=%s: %v", group.Wxid, err)
		}
	}

	for i, msg := range s.dir.WelcomeMessages(group.Wxid) {
		if i > 0 || group.WelcomeURL != "" {
			s.wait(ctx)
		}
		if err := s.deliver(ctx, group.Wxid, msg); err != nil {
			logger.L().Errorf("迎新消息发送失败: group=%s seq=%d: %v", group.Wxid, msg.Seq, err)
		}
	}
}

func (s *Service) deliver(ctx context.Context, groupWxid string, msg *models.WelcomeMessage) error {
	switch msg.Type {
	case models.WelcomeTypeText:
		return s.sender.SendText(ctx, groupWxid, msg.Content)
	case models.WelcomeTypeImage:
		return s.sender.SendImage(ctx, groupWxid, msg.Content)
	default:
		msgID, err := strconv.ParseUint(msg.Content, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid forward ref %q: %w", msg.Content, err)
		}
		return s.sender.ForwardRef(ctx, groupWxid, msgID)
	}
}

func (s *Service) wait(ctx context.Context) {
	if s.pause <= 0 {
		return
	}
	timer := time.NewTimer(s.pause)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
