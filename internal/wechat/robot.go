package wechat

import (
	"context"
	"regexp"
	"strings"

	"github.com/jisongniu/WeChatRobot/internal/logger"
	"github.com/jisongniu/WeChatRobot/internal/wcf"
	"github.com/jisongniu/WeChatRobot/internal/wechat/directory"
	"github.com/jisongniu/WeChatRobot/internal/wechat/invite"
	"github.com/jisongniu/WeChatRobot/internal/wechat/ncc"
	"github.com/jisongniu/WeChatRobot/internal/wechat/welcome"
)

// fileHelper 微信的“文件传输助手”，启动通知和自检消息都发到这里
const fileHelper = "filehelper"

// resyncCommand 机器人账号自己发“更新”触发一次目录同步
const resyncCommand = "更新"

// 群系统消息里的改名事件，例如：xxx修改群名为“新名字”
var renamePattern = regexp.MustCompile(`修改群名为[“"](.+?)[”"]`)

// Robot 消息入口：从 bridge 读消息并分发给各个处理模块
type Robot struct {
	client  *wcf.Client
	dir     *directory.Cache
	manager *ncc.Manager
	welcome *welcome.Service
	invite  *invite.Service

	selfWxid string
}

// NewRobot 组装消息路由
func NewRobot(client *wcf.Client, dir *directory.Cache, manager *ncc.Manager, welcomeSvc *welcome.Service, inviteSvc *invite.Service) *Robot {
	return &Robot{
		client:  client,
		dir:     dir,
		manager: manager,
		welcome: welcomeSvc,
		invite:  inviteSvc,
	}
}

// Run 阻塞消费消息流，直到 ctx 取消或 bridge 关闭
func (r *Robot) Run(ctx context.Context) error {
	if wxid, err := r.client.GetSelfWxid(ctx); err != nil {
		logger.L().Warnf("获取机器人 wxid 失败: %v", err)
	} else {
		r.selfWxid = wxid
		logger.L().Infof("机器人已登录: %s", wxid)
	}

	if err := r.client.SendText(ctx, fileHelper, "启动成功！"); err != nil {
		logger.L().Warnf("启动通知发送失败: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-r.client.Messages():
			if !ok {
				return nil
			}
			r.handle(ctx, msg)
		}
	}
}

// handle 处理单条消息。处理器 panic 只丢这一条，不拖垮整个循环。
func (r *Robot) handle(ctx context.Context, msg *wcf.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.L().Errorf("消息处理 panic: msg_id=%d: %v", msg.ID, rec)
		}
	}()

	if msg.IsSelf {
		r.handleSelf(ctx, msg)
		return
	}

	if msg.Type == wcf.MsgTypeSystem && msg.FromGroup() {
		r.handleSystem(ctx, msg)
		return
	}

	if msg.FromGroup() {
		// 群内暂无指令，只记录被发言开关拦下的消息
		if !r.dir.AllowSpeak(msg.RoomID) {
			logger.L().Debugf("群 %s 未开启发言，忽略消息 id=%d", msg.RoomID, msg.ID)
		}
		return
	}

	// 私聊：先走管理会话，未命中再试关键词拉群
	if r.manager.HandleMessage(ctx, msg) {
		return
	}
	r.invite.HandleKeyword(ctx, msg)
}

// handleSelf 机器人账号自己发出的消息，只响应目录同步指令
func (r *Robot) handleSelf(ctx context.Context, msg *wcf.Message) {
	if msg.Type != wcf.MsgTypeText || strings.TrimSpace(msg.Content) != resyncCommand {
		return
	}
	logger.L().Info("收到手动同步指令")
	if err := r.dir.Refresh(ctx); err != nil {
		logger.L().Errorf("手动同步目录失败: %v", err)
		r.notify(ctx, "目录同步失败，本地数据保持不变")
		return
	}
	r.notify(ctx, "目录同步完成")
}

func (r *Robot) handleSystem(ctx context.Context, msg *wcf.Message) {
	if m := renamePattern.FindStringSubmatch(msg.Content); m != nil {
		name := m[1]
		if err := r.dir.UpdateGroupName(ctx, msg.RoomID, name); err != nil {
			logger.L().Errorf("群名更新失败: room=%s name=%q: %v", msg.RoomID, name, err)
		} else {
			logger.L().Infof("群名已更新: %s → %q", msg.RoomID, name)
		}
		return
	}

	r.welcome.HandleSystemMessage(ctx, msg)
}

func (r *Robot) notify(ctx context.Context, text string) {
	if err := r.client.SendText(ctx, fileHelper, text); err != nil {
		logger.L().Warnf("通知发送失败: %v", err)
	}
}
