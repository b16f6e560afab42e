package ncc

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jisongniu/WeChatRobot/internal/logger"
	"github.com/jisongniu/WeChatRobot/internal/wcf"
	"github.com/jisongniu/WeChatRobot/internal/wechat/directory"
	"github.com/jisongniu/WeChatRobot/internal/wechat/models"
)

// 会话控制指令
const (
	entryKeyword = "ncc"  // 入口，不区分大小写
	proceedToken = "选择群聊" // 收集态 → 选择态
	doneToken    = "完成"   // 迎新收集完成
)

// allGroupsToken 选择态里 1 号固定是“全部转发群”，真实列表编号从 2 起
const allGroupsToken = "1"

func isExitToken(content string) bool {
	return content == "0" || content == "退出"
}

// Directory 状态机用到的目录缓存能力
type Directory interface {
	IsAdmin(wxid string) bool
	Refresh(ctx context.Context) error
	Admins() []*models.Admin
	ListsAndGroups() []directory.ListView
	GroupsForList(listID int) []string
	AllForwardableGroups() []string
	GroupName(wxid string) string
	WelcomeEnabledGroups() []*models.Group
	WelcomeMessages(groupWxid string) []*models.WelcomeMessage
	SetWelcomeMessages(ctx context.Context, groupWxid string, messages []*models.WelcomeMessage) error
}

// ImageDownloader 把消息里的图片落到本地（wcf 客户端实现）
type ImageDownloader interface {
	DownloadImage(ctx context.Context, msgID uint64, extra, dir string) (string, error)
}

// Manager 管理员私聊会话的状态机。
// 所有指令消息在这里同步处理，真正的转发投递交给 Dispatcher 异步执行。
type Manager struct {
	store      *SessionStore
	dir        Directory
	sender     Deliverer
	downloader ImageDownloader
	dispatcher *Dispatcher

	notionURL string // 菜单 3 返回的 Notion 页面链接
	dataDir   string // 收集图片的落盘目录
}

// NewManager 创建会话状态机
func NewManager(dir Directory, sender Deliverer, downloader ImageDownloader, dispatcher *Dispatcher, notionURL, dataDir string) *Manager {
	return &Manager{
		store:      NewSessionStore(),
		dir:        dir,
		sender:     sender,
		downloader: downloader,
		dispatcher: dispatcher,
		notionURL:  notionURL,
		dataDir:    dataDir,
	}
}

// Active 操作员是否有进行中的会话
func (m *Manager) Active(operator string) bool {
	return m.store.Active(operator)
}

// HandleMessage 处理一条私聊消息，返回是否被会话消费。
// 入口指令总是新建会话，覆盖任何进行中的会话。
func (m *Manager) HandleMessage(ctx context.Context, msg *wcf.Message) bool {
	content := strings.TrimSpace(msg.Content)
	operator := msg.Sender

	if msg.Type == wcf.MsgTypeText && strings.EqualFold(content, entryKeyword) {
		if !m.dir.IsAdmin(operator) {
			m.reply(ctx, operator, "对不起，你还没有开通 NCC 管理权限")
			return true
		}
		m.store.Put(&Session{Operator: operator, State: StateMenu})
		m.reply(ctx, operator, m.menuText())
		return true
	}

	sess, ok := m.store.Get(operator)
	if !ok {
		return false
	}

	if msg.Type == wcf.MsgTypeText && isExitToken(content) {
		m.store.Delete(operator)
		m.reply(ctx, operator, "已退出 NCC 管理")
		return true
	}

	defer m.store.Touch(operator)
	switch sess.State {
	case StateMenu:
		m.handleMenu(ctx, sess, content)
	case StateCollecting:
		m.handleCollecting(ctx, sess, msg, content)
	case StateSelecting:
		m.handleSelecting(ctx, sess, content)
	case StateWelcomeGroupChoice:
		m.handleWelcomeGroupChoice(ctx, sess, content)
	case StateWelcomeManage:
		m.handleWelcomeManage(ctx, sess, content)
	case StateWelcomeCollecting:
		m.handleWelcomeCollecting(ctx, sess, msg, content)
	default:
		logger.L().Errorf("会话状态异常 %s，销毁会话: operator=%s", sess.State, operator)
		m.store.Delete(operator)
	}
	return true
}

func (m *Manager) menuText() string {
	return "NCC 社群管理：\n" +
		"1. 转发消息\n" +
		"2. 刷新列表（Notion 更新后请操作一次）\n" +
		"3. 查看列表链接\n" +
		"4. 管理员列表\n" +
		"5. 迎新消息管理\n\n" +
		"回复 0 或 退出 结束会话"
}

func (m *Manager) handleMenu(ctx context.Context, sess *Session, content string) {
	switch content {
	case "1":
		sess.State = StateCollecting
		sess.Messages = nil
		m.reply(ctx, sess.Operator, "请发送需要转发的内容（支持文字、图片、公众号推文，数量不限），完成后回复：选择群聊")
	case "2":
		if err := m.dir.Refresh(ctx); err != nil {
			logger.L().Errorf("手动刷新目录失败: %v", err)
			m.reply(ctx, sess.Operator, "刷新列表失败，本地数据保持不变，请稍后重试")
			return
		}
		m.reply(ctx, sess.Operator, "列表已刷新\n\n"+m.menuText())
	case "3":
		m.reply(ctx, sess.Operator, "列表配置地址：\n"+m.notionURL)
	case "4":
		m.reply(ctx, sess.Operator, m.adminListText())
	case "5":
		m.startWelcomeFlow(ctx, sess)
	default:
		m.reply(ctx, sess.Operator, "请回复正确的菜单编号（1-5），回复 0 退出")
	}
}

func (m *Manager) adminListText() string {
	admins := m.dir.Admins()
	if len(admins) == 0 {
		return "暂无管理员记录，请先刷新列表"
	}
	var b strings.Builder
	b.WriteString("管理员列表：")
	for _, admin := range admins {
		name := admin.Name
		if name == "" {
			name = admin.Wxid
		}
		fmt.Fprintf(&b, "\n- %s", name)
	}
	return b.String()
}

// handleCollecting 收集态：非指令消息全部入列，顺序即收集顺序
func (m *Manager) handleCollecting(ctx context.Context, sess *Session, msg *wcf.Message, content string) {
	if msg.Type == wcf.MsgTypeText && content == proceedToken {
		if len(sess.Messages) == 0 {
			m.reply(ctx, sess.Operator, "还没有收集到任何消息，请先发送需要转发的内容")
			return
		}
		sess.State = StateSelecting
		m.reply(ctx, sess.Operator, m.selectionText(len(sess.Messages)))
		return
	}

	collected, ok := m.collect(ctx, sess.Operator, msg, content)
	if !ok {
		return
	}
	sess.Messages = append(sess.Messages, collected)
	m.reply(ctx, sess.Operator, fmt.Sprintf("已收集 %d 条消息，继续发送或回复：选择群聊", len(sess.Messages)))
}

// collect 把一条原始消息转成可投递的收集消息。
// 图片当场下载落盘，失败则整条拒收并告知操作员。
func (m *Manager) collect(ctx context.Context, operator string, msg *wcf.Message, content string) (CollectedMessage, bool) {
	switch msg.Type {
	case wcf.MsgTypeText:
		return TextMessage{Content: content}, true
	case wcf.MsgTypeImage:
		path, err := m.downloader.DownloadImage(ctx, msg.ID, msg.Extra, m.dataDir)
		if err != nil {
			logger.L().Errorf("图片下载失败: msg_id=%d: %v", msg.ID, err)
			m.reply(ctx, operator, "图片保存失败，这条未加入队列，请重新发送")
			return nil, false
		}
		return ImageMessage{LocalPath: path}, true
	default:
		// 推文、视频号、合并转发等都按原消息引用转发
		return RefMessage{MsgID: msg.ID}, true
	}
}

func (m *Manager) selectionText(collected int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "已收集 %d 条消息\n请回复列表编号选择转发目标（多选用 + 连接，如 2+3）：\n", collected)
	b.WriteString("1. 全部转发群")
	for _, view := range m.dir.ListsAndGroups() {
		if view.ListID == 1 {
			// 编号 1 留给“全部转发群”，冲突的列表不展示
			logger.L().Warnf("转发列表编号 1 与全部转发群冲突，已跳过: %s", view.ListName)
			continue
		}
		fmt.Fprintf(&b, "\n%d. %s（%d 个群）", view.ListID, view.ListName, len(view.Groups))
	}
	return b.String()
}

// handleSelecting 选择态：解析列表编号并把任务交给调度器
func (m *Manager) handleSelecting(ctx context.Context, sess *Session, content string) {
	targets, desc, err := m.resolveSelector(content)
	if err != nil {
		m.reply(ctx, sess.Operator, err.Error())
		return
	}
	if len(targets) == 0 {
		m.reply(ctx, sess.Operator, "所选列表里没有可转发的群，请重新选择")
		return
	}

	job := &Job{
		Operator:   sess.Operator,
		TargetDesc: desc,
		Messages:   sess.Messages,
		Targets:    targets,
	}
	if err := m.dispatcher.Enqueue(job); err != nil {
		logger.L().Errorf("转发任务入队失败: %v", err)
		m.reply(ctx, sess.Operator, "转发任务提交失败，请稍后重试")
		return
	}
	m.store.Delete(sess.Operator)
	m.reply(ctx, sess.Operator, fmt.Sprintf("开始转发 %d 条消息到 %d 个群（%s），完成后会汇报结果",
		len(job.Messages), len(job.Targets), desc))
}

// resolveSelector 把编号串解析成去重后的目标群集合。
// 单独的 1 表示全部转发群，其余编号按列表求并集。
func (m *Manager) resolveSelector(content string) ([]string, string, error) {
	tokens := strings.Split(content, "+")
	if len(tokens) == 1 && strings.TrimSpace(tokens[0]) == allGroupsToken {
		return m.dir.AllForwardableGroups(), "全部转发群", nil
	}

	seen := map[string]bool{}
	var targets []string
	var names []string
	for _, token := range tokens {
		listID, err := strconv.Atoi(strings.TrimSpace(token))
		if err != nil {
			return nil, "", fmt.Errorf("请回复正确的列表编号，多选用 + 连接，如 2+3")
		}
		names = append(names, strconv.Itoa(listID))
		for _, wxid := range m.dir.GroupsForList(listID) {
			if !seen[wxid] {
				seen[wxid] = true
				targets = append(targets, wxid)
			}
		}
	}
	return targets, "列表 " + strings.Join(names, "+"), nil
}

// startWelcomeFlow 菜单 5：列出启用迎新推送的群供选择
func (m *Manager) startWelcomeFlow(ctx context.Context, sess *Session) {
	groups := m.dir.WelcomeEnabledGroups()
	if len(groups) == 0 {
		m.reply(ctx, sess.Operator, "暂无启用迎新推送的群，请先在 Notion 中打开迎新推送开关并刷新列表")
		return
	}

	sess.State = StateWelcomeGroupChoice
	sess.WelcomeChoices = sess.WelcomeChoices[:0]
	var b strings.Builder
	b.WriteString("请回复编号选择要管理的群：")
	for i, group := range groups {
		sess.WelcomeChoices = append(sess.WelcomeChoices, group.Wxid)
		fmt.Fprintf(&b, "\n%d. %s", i+1, group.Name)
	}
	m.reply(ctx, sess.Operator, b.String())
}

func (m *Manager) handleWelcomeGroupChoice(ctx context.Context, sess *Session, content string) {
	idx, err := strconv.Atoi(content)
	if err != nil || idx < 1 || idx > len(sess.WelcomeChoices) {
		m.reply(ctx, sess.Operator, fmt.Sprintf("请回复 1-%d 之间的编号", len(sess.WelcomeChoices)))
		return
	}
	sess.WelcomeGroup = sess.WelcomeChoices[idx-1]
	sess.State = StateWelcomeManage
	m.reply(ctx, sess.Operator, m.welcomeManageText(sess.WelcomeGroup))
}

func (m *Manager) welcomeManageText(groupWxid string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "群「%s」迎新消息：\n", m.dir.GroupName(groupWxid))
	messages := m.dir.WelcomeMessages(groupWxid)
	if len(messages) == 0 {
		b.WriteString("（尚未配置）\n")
	} else {
		for _, msg := range messages {
			fmt.Fprintf(&b, "%d. %s\n", msg.Seq, describeWelcome(msg))
		}
	}
	b.WriteString("\n1. 重新设置迎新消息\n2. 发给自己预览\n回复 0 退出")
	return b.String()
}

func describeWelcome(msg *models.WelcomeMessage) string {
	switch msg.Type {
	case models.WelcomeTypeText:
		content := msg.Content
		if len([]rune(content)) > 20 {
			content = string([]rune(content)[:20]) + "…"
		}
		return "[文本] " + content
	case models.WelcomeTypeImage:
		return "[图片]"
	default:
		return "[合并转发]"
	}
}

func (m *Manager) handleWelcomeManage(ctx context.Context, sess *Session, content string) {
	switch content {
	case "1":
		sess.State = StateWelcomeCollecting
		sess.Messages = nil
		m.reply(ctx, sess.Operator, "请发送迎新消息内容（支持文字、图片，按顺序推送），完成后回复：完成")
	case "2":
		m.previewWelcome(ctx, sess)
	default:
		m.reply(ctx, sess.Operator, "请回复 1 重新设置，2 预览，0 退出")
	}
}

// previewWelcome 把已配置的迎新消息按顺序发给操作员本人
func (m *Manager) previewWelcome(ctx context.Context, sess *Session) {
	messages := m.dir.WelcomeMessages(sess.WelcomeGroup)
	if len(messages) == 0 {
		m.reply(ctx, sess.Operator, "该群尚未配置迎新消息")
		return
	}
	for _, msg := range messages {
		var err error
		switch msg.Type {
		case models.WelcomeTypeText:
			err = m.sender.SendText(ctx, sess.Operator, msg.Content)
		case models.WelcomeTypeImage:
			err = m.sender.SendImage(ctx, sess.Operator, msg.Content)
		default:
			var msgID uint64
			msgID, err = strconv.ParseUint(msg.Content, 10, 64)
			if err == nil {
				err = m.sender.ForwardRef(ctx, sess.Operator, msgID)
			}
		}
		if err != nil {
			logger.L().Errorf("迎新消息预览失败: group=%s seq=%d: %v", sess.WelcomeGroup, msg.Seq, err)
		}
	}
}

func (m *Manager) handleWelcomeCollecting(ctx context.Context, sess *Session, msg *wcf.Message, content string) {
	if msg.Type == wcf.MsgTypeText && content == doneToken {
		if len(sess.Messages) == 0 {
			m.reply(ctx, sess.Operator, "还没有收集到任何迎新消息，请先发送内容")
			return
		}
		messages := make([]*models.WelcomeMessage, 0, len(sess.Messages))
		for i, collected := range sess.Messages {
			messages = append(messages, welcomeFromCollected(collected, i+1, sess.Operator, sess.WelcomeGroup))
		}
		if err := m.dir.SetWelcomeMessages(ctx, sess.WelcomeGroup, messages); err != nil {
			logger.L().Errorf("迎新消息保存失败: group=%s: %v", sess.WelcomeGroup, err)
			m.reply(ctx, sess.Operator, "迎新消息保存失败，请稍后重试")
			return
		}
		m.store.Delete(sess.Operator)
		m.reply(ctx, sess.Operator, fmt.Sprintf("群「%s」迎新消息已更新，共 %d 条",
			m.dir.GroupName(sess.WelcomeGroup), len(messages)))
		return
	}

	collected, ok := m.collect(ctx, sess.Operator, msg, content)
	if !ok {
		return
	}
	sess.Messages = append(sess.Messages, collected)
	m.reply(ctx, sess.Operator, fmt.Sprintf("已收集 %d 条迎新消息，继续发送或回复：完成", len(sess.Messages)))
}

func welcomeFromCollected(collected CollectedMessage, seq int, operator, groupWxid string) *models.WelcomeMessage {
	msg := &models.WelcomeMessage{
		GroupWxid: groupWxid,
		Seq:       seq,
		Operator:  operator,
	}
	switch c := collected.(type) {
	case TextMessage:
		msg.Type = models.WelcomeTypeText
		msg.Content = c.Content
	case ImageMessage:
		msg.Type = models.WelcomeTypeImage
		msg.Content = c.LocalPath
	case RefMessage:
		msg.Type = models.WelcomeTypeMerged
		msg.Content = strconv.FormatUint(c.MsgID, 10)
	}
	return msg
}

// reply 给操作员发提示，失败只记日志不中断流程
func (m *Manager) reply(ctx context.Context, operator, text string) {
	if err := m.sender.SendText(ctx, operator, text); err != nil {
		logger.L().Errorf("回复操作员失败: operator=%s: %v", operator, err)
	}
}
