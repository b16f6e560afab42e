package ncc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jisongniu/WeChatRobot/internal/wcf"
	"github.com/jisongniu/WeChatRobot/internal/wechat/directory"
	"github.com/jisongniu/WeChatRobot/internal/wechat/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const operator = "wxid_admin"

type fakeDirectory struct {
	admins     map[string]bool
	views      []directory.ListView
	listGroups map[int][]string
	all        []string
	names      map[string]string

	welcomeGroups []*models.Group
	welcomes      map[string][]*models.WelcomeMessage
	setErr        error

	refreshErr error
	refreshes  int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		admins: map[string]bool{operator: true},
		views: []directory.ListView{
			{ListID: 2, ListName: "社区公告"},
			{ListID: 3, ListName: "活动通知"},
		},
		listGroups: map[int][]string{
			2: {"g1@chatroom", "g2@chatroom"},
			3: {"g2@chatroom", "g3@chatroom"},
		},
		all:      []string{"g1@chatroom", "g2@chatroom", "g3@chatroom", "g4@chatroom"},
		names:    map[string]string{"g5@chatroom": "迎新群"},
		welcomes: map[string][]*models.WelcomeMessage{},
	}
}

func (f *fakeDirectory) IsAdmin(wxid string) bool { return f.admins[wxid] }

func (f *fakeDirectory) Refresh(ctx context.Context) error {
	f.refreshes++
	return f.refreshErr
}

func (f *fakeDirectory) Admins() []*models.Admin {
	return []*models.Admin{{Wxid: operator, Name: "管理员A"}}
}

func (f *fakeDirectory) ListsAndGroups() []directory.ListView { return f.views }

func (f *fakeDirectory) GroupsForList(listID int) []string { return f.listGroups[listID] }

func (f *fakeDirectory) AllForwardableGroups() []string { return f.all }

func (f *fakeDirectory) GroupName(wxid string) string {
	if name, ok := f.names[wxid]; ok {
		return name
	}
	return wxid
}

func (f *fakeDirectory) WelcomeEnabledGroups() []*models.Group { return f.welcomeGroups }

func (f *fakeDirectory) WelcomeMessages(groupWxid string) []*models.WelcomeMessage {
	return f.welcomes[groupWxid]
}

func (f *fakeDirectory) SetWelcomeMessages(ctx context.Context, groupWxid string, messages []*models.WelcomeMessage) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.welcomes[groupWxid] = messages
	return nil
}

type fakeDownloader struct {
	err   error
	calls int
}

func (f *fakeDownloader) DownloadImage(ctx context.Context, msgID uint64, extra, dir string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("%s/img_%d.jpg", dir, msgID), nil
}

func newTestManager() (*Manager, *fakeSender, *fakeDirectory, *fakeDownloader, *Dispatcher) {
	sender := newFakeSender()
	dir := newFakeDirectory()
	dl := &fakeDownloader{}
	dispatcher := NewDispatcher(sender, testPacing(), dir.GroupName)
	manager := NewManager(dir, sender, dl, dispatcher, "https://notion.so/ncc-lists", "/data/forward")
	return manager, sender, dir, dl, dispatcher
}

func textMsg(content string) *wcf.Message {
	return &wcf.Message{ID: 1, Type: wcf.MsgTypeText, Sender: operator, Content: content}
}

func imageMsg(id uint64) *wcf.Message {
	return &wcf.Message{ID: id, Type: wcf.MsgTypeImage, Sender: operator, Extra: "extra"}
}

// lastReply 最近一条发给操作员的文本
func lastReply(t *testing.T, sender *fakeSender) string {
	t.Helper()
	replies := sender.deliveredTo(operator)
	require.NotEmpty(t, replies, "expected a reply to the operator")
	return replies[len(replies)-1]
}

func TestManagerEntryRequiresAdmin(t *testing.T) {
	manager, sender, _, _, _ := newTestManager()
	ctx := context.Background()

	msg := &wcf.Message{Type: wcf.MsgTypeText, Sender: "wxid_stranger", Content: "ncc"}
	assert.True(t, manager.HandleMessage(ctx, msg))
	assert.False(t, manager.Active("wxid_stranger"))

	replies := sender.deliveredTo("wxid_stranger")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "权限")
}

func TestManagerEntryCaseInsensitive(t *testing.T) {
	manager, sender, _, _, _ := newTestManager()
	ctx := context.Background()

	assert.True(t, manager.HandleMessage(ctx, textMsg("NCC")))
	assert.True(t, manager.Active(operator))
	assert.Contains(t, lastReply(t, sender), "1. 转发消息")
}

func TestManagerNonSessionMessageIgnored(t *testing.T) {
	manager, _, _, _, _ := newTestManager()
	ctx := context.Background()

	assert.False(t, manager.HandleMessage(ctx, textMsg("随便说点什么")))
}

func TestManagerExit(t *testing.T) {
	manager, sender, _, _, _ := newTestManager()
	ctx := context.Background()

	manager.HandleMessage(ctx, textMsg("ncc"))
	for _, token := range []string{"0", "退出"} {
		manager.HandleMessage(ctx, textMsg("ncc"))
		assert.True(t, manager.HandleMessage(ctx, textMsg(token)))
		assert.False(t, manager.Active(operator), "session should end on %q", token)
		assert.Contains(t, lastReply(t, sender), "已退出")
	}
}

func TestManagerEntryReplacesSession(t *testing.T) {
	manager, sender, _, _, _ := newTestManager()
	ctx := context.Background()

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("1"))
	manager.HandleMessage(ctx, textMsg("第一条消息"))

	// 重新进入：旧会话连同已收集的消息一起作废
	manager.HandleMessage(ctx, textMsg("ncc"))
	sess, ok := manager.store.Get(operator)
	require.True(t, ok)
	assert.Equal(t, StateMenu, sess.State)
	assert.Empty(t, sess.Messages)
	assert.Contains(t, lastReply(t, sender), "NCC 社群管理")
}

func TestManagerMenuInvalidChoice(t *testing.T) {
	manager, sender, _, _, _ := newTestManager()
	ctx := context.Background()

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("9"))
	assert.Contains(t, lastReply(t, sender), "正确的菜单编号")

	sess, _ := manager.store.Get(operator)
	assert.Equal(t, StateMenu, sess.State)
}

func TestManagerRefresh(t *testing.T) {
	manager, sender, dir, _, _ := newTestManager()
	ctx := context.Background()

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("2"))
	assert.Equal(t, 1, dir.refreshes)
	assert.Contains(t, lastReply(t, sender), "已刷新")

	dir.refreshErr = errors.New("notion is down")
	manager.HandleMessage(ctx, textMsg("2"))
	assert.Contains(t, lastReply(t, sender), "刷新列表失败")
	// 失败后留在菜单态
	sess, _ := manager.store.Get(operator)
	assert.Equal(t, StateMenu, sess.State)
}

func TestManagerNotionLinkAndAdminList(t *testing.T) {
	manager, sender, _, _, _ := newTestManager()
	ctx := context.Background()

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("3"))
	assert.Contains(t, lastReply(t, sender), "https://notion.so/ncc-lists")

	manager.HandleMessage(ctx, textMsg("4"))
	assert.Contains(t, lastReply(t, sender), "管理员A")
}

func TestManagerProceedWithoutMessages(t *testing.T) {
	manager, sender, _, _, _ := newTestManager()
	ctx := context.Background()

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("1"))
	manager.HandleMessage(ctx, textMsg("选择群聊"))

	assert.Contains(t, lastReply(t, sender), "还没有收集到任何消息")
	sess, _ := manager.store.Get(operator)
	assert.Equal(t, StateCollecting, sess.State)
}

func TestManagerCollectMixedMessages(t *testing.T) {
	manager, sender, _, dl, _ := newTestManager()
	ctx := context.Background()

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("1"))
	manager.HandleMessage(ctx, textMsg("文字内容"))
	manager.HandleMessage(ctx, imageMsg(100))
	manager.HandleMessage(ctx, &wcf.Message{ID: 200, Type: wcf.MsgTypeApp, Sender: operator})

	assert.Equal(t, 1, dl.calls)
	sess, _ := manager.store.Get(operator)
	require.Len(t, sess.Messages, 3)
	assert.Equal(t, TextMessage{Content: "文字内容"}, sess.Messages[0])
	assert.Equal(t, ImageMessage{LocalPath: "/data/forward/img_100.jpg"}, sess.Messages[1])
	assert.Equal(t, RefMessage{MsgID: 200}, sess.Messages[2])
	assert.Contains(t, lastReply(t, sender), "已收集 3 条消息")
}

func TestManagerImageDownloadFailureRejectsMessage(t *testing.T) {
	manager, sender, _, dl, _ := newTestManager()
	ctx := context.Background()
	dl.err = errors.New("bridge timeout")

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("1"))
	manager.HandleMessage(ctx, imageMsg(100))

	assert.Contains(t, lastReply(t, sender), "图片保存失败")
	sess, _ := manager.store.Get(operator)
	assert.Empty(t, sess.Messages)
}

func TestManagerSelectionPrompt(t *testing.T) {
	manager, sender, _, _, _ := newTestManager()
	ctx := context.Background()

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("1"))
	manager.HandleMessage(ctx, textMsg("内容"))
	manager.HandleMessage(ctx, textMsg("选择群聊"))

	prompt := lastReply(t, sender)
	assert.Contains(t, prompt, "1. 全部转发群")
	assert.Contains(t, prompt, "2. 社区公告")
	assert.Contains(t, prompt, "3. 活动通知")

	sess, _ := manager.store.Get(operator)
	assert.Equal(t, StateSelecting, sess.State)
}

func TestManagerSelectorAllGroups(t *testing.T) {
	manager, _, dir, _, dispatcher := newTestManager()
	ctx := context.Background()

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("1"))
	manager.HandleMessage(ctx, textMsg("内容"))
	manager.HandleMessage(ctx, textMsg("选择群聊"))
	manager.HandleMessage(ctx, textMsg("1"))

	require.Equal(t, 1, dispatcher.Pending())
	job := dispatcher.queue[0]
	assert.Equal(t, dir.all, job.Targets)
	assert.Equal(t, "全部转发群", job.TargetDesc)
	// 任务入队后会话结束
	assert.False(t, manager.Active(operator))
}

func TestManagerSelectorUnionDeduplicates(t *testing.T) {
	manager, _, _, _, dispatcher := newTestManager()
	ctx := context.Background()

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("1"))
	manager.HandleMessage(ctx, textMsg("内容"))
	manager.HandleMessage(ctx, textMsg("选择群聊"))
	manager.HandleMessage(ctx, textMsg("2+3"))

	require.Equal(t, 1, dispatcher.Pending())
	job := dispatcher.queue[0]
	// g2 同时在两个列表里，只出现一次
	assert.Equal(t, []string{"g1@chatroom", "g2@chatroom", "g3@chatroom"}, job.Targets)
}

func TestManagerSelectorInvalid(t *testing.T) {
	manager, sender, _, _, dispatcher := newTestManager()
	ctx := context.Background()

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("1"))
	manager.HandleMessage(ctx, textMsg("内容"))
	manager.HandleMessage(ctx, textMsg("选择群聊"))
	manager.HandleMessage(ctx, textMsg("abc"))

	assert.Contains(t, lastReply(t, sender), "正确的列表编号")
	assert.Zero(t, dispatcher.Pending())
	sess, _ := manager.store.Get(operator)
	assert.Equal(t, StateSelecting, sess.State)
}

func TestManagerSelectorEmptyResult(t *testing.T) {
	manager, sender, _, _, dispatcher := newTestManager()
	ctx := context.Background()

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("1"))
	manager.HandleMessage(ctx, textMsg("内容"))
	manager.HandleMessage(ctx, textMsg("选择群聊"))
	manager.HandleMessage(ctx, textMsg("99"))

	assert.Contains(t, lastReply(t, sender), "没有可转发的群")
	assert.Zero(t, dispatcher.Pending())
	assert.True(t, manager.Active(operator))
}

// 完整走一遍：进入 → 收集 → 选择 → 异步投递 → 汇报
func TestManagerForwardEndToEnd(t *testing.T) {
	manager, sender, dir, _, dispatcher := newTestManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("1"))
	manager.HandleMessage(ctx, textMsg("第一条"))
	manager.HandleMessage(ctx, textMsg("第二条"))
	manager.HandleMessage(ctx, textMsg("选择群聊"))
	manager.HandleMessage(ctx, textMsg("1"))

	require.Eventually(t, func() bool {
		for _, reply := range sender.deliveredTo(operator) {
			if strings.Contains(reply, "转发完成") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "summary should arrive")

	groupDeliveries := sender.groupDeliveries(operator)
	assert.Len(t, groupDeliveries, 2*len(dir.all))

	var summary string
	for _, reply := range sender.deliveredTo(operator) {
		if strings.Contains(reply, "转发完成") {
			summary = reply
		}
	}
	assert.Contains(t, summary, fmt.Sprintf("成功 %d 条，失败 0 条", 2*len(dir.all)))
}

func TestManagerWelcomeFlowNoGroups(t *testing.T) {
	manager, sender, _, _, _ := newTestManager()
	ctx := context.Background()

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("5"))

	assert.Contains(t, lastReply(t, sender), "暂无启用迎新推送的群")
	sess, _ := manager.store.Get(operator)
	assert.Equal(t, StateMenu, sess.State)
}

func TestManagerWelcomeFlowConfigure(t *testing.T) {
	manager, sender, dir, _, _ := newTestManager()
	ctx := context.Background()
	dir.welcomeGroups = []*models.Group{
		{Wxid: "g5@chatroom", Name: "迎新群", WelcomeEnabled: true},
	}

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("5"))
	assert.Contains(t, lastReply(t, sender), "1. 迎新群")

	manager.HandleMessage(ctx, textMsg("1"))
	assert.Contains(t, lastReply(t, sender), "尚未配置")

	manager.HandleMessage(ctx, textMsg("1"))
	manager.HandleMessage(ctx, textMsg("欢迎加入 NCC"))
	manager.HandleMessage(ctx, imageMsg(300))
	manager.HandleMessage(ctx, textMsg("完成"))

	saved := dir.welcomes["g5@chatroom"]
	require.Len(t, saved, 2)
	assert.Equal(t, models.WelcomeTypeText, saved[0].Type)
	assert.Equal(t, "欢迎加入 NCC", saved[0].Content)
	assert.Equal(t, 1, saved[0].Seq)
	assert.Equal(t, models.WelcomeTypeImage, saved[1].Type)
	assert.Equal(t, 2, saved[1].Seq)
	assert.Equal(t, operator, saved[0].Operator)

	assert.Contains(t, lastReply(t, sender), "迎新消息已更新")
	assert.False(t, manager.Active(operator))
}

func TestManagerWelcomeFlowInvalidGroupChoice(t *testing.T) {
	manager, sender, dir, _, _ := newTestManager()
	ctx := context.Background()
	dir.welcomeGroups = []*models.Group{
		{Wxid: "g5@chatroom", Name: "迎新群", WelcomeEnabled: true},
	}

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("5"))
	manager.HandleMessage(ctx, textMsg("7"))

	assert.Contains(t, lastReply(t, sender), "请回复 1-1 之间的编号")
	sess, _ := manager.store.Get(operator)
	assert.Equal(t, StateWelcomeGroupChoice, sess.State)
}

func TestManagerWelcomeDoneWithoutMessages(t *testing.T) {
	manager, sender, dir, _, _ := newTestManager()
	ctx := context.Background()
	dir.welcomeGroups = []*models.Group{
		{Wxid: "g5@chatroom", Name: "迎新群", WelcomeEnabled: true},
	}

	manager.HandleMessage(ctx, textMsg("ncc"))
	manager.HandleMessage(ctx, textMsg("5"))
	manager.HandleMessage(ctx, textMsg("1"))
	manager.HandleMessage(ctx, textMsg("1"))
	manager.HandleMessage(ctx, textMsg("完成"))

	assert.Contains(t, lastReply(t, sender), "还没有收集到任何迎新消息")
	assert.Empty(t, dir.welcomes["g5@chatroom"])
}
