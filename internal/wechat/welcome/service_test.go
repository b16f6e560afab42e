package welcome

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/jisongniu/WeChatRobot/internal/wcf"
	"github.com/jisongniu/WeChatRobot/internal/wechat/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
}

func (r *recorder) SendText(ctx context.Context, receiver, text string) error {
	r.calls = append(r.calls, fmt.Sprintf("text:%s:%s", receiver, text))
	return nil
}

func (r *recorder) SendImage(ctx context.Context, receiver, path string) error {
	r.calls = append(r.calls, fmt.Sprintf("image:%s:%s", receiver, path))
	return nil
}

func (r *recorder) ForwardRef(ctx context.Context, receiver string, msgID uint64) error {
	r.calls = append(r.calls, fmt.Sprintf("ref:%s:%s", receiver, strconv.FormatUint(msgID, 10)))
	return nil
}

func (r *recorder) SendRichText(ctx context.Context, receiver, name, account, title, digest, url string) error {
	r.calls = append(r.calls, fmt.Sprintf("card:%s:%s:%s", receiver, title, url))
	return nil
}

type fakeDirectory struct {
	groups   map[string]*models.Group
	welcomes map[string][]*models.WelcomeMessage
}

func (f *fakeDirectory) Group(wxid string) (*models.Group, bool) {
	g, ok := f.groups[wxid]
	return g, ok
}

func (f *fakeDirectory) WelcomeMessages(groupWxid string) []*models.WelcomeMessage {
	return f.welcomes[groupWxid]
}

func newTestService() (*Service, *recorder, *fakeDirectory) {
	dir := &fakeDirectory{
		groups: map[string]*models.Group{
			"g1@chatroom": {
				Wxid:           "g1@chatroom",
				Name:           "迎新群",
				WelcomeEnabled: true,
				WelcomeURL:     "https://mp.weixin.qq.com/s/welcome",
			},
			"g2@chatroom": {Wxid: "g2@chatroom", Name: "普通群"},
		},
		welcomes: map[string][]*models.WelcomeMessage{},
	}
	rec := &recorder{}
	svc := NewService(dir, rec)
	svc.pause = 0
	return svc, rec, dir
}

func systemMsg(roomID, content string) *wcf.Message {
	return &wcf.Message{Type: wcf.MsgTypeSystem, RoomID: roomID, Content: content}
}

func TestServiceInviteJoin(t *testing.T) {
	svc, rec, _ := newTestService()

	handled := svc.HandleSystemMessage(context.Background(),
		systemMsg("g1@chatroom", `"张三"邀请"李四"加入了群聊`))
	require.True(t, handled)

	require.Len(t, rec.calls, 1)
	assert.Contains(t, rec.calls[0], "card:g1@chatroom:欢迎 李四 加入 NCC！")
	assert.Contains(t, rec.calls[0], "https://mp.weixin.qq.com/s/welcome")
}

func TestServiceQRCodeJoin(t *testing.T) {
	svc, rec, _ := newTestService()

	handled := svc.HandleSystemMessage(context.Background(),
		systemMsg("g1@chatroom", `"王五"通过扫描二维码加入群聊`))
	require.True(t, handled)
	require.Len(t, rec.calls, 1)
	assert.Contains(t, rec.calls[0], "欢迎 王五 加入 NCC！")
}

func TestServiceConfiguredSequenceInOrder(t *testing.T) {
	svc, rec, dir := newTestService()
	dir.welcomes["g1@chatroom"] = []*models.WelcomeMessage{
		{Seq: 1, Type: models.WelcomeTypeText, Content: "欢迎加入"},
		{Seq: 2, Type: models.WelcomeTypeImage, Content: "/data/welcome.jpg"},
		{Seq: 3, Type: models.WelcomeTypeMerged, Content: "12345"},
	}

	svc.HandleSystemMessage(context.Background(),
		systemMsg("g1@chatroom", `"张三"邀请"李四"加入了群聊`))

	require.Len(t, rec.calls, 4)
	assert.Contains(t, rec.calls[0], "card:")
	assert.Equal(t, "text:g1@chatroom:欢迎加入", rec.calls[1])
	assert.Equal(t, "image:g1@chatroom:/data/welcome.jpg", rec.calls[2])
	assert.Equal(t, "ref:g1@chatroom:12345", rec.calls[3])
}

func TestServiceDisabledGroupIgnored(t *testing.T) {
	svc, rec, _ := newTestService()

	handled := svc.HandleSystemMessage(context.Background(),
		systemMsg("g2@chatroom", `"张三"邀请"李四"加入了群聊`))
	assert.False(t, handled)
	assert.Empty(t, rec.calls)
}

func TestServiceUnknownGroupIgnored(t *testing.T) {
	svc, rec, _ := newTestService()

	handled := svc.HandleSystemMessage(context.Background(),
		systemMsg("unknown@chatroom", `"张三"邀请"李四"加入了群聊`))
	assert.False(t, handled)
	assert.Empty(t, rec.calls)
}

func TestServiceNonJoinSystemMessageIgnored(t *testing.T) {
	svc, rec, _ := newTestService()

	handled := svc.HandleSystemMessage(context.Background(),
		systemMsg("g1@chatroom", `"张三"修改群名为"新群名"`))
	assert.False(t, handled)
	assert.Empty(t, rec.calls)
}

func TestServicePrivateMessageIgnored(t *testing.T) {
	svc, rec, _ := newTestService()

	msg := &wcf.Message{Type: wcf.MsgTypeSystem, Sender: "wxid_x", Content: `"李四"通过扫描二维码加入群聊`}
	assert.False(t, svc.HandleSystemMessage(context.Background(), msg))
	assert.Empty(t, rec.calls)
}

func TestMatchJoin(t *testing.T) {
	cases := []struct {
		content string
		member  string
		ok      bool
	}{
		{`"张三"邀请"李四"加入了群聊`, "李四", true},
		{`"王五"通过扫描二维码加入群聊`, "王五", true},
		{`"张三"撤回了一条消息`, "", false},
	}
	for _, tc := range cases {
		member, ok := matchJoin(tc.content)
		assert.Equal(t, tc.ok, ok, tc.content)
		assert.Equal(t, tc.member, member, tc.content)
	}
}
