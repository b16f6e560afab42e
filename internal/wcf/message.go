package wcf

import "strings"

// 微信消息类型（与 wcferry 保持一致）
const (
	MsgTypeText   = 1     // 文本
	MsgTypeImage  = 3     // 图片
	MsgTypeApp    = 49    // 应用消息（公众号推文、合并转发等 XML 内容）
	MsgTypeSystem = 10000 // 系统消息（入群、改群名等）
)

// Message bridge 推送的一条微信消息
type Message struct {
	ID      uint64 `json:"id"`      // 消息 ID（转发引用时使用）
	Type    int    `json:"type"`    // 消息类型
	Sender  string `json:"sender"`  // 发送者 wxid
	RoomID  string `json:"room_id"` // 群聊 ID，私聊为空
	Content string `json:"content"` // 消息内容
	Extra   string `json:"extra"`   // 附加数据（图片消息的磁盘线索等）
	IsSelf  bool   `json:"is_self"` // 是否机器人自己发出
}

// FromGroup 是否群聊消息
func (m *Message) FromGroup() bool {
	return strings.HasSuffix(m.RoomID, "@chatroom")
}

// ReplyTarget 回复该消息应使用的接收方：群聊回群，私聊回人
func (m *Message) ReplyTarget() string {
	if m.FromGroup() {
		return m.RoomID
	}
	return m.Sender
}
