package wcf

import "encoding/json"

// Frame 是 bridge WebSocket 连接上的统一帧格式。
// 三种类型："req"（bot→bridge 调用）、"res"（bridge→bot 应答）、
// "event"（bridge→bot 推送，目前只有收到新消息的 "message" 事件）。
type Frame struct {
	Type    string          `json:"type"`              // "req" | "res" | "event"
	ID      string          `json:"id,omitempty"`      // req/res 关联 ID
	Method  string          `json:"method,omitempty"`  // req: 方法名
	Params  json.RawMessage `json:"params,omitempty"`  // req: 方法参数
	OK      *bool           `json:"ok,omitempty"`      // res: 是否成功
	Payload json.RawMessage `json:"payload,omitempty"` // res: 返回数据
	Error   *ErrorPayload   `json:"error,omitempty"`   // res: 错误详情
	Event   string          `json:"event,omitempty"`   // event: 事件名
}

// ErrorPayload bridge 返回的错误详情
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// bridge 方法名
const (
	methodSendText       = "send_text"
	methodSendImage      = "send_image"
	methodSendRichText   = "send_rich_text"
	methodForwardMsg     = "forward_msg"
	methodDownloadImage  = "download_image"
	methodInviteChatroom = "invite_chatroom_members"
	methodGetSelfWxid    = "get_self_wxid"
)

// eventMessage 是 bridge 推送新消息的事件名
const eventMessage = "message"

type sendTextParams struct {
	Receiver string `json:"receiver"`
	Text     string `json:"text"`
	AtList   string `json:"at_list,omitempty"`
}

type sendImageParams struct {
	Receiver string `json:"receiver"`
	Path     string `json:"path"`
}

type sendRichTextParams struct {
	Receiver string `json:"receiver"`
	Name     string `json:"name"`
	Account  string `json:"account"`
	Title    string `json:"title"`
	Digest   string `json:"digest"`
	URL      string `json:"url"`
	ThumbURL string `json:"thumburl"`
}

type forwardMsgParams struct {
	Receiver string `json:"receiver"`
	MsgID    uint64 `json:"msg_id"`
}

type downloadImageParams struct {
	MsgID uint64 `json:"msg_id"`
	Extra string `json:"extra"`
	Dir   string `json:"dir"`
}

type downloadImageResult struct {
	Path string `json:"path"`
}

type inviteChatroomParams struct {
	RoomID string `json:"room_id"`
	Wxids  string `json:"wxids"`
}

type selfWxidResult struct {
	Wxid string `json:"wxid"`
}
