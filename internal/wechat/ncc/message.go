package ncc

import "fmt"

// CollectedMessage 会话中收集到的一条待转发消息。
// 用封闭的变体类型区分文本、图片和转发引用，
// 非法的字段组合在类型上就不可能出现。
type CollectedMessage interface {
	collected()
	// Describe 返回展示用的简短描述
	Describe() string
}

// TextMessage 文本消息
type TextMessage struct {
	Content string
}

// ImageMessage 已落盘的图片消息。收集时就下载到本地，
// 转发时不再依赖可能过期的远端引用。
type ImageMessage struct {
	LocalPath string
}

// RefMessage 按消息 ID 转发的引用（公众号推文、合并转发、视频号等）
type RefMessage struct {
	MsgID uint64
}

func (TextMessage) collected()  {}
func (ImageMessage) collected() {}
func (RefMessage) collected()   {}

func (m TextMessage) Describe() string {
	content := m.Content
	if len([]rune(content)) > 20 {
		content = string([]rune(content)[:20]) + "…"
	}
	return fmt.Sprintf("[文本] %s", content)
}

func (m ImageMessage) Describe() string { return "[图片]" }

func (m RefMessage) Describe() string { return "[转发引用]" }
