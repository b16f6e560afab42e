package ncc

// State 操作员会话状态
type State int

const (
	StateIdle               State = iota // 无会话
	StateMenu                            // 已显示主菜单
	StateCollecting                      // 收集待转发消息
	StateSelecting                       // 选择转发列表
	StateWelcomeGroupChoice              // 迎新流程：选择群
	StateWelcomeManage                   // 迎新流程：管理菜单
	StateWelcomeCollecting               // 迎新流程：收集迎新消息
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMenu:
		return "menu"
	case StateCollecting:
		return "collecting"
	case StateSelecting:
		return "selecting"
	case StateWelcomeGroupChoice:
		return "welcome_group_choice"
	case StateWelcomeManage:
		return "welcome_manage"
	case StateWelcomeCollecting:
		return "welcome_collecting"
	default:
		return "unknown"
	}
}
