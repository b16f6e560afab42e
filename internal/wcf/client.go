package wcf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jisongniu/WeChatRobot/internal/logger"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Config bridge 客户端配置
type Config struct {
	Addr       string        // WebSocket 地址
	Token      string        // 鉴权 token（可选）
	Timeout    time.Duration // 单次调用超时
	RatePerSec int           // 全局发送速率上限（条/秒）
}

// Client 是 wcferry bridge 的 WebSocket 客户端。
// 所有发送类调用共用一个速率限制器：微信通道是全局共享的，
// 限速必须在最底层做，调用方不感知。
type Client struct {
	addr    string
	token   string
	timeout time.Duration
	limiter *rate.Limiter

	writeMu sync.Mutex // 保护 conn 的写入（发送这一步需要串行）
	conn    *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan Frame

	msgs      chan *Message
	closed    chan struct{}
	closeOnce sync.Once
	seq       atomic.Uint64
}

// Dial 连接 bridge 并启动读取循环
func Dial(cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("wcf bridge address cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}

	c := &Client{
		addr:    cfg.Addr,
		token:   cfg.Token,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		pending: make(map[string]chan Frame),
		msgs:    make(chan *Message, 64),
		closed:  make(chan struct{}),
	}

	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.conn = conn

	go c.readLoop()
	return c, nil
}

func (c *Client) dial() (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(c.addr, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial wcf bridge %s: %w", c.addr, err)
	}
	return conn, nil
}

// Messages 返回 bridge 推送的消息流。客户端关闭时该通道关闭。
func (c *Client) Messages() <-chan *Message {
	return c.msgs
}

// Close 关闭客户端连接
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.writeMu.Unlock()
	})
	return nil
}

// readLoop 持续读取 bridge 帧；连接断开后自动重连
func (c *Client) readLoop() {
	defer close(c.msgs)

	for {
		c.writeMu.Lock()
		conn := c.conn
		c.writeMu.Unlock()

		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			logger.L().Warnf("wcf bridge 连接断开，尝试重连: %v", err)
			c.failPending(fmt.Errorf("bridge connection lost: %w", err))
			if !c.redial() {
				return
			}
			continue
		}

		c.dispatch(frame)
	}
}

// redial 每 5 秒重试一次，直到成功或客户端关闭
func (c *Client) redial() bool {
	for {
		select {
		case <-c.closed:
			return false
		case <-time.After(5 * time.Second):
		}

		conn, err := c.dial()
		if err != nil {
			logger.L().Warnf("wcf bridge 重连失败: %v", err)
			continue
		}

		c.writeMu.Lock()
		c.conn = conn
		c.writeMu.Unlock()
		logger.L().Info("wcf bridge 重连成功")
		return true
	}
}

func (c *Client) dispatch(frame Frame) {
	switch frame.Type {
	case "res":
		c.pendingMu.Lock()
		ch, ok := c.pending[frame.ID]
		c.pendingMu.Unlock()
		if ok {
			ch <- frame
		}
	case "event":
		if frame.Event != eventMessage {
			return
		}
		var msg Message
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			logger.L().Errorf("解析 bridge 消息事件失败: %v", err)
			return
		}
		select {
		case c.msgs <- &msg:
		default:
			// 消息通道满说明消费端卡死，丢弃并告警比阻塞读取循环好
			logger.L().Warnf("消息通道已满，丢弃消息 id=%d", msg.ID)
		}
	}
}

// failPending 给所有在等的调用补一个失败应答。
// 通道里可能已经躺着一个没人收的应答（调用方先超时了），
// 所以只做非阻塞投递，放弃的条目由调用方的 defer 清理。
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ok := false
		select {
		case ch <- Frame{Type: "res", ID: id, OK: &ok, Error: &ErrorPayload{Code: "disconnected", Message: err.Error()}}:
		default:
		}
		delete(c.pending, id)
	}
}

// call 发送一个 req 帧并等待对应的 res 帧
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s params: %w", method, err)
	}

	id := strconv.FormatUint(c.seq.Add(1), 10)
	frame := Frame{Type: "req", ID: id, Method: method, Params: raw}

	ch := make(chan Frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.writeMu.Lock()
	err = c.conn.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s timed out: %w", method, ctx.Err())
	case <-c.closed:
		return nil, fmt.Errorf("%s aborted: client closed", method)
	case res := <-ch:
		if res.OK == nil || !*res.OK {
			if res.Error != nil {
				return nil, fmt.Errorf("%s failed: %s (%s)", method, res.Error.Message, res.Error.Code)
			}
			return nil, fmt.Errorf("%s failed", method)
		}
		return res.Payload, nil
	}
}

// send 与 call 相同，但先过全局速率限制器（所有发送类方法共用）
func (c *Client) send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate wait canceled: %w", method, err)
	}
	return c.call(ctx, method, params)
}

// SendText 发送文本消息
func (c *Client) SendText(ctx context.Context, receiver, text string) error {
	_, err := c.send(ctx, methodSendText, sendTextParams{Receiver: receiver, Text: text})
	return err
}

// SendImage 发送本地图片
func (c *Client) SendImage(ctx context.Context, receiver, path string) error {
	_, err := c.send(ctx, methodSendImage, sendImageParams{Receiver: receiver, Path: path})
	return err
}

// ForwardRef 按消息 ID 转发一条已有消息（公众号推文、合并转发等）
func (c *Client) ForwardRef(ctx context.Context, receiver string, msgID uint64) error {
	_, err := c.send(ctx, methodForwardMsg, forwardMsgParams{Receiver: receiver, MsgID: msgID})
	return err
}

// SendRichText 发送富文本小卡片（迎新消息）
func (c *Client) SendRichText(ctx context.Context, receiver, name, account, title, digest, url string) error {
	_, err := c.send(ctx, methodSendRichText, sendRichTextParams{
		Receiver: receiver,
		Name:     name,
		Account:  account,
		Title:    title,
		Digest:   digest,
		URL:      url,
	})
	return err
}

// InviteChatroomMembers 邀请用户进群
func (c *Client) InviteChatroomMembers(ctx context.Context, roomID, wxid string) error {
	_, err := c.send(ctx, methodInviteChatroom, inviteChatroomParams{RoomID: roomID, Wxids: wxid})
	return err
}

// DownloadImage 让 bridge 把图片消息落盘到 dir，返回本地路径。
// 下载可能很慢，不占用发送速率配额。
func (c *Client) DownloadImage(ctx context.Context, msgID uint64, extra, dir string) (string, error) {
	payload, err := c.call(ctx, methodDownloadImage, downloadImageParams{MsgID: msgID, Extra: extra, Dir: dir})
	if err != nil {
		return "", err
	}
	var result downloadImageResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return "", fmt.Errorf("failed to decode download_image result: %w", err)
	}
	if result.Path == "" {
		return "", fmt.Errorf("download_image returned empty path for msg %d", msgID)
	}
	return result.Path, nil
}

// GetSelfWxid 获取机器人自己的 wxid
func (c *Client) GetSelfWxid(ctx context.Context) (string, error) {
	payload, err := c.call(ctx, methodGetSelfWxid, struct{}{})
	if err != nil {
		return "", err
	}
	var result selfWxidResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return "", fmt.Errorf("failed to decode get_self_wxid result: %w", err)
	}
	return result.Wxid, nil
}
