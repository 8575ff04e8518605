package ws

import (
	"sync"
	"time"

	"DeskRelay/pkg/util"
	"DeskRelay/pkg/zlog"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
)

type Client struct {
	id        string
	accountID string
	userID    string
	role      string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}

	// 由 Hub.mu 保护
	scopes map[string]struct{}

	closeOnce sync.Once
}

func NewClient(accountID, userID, role string, conn *websocket.Conn) *Client {
	return &Client{
		id:        util.GenerateShortUUID(),
		accountID: accountID,
		userID:    userID,
		role:      role,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		scopes:    make(map[string]struct{}),
	}
}

func (c *Client) ID() string        { return c.id }
func (c *Client) AccountID() string { return c.accountID }
func (c *Client) UserID() string    { return c.userID }
func (c *Client) Role() string      { return c.role }

// Done 连接被 Hub 关闭后关闭
func (c *Client) Done() <-chan struct{} { return c.done }

// Messages 只读发送队列，测试与 WritePump 使用
func (c *Client) Messages() <-chan []byte { return c.send }

// close 只能由 Hub.Unregister 调用，保证关闭前已不在任何作用域中
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) WritePump() {
	if c.conn == nil {
		return
	}
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			zlog.Warn("ws write failed", zap.Error(err), zap.String("conn_id", c.id))
			_ = c.conn.Close()
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}
