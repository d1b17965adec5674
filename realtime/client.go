package realtime

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// Client 代表一个已认证客服的 WebSocket 连接
type Client struct {
	SocketID string // 连接唯一标识（UUID）
	UserID   uint
	FullName string
	Conn     *websocket.Conn
	Send     chan map[string]interface{} // 发送队列（缓冲256条）
	ctx      context.Context
	cancel   context.CancelFunc
	gateway  *Gateway
}

// ReadPump 读取客户端消息并分发给注册的事件处理器。
// 连接关闭时负责注销自己。
func (c *Client) ReadPump() {
	defer func() {
		c.cancel()
		c.gateway.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var env Envelope
		err := c.Conn.ReadJSON(&env)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		c.gateway.dispatch(c, env)
	}
}

// WritePump 向客户端写入消息，定时发 ping 保活
func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteJSON(message); err != nil {
				log.Printf("WriteJSON error: %v", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
