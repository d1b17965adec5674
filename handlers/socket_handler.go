package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/rodrigoptu12/supportwhatsapp-sub000/models"
	"github.com/rodrigoptu12/supportwhatsapp-sub000/realtime"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SocketHandler 客服端实时连接的接入点，认证由路由中间件完成
type SocketHandler struct {
	gateway *realtime.Gateway
}

func NewSocketHandler(gateway *realtime.Gateway) *SocketHandler {
	return &SocketHandler{gateway: gateway}
}

func (h *SocketHandler) HandleWebSocket(c echo.Context) error {
	user := c.Get("user").(*models.User)

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := h.gateway.Register(c.Request().Context(), ws, user.ID, user.FullName)

	// 启动写入goroutine，当前goroutine处理读取
	go client.WritePump()
	client.ReadPump()

	return nil
}
