package server

import (
	"github.com/labstack/echo/v4"
)

func (s *Server) SetupRoutes(authMiddleware echo.MiddlewareFunc, rateLimitMiddleware echo.MiddlewareFunc) {
	e := s.Echo
	api := e.Group("/api/v1")

	// Webhook routes (unprotected, 渠道回调用不了我们的令牌)
	webhook := api.Group("/webhook")
	{
		webhook.GET("", s.WebhookHandler.Verify)
		webhook.POST("", s.WebhookHandler.Receive)
	}

	// 需要认证
	protected := api.Group("")
	protected.Use(authMiddleware)
	protected.Use(rateLimitMiddleware)
	{
		conversations := protected.Group("/conversations")
		{
			conversations.GET("", s.ConversationHandler.ListConversations)             // 会话列表
			conversations.GET("/:id", s.ConversationHandler.GetConversation)           // 会话详情
			conversations.GET("/:id/messages", s.ConversationHandler.GetMessages)      // 历史消息
			conversations.POST("/:id/messages", s.ConversationHandler.SendMessage)     // 客服回复
			conversations.POST("/:id/takeover", s.ConversationHandler.Takeover)        // 接管
			conversations.POST("/:id/transfer", s.ConversationHandler.Transfer)        // 转接
			conversations.POST("/:id/close", s.ConversationHandler.Close)              // 结束会话
		}
		protected.GET("/ws", s.SocketHandler.HandleWebSocket)
	}
}
