package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rodrigoptu12/supportwhatsapp-sub000/models"
	"github.com/rodrigoptu12/supportwhatsapp-sub000/realtime"
	"github.com/rodrigoptu12/supportwhatsapp-sub000/services"
)

// ConversationHandler 客服端的会话接口：列表、历史、回复和人工交接。
// 实时推送不保证送达，列表和历史接口就是客户端的补偿拉取通道。
type ConversationHandler struct {
	conversations *services.ConversationService
	handoff       *services.HandoffService
	notifier      services.Notifier
	sender        services.OutboundSender
}

func NewConversationHandler(conversations *services.ConversationService, handoff *services.HandoffService,
	notifier services.Notifier, sender services.OutboundSender) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		handoff:       handoff,
		notifier:      notifier,
		sender:        sender,
	}
}

func (h *ConversationHandler) ListConversations(c echo.Context) error {
	status := c.QueryParam("status") // open, waiting, closed
	conversations, err := h.conversations.ListConversations(status)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to fetch conversations",
		})
	}
	return c.JSON(http.StatusOK, conversations)
}

func (h *ConversationHandler) GetConversation(c echo.Context) error {
	conversationID, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
	}
	conversation, err := h.conversations.GetConversation(conversationID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, conversation)
}

// 获取历史消息（自动把客户消息标记为已读）
func (h *ConversationHandler) GetMessages(c echo.Context) error {
	conversationID, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	messages, err := h.conversations.ListMessages(conversationID, limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to fetch messages",
		})
	}
	return c.JSON(http.StatusOK, messages)
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage 客服回复客户：落库、发渠道、推房间
func (h *ConversationHandler) SendMessage(c echo.Context) error {
	user := c.Get("user").(*models.User)
	conversationID, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil || req.Content == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "content is required"})
	}

	conversation, err := h.conversations.GetConversation(conversationID)
	if err != nil {
		return h.mapError(c, err)
	}
	if conversation.Status == models.ConversationClosed {
		return c.JSON(http.StatusConflict, map[string]string{"error": "conversation is closed"})
	}

	message := models.Message{
		ConversationID: conversation.ID,
		SenderType:     models.SenderAttendant,
		SenderUserID:   &user.ID,
		Content:        req.Content,
		MessageType:    "text",
		SentAt:         time.Now(),
	}
	if err := h.conversations.SaveMessage(&message); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to save message"})
	}

	// 渠道发送失败不影响已落库的消息，客服端会看到发送状态
	if err := h.sender.SendText(c.Request().Context(), conversation.Customer.Phone, req.Content); err != nil {
		log.Printf("[Conversation] Failed to send message to %s: %v", conversation.Customer.Phone, err)
	}

	payload := messagePayload(&message, conversation.Customer.Name)
	h.notifier.EmitToRoom(conversation.ID, realtime.EventNewMessage, payload)
	h.notifier.BroadcastAttendants(context.Background(), realtime.EventNewMessage, payload)

	return c.JSON(http.StatusOK, message)
}

// Takeover 接管会话
func (h *ConversationHandler) Takeover(c echo.Context) error {
	user := c.Get("user").(*models.User)
	conversationID, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
	}

	conversation, err := h.handoff.Takeover(c.Request().Context(), conversationID, user.ID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, conversation)
}

type TransferRequest struct {
	ToUserID uint   `json:"to_user_id"`
	Reason   string `json:"reason"`
}

// Transfer 转接给别的客服
func (h *ConversationHandler) Transfer(c echo.Context) error {
	user := c.Get("user").(*models.User)
	conversationID, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
	}

	var req TransferRequest
	if err := c.Bind(&req); err != nil || req.ToUserID == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "to_user_id is required"})
	}

	conversation, err := h.handoff.Transfer(c.Request().Context(), conversationID, user.ID, req.ToUserID, req.Reason)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, conversation)
}

// Close 结束会话
func (h *ConversationHandler) Close(c echo.Context) error {
	conversationID, err := parseID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
	}

	conversation, err := h.handoff.Close(c.Request().Context(), conversationID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, conversation)
}

func (h *ConversationHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	case errors.Is(err, services.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "user not found"})
	case errors.Is(err, services.ErrAlreadyOwned):
		return c.JSON(http.StatusConflict, map[string]string{"error": "conversation already owned"})
	case errors.Is(err, services.ErrConversationClosed):
		return c.JSON(http.StatusConflict, map[string]string{"error": "conversation is closed"})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func parseID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
