package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rodrigoptu12/supportwhatsapp-sub000/models"
	"github.com/rodrigoptu12/supportwhatsapp-sub000/realtime"
	"github.com/rodrigoptu12/supportwhatsapp-sub000/services"
)

// WebhookHandler 接收渠道的事件回调，是整条入站链路的编排入口。
// 必须先回 2xx 再处理：渠道把非 2xx 或超时当作投递失败并不断重试，
// 先确认能把重试风暴挡在门外。确认之后的任何处理失败只记日志，
// 不再反馈给渠道——这是刻意的"收到即不再重试"策略。
type WebhookHandler struct {
	verifyToken   string
	conversations *services.ConversationService
	bot           *services.BotService
	notifier      services.Notifier
	sender        services.OutboundSender
	events        services.EventPublisher
}

func NewWebhookHandler(verifyToken string, conversations *services.ConversationService,
	bot *services.BotService, notifier services.Notifier, sender services.OutboundSender,
	events services.EventPublisher) *WebhookHandler {
	return &WebhookHandler{
		verifyToken:   verifyToken,
		conversations: conversations,
		bot:           bot,
		notifier:      notifier,
		sender:        sender,
		events:        events,
	}
}

// 渠道回调的载荷结构
type webhookPayload struct {
	Entry []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Field string       `json:"field"`
	Value webhookValue `json:"value"`
}

type webhookValue struct {
	Messages []inboundMessage `json:"messages"`
	Contacts []inboundContact `json:"contacts"`
}

type inboundContact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type inboundMessage struct {
	From      string        `json:"from"`
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Timestamp string        `json:"timestamp"`
	Text      *textContent  `json:"text"`
	Image     *mediaContent `json:"image"`
	Audio     *mediaContent `json:"audio"`
	Document  *mediaContent `json:"document"`
}

type textContent struct {
	Body string `json:"body"`
}

type mediaContent struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

// Verify 渠道的握手校验：令牌一致就原样回显 challenge，否则 403
func (h *WebhookHandler) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken {
		return c.String(http.StatusOK, challenge)
	}
	return c.NoContent(http.StatusForbidden)
}

// Receive 接收一批变更事件，确认后异步处理
func (h *WebhookHandler) Receive(c echo.Context) error {
	var payload webhookPayload
	if err := c.Bind(&payload); err != nil {
		// 解析不了也回 200，避免渠道重发同一个坏载荷
		log.Printf("[Webhook] Failed to parse payload: %v", err)
		return c.String(http.StatusOK, "EVENT_RECEIVED")
	}

	go h.process(payload)

	return c.String(http.StatusOK, "EVENT_RECEIVED")
}

func (h *WebhookHandler) process(payload webhookPayload) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Webhook] panic while processing payload: %v", r)
		}
	}()

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			// 只关心消息变更，状态回执等其他 field 直接忽略
			if change.Field != "messages" || len(change.Value.Messages) == 0 {
				continue
			}
			name := ""
			if len(change.Value.Contacts) > 0 {
				name = change.Value.Contacts[0].Profile.Name
			}
			for _, msg := range change.Value.Messages {
				if err := h.processMessage(name, msg); err != nil {
					log.Printf("[Webhook] Failed to process message %s: %v", msg.ID, err)
				}
			}
		}
	}
}

func (h *WebhookHandler) processMessage(contactName string, msg inboundMessage) error {
	ctx := context.Background()

	customer, err := h.conversations.ResolveCustomer(msg.From, contactName)
	if err != nil {
		return err
	}

	conversation, _, err := h.conversations.GetOrCreate(customer.ID)
	if err != nil {
		return err
	}

	content, mediaURL := extractContent(msg)

	// 没有按渠道消息ID去重：同一事件重投会产生重复的消息记录
	message := models.Message{
		ConversationID:    conversation.ID,
		SenderType:        models.SenderCustomer,
		Content:           content,
		MessageType:       msg.Type,
		MediaURL:          mediaURL,
		ExternalMessageID: msg.ID,
		SentAt:            parseTimestamp(msg.Timestamp),
	}
	if err := h.conversations.SaveMessage(&message); err != nil {
		return err
	}

	if h.events != nil {
		h.events.Publish("message.received", fmt.Sprintf("%d", conversation.ID), map[string]interface{}{
			"conversation_id": conversation.ID,
			"customer_id":     customer.ID,
			"message_id":      message.ID,
		})
	}

	// 新消息三路分发：会话房间、已分配的客服、全部在线客服（刷新会话列表）
	payload := messagePayload(&message, customer.Name)
	h.notifier.EmitToRoom(conversation.ID, realtime.EventNewMessage, payload)
	if conversation.AssignedUserID != nil {
		h.notifier.EmitToUser(ctx, *conversation.AssignedUserID, realtime.EventNewMessage, payload)
	}
	h.notifier.BroadcastAttendants(ctx, realtime.EventNewMessage, payload)

	if conversation.IsBotActive {
		h.runBot(ctx, conversation, customer, content)
	}

	return nil
}

// runBot 调用菜单机器人并应用其返回的增量更新；
// 如果机器人决定转交部门，通知该部门的在线客服有新会话待接
func (h *WebhookHandler) runBot(ctx context.Context, conversation *models.Conversation, customer *models.Customer, input string) {
	result := h.bot.HandleInput(conversation, input)

	if err := h.conversations.ApplyBotResult(conversation, result); err != nil {
		log.Printf("[Webhook] Failed to apply bot update on conversation %d: %v", conversation.ID, err)
	}

	if result.Reply == "" {
		return
	}

	reply := models.Message{
		ConversationID: conversation.ID,
		SenderType:     models.SenderBot,
		Content:        result.Reply,
		MessageType:    "text",
		SentAt:         time.Now(),
	}
	if err := h.conversations.SaveMessage(&reply); err != nil {
		log.Printf("[Webhook] Failed to save bot reply on conversation %d: %v", conversation.ID, err)
	}

	if err := h.sender.SendText(ctx, customer.Phone, result.Reply); err != nil {
		log.Printf("[Webhook] Failed to send bot reply to %s: %v", customer.Phone, err)
	}

	replyPayload := messagePayload(&reply, customer.Name)
	h.notifier.EmitToRoom(conversation.ID, realtime.EventNewMessage, replyPayload)
	h.notifier.BroadcastAttendants(ctx, realtime.EventNewMessage, replyPayload)

	if result.NeedsHuman != nil && *result.NeedsHuman {
		handoffPayload := map[string]interface{}{
			"conversation_id": conversation.ID,
			"customer_id":     customer.ID,
			"customer_name":   customer.Name,
			"department_id":   result.DepartmentID,
		}
		if result.DepartmentID != nil {
			h.notifier.BroadcastDepartment(ctx, *result.DepartmentID, realtime.EventNewConversation, handoffPayload)
		} else {
			// 没有可选部门时也要有人接，广播给所有在线客服
			h.notifier.BroadcastAttendants(ctx, realtime.EventNewConversation, handoffPayload)
		}
		if h.events != nil {
			h.events.Publish("conversation.handoff", fmt.Sprintf("%d", conversation.ID), handoffPayload)
		}
	}
}

func extractContent(msg inboundMessage) (content, mediaURL string) {
	switch {
	case msg.Text != nil:
		return msg.Text.Body, ""
	case msg.Image != nil:
		return msg.Image.Caption, msg.Image.ID
	case msg.Audio != nil:
		return "", msg.Audio.ID
	case msg.Document != nil:
		return msg.Document.Caption, msg.Document.ID
	default:
		return "", ""
	}
}

func parseTimestamp(ts string) time.Time {
	seconds, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(seconds, 0)
}

func messagePayload(message *models.Message, customerName string) map[string]interface{} {
	return map[string]interface{}{
		"id":              message.ID,
		"conversation_id": message.ConversationID,
		"sender_type":     message.SenderType,
		"sender_user_id":  message.SenderUserID,
		"content":         message.Content,
		"message_type":    message.MessageType,
		"media_url":       message.MediaURL,
		"customer_name":   customerName,
		"sent_at":         message.SentAt,
	}
}
