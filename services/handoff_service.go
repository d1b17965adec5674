package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/rodrigoptu12/supportwhatsapp-sub000/models"
	"github.com/rodrigoptu12/supportwhatsapp-sub000/realtime"
)

var (
	ErrAlreadyOwned       = errors.New("conversation already owned by this user")
	ErrConversationClosed = errors.New("conversation is closed")
)

const (
	TemplateAttendantConnected = "attendant_connected"
	TemplateConversationClosed = "conversation_closed"

	FallbackAttendantConnected = "Você agora está falando com *{attendant}*."
	FallbackConversationClosed = "Atendimento encerrado. Obrigado pelo contato! 😊"
)

// HandoffService 会话的人工交接：接管、转接、关闭。
// 每次状态变更都追加一条 ConversationTransfer 审计记录。
// 对客户的渠道通知是尽力而为的：发送失败只记日志，绝不回滚已完成的状态变更。
type HandoffService struct {
	db        *gorm.DB
	notifier  Notifier
	sender    OutboundSender
	templates *TemplateService
	directory *DirectoryService
	events    EventPublisher
}

func NewHandoffService(db *gorm.DB, notifier Notifier, sender OutboundSender,
	templates *TemplateService, directory *DirectoryService, events EventPublisher) *HandoffService {
	return &HandoffService{
		db:        db,
		notifier:  notifier,
		sender:    sender,
		templates: templates,
		directory: directory,
		events:    events,
	}
}

// Takeover 客服接管会话。已经是自己名下的人工会话再点一次接管会被拒绝
// （防止前端重复点击），但两个不同客服先后接管同一会话都会成功，后写覆盖。
func (s *HandoffService) Takeover(ctx context.Context, conversationID, userID uint) (*models.Conversation, error) {
	conversation, err := s.loadConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if conversation.Status == models.ConversationClosed {
		return nil, ErrConversationClosed
	}
	if !conversation.IsBotActive && conversation.AssignedUserID != nil && *conversation.AssignedUserID == userID {
		return nil, ErrAlreadyOwned
	}

	attendant, err := s.directory.GetUser(userID)
	if err != nil {
		return nil, err
	}

	fromUserID := conversation.AssignedUserID
	updates := map[string]interface{}{
		"assigned_user_id":      userID,
		"is_bot_active":         false,
		"needs_human_attention": false,
		"status":                models.ConversationOpen,
	}
	if err := s.db.Model(&models.Conversation{}).Where("id = ?", conversation.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	conversation.AssignedUserID = &userID
	conversation.IsBotActive = false
	conversation.NeedsHumanAttention = false
	conversation.Status = models.ConversationOpen

	s.recordTransfer(conversation.ID, fromUserID, userID, "takeover")

	// 渠道通知与状态变更解耦，失败不影响接管结果
	notice := Render(s.templates.Lookup(TemplateAttendantConnected, FallbackAttendantConnected),
		map[string]string{"attendant": attendant.FullName})
	if err := s.sender.SendText(ctx, conversation.Customer.Phone, notice); err != nil {
		log.Printf("[Handoff] Failed to notify customer of takeover on conversation %d: %v", conversation.ID, err)
	}

	payload := conversationPayload(conversation)
	s.notifier.EmitToRoom(conversation.ID, realtime.EventConversationUpdate, payload)
	s.notifier.BroadcastAttendants(ctx, realtime.EventConversationUpdate, payload)

	if s.events != nil {
		s.events.Publish("conversation.handoff", fmt.Sprintf("%d", conversation.ID), payload)
	}

	return conversation, nil
}

// Transfer 客服之间转接。不碰 is_bot_active；除了审计记录外还会写一条
// system 消息留在会话历史里（不发给客户）。实时通知只发给转出和转入
// 两个客服，刻意比接管的广播范围窄。
func (s *HandoffService) Transfer(ctx context.Context, conversationID, fromUserID, toUserID uint, reason string) (*models.Conversation, error) {
	conversation, err := s.loadConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if conversation.Status == models.ConversationClosed {
		return nil, ErrConversationClosed
	}

	fromUser, err := s.directory.GetUser(fromUserID)
	if err != nil {
		return nil, err
	}
	toUser, err := s.directory.GetUser(toUserID)
	if err != nil {
		return nil, err
	}

	if err := s.db.Model(&models.Conversation{}).Where("id = ?", conversation.ID).
		Update("assigned_user_id", toUserID).Error; err != nil {
		return nil, err
	}
	conversation.AssignedUserID = &toUserID

	s.recordTransfer(conversation.ID, &fromUserID, toUserID, reason)

	content := fmt.Sprintf("Conversa transferida de %s para %s.", fromUser.FullName, toUser.FullName)
	if reason != "" {
		content += " Motivo: " + reason
	}
	systemMessage := models.Message{
		ConversationID: conversation.ID,
		SenderType:     models.SenderSystem,
		Content:        content,
		MessageType:    "text",
		SentAt:         time.Now(),
	}
	if err := s.db.Create(&systemMessage).Error; err != nil {
		log.Printf("[Handoff] Failed to record transfer message on conversation %d: %v", conversation.ID, err)
	}

	payload := conversationPayload(conversation)
	s.notifier.EmitToUser(ctx, fromUserID, realtime.EventConversationUpdate, payload)
	s.notifier.EmitToUser(ctx, toUserID, realtime.EventConversationUpdate, payload)

	if s.events != nil {
		s.events.Publish("conversation.transfer", fmt.Sprintf("%d", conversation.ID), payload)
	}

	return conversation, nil
}

// Close 结束会话。closed 是终态，再次关闭或转接都会被拒绝。
func (s *HandoffService) Close(ctx context.Context, conversationID uint) (*models.Conversation, error) {
	conversation, err := s.loadConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if conversation.Status == models.ConversationClosed {
		return nil, ErrConversationClosed
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":        models.ConversationClosed,
		"ended_at":      now,
		"is_bot_active": false,
	}
	if err := s.db.Model(&models.Conversation{}).Where("id = ?", conversation.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	conversation.Status = models.ConversationClosed
	conversation.EndedAt = &now
	conversation.IsBotActive = false

	notice := s.templates.Lookup(TemplateConversationClosed, FallbackConversationClosed)
	if err := s.sender.SendText(ctx, conversation.Customer.Phone, notice); err != nil {
		log.Printf("[Handoff] Failed to notify customer of close on conversation %d: %v", conversation.ID, err)
	}

	payload := conversationPayload(conversation)
	s.notifier.EmitToRoom(conversation.ID, realtime.EventConversationUpdate, payload)
	s.notifier.BroadcastAttendants(ctx, realtime.EventConversationUpdate, payload)

	if s.events != nil {
		s.events.Publish("conversation.closed", fmt.Sprintf("%d", conversation.ID), payload)
	}

	return conversation, nil
}

func (s *HandoffService) loadConversation(conversationID uint) (*models.Conversation, error) {
	var conversation models.Conversation
	err := s.db.Preload("Customer").First(&conversation, conversationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conversation, nil
}

// 审计记录写失败只记日志：状态变更已经生效，这里不做补偿
func (s *HandoffService) recordTransfer(conversationID uint, fromUserID *uint, toUserID uint, reason string) {
	transfer := models.ConversationTransfer{
		ConversationID: conversationID,
		FromUserID:     fromUserID,
		ToUserID:       toUserID,
		Reason:         reason,
		CreatedAt:      time.Now(),
	}
	if err := s.db.Create(&transfer).Error; err != nil {
		log.Printf("[Handoff] Failed to record transfer audit for conversation %d: %v", conversationID, err)
	}
}

func conversationPayload(conversation *models.Conversation) map[string]interface{} {
	return map[string]interface{}{
		"conversation_id":       conversation.ID,
		"customer_id":           conversation.CustomerID,
		"assigned_user_id":      conversation.AssignedUserID,
		"status":                conversation.Status,
		"is_bot_active":         conversation.IsBotActive,
		"needs_human_attention": conversation.NeedsHumanAttention,
		"department_id":         conversation.DepartmentID,
		"ended_at":              conversation.EndedAt,
	}
}
