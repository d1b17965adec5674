package services

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/rodrigoptu12/supportwhatsapp-sub000/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationService 客户与会话的解析层。
// 核心约束：同一客户最多只有一条 open/waiting 状态的会话，重复来信必须复用。
type ConversationService struct {
	db *gorm.DB
}

func NewConversationService(db *gorm.DB) *ConversationService {
	return &ConversationService{db: db}
}

// ResolveCustomer 按手机号查客户，不存在则创建。
// 渠道没带昵称时直接用手机号当名字。
func (s *ConversationService) ResolveCustomer(phone, name string) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.Where("phone = ?", phone).First(&customer).Error
	if err == nil {
		return &customer, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if name == "" {
		name = phone
	}
	now := time.Now()
	customer = models.Customer{
		Phone:     phone,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.Create(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// GetOrCreate 返回客户最近一条 open/waiting 会话，没有才新建。
// 新会话由机器人接管，菜单停在主菜单。
func (s *ConversationService) GetOrCreate(customerID uint) (conversation *models.Conversation, created bool, err error) {
	var existing models.Conversation
	err = s.db.
		Where("customer_id = ? AND status IN ?", customerID, []string{models.ConversationOpen, models.ConversationWaiting}).
		Order("started_at DESC").
		First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	now := time.Now()
	conversation = &models.Conversation{
		CustomerID:       customerID,
		Status:           models.ConversationOpen,
		CurrentMenuLevel: models.MenuLevelMain,
		IsBotActive:      true,
		StartedAt:        now,
		LastMessageAt:    now,
	}
	if err := s.db.Create(conversation).Error; err != nil {
		return nil, false, err
	}
	return conversation, true, nil
}

func (s *ConversationService) GetConversation(conversationID uint) (*models.Conversation, error) {
	var conversation models.Conversation
	err := s.db.Preload("Customer").Preload("AssignedUser").Preload("Department").
		First(&conversation, conversationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conversation, nil
}

// SaveMessage 落库一条消息并刷新会话的最后消息时间。消息写入后不再修改。
func (s *ConversationService) SaveMessage(message *models.Message) error {
	if message.SentAt.IsZero() {
		message.SentAt = time.Now()
	}
	if err := s.db.Create(message).Error; err != nil {
		return err
	}
	// 渠道重投或乱序送达时 sent_at 可能早于当前值，last_message_at 只前进不后退
	return s.db.Model(&models.Conversation{}).
		Where("id = ? AND last_message_at < ?", message.ConversationID, message.SentAt).
		Update("last_message_at", message.SentAt).Error
}

// ListConversations 客服端列表，status 为空则全部返回
func (s *ConversationService) ListConversations(status string) ([]models.Conversation, error) {
	var conversations []models.Conversation
	query := s.db.Preload("Customer").Preload("AssignedUser").Preload("Department").
		Order("last_message_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&conversations).Error; err != nil {
		return nil, err
	}
	return conversations, nil
}

// ListMessages 拉取会话历史，并把客户消息标为已读
func (s *ConversationService) ListMessages(conversationID uint, limit, offset int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var messages []models.Message
	err := s.db.Where("conversation_id = ?", conversationID).
		Order("sent_at ASC").
		Limit(limit).Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// 只把这一页里返回的客户消息标为已读，没拉到的页保持未读
	var unreadIDs []uint
	for i := range messages {
		if messages[i].SenderType == models.SenderCustomer && !messages[i].IsRead {
			unreadIDs = append(unreadIDs, messages[i].ID)
		}
	}
	if len(unreadIDs) > 0 {
		err = s.db.Model(&models.Message{}).
			Where("id IN ?", unreadIDs).
			Update("is_read", true).Error
		if err != nil {
			return nil, err
		}
	}
	return messages, nil
}

// ApplyBotResult 把机器人返回的增量字段写回会话。
// 一个字段都没有就完全不写库（主菜单重复输入不产生任何更新）。
func (s *ConversationService) ApplyBotResult(conversation *models.Conversation, result BotResult) error {
	updates := map[string]interface{}{}
	if result.MenuLevel != nil {
		updates["current_menu_level"] = *result.MenuLevel
		conversation.CurrentMenuLevel = *result.MenuLevel
	}
	if result.NeedsHuman != nil {
		updates["needs_human_attention"] = *result.NeedsHuman
		conversation.NeedsHumanAttention = *result.NeedsHuman
	}
	if result.BotActive != nil {
		updates["is_bot_active"] = *result.BotActive
		conversation.IsBotActive = *result.BotActive
	}
	if result.DepartmentID != nil {
		updates["department_id"] = *result.DepartmentID
		conversation.DepartmentID = result.DepartmentID
	}
	if result.Status != nil {
		updates["status"] = *result.Status
		conversation.Status = *result.Status
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.Model(&models.Conversation{}).Where("id = ?", conversation.ID).Updates(updates).Error
}
