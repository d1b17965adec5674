package models

import "time"

const (
	SenderCustomer  = "customer"
	SenderBot       = "bot"
	SenderAttendant = "attendant"
	SenderSystem    = "system"
)

type Message struct {
	ID                uint      `json:"id" gorm:"primaryKey"`
	ConversationID    uint      `json:"conversation_id" gorm:"index"`
	SenderType        string    `json:"sender_type"` // customer, bot, attendant, system
	SenderUserID      *uint     `json:"sender_user_id"`
	Content           string    `json:"content" gorm:"type:text"`
	MessageType       string    `json:"message_type"` // text, image, audio, document...
	MediaURL          string    `json:"media_url"`
	ExternalMessageID string    `json:"external_message_id"` // 渠道侧的消息ID，未做去重
	IsRead            bool      `json:"is_read"`
	SentAt            time.Time `json:"sent_at"`
}
