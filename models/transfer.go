package models

import "time"

// ConversationTransfer 会话流转审计记录，只追加，不修改不删除
type ConversationTransfer struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ConversationID uint      `json:"conversation_id" gorm:"index"`
	FromUserID     *uint     `json:"from_user_id"` // 机器人交接时为空
	ToUserID       uint      `json:"to_user_id"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
}
