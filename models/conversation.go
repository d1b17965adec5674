package models

import "time"

const (
	ConversationOpen    = "open"
	ConversationWaiting = "waiting"
	ConversationClosed  = "closed"
)

const (
	MenuLevelMain                = "main"
	MenuLevelDepartmentSelection = "department_selection"
)

type Conversation struct {
	ID                  uint       `json:"id" gorm:"primaryKey"`
	CustomerID          uint       `json:"customer_id" gorm:"index"`
	AssignedUserID      *uint      `json:"assigned_user_id"`
	Status              string     `json:"status" gorm:"index"` // open, waiting, closed
	CurrentMenuLevel    string     `json:"current_menu_level"`
	IsBotActive         bool       `json:"is_bot_active"`
	NeedsHumanAttention bool       `json:"needs_human_attention"`
	DepartmentID        *uint      `json:"department_id"`
	StartedAt           time.Time  `json:"started_at"`
	EndedAt             *time.Time `json:"ended_at"`
	LastMessageAt       time.Time  `json:"last_message_at"`
	// 关联
	Customer     Customer    `json:"customer,omitempty" gorm:"foreignKey:CustomerID"`
	AssignedUser *User       `json:"assigned_user,omitempty" gorm:"foreignKey:AssignedUserID"`
	Department   *Department `json:"department,omitempty" gorm:"foreignKey:DepartmentID"`
}
