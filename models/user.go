package models

import "time"

type User struct {
	ID          uint         `json:"id" gorm:"primaryKey"`
	Email       string       `json:"email" gorm:"uniqueIndex"`
	FullName    string       `json:"full_name"`
	Role        string       `json:"role"` // admin, attendant
	IsActive    bool         `json:"is_active"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Departments []Department `json:"departments,omitempty" gorm:"many2many:user_departments"`
}
