package models

import "gorm.io/gorm"

func AutoMigrateAll(db *gorm.DB) error {
	err := db.AutoMigrate(
		&User{},
		&Department{},
		&Customer{},
		&Conversation{},
		&Message{},
		&ConversationTransfer{},
		&BotMessage{},
	)
	if err != nil {
		return err
	}
	return nil
}
