package models

import (
	"time"
)

type Broadcast struct {
	ID         string `gorm:"primaryKey;size:16"`
	Text       string
	ButtonText string `gorm:"size:255"`
	ButtonURL  string `gorm:"size:512"`
	CreatedAt  time.Time
}

type BroadcastClick struct {
	BroadcastID string `gorm:"primaryKey;size:16"`
	TelegramID  int64  `gorm:"primaryKey"`
	CreatedAt   time.Time
}
