package models

import (
	"time"
)

type User struct {
	ID                   uint   `gorm:"primaryKey"`
	TelegramID           int64  `gorm:"uniqueIndex;not null"`
	Username             string `gorm:"size:255"`
	ReferralCode         string `gorm:"size:32;uniqueIndex;not null"`
	ReferredBy           *int64 `gorm:"index"` // TelegramID of the referrer
	RequestsLeft         int    `gorm:"default:0"`
	RequestsAtStartOfDay int    `gorm:"default:0"`
	SubscribedToChannel  bool   `gorm:"default:false"`
	NotificationsEnabled bool   `gorm:"default:true"`
	InvitedFriendsCount  int    `gorm:"default:0"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
