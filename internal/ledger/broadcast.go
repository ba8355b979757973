package ledger

import (
	"fmt"

	"gorm.io/gorm/clause"

	"gdz-ai-bot/internal/models"
)

type BroadcastStats struct {
	Broadcast models.Broadcast
	Clicks    int64
}

type Stats struct {
	TotalUsers int64
	Subscribed int64
	Active     int64
}

func (s *Store) AddBroadcast(b *models.Broadcast) error {
	if err := s.db.Create(b).Error; err != nil {
		return fmt.Errorf("failed to store broadcast %s: %w", b.ID, err)
	}
	return nil
}

func (s *Store) GetBroadcast(id string) (*models.Broadcast, error) {
	var b models.Broadcast
	if err := s.db.Where("id = ?", id).First(&b).Error; err != nil {
		return nil, fmt.Errorf("failed to load broadcast %s: %w", id, err)
	}
	return &b, nil
}

// AddBroadcastClick records a click once per user per broadcast.
func (s *Store) AddBroadcastClick(broadcastID string, telegramID int64) error {
	click := models.BroadcastClick{BroadcastID: broadcastID, TelegramID: telegramID}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&click).Error; err != nil {
		return fmt.Errorf("failed to record broadcast click: %w", err)
	}
	return nil
}

func (s *Store) ListBroadcastStats() ([]BroadcastStats, error) {
	var broadcasts []models.Broadcast
	if err := s.db.Order("created_at").Find(&broadcasts).Error; err != nil {
		return nil, fmt.Errorf("failed to list broadcasts: %w", err)
	}

	stats := make([]BroadcastStats, 0, len(broadcasts))
	for _, b := range broadcasts {
		var clicks int64
		if err := s.db.Model(&models.BroadcastClick{}).Where("broadcast_id = ?", b.ID).Count(&clicks).Error; err != nil {
			return nil, fmt.Errorf("failed to count clicks for %s: %w", b.ID, err)
		}
		stats = append(stats, BroadcastStats{Broadcast: b, Clicks: clicks})
	}
	return stats, nil
}

func (s *Store) UserStats() (Stats, error) {
	var st Stats
	if err := s.db.Model(&models.User{}).Count(&st.TotalUsers).Error; err != nil {
		return Stats{}, fmt.Errorf("failed to count users: %w", err)
	}
	if err := s.db.Model(&models.User{}).Where("subscribed_to_channel = ?", true).Count(&st.Subscribed).Error; err != nil {
		return Stats{}, fmt.Errorf("failed to count subscribed users: %w", err)
	}
	if err := s.db.Model(&models.User{}).Where("requests_left > 0").Count(&st.Active).Error; err != nil {
		return Stats{}, fmt.Errorf("failed to count active users: %w", err)
	}
	return st, nil
}
