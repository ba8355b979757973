package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gdz-ai-bot/internal/models"
)

var (
	ErrUserExists            = errors.New("user already exists")
	ErrUserNotFound          = errors.New("user not found")
	ErrDuplicateReferralCode = errors.New("referral code already taken")
)

const (
	SettingReferralRequests     = "referral_requests"
	SettingBulkReferralRequests = "bulk_referral_requests"
	settingLastResetDate        = "last_reset_date"

	DefaultReferralRequests     = 10
	DefaultBulkReferralRequests = 100
)

type ReferralSettings struct {
	ReferralRequests     int
	BulkReferralRequests int
}

// Store owns all account and settings access. Read-modify-write cycles on a
// single account go through Mutate, which serializes them per account.
type Store struct {
	db    *gorm.DB
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewStore(db *gorm.DB) (*Store, error) {
	defaults := []models.Setting{
		{Key: SettingReferralRequests, Value: strconv.Itoa(DefaultReferralRequests)},
		{Key: SettingBulkReferralRequests, Value: strconv.Itoa(DefaultBulkReferralRequests)},
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&defaults).Error; err != nil {
		return nil, fmt.Errorf("failed to seed settings: %w", err)
	}

	return &Store{
		db:    db,
		locks: make(map[int64]*sync.Mutex),
	}, nil
}

func (s *Store) lockFor(telegramID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[telegramID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[telegramID] = l
	}
	return l
}

func (s *Store) CreateUser(telegramID int64, username, referralCode string, referredBy *int64, initialRequests int) (*models.User, error) {
	user := &models.User{
		TelegramID:           telegramID,
		Username:             username,
		ReferralCode:         referralCode,
		ReferredBy:           referredBy,
		RequestsLeft:         initialRequests,
		RequestsAtStartOfDay: initialRequests,
		NotificationsEnabled: true,
	}
	if err := s.db.Create(user).Error; err != nil {
		var existing models.User
		if s.db.Where("telegram_id = ?", telegramID).First(&existing).Error == nil {
			return nil, ErrUserExists
		}
		if s.db.Where("referral_code = ?", referralCode).First(&existing).Error == nil {
			return nil, ErrDuplicateReferralCode
		}
		return nil, fmt.Errorf("failed to create user %d: %w", telegramID, err)
	}
	return user, nil
}

func (s *Store) GetUser(telegramID int64) (*models.User, error) {
	var user models.User
	if err := s.db.Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user %d: %w", telegramID, err)
	}
	return &user, nil
}

// UpdateUser applies a partial field update. Only safe for fields that are
// not part of a read-modify-write cycle (username, subscription flag); quota
// and referral counters must go through Mutate.
func (s *Store) UpdateUser(telegramID int64, updates map[string]interface{}) error {
	res := s.db.Model(&models.User{}).Where("telegram_id = ?", telegramID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update user %d: %w", telegramID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Mutate runs fn inside the account's critical section: the current row is
// read, fn computes the field updates, and they are applied in one statement
// while the per-account lock is held. Concurrent Mutate calls on the same
// account serialize; different accounts proceed independently.
func (s *Store) Mutate(telegramID int64, fn func(*models.User) map[string]interface{}) error {
	lock := s.lockFor(telegramID)
	lock.Lock()
	defer lock.Unlock()

	user, err := s.GetUser(telegramID)
	if err != nil {
		return err
	}
	updates := fn(user)
	if len(updates) == 0 {
		return nil
	}
	if err := s.db.Model(&models.User{}).Where("telegram_id = ?", telegramID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update user %d: %w", telegramID, err)
	}
	return nil
}

func (s *Store) ListUserIDs() ([]int64, error) {
	var ids []int64
	if err := s.db.Model(&models.User{}).Order("telegram_id").Pluck("telegram_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return ids, nil
}

func (s *Store) ResolveReferralCode(code string) (int64, error) {
	var user models.User
	if err := s.db.Where("referral_code = ?", code).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to resolve referral code: %w", err)
	}
	return user.TelegramID, nil
}

func (s *Store) GetReferralSettings() (ReferralSettings, error) {
	ref, err := s.getSettingInt(SettingReferralRequests, DefaultReferralRequests)
	if err != nil {
		return ReferralSettings{}, err
	}
	bulk, err := s.getSettingInt(SettingBulkReferralRequests, DefaultBulkReferralRequests)
	if err != nil {
		return ReferralSettings{}, err
	}
	return ReferralSettings{ReferralRequests: ref, BulkReferralRequests: bulk}, nil
}

func (s *Store) UpdateReferralSetting(key string, value int) error {
	if key != SettingReferralRequests && key != SettingBulkReferralRequests {
		return fmt.Errorf("unknown referral setting %q", key)
	}
	return s.setSetting(key, strconv.Itoa(value))
}

func (s *Store) LastResetDate() (string, error) {
	var setting models.Setting
	if err := s.db.Where("key = ?", settingLastResetDate).First(&setting).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load reset cursor: %w", err)
	}
	return setting.Value, nil
}

func (s *Store) SetLastResetDate(date string) error {
	return s.setSetting(settingLastResetDate, date)
}

func (s *Store) getSettingInt(key string, fallback int) (int, error) {
	var setting models.Setting
	if err := s.db.Where("key = ?", key).First(&setting).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fallback, nil
		}
		return 0, fmt.Errorf("failed to load setting %s: %w", key, err)
	}
	n, err := strconv.Atoi(setting.Value)
	if err != nil {
		return 0, fmt.Errorf("setting %s holds non-integer %q", key, setting.Value)
	}
	return n, nil
}

func (s *Store) setSetting(key, value string) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&models.Setting{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("failed to store setting %s: %w", key, err)
	}
	return nil
}
