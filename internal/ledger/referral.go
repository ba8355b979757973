package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"gdz-ai-bot/internal/models"
)

// ReferralTarget is the invite count at which the bulk bonus fires.
const ReferralTarget = 5

const (
	referralCodeLength  = 8
	codeGenerateRetries = 5
)

type RegisterResult int

const (
	// ResultExisting: account already known, only the username was refreshed.
	ResultExisting RegisterResult = iota
	// ResultCreated: new account, no referrer attributed.
	ResultCreated
	// ResultReferred: new account attributed to a referrer who was credited.
	ResultReferred
	// ResultSelfReferral: new account, own code presented, attribution refused.
	ResultSelfReferral
)

// Engine handles first contact: account creation, referral attribution and
// bonus credits.
type Engine struct {
	store           *Store
	notifier        Notifier
	initialRequests int
}

func NewEngine(store *Store, notifier Notifier, initialRequests int) *Engine {
	return &Engine{
		store:           store,
		notifier:        notifier,
		initialRequests: initialRequests,
	}
}

// Register processes an arrival. payload is the optional referral code from
// the deep link; it attributes and credits only on the very first contact.
func (e *Engine) Register(ctx context.Context, telegramID int64, username, payload string) (*models.User, RegisterResult, error) {
	result := ResultCreated
	var referrerID *int64
	if payload != "" {
		refID, err := e.store.ResolveReferralCode(payload)
		switch {
		case errors.Is(err, ErrUserNotFound):
			// Unknown code, plain creation.
		case err != nil:
			return nil, 0, err
		case refID == telegramID:
			result = ResultSelfReferral
		default:
			referrerID = &refID
			result = ResultReferred
		}
	}

	user, err := e.store.GetUser(telegramID)
	if err == nil {
		// Known account: refresh the display name, attribute nothing.
		if err := e.store.UpdateUser(telegramID, map[string]interface{}{"username": username}); err != nil {
			log.Printf("Failed to refresh username for %d: %v", telegramID, err)
		}
		if result == ResultSelfReferral {
			return user, ResultSelfReferral, nil
		}
		return user, ResultExisting, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, 0, err
	}

	user, err = e.createWithUniqueCode(telegramID, username, referrerID)
	if err != nil {
		return nil, 0, err
	}

	if referrerID != nil {
		if err := e.creditReferrer(ctx, *referrerID, username); err != nil {
			log.Printf("Failed to credit referrer %d: %v", *referrerID, err)
		}
	}
	return user, result, nil
}

func (e *Engine) createWithUniqueCode(telegramID int64, username string, referrerID *int64) (*models.User, error) {
	for i := 0; i < codeGenerateRetries; i++ {
		code, err := gonanoid.New(referralCodeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate referral code: %w", err)
		}
		user, err := e.store.CreateUser(telegramID, username, code, referrerID, e.initialRequests)
		if errors.Is(err, ErrDuplicateReferralCode) {
			continue
		}
		return user, err
	}
	return nil, ErrDuplicateReferralCode
}

// creditReferrer applies the single-referral bonus and, when the invite
// count hits the target, the bulk bonus, all inside the referrer's critical
// section.
func (e *Engine) creditReferrer(ctx context.Context, referrerID int64, invitedUsername string) error {
	settings, err := e.store.GetReferralSettings()
	if err != nil {
		return err
	}

	var (
		displayCount  int
		newBalance    int
		bulkApplied   bool
		notifyAllowed bool
	)
	err = e.store.Mutate(referrerID, func(u *models.User) map[string]interface{} {
		displayCount = u.InvitedFriendsCount + 1
		newBalance = u.RequestsLeft + settings.ReferralRequests
		newCount := displayCount
		if newCount >= ReferralTarget {
			newBalance += settings.BulkReferralRequests
			newCount = 0
			bulkApplied = true
		}
		notifyAllowed = u.NotificationsEnabled
		return map[string]interface{}{
			"invited_friends_count": newCount,
			"requests_left":         newBalance,
		}
	})
	if err != nil {
		return err
	}

	if !notifyAllowed {
		return nil
	}
	balanceBeforeBulk := newBalance
	if bulkApplied {
		balanceBeforeBulk -= settings.BulkReferralRequests
	}
	text := fmt.Sprintf("Новый реферал: @%s! Приглашено: %d/%d\n+%d запросов. Баланс: %d",
		invitedUsername, displayCount, ReferralTarget, settings.ReferralRequests, balanceBeforeBulk)
	if err := e.notifier.Notify(ctx, referrerID, text); err != nil {
		log.Printf("Failed to notify referrer %d: %v", referrerID, err)
	}
	if bulkApplied {
		text := fmt.Sprintf("🎉 Бонус за %d рефералов! +%d запросов. Баланс: %d",
			ReferralTarget, settings.BulkReferralRequests, newBalance)
		if err := e.notifier.Notify(ctx, referrerID, text); err != nil {
			log.Printf("Failed to notify referrer %d about bulk bonus: %v", referrerID, err)
		}
	}
	return nil
}
