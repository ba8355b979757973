package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gdz-ai-bot/internal/models"
)

type DenyReason string

const (
	DenyNotStarted DenyReason = "not_started"
	DenyExhausted  DenyReason = "exhausted"
)

type Decision struct {
	Allowed bool
	Reason  DenyReason
}

// Gate authorizes quota spending. Callers check Authorize before starting a
// task and call Spend only after the answer was actually delivered, so a
// failed task never costs a request.
type Gate struct {
	store    *Store
	notifier Notifier
}

func NewGate(store *Store, notifier Notifier) *Gate {
	return &Gate{store: store, notifier: notifier}
}

// Authorize reports whether the account may start a task. The loaded account
// is returned alongside so callers can build denial messages without a
// second lookup.
func (g *Gate) Authorize(telegramID int64) (Decision, *models.User, error) {
	user, err := g.store.GetUser(telegramID)
	if errors.Is(err, ErrUserNotFound) {
		return Decision{Reason: DenyNotStarted}, nil, nil
	}
	if err != nil {
		return Decision{}, nil, err
	}
	if user.RequestsLeft <= 0 {
		return Decision{Reason: DenyExhausted}, user, nil
	}
	return Decision{Allowed: true}, user, nil
}

// Spend debits one request. The balance is re-checked inside the critical
// section: if it was drained between Authorize and Spend nothing is debited.
func (g *Gate) Spend(telegramID int64) (int, error) {
	var balance int
	err := g.store.Mutate(telegramID, func(u *models.User) map[string]interface{} {
		balance = u.RequestsLeft
		if u.RequestsLeft <= 0 {
			return nil
		}
		balance = u.RequestsLeft - 1
		return map[string]interface{}{"requests_left": balance}
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// AdminAdjust credits or debits an arbitrary amount. Negative deltas are not
// bounded by the current balance, so the result may go below zero. The target
// is notified with the post-adjustment balance unless notifications are off.
func (g *Gate) AdminAdjust(ctx context.Context, telegramID int64, delta int) (int, error) {
	var (
		balance       int
		notifyAllowed bool
	)
	err := g.store.Mutate(telegramID, func(u *models.User) map[string]interface{} {
		balance = u.RequestsLeft + delta
		notifyAllowed = u.NotificationsEnabled
		return map[string]interface{}{"requests_left": balance}
	})
	if err != nil {
		return 0, err
	}

	if notifyAllowed {
		action := "начислил"
		if delta < 0 {
			action = "списал"
		}
		text := fmt.Sprintf("Админ %s %d запросов. Баланс: %d", action, abs(delta), balance)
		if err := g.notifier.Notify(ctx, telegramID, text); err != nil {
			log.Printf("Failed to notify %d about adjustment: %v", telegramID, err)
		}
	}
	return balance, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
