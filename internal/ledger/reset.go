package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"gdz-ai-bot/internal/models"
)

const resetDateLayout = "2006-01-02"

// DailyReset reconciles every account once per calendar day. The cursor is
// persisted in the settings table, so a restart neither replays nor skips a
// day, and the pass fires on the first wake of a new date rather than only
// inside the midnight minute.
type DailyReset struct {
	store    *Store
	notifier Notifier
	baseline int
	loc      *time.Location
}

func NewDailyReset(store *Store, notifier Notifier, baseline int, timezone string) (*DailyReset, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", timezone, err)
	}
	return &DailyReset{
		store:    store,
		notifier: notifier,
		baseline: baseline,
		loc:      loc,
	}, nil
}

// RunIfDue fires the reconciliation pass when the calendar date (in the
// configured timezone) has moved past the persisted cursor. The cursor only
// advances after the pass completed, so a failed pass is retried on the next
// wake and a completed one is never repeated the same day.
func (r *DailyReset) RunIfDue(ctx context.Context, now time.Time) error {
	today := now.In(r.loc).Format(resetDateLayout)
	last, err := r.store.LastResetDate()
	if err != nil {
		return err
	}
	if last == today {
		return nil
	}
	if last == "" {
		// First start: nothing accrued yet, just anchor the cursor.
		return r.store.SetLastResetDate(today)
	}
	if err := r.runPass(ctx); err != nil {
		return err
	}
	return r.store.SetLastResetDate(today)
}

// runPass processes every account independently: a failure on one account is
// logged and the rest continue. Accounts that consumed quota since the last
// boundary are replenished to the baseline; untouched balances are carried
// forward as the new day's baseline.
func (r *DailyReset) runPass(ctx context.Context) error {
	ids, err := r.store.ListUserIDs()
	if err != nil {
		return err
	}

	var replenished, failed int
	for _, id := range ids {
		var (
			notify        bool
			notifyAllowed bool
		)
		err := r.store.Mutate(id, func(u *models.User) map[string]interface{} {
			notifyAllowed = u.NotificationsEnabled
			if u.RequestsLeft < u.RequestsAtStartOfDay {
				notify = true
				return map[string]interface{}{
					"requests_left":            r.baseline,
					"requests_at_start_of_day": r.baseline,
				}
			}
			if u.RequestsAtStartOfDay == u.RequestsLeft {
				return nil
			}
			return map[string]interface{}{
				"requests_at_start_of_day": u.RequestsLeft,
			}
		})
		if err != nil {
			failed++
			log.Printf("Daily reset failed for user %d: %v", id, err)
			continue
		}
		if notify {
			replenished++
			if notifyAllowed {
				text := fmt.Sprintf("Ежедневный бонус: баланс пополнен до %d запросов! 🎉", r.baseline)
				if err := r.notifier.Notify(ctx, id, text); err != nil {
					log.Printf("Failed to notify %d about daily bonus: %v", id, err)
				}
			}
		}
	}

	log.Printf("Daily reset done: %d users, %d replenished, %d failed", len(ids), replenished, failed)
	return nil
}
