package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gdz-ai-bot/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.User{}, &models.Setting{}, &models.Broadcast{}, &models.BroadcastClick{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages map[int64][]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{messages: make(map[int64][]string)}
}

func (f *fakeNotifier) Notify(_ context.Context, telegramID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[telegramID] = append(f.messages[telegramID], text)
	return nil
}

func (f *fakeNotifier) sent(telegramID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages[telegramID]...)
}

func TestCreateAndGetUser(t *testing.T) {
	store := newTestStore(t)

	created, err := store.CreateUser(100, "alice", "code-100", nil, 5)
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if created.RequestsLeft != 5 || created.RequestsAtStartOfDay != 5 {
		t.Fatalf("expected initial quota 5/5, got %d/%d", created.RequestsLeft, created.RequestsAtStartOfDay)
	}
	if !created.NotificationsEnabled {
		t.Fatal("notifications should default to enabled")
	}

	loaded, err := store.GetUser(100)
	if err != nil {
		t.Fatalf("get user failed: %v", err)
	}
	if loaded.Username != "alice" || loaded.ReferralCode != "code-100" {
		t.Fatalf("unexpected user %+v", loaded)
	}
	if loaded.ReferredBy != nil {
		t.Fatal("expected no referrer")
	}
}

func TestGetUserNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetUser(404); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCreateUserDuplicates(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.CreateUser(100, "alice", "code-100", nil, 5); err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if _, err := store.CreateUser(100, "alice2", "other-code", nil, 5); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
	if _, err := store.CreateUser(200, "bob", "code-100", nil, 5); !errors.Is(err, ErrDuplicateReferralCode) {
		t.Fatalf("expected ErrDuplicateReferralCode, got %v", err)
	}
}

func TestUpdateUserNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateUser(404, map[string]interface{}{"username": "ghost"})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestResolveReferralCode(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.CreateUser(100, "alice", "code-100", nil, 5); err != nil {
		t.Fatalf("create user failed: %v", err)
	}

	id, err := store.ResolveReferralCode("code-100")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if id != 100 {
		t.Fatalf("expected 100, got %d", id)
	}

	if _, err := store.ResolveReferralCode("no-such-code"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestReferralSettingsDefaultsAndUpdate(t *testing.T) {
	store := newTestStore(t)

	settings, err := store.GetReferralSettings()
	if err != nil {
		t.Fatalf("get settings failed: %v", err)
	}
	if settings.ReferralRequests != DefaultReferralRequests {
		t.Fatalf("expected default referral bonus %d, got %d", DefaultReferralRequests, settings.ReferralRequests)
	}
	if settings.BulkReferralRequests != DefaultBulkReferralRequests {
		t.Fatalf("expected default bulk bonus %d, got %d", DefaultBulkReferralRequests, settings.BulkReferralRequests)
	}

	if err := store.UpdateReferralSetting(SettingReferralRequests, 25); err != nil {
		t.Fatalf("update setting failed: %v", err)
	}
	settings, err = store.GetReferralSettings()
	if err != nil {
		t.Fatalf("get settings failed: %v", err)
	}
	if settings.ReferralRequests != 25 {
		t.Fatalf("expected updated bonus 25, got %d", settings.ReferralRequests)
	}

	if err := store.UpdateReferralSetting("no_such_setting", 1); err == nil {
		t.Fatal("expected error for unknown setting key")
	}
}

func TestMutateSerializesConcurrentUpdates(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.CreateUser(100, "alice", "code-100", nil, 0); err != nil {
		t.Fatalf("create user failed: %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := store.Mutate(100, func(u *models.User) map[string]interface{} {
				return map[string]interface{}{"requests_left": u.RequestsLeft + 1}
			})
			if err != nil {
				t.Errorf("mutate failed: %v", err)
			}
		}()
	}
	wg.Wait()

	user, err := store.GetUser(100)
	if err != nil {
		t.Fatalf("get user failed: %v", err)
	}
	if user.RequestsLeft != workers {
		t.Fatalf("lost update: expected %d, got %d", workers, user.RequestsLeft)
	}
}

func TestMutateNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.Mutate(404, func(u *models.User) map[string]interface{} { return nil })
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
