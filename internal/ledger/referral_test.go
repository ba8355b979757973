package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestRegisterNewUserWithoutCode(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store, newFakeNotifier(), 5)

	user, result, err := engine.Register(context.Background(), 100, "alice", "")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if result != ResultCreated {
		t.Fatalf("expected ResultCreated, got %v", result)
	}
	if len(user.ReferralCode) != referralCodeLength {
		t.Fatalf("expected %d-char referral code, got %q", referralCodeLength, user.ReferralCode)
	}
	if user.RequestsLeft != 5 {
		t.Fatalf("expected initial quota 5, got %d", user.RequestsLeft)
	}
	if user.ReferredBy != nil {
		t.Fatal("expected no referrer")
	}
}

func TestRegisterUnknownCodeCreatesWithoutReferrer(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store, newFakeNotifier(), 5)

	user, result, err := engine.Register(context.Background(), 100, "alice", "bogus-code")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if result != ResultCreated {
		t.Fatalf("expected ResultCreated, got %v", result)
	}
	if user.ReferredBy != nil {
		t.Fatal("unknown code must not attribute a referrer")
	}
}

func TestRegisterExistingRefreshesUsername(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store, newFakeNotifier(), 5)

	referrer, _, err := engine.Register(context.Background(), 100, "alice", "")
	if err != nil {
		t.Fatalf("register referrer failed: %v", err)
	}

	// Second contact, even with a valid foreign code, must not attribute.
	_, _, err = engine.Register(context.Background(), 200, "bob", "")
	if err != nil {
		t.Fatalf("register second user failed: %v", err)
	}
	_, result, err := engine.Register(context.Background(), 200, "bobby", referrer.ReferralCode)
	if err != nil {
		t.Fatalf("re-register failed: %v", err)
	}
	if result != ResultExisting {
		t.Fatalf("expected ResultExisting, got %v", result)
	}

	updated, err := store.GetUser(200)
	if err != nil {
		t.Fatalf("get user failed: %v", err)
	}
	if updated.Username != "bobby" {
		t.Fatalf("expected refreshed username, got %q", updated.Username)
	}
	if updated.ReferredBy != nil {
		t.Fatal("late code must not attribute a referrer")
	}

	ref, err := store.GetUser(100)
	if err != nil {
		t.Fatalf("get referrer failed: %v", err)
	}
	if ref.InvitedFriendsCount != 0 || ref.RequestsLeft != 5 {
		t.Fatalf("referrer must not be credited, got count=%d balance=%d", ref.InvitedFriendsCount, ref.RequestsLeft)
	}
}

func TestReferralAttributionCreditsReferrer(t *testing.T) {
	store := newTestStore(t)
	notifier := newFakeNotifier()
	engine := NewEngine(store, notifier, 5)

	referrer, _, err := engine.Register(context.Background(), 100, "alice", "")
	if err != nil {
		t.Fatalf("register referrer failed: %v", err)
	}

	invited, result, err := engine.Register(context.Background(), 200, "bob", referrer.ReferralCode)
	if err != nil {
		t.Fatalf("register invited failed: %v", err)
	}
	if result != ResultReferred {
		t.Fatalf("expected ResultReferred, got %v", result)
	}
	if invited.ReferredBy == nil || *invited.ReferredBy != 100 {
		t.Fatalf("expected referred_by 100, got %v", invited.ReferredBy)
	}

	ref, err := store.GetUser(100)
	if err != nil {
		t.Fatalf("get referrer failed: %v", err)
	}
	if ref.InvitedFriendsCount != 1 {
		t.Fatalf("expected invited count 1, got %d", ref.InvitedFriendsCount)
	}
	if ref.RequestsLeft != 5+DefaultReferralRequests {
		t.Fatalf("expected balance %d, got %d", 5+DefaultReferralRequests, ref.RequestsLeft)
	}
	if msgs := notifier.sent(100); len(msgs) != 1 || !strings.Contains(msgs[0], "bob") {
		t.Fatalf("expected one referral notification mentioning bob, got %v", msgs)
	}
}

func TestSelfReferralNeverCredits(t *testing.T) {
	store := newTestStore(t)
	notifier := newFakeNotifier()
	engine := NewEngine(store, notifier, 5)

	user, _, err := engine.Register(context.Background(), 100, "alice", "")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, result, err := engine.Register(context.Background(), 100, "alice", user.ReferralCode)
	if err != nil {
		t.Fatalf("self-referral register failed: %v", err)
	}
	if result != ResultSelfReferral {
		t.Fatalf("expected ResultSelfReferral, got %v", result)
	}

	reloaded, err := store.GetUser(100)
	if err != nil {
		t.Fatalf("get user failed: %v", err)
	}
	if reloaded.ReferredBy != nil {
		t.Fatal("self-referral must not set referred_by")
	}
	if reloaded.InvitedFriendsCount != 0 || reloaded.RequestsLeft != 5 {
		t.Fatalf("self-referral must not credit, got count=%d balance=%d", reloaded.InvitedFriendsCount, reloaded.RequestsLeft)
	}
	if msgs := notifier.sent(100); len(msgs) != 0 {
		t.Fatalf("self-referral must not notify, got %v", msgs)
	}
}

func TestBulkBonusAtThreshold(t *testing.T) {
	store := newTestStore(t)
	notifier := newFakeNotifier()
	engine := NewEngine(store, notifier, 5)

	referrer, _, err := engine.Register(context.Background(), 100, "alice", "")
	if err != nil {
		t.Fatalf("register referrer failed: %v", err)
	}

	for i := 0; i < ReferralTarget; i++ {
		id := int64(200 + i)
		_, result, err := engine.Register(context.Background(), id, fmt.Sprintf("friend%d", i), referrer.ReferralCode)
		if err != nil {
			t.Fatalf("register friend %d failed: %v", i, err)
		}
		if result != ResultReferred {
			t.Fatalf("expected ResultReferred for friend %d, got %v", i, result)
		}
	}

	ref, err := store.GetUser(100)
	if err != nil {
		t.Fatalf("get referrer failed: %v", err)
	}
	if ref.InvitedFriendsCount != 0 {
		t.Fatalf("invited count must wrap to 0 at the threshold, got %d", ref.InvitedFriendsCount)
	}
	want := 5 + ReferralTarget*DefaultReferralRequests + DefaultBulkReferralRequests
	if ref.RequestsLeft != want {
		t.Fatalf("expected balance %d, got %d", want, ref.RequestsLeft)
	}

	msgs := notifier.sent(100)
	// One notice per referral plus the bulk bonus notice.
	if len(msgs) != ReferralTarget+1 {
		t.Fatalf("expected %d notifications, got %d: %v", ReferralTarget+1, len(msgs), msgs)
	}
	last := msgs[len(msgs)-1]
	if !strings.Contains(last, fmt.Sprintf("+%d", DefaultBulkReferralRequests)) {
		t.Fatalf("bulk notice should mention the bonus, got %q", last)
	}
}

func TestConcurrentReferralCreditsBothLand(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store, newFakeNotifier(), 5)

	referrer, _, err := engine.Register(context.Background(), 100, "alice", "")
	if err != nil {
		t.Fatalf("register referrer failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(id int64) {
			defer wg.Done()
			if _, _, err := engine.Register(context.Background(), id, "friend", referrer.ReferralCode); err != nil {
				t.Errorf("concurrent register failed: %v", err)
			}
		}(int64(200 + i))
	}
	wg.Wait()

	ref, err := store.GetUser(100)
	if err != nil {
		t.Fatalf("get referrer failed: %v", err)
	}
	if ref.InvitedFriendsCount != 2 {
		t.Fatalf("lost referral credit: expected count 2, got %d", ref.InvitedFriendsCount)
	}
	if ref.RequestsLeft != 5+2*DefaultReferralRequests {
		t.Fatalf("expected balance %d, got %d", 5+2*DefaultReferralRequests, ref.RequestsLeft)
	}
}
