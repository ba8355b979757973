package ledger

import (
	"testing"

	"gdz-ai-bot/internal/models"
)

func TestBroadcastClickDeduplication(t *testing.T) {
	store := newTestStore(t)

	if err := store.AddBroadcast(&models.Broadcast{ID: "abc12345", Text: "hello", ButtonText: "Open", ButtonURL: "https://example.com"}); err != nil {
		t.Fatalf("add broadcast failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := store.AddBroadcastClick("abc12345", 100); err != nil {
			t.Fatalf("add click failed: %v", err)
		}
	}
	if err := store.AddBroadcastClick("abc12345", 200); err != nil {
		t.Fatalf("add click failed: %v", err)
	}

	stats, err := store.ListBroadcastStats()
	if err != nil {
		t.Fatalf("list stats failed: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(stats))
	}
	if stats[0].Clicks != 2 {
		t.Fatalf("expected 2 distinct clicks, got %d", stats[0].Clicks)
	}

	loaded, err := store.GetBroadcast("abc12345")
	if err != nil {
		t.Fatalf("get broadcast failed: %v", err)
	}
	if loaded.ButtonURL != "https://example.com" {
		t.Fatalf("unexpected button url %q", loaded.ButtonURL)
	}
}

func TestUserStats(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.CreateUser(100, "alice", "code-100", nil, 5); err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if _, err := store.CreateUser(200, "bob", "code-200", nil, 0); err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if err := store.UpdateUser(100, map[string]interface{}{"subscribed_to_channel": true}); err != nil {
		t.Fatalf("update user failed: %v", err)
	}

	stats, err := store.UserStats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalUsers != 2 || stats.Subscribed != 1 || stats.Active != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
