package store

import (
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// TestUnreadCounterInvariant drives a MemStore through random sequences of
// deliveries and resets and checks the core invariant after every step:
// every unread count stays within [0, capacity], and equals the number of
// messages delivered to that account since its last reset.
func TestUnreadCounterInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		st := NewMemStore()

		accountCount := rapid.IntRange(1, 4).Draw(t, "accountCount")
		usernames := make([]string, accountCount)
		for i := range usernames {
			usernames[i] = fmt.Sprintf("user%d", i)
			if err := st.CreateAccount(usernames[i], "h", RoleUser); err != nil {
				t.Fatalf("create %s: %v", usernames[i], err)
			}
		}

		// Model: expected unread count per account
		unread := make(map[string]int)

		username := rapid.SampledFrom(usernames)
		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0, 1: // deliver (weighted: sends dominate real traffic)
				sender := username.Draw(t, "sender")
				recipient := username.Draw(t, "recipient")
				err := st.DeliverMessage(sender, recipient, "body", 5)
				if unread[recipient] >= 5 {
					if !errors.Is(err, ErrInboxFull) {
						t.Fatalf("expected ErrInboxFull at count %d, got %v", unread[recipient], err)
					}
				} else {
					if err != nil {
						t.Fatalf("deliver below capacity failed: %v", err)
					}
					unread[recipient]++
				}
			case 2: // reset (the read path)
				target := username.Draw(t, "resetTarget")
				if err := st.ResetUnread(target); err != nil {
					t.Fatalf("reset %s: %v", target, err)
				}
				unread[target] = 0
			}

			for _, name := range usernames {
				acc, err := st.GetAccount(name)
				if err != nil {
					t.Fatalf("get %s: %v", name, err)
				}
				if acc.UnreadCount < 0 || acc.UnreadCount > 5 {
					t.Fatalf("unread count out of bounds for %s: %d", name, acc.UnreadCount)
				}
				if acc.UnreadCount != unread[name] {
					t.Fatalf("unread count mismatch for %s: got %d, want %d", name, acc.UnreadCount, unread[name])
				}
			}
		}
	})
}
