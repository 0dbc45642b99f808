package authgate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRefreshConcurrencySingleGrant(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Provider.RefreshMargin = 2 * time.Hour })
	te.srv.AddUser("alice@example.com", "correct-password-123")
	ctx := context.Background()

	st := te.store(t)
	if _, err := st.SignIn(ctx, "alice@example.com", "correct-password-123"); err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}

	release := te.srv.Hold("POST /token")
	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			results <- st.Refresh(ctx)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	release()
	wg.Wait()
	close(results)

	for err := range results {
		if err != nil {
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	// Sign-in plus exactly one rotation.
	if got := te.srv.Calls("POST /token"); got != 2 {
		t.Fatalf("expected one refresh grant, got %d token calls", got)
	}
	if !st.IsAuthenticated() {
		t.Fatal("store signed out by concurrent refresh")
	}
}

func TestRefreshAfterRotationStillValid(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Provider.RefreshMargin = 2 * time.Hour })
	te.srv.AddUser("alice@example.com", "correct-password-123")
	ctx := context.Background()

	st := te.store(t)
	if _, err := st.SignIn(ctx, "alice@example.com", "correct-password-123"); err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := st.Refresh(ctx); err != nil {
			t.Fatalf("refresh %d failed: %v", i, err)
		}
	}
	if !st.IsAuthenticated() {
		t.Fatal("rotated refresh token was not persisted")
	}
	if got := te.srv.Calls("POST /token"); got != 4 {
		t.Fatalf("expected 4 token calls, got %d", got)
	}
}
