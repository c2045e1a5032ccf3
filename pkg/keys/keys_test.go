package keys

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/screenvox/screenvox/pkg/core"
)

func TestFetchCachesWithinTTL(t *testing.T) {
	t.Parallel()

	calls := 0
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := NewCachedProvider(func(ctx context.Context) (string, error) {
		calls++
		return "key-1", nil
	}, WithTTL(time.Minute), withClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		got, err := p.Fetch(context.Background())
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if got != "key-1" {
			t.Fatalf("credential = %q", got)
		}
	}
	if calls != 1 {
		t.Fatalf("issuing service called %d times; want 1", calls)
	}

	// Past the TTL the provider goes back to the source.
	now = now.Add(2 * time.Minute)
	if _, err := p.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch after expiry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("issuing service called %d times after expiry; want 2", calls)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	t.Parallel()

	calls := 0
	p := NewCachedProvider(func(ctx context.Context) (string, error) {
		calls++
		return "key-1", nil
	})

	if _, err := p.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	p.Invalidate()
	if _, err := p.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch after invalidate: %v", err)
	}
	if calls != 2 {
		t.Fatalf("issuing service called %d times; want 2", calls)
	}
}

func TestFetchFailuresAreAuthenticationErrors(t *testing.T) {
	t.Parallel()

	p := NewCachedProvider(func(ctx context.Context) (string, error) {
		return "", errors.New("service unavailable")
	})
	_, err := p.Fetch(context.Background())
	var coreErr *core.Error
	if !core.As(err, &coreErr) || coreErr.Type != core.ErrAuthentication {
		t.Fatalf("fetch error = %v; want authentication error", err)
	}

	empty := NewCachedProvider(func(ctx context.Context) (string, error) { return "", nil })
	if _, err := empty.Fetch(context.Background()); err == nil {
		t.Fatal("empty credential accepted")
	}
}
