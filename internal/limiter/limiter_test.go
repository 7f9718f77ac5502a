package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Take(ctx context.Context, key string, now time.Time, rule Rule) (int, int, bool, time.Time, error) {
	return 0, 0, false, time.Time{}, errors.New("backend down")
}

func newTestLimiter(rule Rule) (*Limiter, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(NewMemoryStore(), rule, nil)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiterAllowsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(Rule{Limit: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision := l.Allow(ctx, "t1", "chat", "s1")
		require.True(t, decision.Allowed, "request %d", i)
	}
	decision := l.Allow(ctx, "t1", "chat", "s1")
	require.False(t, decision.Allowed)
	require.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestLimiterRemainingCountsDown(t *testing.T) {
	l, _ := newTestLimiter(Rule{Limit: 3, Window: time.Minute})
	ctx := context.Background()

	require.Equal(t, 2, l.Allow(ctx, "t1", "chat", "s1").Remaining)
	require.Equal(t, 1, l.Allow(ctx, "t1", "chat", "s1").Remaining)
	require.Equal(t, 0, l.Allow(ctx, "t1", "chat", "s1").Remaining)
}

func TestLimiterWindowSlides(t *testing.T) {
	l, now := newTestLimiter(Rule{Limit: 2, Window: time.Minute})
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "t1", "chat", "s1").Allowed)
	require.True(t, l.Allow(ctx, "t1", "chat", "s1").Allowed)
	require.False(t, l.Allow(ctx, "t1", "chat", "s1").Allowed)

	*now = now.Add(61 * time.Second)
	require.True(t, l.Allow(ctx, "t1", "chat", "s1").Allowed)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(Rule{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "t1", "chat", "s1").Allowed)
	require.False(t, l.Allow(ctx, "t1", "chat", "s1").Allowed)

	// Different tenant, class and identifier each get their own budget.
	require.True(t, l.Allow(ctx, "t2", "chat", "s1").Allowed)
	require.True(t, l.Allow(ctx, "t1", "search", "s1").Allowed)
	require.True(t, l.Allow(ctx, "t1", "chat", "s2").Allowed)
}

func TestLimiterBurstSubWindow(t *testing.T) {
	rule := Rule{Limit: 100, Window: time.Hour, Burst: 2, BurstWindow: time.Second}
	l, now := newTestLimiter(rule)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "t1", "chat", "s1").Allowed)
	require.True(t, l.Allow(ctx, "t1", "chat", "s1").Allowed)

	decision := l.Allow(ctx, "t1", "chat", "s1")
	require.False(t, decision.Allowed)
	require.Equal(t, time.Second, decision.RetryAfter)

	*now = now.Add(2 * time.Second)
	require.True(t, l.Allow(ctx, "t1", "chat", "s1").Allowed)
}

func TestLimiterFailsOpenOnBackendError(t *testing.T) {
	l := New(failingStore{}, Rule{Limit: 1, Window: time.Minute}, nil)
	decision := l.Allow(context.Background(), "t1", "chat", "s1")
	require.True(t, decision.Allowed)
	require.True(t, decision.Degraded)
}

func TestLimiterZeroLimitMeansUnlimited(t *testing.T) {
	l, _ := newTestLimiter(Rule{})
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow(context.Background(), "t1", "chat", "s1").Allowed)
	}
}

func TestLimiterPerClassRules(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(NewMemoryStore(),
		Rule{Limit: 100, Window: time.Minute},
		map[string]Rule{"ingest": {Limit: 1, Window: time.Minute}})
	l.now = func() time.Time { return now }
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "t1", "ingest", "ip").Allowed)
	require.False(t, l.Allow(ctx, "t1", "ingest", "ip").Allowed)
	require.True(t, l.Allow(ctx, "t1", "chat", "ip").Allowed)
}
