package limiter

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chatforge/ragpipe/internal/pkg/logutil"
)

// Rule is a sliding-window budget with a shorter burst sub-window layered on
// top of the primary window.
type Rule struct {
	Limit       int
	Window      time.Duration
	Burst       int
	BurstWindow time.Duration
}

// Decision reports the limiter verdict plus the retry-after hint.
type Decision struct {
	Allowed    bool
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
	// Degraded means the backend was unavailable and the request was allowed
	// fail-open.
	Degraded bool
}

// Store records events and counts them within the primary and burst windows.
// Implementations must be atomic across service instances.
type Store interface {
	// Take counts events for key inside both windows and, when both are under
	// budget, records a new event. oldest is the timestamp of the oldest event
	// still inside the primary window (zero when none).
	Take(ctx context.Context, key string, now time.Time, rule Rule) (windowCount, burstCount int, accepted bool, oldest time.Time, err error)
}

// Limiter is the distributed sliding-window rate limiter shared by every
// service instance. On backend failure it fails open and logs the
// degradation rather than blocking all traffic.
type Limiter struct {
	store       Store
	rules       map[string]Rule
	defaultRule Rule
	now         func() time.Time
}

func New(store Store, defaultRule Rule, rules map[string]Rule) *Limiter {
	if rules == nil {
		rules = map[string]Rule{}
	}
	return &Limiter{store: store, rules: rules, defaultRule: defaultRule, now: time.Now}
}

func (l *Limiter) ruleFor(endpointClass string) Rule {
	if rule, ok := l.rules[endpointClass]; ok {
		return rule
	}
	return l.defaultRule
}

// Allow checks and accounts one request for (tenant, endpoint class,
// identifier).
func (l *Limiter) Allow(ctx context.Context, tenantID, endpointClass, identifier string) Decision {
	rule := l.ruleFor(endpointClass)
	if rule.Limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}
	key := strings.Join([]string{tenantID, endpointClass, identifier}, "|")
	now := l.now()

	windowCount, burstCount, accepted, oldest, err := l.store.Take(ctx, key, now, rule)
	if err != nil {
		logutil.GetLogger(ctx).Warn("rate limiter backend unavailable, failing open",
			zap.String("tenant_id", tenantID),
			zap.String("endpoint_class", endpointClass),
			zap.Error(err),
		)
		return Decision{Allowed: true, Remaining: -1, Degraded: true}
	}

	reset := now.Add(rule.Window)
	if !oldest.IsZero() {
		reset = oldest.Add(rule.Window)
	}
	if !accepted {
		retryAfter := reset.Sub(now)
		if rule.Burst > 0 && burstCount >= rule.Burst && windowCount < rule.Limit {
			retryAfter = rule.BurstWindow
		}
		if retryAfter < 0 {
			retryAfter = 0
		}
		logutil.GetLogger(ctx).Info("rate limit exceeded",
			zap.String("tenant_id", tenantID),
			zap.String("endpoint_class", endpointClass),
			zap.Int("window_count", windowCount),
			zap.Int("burst_count", burstCount),
		)
		return Decision{Allowed: false, Remaining: 0, Reset: reset, RetryAfter: retryAfter}
	}

	remaining := rule.Limit - windowCount - 1
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, Reset: reset}
}
