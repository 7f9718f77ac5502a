package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/chatforge/ragpipe/internal/model"
	"github.com/chatforge/ragpipe/internal/pkg/logutil"
)

// Backend is the shared cache layer. Satisfied by repo.ResponseCacheRepo.
type Backend interface {
	Get(ctx context.Context, key string) (*model.CachedAnswer, bool, error)
	Save(ctx context.Context, key, tenantID string, answer *model.CachedAnswer, ttl time.Duration) error
	DeleteByDocument(ctx context.Context, documentID string) (int64, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

const (
	DefaultTTL      = time.Hour
	DefaultL1Size   = 4096
	tombstoneWindow = 2 * time.Minute
)

type cachedValue struct {
	answer   *model.CachedAnswer
	storedAt time.Time
}

// Cache is a two-layer response cache: a per-instance expirable LRU in front
// of the shared database layer. Invalidate-by-document deletes shared rows via
// the reverse index and places a tombstone so stale L1 copies on this instance
// are refused until they age out.
type Cache struct {
	store Backend
	l1    *expirable.LRU[string, cachedValue]
	ttl   time.Duration

	mu         sync.Mutex
	tombstones map[string]time.Time
}

func New(store Backend, l1Size int, ttl time.Duration) *Cache {
	if l1Size <= 0 {
		l1Size = DefaultL1Size
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:      store,
		l1:         expirable.NewLRU[string, cachedValue](l1Size, nil, ttl),
		ttl:        ttl,
		tombstones: make(map[string]time.Time),
	}
}

// Key derives the cache key from tenant, the normalized query, and the
// conversation context fingerprint. The tenant is part of the hash input, so
// entries can never cross tenants.
func Key(tenantID, query, contextFingerprint string) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(normalizeQuery(query)))
	h.Write([]byte{0})
	h.Write([]byte(contextFingerprint))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func (c *Cache) Get(ctx context.Context, key string) (*model.CachedAnswer, bool, error) {
	if val, ok := c.l1.Get(key); ok {
		if c.invalidatedSince(val.answer.DocumentIDs, val.storedAt) {
			c.l1.Remove(key)
		} else {
			return val.answer, true, nil
		}
	}
	answer, ok, err := c.store.Get(ctx, key)
	if err != nil {
		logutil.GetLogger(ctx).Warn("response cache read failed", zap.Error(err))
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}
	c.l1.Add(key, cachedValue{answer: answer, storedAt: time.Now()})
	return answer, true, nil
}

func (c *Cache) Set(ctx context.Context, key, tenantID string, answer *model.CachedAnswer) error {
	if err := c.store.Save(ctx, key, tenantID, answer, c.ttl); err != nil {
		logutil.GetLogger(ctx).Warn("response cache write failed", zap.Error(err))
		return err
	}
	c.l1.Add(key, cachedValue{answer: answer, storedAt: time.Now()})
	return nil
}

// InvalidateByDocument removes every cached answer grounded on the document.
// The shared layer is authoritative; the tombstone covers L1 copies on this
// instance that were populated before the delete.
func (c *Cache) InvalidateByDocument(ctx context.Context, documentID string) error {
	removed, err := c.store.DeleteByDocument(ctx, documentID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.tombstones[documentID] = time.Now()
	c.mu.Unlock()
	logutil.GetLogger(ctx).Info("response cache invalidated by document",
		zap.String("document_id", documentID),
		zap.Int64("removed", removed),
	)
	return nil
}

// DeleteExpired evicts expired shared entries and retires old tombstones. Run
// on a schedule.
func (c *Cache) DeleteExpired(ctx context.Context) (int64, error) {
	c.mu.Lock()
	cutoff := time.Now().Add(-tombstoneWindow)
	for docID, ts := range c.tombstones {
		if ts.Before(cutoff) {
			delete(c.tombstones, docID)
		}
	}
	c.mu.Unlock()
	return c.store.DeleteExpired(ctx)
}

func (c *Cache) invalidatedSince(documentIDs []string, storedAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, docID := range documentIDs {
		if ts, ok := c.tombstones[docID]; ok && !ts.Before(storedAt) {
			return true
		}
	}
	return false
}
