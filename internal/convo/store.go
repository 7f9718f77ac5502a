package convo

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/chatforge/ragpipe/internal/model"
	"github.com/chatforge/ragpipe/internal/pkg/logutil"
)

// MessageLog is the persistent, append-only message store. Satisfied by
// repo.MessageRepo.
type MessageLog interface {
	Append(ctx context.Context, msg *model.Message) error
	ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
}

const (
	DefaultWindow   = 20
	DefaultCapacity = 1000
	lockShards      = 64
)

// Store keeps the last W messages per conversation behind a fixed-capacity
// LRU. The message repo is the source of truth; eviction from memory never
// loses data. Appends and miss-path loads for one conversation are
// serialized; cached reads are lock-free.
type Store struct {
	messages MessageLog
	window   int
	cache    *lru.Cache[string, []model.Message]
	locks    [lockShards]sync.Mutex
}

func New(messages MessageLog, window, capacity int) (*Store, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache, err := lru.New[string, []model.Message](capacity)
	if err != nil {
		return nil, err
	}
	return &Store{messages: messages, window: window, cache: cache}, nil
}

// Context returns the last W messages in chronological order. Read-through:
// a cache miss loads from the persistent store and repopulates memory. The
// miss path holds the conversation's append lock so a write cannot commit
// between the load and the repopulate and leave a stale window in memory.
func (s *Store) Context(ctx context.Context, conversationID string) ([]model.Message, error) {
	if window, ok := s.cache.Get(conversationID); ok {
		return cloneWindow(window), nil
	}
	lock := s.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()
	if window, ok := s.cache.Get(conversationID); ok {
		return cloneWindow(window), nil
	}
	window, err := s.messages.ListRecent(ctx, conversationID, s.window)
	if err != nil {
		return nil, err
	}
	s.cache.Add(conversationID, window)
	return cloneWindow(window), nil
}

// Append persists the message, then updates the in-memory window. The message
// ID is a random 128-bit identifier, collision-free under concurrency.
func (s *Store) Append(ctx context.Context, conversationID string, sender model.Sender, content string) (*model.Message, error) {
	lock := s.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, err
	}

	if window, ok := s.cache.Get(conversationID); ok {
		window = append(cloneWindow(window), *msg)
		if len(window) > s.window {
			window = window[len(window)-s.window:]
		}
		s.cache.Add(conversationID, window)
	}
	logutil.GetLogger(ctx).Debug("message appended",
		zap.String("conversation_id", conversationID),
		zap.String("sender", string(sender)),
	)
	return msg, nil
}

// Window exposes the configured context window size.
func (s *Store) Window() int {
	return s.window
}

// Len reports how many conversation windows are resident in memory.
func (s *Store) Len() int {
	return s.cache.Len()
}

func (s *Store) lockFor(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return &s.locks[h.Sum32()%lockShards]
}

func cloneWindow(window []model.Message) []model.Message {
	if len(window) == 0 {
		return nil
	}
	clone := make([]model.Message, len(window))
	copy(clone, window)
	return clone
}
