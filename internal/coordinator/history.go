package coordinator

import (
	"container/list"
	"sync"
	"time"

	"github.com/windowpet/companiond/api/types"
)

// Default history bounds.
const (
	defaultHistorySize   = 50
	defaultHistoryMaxAge = time.Hour
)

type historyEntry struct {
	message types.OutcomeMessage
	addedAt time.Time
	element *list.Element
}

// MessageHistory keeps a bounded, age-limited record of recent outcome
// messages so a re-attaching shell can catch up on what it missed. The
// coordinator writes, the HTTP layer reads.
type MessageHistory struct {
	lock    sync.Mutex
	entries map[string]*historyEntry
	order   *list.List // oldest at Front, newest at Back
	maxSize int
	maxAge  time.Duration
}

// NewMessageHistory creates a history cache with the given bounds.
func NewMessageHistory(maxSize int, maxAge time.Duration) *MessageHistory {
	if maxSize <= 0 {
		maxSize = defaultHistorySize
	}
	if maxAge <= 0 {
		maxAge = defaultHistoryMaxAge
	}
	return &MessageHistory{
		entries: make(map[string]*historyEntry),
		order:   list.New(),
		maxSize: maxSize,
		maxAge:  maxAge,
	}
}

// Add records a message, evicting the oldest entry when the bound is exceeded.
func (h *MessageHistory) Add(msg types.OutcomeMessage) {
	h.lock.Lock()
	defer h.lock.Unlock()

	entry := &historyEntry{message: msg, addedAt: time.Now()}
	entry.element = h.order.PushBack(entry)
	h.entries[msg.ID] = entry

	for len(h.entries) > h.maxSize {
		oldest := h.order.Front()
		if oldest == nil {
			break
		}
		oldestEntry := oldest.Value.(*historyEntry)
		delete(h.entries, oldestEntry.message.ID)
		h.order.Remove(oldest)
	}
}

// Recent returns up to limit messages, newest first, pruning expired entries
// on the way.
func (h *MessageHistory) Recent(limit int) []types.OutcomeMessage {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.pruneExpired()

	if limit <= 0 || limit > h.order.Len() {
		limit = h.order.Len()
	}
	messages := make([]types.OutcomeMessage, 0, limit)
	for e := h.order.Back(); e != nil && len(messages) < limit; e = e.Prev() {
		messages = append(messages, e.Value.(*historyEntry).message)
	}
	return messages
}

// Len returns the number of retained messages.
func (h *MessageHistory) Len() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.pruneExpired()
	return h.order.Len()
}

func (h *MessageHistory) pruneExpired() {
	now := time.Now()
	for e := h.order.Front(); e != nil; {
		next := e.Next()
		entry := e.Value.(*historyEntry)
		if now.Sub(entry.addedAt) > h.maxAge {
			delete(h.entries, entry.message.ID)
			h.order.Remove(e)
		}
		e = next
	}
}
