package engine

import (
	"context"
	"time"

	"triage-agent/internal/mailfetch"
)

// SentCache is a read-only per-cycle snapshot of conversation ids the
// user has already replied in. Rebuilt once at the start of every cycle
// over a window at least twice triage.lookback_hours, per §5's
// sent-cache-coherence guarantee: it is never mutated while a cycle is
// in flight, and a stale snapshot only ever under-counts replies, never
// fabricates one.
type SentCache struct {
	conversations map[string]bool
}

// BuildSentCache warms the cache from the mail capability's sent-items
// listing. A failure to list sent items yields an empty (not nil) cache
// so HasReplied degrades to "false" rather than panicking.
func BuildSentCache(ctx context.Context, mail mailfetch.MailCapability, lookback time.Duration) (*SentCache, error) {
	cache := &SentCache{conversations: map[string]bool{}}
	if mail == nil {
		return cache, nil
	}

	since := time.Now().Add(-2 * lookback)
	sent, err := mail.ListSentItems(ctx, since)
	if err != nil {
		return cache, err
	}
	for _, m := range sent {
		cache.conversations[m.ConversationID] = true
	}
	return cache, nil
}

// HasReplied implements contextassembler.SentItemsCache.
func (c *SentCache) HasReplied(conversationID string) bool {
	if c == nil {
		return false
	}
	return c.conversations[conversationID]
}
