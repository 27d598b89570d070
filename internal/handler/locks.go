package handler

import "sync"

// conversationLocks serializes event handling per conversation id. Two
// concurrent events for the same conversation are the race that could mint
// two issues for one thread; events for different conversations stay
// unordered.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lock for a conversation and returns its release func
func (c *conversationLocks) Lock(key string) func() {
	c.mu.Lock()
	entry, ok := c.locks[key]
	if !ok {
		entry = &lockEntry{}
		c.locks[key] = entry
	}
	entry.refs++
	c.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		c.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}
}
