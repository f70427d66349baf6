package cache

import (
	"log"
	"sort"
	"sync"
	"time"
)

// Persistent layers the bounded in-memory buffers over a durable message
// store. Every append goes to both layers; queries prefer the store, and
// any store error is logged and answered from the hot buffer instead, so
// callers never see persistence failures.
type Persistent struct {
	// wmu serializes writes so buffer order and store insertion order
	// cannot diverge for messages captured within the same second.
	wmu   sync.Mutex
	mem   *Memory
	store MessageStore
}

func NewPersistent(maxSize int, store MessageStore) *Persistent {
	return &Persistent{
		mem:   NewMemory(maxSize),
		store: store,
	}
}

// AddMessage records the message in the hot buffer and writes it through
// to the store, as one critical section. A failed insert leaves the
// buffer copy in place.
func (c *Persistent) AddMessage(chatID, userID int64, username, text string, ts time.Time) {
	m := Message{
		ChatID:    chatID,
		UserID:    userID,
		Username:  username,
		Text:      text,
		Timestamp: ts,
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.mem.add(m)
	if err := c.store.InsertMessage(m); err != nil {
		log.Printf("Failed to persist message (chat %d, user %d): %v", chatID, userID, err)
	}
}

func (c *Persistent) LastMessages(chatID int64, n int) []Message {
	msgs, err := c.store.LastMessages(chatID, n)
	if err != nil {
		c.fallback("last messages", chatID, err)
		return c.mem.LastMessages(chatID, n)
	}
	return msgs
}

func (c *Persistent) MessagesSince(chatID int64, since time.Time) []Message {
	msgs, err := c.store.MessagesSince(chatID, since)
	if err != nil {
		c.fallback("messages since", chatID, err)
		return c.mem.MessagesSince(chatID, since)
	}
	return msgs
}

func (c *Persistent) ChatStats(chatID int64) ChatStats {
	stats, err := c.store.ChatStats(chatID)
	if err != nil {
		c.fallback("chat stats", chatID, err)
		return c.mem.ChatStats(chatID)
	}
	return stats
}

func (c *Persistent) UserMessages(chatID, userID int64, limit int) []Message {
	msgs, err := c.store.UserMessages(chatID, userID, limit)
	if err != nil {
		c.fallback("user messages", chatID, err)
		return c.mem.UserMessages(chatID, userID, limit)
	}
	return msgs
}

func (c *Persistent) UserMessagesAllChats(userID int64, limit int) []Message {
	msgs, err := c.store.UserMessagesAllChats(userID, limit)
	if err != nil {
		log.Printf("Store read failed (user messages, all chats): %v, falling back to buffer", err)
		return c.mem.UserMessagesAllChats(userID, limit)
	}
	return msgs
}

func (c *Persistent) UserChatStats(userID int64) UserChatStats {
	stats, err := c.store.UserChatStats(userID)
	if err != nil {
		log.Printf("Store read failed (user chat stats): %v, falling back to buffer", err)
		return c.mem.UserChatStats(userID)
	}
	return stats
}

// UserInteractions runs the extractor over the chat's full stored
// sequence, or over the hot buffer when the store cannot serve it.
func (c *Persistent) UserInteractions(chatID, userID int64, limit int) Interactions {
	msgs, err := c.store.ChatMessages(chatID)
	if err != nil {
		c.fallback("interactions", chatID, err)
		return c.mem.UserInteractions(chatID, userID, limit)
	}
	out := newInteractions()
	extractInteractions(msgs, userID, &out)
	out.capPartners(limit)
	return out
}

// UserInteractionsAllChats extracts per chat in ascending chat-ID order
// and merges the buckets, like the in-memory variant.
func (c *Persistent) UserInteractionsAllChats(userID int64, limit int) Interactions {
	ids, err := c.store.ChatIDs()
	if err != nil {
		log.Printf("Store read failed (chat list): %v, falling back to buffer", err)
		return c.mem.UserInteractionsAllChats(userID, limit)
	}
	out := newInteractions()
	for _, id := range ids {
		msgs, err := c.store.ChatMessages(id)
		if err != nil {
			c.fallback("interactions", id, err)
			msgs = c.mem.chatSnapshot(id)
		}
		extractInteractions(msgs, userID, &out)
	}
	out.capPartners(limit)
	return out
}

func (c *Persistent) CommunicationPartners(chatID, userID int64) map[string]PartnerStats {
	msgs, err := c.store.ChatMessages(chatID)
	if err != nil {
		c.fallback("communication partners", chatID, err)
		return c.mem.CommunicationPartners(chatID, userID)
	}
	return communicationPartners(msgs, userID)
}

// ClearChat empties both layers. Either layer failing leaves the other
// cleared; a store error is logged, not returned.
func (c *Persistent) ClearChat(chatID int64) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.mem.ClearChat(chatID)
	if err := c.store.DeleteChat(chatID); err != nil {
		log.Printf("Failed to delete stored messages for chat %d: %v", chatID, err)
	}
}

// Chats returns the union of chats known to the buffer and to the store,
// in ascending order.
func (c *Persistent) Chats() []int64 {
	seen := make(map[int64]struct{})
	for _, id := range c.mem.Chats() {
		seen[id] = struct{}{}
	}
	stored, err := c.store.ChatIDs()
	if err != nil {
		log.Printf("Store read failed (chat list): %v, using buffer only", err)
	}
	for _, id := range stored {
		seen[id] = struct{}{}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Persistent) Close() error {
	return c.store.Close()
}

func (c *Persistent) fallback(op string, chatID int64, err error) {
	log.Printf("Store read failed (%s, chat %d): %v, falling back to buffer", op, chatID, err)
}
