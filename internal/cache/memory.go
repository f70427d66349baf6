package cache

import (
	"log"
	"sort"
	"sync"
	"time"
)

// DefaultMaxSize bounds each per-chat buffer when no explicit size is
// configured.
const DefaultMaxSize = 1000

// Memory keeps a bounded message buffer per chat. Once a buffer is full
// the oldest message is evicted on every append. History is lost on
// restart; wrap it in Persistent to keep messages across restarts.
type Memory struct {
	mu      sync.RWMutex
	maxSize int
	chats   map[int64]*ring
}

func NewMemory(maxSize int) *Memory {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	log.Printf("Message cache initialized with max size %d per chat", maxSize)
	return &Memory{
		maxSize: maxSize,
		chats:   make(map[int64]*ring),
	}
}

// chat returns the buffer for chatID, creating it on first use. Callers
// must hold the write lock.
func (c *Memory) chat(chatID int64) *ring {
	r, ok := c.chats[chatID]
	if !ok {
		r = newRing(c.maxSize)
		c.chats[chatID] = r
	}
	return r
}

// AddMessage records one captured message. ts is the capture time
// assigned by the caller; appends are expected to arrive in
// chronological order.
func (c *Memory) AddMessage(chatID, userID int64, username, text string, ts time.Time) {
	c.add(Message{
		ChatID:    chatID,
		UserID:    userID,
		Username:  username,
		Text:      text,
		Timestamp: ts,
	})
}

func (c *Memory) add(m Message) {
	c.mu.Lock()
	c.chat(m.ChatID).append(m)
	c.mu.Unlock()
}

// LastMessages returns up to n most recent messages of the chat, oldest
// first. n <= 0 returns everything buffered.
func (c *Memory) LastMessages(chatID int64, n int) []Message {
	return lastN(c.chatSnapshot(chatID), n)
}

// MessagesSince returns the chat's messages with timestamp at or after
// since, oldest first.
func (c *Memory) MessagesSince(chatID int64, since time.Time) []Message {
	var out []Message
	for _, m := range c.chatSnapshot(chatID) {
		if !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	return out
}

// ChatStats reports aggregate numbers for one chat. An unknown or cleared
// chat yields the zero value.
func (c *Memory) ChatStats(chatID int64) ChatStats {
	return statsOf(c.chatSnapshot(chatID))
}

// UserMessages returns the user's messages in one chat, oldest first,
// trimmed to the most recent limit entries. limit <= 0 keeps everything.
func (c *Memory) UserMessages(chatID, userID int64, limit int) []Message {
	return lastN(filterByUser(c.chatSnapshot(chatID), userID), limit)
}

// UserMessagesAllChats merges the user's messages from every chat into a
// single chronological sequence, trimmed to the most recent limit entries.
func (c *Memory) UserMessagesAllChats(userID int64, limit int) []Message {
	c.mu.RLock()
	var all []Message
	for _, r := range c.chats {
		all = append(all, filterByUser(r.snapshot(), userID)...)
	}
	c.mu.RUnlock()

	sortChronological(all)
	return lastN(all, limit)
}

// UserChatStats aggregates the user's activity across every chat.
func (c *Memory) UserChatStats(userID int64) UserChatStats {
	c.mu.RLock()
	var all []Message
	var chatIDs []int64
	for id, r := range c.chats {
		ms := filterByUser(r.snapshot(), userID)
		if len(ms) == 0 {
			continue
		}
		chatIDs = append(chatIDs, id)
		all = append(all, ms...)
	}
	c.mu.RUnlock()

	sort.Slice(chatIDs, func(i, j int) bool { return chatIDs[i] < chatIDs[j] })
	stats := UserChatStats{
		TotalMessages: len(all),
		ChatsCount:    len(chatIDs),
		ChatIDs:       chatIDs,
	}
	if len(all) > 0 {
		sortChronological(all)
		oldest := all[0].Timestamp
		newest := all[len(all)-1].Timestamp
		stats.OldestMessage = &oldest
		stats.NewestMessage = &newest
	}
	return stats
}

// UserInteractions extracts the user's nearby exchanges within one chat.
// limit caps each partner bucket to its most recent entries; the user's
// own messages are never capped.
func (c *Memory) UserInteractions(chatID, userID int64, limit int) Interactions {
	out := newInteractions()
	extractInteractions(c.chatSnapshot(chatID), userID, &out)
	out.capPartners(limit)
	return out
}

// UserInteractionsAllChats extracts interactions chat by chat, in
// ascending chat-ID order, and merges the partner buckets without
// re-sorting across chats. limit is applied after the merge.
func (c *Memory) UserInteractionsAllChats(userID int64, limit int) Interactions {
	c.mu.RLock()
	ids := make([]int64, 0, len(c.chats))
	for id := range c.chats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	seqs := make([][]Message, 0, len(ids))
	for _, id := range ids {
		seqs = append(seqs, c.chats[id].snapshot())
	}
	c.mu.RUnlock()

	out := newInteractions()
	for _, msgs := range seqs {
		extractInteractions(msgs, userID, &out)
	}
	out.capPartners(limit)
	return out
}

// CommunicationPartners reports how often other participants appear near
// the user's messages in one chat.
func (c *Memory) CommunicationPartners(chatID, userID int64) map[string]PartnerStats {
	return communicationPartners(c.chatSnapshot(chatID), userID)
}

// ClearChat drops every buffered message of the chat. The chat stays
// known to Chats. Clearing an unknown chat is a no-op.
func (c *Memory) ClearChat(chatID int64) {
	c.mu.Lock()
	if r, ok := c.chats[chatID]; ok {
		r.clear()
	}
	c.mu.Unlock()
	log.Printf("Cleared message cache for chat %d", chatID)
}

// Chats lists every chat that ever received a message, in ascending
// order.
func (c *Memory) Chats() []int64 {
	c.mu.RLock()
	out := make([]int64, 0, len(c.chats))
	for id := range c.chats {
		out = append(out, id)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close exists to satisfy Cache; the in-memory cache holds no external
// resources.
func (c *Memory) Close() error { return nil }

func (c *Memory) chatSnapshot(chatID int64) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.chats[chatID]
	if !ok {
		return nil
	}
	return r.snapshot()
}

func filterByUser(msgs []Message, userID int64) []Message {
	var out []Message
	for _, m := range msgs {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out
}

// lastN keeps the most recent limit messages of a chronological sequence.
// limit <= 0 keeps everything.
func lastN(msgs []Message, limit int) []Message {
	if limit > 0 && len(msgs) > limit {
		return msgs[len(msgs)-limit:]
	}
	return msgs
}

// statsOf assumes msgs is chronological.
func statsOf(msgs []Message) ChatStats {
	if len(msgs) == 0 {
		return ChatStats{}
	}
	users := make(map[int64]struct{})
	for _, m := range msgs {
		users[m.UserID] = struct{}{}
	}
	oldest := msgs[0].Timestamp
	newest := msgs[len(msgs)-1].Timestamp
	return ChatStats{
		TotalMessages: len(msgs),
		UniqueUsers:   len(users),
		OldestMessage: &oldest,
		NewestMessage: &newest,
	}
}

// sortChronological orders messages by timestamp, keeping the original
// order of equal timestamps.
func sortChronological(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
