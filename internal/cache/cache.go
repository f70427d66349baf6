package cache

import "time"

// Cache is the single ingestion and query point for captured group-chat
// messages. Two implementations exist: Memory keeps only the bounded
// per-chat buffers, Persistent layers the buffers over a durable message
// store. Both are safe for concurrent use.
type Cache interface {
	AddMessage(chatID, userID int64, username, text string, ts time.Time)
	LastMessages(chatID int64, n int) []Message
	MessagesSince(chatID int64, since time.Time) []Message
	ChatStats(chatID int64) ChatStats
	UserMessages(chatID, userID int64, limit int) []Message
	UserMessagesAllChats(userID int64, limit int) []Message
	UserChatStats(userID int64) UserChatStats
	UserInteractions(chatID, userID int64, limit int) Interactions
	UserInteractionsAllChats(userID int64, limit int) Interactions
	CommunicationPartners(chatID, userID int64) map[string]PartnerStats
	ClearChat(chatID int64)
	Chats() []int64
	Close() error
}

// MessageStore is the durable backing used by the persistent cache. All
// retrieval methods return messages oldest-first. Rows are removed only by
// DeleteChat; buffer eviction never reaches the store. Implementations
// must be safe for concurrent use.
type MessageStore interface {
	InsertMessage(m Message) error
	LastMessages(chatID int64, n int) ([]Message, error)
	MessagesSince(chatID int64, since time.Time) ([]Message, error)
	ChatMessages(chatID int64) ([]Message, error)
	ChatStats(chatID int64) (ChatStats, error)
	UserMessages(chatID, userID int64, limit int) ([]Message, error)
	UserMessagesAllChats(userID int64, limit int) ([]Message, error)
	UserChatStats(userID int64) (UserChatStats, error)
	ChatIDs() ([]int64, error)
	DeleteChat(chatID int64) error
	Close() error
}
