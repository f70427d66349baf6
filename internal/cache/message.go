package cache

import "time"

// Message is a single captured group-chat message. Timestamp is the
// capture time assigned on ingestion, not the Telegram-reported send time,
// and is always UTC.
type Message struct {
	ChatID    int64
	UserID    int64
	Username  string
	Text      string
	Timestamp time.Time
}

// ChatStats summarizes one chat's retained history. OldestMessage and
// NewestMessage are nil when the chat has no messages.
type ChatStats struct {
	TotalMessages int
	UniqueUsers   int
	OldestMessage *time.Time
	NewestMessage *time.Time
}

// UserChatStats summarizes one user's presence across every known chat.
// ChatIDs lists only the chats where the user has at least one message,
// in ascending order.
type UserChatStats struct {
	TotalMessages int
	ChatsCount    int
	ChatIDs       []int64
	OldestMessage *time.Time
	NewestMessage *time.Time
}

// Interaction links one of the target user's messages with a nearby
// message from another participant. UserMessage is set only when the
// partner message came after the user's message; for preceding context it
// is nil. Timestamp is always the partner message's timestamp.
type Interaction struct {
	UserMessage    *Message
	PartnerMessage Message
	Timestamp      time.Time
	ChatID         int64
}

// Interactions holds a user's own messages alongside the nearby exchanges
// with each conversation partner, keyed by the partner's display name.
type Interactions struct {
	Self     []Message
	Partners map[string][]Interaction
}

// PartnerStats counts how often another participant appears near the
// target user's messages. LastInteraction is the timestamp of the
// partner's most recent message inside the window.
type PartnerStats struct {
	UserID          int64
	MessageCount    int
	LastInteraction time.Time
}

func newInteractions() Interactions {
	return Interactions{Partners: make(map[string][]Interaction)}
}
