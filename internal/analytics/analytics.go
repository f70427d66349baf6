package analytics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Diyago/tg-bot-analyse/internal/cache"
)

// DailyDigest содержит сводку активности чатов за сутки
type DailyDigest struct {
	Date          string         `json:"date"`
	TotalMessages int            `json:"total_messages"`
	ActiveChats   int            `json:"active_chats"`
	ChatActivity  []ChatActivity `json:"chat_activity"`
}

// ChatActivity содержит статистику по одному чату
type ChatActivity struct {
	ChatID        int64 `json:"chat_id"`
	Messages      int   `json:"messages"`
	UniqueUsers   int   `json:"unique_users"`
	TotalRetained int   `json:"total_retained"`
}

// BuildDailyDigest собирает активность всех чатов за последние сутки.
// Чаты без новых сообщений в сводку не попадают.
func BuildDailyDigest(c cache.Cache, now time.Time) *DailyDigest {
	since := now.Add(-24 * time.Hour)
	digest := &DailyDigest{Date: now.Format("2006-01-02")}

	for _, chatID := range c.Chats() {
		day := c.MessagesSince(chatID, since)
		if len(day) == 0 {
			continue
		}
		users := make(map[int64]bool)
		for _, m := range day {
			users[m.UserID] = true
		}
		digest.ChatActivity = append(digest.ChatActivity, ChatActivity{
			ChatID:        chatID,
			Messages:      len(day),
			UniqueUsers:   len(users),
			TotalRetained: c.ChatStats(chatID).TotalMessages,
		})
		digest.TotalMessages += len(day)
	}
	digest.ActiveChats = len(digest.ChatActivity)
	return digest
}

// Summary создает текстовое резюме для отправки администратору
func (d *DailyDigest) Summary() string {
	if d.ActiveChats == 0 {
		return fmt.Sprintf("Сводка за %s: сообщений за сутки не было.", d.Date)
	}

	summary := fmt.Sprintf(`Сводка активности за %s:

- Всего сообщений: %d
- Активных чатов: %d

`, d.Date, d.TotalMessages, d.ActiveChats)

	summary += "По чатам:\n"
	for _, ca := range d.ChatActivity {
		summary += fmt.Sprintf("- Чат %d: %d сообщений от %d участников (в кеше %d)\n",
			ca.ChatID, ca.Messages, ca.UniqueUsers, ca.TotalRetained)
	}
	return summary
}

// ToJSON сериализует сводку для журнала
func (d *DailyDigest) ToJSON() (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
