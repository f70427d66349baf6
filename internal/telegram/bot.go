package telegram

import (
	"context"
	"fmt"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Diyago/tg-bot-analyse/internal/analytics"
	"github.com/Diyago/tg-bot-analyse/internal/analyzer"
	"github.com/Diyago/tg-bot-analyse/internal/auth"
	"github.com/Diyago/tg-bot-analyse/internal/cache"
	"github.com/Diyago/tg-bot-analyse/internal/pending"
	"github.com/Diyago/tg-bot-analyse/internal/storage"
)

const (
	approvePrefix = "approve_"
	denyPrefix    = "deny_"
)

// Bot connects the Telegram transport to the message cache and the
// analyzer. Group text is captured into the cache; admin commands pull
// slices back out, run them through the analyzer and deliver the report
// to the invoker's private chat.
type Bot struct {
	api         *tgbotapi.BotAPI
	s           sender
	members     memberLookup
	selfName    string
	authSvc     *auth.Service
	cache       cache.Cache
	analyzer    *analyzer.Analyzer
	pending     map[int64]pending.Request
	pendingRepo pending.Repository
	audit       storage.AuditLog
	parseMode   string
}

func New(
	botToken string,
	authSvc *auth.Service,
	c cache.Cache,
	an *analyzer.Analyzer,
	pendingRepo pending.Repository,
	audit storage.AuditLog,
	parseMode string,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot api: %w", err)
	}
	client := botAPIClient{api: api}
	b := &Bot{
		api:         api,
		s:           client,
		members:     client,
		selfName:    api.Self.UserName,
		authSvc:     authSvc,
		cache:       c,
		analyzer:    an,
		pending:     make(map[int64]pending.Request),
		pendingRepo: pendingRepo,
		audit:       audit,
		parseMode:   parseMode,
	}
	if pendingRepo != nil {
		reqs, err := pendingRepo.LoadAll()
		if err != nil {
			log.Printf("⚠️ Failed to load pending requests: %v", err)
		}
		for _, r := range reqs {
			b.pending[r.User.ID] = r
		}
	}
	return b, nil
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	log.Printf("🤖 Bot @%s started, polling for updates", b.selfName)

	for update := range updates {
		if update.Message != nil {
			b.handleMessage(ctx, update.Message)
			continue
		}
		if update.CallbackQuery != nil {
			b.handleCallback(update.CallbackQuery)
			continue
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if msg.Chat.IsPrivate() {
		b.handlePrivateMessage(ctx, msg)
		return
	}
	if msg.Chat.IsGroup() || msg.Chat.IsSuperGroup() {
		b.handleGroupMessage(ctx, msg)
	}
}

// SendDailyDigest builds the 24h activity digest over every known chat and
// delivers it to the primary admin privately. Wired as the scheduler's job.
func (b *Bot) SendDailyDigest(ctx context.Context) error {
	adminID := b.authSvc.PrimaryID()
	if adminID == 0 {
		return fmt.Errorf("no primary admin configured for daily digest")
	}
	digest := analytics.BuildDailyDigest(b.cache, time.Now().UTC())
	b.recordAudit(storage.ActionDailyDigest, 0, adminID, map[string]interface{}{
		"active_chats":   digest.ActiveChats,
		"total_messages": digest.TotalMessages,
	})
	out := tgbotapi.NewMessage(adminID, digest.Summary())
	if _, err := b.s.Send(out); err != nil {
		return fmt.Errorf("failed to send daily digest: %w", err)
	}
	return nil
}

func (b *Bot) recordAudit(action string, chatID, userID int64, data map[string]interface{}) {
	if b.audit == nil {
		return
	}
	ev := storage.Event{
		Timestamp: time.Now().UTC(),
		Action:    action,
		ChatID:    chatID,
		UserID:    userID,
		Data:      data,
	}
	if err := b.audit.Record(ev); err != nil {
		log.Printf("⚠️ Failed to record %s audit event: %v", action, err)
	}
}

// sendMessage sends text without a parse mode. Use it for service replies
// that interpolate user-supplied names.
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.s.Send(msg); err != nil {
		log.Printf("failed to send message to %d: %v", chatID, err)
	}
}

// sendReport delivers bot-formatted text (reports, help) with the
// configured parse mode.
func (b *Bot) sendReport(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if b.parseMode != "" {
		msg.ParseMode = b.parseMode
	}
	if _, err := b.s.Send(msg); err != nil {
		log.Printf("failed to send report to %d: %v", chatID, err)
	}
}

func (b *Bot) reply(to *tgbotapi.Message, text string) {
	msg := tgbotapi.NewMessage(to.Chat.ID, text)
	msg.ReplyToMessageID = to.MessageID
	if _, err := b.s.Send(msg); err != nil {
		log.Printf("failed to reply in chat %d: %v", to.Chat.ID, err)
	}
}
