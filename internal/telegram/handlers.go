package telegram

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Diyago/tg-bot-analyse/internal/auth"
	"github.com/Diyago/tg-bot-analyse/internal/cache"
	"github.com/Diyago/tg-bot-analyse/internal/pending"
	"github.com/Diyago/tg-bot-analyse/internal/storage"
)

const (
	analyzeLastCount            = 100
	analyzeWindow               = 24 * time.Hour
	userAnalyzeMessageLimit     = 100
	userAnalyzeInteractionLimit = 20
	partnersFooterLimit         = 5
)

const startText = "Привет! Я — Коммуникационный Коуч. Моя задача — помочь вам " +
	"проанализировать общение в рабочих чатах.\n\n" +
	"Добавьте меня в групповой чат, и я начну собирать сообщения (я не имею доступа к старой истории!). " +
	"Когда вам понадобится анализ, используйте одну из команд прямо в группе.\n\n" +
	"Чтобы узнать больше о командах, отправьте /help."

const helpText = "📌 **Как использовать бота:**\n\n" +
	"1. **Добавьте меня в ваш групповой чат.**\n" +
	"   Я начну собирать сообщения с момента добавления.\n\n" +
	"2. **Используйте команду для анализа (в группе):**\n" +
	"   - `/analyze_last_100` — проанализировать последние 100 сообщений.\n" +
	"   - `/analyze_last_24h` — проанализировать сообщения за последние 24 часа.\n" +
	"   - `/analyze_user` — персональный разбор: ответьте командой на сообщение участника или укажите его id.\n" +
	"   - `/chat_stats` — статистика собранных сообщений.\n" +
	"   - `/clear_history` — очистить накопленную историю чата.\n\n" +
	"3. **Получите отчет:**\n" +
	"   Отчет об анализе придет вам в **личные сообщения**, чтобы обеспечить конфиденциальность.\n\n" +
	"В личных сообщениях доступны `/my_stats` — ваша статистика по всем чатам — " +
	"и `/analyze_me` — персональный разбор вашего общения.\n\n" +
	"🔒 **Важно:** Только администраторы чата могут запускать анализ. " +
	"Отчеты доступны только тому, кто вызвал команду."

const noMessagesText = "Нет сообщений для анализа. Я собираю сообщения с момента моего добавления в чат."

// --- Group messages ---

func (b *Bot) handleGroupMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleGroupCommand(ctx, msg)
		return
	}
	b.cacheGroupMessage(msg)
}

// cacheGroupMessage captures plain group text. Commands and messages
// without text never reach the cache; the timestamp is capture time, not
// the Telegram-reported send time.
func (b *Bot) cacheGroupMessage(msg *tgbotapi.Message) {
	if msg.Text == "" {
		return
	}
	b.cache.AddMessage(msg.Chat.ID, msg.From.ID, displayName(msg.From), msg.Text, time.Now().UTC())
}

func (b *Bot) handleGroupCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "analyze_last_100":
		b.handleAnalyzeLast(ctx, msg)
	case "analyze_last_24h":
		b.handleAnalyzeSince(ctx, msg)
	case "analyze_user":
		b.handleAnalyzeUser(ctx, msg)
	case "chat_stats":
		b.handleChatStats(msg)
	case "clear_history":
		b.handleClearHistory(msg)
	}
}

// ensureGroupAdmin gates every analysis command: the invoker must be an
// administrator or the creator of the chat and be on the bot allowlist.
func (b *Bot) ensureGroupAdmin(msg *tgbotapi.Message) bool {
	member, err := b.members.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: msg.Chat.ID, UserID: msg.From.ID},
	})
	if err != nil {
		log.Printf("⚠️ Chat member lookup failed (chat %d, user %d): %v", msg.Chat.ID, msg.From.ID, err)
		b.reply(msg, "Не удалось проверить права доступа. Убедитесь, что я имею права администратора в этом чате.")
		return false
	}
	if !member.IsAdministrator() && !member.IsCreator() {
		b.reply(msg, "Эту команду могут использовать только администраторы чата.")
		return false
	}
	if !b.authSvc.Contains(msg.From.ID) {
		b.reply(msg, "У вас нет доступа к боту. Напишите мне в личные сообщения, чтобы запросить доступ.")
		return false
	}
	return true
}

// notifyAnalysisStarted proves the private channel works before the LLM
// call: Telegram rejects sends to users who never opened a dialog with
// the bot.
func (b *Bot) notifyAnalysisStarted(msg *tgbotapi.Message) bool {
	out := tgbotapi.NewMessage(msg.From.ID, "Начинаю анализ... Это может занять несколько минут.")
	if _, err := b.s.Send(out); err != nil {
		log.Printf("⚠️ Private notify failed (user %d): %v", msg.From.ID, err)
		b.reply(msg, fmt.Sprintf("Не могу отправить вам отчет в личные сообщения. "+
			"Пожалуйста, начните диалог со мной (@%s) и попробуйте снова.", b.selfName))
		return false
	}
	return true
}

func (b *Bot) handleAnalyzeLast(ctx context.Context, msg *tgbotapi.Message) {
	if !b.ensureGroupAdmin(msg) {
		return
	}
	msgs := b.cache.LastMessages(msg.Chat.ID, analyzeLastCount)
	if len(msgs) == 0 {
		b.reply(msg, noMessagesText)
		return
	}
	b.deliverChatReport(ctx, msg, msgs)
}

func (b *Bot) handleAnalyzeSince(ctx context.Context, msg *tgbotapi.Message) {
	if !b.ensureGroupAdmin(msg) {
		return
	}
	if b.cache.ChatStats(msg.Chat.ID).TotalMessages == 0 {
		b.reply(msg, noMessagesText)
		return
	}
	msgs := b.cache.MessagesSince(msg.Chat.ID, time.Now().UTC().Add(-analyzeWindow))
	if len(msgs) == 0 {
		b.reply(msg, "Не найдено сообщений за указанный период.")
		return
	}
	b.deliverChatReport(ctx, msg, msgs)
}

func (b *Bot) deliverChatReport(ctx context.Context, msg *tgbotapi.Message, msgs []cache.Message) {
	if !b.notifyAnalysisStarted(msg) {
		return
	}
	report, err := b.analyzer.AnalyzeChat(ctx, msgs)
	if err != nil {
		log.Printf("❌ Chat analysis failed (chat %d): %v", msg.Chat.ID, err)
		b.sendMessage(msg.From.ID, "Произошла ошибка при анализе. Попробуйте позже.")
		return
	}
	b.recordAudit(storage.ActionChatAnalysis, msg.Chat.ID, msg.From.ID, map[string]interface{}{
		"command":  msg.Command(),
		"messages": len(msgs),
	})
	b.sendReport(msg.From.ID, report)
}

func (b *Bot) handleAnalyzeUser(ctx context.Context, msg *tgbotapi.Message) {
	if !b.ensureGroupAdmin(msg) {
		return
	}
	target, name, ok := analyzeTarget(msg)
	if !ok {
		b.reply(msg, "Использование: ответьте командой /analyze_user на сообщение участника "+
			"или укажите его id: /analyze_user <user_id>")
		return
	}
	userMsgs := b.cache.UserMessages(msg.Chat.ID, target, userAnalyzeMessageLimit)
	if len(userMsgs) == 0 {
		b.reply(msg, "Не найдено сообщений этого участника.")
		return
	}
	if name == "" {
		name = userMsgs[len(userMsgs)-1].Username
	}
	if !b.notifyAnalysisStarted(msg) {
		return
	}
	inter := b.cache.UserInteractions(msg.Chat.ID, target, userAnalyzeInteractionLimit)
	report, err := b.analyzer.AnalyzeUser(ctx, name, userMsgs, inter)
	if err != nil {
		log.Printf("❌ User analysis failed (chat %d, user %d): %v", msg.Chat.ID, target, err)
		b.sendMessage(msg.From.ID, "Произошла ошибка при анализе. Попробуйте позже.")
		return
	}
	if footer := partnersFooter(b.cache.CommunicationPartners(msg.Chat.ID, target)); footer != "" {
		report += footer
	}
	b.recordAudit(storage.ActionUserAnalysis, msg.Chat.ID, msg.From.ID, map[string]interface{}{
		"target":   target,
		"messages": len(userMsgs),
	})
	b.sendReport(msg.From.ID, report)
}

// analyzeTarget resolves whom /analyze_user points at: the author of the
// replied-to message, or an explicit numeric id argument.
func analyzeTarget(msg *tgbotapi.Message) (int64, string, bool) {
	if r := msg.ReplyToMessage; r != nil && r.From != nil {
		return r.From.ID, displayName(r.From), true
	}
	args := strings.Fields(msg.CommandArguments())
	if len(args) == 1 {
		if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
			return id, "", true
		}
	}
	return 0, "", false
}

func (b *Bot) handleChatStats(msg *tgbotapi.Message) {
	if !b.ensureGroupAdmin(msg) {
		return
	}
	b.sendReport(msg.Chat.ID, formatChatStats(b.cache.ChatStats(msg.Chat.ID)))
}

func (b *Bot) handleClearHistory(msg *tgbotapi.Message) {
	if !b.ensureGroupAdmin(msg) {
		return
	}
	b.cache.ClearChat(msg.Chat.ID)
	b.recordAudit(storage.ActionClearHistory, msg.Chat.ID, msg.From.ID, nil)
	b.reply(msg, "История сообщений этого чата очищена.")
}

// --- Private messages ---

func (b *Bot) handlePrivateMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handlePrivateCommand(ctx, msg)
		return
	}
	if b.authSvc.Contains(msg.From.ID) {
		b.sendMessage(msg.Chat.ID, "Я анализирую только групповые чаты. Добавьте меня в группу "+
			"и используйте команды анализа — подробности в /help.")
		return
	}
	b.requestAccess(msg)
}

func (b *Bot) handlePrivateCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.sendMessage(msg.Chat.ID, startText)
	case "help":
		b.sendReport(msg.Chat.ID, helpText)
	case "my_stats":
		b.handleMyStats(msg)
	case "analyze_me":
		b.handleAnalyzeMe(ctx, msg)
	case "analyze_last_100", "analyze_last_24h", "analyze_user", "chat_stats", "clear_history":
		b.sendMessage(msg.Chat.ID, "Эта команда работает только в групповом чате.")
	case "allowlist", "pending", "approve", "deny", "remove":
		if !b.authSvc.IsPrimary(msg.From.ID) {
			b.sendMessage(msg.Chat.ID, "Команда доступна только администратору")
			return
		}
		b.handleAdminCommand(msg)
	default:
		b.sendMessage(msg.Chat.ID, "Неизвестная команда. Отправьте /help, чтобы посмотреть список команд.")
	}
}

func (b *Bot) handleMyStats(msg *tgbotapi.Message) {
	if !b.authSvc.Contains(msg.From.ID) {
		b.sendMessage(msg.Chat.ID, "У вас нет доступа к боту. Отправьте мне любое сообщение, чтобы запросить доступ.")
		return
	}
	b.sendReport(msg.Chat.ID, formatUserStats(b.cache.UserChatStats(msg.From.ID)))
}

func (b *Bot) handleAnalyzeMe(ctx context.Context, msg *tgbotapi.Message) {
	if !b.authSvc.Contains(msg.From.ID) {
		b.sendMessage(msg.Chat.ID, "У вас нет доступа к боту. Отправьте мне любое сообщение, чтобы запросить доступ.")
		return
	}
	msgs := b.cache.UserMessagesAllChats(msg.From.ID, userAnalyzeMessageLimit)
	if len(msgs) == 0 {
		b.sendMessage(msg.Chat.ID, "Пока нет ваших сообщений для анализа. "+
			"Я вижу только сообщения, отправленные после моего добавления в чат.")
		return
	}
	b.sendMessage(msg.Chat.ID, "Начинаю анализ... Это может занять несколько минут.")
	inter := b.cache.UserInteractionsAllChats(msg.From.ID, userAnalyzeInteractionLimit)
	report, err := b.analyzer.AnalyzeUser(ctx, displayName(msg.From), msgs, inter)
	if err != nil {
		log.Printf("❌ Self analysis failed (user %d): %v", msg.From.ID, err)
		b.sendMessage(msg.Chat.ID, "Произошла ошибка при анализе. Попробуйте позже.")
		return
	}
	b.recordAudit(storage.ActionUserAnalysis, 0, msg.From.ID, map[string]interface{}{
		"command":  msg.Command(),
		"messages": len(msgs),
	})
	b.sendReport(msg.Chat.ID, report)
}

// requestAccess queues the user for approval and pings the primary admin
// with inline approve/deny buttons.
func (b *Bot) requestAccess(msg *tgbotapi.Message) {
	log.Printf("Access request from user %d (@%s)", msg.From.ID, msg.From.UserName)
	if _, ok := b.pending[msg.From.ID]; ok {
		b.sendMessage(msg.Chat.ID, "Ваш запрос на доступ уже отправлен администратору. Пожалуйста, ожидайте подтверждения.")
		return
	}
	req := pending.Request{
		User: auth.User{
			ID:        msg.From.ID,
			Username:  msg.From.UserName,
			FirstName: msg.From.FirstName,
			LastName:  msg.From.LastName,
		},
		RequestedAt: time.Now().UTC(),
	}
	b.pending[msg.From.ID] = req
	if b.pendingRepo != nil {
		if err := b.pendingRepo.Upsert(req); err != nil {
			log.Printf("⚠️ Failed to persist pending request %d: %v", msg.From.ID, err)
		}
	}
	b.sendMessage(msg.Chat.ID, "Запрос на доступ отправлен администратору. Как только он подтвердит, вы получите уведомление.")
	b.notifyAdminRequest(req)
}

func (b *Bot) notifyAdminRequest(req pending.Request) {
	adminID := b.authSvc.PrimaryID()
	if adminID == 0 {
		return
	}
	text := fmt.Sprintf("Пользователь @%s с id %d хочет пользоваться ботом", req.User.Username, req.User.ID)
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("разрешить", approvePrefix+strconv.FormatInt(req.User.ID, 10)),
			tgbotapi.NewInlineKeyboardButtonData("запретить", denyPrefix+strconv.FormatInt(req.User.ID, 10)),
		),
	)
	out := tgbotapi.NewMessage(adminID, text)
	out.ReplyMarkup = kb
	if _, err := b.s.Send(out); err != nil {
		log.Printf("failed to notify admin about request from %d: %v", req.User.ID, err)
	}
}

// --- Admin commands ---

func (b *Bot) handleAdminCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "allowlist":
		var bld strings.Builder
		bld.WriteString("Allowlist:\n")
		for _, u := range b.authSvc.List() {
			bld.WriteString(fmt.Sprintf("- id=%d, @%s %s %s\n", u.ID, u.Username, u.FirstName, u.LastName))
		}
		b.sendMessage(msg.Chat.ID, bld.String())
	case "pending":
		var bld strings.Builder
		bld.WriteString("Pending заявки:\n")
		for _, r := range b.pendingRequests() {
			bld.WriteString(fmt.Sprintf("- id=%d, @%s %s %s (от %s)\n",
				r.User.ID, r.User.Username, r.User.FirstName, r.User.LastName,
				r.RequestedAt.Format("02.01.2006 15:04")))
		}
		b.sendMessage(msg.Chat.ID, bld.String())
	case "approve":
		uid, ok := b.parseUserIDArg(msg, "/approve")
		if !ok {
			return
		}
		b.approveUser(uid)
	case "deny":
		uid, ok := b.parseUserIDArg(msg, "/deny")
		if !ok {
			return
		}
		b.denyUser(uid)
	case "remove":
		uid, ok := b.parseUserIDArg(msg, "/remove")
		if !ok {
			return
		}
		if err := b.authSvc.Remove(uid); err != nil {
			b.sendMessage(msg.Chat.ID, fmt.Sprintf("Ошибка удаления: %v", err))
			return
		}
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("Пользователь %d удален из allowlist", uid))
	}
}

func (b *Bot) parseUserIDArg(msg *tgbotapi.Message, usage string) (int64, bool) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 1 {
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("Usage: %s <user_id>", usage))
		return 0, false
	}
	uid, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.sendMessage(msg.Chat.ID, "Некорректный user_id")
		return 0, false
	}
	return uid, true
}

func (b *Bot) pendingRequests() []pending.Request {
	reqs := make([]pending.Request, 0, len(b.pending))
	for _, r := range b.pending {
		reqs = append(reqs, r)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].User.ID < reqs[j].User.ID })
	return reqs
}

func (b *Bot) approveUser(userID int64) {
	user := auth.User{ID: userID}
	if req, ok := b.pending[userID]; ok {
		user = req.User
	}
	if err := b.authSvc.Add(user); err != nil {
		log.Printf("❌ Failed to add user %d to allowlist: %v", userID, err)
		b.sendMessage(b.authSvc.PrimaryID(), fmt.Sprintf("Ошибка добавления: %v", err))
		return
	}
	b.dropPending(userID)
	b.recordAudit(storage.ActionAccessGranted, 0, userID, nil)
	b.sendMessage(userID, "Доступ предоставлен! Отправьте /help, чтобы узнать о командах анализа.")
	b.sendMessage(b.authSvc.PrimaryID(), fmt.Sprintf("Пользователь %d добавлен в allowlist", userID))
}

func (b *Bot) denyUser(userID int64) {
	b.dropPending(userID)
	b.recordAudit(storage.ActionAccessDenied, 0, userID, nil)
	b.sendMessage(userID, "К сожалению, в доступе отказано.")
	b.sendMessage(b.authSvc.PrimaryID(), fmt.Sprintf("Пользователю %d отказано в доступе", userID))
}

func (b *Bot) dropPending(userID int64) {
	if _, ok := b.pending[userID]; !ok {
		return
	}
	delete(b.pending, userID)
	if b.pendingRepo != nil {
		if err := b.pendingRepo.Remove(userID); err != nil {
			log.Printf("⚠️ Failed to remove pending request %d: %v", userID, err)
		}
	}
}

// --- Callbacks ---

func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) {
	if cb.From == nil || !b.authSvc.IsPrimary(cb.From.ID) {
		return
	}
	switch {
	case strings.HasPrefix(cb.Data, approvePrefix):
		id, _ := strconv.ParseInt(strings.TrimPrefix(cb.Data, approvePrefix), 10, 64)
		b.approveUser(id)
	case strings.HasPrefix(cb.Data, denyPrefix):
		id, _ := strconv.ParseInt(strings.TrimPrefix(cb.Data, denyPrefix), 10, 64)
		b.denyUser(id)
	}
}

// --- Formatting ---

// displayName mirrors Telegram's "full name": first plus last name,
// falling back to the username and then the bare id.
func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.UserName != "" {
		return u.UserName
	}
	return strconv.FormatInt(u.ID, 10)
}

func formatChatStats(st cache.ChatStats) string {
	if st.TotalMessages == 0 {
		return "Пока нет собранных сообщений. Я собираю сообщения с момента моего добавления в чат."
	}
	var b strings.Builder
	b.WriteString("📊 **Статистика чата**\n\n")
	fmt.Fprintf(&b, "Сообщений: %d\n", st.TotalMessages)
	fmt.Fprintf(&b, "Участников: %d\n", st.UniqueUsers)
	if st.OldestMessage != nil {
		fmt.Fprintf(&b, "Первое сообщение: %s\n", st.OldestMessage.Format("02.01.2006 15:04"))
	}
	if st.NewestMessage != nil {
		fmt.Fprintf(&b, "Последнее сообщение: %s\n", st.NewestMessage.Format("02.01.2006 15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatUserStats(st cache.UserChatStats) string {
	if st.TotalMessages == 0 {
		return "Пока нет данных о ваших сообщениях. Я вижу только сообщения, отправленные после моего добавления в чат."
	}
	var b strings.Builder
	b.WriteString("📈 **Ваша статистика**\n\n")
	fmt.Fprintf(&b, "Сообщений: %d\n", st.TotalMessages)
	fmt.Fprintf(&b, "Чатов: %d\n", st.ChatsCount)
	if st.OldestMessage != nil {
		fmt.Fprintf(&b, "Первое сообщение: %s\n", st.OldestMessage.Format("02.01.2006 15:04"))
	}
	if st.NewestMessage != nil {
		fmt.Fprintf(&b, "Последнее сообщение: %s\n", st.NewestMessage.Format("02.01.2006 15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// partnersFooter summarizes whom the analyzed user talks to most,
// appended below the personal report.
func partnersFooter(partners map[string]cache.PartnerStats) string {
	if len(partners) == 0 {
		return ""
	}
	type entry struct {
		name string
		st   cache.PartnerStats
	}
	list := make([]entry, 0, len(partners))
	for name, st := range partners {
		list = append(list, entry{name, st})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].st.MessageCount != list[j].st.MessageCount {
			return list[i].st.MessageCount > list[j].st.MessageCount
		}
		return list[i].name < list[j].name
	})
	if len(list) > partnersFooterLimit {
		list = list[:partnersFooterLimit]
	}
	var b strings.Builder
	b.WriteString("\n\n🤝 **Чаще всего общается с:**\n")
	for _, e := range list {
		fmt.Fprintf(&b, "• %s — %d сообщений, последнее %s\n",
			e.name, e.st.MessageCount, e.st.LastInteraction.Format("02.01 15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}
