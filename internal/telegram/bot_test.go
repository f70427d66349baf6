package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Diyago/tg-bot-analyse/internal/analyzer"
	"github.com/Diyago/tg-bot-analyse/internal/auth"
	"github.com/Diyago/tg-bot-analyse/internal/cache"
	"github.com/Diyago/tg-bot-analyse/internal/llm"
	"github.com/Diyago/tg-bot-analyse/internal/pending"
	"github.com/Diyago/tg-bot-analyse/internal/storage"
)

type fakeSender struct {
	sent    []tgbotapi.MessageConfig
	failFor map[int64]bool
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	mc, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, nil
	}
	if f.failFor[mc.ChatID] {
		return tgbotapi.Message{}, errors.New("Forbidden: bot can't initiate conversation with a user")
	}
	f.sent = append(f.sent, mc)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) textsTo(chatID int64) []string {
	var out []string
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

type fakeMembers struct {
	status string
	err    error
}

func (f fakeMembers) GetChatMember(cfg tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	if f.err != nil {
		return tgbotapi.ChatMember{}, f.err
	}
	return tgbotapi.ChatMember{Status: f.status}, nil
}

type fakeLLM struct {
	resp  llm.Response
	err   error
	calls int
}

func (f *fakeLLM) Generate(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
	f.calls++
	return f.resp, f.err
}

type memAudit struct{ events []storage.Event }

func (a *memAudit) Record(ev storage.Event) error {
	a.events = append(a.events, ev)
	return nil
}

func (a *memAudit) LoadEvents() ([]storage.Event, error) { return a.events, nil }

type memPendingRepo struct {
	upserts []pending.Request
	removed []int64
}

func (r *memPendingRepo) LoadAll() ([]pending.Request, error) { return nil, nil }

func (r *memPendingRepo) Upsert(req pending.Request) error {
	r.upserts = append(r.upserts, req)
	return nil
}

func (r *memPendingRepo) Remove(userID int64) error {
	r.removed = append(r.removed, userID)
	return nil
}

func mustAuth(t *testing.T, allowed []int64, primary int64) *auth.Service {
	t.Helper()
	svc, err := auth.NewWithRepo(nil, allowed, primary)
	if err != nil {
		t.Fatalf("auth init: %v", err)
	}
	return svc
}

const (
	groupID = int64(-100)
	adminID = int64(999)
)

var alice = &tgbotapi.User{ID: 1, FirstName: "Alice", UserName: "alice"}

func commandLength(text string) int {
	if i := strings.Index(text, " "); i >= 0 {
		return i
	}
	return len(text)
}

func groupText(from *tgbotapi.User, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 10,
		From:      from,
		Chat:      &tgbotapi.Chat{ID: groupID, Type: "group"},
		Text:      text,
	}
}

func groupCommand(from *tgbotapi.User, text string) *tgbotapi.Message {
	m := groupText(from, text)
	m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: commandLength(text)}}
	return m
}

func privateText(from *tgbotapi.User, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 11,
		From:      from,
		Chat:      &tgbotapi.Chat{ID: from.ID, Type: "private"},
		Text:      text,
	}
}

func privateCommand(from *tgbotapi.User, text string) *tgbotapi.Message {
	m := privateText(from, text)
	m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: commandLength(text)}}
	return m
}

func newTestBot(fs *fakeSender, fm memberLookup, svc *auth.Service, fl *fakeLLM) *Bot {
	return &Bot{
		s:        fs,
		members:  fm,
		selfName: "coach_bot",
		authSvc:  svc,
		cache:    cache.NewMemory(100),
		analyzer: analyzer.New(fl),
		pending:  make(map[int64]pending.Request),
		audit:    &memAudit{},
	}
}

const chatReportJSON = `{"communication_tone":"дружелюбный","effectiveness_score":8,` +
	`"positive_patterns":["взаимопомощь"],"improvement_areas":[],` +
	`"recommendations":["чаще подводить итоги"],"team_atmosphere":"рабочая"}`

const userReportJSON = `{"overall_summary":"Коммуницирует четко и по делу","communication_effectiveness":7,` +
	`"motivating_feedback":[],"development_feedback":[],"strengths":["ясность"],"growth_areas":[],` +
	`"interaction_patterns":{},"recommendations":[],"agreements":[]}`

func TestGroupTextIsCached(t *testing.T) {
	fs := &fakeSender{}
	b := newTestBot(fs, fakeMembers{status: "member"}, mustAuth(t, []int64{1}, adminID), &fakeLLM{})
	ctx := context.Background()

	b.handleMessage(ctx, groupText(alice, "привет всем"))
	b.handleMessage(ctx, groupCommand(alice, "/chat_stats"))
	b.handleMessage(ctx, groupText(alice, ""))

	st := b.cache.ChatStats(groupID)
	if st.TotalMessages != 1 {
		t.Fatalf("expected only plain text cached, got %d messages", st.TotalMessages)
	}
	msgs := b.cache.LastMessages(groupID, 10)
	if msgs[0].Username != "Alice" || msgs[0].Text != "привет всем" {
		t.Fatalf("unexpected cached message: %+v", msgs[0])
	}
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		user *tgbotapi.User
		want string
	}{
		{&tgbotapi.User{ID: 1, FirstName: "Иван", LastName: "Петров"}, "Иван Петров"},
		{&tgbotapi.User{ID: 2, FirstName: "Боб"}, "Боб"},
		{&tgbotapi.User{ID: 3, UserName: "ivan"}, "ivan"},
		{&tgbotapi.User{ID: 42}, "42"},
	}
	for _, c := range cases {
		if got := displayName(c.user); got != c.want {
			t.Fatalf("displayName(%+v) = %q, want %q", c.user, got, c.want)
		}
	}
}

func TestAnalyzeLastSendsReportPrivately(t *testing.T) {
	fs := &fakeSender{}
	fl := &fakeLLM{resp: llm.Response{Content: chatReportJSON, Model: "m"}}
	b := newTestBot(fs, fakeMembers{status: "administrator"}, mustAuth(t, []int64{1}, adminID), fl)
	now := time.Now().UTC()
	b.cache.AddMessage(groupID, 1, "Alice", "как дела с релизом?", now.Add(-2*time.Minute))
	b.cache.AddMessage(groupID, 2, "Bob", "почти готово", now.Add(-time.Minute))

	b.handleMessage(context.Background(), groupCommand(alice, "/analyze_last_100"))

	private := fs.textsTo(1)
	if len(private) != 2 {
		t.Fatalf("expected notify + report in private chat, got %d: %v", len(private), private)
	}
	if !strings.Contains(private[0], "Начинаю анализ") {
		t.Fatalf("missing start notice: %q", private[0])
	}
	if !strings.Contains(private[1], "Анализ 2 сообщений") || !strings.Contains(private[1], "8/10") {
		t.Fatalf("unexpected report: %q", private[1])
	}
	if group := fs.textsTo(groupID); len(group) != 0 {
		t.Fatalf("report leaked into the group: %v", group)
	}
	aud := b.audit.(*memAudit)
	if len(aud.events) != 1 || aud.events[0].Action != storage.ActionChatAnalysis {
		t.Fatalf("audit event missing: %+v", aud.events)
	}
}

func TestAnalyzeRequiresPrivateDialog(t *testing.T) {
	fs := &fakeSender{failFor: map[int64]bool{1: true}}
	fl := &fakeLLM{resp: llm.Response{Content: chatReportJSON}}
	b := newTestBot(fs, fakeMembers{status: "creator"}, mustAuth(t, []int64{1}, adminID), fl)
	b.cache.AddMessage(groupID, 2, "Bob", "привет", time.Now().UTC())

	b.handleMessage(context.Background(), groupCommand(alice, "/analyze_last_100"))

	group := fs.textsTo(groupID)
	if len(group) != 1 || !strings.Contains(group[0], "начните диалог со мной (@coach_bot)") {
		t.Fatalf("expected dialog hint in group, got %v", group)
	}
	if fl.calls != 0 {
		t.Fatalf("LLM called despite blocked private channel")
	}
}

func TestAnalyzeRequiresChatAdmin(t *testing.T) {
	fs := &fakeSender{}
	fl := &fakeLLM{}
	b := newTestBot(fs, fakeMembers{status: "member"}, mustAuth(t, []int64{1}, adminID), fl)

	b.handleMessage(context.Background(), groupCommand(alice, "/analyze_last_100"))

	group := fs.textsTo(groupID)
	if len(group) != 1 || !strings.Contains(group[0], "только администраторы чата") {
		t.Fatalf("expected admin refusal, got %v", group)
	}
	if fl.calls != 0 {
		t.Fatalf("LLM must not run for non-admins")
	}
}

func TestAnalyzeRequiresAllowlist(t *testing.T) {
	fs := &fakeSender{}
	b := newTestBot(fs, fakeMembers{status: "administrator"}, mustAuth(t, nil, adminID), &fakeLLM{})
	stranger := &tgbotapi.User{ID: 50, FirstName: "Гость"}

	b.handleMessage(context.Background(), groupCommand(stranger, "/analyze_last_100"))

	group := fs.textsTo(groupID)
	if len(group) != 1 || !strings.Contains(group[0], "нет доступа к боту") {
		t.Fatalf("expected allowlist refusal, got %v", group)
	}
}

func TestAnalyzeMemberLookupFailure(t *testing.T) {
	fs := &fakeSender{}
	b := newTestBot(fs, fakeMembers{err: errors.New("Bad Request")}, mustAuth(t, []int64{1}, adminID), &fakeLLM{})

	b.handleMessage(context.Background(), groupCommand(alice, "/analyze_last_24h"))

	group := fs.textsTo(groupID)
	if len(group) != 1 || !strings.Contains(group[0], "Не удалось проверить права доступа") {
		t.Fatalf("expected lookup failure reply, got %v", group)
	}
}

func TestAnalyzeSinceSkipsOldMessages(t *testing.T) {
	fs := &fakeSender{}
	fl := &fakeLLM{}
	b := newTestBot(fs, fakeMembers{status: "administrator"}, mustAuth(t, []int64{1}, adminID), fl)
	b.cache.AddMessage(groupID, 2, "Bob", "старое сообщение", time.Now().UTC().Add(-48*time.Hour))

	b.handleMessage(context.Background(), groupCommand(alice, "/analyze_last_24h"))

	group := fs.textsTo(groupID)
	if len(group) != 1 || !strings.Contains(group[0], "Не найдено сообщений за указанный период") {
		t.Fatalf("expected empty-window reply, got %v", group)
	}
	if fl.calls != 0 {
		t.Fatalf("LLM called for empty window")
	}
}

func TestAnalyzeEmptyChat(t *testing.T) {
	fs := &fakeSender{}
	b := newTestBot(fs, fakeMembers{status: "administrator"}, mustAuth(t, []int64{1}, adminID), &fakeLLM{})

	b.handleMessage(context.Background(), groupCommand(alice, "/analyze_last_100"))

	group := fs.textsTo(groupID)
	if len(group) != 1 || !strings.Contains(group[0], "Нет сообщений для анализа") {
		t.Fatalf("expected empty-cache reply, got %v", group)
	}
}

func TestAnalyzeUserByReply(t *testing.T) {
	fs := &fakeSender{}
	fl := &fakeLLM{resp: llm.Response{Content: userReportJSON, Model: "m"}}
	b := newTestBot(fs, fakeMembers{status: "administrator"}, mustAuth(t, []int64{1}, adminID), fl)
	now := time.Now().UTC()
	b.cache.AddMessage(groupID, 1, "Alice", "как продвигается задача?", now.Add(-3*time.Minute))
	b.cache.AddMessage(groupID, 2, "Bob", "закончу к вечеру", now.Add(-2*time.Minute))
	b.cache.AddMessage(groupID, 1, "Alice", "отлично", now.Add(-time.Minute))

	bob := &tgbotapi.User{ID: 2, FirstName: "Bob"}
	cmd := groupCommand(alice, "/analyze_user")
	cmd.ReplyToMessage = &tgbotapi.Message{From: bob}
	b.handleMessage(context.Background(), cmd)

	private := fs.textsTo(1)
	if len(private) != 2 {
		t.Fatalf("expected notify + report, got %v", private)
	}
	report := private[1]
	if !strings.Contains(report, "Персональный анализ: Bob") || !strings.Contains(report, "7/10") {
		t.Fatalf("unexpected personal report: %q", report)
	}
	if !strings.Contains(report, "Чаще всего общается с") || !strings.Contains(report, "Alice") {
		t.Fatalf("partners footer missing: %q", report)
	}
}

func TestAnalyzeUserByIDArgument(t *testing.T) {
	fs := &fakeSender{}
	fl := &fakeLLM{resp: llm.Response{Content: userReportJSON}}
	b := newTestBot(fs, fakeMembers{status: "administrator"}, mustAuth(t, []int64{1}, adminID), fl)
	b.cache.AddMessage(groupID, 2, "Bob", "сделал", time.Now().UTC())

	b.handleMessage(context.Background(), groupCommand(alice, "/analyze_user 2"))

	private := fs.textsTo(1)
	if len(private) != 2 || !strings.Contains(private[1], "Персональный анализ: Bob") {
		t.Fatalf("expected report for Bob, got %v", private)
	}
}

func TestAnalyzeUserWithoutTarget(t *testing.T) {
	fs := &fakeSender{}
	b := newTestBot(fs, fakeMembers{status: "administrator"}, mustAuth(t, []int64{1}, adminID), &fakeLLM{})

	b.handleMessage(context.Background(), groupCommand(alice, "/analyze_user"))

	group := fs.textsTo(groupID)
	if len(group) != 1 || !strings.Contains(group[0], "Использование") {
		t.Fatalf("expected usage hint, got %v", group)
	}
}

func TestChatStatsCommand(t *testing.T) {
	fs := &fakeSender{}
	b := newTestBot(fs, fakeMembers{status: "administrator"}, mustAuth(t, []int64{1}, adminID), &fakeLLM{})
	now := time.Now().UTC()
	b.cache.AddMessage(groupID, 1, "Alice", "раз", now.Add(-time.Minute))
	b.cache.AddMessage(groupID, 2, "Bob", "два", now)

	b.handleMessage(context.Background(), groupCommand(alice, "/chat_stats"))

	group := fs.textsTo(groupID)
	if len(group) != 1 {
		t.Fatalf("expected stats message, got %v", group)
	}
	if !strings.Contains(group[0], "Сообщений: 2") || !strings.Contains(group[0], "Участников: 2") {
		t.Fatalf("unexpected stats: %q", group[0])
	}
}

func TestClearHistoryCommand(t *testing.T) {
	fs := &fakeSender{}
	b := newTestBot(fs, fakeMembers{status: "creator"}, mustAuth(t, []int64{1}, adminID), &fakeLLM{})
	b.cache.AddMessage(groupID, 1, "Alice", "раз", time.Now().UTC())
	b.cache.AddMessage(groupID, 2, "Bob", "два", time.Now().UTC())

	b.handleMessage(context.Background(), groupCommand(alice, "/clear_history"))

	if st := b.cache.ChatStats(groupID); st.TotalMessages != 0 {
		t.Fatalf("history not cleared: %+v", st)
	}
	group := fs.textsTo(groupID)
	if len(group) != 1 || !strings.Contains(group[0], "очищена") {
		t.Fatalf("expected confirmation, got %v", group)
	}
	aud := b.audit.(*memAudit)
	if len(aud.events) != 1 || aud.events[0].Action != storage.ActionClearHistory {
		t.Fatalf("audit event missing: %+v", aud.events)
	}
}

func TestAccessRequestFlow(t *testing.T) {
	fs := &fakeSender{}
	repo := &memPendingRepo{}
	b := newTestBot(fs, fakeMembers{}, mustAuth(t, nil, adminID), &fakeLLM{})
	b.pendingRepo = repo
	newbie := &tgbotapi.User{ID: 5, UserName: "newbie", FirstName: "Новый"}
	ctx := context.Background()

	b.handleMessage(ctx, privateText(newbie, "привет, пустите"))

	if got := fs.textsTo(5); len(got) != 1 || !strings.Contains(got[0], "Запрос на доступ отправлен администратору") {
		t.Fatalf("unexpected user reply: %v", got)
	}
	adminMsgs := fs.textsTo(adminID)
	if len(adminMsgs) != 1 || !strings.Contains(adminMsgs[0], "хочет пользоваться ботом") {
		t.Fatalf("admin not notified: %v", adminMsgs)
	}
	var adminCfg tgbotapi.MessageConfig
	for _, m := range fs.sent {
		if m.ChatID == adminID {
			adminCfg = m
		}
	}
	if adminCfg.ReplyMarkup == nil {
		t.Fatalf("approve/deny keyboard missing")
	}
	if len(repo.upserts) != 1 || repo.upserts[0].User.ID != 5 {
		t.Fatalf("request not persisted: %+v", repo.upserts)
	}

	// повторное сообщение не создает новую заявку
	b.handleMessage(ctx, privateText(newbie, "ну что там?"))
	if got := fs.textsTo(adminID); len(got) != 1 {
		t.Fatalf("duplicate admin notify: %v", got)
	}
	if got := fs.textsTo(5); len(got) != 2 || !strings.Contains(got[1], "уже отправлен") {
		t.Fatalf("unexpected repeat reply: %v", got)
	}
}

func TestApproveCallbackGrantsAccess(t *testing.T) {
	fs := &fakeSender{}
	repo := &memPendingRepo{}
	b := newTestBot(fs, fakeMembers{}, mustAuth(t, nil, adminID), &fakeLLM{})
	b.pendingRepo = repo
	b.pending[5] = pending.Request{User: auth.User{ID: 5, Username: "newbie"}, RequestedAt: time.Now().UTC()}

	// чужие callback игнорируются
	b.handleCallback(&tgbotapi.CallbackQuery{From: &tgbotapi.User{ID: 5}, Data: approvePrefix + "5"})
	if b.authSvc.Contains(5) {
		t.Fatalf("non-admin callback approved a user")
	}

	b.handleCallback(&tgbotapi.CallbackQuery{From: &tgbotapi.User{ID: adminID}, Data: approvePrefix + "5"})

	if !b.authSvc.Contains(5) {
		t.Fatalf("user not added to allowlist")
	}
	if _, ok := b.pending[5]; ok {
		t.Fatalf("pending request not dropped")
	}
	if len(repo.removed) != 1 || repo.removed[0] != 5 {
		t.Fatalf("pending request not removed from repo: %v", repo.removed)
	}
	if got := fs.textsTo(5); len(got) != 1 || !strings.Contains(got[0], "Доступ предоставлен") {
		t.Fatalf("user not notified: %v", got)
	}
	if got := fs.textsTo(adminID); len(got) != 1 || !strings.Contains(got[0], "добавлен в allowlist") {
		t.Fatalf("admin not notified: %v", got)
	}
}

func TestDenyCallback(t *testing.T) {
	fs := &fakeSender{}
	b := newTestBot(fs, fakeMembers{}, mustAuth(t, nil, adminID), &fakeLLM{})
	b.pending[6] = pending.Request{User: auth.User{ID: 6}, RequestedAt: time.Now().UTC()}

	b.handleCallback(&tgbotapi.CallbackQuery{From: &tgbotapi.User{ID: adminID}, Data: denyPrefix + "6"})

	if b.authSvc.Contains(6) {
		t.Fatalf("denied user ended up in allowlist")
	}
	if _, ok := b.pending[6]; ok {
		t.Fatalf("pending request not dropped")
	}
	if got := fs.textsTo(6); len(got) != 1 || !strings.Contains(got[0], "отказано") {
		t.Fatalf("user not notified: %v", got)
	}
}

func TestPrivateCommandRouting(t *testing.T) {
	fs := &fakeSender{}
	b := newTestBot(fs, fakeMembers{}, mustAuth(t, []int64{1}, adminID), &fakeLLM{})
	ctx := context.Background()

	b.handleMessage(ctx, privateCommand(alice, "/start"))
	b.handleMessage(ctx, privateCommand(alice, "/help"))
	b.handleMessage(ctx, privateCommand(alice, "/chat_stats"))
	b.handleMessage(ctx, privateCommand(alice, "/allowlist"))
	b.handleMessage(ctx, privateCommand(alice, "/nonsense"))

	got := fs.textsTo(1)
	if len(got) != 5 {
		t.Fatalf("expected 5 replies, got %d: %v", len(got), got)
	}
	if !strings.Contains(got[0], "Коммуникационный Коуч") {
		t.Fatalf("unexpected /start reply: %q", got[0])
	}
	if !strings.Contains(got[1], "Как использовать бота") || !strings.Contains(got[1], "/analyze_last_100") {
		t.Fatalf("unexpected /help reply: %q", got[1])
	}
	if !strings.Contains(got[2], "только в групповом чате") {
		t.Fatalf("unexpected group-command reply: %q", got[2])
	}
	if !strings.Contains(got[3], "только администратору") {
		t.Fatalf("unexpected admin-command reply: %q", got[3])
	}
	if !strings.Contains(got[4], "Неизвестная команда") {
		t.Fatalf("unexpected unknown-command reply: %q", got[4])
	}
}

func TestAdminCommands(t *testing.T) {
	fs := &fakeSender{}
	b := newTestBot(fs, fakeMembers{}, mustAuth(t, []int64{1}, adminID), &fakeLLM{})
	b.pending[5] = pending.Request{User: auth.User{ID: 5, Username: "newbie"}, RequestedAt: time.Now().UTC()}
	admin := &tgbotapi.User{ID: adminID, UserName: "boss"}
	ctx := context.Background()

	b.handleMessage(ctx, privateCommand(admin, "/allowlist"))
	b.handleMessage(ctx, privateCommand(admin, "/pending"))
	b.handleMessage(ctx, privateCommand(admin, "/approve 5"))
	b.handleMessage(ctx, privateCommand(admin, "/remove 1"))
	b.handleMessage(ctx, privateCommand(admin, "/remove abc"))
	b.handleMessage(ctx, privateCommand(admin, "/deny"))

	got := fs.textsTo(adminID)
	if !strings.Contains(got[0], "id=1") || !strings.Contains(got[0], "id=999") {
		t.Fatalf("unexpected allowlist: %q", got[0])
	}
	if !strings.Contains(got[1], "id=5") || !strings.Contains(got[1], "@newbie") {
		t.Fatalf("unexpected pending list: %q", got[1])
	}
	if !b.authSvc.Contains(5) {
		t.Fatalf("/approve did not add the user")
	}
	if b.authSvc.Contains(1) {
		t.Fatalf("/remove did not remove the user")
	}
	var texts []string
	for _, m := range fs.sent {
		if m.ChatID == adminID {
			texts = append(texts, m.Text)
		}
	}
	joined := strings.Join(texts, "\n")
	if !strings.Contains(joined, "Некорректный user_id") {
		t.Fatalf("bad id not rejected: %q", joined)
	}
	if !strings.Contains(joined, "Usage: /deny <user_id>") {
		t.Fatalf("missing usage hint: %q", joined)
	}
}

func TestRemovePrimaryAdminRefused(t *testing.T) {
	fs := &fakeSender{}
	b := newTestBot(fs, fakeMembers{}, mustAuth(t, nil, adminID), &fakeLLM{})
	admin := &tgbotapi.User{ID: adminID}

	b.handleMessage(context.Background(), privateCommand(admin, "/remove 999"))

	got := fs.textsTo(adminID)
	if len(got) != 1 || !strings.Contains(got[0], "Ошибка удаления") {
		t.Fatalf("primary admin removal not refused: %v", got)
	}
	if !b.authSvc.Contains(adminID) {
		t.Fatalf("primary admin lost access")
	}
}

func TestMyStats(t *testing.T) {
	fs := &fakeSender{}
	b := newTestBot(fs, fakeMembers{}, mustAuth(t, []int64{1}, adminID), &fakeLLM{})
	now := time.Now().UTC()
	b.cache.AddMessage(groupID, 1, "Alice", "раз", now.Add(-2*time.Minute))
	b.cache.AddMessage(groupID, 1, "Alice", "два", now.Add(-time.Minute))
	b.cache.AddMessage(-200, 1, "Alice", "три", now)

	b.handleMessage(context.Background(), privateCommand(alice, "/my_stats"))

	got := fs.textsTo(1)
	if len(got) != 1 {
		t.Fatalf("expected stats reply, got %v", got)
	}
	if !strings.Contains(got[0], "Ваша статистика") ||
		!strings.Contains(got[0], "Сообщений: 3") ||
		!strings.Contains(got[0], "Чатов: 2") {
		t.Fatalf("unexpected stats: %q", got[0])
	}
}

func TestAnalyzeMe(t *testing.T) {
	fs := &fakeSender{}
	fl := &fakeLLM{resp: llm.Response{Content: userReportJSON}}
	b := newTestBot(fs, fakeMembers{}, mustAuth(t, []int64{1}, adminID), fl)
	now := time.Now().UTC()
	b.cache.AddMessage(groupID, 1, "Alice", "начнем стендап", now.Add(-2*time.Minute))
	b.cache.AddMessage(groupID, 2, "Bob", "я за", now.Add(-time.Minute))

	b.handleMessage(context.Background(), privateCommand(alice, "/analyze_me"))

	got := fs.textsTo(1)
	if len(got) != 2 {
		t.Fatalf("expected notice + report, got %v", got)
	}
	if !strings.Contains(got[1], "Персональный анализ: Alice") {
		t.Fatalf("unexpected report: %q", got[1])
	}
	if fl.calls != 1 {
		t.Fatalf("expected one LLM call, got %d", fl.calls)
	}
}

func TestAllowedPrivateTextGetsHint(t *testing.T) {
	fs := &fakeSender{}
	b := newTestBot(fs, fakeMembers{}, mustAuth(t, []int64{1}, adminID), &fakeLLM{})

	b.handleMessage(context.Background(), privateText(alice, "проанализируй мой чат"))

	got := fs.textsTo(1)
	if len(got) != 1 || !strings.Contains(got[0], "групповые чаты") {
		t.Fatalf("expected usage hint, got %v", got)
	}
}

func TestSendDailyDigest(t *testing.T) {
	fs := &fakeSender{}
	b := newTestBot(fs, fakeMembers{}, mustAuth(t, nil, adminID), &fakeLLM{})
	b.cache.AddMessage(groupID, 1, "Alice", "утро", time.Now().UTC().Add(-time.Hour))

	if err := b.SendDailyDigest(context.Background()); err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	got := fs.textsTo(adminID)
	if len(got) != 1 || !strings.Contains(got[0], "Сводка активности") {
		t.Fatalf("unexpected digest: %v", got)
	}
	aud := b.audit.(*memAudit)
	if len(aud.events) != 1 || aud.events[0].Action != storage.ActionDailyDigest {
		t.Fatalf("digest audit event missing: %+v", aud.events)
	}
}

func TestSendDailyDigestWithoutAdmin(t *testing.T) {
	b := newTestBot(&fakeSender{}, fakeMembers{}, mustAuth(t, nil, 0), &fakeLLM{})
	if err := b.SendDailyDigest(context.Background()); err == nil {
		t.Fatalf("expected error without primary admin")
	}
}
