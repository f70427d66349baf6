package analyzer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Diyago/tg-bot-analyse/internal/cache"
	"github.com/Diyago/tg-bot-analyse/internal/llm"
)

type fakeLLM struct {
	resp   llm.Response
	err    error
	calls  int
	gotMsg []llm.Message
}

func (f *fakeLLM) Generate(_ context.Context, messages []llm.Message) (llm.Response, error) {
	f.calls++
	f.gotMsg = messages
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return f.resp, nil
}

var noon = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func chatMessages() []cache.Message {
	return []cache.Message{
		{ChatID: 1, UserID: 100, Username: "alice", Text: "привет, как продвигается задача?", Timestamp: noon},
		{ChatID: 1, UserID: 200, Username: "bob", Text: "почти готово, осталось тестирование", Timestamp: noon.Add(time.Minute)},
	}
}

func TestAnalyzeChatFormatsReport(t *testing.T) {
	fake := &fakeLLM{resp: llm.Response{Content: `{
		"communication_tone": "нейтральный",
		"effectiveness_score": 8,
		"positive_patterns": ["вежливое общение"],
		"improvement_areas": ["мало конкретики"],
		"recommendations": ["фиксировать договоренности"],
		"team_atmosphere": "рабочая"
	}`, Model: "test-model"}}
	a := New(fake)

	report, err := a.AnalyzeChat(context.Background(), chatMessages())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for _, want := range []string{"Анализ 2 сообщений", "нейтральный", "8/10", "вежливое общение", "рабочая"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}

	if fake.calls != 1 || len(fake.gotMsg) != 2 {
		t.Fatalf("want one call with system+user messages, got %d calls", fake.calls)
	}
	if !strings.Contains(fake.gotMsg[1].Content, "[12:00] alice: привет, как продвигается задача?") {
		t.Errorf("transcript not passed to the model:\n%s", fake.gotMsg[1].Content)
	}
}

func TestAnalyzeChatEmptyHistory(t *testing.T) {
	fake := &fakeLLM{}
	a := New(fake)

	report, err := a.AnalyzeChat(context.Background(), nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(report, "Нет сообщений") {
		t.Errorf("unexpected report for empty history: %q", report)
	}
	if fake.calls != 0 {
		t.Errorf("the model must not be called for empty history")
	}
}

func TestAnalyzeChatRawFallback(t *testing.T) {
	fake := &fakeLLM{resp: llm.Response{Content: "Просто текст без JSON"}}
	a := New(fake)

	report, err := a.AnalyzeChat(context.Background(), chatMessages())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report != "Просто текст без JSON" {
		t.Errorf("want raw passthrough, got %q", report)
	}
}

func TestAnalyzeChatFencedJSON(t *testing.T) {
	fake := &fakeLLM{resp: llm.Response{Content: "```json\n{\"communication_tone\": \"дружелюбный\", \"effectiveness_score\": 9}\n```"}}
	a := New(fake)

	report, err := a.AnalyzeChat(context.Background(), chatMessages())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(report, "9/10") || !strings.Contains(report, "дружелюбный") {
		t.Errorf("fenced JSON not parsed:\n%s", report)
	}
}

func TestAnalyzeChatError(t *testing.T) {
	fake := &fakeLLM{err: errors.New("model down")}
	a := New(fake)

	if _, err := a.AnalyzeChat(context.Background(), chatMessages()); err == nil {
		t.Fatalf("want error when the model fails")
	}
}

func TestAnalyzeUserFormatsReport(t *testing.T) {
	fake := &fakeLLM{resp: llm.Response{Content: `{
		"overall_summary": "Общается по делу",
		"communication_effectiveness": 7,
		"motivating_feedback": ["быстро отвечает коллегам"],
		"development_feedback": ["иногда резковат"],
		"strengths": ["конкретность"],
		"growth_areas": ["эмпатия"],
		"interaction_patterns": {"bob": "короткие рабочие реплики"},
		"recommendations": ["чаще давать контекст"],
		"agreements": ["созвон в пятницу"]
	}`, Model: "test-model"}}
	a := New(fake)

	own := []cache.Message{{ChatID: 1, UserID: 100, Username: "alice", Text: "беру задачу", Timestamp: noon}}
	report, err := a.AnalyzeUser(context.Background(), "alice", own, cache.Interactions{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for _, want := range []string{"Персональный анализ: alice", "7/10", "bob: короткие рабочие реплики", "созвон в пятницу"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestAnalyzeUserEmptyHistory(t *testing.T) {
	fake := &fakeLLM{}
	a := New(fake)

	report, err := a.AnalyzeUser(context.Background(), "alice", nil, cache.Interactions{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(report, "Нет сообщений пользователя") {
		t.Errorf("unexpected report: %q", report)
	}
	if fake.calls != 0 {
		t.Errorf("the model must not be called for a silent user")
	}
}

func TestAnalyzeUserPromptCarriesDialogues(t *testing.T) {
	fake := &fakeLLM{resp: llm.Response{Content: "ok"}}
	a := New(fake)

	own := []cache.Message{{ChatID: 1, UserID: 100, Username: "alice", Text: "готово", Timestamp: noon}}
	um := own[0]
	inter := cache.Interactions{
		Self: own,
		Partners: map[string][]cache.Interaction{
			"bob": {
				{PartnerMessage: cache.Message{ChatID: 1, UserID: 200, Username: "bob", Text: "спасибо!", Timestamp: noon.Add(time.Minute)}, UserMessage: &um, Timestamp: noon.Add(time.Minute)},
			},
		},
	}

	if _, err := a.AnalyzeUser(context.Background(), "alice", own, inter); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	prompt := fake.gotMsg[1].Content
	if !strings.Contains(prompt, "С bob:") {
		t.Errorf("dialogue section missing:\n%s", prompt)
	}
	if !strings.Contains(prompt, "(в ответ на: \"готово\")") {
		t.Errorf("reply linkage missing:\n%s", prompt)
	}
}
