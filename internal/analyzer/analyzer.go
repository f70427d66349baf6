package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/Diyago/tg-bot-analyse/internal/cache"
	"github.com/Diyago/tg-bot-analyse/internal/llm"
)

// Analyzer turns cached chat history into communication-coach reports.
// All user-facing output is Russian; the LLM is asked for strict JSON
// and the raw completion is sent as-is when it returns anything else.
type Analyzer struct {
	client llm.Client
}

func New(client llm.Client) *Analyzer {
	return &Analyzer{client: client}
}

type chatReportJSON struct {
	CommunicationTone  string   `json:"communication_tone"`
	EffectivenessScore int      `json:"effectiveness_score"`
	PositivePatterns   []string `json:"positive_patterns"`
	ImprovementAreas   []string `json:"improvement_areas"`
	Recommendations    []string `json:"recommendations"`
	TeamAtmosphere     string   `json:"team_atmosphere"`
}

type userReportJSON struct {
	OverallSummary             string            `json:"overall_summary"`
	CommunicationEffectiveness int               `json:"communication_effectiveness"`
	MotivatingFeedback         []string          `json:"motivating_feedback"`
	DevelopmentFeedback        []string          `json:"development_feedback"`
	Strengths                  []string          `json:"strengths"`
	GrowthAreas                []string          `json:"growth_areas"`
	InteractionPatterns        map[string]string `json:"interaction_patterns"`
	Recommendations            []string          `json:"recommendations"`
	Agreements                 []string          `json:"agreements"`
}

func buildChatPrompt() string {
	return "Ты — коуч по командным коммуникациям. Тебе передают историю рабочего группового чата. " +
		"Беспристрастно проанализируй общение команды: тон, конструктивность, узкие места. " +
		"Верни строго JSON {\"communication_tone\": \"общий тон\", \"effectiveness_score\": число от 1 до 10, " +
		"\"positive_patterns\": [\"...\"], \"improvement_areas\": [\"...\"], \"recommendations\": [\"...\"], " +
		"\"team_atmosphere\": \"...\"}. Не используй какого-либо форматирования, только JSON чистым текстом."
}

func buildUserPrompt(username string) string {
	return "Ты — персональный коуч по коммуникациям. Тебе передают сообщения пользователя " + username +
		" из рабочего чата и фрагменты его диалогов с коллегами. " +
		"Дай доброжелательный, но честный разбор его манеры общения. " +
		"Верни строго JSON {\"overall_summary\": \"...\", \"communication_effectiveness\": число от 1 до 10, " +
		"\"motivating_feedback\": [\"...\"], \"development_feedback\": [\"...\"], \"strengths\": [\"...\"], " +
		"\"growth_areas\": [\"...\"], \"interaction_patterns\": {\"имя коллеги\": \"характер общения\"}, " +
		"\"recommendations\": [\"...\"], \"agreements\": [\"...\"]}. " +
		"Не используй какого-либо форматирования, только JSON чистым текстом."
}

// AnalyzeChat builds a report over one chat's message sequence.
func (a *Analyzer) AnalyzeChat(ctx context.Context, msgs []cache.Message) (string, error) {
	if len(msgs) == 0 {
		return "Нет сообщений для анализа.", nil
	}

	req := []llm.Message{
		{Role: "system", Content: buildChatPrompt()},
		{Role: "user", Content: "История чата:\n\n" + formatTranscript(msgs)},
	}
	resp, err := a.client.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat analysis failed: %w", err)
	}
	a.logResponse(resp)

	rep, ok := parseChatReport(resp.Content)
	if !ok {
		log.Printf("Chat report is not valid JSON, sending raw content")
		return resp.Content, nil
	}
	return formatChatReport(len(msgs), rep), nil
}

// AnalyzeUser builds a personal report from the user's own messages and
// the extracted interactions with colleagues.
func (a *Analyzer) AnalyzeUser(ctx context.Context, username string, msgs []cache.Message, inter cache.Interactions) (string, error) {
	if len(msgs) == 0 {
		return "Нет сообщений пользователя для анализа.", nil
	}

	var input strings.Builder
	input.WriteString("Сообщения пользователя ")
	input.WriteString(username)
	input.WriteString(":\n\n")
	input.WriteString(formatTranscript(msgs))
	if ctxText := formatInteractionContext(inter); ctxText != "" {
		input.WriteString("\n\nДиалоги с коллегами:\n\n")
		input.WriteString(ctxText)
	}

	req := []llm.Message{
		{Role: "system", Content: buildUserPrompt(username)},
		{Role: "user", Content: input.String()},
	}
	resp, err := a.client.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("user analysis failed: %w", err)
	}
	a.logResponse(resp)

	rep, ok := parseUserReport(resp.Content)
	if !ok {
		log.Printf("User report is not valid JSON, sending raw content")
		return resp.Content, nil
	}
	return formatUserReport(username, rep), nil
}

func parseChatReport(s string) (chatReportJSON, bool) {
	var rep chatReportJSON
	if err := json.Unmarshal([]byte(stripFences(s)), &rep); err != nil {
		return chatReportJSON{}, false
	}
	if rep.CommunicationTone == "" && rep.EffectivenessScore == 0 {
		return chatReportJSON{}, false
	}
	return rep, true
}

func parseUserReport(s string) (userReportJSON, bool) {
	var rep userReportJSON
	if err := json.Unmarshal([]byte(stripFences(s)), &rep); err != nil {
		return userReportJSON{}, false
	}
	if rep.OverallSummary == "" && rep.CommunicationEffectiveness == 0 {
		return userReportJSON{}, false
	}
	return rep, true
}

// stripFences tolerates models that wrap the JSON in a markdown code
// block despite the prompt.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func formatTranscript(msgs []cache.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString("[")
		b.WriteString(m.Timestamp.Format("15:04"))
		b.WriteString("] ")
		b.WriteString(m.Username)
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func formatInteractionContext(inter cache.Interactions) string {
	if len(inter.Partners) == 0 {
		return ""
	}
	names := make([]string, 0, len(inter.Partners))
	for name := range inter.Partners {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString("С ")
		b.WriteString(name)
		b.WriteString(":\n")
		for _, rec := range inter.Partners[name] {
			b.WriteString("- [")
			b.WriteString(rec.PartnerMessage.Timestamp.Format("15:04"))
			b.WriteString("] ")
			b.WriteString(rec.PartnerMessage.Username)
			b.WriteString(": ")
			b.WriteString(rec.PartnerMessage.Text)
			if rec.UserMessage != nil {
				b.WriteString(" (в ответ на: \"")
				b.WriteString(rec.UserMessage.Text)
				b.WriteString("\")")
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatChatReport(total int, rep chatReportJSON) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 **Анализ %d сообщений**\n\n", total)
	fmt.Fprintf(&b, "**Тон общения:** %s\n", rep.CommunicationTone)
	fmt.Fprintf(&b, "**Эффективность:** %d/10\n", rep.EffectivenessScore)
	writeBullets(&b, "Сильные стороны", rep.PositivePatterns)
	writeBullets(&b, "Зоны роста", rep.ImprovementAreas)
	writeBullets(&b, "Рекомендации", rep.Recommendations)
	if rep.TeamAtmosphere != "" {
		fmt.Fprintf(&b, "\n**Атмосфера в команде:** %s\n", rep.TeamAtmosphere)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatUserReport(username string, rep userReportJSON) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 **Персональный анализ: %s**\n\n", username)
	fmt.Fprintf(&b, "%s\n", rep.OverallSummary)
	fmt.Fprintf(&b, "\n**Эффективность коммуникации:** %d/10\n", rep.CommunicationEffectiveness)
	writeBullets(&b, "Мотивирующая обратная связь", rep.MotivatingFeedback)
	writeBullets(&b, "Над чем поработать", rep.DevelopmentFeedback)
	writeBullets(&b, "Сильные стороны", rep.Strengths)
	writeBullets(&b, "Точки роста", rep.GrowthAreas)
	if len(rep.InteractionPatterns) > 0 {
		b.WriteString("\n**Паттерны взаимодействия:**\n")
		names := make([]string, 0, len(rep.InteractionPatterns))
		for name := range rep.InteractionPatterns {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "• %s: %s\n", name, rep.InteractionPatterns[name])
		}
	}
	writeBullets(&b, "Рекомендации", rep.Recommendations)
	writeBullets(&b, "Договоренности", rep.Agreements)
	return strings.TrimRight(b.String(), "\n")
}

func writeBullets(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n**%s:**\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "• %s\n", it)
	}
}

func (a *Analyzer) logResponse(resp llm.Response) {
	log.Printf("LLM response [model=%s, tokens: prompt=%d, completion=%d, total=%d]", resp.Model, resp.PromptTokens, resp.CompletionTokens, resp.TotalTokens)
}
