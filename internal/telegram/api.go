package telegram

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type memberLookup interface {
	GetChatMember(cfg tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

type botAPIClient struct{ api *tgbotapi.BotAPI }

func (c botAPIClient) Send(m tgbotapi.Chattable) (tgbotapi.Message, error) {
	return c.api.Send(m)
}

func (c botAPIClient) GetChatMember(cfg tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	return c.api.GetChatMember(cfg)
}
