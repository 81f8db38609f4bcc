package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotInterface defines the tgbotapi methods the session relies on.
// *tgbotapi.BotAPI satisfies it; tests substitute a fake.
type BotInterface interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

var _ BotInterface = (*tgbotapi.BotAPI)(nil)
