package handlers

import (
	"context"
	"fmt"
	"strings"

	"webapp-bot/bot/models"
	"webapp-bot/bot/router"
)

// Catalog 一种语言的全部文案
type Catalog struct {
	Greeting   string // %s 为用户名
	OpenButton string
	HelpHeader string
	Unknown    string
	StartDesc  string
	HelpDesc   string
}

// Catalogs 支持的语言，ru 为默认
var Catalogs = map[string]Catalog{
	"ru": {
		Greeting: "Привет, %s! 👋\n\n" +
			"Добро пожаловать в BusinessThing — твой личный бизнес-ассистент.\n\n" +
			"Нажми на кнопку ниже, чтобы открыть приложение:",
		OpenButton: "🚀 Открыть приложение",
		HelpHeader: "Команды бота:",
		Unknown:    "Используй /start, чтобы открыть приложение.",
		StartDesc:  "Открыть приложение",
		HelpDesc:   "Показать эту справку",
	},
	"en": {
		Greeting: "Hi, %s! 👋\n\n" +
			"Welcome to BusinessThing, your personal business assistant.\n\n" +
			"Tap the button below to open the app:",
		OpenButton: "🚀 Open the app",
		HelpHeader: "Bot commands:",
		Unknown:    "Use /start to open the app.",
		StartDesc:  "Open the app",
		HelpDesc:   "Show this help",
	},
}

// CatalogFor returns the catalog for locale, falling back to ru.
func CatalogFor(locale string) Catalog {
	if c, ok := Catalogs[strings.ToLower(locale)]; ok {
		return c
	}
	return Catalogs["ru"]
}

// Commands lists the bot commands in menu order.
func (c Catalog) Commands() []models.Command {
	return []models.Command{
		{Name: "start", Description: c.StartDesc},
		{Name: "help", Description: c.HelpDesc},
	}
}

// Start greets the sender and attaches the Mini App button.
func Start(c Catalog, webAppURL string) router.HandlerFunc {
	return func(_ context.Context, u models.IncomingUpdate) (models.OutgoingMessage, error) {
		return models.OutgoingMessage{
			ChatID: u.ChatID,
			Text:   fmt.Sprintf(c.Greeting, u.Sender.DisplayName()),
			Button: &models.Button{
				Text: c.OpenButton,
				URL:  webAppURL,
				Kind: models.ButtonWebApp,
			},
		}, nil
	}
}

// Help returns the static command list.
func Help(c Catalog) router.HandlerFunc {
	text := HelpText(c.HelpHeader, c.Commands())
	return func(_ context.Context, u models.IncomingUpdate) (models.OutgoingMessage, error) {
		return models.OutgoingMessage{ChatID: u.ChatID, Text: text}, nil
	}
}

// Unknown asks the user to use /start.
func Unknown(c Catalog) router.HandlerFunc {
	return func(_ context.Context, u models.IncomingUpdate) (models.OutgoingMessage, error) {
		return models.OutgoingMessage{ChatID: u.ChatID, Text: c.Unknown}, nil
	}
}

// HelpText renders header, a blank line, and one "/name - description" line per command.
func HelpText(header string, cmds []models.Command) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	for _, cmd := range cmds {
		fmt.Fprintf(&b, "\n/%s - %s", cmd.Name, cmd.Description)
	}
	return b.String()
}

// Register wires start, help and the default handler into r.
func Register(r *router.Router, c Catalog, webAppURL string) error {
	cmds := c.Commands()
	if err := r.Register(cmds[0], Start(c, webAppURL)); err != nil {
		return err
	}
	if err := r.Register(cmds[1], Help(c)); err != nil {
		return err
	}
	r.SetDefault(Unknown(c))
	return nil
}
