package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"webapp-bot/bot/models"

	"github.com/fatih/color"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Options 会话参数
type Options struct {
	PollTimeout     int           // 长轮询超时（秒）
	HTTPTimeout     time.Duration // HTTP 客户端超时
	MaxSendAttempts int           // 429 时的最大发送次数
	RetryBackoff    time.Duration // 没有 retry_after 时的退避基数
	Debug           bool
}

func (o *Options) setDefaults() {
	if o.PollTimeout <= 0 {
		o.PollTimeout = 60
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = time.Duration(o.PollTimeout+15) * time.Second
	}
	if o.MaxSendAttempts <= 0 {
		o.MaxSendAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
}

// Session 已认证的 Bot API 会话，持有 update 通道
type Session struct {
	api  BotInterface
	self tgbotapi.User
	opts Options

	stopOnce sync.Once
	done     chan struct{}
}

// Connect authenticates token against the Bot API and returns a session.
// Any failure wraps models.ErrAuthentication.
func Connect(token string, opts Options) (*Session, error) {
	startTime := time.Now()
	opts.setDefaults()

	if err := tgbotapi.SetLogger(logrus.StandardLogger()); err != nil {
		logrus.Warnf("failed to route tgbotapi logs through logrus: %v", err)
	}

	// Custom HTTP client for Telegram API
	httpClient := &http.Client{
		Timeout: opts.HTTPTimeout,
		Transport: &http.Transport{
			TLSHandshakeTimeout: 10 * time.Second,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			ForceAttemptHTTP2:   true,
		},
	}

	// NewBotAPIWithClient calls getMe, so a bad token fails here.
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAuthentication, err)
	}
	api.Debug = opts.Debug

	logrus.WithFields(logrus.Fields{
		"method": "Connect",
		"bot_id": api.Self.ID,
		"took":   time.Since(startTime),
	}).Info(color.GreenString("Authorized as @%s", api.Self.UserName))

	return NewSession(api, api.Self, opts), nil
}

// NewSession wraps an already authenticated client.
func NewSession(api BotInterface, self tgbotapi.User, opts Options) *Session {
	opts.setDefaults()
	return &Session{
		api:  api,
		self: self,
		opts: opts,
		done: make(chan struct{}),
	}
}

// UserName returns the bot's @username without the @.
func (s *Session) UserName() string {
	return s.self.UserName
}

// SetCommands publishes the command menu shown by Telegram clients.
func (s *Session) SetCommands(cmds []models.Command) error {
	botCmds := make([]tgbotapi.BotCommand, 0, len(cmds))
	for _, cmd := range cmds {
		botCmds = append(botCmds, tgbotapi.BotCommand{Command: cmd.Name, Description: cmd.Description})
	}
	if _, err := s.api.Request(tgbotapi.NewSetMyCommands(botCmds...)); err != nil {
		return fmt.Errorf("setMyCommands: %w", err)
	}
	return nil
}

// DropPendingUpdates discards updates queued before the bot started.
func (s *Session) DropPendingUpdates() error {
	if _, err := s.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		return fmt.Errorf("deleteWebhook: %w", err)
	}
	return nil
}

// Updates starts long polling and returns the command updates.
// The channel is closed when the underlying poller stops.
func (s *Session) Updates() <-chan models.IncomingUpdate {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = s.opts.PollTimeout
	u.AllowedUpdates = []string{"message"}
	in := s.api.GetUpdatesChan(u)

	out := make(chan models.IncomingUpdate)
	go func() {
		defer close(out)
		for update := range in {
			converted, ok := ConvertUpdate(update)
			if !ok {
				logrus.WithField("update_id", update.UpdateID).Debug("skipping non-command update")
				continue
			}
			select {
			case out <- converted:
			case <-s.done:
				return
			}
		}
	}()
	return out
}

// StopReceiving stops long polling. Safe to call more than once.
func (s *Session) StopReceiving() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.api.StopReceivingUpdates()
	})
}

// Send delivers msg, retrying when Telegram answers 429.
func (s *Session) Send(ctx context.Context, msg models.OutgoingMessage) error {
	chattable := BuildMessage(msg)

	for attempt := 1; ; attempt++ {
		_, err := s.api.Send(chattable)
		if err == nil {
			return nil
		}

		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) || apiErr.Code != http.StatusTooManyRequests || attempt >= s.opts.MaxSendAttempts {
			return fmt.Errorf("send to chat %d (attempt %d/%d): %w", msg.ChatID, attempt, s.opts.MaxSendAttempts, err)
		}

		retryAfter := time.Duration(attempt*attempt) * s.opts.RetryBackoff
		if apiErr.RetryAfter > 0 {
			retryAfter = time.Duration(apiErr.RetryAfter) * time.Second
		}
		logrus.WithFields(logrus.Fields{
			"method":  "Send",
			"chat_id": msg.ChatID,
			"attempt": attempt,
		}).Warnf("rate limited, retrying after %v", retryAfter)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ConvertUpdate extracts a command update. ok is false for anything that is
// not a command message.
func ConvertUpdate(update tgbotapi.Update) (models.IncomingUpdate, bool) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return models.IncomingUpdate{}, false
	}

	in := models.IncomingUpdate{
		UpdateID:  update.UpdateID,
		Command:   msg.Command(),
		Arguments: msg.CommandArguments(),
		MessageID: msg.MessageID,
	}
	if msg.Chat != nil {
		in.ChatID = msg.Chat.ID
	}
	if msg.From != nil {
		in.Sender = models.Sender{
			ID:           msg.From.ID,
			FirstName:    msg.From.FirstName,
			UserName:     msg.From.UserName,
			LanguageCode: msg.From.LanguageCode,
		}
	}
	return in, true
}

// tgbotapi v5.5.1 has no web_app button type, so the keyboard is marshalled
// from these structs instead.
type webAppInfo struct {
	URL string `json:"url"`
}

type webAppButton struct {
	Text   string     `json:"text"`
	WebApp webAppInfo `json:"web_app"`
}

type webAppKeyboard struct {
	InlineKeyboard [][]webAppButton `json:"inline_keyboard"`
}

// BuildMessage converts msg into a sendMessage request.
func BuildMessage(msg models.OutgoingMessage) tgbotapi.MessageConfig {
	reply := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	if msg.Button == nil {
		return reply
	}

	switch msg.Button.Kind {
	case models.ButtonWebApp:
		reply.ReplyMarkup = webAppKeyboard{
			InlineKeyboard: [][]webAppButton{{
				{Text: msg.Button.Text, WebApp: webAppInfo{URL: msg.Button.URL}},
			}},
		}
	default:
		reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL(msg.Button.Text, msg.Button.URL),
			),
		)
	}
	return reply
}
