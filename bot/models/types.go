package models

import "strings"

// Command 命令描述，启动时定义，运行期间不可变
type Command struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Sender 消息发送者
type Sender struct {
	ID           int64
	FirstName    string
	UserName     string
	LanguageCode string
}

// DisplayName returns the first name, falling back to the username.
func (s Sender) DisplayName() string {
	if name := strings.TrimSpace(s.FirstName); name != "" {
		return name
	}
	return s.UserName
}

// IncomingUpdate is a single command received from Telegram.
type IncomingUpdate struct {
	UpdateID  int
	Command   string // without the leading "/" and any @botname suffix
	Arguments string
	Sender    Sender
	ChatID    int64
	MessageID int
}

// ButtonKind 按钮类型
type ButtonKind int

const (
	// ButtonWebApp opens the URL as a Telegram Mini App.
	ButtonWebApp ButtonKind = iota
	// ButtonLink opens the URL in the browser.
	ButtonLink
)

func (k ButtonKind) String() string {
	switch k {
	case ButtonWebApp:
		return "web_app"
	case ButtonLink:
		return "url"
	default:
		return "unknown"
	}
}

// Button 内联按钮
type Button struct {
	Text string
	URL  string
	Kind ButtonKind
}

// OutgoingMessage 回复消息
type OutgoingMessage struct {
	ChatID int64
	Text   string
	Button *Button
}
