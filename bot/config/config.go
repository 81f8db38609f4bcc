package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"webapp-bot/bot/models"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// TelegramConfig Telegram 配置
type TelegramConfig struct {
	Token       string `yaml:"token"`        // Bot Token
	PollTimeout int    `yaml:"poll_timeout"` // 长轮询超时（秒）
	DropPending *bool  `yaml:"drop_pending"` // 启动时丢弃积压的 updates
	Debug       bool   `yaml:"debug"`        // tgbotapi 调试日志
	SendRetries int    `yaml:"send_retries"` // 429 时的最大发送次数
	HTTPTimeout int    `yaml:"http_timeout"` // HTTP 客户端超时（秒）
}

// WebAppConfig Mini App 配置
type WebAppConfig struct {
	URL string `yaml:"url"`
}

// MetricsConfig Prometheus 配置
type MetricsConfig struct {
	Addr string `yaml:"addr"` // 为空时不启动
}

// SentryConfig 错误上报配置
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
	Release     string `yaml:"release"`
}

// Config 完整配置结构
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	WebApp   WebAppConfig   `yaml:"webapp"`
	Locale   string         `yaml:"locale"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Sentry   SentryConfig   `yaml:"sentry"`
	LogLevel string         `yaml:"log_level"`
}

// Getenv matches os.Getenv; tests substitute a map lookup.
type Getenv func(string) string

// Load builds the configuration from an optional YAML file overlaid with the environment.
// It does not validate; call Validate before use.
func Load(getenv Getenv) (*Config, error) {
	startTime := time.Now()
	if getenv == nil {
		getenv = os.Getenv
	}

	var cfg Config
	if path := getenv("BOT_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read config file %s: %v", models.ErrConfiguration, path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config file %s: %v", models.ErrConfiguration, path, err)
		}
	}

	cfg.mergeEnvVars(getenv)
	cfg.setDefaults()

	logrus.WithFields(logrus.Fields{
		"method": "config.Load",
		"took":   time.Since(startTime),
	}).Debug("configuration loaded")
	return &cfg, nil
}

// LoadDotEnv reads .env into the process environment if the file exists.
// Variables already set are left untouched.
func LoadDotEnv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logrus.Debug("no .env file found, using environment variables")
			return nil
		}
		return fmt.Errorf("%w: load .env: %v", models.ErrConfiguration, err)
	}
	return nil
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.Telegram.PollTimeout <= 0 {
		c.Telegram.PollTimeout = 60
	}
	if c.Telegram.DropPending == nil {
		drop := true
		c.Telegram.DropPending = &drop
	}
	if c.Telegram.SendRetries <= 0 {
		c.Telegram.SendRetries = 3
	}
	if c.Telegram.HTTPTimeout <= 0 {
		// 必须大于长轮询超时
		c.Telegram.HTTPTimeout = c.Telegram.PollTimeout + 15
	}
	if c.Locale == "" {
		c.Locale = "ru"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Sentry.Environment == "" {
		c.Sentry.Environment = "production"
	}
}

// mergeEnvVars 合并环境变量，环境变量优先于配置文件
func (c *Config) mergeEnvVars(getenv Getenv) {
	if token := getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		c.Telegram.Token = token
	}
	if u := getenv("WEBAPP_URL"); u != "" {
		c.WebApp.URL = u
	}
	if locale := getenv("BOT_LOCALE"); locale != "" {
		c.Locale = locale
	}
	if timeout := getenv("BOT_POLL_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil {
			c.Telegram.PollTimeout = t
		} else {
			logrus.Warnf("invalid BOT_POLL_TIMEOUT %q, ignoring", timeout)
		}
	}
	if drop := getenv("BOT_DROP_PENDING"); drop != "" {
		if b, err := strconv.ParseBool(drop); err == nil {
			c.Telegram.DropPending = &b
		} else {
			logrus.Warnf("invalid BOT_DROP_PENDING %q, ignoring", drop)
		}
	}
	if debug := getenv("BOT_DEBUG"); debug != "" {
		if b, err := strconv.ParseBool(debug); err == nil {
			c.Telegram.Debug = b
		}
	}
	if level := getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if addr := getenv("METRICS_ADDR"); addr != "" {
		c.Metrics.Addr = addr
	}
	if dsn := getenv("SENTRY_DSN"); dsn != "" {
		c.Sentry.DSN = dsn
	}
	if env := getenv("SENTRY_ENVIRONMENT"); env != "" {
		c.Sentry.Environment = env
	}
	if release := getenv("SENTRY_RELEASE"); release != "" {
		c.Sentry.Release = release
	}
}

// Validate checks the required values. Every failure wraps models.ErrConfiguration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("%w: TELEGRAM_BOT_TOKEN environment variable is required", models.ErrConfiguration)
	}
	if strings.TrimSpace(c.WebApp.URL) == "" {
		return fmt.Errorf("%w: WEBAPP_URL environment variable is required", models.ErrConfiguration)
	}
	u, err := url.Parse(c.WebApp.URL)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("%w: WEBAPP_URL must be an absolute http(s) URL, got %q", models.ErrConfiguration, c.WebApp.URL)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: invalid LOG_LEVEL %q", models.ErrConfiguration, c.LogLevel)
	}
	return nil
}

// DropPendingUpdates reports whether updates queued before start are discarded.
func (c *Config) DropPendingUpdates() bool {
	return c.Telegram.DropPending == nil || *c.Telegram.DropPending
}

// ApplyLogLevel 设置日志级别
func (c *Config) ApplyLogLevel() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logrus.Warnf("invalid log level %s, using info", c.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// MaskedToken hides everything but the bot id part of the token.
func (c *Config) MaskedToken() string {
	token := c.Telegram.Token
	if i := strings.Index(token, ":"); i >= 0 {
		return token[:i] + ":***"
	}
	if token == "" {
		return ""
	}
	return "***"
}
