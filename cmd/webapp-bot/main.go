package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"webapp-bot/bot"
	"webapp-bot/bot/config"
	"webapp-bot/bot/handlers"
	"webapp-bot/bot/models"
	"webapp-bot/bot/router"
	"webapp-bot/bot/telegram"
	"webapp-bot/internal/metrics"
	"webapp-bot/internal/sentryutil"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if err := config.LoadDotEnv(); err != nil {
		logrus.Error(color.RedString("%v", err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	os.Exit(run(os.Getenv, telegramConnector, sigChan))
}

// telegramConnector 基于配置创建真实的 Telegram 连接器
func telegramConnector(cfg *config.Config) bot.Connector {
	return func(_ context.Context, token string) (bot.Platform, error) {
		session, err := telegram.Connect(token, telegram.Options{
			PollTimeout:     cfg.Telegram.PollTimeout,
			HTTPTimeout:     time.Duration(cfg.Telegram.HTTPTimeout) * time.Second,
			MaxSendAttempts: cfg.Telegram.SendRetries,
			Debug:           cfg.Telegram.Debug,
		})
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

// run 返回进程退出码
func run(getenv config.Getenv, newConnector func(*config.Config) bot.Connector, sigChan <-chan os.Signal) int {
	startTime := time.Now()

	// 步骤1：加载并校验配置
	cfg, err := config.Load(getenv)
	if err != nil {
		logrus.Error(color.RedString("%v", err))
		return 1
	}
	cfg.ApplyLogLevel()
	if err := cfg.Validate(); err != nil {
		logrus.Error(color.RedString("%v", err))
		return 1
	}

	logrus.WithFields(logrus.Fields{
		"method": "run",
		"config_summary": map[string]interface{}{
			"token":        cfg.MaskedToken(),
			"webapp_url":   cfg.WebApp.URL,
			"locale":       cfg.Locale,
			"poll_timeout": cfg.Telegram.PollTimeout,
			"drop_pending": cfg.DropPendingUpdates(),
			"metrics_addr": cfg.Metrics.Addr,
			"sentry":       cfg.Sentry.DSN != "",
		},
	}).Debug("configuration summary")

	// 步骤2：错误上报和指标
	sentryutil.Init(cfg.Sentry.DSN, cfg.Sentry.Environment, cfg.Sentry.Release)
	var metricsSrv *metrics.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv = metrics.Serve(cfg.Metrics.Addr)
	}
	releaseAmbient := func(ctx context.Context) {
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(ctx); err != nil {
				logrus.Error(fmt.Errorf("%w: metrics server: %v", models.ErrShutdown, err))
			}
		}
		if cfg.Sentry.DSN != "" && !sentryutil.Flush(2*time.Second) {
			logrus.Warn(fmt.Errorf("%w: sentry flush timed out", models.ErrShutdown))
		}
	}

	// 步骤3：命令路由
	r := router.New()
	if err := handlers.Register(r, handlers.CatalogFor(cfg.Locale), cfg.WebApp.URL); err != nil {
		logrus.Error(color.RedString("failed to register handlers: %v", err))
		releaseAmbient(context.Background())
		return 1
	}

	// 步骤4：启动
	agent := bot.NewAgent(bot.Options{
		Token:       cfg.Telegram.Token,
		WebAppURL:   cfg.WebApp.URL,
		DropPending: cfg.DropPendingUpdates(),
	}, r, newConnector(cfg))

	ctx := context.Background()
	if err := agent.Start(ctx); err != nil {
		logrus.Error(color.RedString("%v", err))
		releaseAmbient(ctx)
		return 1
	}
	logrus.WithFields(logrus.Fields{
		"method": "run",
		"took":   time.Since(startTime),
	}).Info(color.GreenString("webapp-bot started, waiting for signals..."))

	// 步骤5：等待信号或轮询故障
	code := 0
	select {
	case sig := <-sigChan:
		logrus.Infof("Received signal %s", sig)
	case err := <-agent.Done():
		logrus.Error(color.RedString("stopping after polling failure: %v", err))
		code = 1
	}

	// 步骤6：优雅关闭，在退出前完成
	stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := agent.Stop(stopCtx); err != nil {
		logrus.Error(color.RedString("%v", err))
	}
	releaseAmbient(stopCtx)
	return code
}
