package main

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"webapp-bot/bot"
	"webapp-bot/bot/config"
	"webapp-bot/bot/models"

	"github.com/stretchr/testify/assert"
)

type stubPlatform struct {
	updates chan models.IncomingUpdate
	stopped atomic.Bool
}

func (s *stubPlatform) UserName() string { return "test_bot" }
func (s *stubPlatform) SetCommands([]models.Command) error { return nil }
func (s *stubPlatform) DropPendingUpdates() error { return nil }
func (s *stubPlatform) Updates() <-chan models.IncomingUpdate { return s.updates }
func (s *stubPlatform) Send(context.Context, models.OutgoingMessage) error { return nil }
func (s *stubPlatform) StopReceiving() { s.stopped.Store(true) }

func envMap(m map[string]string) config.Getenv {
	return func(key string) string { return m[key] }
}

func connectorFor(p bot.Platform, err error, calls *atomic.Int32) func(*config.Config) bot.Connector {
	return func(*config.Config) bot.Connector {
		return func(context.Context, string) (bot.Platform, error) {
			calls.Add(1)
			if err != nil {
				return nil, err
			}
			return p, nil
		}
	}
}

func TestRunMissingTokenExitsWithoutAuthenticating(t *testing.T) {
	var calls atomic.Int32
	code := run(envMap(map[string]string{"WEBAPP_URL": "https://app.example.com"}),
		connectorFor(&stubPlatform{}, nil, &calls), make(chan os.Signal))

	assert.Equal(t, 1, code)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRunMissingWebAppURL(t *testing.T) {
	var calls atomic.Int32
	code := run(envMap(map[string]string{"TELEGRAM_BOT_TOKEN": "1:x"}),
		connectorFor(&stubPlatform{}, nil, &calls), make(chan os.Signal))

	assert.Equal(t, 1, code)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRunAuthenticationFailure(t *testing.T) {
	var calls atomic.Int32
	code := run(envMap(map[string]string{
		"TELEGRAM_BOT_TOKEN": "1:bad",
		"WEBAPP_URL":         "https://app.example.com",
	}), connectorFor(nil, errors.New("Unauthorized"), &calls), make(chan os.Signal))

	assert.Equal(t, 1, code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunStopsOnSignal(t *testing.T) {
	var calls atomic.Int32
	p := &stubPlatform{updates: make(chan models.IncomingUpdate)}
	sigChan := make(chan os.Signal, 1)

	exit := make(chan int, 1)
	go func() {
		exit <- run(envMap(map[string]string{
			"TELEGRAM_BOT_TOKEN": "1:ok",
			"WEBAPP_URL":         "https://app.example.com",
		}), connectorFor(p, nil, &calls), sigChan)
	}()

	sigChan <- syscall.SIGTERM
	select {
	case code := <-exit:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after SIGTERM")
	}
	assert.True(t, p.stopped.Load(), "shutdown must complete before run returns")
}

func TestRunExitsOnPollingFailure(t *testing.T) {
	var calls atomic.Int32
	p := &stubPlatform{updates: make(chan models.IncomingUpdate)}
	close(p.updates)

	code := run(envMap(map[string]string{
		"TELEGRAM_BOT_TOKEN": "1:ok",
		"WEBAPP_URL":         "https://app.example.com",
	}), connectorFor(p, nil, &calls), make(chan os.Signal))

	assert.Equal(t, 1, code)
	assert.True(t, p.stopped.Load())
}
