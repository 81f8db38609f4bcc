package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"webapp-bot/bot/models"
	"webapp-bot/internal/metrics"
	"webapp-bot/internal/sentryutil"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Platform 外部消息平台（Telegram 会话）
type Platform interface {
	UserName() string
	SetCommands(cmds []models.Command) error
	DropPendingUpdates() error
	Updates() <-chan models.IncomingUpdate
	Send(ctx context.Context, msg models.OutgoingMessage) error
	StopReceiving()
}

// Connector authenticates token and returns a ready platform session.
type Connector func(ctx context.Context, token string) (Platform, error)

// Dispatcher 命令路由
type Dispatcher interface {
	Dispatch(ctx context.Context, update models.IncomingUpdate) (models.OutgoingMessage, error)
	Commands() []models.Command
	Has(name string) bool
}

// Options Agent 参数
type Options struct {
	Token        string
	WebAppURL    string
	DropPending  bool
	SendTimeout  time.Duration        // 单条回复的发送超时
	OnTransition func(from, to State) // 可选，状态变化回调
}

// Agent 进程生命周期管理：Created → Starting → Running → Stopping → Stopped
type Agent struct {
	opts    Options
	router  Dispatcher
	connect Connector

	mu    sync.Mutex // serializes Start and Stop
	state atomic.Int32

	platform Platform
	quit     chan struct{}
	loopDone chan struct{}
	done     chan error
}

// NewAgent 创建 Agent
func NewAgent(opts Options, router Dispatcher, connect Connector) *Agent {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	a := &Agent{
		opts:    opts,
		router:  router,
		connect: connect,
		done:    make(chan error, 1),
	}
	a.state.Store(int32(StateCreated))
	metrics.SetState(StateCreated.String(), stateNames())
	return a
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	return State(a.state.Load())
}

// Done delivers an unrecoverable polling error. The caller is expected to call Stop.
func (a *Agent) Done() <-chan error {
	return a.done
}

// Start validates the configuration, authenticates and begins receiving updates.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	startTime := time.Now()
	switch a.State() {
	case StateCreated:
	case StateStopped:
		return models.ErrStopped
	default:
		return models.ErrAlreadyStarted
	}

	a.transition(StateStarting)
	logrus.Info(color.GreenString("Starting Telegram bot..."))

	// 步骤1：校验配置
	if err := a.validate(); err != nil {
		a.transition(StateStopped)
		return err
	}

	// 步骤2：认证
	platform, err := a.connect(ctx, a.opts.Token)
	if err != nil {
		a.transition(StateStopped)
		if !errors.Is(err, models.ErrAuthentication) {
			err = fmt.Errorf("%w: %w", models.ErrAuthentication, err)
		}
		return err
	}

	// 步骤3：命令菜单，失败不影响启动
	if err := platform.SetCommands(a.router.Commands()); err != nil {
		logrus.Warnf("failed to publish command menu: %v", err)
	}
	if a.opts.DropPending {
		if err := platform.DropPendingUpdates(); err != nil {
			logrus.Warnf("failed to drop pending updates: %v", err)
		}
	}

	// 步骤4：开始接收 updates
	a.platform = platform
	a.quit = make(chan struct{})
	a.loopDone = make(chan struct{})
	updates := platform.Updates()
	a.transition(StateRunning)
	go a.receive(context.WithoutCancel(ctx), platform, updates)

	logrus.WithFields(logrus.Fields{
		"method": "Start",
		"bot":    "@" + platform.UserName(),
		"took":   time.Since(startTime),
	}).Info(color.GreenString("Bot started. Waiting for updates..."))
	return nil
}

// Stop stops receiving, waits for the in-flight dispatch and releases the
// session. Calling it before Start or more than once is a no-op. If ctx
// expires before the dispatch finishes, the session is still released and an
// error wrapping models.ErrShutdown is returned.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.State() {
	case StateCreated:
		a.transition(StateStopped)
		return nil
	case StateStopping, StateStopped:
		return nil
	}

	startTime := time.Now()
	a.transition(StateStopping)
	logrus.Info(color.YellowString("Shutting down bot..."))

	close(a.quit)
	a.platform.StopReceiving()

	var err error
	select {
	case <-a.loopDone:
	case <-ctx.Done():
		err = fmt.Errorf("%w: in-flight dispatch did not finish: %v", models.ErrShutdown, ctx.Err())
	}

	a.platform = nil
	a.transition(StateStopped)

	logrus.WithFields(logrus.Fields{
		"method": "Stop",
		"took":   time.Since(startTime),
	}).Info(color.GreenString("Bot stopped"))
	return err
}

func (a *Agent) validate() error {
	var missing []string
	if strings.TrimSpace(a.opts.Token) == "" {
		missing = append(missing, "auth token")
	}
	if strings.TrimSpace(a.opts.WebAppURL) == "" {
		missing = append(missing, "web app URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", models.ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// receive 串行处理 updates，直到 quit 关闭或通道关闭
func (a *Agent) receive(ctx context.Context, platform Platform, updates <-chan models.IncomingUpdate) {
	defer close(a.loopDone)
	for {
		select {
		case <-a.quit:
			return
		case update, ok := <-updates:
			if !ok {
				select {
				case <-a.quit:
				default:
					a.fail(fmt.Errorf("%w: update channel closed unexpectedly", models.ErrPolling))
				}
				return
			}
			a.handle(ctx, platform, update)
		}
	}
}

func (a *Agent) fail(err error) {
	logrus.Error(color.RedString("%v", err))
	select {
	case a.done <- err:
	default:
	}
}

// handle dispatches one update and sends the reply. Failures stay local to the update.
func (a *Agent) handle(ctx context.Context, platform Platform, update models.IncomingUpdate) {
	startTime := time.Now()
	known := a.router.Has(update.Command)
	entry := logrus.WithFields(logrus.Fields{
		"method":      "handle",
		"dispatch_id": uuid.NewString(),
		"update_id":   update.UpdateID,
		"command":     update.Command,
		"chat_id":     update.ChatID,
	})
	entry.Infof("Received /%s from user %d", update.Command, update.Sender.ID)

	msg, err := a.router.Dispatch(ctx, update)
	if err != nil {
		metrics.RecordDispatch(update.Command, known, metrics.StatusHandlerFail, time.Since(startTime))
		sentryutil.CaptureError(err, map[string]string{"command": update.Command})
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, a.opts.SendTimeout)
	defer cancel()
	if err := platform.Send(sendCtx, msg); err != nil {
		err = fmt.Errorf("%w: %w", models.ErrHandler, err)
		entry.WithField("took", time.Since(startTime)).Errorf("Failed to send message: %v", err)
		metrics.RecordDispatch(update.Command, known, metrics.StatusSendFail, time.Since(startTime))
		sentryutil.CaptureError(err, map[string]string{"command": update.Command})
		return
	}

	metrics.RecordDispatch(update.Command, known, metrics.StatusOK, time.Since(startTime))
	entry.WithField("took", time.Since(startTime)).Debug("reply sent")
}

func (a *Agent) transition(to State) {
	from := a.State()
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("invalid lifecycle transition %s -> %s", from, to))
	}
	a.state.Store(int32(to))
	metrics.SetState(to.String(), stateNames())
	logrus.WithFields(logrus.Fields{"from": from, "to": to}).Debug("lifecycle transition")
	if a.opts.OnTransition != nil {
		a.opts.OnTransition(from, to)
	}
}
