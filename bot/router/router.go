package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"webapp-bot/bot/models"

	"github.com/sirupsen/logrus"
)

// HandlerFunc 把一个 update 映射为回复消息
type HandlerFunc func(ctx context.Context, update models.IncomingUpdate) (models.OutgoingMessage, error)

type route struct {
	cmd     models.Command
	handler HandlerFunc
}

// Router 命令路由：精确、区分大小写的名称匹配
type Router struct {
	mu       sync.RWMutex
	routes   map[string]route
	order    []string
	fallback HandlerFunc
}

// New 创建路由
func New() *Router {
	return &Router{
		routes: make(map[string]route),
	}
}

// Register associates cmd.Name with h.
func (r *Router) Register(cmd models.Command, h HandlerFunc) error {
	if cmd.Name == "" {
		return fmt.Errorf("command name is empty")
	}
	if strings.HasPrefix(cmd.Name, "/") {
		return fmt.Errorf("command name %q must not start with /", cmd.Name)
	}
	if h == nil {
		return fmt.Errorf("nil handler for command %s", cmd.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routes[cmd.Name]; ok {
		return fmt.Errorf("command %s already registered", cmd.Name)
	}
	r.routes[cmd.Name] = route{cmd: cmd, handler: h}
	r.order = append(r.order, cmd.Name)
	return nil
}

// SetDefault sets the handler used for unrecognized commands.
func (r *Router) SetDefault(h HandlerFunc) {
	r.mu.Lock()
	r.fallback = h
	r.mu.Unlock()
}

// Commands returns the registered commands in registration order.
func (r *Router) Commands() []models.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmds := make([]models.Command, 0, len(r.order))
	for _, name := range r.order {
		cmds = append(cmds, r.routes[name].cmd)
	}
	return cmds
}

// Has reports whether name is a registered command.
func (r *Router) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.routes[name]
	return ok
}

// Dispatch invokes the handler registered for update.Command, or the default
// handler when there is none. Handler errors and panics come back as an error
// wrapping models.ErrHandler.
func (r *Router) Dispatch(ctx context.Context, update models.IncomingUpdate) (msg models.OutgoingMessage, err error) {
	startTime := time.Now()

	r.mu.RLock()
	rt, ok := r.routes[update.Command]
	h := rt.handler
	if !ok {
		h = r.fallback
	}
	r.mu.RUnlock()

	fields := logrus.Fields{
		"method":    "Dispatch",
		"command":   update.Command,
		"update_id": update.UpdateID,
		"chat_id":   update.ChatID,
		"known":     ok,
	}

	if h == nil {
		err = fmt.Errorf("%w: no handler for command %q", models.ErrHandler, update.Command)
		logrus.WithFields(fields).Warn(err)
		return models.OutgoingMessage{}, err
	}

	defer func() {
		if p := recover(); p != nil {
			msg = models.OutgoingMessage{}
			err = fmt.Errorf("%w: command %q panicked: %v", models.ErrHandler, update.Command, p)
			logrus.WithFields(fields).WithField("stack", string(debug.Stack())).Error(err)
		}
	}()

	msg, err = h(ctx, update)
	fields["took"] = time.Since(startTime)
	if err != nil {
		err = fmt.Errorf("%w: command %q: %w", models.ErrHandler, update.Command, err)
		logrus.WithFields(fields).Error(err)
		return models.OutgoingMessage{}, err
	}
	if msg.ChatID == 0 {
		msg.ChatID = update.ChatID
	}
	logrus.WithFields(fields).Debug("command dispatched")
	return msg, nil
}
