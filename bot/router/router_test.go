package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"webapp-bot/bot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingHandler(calls *atomic.Int32, text string) HandlerFunc {
	return func(_ context.Context, u models.IncomingUpdate) (models.OutgoingMessage, error) {
		calls.Add(1)
		return models.OutgoingMessage{ChatID: u.ChatID, Text: text}, nil
	}
}

func TestDispatchInvokesRegisteredHandlerOnce(t *testing.T) {
	r := New()
	var startCalls, helpCalls, unknownCalls atomic.Int32
	require.NoError(t, r.Register(models.Command{Name: "start"}, countingHandler(&startCalls, "start")))
	require.NoError(t, r.Register(models.Command{Name: "help"}, countingHandler(&helpCalls, "help")))
	r.SetDefault(countingHandler(&unknownCalls, "unknown"))

	msg, err := r.Dispatch(context.Background(), models.IncomingUpdate{Command: "start", ChatID: 7})
	require.NoError(t, err)
	assert.Equal(t, "start", msg.Text)
	assert.Equal(t, int64(7), msg.ChatID)
	assert.Equal(t, int32(1), startCalls.Load())
	assert.Equal(t, int32(0), helpCalls.Load())
	assert.Equal(t, int32(0), unknownCalls.Load())
}

func TestDispatchUnknownCommandUsesDefault(t *testing.T) {
	r := New()
	var startCalls, unknownCalls atomic.Int32
	require.NoError(t, r.Register(models.Command{Name: "start"}, countingHandler(&startCalls, "start")))
	r.SetDefault(countingHandler(&unknownCalls, "unknown"))

	for _, name := range []string{"bogus", "Start", "START", "star", "start_", ""} {
		t.Run(name, func(t *testing.T) {
			before := unknownCalls.Load()
			msg, err := r.Dispatch(context.Background(), models.IncomingUpdate{Command: name})
			require.NoError(t, err)
			assert.Equal(t, "unknown", msg.Text)
			assert.Equal(t, before+1, unknownCalls.Load())
		})
	}
	assert.Equal(t, int32(0), startCalls.Load())
}

func TestDispatchWithoutDefault(t *testing.T) {
	r := New()
	_, err := r.Dispatch(context.Background(), models.IncomingUpdate{Command: "nope"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrHandler)
}

func TestDispatchRecoversPanic(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(models.Command{Name: "boom"}, func(context.Context, models.IncomingUpdate) (models.OutgoingMessage, error) {
		panic("kaboom")
	}))

	var msg models.OutgoingMessage
	var err error
	assert.NotPanics(t, func() {
		msg, err = r.Dispatch(context.Background(), models.IncomingUpdate{Command: "boom"})
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrHandler)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Empty(t, msg.Text)
}

func TestDispatchWrapsHandlerError(t *testing.T) {
	cause := errors.New("template broken")
	r := New()
	require.NoError(t, r.Register(models.Command{Name: "start"}, func(context.Context, models.IncomingUpdate) (models.OutgoingMessage, error) {
		return models.OutgoingMessage{Text: "partial"}, cause
	}))

	msg, err := r.Dispatch(context.Background(), models.IncomingUpdate{Command: "start"})
	assert.ErrorIs(t, err, models.ErrHandler)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, msg.Text)
}

func TestDispatchFillsChatID(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(models.Command{Name: "start"}, func(context.Context, models.IncomingUpdate) (models.OutgoingMessage, error) {
		return models.OutgoingMessage{Text: "hi"}, nil
	}))

	msg, err := r.Dispatch(context.Background(), models.IncomingUpdate{Command: "start", ChatID: 99})
	require.NoError(t, err)
	assert.Equal(t, int64(99), msg.ChatID)
}

func TestRegisterValidation(t *testing.T) {
	noop := func(context.Context, models.IncomingUpdate) (models.OutgoingMessage, error) {
		return models.OutgoingMessage{}, nil
	}
	r := New()
	require.NoError(t, r.Register(models.Command{Name: "start"}, noop))

	assert.Error(t, r.Register(models.Command{Name: ""}, noop))
	assert.Error(t, r.Register(models.Command{Name: "/help"}, noop))
	assert.Error(t, r.Register(models.Command{Name: "help"}, nil))
	assert.Error(t, r.Register(models.Command{Name: "start"}, noop), "duplicate")
}

func TestCommandsKeepsRegistrationOrder(t *testing.T) {
	noop := func(context.Context, models.IncomingUpdate) (models.OutgoingMessage, error) {
		return models.OutgoingMessage{}, nil
	}
	r := New()
	require.NoError(t, r.Register(models.Command{Name: "start", Description: "a"}, noop))
	require.NoError(t, r.Register(models.Command{Name: "help", Description: "b"}, noop))

	assert.Equal(t, []models.Command{
		{Name: "start", Description: "a"},
		{Name: "help", Description: "b"},
	}, r.Commands())
	assert.True(t, r.Has("start"))
	assert.False(t, r.Has("Start"))
}

func TestDispatchConcurrent(t *testing.T) {
	r := New()
	var calls atomic.Int32
	require.NoError(t, r.Register(models.Command{Name: "start"}, countingHandler(&calls, "start")))
	r.SetDefault(countingHandler(&calls, "unknown"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := "start"
			if i%2 == 0 {
				cmd = "other"
			}
			_, err := r.Dispatch(context.Background(), models.IncomingUpdate{Command: cmd})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(50), calls.Load())
}
