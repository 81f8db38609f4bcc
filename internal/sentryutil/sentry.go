package sentryutil

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// Init configures the global Sentry client. An empty dsn disables reporting.
func Init(dsn, environment, release string) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			event.User = sentry.User{}
			return event
		},
	})
	if err != nil {
		logrus.Warnf("sentry init (non-blocking): %v", err)
		return
	}
	if dsn == "" {
		logrus.Debug("SENTRY_DSN empty, error reporting disabled")
	} else {
		logrus.Info("sentry initialized")
	}
}

// Flush waits for buffered events. It reports false if the timeout expired first.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// CaptureError reports err with tags. A nil err is ignored.
func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}
