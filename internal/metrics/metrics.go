package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// Registry holds the bot's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	updatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "webapp_bot",
			Subsystem: "router",
			Name:      "updates_total",
			Help:      "Command updates dispatched, by command and outcome.",
		},
		[]string{"command", "status"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "webapp_bot",
			Subsystem: "router",
			Name:      "dispatch_duration_seconds",
			Help:      "Time to build and send a reply.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"command"},
	)

	lifecycleState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "webapp_bot",
			Subsystem: "lifecycle",
			Name:      "state",
			Help:      "1 for the agent's current lifecycle state, 0 otherwise.",
		},
		[]string{"state"},
	)
)

func init() {
	Registry.MustRegister(updatesTotal, dispatchDuration, lifecycleState)
}

// Status values for RecordDispatch.
const (
	StatusOK          = "ok"
	StatusHandlerFail = "handler_error"
	StatusSendFail    = "send_error"
)

// RecordDispatch counts one dispatched update. Unknown commands are folded
// into a single label so arbitrary user input cannot grow the series count.
func RecordDispatch(command string, known bool, status string, took time.Duration) {
	if !known {
		command = "unknown"
	}
	updatesTotal.WithLabelValues(command, status).Inc()
	dispatchDuration.WithLabelValues(command).Observe(took.Seconds())
}

// SetState marks state as the current lifecycle state.
func SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		lifecycleState.WithLabelValues(s).Set(v)
	}
}

// Handler exposes Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Server serves /metrics until Shutdown.
type Server struct {
	srv *http.Server
}

// Serve starts listening on addr in the background.
func Serve(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s := &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
	go func() {
		logrus.Infof("metrics listening on %s", addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("metrics server: %v", err)
		}
	}()
	return s
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
