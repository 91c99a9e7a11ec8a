package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatdesk"

type Metrics struct {
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	MessagesCreated  *prometheus.CounterVec
	RepliesEnqueued  prometheus.Counter
	RepliesProcessed prometheus.Counter
	RepliesFailed    prometheus.Counter
	RepliesSkipped   *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by method, route pattern and status",
			}, []string{"method", "route", "status"}),
			HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by method and route pattern",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method", "route"}),
			MessagesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_created_total",
				Help:      "Messages appended to conversations by sender",
			}, []string{"sender"}),
			RepliesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responder_enqueued_total",
				Help:      "Total reply jobs enqueued to redis stream",
			}),
			RepliesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responder_processed_total",
				Help:      "Total reply jobs that produced a bot message",
			}),
			RepliesFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responder_failed_total",
				Help:      "Total reply jobs failed during processing",
			}),
			RepliesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responder_skipped_total",
				Help:      "Reply jobs finished without a reply, by reason",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			global.HTTPRequests,
			global.HTTPDuration,
			global.MessagesCreated,
			global.RepliesEnqueued,
			global.RepliesProcessed,
			global.RepliesFailed,
			global.RepliesSkipped,
		)
	})
	return global
}

// Sender labels a message for MessagesCreated.
func Sender(isBot bool) string {
	if isBot {
		return "bot"
	}
	return "user"
}
