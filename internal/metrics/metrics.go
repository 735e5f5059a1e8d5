// ABOUTME: Prometheus metrics for webhook ingest, outbound sends, and real-time fan-out
// ABOUTME: Registered on the default registry via promauto and served by promhttp

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "helpdesk"

var (
	// WebhookDeliveries counts POSTed webhook bodies by result
	// (accepted, bad_signature, malformed, not_page, failed).
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_deliveries_total",
		Help:      "Webhook deliveries received, by result.",
	}, []string{"result"})

	// InboundEvents counts messaging events by outcome
	// (recorded, dropped, duplicate, error).
	InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_events_total",
		Help:      "Inbound messaging events processed, by outcome.",
	}, []string{"outcome"})

	// OutboundMessages counts replies sent to the platform by result.
	OutboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbound_messages_total",
		Help:      "Outbound replies, by result.",
	}, []string{"result"})

	// ConversationsCreated counts new conversations, labelled by why they were created
	// (first_contact or window_expired).
	ConversationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversations_created_total",
		Help:      "Conversations created, by reason.",
	}, []string{"reason"})

	// Subscribers is the number of live real-time subscribers.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_subscribers",
		Help:      "Live real-time subscribers across all conversations.",
	})

	// WatchedConversations is the number of conversations with at least one
	// live subscriber.
	WatchedConversations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_conversations",
		Help:      "Conversations with at least one live subscriber.",
	})

	// DedupeKeys is the number of delivery keys held by the dedupe cache.
	DedupeKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dedupe_keys",
		Help:      "Delivery keys held by the dedupe cache, including expired ones not yet swept.",
	})

	// BroadcastDeliveries counts per-subscriber push attempts by result.
	BroadcastDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_deliveries_total",
		Help:      "Per-subscriber pushes, by result.",
	}, []string{"result"})

	// PlatformLatency observes platform API call latency by operation.
	PlatformLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "platform_request_seconds",
		Help:      "Latency of platform API calls, by operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	// HTTPRequests observes API request latency by method, route template and status.
	HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_seconds",
		Help:      "HTTP request latency, by method, route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// ObservePlatform records the latency of a platform call that started at begin.
func ObservePlatform(op string, begin time.Time) {
	PlatformLatency.WithLabelValues(op).Observe(time.Since(begin).Seconds())
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
