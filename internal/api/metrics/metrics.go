// Package metrics defines and registers all custom Prometheus metrics for the
// leadline webhook. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics are registered with the default Prometheus registry on package
// init via promauto and exposed on /metrics by the router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "leadline"

// ── Webhook metrics ───────────────────────────────────────────────────────────

// WebhookRequestsTotal counts classified webhook deliveries.
// Labels:
//   - kind: "encrypted_form", "ping", "whatsapp", "telegram", "verify", "unknown"
//   - outcome: "ok", "rejected" or the error class (e.g. "decrypt_failed", "malformed")
var WebhookRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_requests_total",
		Help:      "Total number of webhook requests, by payload kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

// SignatureFailuresTotal counts requests rejected by the body signature check.
var SignatureFailuresTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signature_failures_total",
		Help:      "Total number of webhook requests rejected for a bad or missing signature.",
	},
)

// DedupTotal counts message-id deduplication decisions.
// Label:
//   - result: "hit" (redelivery, skipped) or "miss" (new message, processed)
var DedupTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dedup_total",
		Help:      "Total number of deduplication checks, labelled by result (hit/miss).",
	},
	[]string{"result"},
)

// ── Conversation metrics ──────────────────────────────────────────────────────

// DialogTransitionsTotal counts applied state-machine transitions.
// Labels:
//   - from, to: dialog steps (e.g. "await_budget" → "await_car_type")
var DialogTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dialog_transitions_total",
		Help:      "Total number of dialog transitions, by source and target step.",
	},
	[]string{"from", "to"},
)

// LeadsCompletedTotal counts dialogs that reached done.
// Label:
//   - via: "chat" or "form"
var LeadsCompletedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leads_completed_total",
		Help:      "Total number of finished lead dialogs.",
	},
	[]string{"via"},
)

// MessageHandlingDuration measures one inbound message from routing to reply.
// Label:
//   - route: "bot", "forward", "operator"
var MessageHandlingDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "message_handling_duration_seconds",
		Help:      "Duration of inbound message handling, including outbound dispatch.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"route"},
)

// ClientsByStatus is refreshed periodically from the store.
// Label:
//   - status: "new", "in_progress", "completed"
var ClientsByStatus = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "clients",
		Help:      "Number of stored clients, by status.",
	},
	[]string{"status"},
)

// ── Operator metrics ──────────────────────────────────────────────────────────

// OperatorCommandsTotal counts operator console commands.
// Labels:
//   - command: "login", "list", "takeover", ...
//   - outcome: "ok", "denied", "not_found", "error"
var OperatorCommandsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operator_commands_total",
		Help:      "Total number of operator commands, by command and outcome.",
	},
	[]string{"command", "outcome"},
)

// ActiveHandoffs is 1 while a client is under operator control, else 0.
var ActiveHandoffs = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_handoffs",
		Help:      "Number of clients currently managed by the operator (0 or 1).",
	},
)

// ── Delivery and crypto metrics ───────────────────────────────────────────────

// DispatchFailuresTotal counts outbound sends the platform rejected.
// Label:
//   - kind: "text", "voice", "flow", "notify"
var DispatchFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_failures_total",
		Help:      "Total number of failed outbound sends, by message kind.",
	},
	[]string{"kind"},
)

// FlowCryptoFailuresTotal counts encrypted form requests that failed.
// Label:
//   - reason: "decrypt", "malformed", "token", "seal"
var FlowCryptoFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flow_crypto_failures_total",
		Help:      "Total number of encrypted form requests that failed, by reason.",
	},
	[]string{"reason"},
)

// SerializerQueueDepth tracks work waiting in each serializer worker channel.
// Label:
//   - worker_id: numeric worker index (e.g. "0", "1", …)
var SerializerQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "serializer_queue_depth",
		Help:      "Current number of messages pending in each serializer worker channel.",
	},
	[]string{"worker_id"},
)
