package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvitesIssued counts invite issuance attempts by outcome (success|duplicate|rejected).
	InvitesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printbridge_invites_issued_total",
			Help: "Total number of invite issuance attempts",
		},
		[]string{"result"},
	)

	// InvitesAccepted counts acceptance attempts by outcome (success|invalid|expired).
	InvitesAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printbridge_invites_accepted_total",
			Help: "Total number of invite acceptance attempts",
		},
		[]string{"result"},
	)

	// InviteEmailsSent counts delivery attempts made by the sweep (sent|failed|skipped).
	InviteEmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printbridge_invite_emails_total",
			Help: "Total number of invite email delivery attempts",
		},
		[]string{"result"},
	)

	// PendingInvites tracks the number of pending, unexpired invites observed by the last sweep.
	PendingInvites = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "printbridge_pending_invites",
			Help: "Pending invites observed by the most recent delivery sweep",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "printbridge_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
