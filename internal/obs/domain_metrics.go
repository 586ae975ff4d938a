package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// SessionsCreatedTotal counts opened sessions by split mode.
	SessionsCreatedTotal *prometheus.CounterVec
	// SessionsCompletedTotal counts sessions reaching the terminal state.
	SessionsCompletedTotal prometheus.Counter
	// PaymentsRecordedTotal counts recorded payments by outcome.
	PaymentsRecordedTotal *prometheus.CounterVec
	// ClaimConflictsTotal counts claim sets rejected for over-claiming.
	ClaimConflictsTotal prometheus.Counter
	// BroadcastsTotal counts realtime events pushed to subscribers.
	BroadcastsTotal *prometheus.CounterVec
	// WSConnections tracks currently connected WebSocket clients.
	WSConnections prometheus.Gauge
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		SessionsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Count of bill-splitting sessions opened, by split mode.",
		}, []string{"split_mode"})
		SessionsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Count of sessions fully settled.",
		})
		PaymentsRecordedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_recorded_total",
			Help:      "Count of payment records by result.",
		}, []string{"result"})
		ClaimConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_conflicts_total",
			Help:      "Count of item claim sets rejected because an item was over-claimed.",
		})
		BroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Count of realtime events broadcast to session subscribers, by event type.",
		}, []string{"event"})
		WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Currently connected WebSocket clients.",
		})

		for _, c := range []prometheus.Collector{
			SessionsCreatedTotal,
			SessionsCompletedTotal,
			PaymentsRecordedTotal,
			ClaimConflictsTotal,
			BroadcastsTotal,
			WSConnections,
		} {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
					continue
				}
				panic(fmt.Errorf("register domain metric: %w", err))
			}
		}
	})
}
