// Package metrics exposes provisioning counters and latencies to Prometheus.
//
// Every Recorder method is safe on a nil receiver so components can take an
// optional *Recorder without guarding each call.
package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "dispenser"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder holds the provisioning metrics.
type Recorder struct {
	claimLookups      *prom.CounterVec
	claimStale        prom.Counter
	storeWrites       *prom.CounterVec
	storeDuration     *prom.HistogramVec
	storeRetries      *prom.CounterVec
	partialSaves      prom.Counter
	connectivity      *prom.CounterVec
	wizardTransitions *prom.CounterVec
	wsClients         prom.Gauge
}

// NewRecorder creates the metrics and registers them with reg. A nil reg
// gets a fresh private registry.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		claimLookups: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "claim_lookups_total",
			Help:      "Claim registry lookups by result",
		}, []string{"result"}),
		claimStale: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "claim_stale_results_total",
			Help:      "Claim validation results discarded because a newer request superseded them",
		}),
		storeWrites: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Store operations by store, operation and outcome",
		}, []string{"store", "op", "outcome"}),
		storeDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Store operation latency including retries",
			Buckets:   prom.DefBuckets,
		}, []string{"store", "op"}),
		storeRetries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Retried store attempts after a transient failure",
		}, []string{"store"}),
		partialSaves: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "config_partial_saves_total",
			Help:      "Config saves where the durable write succeeded and the real-time write failed",
		}),
		connectivity: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "wifi_connectivity_probes_total",
			Help:      "Post-save Wi-Fi connectivity probes by result",
		}, []string{"result"}),
		wizardTransitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "wizard_transitions_total",
			Help:      "Wizard step transitions by destination step",
		}, []string{"step"}),
		wsClients: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket clients",
		}),
	}
	reg.MustRegister(
		r.claimLookups, r.claimStale, r.storeWrites, r.storeDuration, r.storeRetries,
		r.partialSaves, r.connectivity, r.wizardTransitions, r.wsClients,
	)
	return r
}

// IncClaimLookup counts a registry lookup. result is available, claimed or error.
func (r *Recorder) IncClaimLookup(result string) {
	if r == nil {
		return
	}
	r.claimLookups.WithLabelValues(result).Inc()
}

// IncClaimStale counts a discarded stale validation result.
func (r *Recorder) IncClaimStale() {
	if r == nil {
		return
	}
	r.claimStale.Inc()
}

// ObserveStoreOp records one store operation.
func (r *Recorder) ObserveStoreOp(store, op string, d time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	r.storeWrites.WithLabelValues(store, op, outcome).Inc()
	r.storeDuration.WithLabelValues(store, op).Observe(d.Seconds())
}

// IncStoreRetry counts a retried attempt against store.
func (r *Recorder) IncStoreRetry(store string) {
	if r == nil {
		return
	}
	r.storeRetries.WithLabelValues(store).Inc()
}

// IncPartialSave counts a save left pending by a failed real-time write.
func (r *Recorder) IncPartialSave() {
	if r == nil {
		return
	}
	r.partialSaves.Inc()
}

// IncConnectivityProbe counts a Wi-Fi probe. result is confirmed, unconfirmed or error.
func (r *Recorder) IncConnectivityProbe(result string) {
	if r == nil {
		return
	}
	r.connectivity.WithLabelValues(result).Inc()
}

// IncWizardTransition counts entering step.
func (r *Recorder) IncWizardTransition(step string) {
	if r == nil {
		return
	}
	r.wizardTransitions.WithLabelValues(step).Inc()
}

// SetWebSocketClients reports the connected client count.
func (r *Recorder) SetWebSocketClients(n int) {
	if r == nil {
		return
	}
	r.wsClients.Set(float64(n))
}
