package metrics

import (
	"errors"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	r.IncClaimLookup("available")
	r.IncClaimStale()
	r.ObserveStoreOp("durable", "upsert", time.Millisecond, nil)
	r.IncStoreRetry("durable")
	r.IncPartialSave()
	r.IncConnectivityProbe("confirmed")
	r.IncWizardTransition("WIFI")
	r.SetWebSocketClients(3)
}

func TestRecorder_Counts(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewRecorder(reg)

	r.IncClaimLookup("available")
	r.IncClaimLookup("available")
	r.IncClaimLookup("claimed")
	r.ObserveStoreOp("realtime", "set", 10*time.Millisecond, errors.New("down"))
	r.IncPartialSave()
	r.SetWebSocketClients(2)

	if got := testutil.ToFloat64(r.claimLookups.WithLabelValues("available")); got != 2 {
		t.Errorf("available lookups = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.storeWrites.WithLabelValues("realtime", "set", OutcomeFailure)); got != 1 {
		t.Errorf("failed realtime sets = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.partialSaves); got != 1 {
		t.Errorf("partial saves = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.wsClients); got != 2 {
		t.Errorf("ws clients = %v, want 2", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("no metric families registered")
	}
}
