// Package metrics wires the engine's optional instrumentation to
// Prometheus, following the same "nil means disabled" shape as
// dungeongate's pkg/metrics: every component takes a *Recorder that
// may be nil, and every method on Recorder is nil-receiver safe so
// call sites never need a guard.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/google/uuid"
)

// Recorder holds the Prometheus collectors shared by synclayer and
// synctest sessions.
type Recorder struct {
	rollbackDepth    prometheus.Histogram
	predictionMisses *prometheus.CounterVec
	syncTestFailures prometheus.Counter
}

// New registers the engine's collectors against reg and returns a
// Recorder. If reg is nil, New returns nil, and every method on the
// returned *Recorder becomes a safe no-op.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		return nil
	}

	r := &Recorder{
		rollbackDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rollback",
			Name:      "resimulated_frames",
			Help:      "Number of frames re-simulated per rollback.",
			Buckets:   prometheus.LinearBuckets(0, 1, 9),
		}),
		predictionMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollback",
			Name:      "prediction_misses_total",
			Help:      "Count of frames where a prediction was contradicted by an authoritative input.",
		}, []string{"session", "player"}),
		syncTestFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rollback",
			Name:      "synctest_checksum_mismatches_total",
			Help:      "Count of sync-test re-simulation checksum mismatches.",
		}),
	}

	reg.MustRegister(r.rollbackDepth, r.predictionMisses, r.syncTestFailures)

	return r
}

// ObserveRollbackDepth records how many frames a single rollback
// re-simulated.
func (r *Recorder) ObserveRollbackDepth(session uuid.UUID, frames int) {
	if r == nil {
		return
	}
	r.rollbackDepth.Observe(float64(frames))
}

// IncPredictionMiss records one first_incorrect_frame event.
func (r *Recorder) IncPredictionMiss(session uuid.UUID, player int) {
	if r == nil {
		return
	}
	r.predictionMisses.WithLabelValues(session.String(), strconv.Itoa(player)).Inc()
}

// IncSyncTestFailure records one checksum mismatch found during
// sync-test re-simulation.
func (r *Recorder) IncSyncTestFailure() {
	if r == nil {
		return
	}
	r.syncTestFailures.Inc()
}
