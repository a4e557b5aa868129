// Package metrics provides Prometheus instrumentation for the risk
// scoring pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TransactionsIngested counts transactions accepted into the
	// rolling history.
	TransactionsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "transactions_ingested_total",
		Help:      "Total transactions ingested into wallet histories.",
	})

	// IngestErrors counts records rejected during ingest.
	IngestErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "ingest_errors_total",
		Help:      "Total malformed or rejected ingest records.",
	})

	// AssessmentsTotal counts risk assessments by decision band.
	AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "assessments_total",
			Help:      "Total risk assessments by decision band.",
		},
		[]string{"band"},
	)

	// AssessmentScore observes the final 0-100 score distribution.
	AssessmentScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Name:      "assessment_score",
		Help:      "Distribution of final risk scores.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	// TrainingRunsTotal counts training runs by result.
	TrainingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "training_runs_total",
			Help:      "Total model training runs by result.",
		},
		[]string{"result"},
	)

	// TrainingDuration observes wall time of training runs.
	TrainingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Name:      "training_duration_seconds",
		Help:      "Wall time of model training runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
	})

	// WalletsTracked tracks the number of wallets with history.
	WalletsTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "wallets_tracked",
		Help:      "Number of wallets with transaction history.",
	})

	// ModelFitted reports whether a trained model is serving.
	ModelFitted = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "model_fitted",
		Help:      "1 when a trained model is loaded, 0 otherwise.",
	})

	// NeuralActive reports whether the neural stage is in the ensemble.
	NeuralActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "neural_active",
		Help:      "1 when the neural scorer participates in scoring.",
	})

	// AuditWritesTotal counts assessment audit writes by result.
	AuditWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "audit_writes_total",
			Help:      "Total assessment audit store writes by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		TransactionsIngested,
		IngestErrors,
		AssessmentsTotal,
		AssessmentScore,
		TrainingRunsTotal,
		TrainingDuration,
		WalletsTracked,
		ModelFitted,
		NeuralActive,
		AuditWritesTotal,
	)
}

// ObserveAssessment records one completed assessment.
func ObserveAssessment(band string, score int) {
	AssessmentsTotal.WithLabelValues(band).Inc()
	AssessmentScore.Observe(float64(score))
}

// ObserveTraining records one training run.
func ObserveTraining(result string, d time.Duration) {
	TrainingRunsTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		TrainingDuration.Observe(d.Seconds())
	}
}

// SetModelState publishes the fitted and neural gauges.
func SetModelState(fitted, neural bool) {
	ModelFitted.Set(boolGauge(fitted))
	NeuralActive.Set(boolGauge(neural))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
