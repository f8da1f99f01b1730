package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Call lifecycle metrics
	CallsStarted prometheus.Counter
	CallsEnded   prometheus.Counter
	CallDuration prometheus.Histogram

	// Analysis metrics
	ScoringRequests  *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	AnalysisFailures prometheus.Counter
)

// Init registers all metrics. Safe to call more than once; only the first
// call takes effect.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		CallsStarted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calldrill_calls_started_total",
			Help: "Total number of practice calls started",
		})

		CallsEnded = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calldrill_calls_ended_total",
			Help: "Total number of practice calls ended",
		})

		CallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calldrill_call_duration_seconds",
			Help:    "Duration of completed practice calls",
			Buckets: []float64{30, 60, 120, 300, 600, 1200},
		})

		ScoringRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calldrill_scoring_requests_total",
				Help: "Scoring requests issued to the analysis backend",
			},
			[]string{"metric", "status"},
		)

		AnalysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calldrill_analysis_duration_seconds",
			Help:    "Wall time of a full post-call analysis",
			Buckets: prometheus.DefBuckets,
		})

		AnalysisFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calldrill_analysis_failures_total",
			Help: "Post-call analyses that failed outright",
		})

		registry.MustRegister(
			CallsStarted,
			CallsEnded,
			CallDuration,
			ScoringRequests,
			AnalysisDuration,
			AnalysisFailures,
		)

		logger.WithField("component", "metrics").Debug("prometheus metrics registered")
	})
}

// Handler returns the scrape endpoint handler, or a 404 handler when Init has
// not been called.
func Handler() http.Handler {
	if registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveScoring records the outcome of one scoring request. No-op when
// metrics are not initialized, which keeps unit tests free of registry setup.
func ObserveScoring(metric string, err error) {
	if ScoringRequests == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	ScoringRequests.WithLabelValues(metric, status).Inc()
}

// ObserveAnalysis records the wall time and outcome of one full analysis.
func ObserveAnalysis(elapsed time.Duration, err error) {
	if AnalysisDuration == nil {
		return
	}
	AnalysisDuration.Observe(elapsed.Seconds())
	if err != nil && AnalysisFailures != nil {
		AnalysisFailures.Inc()
	}
}

// CallStarted increments the started-call counter when initialized.
func CallStarted() {
	if CallsStarted != nil {
		CallsStarted.Inc()
	}
}

// CallEnded records a completed call and its duration when initialized.
func CallEnded(durationSeconds int) {
	if CallsEnded != nil {
		CallsEnded.Inc()
	}
	if CallDuration != nil {
		CallDuration.Observe(float64(durationSeconds))
	}
}
