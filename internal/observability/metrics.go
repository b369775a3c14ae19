package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Interview metrics
	activeInterviews = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interview_gateway_active_interviews",
		Help: "Number of interviews currently connected",
	})

	totalInterviews = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_interviews_total",
		Help: "Total number of interviews by outcome",
	}, []string{"outcome"}) // completed, ended, failed

	interviewDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_gateway_interview_duration_seconds",
		Help:    "Duration of interviews in seconds",
		Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
	})

	phaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_phase_transitions_total",
		Help: "Turn phase transitions",
	}, []string{"from", "to"})

	// Turn metrics
	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_submissions_total",
		Help: "Answers committed for evaluation by trigger",
	}, []string{"trigger"}) // debounce, manual

	staleCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_stale_callbacks_total",
		Help: "Timers and callbacks discarded because their cycle was superseded",
	}, []string{"source"})

	// Evaluation metrics
	evaluationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_evaluation_requests_total",
		Help: "Total number of evaluation requests",
	}, []string{"status"})

	evaluationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_gateway_evaluation_latency_seconds",
		Help:    "Evaluation round-trip latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	evaluationScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_gateway_evaluation_score",
		Help:    "Scores returned by the evaluation backend",
		Buckets: prometheus.LinearBuckets(0, 1, 11),
	})

	// Capture and playback metrics
	captureRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_capture_restarts_total",
		Help: "Capture engine restarts by reason",
	}, []string{"reason"})

	captureBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interview_gateway_capture_blocked_total",
		Help: "Capture sessions stopped by a permission denial",
	})

	playbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_playbacks_total",
		Help: "Question playbacks by outcome",
	}, []string{"status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "interview_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single interview.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	sessionID       string
	startTime       time.Time
	evaluationStart time.Time
	ended           bool
	mu              sync.Mutex
}

// NewInterviewMetrics creates a new metrics tracker for an interview
func NewInterviewMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordInterviewStart records a newly connected interview
func (m *Metrics) RecordInterviewStart() {
	if m == nil {
		return
	}
	activeInterviews.Inc()
}

// RecordInterviewEnd records the end of an interview. Only the first call counts.
func (m *Metrics) RecordInterviewEnd(outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true

	activeInterviews.Dec()
	totalInterviews.WithLabelValues(outcome).Inc()
	interviewDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTransition records a phase change
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	phaseTransitions.WithLabelValues(from, to).Inc()
}

// RecordSubmission records a committed answer
func (m *Metrics) RecordSubmission(trigger string) {
	if m == nil {
		return
	}
	submissions.WithLabelValues(trigger).Inc()
}

// RecordStale records a discarded stale callback
func (m *Metrics) RecordStale(source string) {
	if m == nil {
		return
	}
	staleCallbacks.WithLabelValues(source).Inc()
}

// RecordEvaluationStart records the start of an evaluation round-trip
func (m *Metrics) RecordEvaluationStart() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.evaluationStart = time.Now()
	m.mu.Unlock()
}

// RecordEvaluationEnd records the end of an evaluation round-trip
func (m *Metrics) RecordEvaluationEnd(success bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.evaluationStart.IsZero() {
		evaluationLatency.Observe(time.Since(m.evaluationStart).Seconds())
		m.evaluationStart = time.Time{}
	}

	status := "success"
	if !success {
		status = "error"
	}
	evaluationRequests.WithLabelValues(status).Inc()
}

// RecordScore records a score returned with an evaluation
func (m *Metrics) RecordScore(score float64) {
	if m == nil {
		return
	}
	evaluationScore.Observe(score)
}

// RecordPlayback records a playback outcome
func (m *Metrics) RecordPlayback(success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	playbacks.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordCaptureRestart records a scheduled capture engine restart
func RecordCaptureRestart(reason string) {
	captureRestarts.WithLabelValues(reason).Inc()
}

// RecordCaptureBlocked records a permission denial from the capture engine
func RecordCaptureBlocked() {
	captureBlocked.Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
