package ai

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	judgeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "judge_duration_seconds",
		Help:      "Duration of answer judging requests",
	}, []string{"provider", "model"})

	judgeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "judge_failures_total",
		Help:      "Number of failed answer judging requests",
	}, []string{"provider", "model"})

	embeddingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "embedding_duration_seconds",
		Help:      "Duration of embedding requests",
	}, []string{"model"})
)

func observeJudge(provider, model string, start time.Time) {
	judgeDuration.WithLabelValues(provider, model).Observe(time.Since(start).Seconds())
}

func failJudge(span trace.Span, provider, model string, err error) {
	judgeFailures.WithLabelValues(provider, model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
