package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowgrid/flowgrid/model"
)

// Collectors holds the engine's prometheus instruments.
type Collectors struct {
	StepsTotal   *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	ActiveFlows  prometheus.Gauge
}

// NewCollectors registers the engine instruments on the given registerer.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowgrid",
			Name:      "steps_total",
			Help:      "Step executions by flow type, step and outcome.",
		}, []string{"flow_type", "step", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowgrid",
			Name:      "step_duration_seconds",
			Help:      "Step execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow_type", "step"}),
		ActiveFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowgrid",
			Name:      "active_flows",
			Help:      "Flow instances currently executing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.StepsTotal, c.StepDuration, c.ActiveFlows)
	}
	return c
}

// Metrics records attempt counts and latencies for every step execution.
func Metrics(c *Collectors) Middleware {
	return func(next StepFunc) StepFunc {
		return func(ctx context.Context, sc *StepContext) (*model.StepResult, error) {
			started := time.Now()
			result, err := next(ctx, sc)
			outcome := "success"
			if err != nil || (result != nil && !result.Success) {
				outcome = "failure"
			}
			c.StepsTotal.WithLabelValues(sc.Flow.FlowType, sc.Step.Name, outcome).Inc()
			c.StepDuration.WithLabelValues(sc.Flow.FlowType, sc.Step.Name).Observe(time.Since(started).Seconds())
			return result, err
		}
	}
}
