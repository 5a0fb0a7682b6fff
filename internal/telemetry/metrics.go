package telemetry

import "go.opentelemetry.io/otel/metric"

type Metrics struct {
	TaskDuration  metric.Float64Histogram
	TasksExecuted metric.Int64Counter
	TaskFailures  metric.Int64Counter
	PollCycles    metric.Int64Counter
	LoopErrors    metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TaskDuration, err = meter.Float64Histogram("scheduler.task.duration",
		metric.WithDescription("Task execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksExecuted, err = meter.Int64Counter("scheduler.task.executed",
		metric.WithDescription("Tasks marked completed"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskFailures, err = meter.Int64Counter("scheduler.task.failures",
		metric.WithDescription("Tasks whose action failed or panicked"),
	)
	if err != nil {
		return nil, err
	}

	m.PollCycles, err = meter.Int64Counter("scheduler.loop.cycles",
		metric.WithDescription("Scheduler poll cycles"),
	)
	if err != nil {
		return nil, err
	}

	m.LoopErrors, err = meter.Int64Counter("scheduler.loop.errors",
		metric.WithDescription("Scheduler cycles that ended in an error"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NoopMetrics returns instruments backed by a no-op meter.
func NoopMetrics() *Metrics {
	m, err := NewMetrics(Noop().Meter)
	if err != nil {
		panic(err)
	}
	return m
}
