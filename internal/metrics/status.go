package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/stockroom/internal/core"
)

// breakerStateValue maps breaker states to the exported gauge value.
var breakerStateValue = map[core.BreakerState]float64{
	core.StateClosed:   0,
	core.StateHalfOpen: 1,
	core.StateOpen:     2,
}

type statusCollector struct {
	service  *core.Service
	breakers *core.BreakerSet

	importsActive   *prometheus.Desc
	importsWaiting  *prometheus.Desc
	importSlots     *prometheus.Desc
	jobs            *prometheus.Desc
	workersActive   *prometheus.Desc
	workersPending  *prometheus.Desc
	breakerState    *prometheus.Desc
	breakerFailures *prometheus.Desc
}

func newStatusCollector(svc *core.Service, breakers *core.BreakerSet) *statusCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &statusCollector{
		service:         svc,
		breakers:        breakers,
		importsActive:   desc("imports_active", "Synchronous imports holding a slot."),
		importsWaiting:  desc("imports_waiting", "Synchronous imports queued for a slot."),
		importSlots:     desc("import_slots", "Maximum concurrent synchronous imports."),
		jobs:            desc("jobs", "Background jobs by status.", "status"),
		workersActive:   desc("job_workers_active", "Jobs currently running."),
		workersPending:  desc("job_workers_pending", "Jobs waiting for a worker."),
		breakerState:    desc("circuit_breaker_state", "Circuit state: 0 closed, 1 half-open, 2 open.", "breaker"),
		breakerFailures: desc("circuit_breaker_failures", "Consecutive failures counted by the breaker.", "breaker"),
	}
}

func (c *statusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.importsActive
	ch <- c.importsWaiting
	ch <- c.importSlots
	ch <- c.jobs
	ch <- c.workersActive
	ch <- c.workersPending
	ch <- c.breakerState
	ch <- c.breakerFailures
}

func (c *statusCollector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v int, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v), labels...)
	}

	st := c.service.Status()
	gauge(c.importsActive, st.Imports.Active)
	gauge(c.importsWaiting, st.Imports.Waiting)
	gauge(c.importSlots, st.Imports.MaxConcurrent)
	gauge(c.jobs, st.Jobs.Pending, string(core.JobPending))
	gauge(c.jobs, st.Jobs.Processing, string(core.JobProcessing))
	gauge(c.jobs, st.Jobs.Completed, string(core.JobCompleted))
	gauge(c.jobs, st.Jobs.Failed, string(core.JobFailed))
	gauge(c.workersActive, st.Workers.Active)
	gauge(c.workersPending, st.Workers.Pending)

	if c.breakers == nil {
		return
	}
	for _, b := range c.breakers.Status() {
		ch <- prometheus.MustNewConstMetric(c.breakerState, prometheus.GaugeValue, breakerStateValue[b.State], b.Name)
		gauge(c.breakerFailures, b.Failures, b.Name)
	}
}
