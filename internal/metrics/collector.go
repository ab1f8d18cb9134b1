// Package metrics exports executor tracking records as Prometheus metrics.
package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/arbor/internal/engine"
)

// Collector is an engine.Tracker that counts what instances do.
//
// Every series is labeled with the workflow, the name of the root
// activity recorded by the instance's "start" record. Records of an
// instance whose start was not seen are counted under "unknown".
type Collector struct {
	mu    sync.Mutex
	roots map[string]string

	started      *prometheus.CounterVec
	finished     *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	faults       *prometheus.CounterVec
	lockWaits    *prometheus.CounterVec
	lockGrants   *prometheus.CounterVec
	compensation *prometheus.CounterVec
	contexts     *prometheus.CounterVec
	running      *prometheus.GaugeVec
}

var _ engine.Tracker = (*Collector)(nil)

// NewCollector registers the metrics with registry, or with the default
// registerer when registry is nil.
func NewCollector(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	return &Collector{
		roots: make(map[string]string),
		started: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_instances_started_total",
				Help: "Total number of workflow instances started",
			},
			[]string{"workflow"},
		),
		finished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_instances_finished_total",
				Help: "Total number of workflow instances that completed or terminated",
			},
			[]string{"workflow", "outcome"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_status_transitions_total",
				Help: "Total number of activity status changes",
			},
			[]string{"workflow", "status"},
		),
		faults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_faults_total",
				Help: "Total number of activities that started faulting",
			},
			[]string{"workflow", "activity"},
		),
		lockWaits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_lock_waits_total",
				Help: "Total number of activities queued behind a synchronization handle",
			},
			[]string{"workflow"},
		),
		lockGrants: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_lock_grants_total",
				Help: "Total number of waiting activities granted their handles",
			},
			[]string{"workflow"},
		),
		compensation: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_compensations_total",
				Help: "Compensations started and finished",
			},
			[]string{"workflow", "phase"},
		),
		contexts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_execution_contexts_total",
				Help: "Execution context lifecycle events",
			},
			[]string{"workflow", "event"},
		),
		running: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "arbor_instances_running",
				Help: "Instances started and not yet finished",
			},
			[]string{"workflow"},
		),
	}
}

// Track implements engine.Tracker. It never fails.
func (c *Collector) Track(_ context.Context, rec engine.TrackRecord) error {
	if rec.Key == "start" {
		c.mu.Lock()
		c.roots[rec.InstanceID] = rec.Activity
		c.mu.Unlock()
		c.started.WithLabelValues(rec.Activity).Inc()
		c.running.WithLabelValues(rec.Activity).Inc()
		return nil
	}

	wf, root := c.workflow(rec.InstanceID)
	switch rec.Key {
	case "status":
		c.transitions.WithLabelValues(wf, rec.Status).Inc()
		switch {
		case rec.Status == "Faulting":
			c.faults.WithLabelValues(wf, rec.Activity).Inc()
		case rec.Status == "Compensating":
			c.compensation.WithLabelValues(wf, "started").Inc()
		case rec.Status == "Closed" && rec.Result == "Compensated":
			c.compensation.WithLabelValues(wf, "compensated").Inc()
		}
		if rec.Data == "committed" && rec.Status == "Closed" &&
			rec.ContextID == 0 && root != "" && rec.Activity == root {
			c.finish(rec.InstanceID, wf, "completed")
		}
	case "terminate":
		c.finish(rec.InstanceID, wf, "terminated")
	case "lock.wait":
		c.lockWaits.WithLabelValues(wf).Inc()
	case "lock.acquired":
		c.lockGrants.WithLabelValues(wf).Inc()
	case "context.create", "context.complete", "context.discard", "context.save":
		c.contexts.WithLabelValues(wf, rec.Key[len("context."):]).Inc()
	}
	return nil
}

func (c *Collector) workflow(instanceID string) (label, root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	root, ok := c.roots[instanceID]
	if !ok {
		return "unknown", ""
	}
	return root, root
}

// finish counts an outcome once per instance. A root closing with a fault
// records "committed faulted" rather than "committed", and the terminate
// record after it decides the outcome.
func (c *Collector) finish(instanceID, wf, outcome string) {
	c.mu.Lock()
	_, ok := c.roots[instanceID]
	delete(c.roots, instanceID)
	c.mu.Unlock()

	if !ok {
		return
	}
	c.finished.WithLabelValues(wf, outcome).Inc()
	c.running.WithLabelValues(wf).Dec()
}
