package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var workItemsAdded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_scheduler_work_items_added_total",
	Help: "Total number of work items added to the pool",
}, []string{"pool"})

var workItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_scheduler_work_items_processed_total",
	Help: "Total number of work items processed by the pool",
}, []string{"pool"})

var workItemsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_scheduler_work_items_dropped_total",
	Help: "Total number of work items dropped because a key's backlog was full",
}, []string{"pool"})

var workItemsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_scheduler_work_items_failed_total",
	Help: "Total number of work items which returned an error or panicked",
}, []string{"pool"})

var workersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "guardian_scheduler_workers_active",
	Help: "Number of workers currently active",
}, []string{"pool"})
