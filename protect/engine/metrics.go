package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_event_processed",
	Help: "Number of events processed",
}, []string{"type"})

var eventPanicCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_event_panics",
	Help: "Number of events whose processing panicked",
}, []string{"type"})

var eventDropCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_event_dropped",
	Help: "Number of events which could not be scheduled",
}, []string{"type"})

var violationCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_violations",
	Help: "Number of violations triggered",
}, []string{"type"})

var violationDropCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_violations_dropped",
	Help: "Number of violations which could not be queued for punishment",
}, []string{"type"})

var violationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "guardian_violation_dispatch_duration_sec",
	Help: "Duration of punishment execution and notification for a violation",
}, []string{"type"})

var actionExecutedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_actions_executed",
	Help: "Number of punishments successfully applied to a member",
}, []string{"type", "action"})

var actionErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_action_errors",
	Help: "Number of punishments which failed for a member",
}, []string{"type", "action"})

var circuitBreakCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_circuit_breaks",
	Help: "Number of violations not punished because the daily action quota was exhausted",
}, []string{"type"})

var autoStopCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_protection_auto_stops",
	Help: "Number of protections disabled because their punishment role no longer exists",
}, []string{"type"})

var notifyErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardian_notify_errors",
	Help: "Number of violation notifications which failed to send",
})
