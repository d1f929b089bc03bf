package warn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var warningsIssued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardian_warnings_issued",
	Help: "Number of warnings recorded",
})

var warningsForgiven = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardian_warnings_forgiven",
	Help: "Number of warnings forgiven by moderators",
})

var warningsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_warnings_expired",
	Help: "Number of warnings cleared or deleted by expiry sweeps",
}, []string{"policy"})

var sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "guardian_warn_sweep_duration_sec",
	Help: "Duration of warning expiry sweeps",
})
