package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var VerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "groupwarden_verdicts_total",
	Help: "Message classifications by verdict kind.",
}, []string{"kind"})

var EnforcementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "groupwarden_enforcements_total",
	Help: "Enforcement actions decided by the punishment state machine.",
}, []string{"kind"})

var RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "groupwarden_rate_limited_total",
	Help: "Admissions refused by the rate limiter.",
}, []string{"class"})

var CommandErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "groupwarden_command_errors_total",
	Help: "Admin command failures by error kind.",
}, []string{"kind"})
