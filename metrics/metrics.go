// Package metrics exposes auth lifecycle counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/paperrnint/advent-calendar-be/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements core.Metrics
type Collector struct {
	logins        *prometheus.CounterVec
	registrations *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	logouts       prometheus.Counter
	authDecisions *prometheus.CounterVec
	purged        *prometheus.CounterVec
}

// NewCollector registers the auth metrics with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Federation callbacks by provider and outcome",
		}, []string{"provider", "outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_registrations_total",
			Help: "Registration completion attempts by outcome",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_refreshes_total",
			Help: "Refresh token exchanges by outcome",
		}, []string{"outcome"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_logouts_total",
			Help: "Logout requests",
		}),
		authDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_request_decisions_total",
			Help: "Request authentication verdicts for presented tokens",
		}, []string{"verdict"}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_purged_records_total",
			Help: "Expired records removed by the purge job",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.logins,
		c.registrations,
		c.refreshes,
		c.logouts,
		c.authDecisions,
		c.purged,
	)

	return c
}

func (c *Collector) RecordLogin(provider core.Provider, outcome string) {
	c.logins.WithLabelValues(string(provider), outcome).Inc()
}

func (c *Collector) RecordRegistration(outcome string) {
	c.registrations.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordRefresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordLogout() {
	c.logouts.Inc()
}

func (c *Collector) RecordAuthDecision(verdict core.Verdict) {
	c.authDecisions.WithLabelValues(verdict.String()).Inc()
}

func (c *Collector) RecordPurge(refreshTokens, loginStates int64) {
	c.purged.WithLabelValues("refresh_token").Add(float64(refreshTokens))
	c.purged.WithLabelValues("login_state").Add(float64(loginStates))
}

// Handler returns the scrape handler for gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ core.Metrics = (*Collector)(nil)
