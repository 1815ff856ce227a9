// Package metrics defines the prometheus collectors shared by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup outcomes
const (
	OutcomeHit            = "hit"
	OutcomeMiss           = "miss"
	OutcomeExpired        = "expired"
	OutcomeWalletMismatch = "wallet_mismatch"
	OutcomeCorrupt        = "corrupt"
)

// Metrics holds the collectors recorded by the key cache, the orchestrator
// and the challenge service
type Metrics struct {
	CacheLookups     *prometheus.CounterVec
	SignaturePrompts prometheus.Counter
	ChallengesIssued *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keycache",
			Name:      "lookups_total",
			Help:      "Key cache lookups by outcome.",
		}, []string{"outcome"}),
		SignaturePrompts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signature_prompts_total",
			Help:      "Wallet signature requests issued for key derivation.",
		}),
		ChallengesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_total",
			Help:      "Challenge requests by result (created, existing).",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(m.CacheLookups, m.SignaturePrompts, m.ChallengesIssued)
	}
	return m
}

// Nop returns unregistered collectors
func Nop() *Metrics {
	return New(nil, "sigkey")
}
