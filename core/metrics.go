package core

// Metrics receives auth lifecycle events. The metrics package provides the
// Prometheus implementation.
type Metrics interface {
	RecordLogin(provider Provider, outcome string)
	RecordRegistration(outcome string)
	RecordRefresh(outcome string)
	RecordLogout()
	RecordAuthDecision(verdict Verdict)
	RecordPurge(refreshTokens, loginStates int64)
}

// Login and refresh outcomes reported to Metrics
const (
	OutcomeNewUser  = "new_user"
	OutcomePending  = "pending"
	OutcomeActive   = "active"
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeExpired  = "expired"
	OutcomeNotFound = "not_found"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
)

type noopMetrics struct{}

func (noopMetrics) RecordLogin(Provider, string) {}
func (noopMetrics) RecordRegistration(string)    {}
func (noopMetrics) RecordRefresh(string)         {}
func (noopMetrics) RecordLogout()                {}
func (noopMetrics) RecordAuthDecision(Verdict)   {}
func (noopMetrics) RecordPurge(int64, int64)     {}
