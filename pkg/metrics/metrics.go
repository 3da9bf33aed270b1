package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "authbridge"

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	// TokenRejected counts bearer tokens refused by the auth middleware, by reason
	// (missing, malformed, blacklisted, verify).
	TokenRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "token_rejected_total", Help: "Number of rejected bearer tokens by reason."},
		[]string{"reason"},
	)
	// AuthEvents counts proxied identity operations (signin, signup, refresh,
	// signout, reset_password, update_password) by outcome.
	AuthEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "auth_events_total", Help: "Identity provider operations by outcome."},
		[]string{"event", "outcome"},
	)
	ProfilesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "profiles_created_total", Help: "Number of profiles created."},
	)
	OnboardingCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "onboarding_completed_total", Help: "Number of onboarding completion calls that cleared the first-time flag."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(TokenRejected)
	reg.MustRegister(AuthEvents)
	reg.MustRegister(ProfilesCreated)
	reg.MustRegister(OnboardingCompleted)
}

// Outcome returns the outcome label for err.
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
