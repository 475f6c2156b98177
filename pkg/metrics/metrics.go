package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	AuthAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "clerkauth", Name: "auth_attempts_total", Help: "Authentication attempts by outcome (anonymous, authenticated, rejected, error)."},
		[]string{"outcome"},
	)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "clerkauth", Name: "cache_lookups_total", Help: "Cache lookups by cache name and result."},
		[]string{"cache", "result"},
	)
	ClerkRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "clerkauth", Name: "clerk_requests_total", Help: "Outbound Clerk requests by endpoint and HTTP status."},
		[]string{"endpoint", "status"},
	)
	UsersProvisioned = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "clerkauth", Name: "users_provisioned_total", Help: "Local users created on first sight of a subject."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(AuthAttempts)
	reg.MustRegister(CacheLookups)
	reg.MustRegister(ClerkRequests)
	reg.MustRegister(UsersProvisioned)
}
