package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/serroba/admission/internal/ratelimit"
)

// IdentityPrefix namespaces the limits the API applies to its own callers.
const IdentityPrefix = "http"

// LimitConfig is one limit: an algorithm enforced over a window.
type LimitConfig struct {
	Algorithm ratelimit.Algorithm
	Window    time.Duration
}

func (c LimitConfig) String() string {
	return fmt.Sprintf("%s over %s", c.Algorithm, c.Window)
}

// Policy maps each scope to the limits enforced for it.
type Policy struct {
	Limits map[Scope][]LimitConfig
}

// PolicyBuilder assembles a Policy.
type PolicyBuilder struct {
	policy *Policy
}

// NewPolicyBuilder starts an empty policy.
func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{policy: &Policy{Limits: make(map[Scope][]LimitConfig)}}
}

// AddLimit enforces alg over window on every request in scope.
func (b *PolicyBuilder) AddLimit(scope Scope, alg ratelimit.Algorithm, window time.Duration) *PolicyBuilder {
	b.policy.Limits[scope] = append(b.policy.Limits[scope], LimitConfig{Algorithm: alg, Window: window})

	return b
}

// Build returns the policy.
func (b *PolicyBuilder) Build() *Policy {
	return b.policy
}

// LimiterSource resolves the limiter for an algorithm.
type LimiterSource interface {
	Limiter(alg ratelimit.Algorithm) (ratelimit.Limiter, error)
}

// LimitExceeded describes the limit that denied a request.
type LimitExceeded struct {
	Resource string
	Config   LimitConfig
}

// PolicyLimiter enforces a policy for resolved scopes or explicit limits.
type PolicyLimiter struct {
	source LimiterSource
	policy *Policy
}

// NewPolicyLimiter creates a new policy-based rate limiter.
func NewPolicyLimiter(source LimiterSource, policy *Policy) *PolicyLimiter {
	return &PolicyLimiter{
		source: source,
		policy: policy,
	}
}

// Allow records one request from clientKey against the limits of every scope.
// It stops at the first limit that denies; the LimitExceeded return value names it.
func (l *PolicyLimiter) Allow(ctx context.Context, clientKey string, scopes []Scope) (bool, *LimitExceeded, error) {
	for _, scope := range scopes {
		allowed, exceeded, err := l.AllowLimits(ctx, clientKey, string(scope), l.policy.Limits[scope])
		if err != nil || !allowed {
			return allowed, exceeded, err
		}
	}

	return true, nil, nil
}

// AllowLimits records one request from clientKey against limits, tracked under resource.
func (l *PolicyLimiter) AllowLimits(
	ctx context.Context,
	clientKey, resource string,
	limits []LimitConfig,
) (bool, *LimitExceeded, error) {
	id := ratelimit.Identity{Prefix: IdentityPrefix, Resource: resource, Subject: clientKey}

	for _, limit := range limits {
		limiter, err := l.source.Limiter(limit.Algorithm)
		if err != nil {
			return false, nil, err
		}

		allowed, err := limiter.Record(ctx, id, limit.Window)
		if err != nil {
			return false, nil, fmt.Errorf("%s limit on %s: %w", limit, resource, err)
		}

		if !allowed {
			return false, &LimitExceeded{Resource: resource, Config: limit}, nil
		}
	}

	return true, nil, nil
}
