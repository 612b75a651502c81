package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/serroba/admission/internal/clock"
	"github.com/serroba/admission/internal/decisions"
	"github.com/serroba/admission/internal/messaging"
	"github.com/serroba/admission/internal/middleware"
	"github.com/serroba/admission/internal/ratelimit"
	"go.uber.org/zap"
)

// Leaker drains leaky bucket queues on demand.
type Leaker interface {
	Leak(ctx context.Context, id ratelimit.Identity, window time.Duration) (int64, error)
}

// AdmissionHandler exposes the limiters over HTTP.
type AdmissionHandler struct {
	limiters        middleware.LimiterSource
	leaker          Leaker
	watcher         decisions.Watcher
	publishDecision messaging.Publish[decisions.Decision]
	clock           clock.Clock
	logger          *zap.Logger
}

// HandlerOption configures an AdmissionHandler.
type HandlerOption func(*AdmissionHandler)

// WithWatcher registers admitted leaky bucket identities with w so their queues keep draining.
func WithWatcher(w decisions.Watcher) HandlerOption {
	return func(h *AdmissionHandler) {
		h.watcher = w
	}
}

// WithHandlerClock overrides the clock used to stamp decisions.
func WithHandlerClock(c clock.Clock) HandlerOption {
	return func(h *AdmissionHandler) {
		h.clock = c
	}
}

// NewAdmissionHandler creates a new admission handler.
func NewAdmissionHandler(
	limiters middleware.LimiterSource,
	leaker Leaker,
	publishDecision messaging.Publish[decisions.Decision],
	logger *zap.Logger,
	opts ...HandlerOption,
) *AdmissionHandler {
	h := &AdmissionHandler{
		limiters:        limiters,
		leaker:          leaker,
		publishDecision: publishDecision,
		clock:           clock.NewSystem(),
		logger:          logger,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Record admits or denies one request and publishes the decision.
func (h *AdmissionHandler) Record(ctx context.Context, req *RecordRequest) (*DecisionResponse, error) {
	alg := ratelimit.Algorithm(req.Algorithm)

	limiter, err := h.limiters.Limiter(alg)
	if err != nil {
		return nil, h.limiterError("record", alg, err)
	}

	id, window := req.Body.identity(), req.Body.window()

	allowed, err := limiter.Record(ctx, id, window)
	if err != nil {
		return nil, h.limiterError("record", alg, err)
	}

	h.publish(ctx, alg, req.Body, allowed)

	if allowed && alg == ratelimit.LeakyBucketAlgorithm && h.watcher != nil {
		if err := h.watcher.Watch(id, window); err != nil {
			h.logger.Warn("failed to watch leaky bucket", zap.Stringer("identity", id), zap.Error(err))
		}
	}

	resp := &DecisionResponse{}
	resp.Body.Allowed = allowed

	return resp, nil
}

// Usage reports the current usage figure without changing it.
func (h *AdmissionHandler) Usage(ctx context.Context, req *UsageRequest) (*UsageResponse, error) {
	alg := ratelimit.Algorithm(req.Algorithm)

	limiter, err := h.limiters.Limiter(alg)
	if err != nil {
		return nil, h.limiterError("fetch", alg, err)
	}

	body := req.body()

	count, err := limiter.Fetch(ctx, body.identity(), body.window())
	if err != nil {
		return nil, h.limiterError("fetch", alg, err)
	}

	resp := &UsageResponse{}
	resp.Body.Count = count

	return resp, nil
}

// Allow reports whether a record call would currently be admitted.
func (h *AdmissionHandler) Allow(ctx context.Context, req *UsageRequest) (*DecisionResponse, error) {
	alg := ratelimit.Algorithm(req.Algorithm)

	limiter, err := h.limiters.Limiter(alg)
	if err != nil {
		return nil, h.limiterError("allow", alg, err)
	}

	body := req.body()

	allowed, err := limiter.Allow(ctx, body.identity(), body.window())
	if err != nil {
		return nil, h.limiterError("allow", alg, err)
	}

	resp := &DecisionResponse{}
	resp.Body.Allowed = allowed

	return resp, nil
}

// Leak drops stale markers from a leaky bucket queue.
func (h *AdmissionHandler) Leak(ctx context.Context, req *LeakRequest) (*LeakResponse, error) {
	removed, err := h.leaker.Leak(ctx, req.Body.identity(), req.Body.window())
	if err != nil {
		return nil, h.limiterError("leak", ratelimit.LeakyBucketAlgorithm, err)
	}

	resp := &LeakResponse{}
	resp.Body.Removed = removed

	return resp, nil
}

func (h *AdmissionHandler) publish(ctx context.Context, alg ratelimit.Algorithm, body IdentityBody, allowed bool) {
	meta, _ := middleware.RequestMetaFromContext(ctx)

	decision := &decisions.Decision{
		ID:            uuid.New(),
		Algorithm:     string(alg),
		Prefix:        body.Prefix,
		Resource:      body.Resource,
		Subject:       body.Subject,
		WindowSeconds: body.WindowSeconds,
		Allowed:       allowed,
		DecidedAt:     h.clock.Now().UTC(),
		ClientIP:      meta.ClientIP,
	}

	if err := h.publishDecision(ctx, decision); err != nil {
		h.logger.Error("failed to publish decision",
			zap.String("algorithm", decision.Algorithm),
			zap.Stringer("identity", decision.Identity()),
			zap.Error(err),
		)
	}
}

// limiterError maps engine errors onto HTTP problems. Store failures are logged;
// caller mistakes are not.
func (h *AdmissionHandler) limiterError(op string, alg ratelimit.Algorithm, err error) error {
	switch {
	case errors.Is(err, ratelimit.ErrUnknownAlgorithm):
		return huma.Error404NotFound("unknown algorithm: " + string(alg))
	case errors.Is(err, ratelimit.ErrInvalidConfig):
		return huma.Error400BadRequest(err.Error())
	default:
		h.logger.Error("limiter call failed",
			zap.String("op", op),
			zap.String("algorithm", string(alg)),
			zap.Error(err),
		)

		return huma.Error500InternalServerError("admission store unavailable")
	}
}
