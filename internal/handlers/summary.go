package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/admission/internal/clock"
	"github.com/serroba/admission/internal/decisions"
	"github.com/serroba/admission/internal/keys"
	"go.uber.org/zap"
)

// SummaryHandler reports what the decision log recorded for an identity.
type SummaryHandler struct {
	counter decisions.Counter
	clock   clock.Clock
	logger  *zap.Logger
}

// NewSummaryHandler creates a summary handler over counter.
func NewSummaryHandler(counter decisions.Counter, c clock.Clock, logger *zap.Logger) *SummaryHandler {
	return &SummaryHandler{counter: counter, clock: c, logger: logger}
}

// Summary counts admitted and denied decisions over the requested period.
func (h *SummaryHandler) Summary(ctx context.Context, req *SummaryRequest) (*SummaryResponse, error) {
	id := keys.Identity{Prefix: req.Prefix, Resource: req.Resource, Subject: req.Subject}
	since := h.clock.Now().Add(-time.Duration(req.SinceSeconds) * time.Second)

	allowed, denied, err := h.counter.Counts(ctx, id, since)
	if err != nil {
		h.logger.Error("failed to count decisions", zap.Stringer("identity", id), zap.Error(err))

		return nil, huma.Error500InternalServerError("decision log unavailable")
	}

	resp := &SummaryResponse{}
	resp.Body.Allowed = allowed
	resp.Body.Denied = denied

	return resp, nil
}

// RegisterSummaryRoutes registers the decision log summary.
func RegisterSummaryRoutes(api huma.API, h *SummaryHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "decision-summary",
		Method:      http.MethodGet,
		Path:        "/v1/decisions/summary",
		Summary:     "Summarize logged decisions",
		Description: "Counts admitted and denied decisions recorded for the identity.",
		Tags:        []string{"Decisions"},
	}, h.Summary)
}
