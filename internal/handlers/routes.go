package handlers

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/admission/internal/middleware"
	"github.com/serroba/admission/internal/ratelimit"
)

// RegisterRoutes registers the admission API with per-endpoint rate limit configuration.
func RegisterRoutes(api huma.API, h *AdmissionHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "record",
		Method:      http.MethodPost,
		Path:        "/v1/limits/{algorithm}/record",
		Summary:     "Record a request",
		Description: "Admits or denies one request for the identity and window, consuming capacity when admitted.",
		Tags:        []string{"Limits"},
	}, h.Record)

	huma.Register(api, huma.Operation{
		OperationID: "usage",
		Method:      http.MethodGet,
		Path:        "/v1/limits/{algorithm}/usage",
		Summary:     "Report usage",
		Description: "Returns consumed units for the identity, or remaining tokens for the token bucket.",
		Tags:        []string{"Limits"},
	}, h.Usage)

	huma.Register(api, huma.Operation{
		OperationID: "allow",
		Method:      http.MethodGet,
		Path:        "/v1/limits/{algorithm}/allow",
		Summary:     "Pre-check a request",
		Description: "Reports whether a record call would be admitted right now, without consuming capacity.",
		Tags:        []string{"Limits"},
	}, h.Allow)

	// Leaking is an operator action, so it gets a tight budget of its own.
	huma.Register(api, huma.Operation{
		OperationID: "leak",
		Method:      http.MethodPost,
		Path:        "/v1/limits/leaky-bucket/leak",
		Summary:     "Drain a leaky bucket",
		Description: "Drops queue markers that fall outside the current window.",
		Tags:        []string{"Limits"},
		Metadata: map[string]any{
			middleware.MetadataKey: middleware.EndpointConfig{
				Limits: []middleware.LimitConfig{
					{Algorithm: ratelimit.FixedWindowAlgorithm, Window: time.Minute},
				},
			},
		},
	}, h.Leak)
}
