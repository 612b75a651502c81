package health

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/admission/internal/middleware"
)

const checkTimeout = 2 * time.Second

// Checker defines the interface for checking service health.
type Checker interface {
	Ping(ctx context.Context) error
}

// Check names a dependency probed by the health endpoint.
type Check struct {
	Name    string
	Checker Checker
}

// Handler handles health check operations.
type Handler struct {
	checks []Check
}

// NewHandler creates a new health handler.
func NewHandler(checks ...Check) *Handler {
	return &Handler{checks: checks}
}

// Response is the response for health check endpoint.
type Response struct {
	Body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
}

// Check performs a health check of the application and its dependencies.
// An unreachable dependency degrades the status but never fails the request.
func (h *Handler) Check(ctx context.Context, _ *struct{}) (*Response, error) {
	resp := &Response{}
	resp.Body.Status = "ok"
	resp.Body.Checks = make(map[string]string, len(h.checks))

	for _, c := range h.checks {
		pingCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Checker.Ping(pingCtx)

		cancel()

		if err != nil {
			resp.Body.Checks[c.Name] = "unhealthy"
			resp.Body.Status = "degraded"

			continue
		}

		resp.Body.Checks[c.Name] = "healthy"
	}

	return resp, nil
}

// RegisterRoutes registers health check routes.
func RegisterRoutes(api huma.API, h *Handler) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Report dependency health",
		Tags:        []string{"Health"},
		Metadata: map[string]any{
			middleware.MetadataKey: middleware.EndpointConfig{Disabled: true},
		},
	}, h.Check)
}
