package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tmengine/internal/contextutil"
	"tmengine/internal/tmstore"
)

// Pinger is implemented by dependencies the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles HTTP requests for health checks.
type HealthHandler struct {
	db                 Pinger
	stores             func() []tmstore.Info
	probes             map[string]Pinger
	healthCheckTimeout time.Duration
}

// NewHealthHandler creates a new HealthHandler. probes maps a store id to a
// reachability check for stores that support one.
func NewHealthHandler(db Pinger, stores func() []tmstore.Info, probes map[string]Pinger) *HealthHandler {
	return &HealthHandler{
		db:                 db,
		stores:             stores,
		probes:             probes,
		healthCheckTimeout: 5 * time.Second,
	}
}

// HealthResponse represents the health check response.
//
// swagger:model HealthResponse
type HealthResponse struct {
	// Overall health status: "healthy", "degraded", or "unhealthy"
	Status string `json:"status"`

	// Timestamp of the health check
	Timestamp string `json:"timestamp"`

	// Individual check results
	Checks map[string]string `json:"checks"`

	// List of issues (only present if status is degraded or unhealthy)
	Issues []string `json:"issues,omitempty"`
}

// ServeHTTP handles HTTP requests for health checks.
//
// Check the health status of the system and its dependencies.
// Returns 200 OK if healthy or degraded, 503 Service Unavailable if unhealthy.
//
// swagger:route GET /api/health healthCheck
//
// # Health check endpoint
//
// Returns the health status of the local database and the configured TM stores.
// An unreachable store degrades the service; an unreachable database makes it unhealthy.
//
// ---
// produces:
// - application/json
// responses:
//
//	'200':
//	  description: System is healthy or degraded
//	  schema:
//	    "$ref": "#/definitions/HealthResponse"
//	'503':
//	  description: System is unhealthy
//	  schema:
//	    "$ref": "#/definitions/HealthResponse"
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// Create context with timeout for health checks
	checkCtx, cancel := context.WithTimeout(ctx, h.healthCheckTimeout)
	defer cancel()

	checks := make(map[string]string)
	var issues []string

	dbOK := h.check(checkCtx, logger, "database", h.db)
	if dbOK {
		checks["database"] = "ok"
	} else {
		checks["database"] = "error"
		issues = append(issues, "database_unavailable")
	}

	storesOK := true
	for _, info := range h.stores() {
		key := "store:" + info.ID
		probe, ok := h.probes[info.ID]
		if !ok {
			checks[key] = fmt.Sprintf("%s (%s)", info.Type, info.Access)
			continue
		}
		if h.check(checkCtx, logger, key, probe) {
			checks[key] = "ok"
		} else {
			checks[key] = "error"
			issues = append(issues, info.ID+"_unavailable")
			storesOK = false
		}
	}

	// Determine overall status
	status := "healthy"
	httpStatus := http.StatusOK
	switch {
	case !dbOK:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	case !storesOK:
		status = "degraded"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if len(issues) > 0 {
		response.Issues = issues
	}

	writeJSON(ctx, w, httpStatus, response)
}

func (h *HealthHandler) check(ctx context.Context, logger *slog.Logger, name string, p Pinger) bool {
	if err := p.Ping(ctx); err != nil {
		logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
		return false
	}
	return true
}
