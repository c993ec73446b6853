package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yamada-k/git-insights/internal/domain"
	apperrors "github.com/yamada-k/git-insights/internal/errors"
	"github.com/yamada-k/git-insights/internal/service"
)

// Service is the slice of the orchestrator the API needs.
type Service interface {
	Metrics(ctx context.Context, org string, days int, repos []string, progress chan<- service.ProgressEvent) (*domain.MetricsReport, error)
	Releases(ctx context.Context, org string, repos []string) ([]domain.ReleaseReport, error)
	Epics(ctx context.Context) ([]domain.Epic, error)
	ClearCache(ctx context.Context)
}

// Handler handles API requests
type Handler struct {
	service      Service
	defaultDays  int
	defaultRepos []string
}

// NewHandler creates a new API handler
func NewHandler(svc Service, defaultDays int, defaultRepos []string) *Handler {
	return &Handler{
		service:      svc,
		defaultDays:  defaultDays,
		defaultRepos: defaultRepos,
	}
}

// GetOrgMetrics returns the aggregated metrics report
// GET /api/v1/orgs/:org/metrics
func (h *Handler) GetOrgMetrics(c *gin.Context) {
	org := c.Param("org")
	days := parseIntQuery(c, "days", h.defaultDays)
	repos := h.parseRepos(c)

	report, err := h.service.Metrics(c.Request.Context(), org, days, repos, nil)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": report,
	})
}

// GetOrgReleases returns the release-delta report
// GET /api/v1/orgs/:org/releases
func (h *Handler) GetOrgReleases(c *gin.Context) {
	org := c.Param("org")
	repos := h.parseRepos(c)

	reports, err := h.service.Releases(c.Request.Context(), org, repos)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": reports,
	})
}

// GetEpics returns the epic progress report
// GET /api/v1/epics
func (h *Handler) GetEpics(c *gin.Context) {
	epics, err := h.service.Epics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": epics,
	})
}

// ClearCache drops every cached report
// DELETE /api/v1/cache
func (h *Handler) ClearCache(c *gin.Context) {
	h.service.ClearCache(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// parseRepos parses the comma-separated repos query parameter, falling back
// to the configured repository list.
func (h *Handler) parseRepos(c *gin.Context) []string {
	raw := c.Query("repos")
	if raw == "" {
		return h.defaultRepos
	}
	var repos []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			repos = append(repos, r)
		}
	}
	return repos
}

// parseIntQuery parses an integer query parameter with a default value
func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
		case apperrors.ErrCodeConfig:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": err.Error(),
		},
	})
}
