package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler, logger *logrus.Logger) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger(logger))

	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		orgs := v1.Group("/orgs/:org")
		{
			orgs.GET("/metrics", handler.GetOrgMetrics)
			orgs.GET("/releases", handler.GetOrgReleases)
		}

		v1.GET("/epics", handler.GetEpics)
		v1.DELETE("/cache", handler.ClearCache)
	}

	return router
}
