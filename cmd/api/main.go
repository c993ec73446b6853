package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/yamada-k/git-insights/internal/api"
	"github.com/yamada-k/git-insights/internal/cache"
	"github.com/yamada-k/git-insights/internal/collector"
	"github.com/yamada-k/git-insights/internal/config"
	"github.com/yamada-k/git-insights/internal/service"
	"github.com/yamada-k/git-insights/internal/tracker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Initialize cache backend
	store, err := cache.New(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize cache backend: %v", err)
	}
	defer store.Close()

	coll := collector.NewGitHubCollector(cfg.GitHubToken, logger)

	var trk service.Tracker
	if cfg.TrackerEnabled() {
		trk = tracker.NewClient(cfg.JiraURL, cfg.JiraEmail, cfg.JiraToken, logger)
	}

	svc := service.New(cfg, coll, store, trk, logger)

	// Setup routes
	handler := api.NewHandler(svc, cfg.LookbackDays, cfg.Repos)
	router := api.SetupRoutes(handler, logger)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	logger.WithFields(logrus.Fields{
		"addr":  addr,
		"cache": cfg.CacheBackend,
	}).Info("Starting API server")

	if err := router.Run(addr); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}
}
