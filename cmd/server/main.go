package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/mir00r/cluster-proxy/internal/config"
	"github.com/mir00r/cluster-proxy/internal/container"
	"github.com/mir00r/cluster-proxy/internal/executor"
	"github.com/mir00r/cluster-proxy/internal/handler"
	"github.com/mir00r/cluster-proxy/internal/middleware"
	"github.com/mir00r/cluster-proxy/internal/proxy"
	"github.com/mir00r/cluster-proxy/internal/service"
	"github.com/mir00r/cluster-proxy/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"proxy_port":            cfg.Server.Port,
		"management_port":       cfg.Management.Port,
		"io_threads":            cfg.Cluster.IOThreads,
		"health_check_interval": cfg.Cluster.HealthCheckInterval.String(),
	}).Info("Starting cluster proxy")

	pool := executor.NewPool(cfg.Cluster.IOThreads, clockwork.NewRealClock(), log)
	defer pool.Shutdown()

	healthChecker := service.NewHTTPHealthChecker(cfg.Cluster.HealthCheck, log)
	buffers := proxy.NewBufferPool(0)

	clusterContainer := container.New(container.Options{
		HealthChecker:           healthChecker,
		HealthCheckInterval:     cfg.Cluster.HealthCheckInterval,
		RemoveBrokenNodes:       cfg.Cluster.RemoveBrokenNodes,
		FailoverDomainCacheSize: cfg.Cluster.FailoverDomainCacheSize,
		FailoverDomainCacheTTL:  cfg.Cluster.FailoverDomainCacheTTL,
	}, log)

	forwarder, err := proxy.NewForwarder(clusterContainer, buffers, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create forwarder")
	}

	// Management listener: MCMP-style commands plus the admin view
	managementRouter := mux.NewRouter()
	handler.NewManagementHandler(clusterContainer, pool, buffers, log).RegisterRoutes(managementRouter)
	handler.NewAdminHandler(clusterContainer, log).RegisterRoutes(managementRouter)

	var managementHandler http.Handler = managementRouter
	if jwtAuth, err := middleware.NewJWTAuthMiddleware(cfg.Management.Auth, log); err != nil {
		log.WithError(err).Fatal("Failed to create JWT middleware")
	} else if jwtAuth != nil {
		managementHandler = jwtAuth.Middleware(managementHandler)
	}
	if cfg.Management.RateLimit.Enabled {
		managementHandler = middleware.NewRateLimiter(cfg.Management.RateLimit, log).Middleware(managementHandler)
	}

	managementServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Management.Port),
		Handler: managementHandler,
	}
	proxyServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      forwarder,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errors := make(chan error, 2)
	go func() {
		log.Infof("Management listener on %s", managementServer.Addr)
		errors <- managementServer.ListenAndServe()
	}()
	go func() {
		log.Infof("Proxy listener on %s", proxyServer.Addr)
		errors <- proxyServer.ListenAndServe()
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errors:
		log.WithError(err).Error("Listener failed")
	case sig := <-signals:
		log.Infof("Received signal %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := proxyServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Proxy shutdown did not complete cleanly")
	}
	if err := managementServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Management shutdown did not complete cleanly")
	}
	log.Info("Shutdown complete")
}
