package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mir00r/cluster-proxy/internal/domain"
	"github.com/mir00r/cluster-proxy/pkg/logger"
)

// HealthCheckConfig defines configuration for the HTTP node prober
type HealthCheckConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	Path    string        `json:"path" yaml:"path"`
}

// HTTPHealthChecker probes a node's connection URI with a GET request, the
// HTTP analogue of a CPING. It implements domain.HealthChecker; state
// transitions stay with the container's health-check task.
type HTTPHealthChecker struct {
	config HealthCheckConfig
	client *http.Client
	logger *logger.Logger
}

// NewHTTPHealthChecker creates a new HTTP prober
func NewHTTPHealthChecker(config HealthCheckConfig, log *logger.Logger) *HTTPHealthChecker {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPHealthChecker{
		config: config,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				DisableCompression:  true,
				MaxIdleConnsPerHost: 2,
			},
		},
		logger: log.HealthCheckLogger(),
	}
}

// Check performs a health probe against the node
func (hc *HTTPHealthChecker) Check(ctx context.Context, node *domain.Node) error {
	if !hc.config.Enabled {
		return nil
	}

	probeURL := node.Config().ConnectionURI.String() + hc.config.Path
	log := hc.logger.NodeLogger(node.JVMRoute(), node.Config().ConnectionURI.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		log.WithError(err).Error("Failed to create health probe request")
		return fmt.Errorf("failed to create health probe request: %w", err)
	}
	req.Header.Set("User-Agent", "ClusterProxy-HealthChecker/1.0")

	start := time.Now()
	resp, err := hc.client.Do(req)
	duration := time.Since(start)

	if err != nil {
		log.WithError(err).WithField("duration_ms", duration.Milliseconds()).
			Warn("Health probe request failed")
		return fmt.Errorf("health probe request failed: %w", err)
	}
	defer resp.Body.Close()

	log.WithField("status_code", resp.StatusCode).
		WithField("duration_ms", duration.Milliseconds()).
		Debug("Health probe completed")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("health probe failed with status %d", resp.StatusCode)
}
