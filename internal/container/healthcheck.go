package container

import (
	"context"
	"sync"
	"time"

	"github.com/mir00r/cluster-proxy/internal/domain"
)

const defaultProbeTimeout = 5 * time.Second

// healthCheckTask periodically probes every node pinned to one I/O thread.
// Tasks are created lazily when the first node lands on a thread and cancel
// themselves when their node list drains.
type healthCheckTask struct {
	container *Container
	threshold int64
	checker   domain.HealthChecker
	cancelKey domain.CancelKey

	mu    sync.Mutex
	nodes []*domain.Node
}

func newHealthCheckTask(c *Container, threshold int64, checker domain.HealthChecker) *healthCheckTask {
	return &healthCheckTask{
		container: c,
		threshold: threshold,
		checker:   checker,
	}
}

func (t *healthCheckTask) addNode(node *domain.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes = append(t.nodes, node)
}

// removeNode returns the number of nodes left on the task
func (t *healthCheckTask) removeNode(node *domain.Node) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, n := range t.nodes {
		if n == node {
			t.nodes = append(t.nodes[:i], t.nodes[i+1:]...)
			break
		}
	}
	return len(t.nodes)
}

func (t *healthCheckTask) snapshot() []*domain.Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*domain.Node(nil), t.nodes...)
}

// run executes one probe batch on the owning I/O thread
func (t *healthCheckTask) run() {
	for _, node := range t.snapshot() {
		t.checkNode(node)
	}
}

func (t *healthCheckTask) checkNode(node *domain.Node) {
	if t.checker == nil {
		// No checker configured behaves like an always-passing probe
		node.HealthCheckSucceeded()
		return
	}
	timeout := node.Config().Ping
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := t.checker.Check(ctx, node); err != nil {
		count := node.HealthCheckFailed()
		t.container.log.NodeLogger(node.JVMRoute(), node.Config().ConnectionURI.String()).
			WithError(err).
			WithField("io_error_count", count).
			Warn("Health probe failed")
		if t.threshold > 0 && count >= t.threshold {
			t.container.removeBrokenNode(node)
		}
		return
	}
	node.HealthCheckSucceeded()
}

// updateLoads is the global load-reset tick: every node's election counter
// is snapshotted so stale election history decays.
func (c *Container) updateLoads() {
	for _, node := range c.nodes.snapshot() {
		node.ResetLbStatus()
	}
}

// removeThreshold derives the per-node error budget from the removal window
// and the probe interval, clamped to [1, 1000]. A non-positive input for
// either disables removal (-1).
func removeThreshold(healthCheckInterval, removeBrokenNodes time.Duration) int64 {
	if healthCheckInterval > 0 && removeBrokenNodes > 0 {
		threshold := int64(removeBrokenNodes / healthCheckInterval)
		if threshold > 1000 {
			return 1000
		}
		if threshold < 1 {
			return 1
		}
		return threshold
	}
	return -1
}
