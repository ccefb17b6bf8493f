package container

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/mir00r/cluster-proxy/internal/domain"
	"github.com/mir00r/cluster-proxy/pkg/logger"
	"github.com/stretchr/testify/require"
)

// stubCancelKey records cancellation and keeps the scheduled task invokable
// so tests can drive ticks by hand.
type stubCancelKey struct {
	task      func()
	cancelled bool
}

func (k *stubCancelKey) Cancel() { k.cancelled = true }

// stubExecutor runs submitted tasks inline and captures interval
// registrations instead of scheduling them.
type stubExecutor struct {
	name      string
	intervals []*stubCancelKey
}

func (e *stubExecutor) Execute(task func()) { task() }

func (e *stubExecutor) ExecuteAtInterval(task func(), period time.Duration) domain.CancelKey {
	key := &stubCancelKey{task: task}
	e.intervals = append(e.intervals, key)
	return key
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return log
}

func newTestContainer(t *testing.T, checker domain.HealthChecker) *Container {
	t.Helper()
	return New(Options{
		HealthChecker:       checker,
		HealthCheckInterval: 10 * time.Second,
		RemoveBrokenNodes:   30 * time.Second,
	}, testLogger(t))
}

func nodeConfig(t *testing.T, jvmRoute, rawURI, domainName string, hotStandby bool) *domain.NodeConfig {
	t.Helper()
	uri, err := url.Parse(rawURI)
	require.NoError(t, err)
	return &domain.NodeConfig{
		JVMRoute:      jvmRoute,
		ConnectionURI: uri,
		Balancer:      "mycluster",
		Domain:        domainName,
		HotStandby:    hotStandby,
	}
}

type workerSpec struct {
	jvmRoute   string
	uri        string
	domain     string
	hotStandby bool
	load       int
	builder    *domain.BalancerBuilder
}

// registerWorker adds a node, enables /app on the localhost alias and
// applies the initial STATUS load.
func registerWorker(t *testing.T, c *Container, exec *stubExecutor, spec workerSpec) *domain.Node {
	t.Helper()
	builder := spec.builder
	if builder == nil {
		builder = domain.NewBalancerBuilder("mycluster")
	}
	require.NoError(t, c.AddNode(nodeConfig(t, spec.jvmRoute, spec.uri, spec.domain, spec.hotStandby), builder, exec, nil))
	require.NoError(t, c.EnableContext("/app", spec.jvmRoute, []string{"localhost"}))
	require.NoError(t, c.UpdateLoad(spec.jvmRoute, spec.load))
	node := c.Node(spec.jvmRoute)
	require.NotNil(t, node)
	return node
}

func appRequest(t *testing.T, host, path string, cookies ...*http.Cookie) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://placeholder"+path, nil)
	require.NoError(t, err)
	req.Host = host
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	return req
}
