package container

import (
	"net/http"
	"testing"

	"github.com/mir00r/cluster-proxy/internal/domain"
	"github.com/mir00r/cluster-proxy/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindTargetNoHostHeader(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	registerWorker(t, c, exec, workerSpec{jvmRoute: "a", uri: "http://10.0.0.1:8080", load: 50})

	req := appRequest(t, "localhost", "/app")
	req.Host = ""
	assert.Nil(t, c.FindTarget(req))
}

func TestFindTargetUnknownHostOrPath(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	registerWorker(t, c, exec, workerSpec{jvmRoute: "a", uri: "http://10.0.0.1:8080", load: 50})

	assert.Nil(t, c.FindTarget(appRequest(t, "elsewhere", "/app")))
	assert.Nil(t, c.FindTarget(appRequest(t, "localhost", "/other")))
}

func TestFindTargetStripsPortAndCase(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	registerWorker(t, c, exec, workerSpec{jvmRoute: "a", uri: "http://10.0.0.1:8080", load: 50})

	target := c.FindTarget(appRequest(t, "LocalHost:8080", "/app"))
	require.NotNil(t, target)
	_, ok := target.(*BasicTarget)
	assert.True(t, ok)
}

func TestFindTargetBracketedIPv6FallsBackUnstripped(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	require.NoError(t, c.AddNode(nodeConfig(t, "a", "http://10.0.0.1:8080", "", false), domain.NewBalancerBuilder("mycluster"), exec, nil))
	require.NoError(t, c.EnableContext("/app", "a", []string{"[::1]:8080"}))
	require.NoError(t, c.UpdateLoad("a", 50))

	target := c.FindTarget(appRequest(t, "[::1]:8080", "/app"))
	assert.NotNil(t, target)
}

func TestFindTargetStickyCookie(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	registerWorker(t, c, exec, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", load: 50})
	registerWorker(t, c, exec, workerSpec{jvmRoute: "B", uri: "http://10.0.0.2:8080", load: 50})

	target := c.FindTarget(appRequest(t, "localhost", "/app", &http.Cookie{Name: "JSESSIONID", Value: "abcd.B"}))
	session, ok := target.(*ExistingSessionTarget)
	require.True(t, ok)
	assert.Equal(t, "B", session.JVMRoute())

	context := session.ResolveNode()
	require.NotNil(t, context)
	assert.Equal(t, "B", context.Node().JVMRoute())
}

func TestFindTargetStickyPathParameter(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	registerWorker(t, c, exec, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", load: 50})
	registerWorker(t, c, exec, workerSpec{jvmRoute: "B", uri: "http://10.0.0.2:8080", load: 50})

	target := c.FindTarget(appRequest(t, "localhost", "/app;jsessionid=abcd.B/shop"))
	session, ok := target.(*ExistingSessionTarget)
	require.True(t, ok)
	assert.Equal(t, "B", session.JVMRoute())
}

func TestFindTargetWithoutRouteIsBasic(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	registerWorker(t, c, exec, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", load: 50})

	target := c.FindTarget(appRequest(t, "localhost", "/app", &http.Cookie{Name: "JSESSIONID", Value: "no-route"}))
	_, ok := target.(*BasicTarget)
	assert.True(t, ok)
}

func TestWeightedElectionSplitsEvenly(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	a := registerWorker(t, c, exec, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", load: 100})
	b := registerWorker(t, c, exec, workerSpec{jvmRoute: "B", uri: "http://10.0.0.2:8080", load: 100})

	for i := 0; i < 10; i++ {
		target := c.FindTarget(appRequest(t, "localhost", "/app"))
		require.NotNil(t, target)
		require.NotNil(t, target.ResolveNode())
	}

	// Each election lowers the winner's load status below the loser's, so
	// the ten requests split evenly
	assert.Equal(t, int64(5), a.ElectedCount())
	assert.Equal(t, int64(5), b.ElectedCount())
}

func TestForceStickySessionFailsRatherThanMigrates(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	builder := domain.NewBalancerBuilder("mycluster")
	builder.StickySessionForce = true

	registerWorker(t, c, exec, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", domain: "d2", load: 50, builder: builder})
	registerWorker(t, c, exec, workerSpec{jvmRoute: "B", uri: "http://10.0.0.2:8080", domain: "d1", load: 50, builder: builder})
	require.NotNil(t, c.RemoveNode("B"))

	target := c.FindTarget(appRequest(t, "localhost", "/app", &http.Cookie{Name: "JSESSIONID", Value: "abcd.B"}))
	session, ok := target.(*ExistingSessionTarget)
	require.True(t, ok)

	// B's domain is known from the failover cache but holds no candidate,
	// and forced stickiness forbids migrating to A
	assert.Nil(t, session.ResolveNode())
}

func TestFailoverStaysInDomain(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	registerWorker(t, c, exec, workerSpec{jvmRoute: "B", uri: "http://10.0.0.2:8080", domain: "d1", load: 50})
	registerWorker(t, c, exec, workerSpec{jvmRoute: "C", uri: "http://10.0.0.3:8080", domain: "d1", load: 50})
	registerWorker(t, c, exec, workerSpec{jvmRoute: "D", uri: "http://10.0.0.4:8080", domain: "d2", load: 50})
	require.NotNil(t, c.RemoveNode("B"))

	target := c.FindTarget(appRequest(t, "localhost", "/app", &http.Cookie{Name: "JSESSIONID", Value: "abcd.B"}))
	session, ok := target.(*ExistingSessionTarget)
	require.True(t, ok)

	context := session.ResolveNode()
	require.NotNil(t, context)
	assert.Equal(t, "C", context.Node().JVMRoute())
}

func TestFailoverWithoutDomainMigratesFreely(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	registerWorker(t, c, exec, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", load: 50})
	registerWorker(t, c, exec, workerSpec{jvmRoute: "B", uri: "http://10.0.0.2:8080", load: 50})
	require.NotNil(t, c.RemoveNode("B"))

	target := c.FindTarget(appRequest(t, "localhost", "/app", &http.Cookie{Name: "JSESSIONID", Value: "abcd.B"}))
	session, ok := target.(*ExistingSessionTarget)
	require.True(t, ok)

	context := session.ResolveNode()
	require.NotNil(t, context)
	assert.Equal(t, "A", context.Node().JVMRoute())
}

func TestHotStandbyPrecedence(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	a := registerWorker(t, c, exec, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", load: 50})
	standby := registerWorker(t, c, exec, workerSpec{jvmRoute: "H", uri: "http://10.0.0.2:8080", hotStandby: true, load: 50})

	a.MarkInError()
	target := c.FindTarget(appRequest(t, "localhost", "/app"))
	require.NotNil(t, target)
	context := target.ResolveNode()
	require.NotNil(t, context)
	assert.Equal(t, "H", context.Node().JVMRoute())
	assert.Equal(t, int64(1), standby.ElectedCount())

	// Once A recovers it beats the standby again
	a.HealthCheckSucceeded()
	target = c.FindTarget(appRequest(t, "localhost", "/app"))
	require.NotNil(t, target)
	context = target.ResolveNode()
	require.NotNil(t, context)
	assert.Equal(t, "A", context.Node().JVMRoute())
}

func TestAddNodeIdempotentReRegistration(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	node := registerWorker(t, c, exec, workerSpec{jvmRoute: "X", uri: "http://10.0.0.1:8080", load: 50})
	node.MarkInError()
	node.Elected()

	require.NoError(t, c.AddNode(nodeConfig(t, "X", "http://10.0.0.1:8080", "", false), domain.NewBalancerBuilder("mycluster"), exec, nil))

	// The same instance survives with its state reset
	assert.Same(t, node, c.Node("X"))
	assert.Equal(t, domain.NodeStatusOK, node.Status())
	assert.Equal(t, int64(0), node.ElectedCount())
}

func TestAddNodeConflictKeepsHealthyNode(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	original := registerWorker(t, c, exec, workerSpec{jvmRoute: "X", uri: "http://10.0.0.1:8080", load: 50})

	err := c.AddNode(nodeConfig(t, "X", "http://10.0.0.9:8080", "", false), domain.NewBalancerBuilder("mycluster"), exec, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNodeConflict, errors.GetErrorCode(err))

	// The healthy node keeps its slot
	assert.Same(t, original, c.Node("X"))
	assert.Equal(t, "http://10.0.0.1:8080", c.Node("X").Config().ConnectionURI.String())

	// Only once the old node is broken may the new one take over
	original.MarkInError()
	require.NoError(t, c.AddNode(nodeConfig(t, "X", "http://10.0.0.9:8080", "", false), domain.NewBalancerBuilder("mycluster"), exec, nil))
	assert.Equal(t, "http://10.0.0.9:8080", c.Node("X").Config().ConnectionURI.String())
	assert.Equal(t, domain.NodeStatusRemoved, original.Status())
}

func TestRemoveNodePopulatesFailoverCache(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	registerWorker(t, c, exec, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", domain: "d1", load: 50})
	registerWorker(t, c, exec, workerSpec{jvmRoute: "B", uri: "http://10.0.0.2:8080", load: 50})

	c.RemoveNode("A")
	domainName, ok := c.failoverDomains.Get("A")
	assert.True(t, ok)
	assert.Equal(t, "d1", domainName)

	// Nodes without a domain leave no hint
	c.RemoveNode("B")
	_, ok = c.failoverDomains.Get("B")
	assert.False(t, ok)
}

func TestAddNodeClearsFailoverCacheEntry(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	registerWorker(t, c, exec, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", domain: "d1", load: 50})
	c.RemoveNode("A")
	_, ok := c.failoverDomains.Get("A")
	require.True(t, ok)

	registerWorker(t, c, exec, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", domain: "d1", load: 50})
	_, ok = c.failoverDomains.Get("A")
	assert.False(t, ok)
}

func TestBalancerLifecycle(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	registerWorker(t, c, exec, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", load: 50})
	registerWorker(t, c, exec, workerSpec{jvmRoute: "B", uri: "http://10.0.0.2:8080", load: 50})

	require.NotNil(t, c.Balancer("mycluster"))

	c.RemoveNode("A")
	// B still references the balancer
	assert.NotNil(t, c.Balancer("mycluster"))

	c.RemoveNode("B")
	assert.Nil(t, c.Balancer("mycluster"))
}

func TestUpdateLoadTaskLifecycle(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}

	registerWorker(t, c, exec, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", load: 50})
	// First registration schedules the health task and the load-reset task
	require.Len(t, exec.intervals, 2)
	loadReset := exec.intervals[1]

	node := c.Node("A")
	node.Elected()
	loadReset.task()
	assert.Equal(t, int64(0), node.ElectedDiff())

	// The empty-check always runs, so removing the last node cancels the
	// load-reset task
	c.RemoveNode("A")
	assert.True(t, loadReset.cancelled)
	assert.Nil(t, c.updateLoadCancel)
}

func TestHealthCheckTaskPerIOThread(t *testing.T) {
	c := newTestContainer(t, nil)
	first := &stubExecutor{name: "io-0"}
	second := &stubExecutor{name: "io-1"}

	a := registerWorker(t, c, first, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", load: 50})
	b := registerWorker(t, c, first, workerSpec{jvmRoute: "B", uri: "http://10.0.0.2:8080", load: 50})
	d := registerWorker(t, c, second, workerSpec{jvmRoute: "D", uri: "http://10.0.0.3:8080", load: 50})

	// One task per thread, each owning exactly its pinned nodes
	require.Len(t, c.healthChecks, 2)
	assert.ElementsMatch(t, []*domain.Node{a, b}, c.healthChecks[first].snapshot())
	assert.ElementsMatch(t, []*domain.Node{d}, c.healthChecks[second].snapshot())

	// Draining a task's node list cancels and removes it
	healthKey := second.intervals[0]
	c.RemoveNode("D")
	require.Len(t, c.healthChecks, 1)
	assert.True(t, healthKey.cancelled)

	c.RemoveNode("A")
	assert.ElementsMatch(t, []*domain.Node{b}, c.healthChecks[first].snapshot())
}

func TestEnableContextBuildsVirtualHosts(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	require.NoError(t, c.AddNode(nodeConfig(t, "A", "http://10.0.0.1:8080", "", false), domain.NewBalancerBuilder("mycluster"), exec, nil))
	require.NoError(t, c.EnableContext("/app", "A", []string{"Example.COM", "localhost"}))

	// Aliases are normalized to lower case
	require.NotNil(t, c.Host("example.com"))
	require.NotNil(t, c.Host("localhost"))

	node := c.Node("A")
	context := node.Context("/app")
	require.NotNil(t, context)
	assert.Equal(t, domain.ContextEnabled, context.Status())

	// Every alias on the host entry appears in the context's alias list
	for _, alias := range []string{"example.com", "localhost"} {
		entry := c.Host(alias).Match("/app")
		require.NotNil(t, entry)
		assert.Contains(t, entry.Contexts(), context)
		assert.Contains(t, context.VirtualHosts(), alias)
	}

	// Enabling again is idempotent
	require.NoError(t, c.EnableContext("/app", "A", []string{"example.com"}))
	assert.Len(t, node.Contexts(), 1)
}

func TestRemoveContextPrunesEmptyHosts(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	registerWorker(t, c, exec, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", load: 50})
	registerWorker(t, c, exec, workerSpec{jvmRoute: "B", uri: "http://10.0.0.2:8080", load: 50})

	require.NoError(t, c.RemoveContext("/app", "A", nil))
	entry := c.Host("localhost").Match("/app")
	require.NotNil(t, entry)
	assert.Len(t, entry.Contexts(), 1)

	require.NoError(t, c.RemoveContext("/app", "B", nil))
	assert.Nil(t, c.Host("localhost"))
}

func TestRemoveNodeRemovesItsContexts(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	registerWorker(t, c, exec, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", load: 50})

	removed := c.RemoveNode("A")
	require.NotNil(t, removed)
	assert.Equal(t, domain.NodeStatusRemoved, removed.Status())
	assert.Nil(t, c.Host("localhost"))
	assert.Nil(t, c.Node("A"))
}

func TestNodeWideContextCommands(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	registerWorker(t, c, exec, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", load: 50})
	require.NoError(t, c.EnableContext("/shop", "A", []string{"localhost"}))

	require.NoError(t, c.DisableNode("A"))
	for _, context := range c.Node("A").Contexts() {
		assert.Equal(t, domain.ContextDisabled, context.Status())
	}

	require.NoError(t, c.EnableNode("A"))
	for _, context := range c.Node("A").Contexts() {
		assert.Equal(t, domain.ContextEnabled, context.Status())
	}

	require.NoError(t, c.StopNode("A"))
	for _, context := range c.Node("A").Contexts() {
		assert.Equal(t, domain.ContextStopped, context.Status())
	}

	err := c.EnableNode("missing")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNodeUnknown, errors.GetErrorCode(err))
}

func TestStopContextReportsPendingRequests(t *testing.T) {
	c := newTestContainer(t, nil)
	exec := &stubExecutor{name: "io-0"}
	registerWorker(t, c, exec, workerSpec{jvmRoute: "A", uri: "http://10.0.0.1:8080", load: 50})

	context := c.Node("A").Context("/app")
	context.BeginRequest()
	context.BeginRequest()

	requests, err := c.StopContext("/app", "A", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), requests)

	_, err = c.StopContext("/missing", "A", nil)
	assert.Equal(t, errors.ErrCodeContextNotFound, errors.GetErrorCode(err))

	_, err = c.StopContext("/app", "missing", nil)
	assert.Equal(t, errors.ErrCodeNodeUnknown, errors.GetErrorCode(err))
}
