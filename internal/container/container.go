// Package container owns the live cluster topology: nodes, balancers,
// virtual hosts and their health-check schedule. Request routing reads
// copy-on-write snapshots and never contends with the serialized mutation
// API driven by management commands.
package container

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mir00r/cluster-proxy/internal/cache"
	"github.com/mir00r/cluster-proxy/internal/domain"
	"github.com/mir00r/cluster-proxy/internal/errors"
	"github.com/mir00r/cluster-proxy/pkg/logger"
)

const defaultHealthCheckInterval = 10 * time.Second

// Options configures a Container
type Options struct {
	// HealthChecker probes node health; nil disables probing
	HealthChecker domain.HealthChecker
	// HealthCheckInterval is the probe and load-reset period
	HealthCheckInterval time.Duration
	// RemoveBrokenNodes is the window after which a continuously failing
	// node is removed; zero or negative disables removal
	RemoveBrokenNodes time.Duration
	// FailoverDomainCacheSize bounds the removed-route domain cache
	FailoverDomainCacheSize int
	// FailoverDomainCacheTTL expires removed-route domain entries
	FailoverDomainCacheTTL time.Duration
}

// Container is the routing entry point and the owner of all topology state
type Container struct {
	mu sync.Mutex // serializes every topology mutation

	nodes     *cowMap[string, *domain.Node]
	balancers *cowMap[string, *domain.Balancer]
	hosts     *cowMap[string, *domain.VirtualHost]

	healthChecks    map[domain.Executor]*healthCheckTask
	failoverDomains *cache.FailoverDomainCache

	healthChecker              domain.HealthChecker
	healthCheckInterval        time.Duration
	removeBrokenNodesThreshold int64

	updateLoadCancel domain.CancelKey

	log *logger.Logger
}

// New creates an empty container
func New(opts Options, log *logger.Logger) *Container {
	interval := opts.HealthCheckInterval
	if interval <= 0 {
		interval = defaultHealthCheckInterval
	}
	return &Container{
		nodes:                      newCowMap[string, *domain.Node](),
		balancers:                  newCowMap[string, *domain.Balancer](),
		hosts:                      newCowMap[string, *domain.VirtualHost](),
		healthChecks:               map[domain.Executor]*healthCheckTask{},
		failoverDomains:            cache.NewFailoverDomainCache(opts.FailoverDomainCacheSize, opts.FailoverDomainCacheTTL),
		healthChecker:              opts.HealthChecker,
		healthCheckInterval:        interval,
		removeBrokenNodesThreshold: removeThreshold(interval, opts.RemoveBrokenNodes),
		log:                        log.ContainerLogger(),
	}
}

// Node returns the live node registered for the jvmRoute, or nil
func (c *Container) Node(jvmRoute string) *domain.Node {
	node, _ := c.nodes.get(jvmRoute)
	return node
}

// Nodes returns a snapshot of all live nodes
func (c *Container) Nodes() []*domain.Node {
	snapshot := c.nodes.snapshot()
	nodes := make([]*domain.Node, 0, len(snapshot))
	for _, node := range snapshot {
		nodes = append(nodes, node)
	}
	return nodes
}

// Balancer returns the installed balancer with the given name, or nil
func (c *Container) Balancer(name string) *domain.Balancer {
	balancer, _ := c.balancers.get(name)
	return balancer
}

// Balancers returns a snapshot of all installed balancers
func (c *Container) Balancers() []*domain.Balancer {
	snapshot := c.balancers.snapshot()
	balancers := make([]*domain.Balancer, 0, len(snapshot))
	for _, balancer := range snapshot {
		balancers = append(balancers, balancer)
	}
	return balancers
}

// Host returns the virtual host registered for the alias, or nil
func (c *Container) Host(alias string) *domain.VirtualHost {
	host, _ := c.hosts.get(strings.ToLower(alias))
	return host
}

// HostAliases returns the registered virtual-host aliases
func (c *Container) HostAliases() []string {
	snapshot := c.hosts.snapshot()
	aliases := make([]string, 0, len(snapshot))
	for alias := range snapshot {
		aliases = append(aliases, alias)
	}
	return aliases
}

// FindTarget maps a request to a proxy target. It resolves the virtual host
// from the Host header, matches the request path, and classifies the
// request as session-affine or fresh. A nil return means no target.
func (c *Container) FindTarget(r *http.Request) ProxyTarget {
	entry := c.mapVirtualHost(r)
	if entry == nil {
		return nil
	}
	for _, balancer := range c.balancers.snapshot() {
		if !balancer.StickySession {
			continue
		}
		if cookie, err := r.Cookie(balancer.StickySessionCookie); err == nil {
			if route := domain.RouteFromSessionID(cookie.Value); route != "" {
				return &ExistingSessionTarget{jvmRoute: route, entry: entry, container: c, forceSticky: balancer.StickySessionForce}
			}
		}
		if id := domain.PathParameter(r.URL.Path, balancer.StickySessionPath); id != "" {
			if route := domain.RouteFromSessionID(id); route != "" {
				return &ExistingSessionTarget{jvmRoute: route, entry: entry, container: c, forceSticky: balancer.StickySessionForce}
			}
		}
	}
	return &BasicTarget{entry: entry, container: c}
}

// mapVirtualHost resolves the request's Host header to a host entry. The
// alias lookup strips the port first and falls back to the unstripped value,
// which keeps bracketed IPv6 literals resolvable.
func (c *Container) mapVirtualHost(r *http.Request) *domain.HostEntry {
	hostName := r.Host
	if hostName == "" {
		return nil
	}
	hostName = strings.ToLower(hostName)
	var host *domain.VirtualHost
	if i := strings.Index(hostName, ":"); i > 0 {
		if h, ok := c.hosts.get(hostName[:i]); ok {
			host = h
		} else if h, ok := c.hosts.get(hostName); ok {
			host = h
		}
	} else if h, ok := c.hosts.get(hostName); ok {
		host = h
	}
	if host == nil {
		return nil
	}
	path := r.URL.Path
	if i := strings.IndexByte(path, ';'); i != -1 {
		path = path[:i]
	}
	return host.Match(path)
}

// AddNode registers a worker. Re-registration with the same connection URI
// resets the existing node's state. A different URI under a live jvmRoute is
// a conflict while the old node is healthy; only a node already in ERROR is
// swapped out.
func (c *Container) AddNode(config *domain.NodeConfig, builder *domain.BalancerBuilder, ioThread domain.Executor, buffers domain.BufferPool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	jvmRoute := config.JVMRoute
	if existing, ok := c.nodes.get(jvmRoute); ok {
		if sameURI(existing.Config().ConnectionURI, config.ConnectionURI) {
			existing.ResetState()
			return nil
		}
		if !existing.IsInErrorState() {
			// Replies with the MNODERM error type
			return errors.NewNodeConflictError(jvmRoute)
		}
		existing.MarkRemoved()
		c.removeNodeLocked(existing, false)
	}

	if builder == nil {
		builder = domain.NewBalancerBuilder(config.Balancer)
	}
	balancer, ok := c.balancers.get(config.Balancer)
	if !ok {
		balancer = builder.Build()
		c.balancers.put(config.Balancer, balancer)
	}
	node := domain.NewNode(config, balancer, ioThread, buffers)
	c.nodes.put(jvmRoute, node)
	c.scheduleHealthCheckLocked(node, ioThread)
	if c.updateLoadCancel == nil {
		c.updateLoadCancel = ioThread.ExecuteAtInterval(c.updateLoads, c.healthCheckInterval)
	}
	// The worker returned, its failover hint is stale
	c.failoverDomains.Remove(jvmRoute)
	c.log.Infof("registering node %s, connection: %s", jvmRoute, config.ConnectionURI)
	return nil
}

func sameURI(a, b *url.URL) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

// RemoveNode unregisters the node for the jvmRoute and returns it
func (c *Container) RemoveNode(jvmRoute string) *domain.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.nodes.get(jvmRoute)
	if ok {
		c.removeNodeLocked(node, false)
	}
	return node
}

// removeBrokenNode removes a node whose error budget ran out. Invoked from
// health-check ticks.
func (c *Container) removeBrokenNode(node *domain.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeNodeLocked(node, true)
}

func (c *Container) removeNodeLocked(node *domain.Node, onlyInError bool) {
	if onlyInError && !node.IsInErrorState() {
		return
	}
	jvmRoute := node.JVMRoute()
	node.MarkRemoved()
	if c.nodes.compareAndDelete(jvmRoute, node) {
		c.log.Infof("removing node %s", jvmRoute)
		c.removeHealthCheckLocked(node, node.IOThread())
		for _, context := range node.Contexts() {
			c.removeContextLocked(context.Path(), node)
		}
		if domainName := node.Config().Domain; domainName != "" {
			c.failoverDomains.Add(jvmRoute, domainName)
		}
		balancerName := node.Balancer().Name
		referenced := false
		for _, other := range c.nodes.snapshot() {
			if other.Balancer().Name == balancerName {
				referenced = true
				break
			}
		}
		if !referenced {
			c.balancers.delete(balancerName)
		}
	}
	if c.nodes.len() == 0 && c.updateLoadCancel != nil {
		c.updateLoadCancel.Cancel()
		c.updateLoadCancel = nil
	}
}

// EnableNode enables every context on the node
func (c *Container) EnableNode(jvmRoute string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.nodes.get(jvmRoute)
	if !ok {
		return errors.NewNodeUnknownError(jvmRoute)
	}
	for _, context := range node.Contexts() {
		context.Enable()
	}
	return nil
}

// DisableNode disables every context on the node
func (c *Container) DisableNode(jvmRoute string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.nodes.get(jvmRoute)
	if !ok {
		return errors.NewNodeUnknownError(jvmRoute)
	}
	for _, context := range node.Contexts() {
		context.Disable()
	}
	return nil
}

// StopNode stops every context on the node
func (c *Container) StopNode(jvmRoute string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.nodes.get(jvmRoute)
	if !ok {
		return errors.NewNodeUnknownError(jvmRoute)
	}
	for _, context := range node.Contexts() {
		context.Stop()
	}
	return nil
}

// UpdateLoad applies a STATUS report to the node's load factor
func (c *Container) UpdateLoad(jvmRoute string, load int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.nodes.get(jvmRoute)
	if !ok {
		return errors.NewNodeUnknownError(jvmRoute)
	}
	node.UpdateLoad(load)
	return nil
}

// EnableContext registers the context if absent and enables it
func (c *Container) EnableContext(contextPath, jvmRoute string, aliases []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.nodes.get(jvmRoute)
	if !ok {
		return errors.NewNodeUnknownError(jvmRoute)
	}
	context := node.Context(contextPath)
	if context == nil {
		normalized := normalizeAliases(aliases)
		context = node.RegisterContext(contextPath, normalized)
		c.log.Infof("registering context %s, for node %s, with aliases %v", contextPath, jvmRoute, normalized)
		for _, alias := range normalized {
			host, ok := c.hosts.get(alias)
			if !ok {
				host = domain.NewVirtualHost()
				c.hosts.put(alias, host)
			}
			host.RegisterContext(contextPath, context)
		}
	}
	context.Enable()
	return nil
}

// DisableContext takes the context out of rotation
func (c *Container) DisableContext(contextPath, jvmRoute string, aliases []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.nodes.get(jvmRoute)
	if !ok {
		return errors.NewNodeUnknownError(jvmRoute)
	}
	if context := node.Context(contextPath); context != nil {
		context.Disable()
	}
	return nil
}

// StopContext drains the context and returns the number of in-flight
// requests, or -1 with an error when the node or context is unknown
func (c *Container) StopContext(contextPath, jvmRoute string, aliases []string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.nodes.get(jvmRoute)
	if !ok {
		return -1, errors.NewNodeUnknownError(jvmRoute)
	}
	context := node.Context(contextPath)
	if context == nil {
		return -1, errors.NewContextNotFoundError(jvmRoute, contextPath)
	}
	return context.Stop(), nil
}

// RemoveContext withdraws the context from its node and every virtual-host
// alias, pruning emptied hosts
func (c *Container) RemoveContext(contextPath, jvmRoute string, aliases []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.nodes.get(jvmRoute)
	if !ok {
		return errors.NewNodeUnknownError(jvmRoute)
	}
	if !c.removeContextLocked(contextPath, node) {
		return errors.NewContextNotFoundError(jvmRoute, contextPath)
	}
	return nil
}

func (c *Container) removeContextLocked(contextPath string, node *domain.Node) bool {
	context := node.RemoveContext(contextPath)
	if context == nil {
		return false
	}
	c.log.Infof("unregistering context '%s' from node '%s'", contextPath, node.JVMRoute())
	context.Stop()
	context.MarkRemoved()
	for _, alias := range context.VirtualHosts() {
		if host, ok := c.hosts.get(alias); ok {
			host.RemoveContext(contextPath, context)
			if host.IsEmpty() {
				c.hosts.delete(alias)
			}
		}
	}
	return true
}

// findNewNode elects a context for a request with no session affinity
func (c *Container) findNewNode(entry *domain.HostEntry) *domain.Context {
	return electNode(entry.Contexts(), false, "")
}

// findFailoverNode elects a context for an orphaned sticky session. The
// failover domain is resolved from the argument, the live node, then the
// removed-route cache; with a known domain the election is restricted to
// it. Without an in-domain candidate, forced stickiness fails the request
// rather than migrating the session.
func (c *Container) findFailoverNode(entry *domain.HostEntry, domainName, jvmRoute string, forceStickySession bool) *domain.Context {
	failoverDomain := domainName
	if failoverDomain == "" {
		if node, ok := c.nodes.get(jvmRoute); ok {
			failoverDomain = node.Config().Domain
		}
		if failoverDomain == "" {
			failoverDomain, _ = c.failoverDomains.Get(jvmRoute)
		}
	}
	contexts := entry.Contexts()
	if failoverDomain != "" {
		if context := electNode(contexts, true, failoverDomain); context != nil {
			return context
		}
	}
	if forceStickySession {
		return nil
	}
	return electNode(contexts, false, "")
}

func (c *Container) scheduleHealthCheckLocked(node *domain.Node, ioThread domain.Executor) {
	task, ok := c.healthChecks[ioThread]
	if !ok {
		task = newHealthCheckTask(c, c.removeBrokenNodesThreshold, c.healthChecker)
		c.healthChecks[ioThread] = task
		task.cancelKey = ioThread.ExecuteAtInterval(task.run, c.healthCheckInterval)
	}
	task.addNode(node)
}

func (c *Container) removeHealthCheckLocked(node *domain.Node, ioThread domain.Executor) {
	task, ok := c.healthChecks[ioThread]
	if !ok {
		return
	}
	if task.removeNode(node) == 0 {
		delete(c.healthChecks, ioThread)
		task.cancelKey.Cancel()
	}
}

func normalizeAliases(aliases []string) []string {
	normalized := make([]string, 0, len(aliases))
	for _, alias := range aliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		if alias != "" {
			normalized = append(normalized, alias)
		}
	}
	return normalized
}
