package container

import "github.com/mir00r/cluster-proxy/internal/domain"

// ProxyTarget is the deferred resolution of a routed request. FindTarget
// only classifies the request; the forwarder calls ResolveNode when it is
// ready to open the upstream connection, so election happens as late as
// possible against the freshest topology.
type ProxyTarget interface {
	// ResolveNode elects the context to proxy to, or nil when no node is
	// available
	ResolveNode() *domain.Context
}

// BasicTarget routes a request with no session affinity
type BasicTarget struct {
	entry     *domain.HostEntry
	container *Container
}

// Entry returns the matched host entry
func (t *BasicTarget) Entry() *domain.HostEntry {
	return t.entry
}

// ResolveNode runs an unrestricted election over the entry's contexts
func (t *BasicTarget) ResolveNode() *domain.Context {
	return t.container.findNewNode(t.entry)
}

// ExistingSessionTarget routes a request carrying a sticky-session route
type ExistingSessionTarget struct {
	jvmRoute    string
	entry       *domain.HostEntry
	container   *Container
	forceSticky bool
}

// JVMRoute returns the route extracted from the session identifier
func (t *ExistingSessionTarget) JVMRoute() string {
	return t.jvmRoute
}

// Entry returns the matched host entry
func (t *ExistingSessionTarget) Entry() *domain.HostEntry {
	return t.entry
}

// ForceSticky reports whether failover away from the sticky node is
// forbidden
func (t *ExistingSessionTarget) ForceSticky() bool {
	return t.forceSticky
}

// ResolveNode prefers the sticky node's own context; when that is
// unreachable it falls back to domain-aware failover. With sticky sessions
// forced and no in-domain candidate, the request fails rather than
// migrates.
func (t *ExistingSessionTarget) ResolveNode() *domain.Context {
	if context := t.entry.ContextForNode(t.jvmRoute); context != nil && context.CheckAvailable(true) {
		return context
	}
	return t.container.findFailoverNode(t.entry, "", t.jvmRoute, t.forceSticky)
}
