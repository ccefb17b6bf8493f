package domain

import (
	"sync"
	"sync/atomic"
)

// Node represents one backend worker. Configuration is immutable; runtime
// state (status, counters, load factor) is kept in atomic fields because the
// election path reads them lock-free while health probes write them from the
// node's pinned I/O thread.
type Node struct {
	config   *NodeConfig
	balancer *Balancer
	ioThread Executor
	buffers  BufferPool

	status     int32 // NodeStatus
	ioErrors   int64 // error budget consumed by failed probes
	elected    int64
	oldElected int64 // snapshot of elected at the last load reset
	loadFactor int32 // 1..100, -1 disabled, set via STATUS

	mu       sync.Mutex
	contexts []*Context
}

// NewNode creates a node in the OK state. The load factor starts at -1 and
// the node becomes electable for new sessions only once a STATUS command
// reports a positive load.
func NewNode(config *NodeConfig, balancer *Balancer, ioThread Executor, buffers BufferPool) *Node {
	return &Node{
		config:     config,
		balancer:   balancer,
		ioThread:   ioThread,
		buffers:    buffers,
		status:     int32(NodeStatusOK),
		loadFactor: -1,
	}
}

// JVMRoute returns the node's unique route identifier
func (n *Node) JVMRoute() string {
	return n.config.JVMRoute
}

// Config returns the node's registration configuration
func (n *Node) Config() *NodeConfig {
	return n.config
}

// Balancer returns the balancer this node belongs to
func (n *Node) Balancer() *Balancer {
	return n.balancer
}

// IOThread returns the executor this node is pinned to
func (n *Node) IOThread() Executor {
	return n.ioThread
}

// BufferPool returns the buffer pool handle assigned at registration
func (n *Node) BufferPool() BufferPool {
	return n.buffers
}

// Status returns the current health state
func (n *Node) Status() NodeStatus {
	return NodeStatus(atomic.LoadInt32(&n.status))
}

// IsInErrorState returns true if the node is currently in ERROR
func (n *Node) IsInErrorState() bool {
	return n.Status() == NodeStatusError
}

// IsHotStandby returns true if the node only serves when no active node is
// available
func (n *Node) IsHotStandby() bool {
	return n.config.HotStandby
}

// LoadFactor returns the operator-supplied capacity hint
func (n *Node) LoadFactor() int {
	return int(atomic.LoadInt32(&n.loadFactor))
}

// UpdateLoad sets the load factor reported by a STATUS command
func (n *Node) UpdateLoad(load int) {
	atomic.StoreInt32(&n.loadFactor, int32(load))
}

// Elected records an election win
func (n *Node) Elected() {
	atomic.AddInt64(&n.elected, 1)
}

// ElectedCount returns the monotonic election counter
func (n *Node) ElectedCount() int64 {
	return atomic.LoadInt64(&n.elected)
}

// ElectedDiff returns the elections won since the last load reset
func (n *Node) ElectedDiff() int64 {
	return atomic.LoadInt64(&n.elected) - atomic.LoadInt64(&n.oldElected)
}

// ResetLbStatus snapshots the election counter. Invoked periodically so that
// stale election history decays instead of accumulating forever.
func (n *Node) ResetLbStatus() {
	atomic.StoreInt64(&n.oldElected, atomic.LoadInt64(&n.elected))
}

// LoadStatus computes the node's remaining capacity for the current election
// window. Higher means more deserving of the next request.
func (n *Node) LoadStatus() int {
	lf := n.LoadFactor()
	if lf <= 0 {
		return 0
	}
	status := lf - int(n.ElectedDiff())*100/lf
	if status < 0 {
		return 0
	}
	return status
}

// ResetState clears error state and election history. Used when a node
// re-registers with the same connection URI.
func (n *Node) ResetState() {
	atomic.StoreInt32(&n.status, int32(NodeStatusOK))
	atomic.StoreInt64(&n.ioErrors, 0)
	atomic.StoreInt64(&n.elected, 0)
	atomic.StoreInt64(&n.oldElected, 0)
}

// MarkRemoved transitions the node to the terminal REMOVED state
func (n *Node) MarkRemoved() {
	atomic.StoreInt32(&n.status, int32(NodeStatusRemoved))
}

// MarkInError forces the node into the ERROR state unless it was removed
func (n *Node) MarkInError() {
	atomic.CompareAndSwapInt32(&n.status, int32(NodeStatusOK), int32(NodeStatusError))
}

// IOErrorCount returns the consumed error budget
func (n *Node) IOErrorCount() int64 {
	return atomic.LoadInt64(&n.ioErrors)
}

// HealthCheckFailed records a failed probe: the node transitions to ERROR
// and the error budget grows. Returns the new budget so the caller can
// compare it against the broken-node threshold.
func (n *Node) HealthCheckFailed() int64 {
	for {
		s := atomic.LoadInt32(&n.status)
		if s == int32(NodeStatusRemoved) || s == int32(NodeStatusError) {
			break
		}
		if atomic.CompareAndSwapInt32(&n.status, s, int32(NodeStatusError)) {
			break
		}
	}
	return atomic.AddInt64(&n.ioErrors, 1)
}

// HealthCheckSucceeded records a successful probe. The error budget resets
// and a node in ERROR recovers to OK. Removed nodes stay removed.
func (n *Node) HealthCheckSucceeded() {
	atomic.StoreInt64(&n.ioErrors, 0)
	atomic.CompareAndSwapInt32(&n.status, int32(NodeStatusError), int32(NodeStatusOK))
}

// RegisterContext creates a context for the given path in the DISABLED
// state. Paths are unique per node; an existing registration is returned
// unchanged. Callers serialize through the container mutation lock.
func (n *Node) RegisterContext(path string, aliases []string) *Context {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.contexts {
		if c.path == path {
			return c
		}
	}
	c := &Context{
		node:         n,
		path:         path,
		virtualHosts: append([]string(nil), aliases...),
		status:       int32(ContextDisabled),
	}
	n.contexts = append(n.contexts, c)
	return c
}

// Context returns the context registered for the path, or nil
func (n *Node) Context(path string) *Context {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.contexts {
		if c.path == path {
			return c
		}
	}
	return nil
}

// RemoveContext withdraws and returns the context registered for the path
func (n *Node) RemoveContext(path string) *Context {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, c := range n.contexts {
		if c.path == path {
			n.contexts = append(n.contexts[:i], n.contexts[i+1:]...)
			return c
		}
	}
	return nil
}

// Contexts returns a snapshot of the node's registered contexts
func (n *Node) Contexts() []*Context {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Context(nil), n.contexts...)
}
