package domain

import "sync/atomic"

// Context is a single deployed application path on one node, registered
// against one or more virtual-host aliases. The back-reference to the node
// is non-owning; the node owns its contexts.
type Context struct {
	node         *Node
	path         string
	virtualHosts []string

	status         int32 // ContextStatus
	activeRequests int64
}

// Node returns the owning node
func (c *Context) Node() *Node {
	return c.node
}

// Path returns the context path
func (c *Context) Path() string {
	return c.path
}

// VirtualHosts returns the aliases this context is registered under
func (c *Context) VirtualHosts() []string {
	return c.virtualHosts
}

// Status returns the current lifecycle state
func (c *Context) Status() ContextStatus {
	return ContextStatus(atomic.LoadInt32(&c.status))
}

// Enable makes the context eligible for new and existing sessions
func (c *Context) Enable() {
	c.transition(ContextEnabled)
}

// Disable takes the context out of rotation entirely
func (c *Context) Disable() {
	c.transition(ContextDisabled)
}

// Stop puts the context into drain mode: existing sessions are still
// honored, new sessions are not. Returns the number of in-flight requests.
func (c *Context) Stop() int64 {
	c.transition(ContextStopped)
	return c.ActiveRequests()
}

// MarkRemoved transitions the context to the terminal REMOVED state
func (c *Context) MarkRemoved() {
	atomic.StoreInt32(&c.status, int32(ContextRemoved))
}

// transition moves to the target state unless the context was removed
func (c *Context) transition(target ContextStatus) {
	for {
		s := atomic.LoadInt32(&c.status)
		if s == int32(ContextRemoved) || s == int32(target) {
			return
		}
		if atomic.CompareAndSwapInt32(&c.status, s, int32(target)) {
			return
		}
	}
}

// ActiveRequests returns the number of requests currently proxied through
// this context
func (c *Context) ActiveRequests() int64 {
	return atomic.LoadInt64(&c.activeRequests)
}

// BeginRequest records an in-flight request
func (c *Context) BeginRequest() {
	atomic.AddInt64(&c.activeRequests, 1)
}

// EndRequest records a completed request
func (c *Context) EndRequest() {
	atomic.AddInt64(&c.activeRequests, -1)
}

// CheckAvailable reports whether the context can serve a request. Stopped
// contexts still serve existing sessions until drained; nodes without a
// positive load factor never take new sessions.
func (c *Context) CheckAvailable(existingSession bool) bool {
	if c.node.Status() != NodeStatusOK {
		return false
	}
	switch c.Status() {
	case ContextEnabled:
	case ContextStopped:
		if !existingSession {
			return false
		}
	default:
		return false
	}
	if !existingSession && c.node.LoadFactor() <= 0 {
		return false
	}
	return true
}
