package domain

import (
	"context"
	"net/url"
	"time"
)

// NodeStatus represents the health state of a worker node
type NodeStatus int32

const (
	// NodeStatusOK indicates the node is healthy and may receive traffic
	NodeStatusOK NodeStatus = iota
	// NodeStatusError indicates the node failed its health checks
	NodeStatusError
	// NodeStatusRemoved is terminal; a removed node is never revived
	NodeStatusRemoved
)

// String returns the string representation of NodeStatus
func (s NodeStatus) String() string {
	switch s {
	case NodeStatusOK:
		return "ok"
	case NodeStatusError:
		return "error"
	case NodeStatusRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// ContextStatus represents the lifecycle state of a deployed context
type ContextStatus int32

const (
	// ContextDisabled receives no traffic at all
	ContextDisabled ContextStatus = iota
	// ContextEnabled receives new and existing sessions
	ContextEnabled
	// ContextStopped only honors existing sessions until drained
	ContextStopped
	// ContextRemoved is terminal
	ContextRemoved
)

// String returns the string representation of ContextStatus
func (s ContextStatus) String() string {
	switch s {
	case ContextDisabled:
		return "disabled"
	case ContextEnabled:
		return "enabled"
	case ContextStopped:
		return "stopped"
	case ContextRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// NodeConfig is the static configuration a worker registers with.
// It never changes for the lifetime of the Node; re-registration with a
// different connection URI creates a new Node.
type NodeConfig struct {
	JVMRoute       string
	ConnectionURI  *url.URL
	Balancer       string
	Domain         string
	HotStandby     bool
	FlushPackets   bool
	Ping           time.Duration
	Timeout        time.Duration
	MaxConnections int
	TTL            time.Duration
}

// CancelKey cancels a scheduled periodic task. After Cancel returns no
// further tick from the task will start.
type CancelKey interface {
	Cancel()
}

// Executor schedules work on a single serial execution thread. Each node is
// pinned to exactly one executor for its entire lifetime; health check
// callbacks for the node always run there.
type Executor interface {
	// Execute runs the task on the executor's thread
	Execute(task func())
	// ExecuteAtInterval runs the task periodically. Ticks for the same task
	// never overlap.
	ExecuteAtInterval(task func(), period time.Duration) CancelKey
}

// BufferPool hands out reusable byte buffers for proxying request and
// response bodies. Compatible with httputil.ReverseProxy.
type BufferPool interface {
	Get() []byte
	Put([]byte)
}

// HealthChecker probes a single node. A nil return marks the probe
// successful; any error counts against the node's error budget.
type HealthChecker interface {
	Check(ctx context.Context, node *Node) error
}
