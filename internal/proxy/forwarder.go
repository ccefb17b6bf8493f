// Package proxy is the thin forwarding shell around the container: it
// resolves a proxy target to a concrete node and streams the exchange with
// a reverse proxy. Everything interesting about picking the node lives in
// the container.
package proxy

import (
	"net/http"
	"net/http/httputil"
	"sync"
	"time"

	"github.com/mir00r/cluster-proxy/internal/container"
	"github.com/mir00r/cluster-proxy/pkg/logger"
	"golang.org/x/net/http2"
)

const defaultBufferSize = 32 * 1024

// BufferPool reuses copy buffers across proxied exchanges. It implements
// both domain.BufferPool and httputil.BufferPool.
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool creates a pool handing out buffers of the given size
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		},
	}
}

// Get returns a buffer from the pool
func (p *BufferPool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns a buffer to the pool
func (p *BufferPool) Put(b []byte) {
	p.pool.Put(b)
}

// Forwarder proxies requests to the node elected by the container
type Forwarder struct {
	container *container.Container
	transport http.RoundTripper
	buffers   *BufferPool
	logger    *logger.Logger
}

// NewForwarder creates a forwarder sharing one tuned transport across all
// nodes, with HTTP/2 enabled for upstream connections that offer it.
func NewForwarder(c *container.Container, buffers *BufferPool, log *logger.Logger) (*Forwarder, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, err
	}
	return &Forwarder{
		container: c,
		transport: transport,
		buffers:   buffers,
		logger:    log.ProxyLogger(),
	}, nil
}

// ServeHTTP resolves the request to a node and proxies the exchange.
// Requests with no target or no available node are answered 503; the
// distinction only matters to the logs.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := f.container.FindTarget(r)
	if target == nil {
		f.logger.WithField("host", r.Host).WithField("path", r.URL.Path).
			Debug("No target for request")
		http.Error(w, "no target", http.StatusServiceUnavailable)
		return
	}
	context := target.ResolveNode()
	if context == nil {
		f.logger.WithField("host", r.Host).WithField("path", r.URL.Path).
			Warn("No available node for request")
		http.Error(w, "no available node", http.StatusServiceUnavailable)
		return
	}

	node := context.Node()
	uri := node.Config().ConnectionURI
	reverseProxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = uri.Scheme
			req.URL.Host = uri.Host
		},
		Transport:  f.transport,
		BufferPool: f.buffers,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			f.logger.NodeLogger(node.JVMRoute(), uri.String()).WithError(err).
				Warn("Upstream exchange failed")
			http.Error(w, "bad gateway", http.StatusBadGateway)
		},
	}
	if node.Config().FlushPackets {
		reverseProxy.FlushInterval = -1
	}

	context.BeginRequest()
	defer context.EndRequest()
	reverseProxy.ServeHTTP(w, r)
}
