/*
Package domain contains the core topology entities of the cluster proxy.

This package implements the Domain layer, providing:
- Core entities (Node, Context, Balancer, VirtualHost)
- The interfaces consumed by the container (Executor, HealthChecker, BufferPool)
- Sticky-session route extraction helpers

The domain package is independent of external frameworks and infrastructure,
ensuring the topology logic remains testable and maintainable.

Key Components:

Node Entity:
Node represents one backend worker registered under a unique jvmRoute. It
keeps its health state, election counters and load factor in atomic fields
because the routing path reads them lock-free while health probes and
elections write them.

	node := domain.NewNode(config, balancer, ioThread, buffers)
	node.UpdateLoad(75)
	if node.Status() == domain.NodeStatusOK {
		// Node may receive traffic
	}

Context Entity:
Context binds one deployed application path on one node to a set of
virtual-host aliases. Its lifecycle (disabled, enabled, stopped, removed)
decides whether a request may land there:

	context := node.RegisterContext("/shop", []string{"example.com"})
	context.Enable()
	context.CheckAvailable(false) // eligible for new sessions?

VirtualHost:
VirtualHost maps request paths to candidate contexts with a longest-prefix
matcher. Mutations publish a rebuilt matcher atomically so the routing path
never takes a lock.

Session Affinity:
Session identifiers carry their worker route after the first dot
("SID.route" or "SID.route.version"). RouteFromSessionID extracts the
route; PathParameter reads matrix-style path parameters for the
cookie-less variant.
*/
package domain
