package domain

// Default sticky-session settings shared by every balancer that does not
// override them.
const (
	DefaultStickySessionCookie = "JSESSIONID"
	DefaultStickySessionPath   = "jsessionid"
	DefaultMaxAttempts         = 1
)

// Balancer is a named group of nodes sharing a load-balancing policy. A
// balancer exists only while at least one node references it by name.
type Balancer struct {
	Name                string
	StickySession       bool
	StickySessionCookie string
	StickySessionPath   string
	StickySessionForce  bool
	StickySessionRemove bool
	MaxAttempts         int
}

// BalancerBuilder collects balancer settings from a registration command.
// Zero values are replaced with the defaults above at Build time; collisions
// with an already-installed balancer of the same name are not reconciled,
// the first writer wins.
type BalancerBuilder struct {
	Name                string
	StickySession       bool
	StickySessionCookie string
	StickySessionPath   string
	StickySessionForce  bool
	StickySessionRemove bool
	MaxAttempts         int
}

// NewBalancerBuilder creates a builder with sticky sessions enabled, which
// is the registration default.
func NewBalancerBuilder(name string) *BalancerBuilder {
	return &BalancerBuilder{
		Name:          name,
		StickySession: true,
	}
}

// Build materializes the balancer, filling in defaults
func (b *BalancerBuilder) Build() *Balancer {
	balancer := &Balancer{
		Name:                b.Name,
		StickySession:       b.StickySession,
		StickySessionCookie: b.StickySessionCookie,
		StickySessionPath:   b.StickySessionPath,
		StickySessionForce:  b.StickySessionForce,
		StickySessionRemove: b.StickySessionRemove,
		MaxAttempts:         b.MaxAttempts,
	}
	if balancer.StickySessionCookie == "" {
		balancer.StickySessionCookie = DefaultStickySessionCookie
	}
	if balancer.StickySessionPath == "" {
		balancer.StickySessionPath = DefaultStickySessionPath
	}
	if balancer.MaxAttempts < 1 {
		balancer.MaxAttempts = DefaultMaxAttempts
	}
	return balancer
}
