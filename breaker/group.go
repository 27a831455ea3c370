package breaker

import "sync"

// Group hands out breakers keyed by tenant. Without isolation every tenant
// shares one breaker.
type Group struct {
	isolate bool
	opts    []Option
	shared  *Breaker

	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewGroup(isolate bool, opts ...Option) *Group {
	g := &Group{
		isolate:  isolate,
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}
	g.shared = New(opts...)
	return g
}

// For returns the breaker guarding calls made for tenant.
func (g *Group) For(tenant string) *Breaker {
	if !g.isolate || tenant == "" {
		return g.shared
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[tenant]
	if !ok {
		opts := append(append([]Option(nil), g.opts...), WithName(g.shared.Name()+":"+tenant))
		b = New(opts...)
		g.breakers[tenant] = b
	}
	return b
}
