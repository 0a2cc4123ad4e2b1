package payment

import "fmt"

// Registry is the closed, startup-built set of adapters keyed by gateway kind.
type Registry struct {
	providers map[GatewayKind]Provider
}

func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[GatewayKind]Provider, len(providers))}
	for _, p := range providers {
		kind := p.Kind()
		if !kind.Valid() {
			return nil, fmt.Errorf("register %q: %w", kind, ErrUnsupportedGateway)
		}
		if _, dup := r.providers[kind]; dup {
			return nil, fmt.Errorf("gateway %s registered twice", kind)
		}
		r.providers[kind] = p
	}
	return r, nil
}

func (r *Registry) Get(kind GatewayKind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrUnsupportedGateway)
	}
	return p, nil
}

func (r *Registry) Kinds() []GatewayKind {
	out := make([]GatewayKind, 0, len(r.providers))
	for _, k := range AllGateways {
		if _, ok := r.providers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
