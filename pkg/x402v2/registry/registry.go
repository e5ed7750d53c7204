// Package registry implements the (scheme, network) dispatch core shared by every
// x402 v2 role: a scheme is registered once per concrete network or once per
// wildcard family ("eip155:*"), and lookups prefer an exact match before falling
// back to the caller's family.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2"
)

// FacilitatorScheme is the handle a facilitator-side scheme implementation exposes to
// the registry. Concrete schemes (fluxacredit, odp-deferred) implement this without
// any shared base type — polymorphism here is structural, not hierarchical.
type FacilitatorScheme interface {
	Verify(payload x402v2.PaymentPayload, requirements x402v2.PaymentRequirements) (x402v2.VerifyResponse, error)
	Settle(payload x402v2.PaymentPayload, requirements x402v2.PaymentRequirements) (x402v2.SettleResponse, error)
	GetExtra() map[string]interface{}
	GetSigners() []string
}

// ClientScheme is the handle a payer-side client uses to produce a PaymentPayload
// for a given PaymentRequirements.
type ClientScheme interface {
	CreatePayload(requirements x402v2.PaymentRequirements) (x402v2.PaymentPayload, error)
}

// ServerScheme is the handle a resource server uses to prepare/enrich
// PaymentRequirements before offering them to a client.
type ServerScheme interface {
	EnhanceRequirements(requirements x402v2.PaymentRequirements) (x402v2.PaymentRequirements, error)
}

// key identifies one registration slot.
type key struct {
	scheme  string
	network string
}

func networkNamespace(network string) string {
	if idx := strings.Index(network, ":"); idx >= 0 {
		return network[:idx]
	}
	return network
}

func isFamily(network string) bool {
	return strings.HasSuffix(network, ":*")
}

// Registry holds the three parallel (scheme, network) maps. It is immutable after
// startup: every Register* call must happen before the first Lookup, and concrete
// pairs can never be rebound.
type Registry struct {
	mu           sync.RWMutex
	facilitators map[key]FacilitatorScheme
	clients      map[key]ClientScheme
	servers      map[key]ServerScheme
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		facilitators: make(map[key]FacilitatorScheme),
		clients:      make(map[key]ClientScheme),
		servers:      make(map[key]ServerScheme),
	}
}

// RegisterFacilitatorScheme binds scheme to handle for the given network or family.
// Rebinding an already-registered concrete (scheme, network) pair is a fatal
// configuration error, matching the registry's "never rebind" contract.
func (r *Registry) RegisterFacilitatorScheme(scheme, network string, handle FacilitatorScheme) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{scheme, network}
	if !isFamily(network) {
		if _, exists := r.facilitators[k]; exists {
			return fmt.Errorf("facilitator scheme %s/%s already registered", scheme, network)
		}
	}
	r.facilitators[k] = handle
	return nil
}

// RegisterClientScheme binds a client-side scheme implementation.
func (r *Registry) RegisterClientScheme(scheme, network string, handle ClientScheme) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{scheme, network}
	if !isFamily(network) {
		if _, exists := r.clients[k]; exists {
			return fmt.Errorf("client scheme %s/%s already registered", scheme, network)
		}
	}
	r.clients[k] = handle
	return nil
}

// RegisterServerScheme binds a server-side scheme implementation.
func (r *Registry) RegisterServerScheme(scheme, network string, handle ServerScheme) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{scheme, network}
	if !isFamily(network) {
		if _, exists := r.servers[k]; exists {
			return fmt.Errorf("server scheme %s/%s already registered", scheme, network)
		}
	}
	r.servers[k] = handle
	return nil
}

// LookupFacilitatorScheme resolves (scheme, network) to a handle: exact match first,
// then family match on the same namespace, then ErrUnsupportedScheme.
func (r *Registry) LookupFacilitatorScheme(scheme, network string) (FacilitatorScheme, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.facilitators[key{scheme, network}]; ok {
		return h, nil
	}
	familyKey := key{scheme, networkNamespace(network) + ":*"}
	if h, ok := r.facilitators[familyKey]; ok {
		return h, nil
	}
	return nil, ErrUnsupportedScheme{Scheme: scheme, Network: network}
}

// LookupClientScheme resolves a client-side scheme the same way as
// LookupFacilitatorScheme.
func (r *Registry) LookupClientScheme(scheme, network string) (ClientScheme, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.clients[key{scheme, network}]; ok {
		return h, nil
	}
	familyKey := key{scheme, networkNamespace(network) + ":*"}
	if h, ok := r.clients[familyKey]; ok {
		return h, nil
	}
	return nil, ErrUnsupportedScheme{Scheme: scheme, Network: network}
}

// LookupServerScheme resolves a server-side scheme the same way as
// LookupFacilitatorScheme.
func (r *Registry) LookupServerScheme(scheme, network string) (ServerScheme, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.servers[key{scheme, network}]; ok {
		return h, nil
	}
	familyKey := key{scheme, networkNamespace(network) + ":*"}
	if h, ok := r.servers[familyKey]; ok {
		return h, nil
	}
	return nil, ErrUnsupportedScheme{Scheme: scheme, Network: network}
}

// SupportedKinds enumerates every registered facilitator (scheme, network) pair for
// the GET /supported discovery endpoint, sorted for stable output.
func (r *Registry) SupportedKinds() []x402v2.SupportedKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]x402v2.SupportedKind, 0, len(r.facilitators))
	for k, handle := range r.facilitators {
		kinds = append(kinds, x402v2.SupportedKind{
			X402Version: x402v2.Version,
			Scheme:      k.scheme,
			Network:     k.network,
			Extra:       handle.GetExtra(),
			Signers:     handle.GetSigners(),
		})
	}

	sort.Slice(kinds, func(i, j int) bool {
		if kinds[i].Scheme != kinds[j].Scheme {
			return kinds[i].Scheme < kinds[j].Scheme
		}
		return kinds[i].Network < kinds[j].Network
	})

	return kinds
}

// ErrUnsupportedScheme is returned when no registration matches (scheme, network).
type ErrUnsupportedScheme struct {
	Scheme  string
	Network string
}

func (e ErrUnsupportedScheme) Error() string {
	return fmt.Sprintf("unsupported scheme/network combination: %s/%s", e.Scheme, e.Network)
}
