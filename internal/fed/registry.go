package fed

import (
	"sort"
	"sync"

	"github.com/perchlabs/perch/internal/apierr"
)

// Health is a backend's connection state.
type Health string

const (
	HealthConnecting  Health = "connecting"
	HealthHealthy     Health = "healthy"
	HealthUnavailable Health = "unavailable"
	// HealthRejected marks a backend whose supervisor exited permanently,
	// e.g. the self-loop guard tripped.
	HealthRejected Health = "rejected"
)

// Backend is a federated peer. Hostname and ServerID are learned from the
// peer after the first successful connection; Token never leaves the server.
type Backend struct {
	Address  string
	Hostname string
	ServerID string
	Health   Health
	Token    string
}

// Registry tracks backends by address, enforcing address and hostname
// uniqueness.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]*Backend)}
}

// Add registers a backend in the connecting state.
func (r *Registry) Add(address, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[address]; exists {
		return apierr.ServerAlreadyRegistered("address " + address + " already registered")
	}
	r.backends[address] = &Backend{
		Address: address,
		Health:  HealthConnecting,
		Token:   token,
	}
	return nil
}

// SetHostname records the hostname learned from the peer. It fails when a
// different backend already claimed it.
func (r *Registry) SetHostname(address, hostname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, b := range r.backends {
		if b.Hostname == hostname && addr != address {
			return apierr.ServerAlreadyRegistered("hostname " + hostname + " already registered")
		}
	}
	b, ok := r.backends[address]
	if !ok {
		return apierr.ServerNotFound(address)
	}
	b.Hostname = hostname
	return nil
}

// SetServerID records the peer's server id.
func (r *Registry) SetServerID(address, id string) {
	r.mu.Lock()
	if b, ok := r.backends[address]; ok {
		b.ServerID = id
	}
	r.mu.Unlock()
}

// SetHealth updates the backend's connection state.
func (r *Registry) SetHealth(address string, h Health) {
	r.mu.Lock()
	if b, ok := r.backends[address]; ok {
		b.Health = h
	}
	r.mu.Unlock()
}

// ByHostname looks up a backend by its learned hostname.
func (r *Registry) ByHostname(hostname string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.backends {
		if b.Hostname == hostname {
			return *b, true
		}
	}
	return Backend{}, false
}

// ByAddress looks up a backend by address.
func (r *Registry) ByAddress(address string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[address]
	if !ok {
		return Backend{}, false
	}
	return *b, true
}

// RemoveByAddress deletes the backend and reports whether it existed.
func (r *Registry) RemoveByAddress(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[address]; !ok {
		return false
	}
	delete(r.backends, address)
	return true
}

// RemoveByHostname deletes the backend with the given hostname, returning
// its address.
func (r *Registry) RemoveByHostname(hostname string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, b := range r.backends {
		if b.Hostname == hostname {
			delete(r.backends, addr)
			return addr, true
		}
	}
	return "", false
}

// List returns backend snapshots sorted by address.
func (r *Registry) List() []Backend {
	r.mu.RLock()
	out := make([]Backend, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, *b)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Len returns the backend count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}
