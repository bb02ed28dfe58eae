package fed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/perchlabs/perch/internal/apierr"
	"github.com/perchlabs/perch/internal/config"
	"github.com/perchlabs/perch/internal/logger"
)

// Manager owns the backend registry and one supervisor per backend.
type Manager struct {
	reg        *Registry
	localID    string
	localToken string
	blocklist  []string
	allowlist  []string
	client     *http.Client

	mu           sync.Mutex
	defaultToken string
	sups         map[string]context.CancelFunc
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewManager builds a manager for the given local identity. localToken is
// the fallback credential offered to peers that configure none.
func NewManager(reg *Registry, localID, localToken string, fedCfg config.FederationConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		reg:        reg,
		localID:    localID,
		localToken: localToken,
		blocklist:  fedCfg.Blocklist,
		allowlist:  fedCfg.Allowlist,
		client:     &http.Client{Timeout: 30 * time.Second},
		sups:       make(map[string]context.CancelFunc),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Registry exposes the backend registry for routing lookups.
func (m *Manager) Registry() *Registry { return m.reg }

// AddBackend validates the address, registers it, and starts its supervisor.
// Token resolution: explicit > federation-file default > local token.
func (m *Manager) AddBackend(ctx context.Context, address, token string) (string, error) {
	normalized, err := ValidateAddress(ctx, address, m.blocklist, m.allowlist)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" {
		token = m.defaultToken
	}
	if token == "" {
		token = m.localToken
	}
	if err := m.reg.Add(normalized, token); err != nil {
		return "", err
	}
	m.startSupervisor(normalized, token)
	return normalized, nil
}

// startSupervisor spawns the connection loop. Caller holds m.mu.
func (m *Manager) startSupervisor(address, token string) {
	supCtx, supCancel := context.WithCancel(m.ctx)
	m.sups[address] = supCancel
	c := &conn{
		address: address,
		token:   token,
		localID: m.localID,
		reg:     m.reg,
		client:  m.client,
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		c.run(supCtx)
	}()
}

// RemoveByAddress stops the supervisor and forgets the backend.
func (m *Manager) RemoveByAddress(address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.reg.RemoveByAddress(address) {
		return apierr.ServerNotFound(address)
	}
	m.stopSupervisor(address)
	return nil
}

// RemoveByHostname stops the supervisor for the backend with the given
// learned hostname.
func (m *Manager) RemoveByHostname(hostname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	address, ok := m.reg.RemoveByHostname(hostname)
	if !ok {
		return apierr.ServerNotFound(hostname)
	}
	m.stopSupervisor(address)
	return nil
}

// stopSupervisor cancels and forgets a supervisor. Caller holds m.mu.
func (m *Manager) stopSupervisor(address string) {
	if cancel, ok := m.sups[address]; ok {
		cancel()
		delete(m.sups, address)
	}
}

// Apply reconciles the backend set to a federation file: the file is
// authoritative, so backends not listed are removed, new ones are added,
// and a changed token restarts the backend's supervisor.
func (m *Manager) Apply(ctx context.Context, file *config.FederationFile) {
	desired := make(map[string]string, len(file.Servers))
	for _, srv := range file.Servers {
		normalized, err := ValidateAddress(ctx, srv.Address, m.blocklist, m.allowlist)
		if err != nil {
			logger.Warn("federation file entry rejected", "address", srv.Address, "error", err)
			continue
		}
		token := srv.Token
		if token == "" {
			token = file.DefaultToken
		}
		if token == "" {
			token = m.localToken
		}
		desired[normalized] = token
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultToken = file.DefaultToken

	for _, b := range m.reg.List() {
		token, keep := desired[b.Address]
		if keep && token == b.Token {
			delete(desired, b.Address)
			continue
		}
		m.reg.RemoveByAddress(b.Address)
		m.stopSupervisor(b.Address)
		if keep {
			// Token changed; fall through to re-add below.
			continue
		}
		logger.Info("backend removed by federation file", "address", b.Address)
	}

	for address, token := range desired {
		if _, exists := m.reg.ByAddress(address); exists {
			continue
		}
		if err := m.reg.Add(address, token); err != nil {
			logger.Warn("federation file backend rejected", "address", address, "error", err)
			continue
		}
		m.startSupervisor(address, token)
		logger.Info("backend added by federation file", "address", address)
	}
}

// ShutdownAll stops every supervisor and waits for them to exit.
func (m *Manager) ShutdownAll() {
	m.cancel()
	m.wg.Wait()
}
