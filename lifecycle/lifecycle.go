// Package lifecycle drives a cache version through install, waiting,
// activation and cleanup.
//
// A new version installs alongside the old one: the critical resource set is
// fetched into a fresh version bucket while the previous version keeps
// serving. The new version then waits until it is told to take over, at
// which point every other version is deleted and all registered clients are
// claimed by the new instance. A failed install never disturbs the version
// that is already active.
package lifecycle

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/c360/offlinekit/cachestore"
	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/fetch"
	"github.com/c360/offlinekit/metric"
)

// Phase is the install/activation state of a managed version.
type Phase int

const (
	// PhaseCreated means Install has not run yet
	PhaseCreated Phase = iota
	// PhaseInstalling means the critical set is being fetched and stored
	PhaseInstalling
	// PhaseWaiting means install succeeded but an older version still serves
	PhaseWaiting
	// PhaseActivating means old versions are being removed and clients claimed
	PhaseActivating
	// PhaseActive means this version serves all requests
	PhaseActive
	// PhaseFailed means install failed and this version will never serve
	PhaseFailed
)

// String returns the string representation of Phase
func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseInstalling:
		return "installing"
	case PhaseWaiting:
		return "waiting"
	case PhaseActivating:
		return "activating"
	case PhaseActive:
		return "active"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Manager installs and activates one cache version.
type Manager struct {
	store    *cachestore.Store
	version  string
	critical []string
	fetcher  fetch.Fetcher
	clients  *ClientRegistry
	logger   *slog.Logger
	core     *metric.Metrics

	mu          sync.Mutex
	phase       Phase
	handle      *cachestore.Handle
	skipWaiting bool
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the manager logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetricsRegistry wires lifecycle metrics into the framework registry
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.core = registry.CoreMetrics()
		}
	}
}

// WithClientRegistry shares a registry across successive managers so clients
// registered under the old version carry over to the new one.
func WithClientRegistry(clients *ClientRegistry) Option {
	return func(m *Manager) {
		if clients != nil {
			m.clients = clients
		}
	}
}

// NewManager creates a manager for one version and its critical resource
// set. critical lists the URLs that must all be cached for the version to be
// usable offline.
func NewManager(store *cachestore.Store, version string, critical []string, fetcher fetch.Fetcher, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "NewManager", "store required")
	}
	if strings.TrimSpace(version) == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "NewManager", "version required")
	}
	if fetcher == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "NewManager", "fetcher required")
	}

	m := &Manager{
		store:    store,
		version:  version,
		critical: critical,
		fetcher:  fetcher,
		clients:  NewClientRegistry(),
		logger:   slog.Default(),
		phase:    PhaseCreated,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Version returns the managed cache version.
func (m *Manager) Version() string {
	return m.version
}

// Handle returns the version's cache handle, nil before a successful install.
func (m *Manager) Handle() *cachestore.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// Clients returns the shared client registry.
func (m *Manager) Clients() *ClientRegistry {
	return m.clients
}

// Install fetches the whole critical set into this version's bucket,
// all-or-nothing. On success the manager moves to Waiting, or straight
// through activation when no other version exists or SkipWaiting was
// already requested. Failure moves to Failed and leaves every existing
// version untouched.
func (m *Manager) Install(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseCreated {
		phase := m.phase
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Install",
			"install already ran, phase "+phase.String())
	}
	m.setPhaseLocked(PhaseInstalling)
	m.mu.Unlock()

	m.logger.Info("installing cache version", "version", m.version, "critical_resources", len(m.critical))

	fresh := !m.versionExists()
	handle, err := m.store.OpenVersion(m.version)
	if err != nil {
		m.fail(err, fresh)
		return errors.WrapFatal(err, "Manager", "Install", "open version bucket")
	}
	if err := handle.AddAll(ctx, m.fetcher, m.critical); err != nil {
		m.fail(err, fresh)
		return err
	}

	m.mu.Lock()
	m.handle = handle
	skip := m.skipWaiting
	m.setPhaseLocked(PhaseWaiting)
	m.mu.Unlock()

	sole, err := m.soleVersion()
	if err != nil {
		m.logger.Warn("could not enumerate versions, holding in waiting", "error", err)
		return nil
	}
	if sole || skip {
		return m.Activate()
	}

	m.logger.Info("install complete, waiting for activation", "version", m.version)
	return nil
}

// SkipWaiting requests immediate activation. Safe to call at any phase:
// before install completes it marks intent, in Waiting it activates now.
func (m *Manager) SkipWaiting() error {
	m.mu.Lock()
	m.skipWaiting = true
	waiting := m.phase == PhaseWaiting
	m.mu.Unlock()

	if waiting {
		return m.Activate()
	}
	return nil
}

// Activate deletes every other cache version and claims all registered
// clients for this one.
func (m *Manager) Activate() error {
	m.mu.Lock()
	switch m.phase {
	case PhaseActive:
		m.mu.Unlock()
		return nil
	case PhaseWaiting:
	default:
		phase := m.phase
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotActive, "Manager", "Activate",
			"cannot activate from phase "+phase.String())
	}
	m.setPhaseLocked(PhaseActivating)
	m.mu.Unlock()

	if err := m.store.DeleteVersionsExcept(m.version); err != nil {
		// The new version is intact; stale buckets are retried on next
		// activation or install.
		m.logger.Warn("old version cleanup incomplete", "version", m.version, "error", err)
	}

	claimed := m.clients.Claim(m.version)

	m.mu.Lock()
	m.setPhaseLocked(PhaseActive)
	m.mu.Unlock()

	m.logger.Info("cache version active", "version", m.version, "clients_claimed", claimed)
	return nil
}

// fail moves to Failed. When the install created the version's bucket the
// bucket is removed again so a failed install leaves no empty version behind
// to shadow a populated older one.
func (m *Manager) fail(err error, removeBucket bool) {
	m.mu.Lock()
	m.setPhaseLocked(PhaseFailed)
	m.mu.Unlock()

	if removeBucket {
		if derr := m.store.DeleteVersion(m.version); derr != nil {
			m.logger.Warn("failed install bucket not removed", "version", m.version, "error", derr)
		}
	}
	m.logger.Error("install failed, previous version untouched", "version", m.version, "error", err)
}

// versionExists reports whether the managed version already has a bucket.
// Enumeration errors count as existing so fail never deletes on doubt.
func (m *Manager) versionExists() bool {
	versions, err := m.store.Versions()
	if err != nil {
		return true
	}
	for _, v := range versions {
		if v == m.version {
			return true
		}
	}
	return false
}

func (m *Manager) soleVersion() (bool, error) {
	versions, err := m.store.Versions()
	if err != nil {
		return false, err
	}
	for _, v := range versions {
		if v != m.version {
			return false, nil
		}
	}
	return true, nil
}

func (m *Manager) setPhaseLocked(phase Phase) {
	m.phase = phase
	if m.core != nil {
		m.core.LifecyclePhase.Set(float64(phase))
	}
}
