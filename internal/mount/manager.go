// Package mount implements the mount state machine: mounting and
// unmounting profiles through a platform provider, tracking runtime
// state, classifying external unmounts, and importing mounts that were
// established outside the engine.
package mount

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/PelicanWorks/mountkeeper/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultCooldown is the minimum spacing between automatic mount
// attempts for the same profile.
const DefaultCooldown = 5 * time.Second

// ProfileStore is the slice of the profile store the manager needs.
type ProfileStore interface {
	List() []*models.MountProfile
	Get(id uuid.UUID) (*models.MountProfile, error)
	FindByURL(rawURL string, normalize func(string) string) *models.MountProfile
	FindByBonjourHost(hostname string) *models.MountProfile
	Add(profile *models.MountProfile) error
	Update(profile *models.MountProfile) error
}

// EventRunner dispatches lifecycle automations.
type EventRunner interface {
	RunEvent(ctx context.Context, event models.LifecycleEvent, profile *models.MountProfile)
}

// Journal records mount lifecycle events for later inspection.
type Journal interface {
	Append(ctx context.Context, event *models.HistoryEvent) error
}

// MetricsRecorder receives mount outcome counters.
type MetricsRecorder interface {
	RecordMountAttempt()
	RecordMountResult(success bool)
	RecordUnmount()
	RecordExternalUnmount(classification string)
}

type noopMetrics struct{}

func (noopMetrics) RecordMountAttempt()          {}
func (noopMetrics) RecordMountResult(bool)       {}
func (noopMetrics) RecordUnmount()               {}
func (noopMetrics) RecordExternalUnmount(string) {}

// ManagerConfig carries the manager's collaborators.
type ManagerConfig struct {
	Store       ProfileStore
	Provider    Provider
	Automations EventRunner
	Probe       Probe
	Journal     Journal
	Metrics     MetricsRecorder

	// Cooldown overrides DefaultCooldown when positive.
	Cooldown time.Duration

	Logger zerolog.Logger
}

// Manager owns all runtime mount state. Profiles carry configuration
// only; whether a profile is mounted right now lives here.
type Manager struct {
	store       ProfileStore
	provider    Provider
	automations EventRunner
	probe       Probe
	journal     Journal
	metrics     MetricsRecorder
	cooldown    time.Duration
	logger      zerolog.Logger

	mu          sync.Mutex
	statuses    map[uuid.UUID]models.MountStatus
	mountPaths  map[uuid.UUID]string
	manual      map[uuid.UUID]bool
	lastAttempt map[uuid.UUID]time.Time

	classifiers sync.WaitGroup

	now func() time.Time
}

// NewManager creates a mount manager.
func NewManager(cfg ManagerConfig) *Manager {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Manager{
		store:       cfg.Store,
		provider:    cfg.Provider,
		automations: cfg.Automations,
		probe:       cfg.Probe,
		journal:     cfg.Journal,
		metrics:     metrics,
		cooldown:    cooldown,
		logger:      cfg.Logger.With().Str("component", "mount_manager").Logger(),
		statuses:    make(map[uuid.UUID]models.MountStatus),
		mountPaths:  make(map[uuid.UUID]string),
		manual:      make(map[uuid.UUID]bool),
		lastAttempt: make(map[uuid.UUID]time.Time),
		now:         time.Now,
	}
}

// Status returns the runtime status for a profile. Unknown profiles
// report StateUnmounted.
func (m *Manager) Status(id uuid.UUID) models.MountStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, ok := m.statuses[id]; ok {
		return status
	}
	return models.MountStatus{State: models.StateUnmounted}
}

// Statuses returns a snapshot of all known profile statuses.
func (m *Manager) Statuses() map[uuid.UUID]models.MountStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]models.MountStatus, len(m.statuses))
	for id, status := range m.statuses {
		out[id] = status
	}
	return out
}

// MountPath returns the active mount path for a profile, if mounted.
func (m *Manager) MountPath(id uuid.UUID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path, ok := m.mountPaths[id]
	return path, ok
}

// IsManuallyUnmounted reports whether the user deliberately unmounted
// the profile since its last mount. Auto-mount must not fight the user.
func (m *Manager) IsManuallyUnmounted(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manual[id]
}

// InCooldown reports whether an automatic attempt for the profile
// happened within the cooldown window.
func (m *Manager) InCooldown(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastAttempt[id]
	return ok && m.now().Sub(last) < m.cooldown
}

// MarkAutoMountAttempt records the time of an automatic mount attempt
// for cooldown accounting.
func (m *Manager) MarkAutoMountAttempt(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt[id] = m.now()
}

// Mount mounts the profile's share. Mounting again while mounted or
// while an attempt is in flight is a no-op. A mount request always
// clears the manual-unmount flag, whatever its source.
func (m *Manager) Mount(ctx context.Context, profile *models.MountProfile) error {
	m.mu.Lock()
	delete(m.manual, profile.ID)
	state := m.statuses[profile.ID].State
	if state == models.StateMounted || state == models.StateMounting {
		m.mu.Unlock()
		m.logger.Debug().Str("profile", profile.Name).Str("state", string(state)).Msg("mount skipped")
		return nil
	}
	m.statuses[profile.ID] = models.MountStatus{State: models.StateMounting}
	m.mu.Unlock()

	m.metrics.RecordMountAttempt()
	m.automations.RunEvent(ctx, models.EventPreMount, profile)

	if err := validateTarget(profile.URL); err != nil {
		m.failMount(ctx, profile, err, false)
		return err
	}

	if profile.MountPoint != "" {
		if err := os.MkdirAll(profile.MountPoint, 0755); err != nil {
			wrapped := &DirectoryCreationError{Path: profile.MountPoint, Err: err}
			m.failMount(ctx, profile, wrapped, false)
			return wrapped
		}
	}

	path, err := m.provider.Mount(ctx, profile.URL, profile.MountPoint)
	if err != nil {
		wrapped := &ProviderError{URL: profile.URL, Err: err}
		m.failMount(ctx, profile, wrapped, true)
		return wrapped
	}

	m.mu.Lock()
	m.statuses[profile.ID] = models.MountStatus{State: models.StateMounted}
	m.mountPaths[profile.ID] = path
	m.mu.Unlock()

	m.metrics.RecordMountResult(true)
	m.logger.Info().Str("profile", profile.Name).Str("path", path).Msg("mounted")
	m.record(ctx, profile, models.HistoryMounted, path)

	m.reconcileURL(ctx, profile, path)
	m.automations.RunEvent(ctx, models.EventMounted, profile)
	return nil
}

// failMount moves a profile to the error state. Mount-failed automations
// run only for provider failures; a bad URL or an unwritable mount point
// is a configuration problem, not a share outage.
func (m *Manager) failMount(ctx context.Context, profile *models.MountProfile, cause error, providerFailure bool) {
	m.mu.Lock()
	m.statuses[profile.ID] = models.MountStatus{State: models.StateError, Message: cause.Error()}
	m.mu.Unlock()

	m.metrics.RecordMountResult(false)
	m.logger.Error().Err(cause).Str("profile", profile.Name).Msg("mount failed")
	m.record(ctx, profile, models.HistoryMountFailed, cause.Error())

	if providerFailure {
		m.automations.RunEvent(ctx, models.EventMountFailed, profile)
	}
}

func validateTarget(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &InvalidTargetError{URL: rawURL, Reason: err.Error()}
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return &InvalidTargetError{URL: rawURL, Reason: "missing scheme or host"}
	}
	return nil
}

// Unmount unmounts the profile's share. The manual-unmount flag is set
// before anything else: an unmount request expresses user intent even
// when the share turns out not to be mounted, and auto-mount must honor
// it until the next explicit mount.
func (m *Manager) Unmount(ctx context.Context, profile *models.MountProfile) error {
	m.mu.Lock()
	m.manual[profile.ID] = true
	path, mounted := m.mountPaths[profile.ID]
	m.mu.Unlock()

	if !mounted {
		return ErrNotMounted
	}

	m.automations.RunEvent(ctx, models.EventPreUnmount, profile)

	if err := m.provider.Unmount(ctx, path); err != nil {
		m.logger.Error().Err(err).Str("profile", profile.Name).Str("path", path).Msg("unmount failed")
		return &UnmountError{Path: path, Err: err}
	}

	m.mu.Lock()
	m.statuses[profile.ID] = models.MountStatus{State: models.StateUnmounted}
	delete(m.mountPaths, profile.ID)
	m.mu.Unlock()

	m.metrics.RecordUnmount()
	m.logger.Info().Str("profile", profile.Name).Str("path", path).Msg("unmounted")
	m.record(ctx, profile, models.HistoryUnmounted, path)
	m.automations.RunEvent(ctx, models.EventUnmounted, profile)
	return nil
}

// HandleExternalUnmount reacts to a mount disappearing without the
// engine's involvement. The server is probed to decide intent: a
// reachable server means the user ejected the share, so the profile is
// suppressed from auto-mount; an unreachable server means the network
// dropped, and the profile stays eligible for remount once connectivity
// returns.
func (m *Manager) HandleExternalUnmount(ctx context.Context, path string) {
	m.mu.Lock()
	var id uuid.UUID
	found := false
	for profileID, mountPath := range m.mountPaths {
		if mountPath == path {
			id = profileID
			found = true
			break
		}
	}
	if !found {
		m.mu.Unlock()
		return
	}
	m.statuses[id] = models.MountStatus{State: models.StateUnmounted}
	delete(m.mountPaths, id)
	m.mu.Unlock()

	profile, err := m.store.Get(id)
	if err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("external unmount for unknown profile")
		return
	}

	// The probe can take up to its timeout; classify off the caller's
	// goroutine so the detection loop never stalls on a dead host.
	m.classifiers.Add(1)
	go func() {
		defer m.classifiers.Done()
		m.classifyExternalUnmount(ctx, profile, path)
	}()
}

func (m *Manager) classifyExternalUnmount(ctx context.Context, profile *models.MountProfile, path string) {
	if m.probe != nil && m.probe.IsReachable(ctx, profile.Host()) {
		m.mu.Lock()
		m.manual[profile.ID] = true
		m.mu.Unlock()
		m.metrics.RecordExternalUnmount("manual")
		m.logger.Info().Str("profile", profile.Name).Msg("external unmount, server reachable, treating as manual")
		m.record(ctx, profile, models.HistoryExternalUnmountManual, path)
		return
	}

	m.metrics.RecordExternalUnmount("network")
	m.logger.Info().Str("profile", profile.Name).Msg("external unmount, server unreachable, treating as network drop")
	m.record(ctx, profile, models.HistoryExternalUnmountNetwork, path)
}

// Wait blocks until background classification work has drained. Callers
// use it during shutdown and in tests.
func (m *Manager) Wait() {
	m.classifiers.Wait()
}

// DetectExternalUnmounts compares the managed mount paths against the
// live mount table and handles every path that disappeared.
func (m *Manager) DetectExternalUnmounts(ctx context.Context) error {
	entries, err := m.provider.ListNetworkMounts(ctx)
	if err != nil {
		return fmt.Errorf("list network mounts: %w", err)
	}
	live := make(map[string]bool, len(entries))
	for _, entry := range entries {
		live[entry.Path] = true
	}

	m.mu.Lock()
	var gone []string
	for _, path := range m.mountPaths {
		if !live[path] {
			gone = append(gone, path)
		}
	}
	m.mu.Unlock()

	for _, path := range gone {
		m.HandleExternalUnmount(ctx, path)
	}
	return nil
}

// ScanAndImportMounts walks the live mount table and adopts network
// mounts the engine does not know about. A mount matching an existing
// profile is attached to it; an unknown mount gets a new disabled
// auto-mount profile so the user can promote it later.
func (m *Manager) ScanAndImportMounts(ctx context.Context) error {
	entries, err := m.provider.ListNetworkMounts(ctx)
	if err != nil {
		return fmt.Errorf("list network mounts: %w", err)
	}

	known := make(map[string]uuid.UUID)
	m.mu.Lock()
	for id, path := range m.mountPaths {
		known[path] = id
	}
	m.mu.Unlock()

	for _, entry := range entries {
		if _, ok := known[entry.Path]; ok {
			continue
		}

		canonical := CanonicalURL(entry.Source, entry.FSType)
		profile := m.store.FindByURL(canonical, NormalizeURL)
		if profile == nil {
			profile = models.NewMountProfile(shareNameFromURL(canonical), canonical)
			if err := m.store.Add(profile); err != nil {
				m.logger.Error().Err(err).Str("url", canonical).Msg("failed to import discovered mount")
				continue
			}
			m.logger.Info().Str("profile", profile.Name).Str("url", canonical).Msg("imported mount as new profile")
		} else {
			m.logger.Info().Str("profile", profile.Name).Str("path", entry.Path).Msg("adopted existing mount")
		}

		m.mu.Lock()
		m.statuses[profile.ID] = models.MountStatus{State: models.StateMounted}
		m.mountPaths[profile.ID] = entry.Path
		delete(m.manual, profile.ID)
		m.mu.Unlock()

		m.reconcileURL(ctx, profile, entry.Path)
	}
	return nil
}

// ImportDiscoveredServer resolves a Bonjour-discovered server to a
// profile. Matching is tiered: by advertised hostname first, then by
// normalized URL, and finally by a trial mount that, when it succeeds,
// is kept as a brand new profile. The optional mountPoint hints where
// the trial mount should land; matched profiles keep their own setting.
func (m *Manager) ImportDiscoveredServer(ctx context.Context, hostname, rawURL, mountPoint string) (*models.MountProfile, error) {
	if existing := m.store.FindByBonjourHost(hostname); existing != nil {
		m.adoptDiscoveredHost(existing, rawURL)
		m.mountIfIdle(ctx, existing)
		return existing, nil
	}

	if existing := m.store.FindByURL(rawURL, NormalizeURL); existing != nil {
		existing.BonjourHost = hostname
		existing.UpdatedAt = m.now()
		if err := m.store.Update(existing); err != nil {
			return nil, fmt.Errorf("attach bonjour host: %w", err)
		}
		m.mountIfIdle(ctx, existing)
		return existing, nil
	}

	profile := models.NewMountProfile(shareNameFromURL(rawURL), rawURL)
	profile.BonjourHost = hostname
	profile.MountPoint = mountPoint
	if err := m.Mount(ctx, profile); err != nil {
		return nil, fmt.Errorf("trial mount: %w", err)
	}
	if err := m.store.Add(profile); err != nil {
		return nil, fmt.Errorf("save discovered profile: %w", err)
	}
	m.logger.Info().Str("profile", profile.Name).Str("host", hostname).Msg("imported discovered server")
	return profile, nil
}

// adoptDiscoveredHost rewrites the profile URL's host with the freshly
// resolved one, keeping the stored port. Bonjour hosts resolve to
// different addresses over time; the stored URL tracks the latest.
func (m *Manager) adoptDiscoveredHost(profile *models.MountProfile, rawURL string) {
	discovered, err := url.Parse(rawURL)
	if err != nil || discovered.Hostname() == "" {
		return
	}
	stored, err := url.Parse(profile.URL)
	if err != nil || stored.Hostname() == discovered.Hostname() {
		return
	}

	if port := stored.Port(); port != "" {
		stored.Host = net.JoinHostPort(discovered.Hostname(), port)
	} else {
		stored.Host = discovered.Hostname()
	}
	profile.URL = stored.String()
	if err := m.store.Update(profile); err != nil {
		m.logger.Warn().Err(err).Str("profile", profile.Name).Msg("failed to adopt resolved host")
		return
	}
	m.logger.Info().
		Str("profile", profile.Name).
		Str("host", discovered.Hostname()).
		Msg("profile host updated from discovery")
}

// mountIfIdle mounts a matched profile when it is enabled and not
// already mounted or mounting. Failures are logged only; matching a
// discovered server to a profile must not fail on a flaky mount.
func (m *Manager) mountIfIdle(ctx context.Context, profile *models.MountProfile) {
	if !profile.Enabled || m.IsManuallyUnmounted(profile.ID) {
		return
	}
	switch m.Status(profile.ID).State {
	case models.StateMounted, models.StateMounting:
		return
	}
	if err := m.Mount(ctx, profile); err != nil {
		m.logger.Warn().Err(err).Str("profile", profile.Name).Msg("mount of discovered server failed")
	}
}

// reconcileURL compares the profile URL against what the filesystem
// actually mounted and adopts the actual source, preserving an explicit
// port the mount table dropped. Keeping the stored URL aligned with
// reality makes later scan matching exact.
func (m *Manager) reconcileURL(ctx context.Context, profile *models.MountProfile, path string) {
	source, fstype, ok := m.provider.ActualSource(ctx, path)
	if !ok {
		return
	}

	actual := CanonicalURL(source, fstype)
	merged := mergePreservedPort(actual, profile.URL)
	if NormalizeURL(merged) == NormalizeURL(profile.URL) {
		return
	}

	profile.URL = merged
	profile.UpdatedAt = m.now()
	if err := m.store.Update(profile); err != nil {
		// A trial mount runs before its profile is saved.
		m.logger.Debug().Err(err).Str("profile", profile.Name).Msg("url reconciliation not persisted")
		return
	}
	m.logger.Info().Str("profile", profile.Name).Str("url", merged).Msg("reconciled profile url")
}

// record appends to the journal, if one is configured. Journal failures
// never affect mount outcomes.
func (m *Manager) record(ctx context.Context, profile *models.MountProfile, event models.HistoryEventType, detail string) {
	if m.journal == nil {
		return
	}
	entry := &models.HistoryEvent{
		ID:          uuid.NewString(),
		ProfileID:   profile.ID.String(),
		ProfileName: profile.Name,
		Event:       event,
		Detail:      detail,
		CreatedAt:   m.now(),
	}
	if err := m.journal.Append(ctx, entry); err != nil {
		m.logger.Warn().Err(err).Str("event", string(event)).Msg("failed to journal mount event")
	}
}
