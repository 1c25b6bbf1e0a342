// Package netmon watches network state and drives the auto-mount sweep.
// It reacts to connectivity transitions, runs a periodic safety sweep,
// and notices mounts that disappeared behind the engine's back.
package netmon

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PelicanWorks/mountkeeper/internal/models"
	"github.com/PelicanWorks/mountkeeper/internal/rules"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	gopsnet "github.com/shirou/gopsutil/v3/net"
)

const (
	// DefaultPollInterval is how often network state is sampled.
	DefaultPollInterval = 2 * time.Second
	// DefaultStartupSettle is the pause before the first sweep, letting
	// interfaces finish coming up after daemon start.
	DefaultStartupSettle = 1 * time.Second
	// DefaultTransitionSettle is the pause after a network transition
	// before sweeping, letting DHCP and DNS settle.
	DefaultTransitionSettle = 2 * time.Second
	// DefaultSweepSpec schedules the periodic safety sweep.
	DefaultSweepSpec = "@every 1m"
)

// Mounter is the slice of the mount manager the monitor drives.
type Mounter interface {
	Mount(ctx context.Context, profile *models.MountProfile) error
	Status(id uuid.UUID) models.MountStatus
	IsManuallyUnmounted(id uuid.UUID) bool
	InCooldown(id uuid.UUID) bool
	MarkAutoMountAttempt(id uuid.UUID)
	ScanAndImportMounts(ctx context.Context) error
	DetectExternalUnmounts(ctx context.Context) error
}

// ProfileLister provides the profiles eligible for sweeping.
type ProfileLister interface {
	List() []*models.MountProfile
}

// ContextSource supplies live system context for rule evaluation.
type ContextSource interface {
	Collect(ctx context.Context) rules.Context
}

// SweepRecorder counts executed sweeps.
type SweepRecorder interface {
	RecordSweep()
}

// PathWatcher samples the network and reduces it to a fingerprint. The
// fingerprint changes whenever connectivity meaningfully changes; the
// boolean reports whether any usable network is up at all.
type PathWatcher interface {
	Fingerprint(ctx context.Context) (string, bool)
}

// InterfaceWatcher fingerprints the set of up, non-loopback interfaces
// and their addresses.
type InterfaceWatcher struct{}

// Fingerprint implements PathWatcher.
func (InterfaceWatcher) Fingerprint(ctx context.Context) (string, bool) {
	ifaces, err := gopsnet.InterfacesWithContext(ctx)
	if err != nil {
		return "", false
	}

	var parts []string
	for _, iface := range ifaces {
		up, loopback := false, false
		for _, flag := range iface.Flags {
			switch strings.ToLower(flag) {
			case "up":
				up = true
			case "loopback":
				loopback = true
			}
		}
		if !up || loopback || len(iface.Addrs) == 0 {
			continue
		}
		for _, addr := range iface.Addrs {
			parts = append(parts, iface.Name+"="+addr.Addr)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ","), len(parts) > 0
}

// Config carries the monitor's collaborators and timing knobs.
type Config struct {
	Mounter  Mounter
	Profiles ProfileLister
	Context  ContextSource
	Watcher  PathWatcher
	Metrics  SweepRecorder

	PollInterval     time.Duration
	StartupSettle    time.Duration
	TransitionSettle time.Duration
	SweepSpec        string

	Logger zerolog.Logger
}

// Monitor owns the auto-mount control loop.
type Monitor struct {
	mounter  Mounter
	profiles ProfileLister
	context  ContextSource
	watcher  PathWatcher
	metrics  SweepRecorder

	pollInterval     time.Duration
	startupSettle    time.Duration
	transitionSettle time.Duration
	sweepSpec        string

	logger zerolog.Logger

	cron    *cron.Cron
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewMonitor creates a monitor. Zero timing values fall back to the
// package defaults.
func NewMonitor(cfg Config) *Monitor {
	m := &Monitor{
		mounter:          cfg.Mounter,
		profiles:         cfg.Profiles,
		context:          cfg.Context,
		watcher:          cfg.Watcher,
		metrics:          cfg.Metrics,
		pollInterval:     cfg.PollInterval,
		startupSettle:    cfg.StartupSettle,
		transitionSettle: cfg.TransitionSettle,
		sweepSpec:        cfg.SweepSpec,
		logger:           cfg.Logger.With().Str("component", "netmon").Logger(),
		stopCh:           make(chan struct{}),
	}
	if m.watcher == nil {
		m.watcher = InterfaceWatcher{}
	}
	if m.pollInterval <= 0 {
		m.pollInterval = DefaultPollInterval
	}
	if m.startupSettle <= 0 {
		m.startupSettle = DefaultStartupSettle
	}
	if m.transitionSettle <= 0 {
		m.transitionSettle = DefaultTransitionSettle
	}
	if m.sweepSpec == "" {
		m.sweepSpec = DefaultSweepSpec
	}
	return m
}

// Start launches the control loop and the periodic safety sweep.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.sweepSpec, func() {
		m.logger.Debug().Msg("periodic safety sweep")
		m.Sweep(ctx)
	}); err != nil {
		return err
	}
	m.cron.Start()

	m.wg.Add(1)
	go m.run(ctx)

	m.logger.Info().Str("sweep", m.sweepSpec).Dur("poll", m.pollInterval).Msg("network monitor started")
	return nil
}

// Stop shuts the monitor down and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.mu.Unlock()

	close(m.stopCh)
	if m.cron != nil {
		m.cron.Stop()
	}
	m.wg.Wait()
	m.logger.Info().Msg("network monitor stopped")
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	if !m.sleep(ctx, m.startupSettle) {
		return
	}

	if err := m.mounter.ScanAndImportMounts(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("startup mount scan failed")
	}

	fingerprint, available := m.watcher.Fingerprint(ctx)
	if available {
		m.Sweep(ctx)
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := m.mounter.DetectExternalUnmounts(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("external unmount detection failed")
		}

		current, nowAvailable := m.watcher.Fingerprint(ctx)
		if current == fingerprint {
			continue
		}
		m.logger.Info().Bool("available", nowAvailable).Msg("network transition detected")
		fingerprint = current

		if !nowAvailable {
			continue
		}
		if !m.sleep(ctx, m.transitionSettle) {
			return
		}
		m.Sweep(ctx)
	}
}

// sleep pauses for d, returning false when the monitor is stopping.
func (m *Monitor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-m.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// Sweep evaluates every profile once and starts mounts for those whose
// conditions hold.
func (m *Monitor) Sweep(ctx context.Context) {
	if m.metrics != nil {
		m.metrics.RecordSweep()
	}
	rctx := m.context.Collect(ctx)
	for _, profile := range m.profiles.List() {
		m.CheckAutoMount(ctx, profile, rctx)
	}
}

// CheckAutoMount decides whether one profile should be auto-mounted
// right now. The gates are ordered from cheapest to most expensive, and
// the manual-unmount gate comes before any state inspection so a user
// eject is never overridden.
func (m *Monitor) CheckAutoMount(ctx context.Context, profile *models.MountProfile, rctx rules.Context) bool {
	if !profile.Enabled || !profile.AutoMount {
		return false
	}
	if m.mounter.IsManuallyUnmounted(profile.ID) {
		return false
	}
	switch m.mounter.Status(profile.ID).State {
	case models.StateMounted, models.StateMounting:
		return false
	}
	if m.mounter.InCooldown(profile.ID) {
		return false
	}
	if !rules.Evaluate(profile, rctx) {
		return false
	}

	m.mounter.MarkAutoMountAttempt(profile.ID)
	m.logger.Info().Str("profile", profile.Name).Msg("auto-mounting")
	go func(p *models.MountProfile) {
		if err := m.mounter.Mount(ctx, p); err != nil {
			m.logger.Warn().Err(err).Str("profile", p.Name).Msg("auto-mount failed")
		}
	}(profile)
	return true
}
