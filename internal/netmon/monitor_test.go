package netmon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/PelicanWorks/mountkeeper/internal/models"
	"github.com/PelicanWorks/mountkeeper/internal/rules"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeMounter struct {
	mu         sync.Mutex
	statuses   map[uuid.UUID]models.MountStatus
	manual     map[uuid.UUID]bool
	cooldown   map[uuid.UUID]bool
	marked     []uuid.UUID
	mounted    chan uuid.UUID
	scans      int
	detections int
}

func newFakeMounter() *fakeMounter {
	return &fakeMounter{
		statuses: make(map[uuid.UUID]models.MountStatus),
		manual:   make(map[uuid.UUID]bool),
		cooldown: make(map[uuid.UUID]bool),
		mounted:  make(chan uuid.UUID, 16),
	}
}

func (f *fakeMounter) Mount(ctx context.Context, profile *models.MountProfile) error {
	f.mounted <- profile.ID
	return nil
}

func (f *fakeMounter) Status(id uuid.UUID) models.MountStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.statuses[id]; ok {
		return s
	}
	return models.MountStatus{State: models.StateUnmounted}
}

func (f *fakeMounter) IsManuallyUnmounted(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.manual[id]
}

func (f *fakeMounter) InCooldown(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cooldown[id]
}

func (f *fakeMounter) MarkAutoMountAttempt(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, id)
}

func (f *fakeMounter) ScanAndImportMounts(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	return nil
}

func (f *fakeMounter) DetectExternalUnmounts(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detections++
	return nil
}

type fakeLister struct {
	profiles []*models.MountProfile
}

func (f *fakeLister) List() []*models.MountProfile { return f.profiles }

type fakeContext struct {
	ctx rules.Context
}

func (f *fakeContext) Collect(ctx context.Context) rules.Context { return f.ctx }

type fakeWatcher struct {
	mu          sync.Mutex
	fingerprint string
	available   bool
}

func (f *fakeWatcher) Fingerprint(ctx context.Context) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fingerprint, f.available
}

func (f *fakeWatcher) set(fingerprint string, available bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fingerprint = fingerprint
	f.available = available
}

func autoProfile(name string) *models.MountProfile {
	p := models.NewMountProfile(name, "smb://nas.local/"+name)
	p.AutoMount = true
	return p
}

func newTestMonitor(mounter *fakeMounter, lister *fakeLister, watcher *fakeWatcher) *Monitor {
	return NewMonitor(Config{
		Mounter:          mounter,
		Profiles:         lister,
		Context:          &fakeContext{},
		Watcher:          watcher,
		PollInterval:     10 * time.Millisecond,
		StartupSettle:    time.Millisecond,
		TransitionSettle: time.Millisecond,
		Logger:           zerolog.Nop(),
	})
}

func waitForMount(t *testing.T, mounter *fakeMounter, want uuid.UUID) {
	t.Helper()
	select {
	case got := <-mounter.mounted:
		if got != want {
			t.Fatalf("mounted %s, want %s", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mount")
	}
}

func TestCheckAutoMountGates(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *models.MountProfile, m *fakeMounter)
		want  bool
	}{
		{"eligible", func(p *models.MountProfile, m *fakeMounter) {}, true},
		{"disabled", func(p *models.MountProfile, m *fakeMounter) {
			p.Enabled = false
		}, false},
		{"auto-mount off", func(p *models.MountProfile, m *fakeMounter) {
			p.AutoMount = false
		}, false},
		{"manually unmounted", func(p *models.MountProfile, m *fakeMounter) {
			m.manual[p.ID] = true
		}, false},
		{"already mounted", func(p *models.MountProfile, m *fakeMounter) {
			m.statuses[p.ID] = models.MountStatus{State: models.StateMounted}
		}, false},
		{"mount in flight", func(p *models.MountProfile, m *fakeMounter) {
			m.statuses[p.ID] = models.MountStatus{State: models.StateMounting}
		}, false},
		{"in cooldown", func(p *models.MountProfile, m *fakeMounter) {
			m.cooldown[p.ID] = true
		}, false},
		{"rules not satisfied", func(p *models.MountProfile, m *fakeMounter) {
			p.Rules = []models.MountRule{{
				Type: models.RuleTypeWiFi, Operator: models.OperatorEquals, Value: "Home",
			}}
		}, false},
		{"error state retries", func(p *models.MountProfile, m *fakeMounter) {
			m.statuses[p.ID] = models.MountStatus{State: models.StateError, Message: "boom"}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := autoProfile("media")
			mounter := newFakeMounter()
			tt.setup(profile, mounter)
			monitor := newTestMonitor(mounter, &fakeLister{}, &fakeWatcher{})

			got := monitor.CheckAutoMount(context.Background(), profile, rules.Context{})
			if got != tt.want {
				t.Fatalf("CheckAutoMount = %v, want %v", got, tt.want)
			}
			if tt.want {
				if len(mounter.marked) != 1 {
					t.Errorf("attempt not recorded for cooldown")
				}
				waitForMount(t, mounter, profile.ID)
			}
		})
	}
}

func TestCheckAutoMountRecordsAttemptBeforeMount(t *testing.T) {
	profile := autoProfile("media")
	mounter := newFakeMounter()
	monitor := newTestMonitor(mounter, &fakeLister{}, &fakeWatcher{})

	if !monitor.CheckAutoMount(context.Background(), profile, rules.Context{}) {
		t.Fatal("profile should be eligible")
	}
	// The attempt is recorded synchronously so a second sweep arriving
	// before the mount finishes hits the cooldown gate.
	if len(mounter.marked) != 1 {
		t.Fatal("attempt must be recorded before the mount returns")
	}
	mounter.cooldown[profile.ID] = true
	if monitor.CheckAutoMount(context.Background(), profile, rules.Context{}) {
		t.Error("second check inside cooldown must not mount")
	}
	waitForMount(t, mounter, profile.ID)
}

func TestSweepEvaluatesRulesAgainstContext(t *testing.T) {
	home := autoProfile("home-share")
	home.Rules = []models.MountRule{{
		Type: models.RuleTypeWiFi, Operator: models.OperatorEquals, Value: "Home",
	}}
	office := autoProfile("office-share")
	office.Rules = []models.MountRule{{
		Type: models.RuleTypeWiFi, Operator: models.OperatorEquals, Value: "Office",
	}}

	mounter := newFakeMounter()
	monitor := NewMonitor(Config{
		Mounter:  mounter,
		Profiles: &fakeLister{profiles: []*models.MountProfile{home, office}},
		Context:  &fakeContext{ctx: rules.Context{SSIDKnown: true, SSID: "Home"}},
		Watcher:  &fakeWatcher{},
		Logger:   zerolog.Nop(),
	})

	monitor.Sweep(context.Background())
	waitForMount(t, mounter, home.ID)

	select {
	case got := <-mounter.mounted:
		t.Fatalf("unexpected mount of %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitorSweepsOnNetworkTransition(t *testing.T) {
	profile := autoProfile("media")
	mounter := newFakeMounter()
	watcher := &fakeWatcher{}
	monitor := newTestMonitor(mounter, &fakeLister{profiles: []*models.MountProfile{profile}}, watcher)

	ctx := context.Background()
	if err := monitor.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer monitor.Stop()

	// No network at startup: nothing mounts.
	select {
	case got := <-mounter.mounted:
		t.Fatalf("unexpected mount of %s before network came up", got)
	case <-time.After(50 * time.Millisecond):
	}

	watcher.set("en0=10.0.1.10/24", true)
	waitForMount(t, mounter, profile.ID)
}

func TestMonitorScansAtStartup(t *testing.T) {
	mounter := newFakeMounter()
	monitor := newTestMonitor(mounter, &fakeLister{}, &fakeWatcher{})

	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.After(time.Second)
	for {
		mounter.mu.Lock()
		scans := mounter.scans
		mounter.mu.Unlock()
		if scans > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("startup scan never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	monitor.Stop()
}
