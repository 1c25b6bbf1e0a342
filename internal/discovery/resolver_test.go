package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/PelicanWorks/mountkeeper/internal/models"
	"github.com/rs/zerolog"
)

type fakeResolver struct {
	addr string
	err  error
}

func (f *fakeResolver) Resolve(ctx context.Context, hostname string) (string, error) {
	return f.addr, f.err
}

type fakeStore struct {
	profiles []*models.MountProfile
	updates  int
	err      error
}

func (f *fakeStore) List() []*models.MountProfile { return f.profiles }

func (f *fakeStore) Update(profile *models.MountProfile) error {
	if f.err != nil {
		return f.err
	}
	f.updates++
	return nil
}

func advertisedProfile(url, host string) *models.MountProfile {
	p := models.NewMountProfile("media", url)
	p.BonjourHost = host
	return p
}

func TestRefreshProfileRewritesDriftedHost(t *testing.T) {
	profile := advertisedProfile("smb://10.0.1.5/media", "nas.local")
	store := &fakeStore{}
	svc := NewService(store, &fakeResolver{addr: "10.0.1.9"}, zerolog.Nop())

	changed, err := svc.RefreshProfile(context.Background(), profile)
	if err != nil {
		t.Fatalf("RefreshProfile: %v", err)
	}
	if !changed {
		t.Fatal("drifted address should report a change")
	}
	if profile.URL != "smb://10.0.1.9/media" {
		t.Errorf("URL = %q, want smb://10.0.1.9/media", profile.URL)
	}
	if store.updates != 1 {
		t.Errorf("updates = %d, want 1", store.updates)
	}
}

func TestRefreshProfilePreservesPort(t *testing.T) {
	profile := advertisedProfile("smb://10.0.1.5:4450/media", "nas.local")
	store := &fakeStore{}
	svc := NewService(store, &fakeResolver{addr: "10.0.1.9"}, zerolog.Nop())

	if _, err := svc.RefreshProfile(context.Background(), profile); err != nil {
		t.Fatalf("RefreshProfile: %v", err)
	}
	if profile.URL != "smb://10.0.1.9:4450/media" {
		t.Errorf("URL = %q, want smb://10.0.1.9:4450/media", profile.URL)
	}
}

func TestRefreshProfileStableAddressIsNoop(t *testing.T) {
	profile := advertisedProfile("smb://10.0.1.5/media", "nas.local")
	store := &fakeStore{}
	svc := NewService(store, &fakeResolver{addr: "10.0.1.5"}, zerolog.Nop())

	changed, err := svc.RefreshProfile(context.Background(), profile)
	if err != nil {
		t.Fatalf("RefreshProfile: %v", err)
	}
	if changed || store.updates != 0 {
		t.Errorf("stable address must not rewrite, changed=%v updates=%d", changed, store.updates)
	}
}

func TestRefreshProfileWithoutAdvertisedHost(t *testing.T) {
	profile := models.NewMountProfile("media", "smb://nas.local/media")
	svc := NewService(&fakeStore{}, &fakeResolver{addr: "10.0.1.9"}, zerolog.Nop())

	changed, err := svc.RefreshProfile(context.Background(), profile)
	if err != nil || changed {
		t.Errorf("non-advertised profile should be skipped, changed=%v err=%v", changed, err)
	}
}

func TestRefreshAllCarriesOnAfterFailure(t *testing.T) {
	broken := advertisedProfile("smb://10.0.1.5/a", "dead.local")
	healthy := advertisedProfile("smb://10.0.1.6/b", "nas.local")
	store := &fakeStore{profiles: []*models.MountProfile{broken, healthy}}

	resolver := &routingResolver{addrs: map[string]string{"nas.local": "10.0.1.9"}}
	svc := NewService(store, resolver, zerolog.Nop())

	svc.RefreshAll(context.Background())
	if healthy.URL != "smb://10.0.1.9/b" {
		t.Errorf("healthy profile not refreshed: %q", healthy.URL)
	}
}

type routingResolver struct {
	addrs map[string]string
}

func (r *routingResolver) Resolve(ctx context.Context, hostname string) (string, error) {
	if addr, ok := r.addrs[hostname]; ok {
		return addr, nil
	}
	return "", errors.New("no such host")
}
