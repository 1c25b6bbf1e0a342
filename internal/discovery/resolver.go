// Package discovery keeps profiles for advertised servers pointed at
// the right address. Bonjour hosts re-announce under new IPs after DHCP
// churn; resolving the advertised hostname and rewriting the profile
// URL keeps mounts working without user intervention.
package discovery

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/PelicanWorks/mountkeeper/internal/models"
	"github.com/rs/zerolog"
)

// DefaultResolveTimeout bounds a single hostname lookup.
const DefaultResolveTimeout = 3 * time.Second

// Resolver resolves an advertised hostname to an address.
type Resolver interface {
	Resolve(ctx context.Context, hostname string) (string, error)
}

// ProfileStore is the slice of the profile store the service needs.
type ProfileStore interface {
	List() []*models.MountProfile
	Update(profile *models.MountProfile) error
}

// DNSResolver resolves through the system resolver, which on macOS and
// most Linux setups covers .local names via mDNS.
type DNSResolver struct {
	Timeout time.Duration
}

// Resolve implements Resolver. IPv4 addresses are preferred because the
// platform mount utilities handle them most reliably.
func (r *DNSResolver) Resolve(ctx context.Context, hostname string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, hostname)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", hostname, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("resolve %s: no addresses", hostname)
	}
	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return addrs[0].IP.String(), nil
}

// Service refreshes profile URLs against current hostname resolutions.
type Service struct {
	store    ProfileStore
	resolver Resolver
	logger   zerolog.Logger
}

// NewService creates a discovery service.
func NewService(store ProfileStore, resolver Resolver, logger zerolog.Logger) *Service {
	if resolver == nil {
		resolver = &DNSResolver{}
	}
	return &Service{
		store:    store,
		resolver: resolver,
		logger:   logger.With().Str("component", "discovery").Logger(),
	}
}

// RefreshProfile re-resolves the profile's advertised hostname and
// rewrites the URL host when the address drifted. Profiles without an
// advertised hostname are left alone. Returns true when the URL changed.
func (s *Service) RefreshProfile(ctx context.Context, profile *models.MountProfile) (bool, error) {
	if profile.BonjourHost == "" {
		return false, nil
	}

	addr, err := s.resolver.Resolve(ctx, profile.BonjourHost)
	if err != nil {
		return false, err
	}

	updated, changed, err := replaceHost(profile.URL, addr)
	if err != nil {
		return false, fmt.Errorf("rewrite url: %w", err)
	}
	if !changed {
		return false, nil
	}

	s.logger.Info().Str("profile", profile.Name).Str("host", profile.BonjourHost).Str("addr", addr).Msg("server address drifted")
	profile.URL = updated
	profile.UpdatedAt = time.Now()
	if err := s.store.Update(profile); err != nil {
		return false, fmt.Errorf("persist refreshed url: %w", err)
	}
	return true, nil
}

// RefreshAll refreshes every advertised profile, logging failures and
// carrying on.
func (s *Service) RefreshAll(ctx context.Context) {
	for _, profile := range s.store.List() {
		if profile.BonjourHost == "" {
			continue
		}
		if _, err := s.RefreshProfile(ctx, profile); err != nil {
			s.logger.Warn().Err(err).Str("profile", profile.Name).Msg("refresh failed")
		}
	}
}

// replaceHost swaps the host portion of rawURL, keeping scheme, user,
// port, and path intact.
func replaceHost(rawURL, host string) (string, bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false, err
	}
	if parsed.Hostname() == host {
		return rawURL, false, nil
	}
	if port := parsed.Port(); port != "" {
		parsed.Host = net.JoinHostPort(host, port)
	} else {
		parsed.Host = host
	}
	return parsed.String(), true, nil
}
