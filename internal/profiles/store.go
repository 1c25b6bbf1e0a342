// Package profiles provides the persisted mount-profile store. Profiles
// are kept as a single JSON document that is rewritten wholesale on every
// mutation; profile counts are small so write-through is cheap.
package profiles

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/PelicanWorks/mountkeeper/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrProfileNotFound is returned when a profile ID has no stored profile.
var ErrProfileNotFound = errors.New("profile not found")

// DefaultConfigDir returns the default config directory (~/.mountkeeper).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".mountkeeper"), nil
}

// DefaultStorePath returns the default profile store path
// (~/.mountkeeper/profiles.json).
func DefaultStorePath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profiles.json"), nil
}

// Store holds the set of mount profiles and persists them to disk.
// It is the single source of truth for persisted profiles; all mutation
// goes through Add/Update/Delete, each of which persists synchronously.
type Store struct {
	path   string
	logger zerolog.Logger

	mu       sync.RWMutex
	profiles []*models.MountProfile
}

// NewStore creates a store backed by the JSON document at path and loads
// any existing profiles. A missing file yields an empty store. Legacy
// profile shapes are migrated on load and the file is rewritten once.
func NewStore(path string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger.With().Str("component", "profile_store").Logger(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug().Str("path", s.path).Msg("no profile store yet, starting empty")
			return nil
		}
		return fmt.Errorf("read profile store: %w", err)
	}

	var profiles []*models.MountProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return fmt.Errorf("parse profile store: %w", err)
	}
	s.profiles = profiles

	// Migration may have changed the decoded shape; persisting once keeps
	// the on-disk document in the current format.
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, data); err != nil {
		compacted.Reset()
	}
	migrated, err := json.Marshal(profiles)
	if err == nil && compacted.String() != string(migrated) {
		if err := s.persistLocked(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to rewrite migrated profile store")
		} else {
			s.logger.Info().Int("profiles", len(profiles)).Msg("profile store migrated to current format")
		}
	}

	s.logger.Info().Int("profiles", len(profiles)).Str("path", s.path).Msg("profile store loaded")
	return nil
}

// persistLocked writes the whole store to disk. Callers must hold the lock
// or be the only accessor.
func (s *Store) persistLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := json.MarshalIndent(s.profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profiles: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write profile store: %w", err)
	}
	return nil
}

// List returns a snapshot of all profiles. Every accessor returns deep
// copies; the stored structs are only ever touched under the store lock,
// so callers can read and mutate their copies without synchronizing.
func (s *Store) List() []*models.MountProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.MountProfile, len(s.profiles))
	for i, p := range s.profiles {
		out[i] = p.Clone()
	}
	return out
}

// Get returns a copy of the profile with the given ID.
func (s *Store) Get(id uuid.UUID) (*models.MountProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if p.ID == id {
			return p.Clone(), nil
		}
	}
	return nil, ErrProfileNotFound
}

// GetByName returns a copy of the first profile with a matching name.
func (s *Store) GetByName(name string) (*models.MountProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if p.Name == name {
			return p.Clone(), nil
		}
	}
	return nil, ErrProfileNotFound
}

// FindByBonjourHost returns a copy of the profile whose stored Bonjour
// hostname matches, or nil when none does.
func (s *Store) FindByBonjourHost(hostname string) *models.MountProfile {
	if hostname == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if p.BonjourHost == hostname {
			return p.Clone()
		}
	}
	return nil
}

// FindByURL returns a copy of the profile whose URL matches under the
// given normalizer, or nil when none does.
func (s *Store) FindByURL(rawURL string, normalize func(string) string) *models.MountProfile {
	target := normalize(rawURL)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if normalize(p.URL) == target {
			return p.Clone()
		}
	}
	return nil
}

// Add validates, stores, and persists a new profile.
func (s *Store) Add(profile *models.MountProfile) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("validate profile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.profiles {
		if p.ID == profile.ID {
			return fmt.Errorf("profile %s already exists", profile.ID)
		}
	}

	s.profiles = append(s.profiles, profile.Clone())
	if err := s.persistLocked(); err != nil {
		s.profiles = s.profiles[:len(s.profiles)-1]
		return err
	}

	s.logger.Info().
		Str("profile_id", profile.ID.String()).
		Str("name", profile.Name).
		Msg("profile added")
	return nil
}

// Update replaces the stored profile with the same ID and persists.
func (s *Store) Update(profile *models.MountProfile) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("validate profile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.profiles {
		if p.ID == profile.ID {
			profile.UpdatedAt = time.Now()
			prev := s.profiles[i]
			s.profiles[i] = profile.Clone()
			if err := s.persistLocked(); err != nil {
				s.profiles[i] = prev
				return err
			}
			s.logger.Debug().
				Str("profile_id", profile.ID.String()).
				Msg("profile updated")
			return nil
		}
	}
	return ErrProfileNotFound
}

// Delete removes the profile with the given ID and persists.
func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.profiles {
		if p.ID == id {
			removed := s.profiles[i]
			s.profiles = append(s.profiles[:i], s.profiles[i+1:]...)
			if err := s.persistLocked(); err != nil {
				s.profiles = append(s.profiles[:i], append([]*models.MountProfile{removed}, s.profiles[i:]...)...)
				return err
			}
			s.logger.Info().
				Str("profile_id", id.String()).
				Str("name", removed.Name).
				Msg("profile deleted")
			return nil
		}
	}
	return ErrProfileNotFound
}

// Count returns the number of stored profiles.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}
