package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/PelicanWorks/mountkeeper/internal/models"
	"github.com/PelicanWorks/mountkeeper/internal/mount"
	"github.com/PelicanWorks/mountkeeper/internal/profiles"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProfileStore defines the profile operations the API needs.
type ProfileStore interface {
	List() []*models.MountProfile
	Get(id uuid.UUID) (*models.MountProfile, error)
	Add(profile *models.MountProfile) error
	Update(profile *models.MountProfile) error
	Delete(id uuid.UUID) error
}

// Mounter defines the mount operations the API needs.
type Mounter interface {
	Mount(ctx context.Context, profile *models.MountProfile) error
	Unmount(ctx context.Context, profile *models.MountProfile) error
	Status(id uuid.UUID) models.MountStatus
	MountPath(id uuid.UUID) (string, bool)
	IsManuallyUnmounted(id uuid.UUID) bool
	ImportDiscoveredServer(ctx context.Context, hostname, rawURL, mountPoint string) (*models.MountProfile, error)
}

// Sweeper triggers an on-demand auto-mount sweep.
type Sweeper interface {
	Sweep(ctx context.Context)
}

// HistoryReader reads the mount-event journal.
type HistoryReader interface {
	ListRecent(ctx context.Context, limit int) ([]models.HistoryEvent, error)
	ListByProfile(ctx context.Context, profileID string, limit int) ([]models.HistoryEvent, error)
}

// Handler serves the daemon API endpoints.
type Handler struct {
	store   ProfileStore
	mounter Mounter
	sweeper Sweeper
	history HistoryReader
	logger  zerolog.Logger
}

// NewHandler creates an API handler.
func NewHandler(store ProfileStore, mounter Mounter, sweeper Sweeper, history HistoryReader, logger zerolog.Logger) *Handler {
	return &Handler{
		store:   store,
		mounter: mounter,
		sweeper: sweeper,
		history: history,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes registers the versioned API routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/profiles", h.ListProfiles)
	r.POST("/profiles", h.CreateProfile)
	r.GET("/profiles/:id", h.GetProfile)
	r.PUT("/profiles/:id", h.UpdateProfile)
	r.DELETE("/profiles/:id", h.DeleteProfile)
	r.POST("/profiles/:id/mount", h.MountProfile)
	r.POST("/profiles/:id/unmount", h.UnmountProfile)
	r.GET("/status", h.Status)
	r.GET("/history", h.History)
	r.POST("/sweep", h.TriggerSweep)
	r.POST("/discovered", h.ImportDiscovered)
}

// Health reports daemon liveness.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// profileStatus is a profile joined with its runtime state.
type profileStatus struct {
	Profile           *models.MountProfile `json:"profile"`
	Status            models.MountStatus   `json:"status"`
	MountPath         string               `json:"mount_path,omitempty"`
	ManuallyUnmounted bool                 `json:"manually_unmounted"`
}

// ListProfiles returns all profiles.
// GET /api/v1/profiles
func (h *Handler) ListProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profiles": h.store.List()})
}

// CreateProfile creates a profile.
// POST /api/v1/profiles
func (h *Handler) CreateProfile(c *gin.Context) {
	var req struct {
		Name        string                    `json:"name" binding:"required"`
		URL         string                    `json:"url" binding:"required"`
		MountPoint  string                    `json:"mount_point"`
		AutoMount   bool                      `json:"auto_mount"`
		Rules       []models.MountRule        `json:"rules"`
		RuleLogic   models.RuleLogic          `json:"rule_logic"`
		Automations []models.AutomationConfig `json:"automations"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile := models.NewMountProfile(req.Name, req.URL)
	profile.MountPoint = req.MountPoint
	profile.AutoMount = req.AutoMount
	profile.Rules = req.Rules
	if req.RuleLogic != "" {
		profile.RuleLogic = req.RuleLogic
	}
	profile.Automations = req.Automations

	if err := profile.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.Add(profile); err != nil {
		h.logger.Error().Err(err).Msg("failed to create profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create profile"})
		return
	}
	c.JSON(http.StatusCreated, profile)
}

// GetProfile returns one profile with its runtime status.
// GET /api/v1/profiles/:id
func (h *Handler) GetProfile(c *gin.Context) {
	profile, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.statusFor(profile))
}

// UpdateProfile replaces a profile's configuration.
// PUT /api/v1/profiles/:id
func (h *Handler) UpdateProfile(c *gin.Context) {
	existing, ok := h.lookup(c)
	if !ok {
		return
	}

	var updated models.MountProfile
	if err := c.ShouldBindJSON(&updated); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt

	if err := updated.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.Update(&updated); err != nil {
		h.logger.Error().Err(err).Msg("failed to update profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}
	c.JSON(http.StatusOK, &updated)
}

// DeleteProfile removes a profile.
// DELETE /api/v1/profiles/:id
func (h *Handler) DeleteProfile(c *gin.Context) {
	profile, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := h.store.Delete(profile.ID); err != nil {
		h.logger.Error().Err(err).Msg("failed to delete profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": profile.ID})
}

// MountProfile mounts a profile now.
// POST /api/v1/profiles/:id/mount
func (h *Handler) MountProfile(c *gin.Context) {
	profile, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := h.mounter.Mount(c.Request.Context(), profile); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "status": h.statusFor(profile)})
		return
	}
	c.JSON(http.StatusOK, h.statusFor(profile))
}

// UnmountProfile unmounts a profile now. The engine treats this as a
// deliberate user action and suppresses auto-remount.
// POST /api/v1/profiles/:id/unmount
func (h *Handler) UnmountProfile(c *gin.Context) {
	profile, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := h.mounter.Unmount(c.Request.Context(), profile); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, mount.ErrNotMounted) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.statusFor(profile))
}

// Status returns runtime status for every profile.
// GET /api/v1/status
func (h *Handler) Status(c *gin.Context) {
	out := make([]profileStatus, 0)
	for _, profile := range h.store.List() {
		out = append(out, h.statusFor(profile))
	}
	c.JSON(http.StatusOK, gin.H{"statuses": out})
}

// History returns the newest journal events, optionally filtered by
// profile.
// GET /api/v1/history?profile_id=...&limit=...
func (h *Handler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	var (
		events []models.HistoryEvent
		err    error
	)
	if profileID := c.Query("profile_id"); profileID != "" {
		events, err = h.history.ListByProfile(c.Request.Context(), profileID, limit)
	} else {
		events, err = h.history.ListRecent(c.Request.Context(), limit)
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ImportDiscovered matches a discovered server announcement to a
// profile, creating one through a validation mount when nothing matches.
// POST /api/v1/discovered
func (h *Handler) ImportDiscovered(c *gin.Context) {
	var req struct {
		Hostname   string `json:"hostname" binding:"required"`
		URL        string `json:"url" binding:"required"`
		MountPoint string `json:"mount_point"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile, err := h.mounter.ImportDiscoveredServer(c.Request.Context(), req.Hostname, req.URL, req.MountPoint)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.statusFor(profile))
}

// TriggerSweep runs an auto-mount sweep immediately.
// POST /api/v1/sweep
func (h *Handler) TriggerSweep(c *gin.Context) {
	h.sweeper.Sweep(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"status": "sweep started"})
}

// lookup resolves the :id path parameter to a profile, writing the
// error response itself when resolution fails.
func (h *Handler) lookup(c *gin.Context) (*models.MountProfile, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile id"})
		return nil, false
	}
	profile, err := h.store.Get(id)
	if err != nil {
		if errors.Is(err, profiles.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return nil, false
		}
		h.logger.Error().Err(err).Msg("failed to load profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return nil, false
	}
	return profile, true
}

func (h *Handler) statusFor(profile *models.MountProfile) profileStatus {
	path, _ := h.mounter.MountPath(profile.ID)
	return profileStatus{
		Profile:           profile,
		Status:            h.mounter.Status(profile.ID),
		MountPath:         path,
		ManuallyUnmounted: h.mounter.IsManuallyUnmounted(profile.ID),
	}
}
