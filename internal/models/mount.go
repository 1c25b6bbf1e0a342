package models

import "time"

// MountState represents the runtime mount status of a profile. It is
// process-wide state owned by the mount manager and never persisted.
type MountState string

const (
	// StateUnmounted indicates no active mount for the profile.
	StateUnmounted MountState = "unmounted"
	// StateMounting indicates a mount attempt is in flight.
	StateMounting MountState = "mounting"
	// StateMounted indicates the share is mounted.
	StateMounted MountState = "mounted"
	// StateError indicates the last mount attempt failed.
	StateError MountState = "error"
)

// MountStatus is the full runtime status for a profile: the state plus
// the error message when the state is StateError.
type MountStatus struct {
	State   MountState `json:"state"`
	Message string     `json:"message,omitempty"`
}

// FilesystemType identifies the network filesystem of a mounted share.
type FilesystemType string

const (
	// FSTypeSMB covers smbfs mounts.
	FSTypeSMB FilesystemType = "smbfs"
	// FSTypeCIFS covers cifs mounts.
	FSTypeCIFS FilesystemType = "cifs"
	// FSTypeAFP covers afpfs mounts.
	FSTypeAFP FilesystemType = "afpfs"
	// FSTypeNFS covers nfs and nfs4 mounts.
	FSTypeNFS FilesystemType = "nfs"
	// FSTypeWebDAV covers webdav mounts.
	FSTypeWebDAV FilesystemType = "webdav"
)

// MountEntry is one currently-mounted network filesystem as reported by
// the mount provider.
type MountEntry struct {
	FSType FilesystemType `json:"fs_type"`
	Source string         `json:"source"`
	Path   string         `json:"path"`
}

// HistoryEventType classifies entries in the mount-event journal.
type HistoryEventType string

const (
	// HistoryMounted records a successful mount.
	HistoryMounted HistoryEventType = "mounted"
	// HistoryUnmounted records a successful unmount.
	HistoryUnmounted HistoryEventType = "unmounted"
	// HistoryMountFailed records a failed mount attempt.
	HistoryMountFailed HistoryEventType = "mount_failed"
	// HistoryExternalUnmountManual records an external unmount classified
	// as user-initiated.
	HistoryExternalUnmountManual HistoryEventType = "external_unmount_manual"
	// HistoryExternalUnmountNetwork records an external unmount classified
	// as a network drop.
	HistoryExternalUnmountNetwork HistoryEventType = "external_unmount_network"
)

// HistoryEvent is one row of the mount-event journal.
type HistoryEvent struct {
	ID          string           `json:"id"`
	ProfileID   string           `json:"profile_id"`
	ProfileName string           `json:"profile_name"`
	Event       HistoryEventType `json:"event"`
	Detail      string           `json:"detail,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}
