package mount

import (
	"errors"
	"fmt"
)

// ErrNotMounted is returned when an unmount is requested for a profile
// with no recorded mount path.
var ErrNotMounted = errors.New("profile is not mounted")

// InvalidTargetError indicates a malformed connection URL. Fatal to the
// mount attempt; no retry is scheduled automatically.
type InvalidTargetError struct {
	URL    string
	Reason string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid mount target %q: %s", e.URL, e.Reason)
}

// DirectoryCreationError indicates the configured mount point could not
// be created. Fatal to the mount attempt.
type DirectoryCreationError struct {
	Path string
	Err  error
}

func (e *DirectoryCreationError) Error() string {
	return fmt.Sprintf("create mount point %s: %v", e.Path, e.Err)
}

func (e *DirectoryCreationError) Unwrap() error { return e.Err }

// ProviderError indicates the mount provider itself failed. Fatal to the
// attempt; eligible for retry via the next sweep or explicit user action.
type ProviderError struct {
	URL string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("mount %s: %v", e.URL, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// UnmountError indicates the provider failed to unmount a path. The
// profile's status is deliberately left unchanged: the real state of the
// mount is ambiguous and no automatic retry is attempted.
type UnmountError struct {
	Path string
	Err  error
}

func (e *UnmountError) Error() string {
	return fmt.Sprintf("unmount %s: %v", e.Path, e.Err)
}

func (e *UnmountError) Unwrap() error { return e.Err }
