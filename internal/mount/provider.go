package mount

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/PelicanWorks/mountkeeper/internal/models"
	"github.com/rs/zerolog"
)

// Provider performs the actual OS-level mount and unmount operations.
// Mountkeeper never implements a share protocol itself; it drives the
// platform mount utilities through this interface.
type Provider interface {
	// Mount mounts the share at url onto mountPoint (or a provider-chosen
	// path when mountPoint is empty) and returns the actual mount path.
	// Soft-mount semantics are required: an unreachable share must fail
	// fast rather than hang.
	Mount(ctx context.Context, rawURL, mountPoint string) (string, error)

	// Unmount unmounts the filesystem at path.
	Unmount(ctx context.Context, path string) error

	// ActualSource reports the filesystem-level source string and type
	// for a mounted path, when known.
	ActualSource(ctx context.Context, path string) (string, models.FilesystemType, bool)

	// ListNetworkMounts enumerates currently-mounted network filesystems.
	ListNetworkMounts(ctx context.Context) ([]models.MountEntry, error)
}

// CommandProvider drives the platform mount utilities. It supports the
// SMB/CIFS, AFP, NFS, and WebDAV families with soft-mount options so a
// dead share fails fast instead of blocking.
type CommandProvider struct {
	// BasePath is where provider-chosen mount points are created when a
	// profile has no explicit mount point.
	BasePath string
	logger   zerolog.Logger
}

// NewCommandProvider creates a provider that places unnamed mounts under
// basePath.
func NewCommandProvider(basePath string, logger zerolog.Logger) *CommandProvider {
	return &CommandProvider{
		BasePath: basePath,
		logger:   logger.With().Str("component", "mount_provider").Logger(),
	}
}

// Mount implements Provider.
func (p *CommandProvider) Mount(ctx context.Context, rawURL, mountPoint string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	target := mountPoint
	if target == "" {
		target = p.choosePath(shareNameFromURL(rawURL))
		if err := os.MkdirAll(target, 0755); err != nil {
			return "", fmt.Errorf("create mount directory: %w", err)
		}
	}

	name, args, err := mountCommand(parsed, target)
	if err != nil {
		return "", err
	}

	p.logger.Debug().Str("url", rawURL).Str("target", target).Strs("args", args).Msg("mounting")

	cmd := exec.CommandContext(ctx, name, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("%s: %s: %w", name, strings.TrimSpace(string(out)), err)
	}
	return target, nil
}

// choosePath picks a mount path under BasePath, appending a numeric
// suffix when the preferred path is already a mount point.
func (p *CommandProvider) choosePath(name string) string {
	candidate := filepath.Join(p.BasePath, name)
	for i := 1; ; i++ {
		if !isActiveMountPoint(candidate) {
			return candidate
		}
		candidate = filepath.Join(p.BasePath, fmt.Sprintf("%s-%d", name, i))
	}
}

func isActiveMountPoint(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if !info.IsDir() {
		return true
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return true
	}
	return len(entries) > 0
}

// mountCommand builds the platform mount invocation for the target URL.
func mountCommand(u *url.URL, target string) (string, []string, error) {
	scheme := strings.ToLower(u.Scheme)

	switch runtime.GOOS {
	case "darwin":
		switch scheme {
		case "smb", "cifs":
			return "mount_smbfs", []string{"-o", "soft", "//" + hostPart(u) + u.Path, target}, nil
		case "afp":
			return "mount_afp", []string{"-o", "soft", u.String(), target}, nil
		case "nfs":
			return "mount", []string{"-t", "nfs", "-o", "soft,resvport", u.Host + ":" + u.Path, target}, nil
		case "http", "https", "webdav":
			return "mount_webdav", []string{"-s", u.String(), target}, nil
		case "ftp":
			return "mount_ftp", []string{u.String(), target}, nil
		}
	default:
		switch scheme {
		case "smb", "cifs":
			opts := "soft,guest"
			if u.User != nil {
				opts = "soft,username=" + u.User.Username()
			}
			return "mount", []string{"-t", "cifs", "-o", opts, "//" + u.Hostname() + u.Path, target}, nil
		case "nfs":
			return "mount", []string{"-t", "nfs", "-o", "soft,timeo=30,retrans=2", u.Host + ":" + u.Path, target}, nil
		case "http", "https", "webdav":
			return "mount.davfs", []string{u.String(), target}, nil
		}
	}
	return "", nil, fmt.Errorf("unsupported scheme %q on %s", scheme, runtime.GOOS)
}

// hostPart returns user@host:port as it appears in SMB mount sources.
func hostPart(u *url.URL) string {
	host := u.Host
	if u.User != nil {
		host = u.User.Username() + "@" + host
	}
	return host
}

// Unmount implements Provider. It tries the platform unmounter first and
// falls back to plain umount.
func (p *CommandProvider) Unmount(ctx context.Context, path string) error {
	var primary *exec.Cmd
	if runtime.GOOS == "darwin" {
		primary = exec.CommandContext(ctx, "diskutil", "unmount", path)
	} else {
		primary = exec.CommandContext(ctx, "umount", path)
	}

	if err := primary.Run(); err == nil {
		return nil
	}

	p.logger.Warn().Str("path", path).Msg("primary unmount failed, retrying with umount")
	if out, err := exec.CommandContext(ctx, "umount", path).CombinedOutput(); err != nil {
		return fmt.Errorf("umount: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// ActualSource implements Provider by scanning the mount table for the
// given path.
func (p *CommandProvider) ActualSource(ctx context.Context, path string) (string, models.FilesystemType, bool) {
	entries, err := p.ListNetworkMounts(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to list mounts for source lookup")
		return "", "", false
	}
	for _, entry := range entries {
		if entry.Path == path {
			return entry.Source, entry.FSType, true
		}
	}
	return "", "", false
}

// ListNetworkMounts implements Provider.
func (p *CommandProvider) ListNetworkMounts(ctx context.Context) ([]models.MountEntry, error) {
	switch runtime.GOOS {
	case "linux":
		return listLinuxMounts()
	case "darwin":
		return listDarwinMounts(ctx)
	default:
		return nil, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}

// listLinuxMounts parses /proc/mounts for network filesystems.
func listLinuxMounts() ([]models.MountEntry, error) {
	file, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, fmt.Errorf("open /proc/mounts: %w", err)
	}
	defer file.Close()

	var entries []models.MountEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}

		fstype, ok := networkFSType(fields[2])
		if !ok {
			continue
		}
		entries = append(entries, models.MountEntry{
			FSType: fstype,
			Source: unescapeProcMounts(fields[0]),
			Path:   unescapeProcMounts(fields[1]),
		})
	}
	return entries, scanner.Err()
}

// unescapeProcMounts decodes the octal escapes /proc/mounts uses for
// spaces and other separators.
func unescapeProcMounts(s string) string {
	replacer := strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)
	return replacer.Replace(s)
}

// listDarwinMounts parses `mount` output. Lines look like:
// //user@nas.local/share on /Volumes/share (smbfs, nodev, nosuid)
func listDarwinMounts(ctx context.Context) ([]models.MountEntry, error) {
	out, err := exec.CommandContext(ctx, "mount").Output()
	if err != nil {
		return nil, fmt.Errorf("run mount: %w", err)
	}

	var entries []models.MountEntry
	for _, line := range strings.Split(string(out), "\n") {
		parts := strings.SplitN(line, " on ", 2)
		if len(parts) != 2 {
			continue
		}

		rest := parts[1]
		open := strings.LastIndex(rest, " (")
		if open == -1 {
			continue
		}

		typeInfo := strings.TrimRight(rest[open+2:], ")")
		if idx := strings.Index(typeInfo, ","); idx != -1 {
			typeInfo = typeInfo[:idx]
		}
		fstype, ok := networkFSType(strings.TrimSpace(typeInfo))
		if !ok {
			continue
		}

		entries = append(entries, models.MountEntry{
			FSType: fstype,
			Source: parts[0],
			Path:   rest[:open],
		})
	}
	return entries, nil
}

// networkFSType maps a raw filesystem type string to the network
// filesystem families Mountkeeper tracks.
func networkFSType(raw string) (models.FilesystemType, bool) {
	switch strings.ToLower(raw) {
	case "smbfs":
		return models.FSTypeSMB, true
	case "cifs":
		return models.FSTypeCIFS, true
	case "afpfs":
		return models.FSTypeAFP, true
	case "nfs", "nfs4":
		return models.FSTypeNFS, true
	case "webdav", "davfs":
		return models.FSTypeWebDAV, true
	default:
		return "", false
	}
}
