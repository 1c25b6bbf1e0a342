// Package sysinfo collects the live system context that mount rules are
// evaluated against: the current Wi-Fi SSID, running applications, and
// active VPN interfaces.
package sysinfo

import (
	"context"
	"os/exec"
	"runtime"
	"strings"

	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/PelicanWorks/mountkeeper/internal/rules"
	"github.com/rs/zerolog"
)

// vpnInterfacePrefixes identifies interface names created by VPN clients.
var vpnInterfacePrefixes = []string{"utun", "tun", "tap", "wg", "ppp", "ipsec"}

// SSIDSource reports the currently associated Wi-Fi network name.
type SSIDSource interface {
	// CurrentSSID returns the SSID and true, or "" and false when there
	// is no Wi-Fi association or it cannot be determined.
	CurrentSSID(ctx context.Context) (string, bool)
}

// Collector assembles a rules.Context snapshot. All lookups are
// best-effort: a failing probe degrades to an empty field rather than an
// error, so a broken collector never blocks the auto-mount sweep.
type Collector struct {
	ssid   SSIDSource
	logger zerolog.Logger
}

// NewCollector creates a context collector using the given SSID source.
func NewCollector(ssid SSIDSource, logger zerolog.Logger) *Collector {
	return &Collector{
		ssid:   ssid,
		logger: logger.With().Str("component", "sysinfo").Logger(),
	}
}

// Collect gathers the current system context.
func (c *Collector) Collect(ctx context.Context) rules.Context {
	out := rules.Context{}

	if c.ssid != nil {
		out.SSID, out.SSIDKnown = c.ssid.CurrentSSID(ctx)
	}

	apps, err := runningApps(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to list running applications")
	}
	out.RunningApps = apps

	vpns, err := vpnInterfaces(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to list network interfaces")
	}
	out.VPNInterfaces = vpns

	return out
}

// runningApps lists the names of currently running processes.
func runningApps(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(procs))
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names, nil
}

// vpnInterfaces lists active interfaces whose names look like VPN tunnels.
func vpnInterfaces(ctx context.Context) ([]string, error) {
	ifaces, err := gopsnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var vpns []string
	for _, iface := range ifaces {
		if !isUp(iface) {
			continue
		}
		name := strings.ToLower(iface.Name)
		for _, prefix := range vpnInterfacePrefixes {
			if strings.HasPrefix(name, prefix) {
				vpns = append(vpns, iface.Name)
				break
			}
		}
	}
	return vpns, nil
}

func isUp(iface gopsnet.InterfaceStat) bool {
	for _, flag := range iface.Flags {
		if strings.EqualFold(flag, "up") {
			return true
		}
	}
	return false
}

// CommandSSIDSource determines the SSID by shelling out to the platform
// tool: iwgetid on Linux, ipconfig on macOS, netsh on Windows.
type CommandSSIDSource struct{}

// CurrentSSID implements SSIDSource.
func (CommandSSIDSource) CurrentSSID(ctx context.Context) (string, bool) {
	switch runtime.GOOS {
	case "linux":
		out, err := exec.CommandContext(ctx, "iwgetid", "-r").Output()
		if err != nil {
			return "", false
		}
		ssid := strings.TrimSpace(string(out))
		return ssid, ssid != ""
	case "darwin":
		out, err := exec.CommandContext(ctx, "ipconfig", "getsummary", "en0").Output()
		if err != nil {
			return "", false
		}
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "SSID :") {
				ssid := strings.TrimSpace(strings.TrimPrefix(line, "SSID :"))
				return ssid, ssid != ""
			}
		}
		return "", false
	case "windows":
		out, err := exec.CommandContext(ctx, "netsh", "wlan", "show", "interfaces").Output()
		if err != nil {
			return "", false
		}
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "SSID") && !strings.HasPrefix(line, "SSID B") {
				parts := strings.SplitN(line, ":", 2)
				if len(parts) == 2 {
					ssid := strings.TrimSpace(parts[1])
					return ssid, ssid != ""
				}
			}
		}
		return "", false
	default:
		return "", false
	}
}
