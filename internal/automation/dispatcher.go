// Package automation executes user-configured side-effect tasks (shell
// scripts, application launches, Wake-on-LAN packets) bound to mount
// lifecycle events.
package automation

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/PelicanWorks/mountkeeper/internal/models"
	"github.com/rs/zerolog"
)

// Runner spawns a process and waits for it to exit.
type Runner interface {
	RunProcess(ctx context.Context, path string, args []string) error
}

// Launcher opens an application.
type Launcher interface {
	LaunchApplication(ctx context.Context, path string) error
}

// PacketSender sends a single UDP datagram.
type PacketSender interface {
	SendDatagram(ctx context.Context, addr string, payload []byte) error
}

// TaskRecorder counts automation task outcomes.
type TaskRecorder interface {
	RecordAutomation(kind string, success bool)
}

// Dispatcher runs automations for a lifecycle event. Tasks for one event
// run strictly sequentially in configured order; failures are logged and
// swallowed so an automation can never fail the mount or unmount that
// triggered it.
type Dispatcher struct {
	runner   Runner
	launcher Launcher
	sender   PacketSender
	metrics  TaskRecorder
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher with the given collaborators.
func NewDispatcher(runner Runner, launcher Launcher, sender PacketSender, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		runner:   runner,
		launcher: launcher,
		sender:   sender,
		logger:   logger.With().Str("component", "automation").Logger(),
	}
}

// NewDefaultDispatcher creates a dispatcher backed by the OS process
// launcher and a plain UDP sender.
func NewDefaultDispatcher(logger zerolog.Logger) *Dispatcher {
	return NewDispatcher(execRunner{}, osLauncher{}, udpSender{}, logger)
}

// SetMetrics attaches an outcome recorder.
func (d *Dispatcher) SetMetrics(metrics TaskRecorder) {
	d.metrics = metrics
}

// RunEvent executes all enabled automations of the profile that are bound
// to the given event, in configured order, each awaited before the next.
func (d *Dispatcher) RunEvent(ctx context.Context, event models.LifecycleEvent, profile *models.MountProfile) {
	for i := range profile.Automations {
		task := &profile.Automations[i]
		if !task.Enabled || !task.HasEvent(event) {
			continue
		}

		ok := d.runTask(ctx, event, profile, task)
		if d.metrics != nil {
			d.metrics.RecordAutomation(string(task.Type), ok)
		}

		if task.WaitTime > 0 {
			select {
			case <-time.After(time.Duration(task.WaitTime) * time.Second):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (d *Dispatcher) runTask(ctx context.Context, event models.LifecycleEvent, profile *models.MountProfile, task *models.AutomationConfig) bool {
	log := d.logger.With().
		Str("profile", profile.Name).
		Str("event", string(event)).
		Str("type", string(task.Type)).
		Logger()

	switch task.Type {
	case models.AutomationWOL:
		if err := d.sendWOL(ctx, task); err != nil {
			log.Error().Err(err).Str("mac", task.MACAddress).Msg("wake-on-lan failed")
			return false
		}
		log.Debug().Str("mac", task.MACAddress).Msg("wake-on-lan packet sent")
		return true

	case models.AutomationApp:
		if err := d.launcher.LaunchApplication(ctx, task.Path); err != nil {
			log.Error().Err(err).Str("path", task.Path).Msg("application launch failed")
			return false
		}
		log.Debug().Str("path", task.Path).Msg("application launched")
		return true

	case models.AutomationShell:
		// Script paths that point at an application bundle are launched,
		// not executed.
		if isAppBundle(task.Path) {
			if err := d.launcher.LaunchApplication(ctx, task.Path); err != nil {
				log.Error().Err(err).Str("path", task.Path).Msg("application launch failed")
				return false
			}
			return true
		}
		args := splitArguments(task.Arguments)
		if err := d.runner.RunProcess(ctx, task.Path, args); err != nil {
			log.Error().Err(err).Str("path", task.Path).Msg("script failed")
			return false
		}
		log.Debug().Str("path", task.Path).Msg("script completed")
		return true

	default:
		log.Warn().Msg("unknown automation type, skipping")
		return false
	}
}

func (d *Dispatcher) sendWOL(ctx context.Context, task *models.AutomationConfig) error {
	packet, err := BuildMagicPacket(task.MACAddress)
	if err != nil {
		return err
	}
	return d.sender.SendDatagram(ctx, wolAddr(task), packet)
}

// isAppBundle reports whether the path looks like an application bundle
// rather than an executable script.
func isAppBundle(path string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimRight(path, "/")), ".app")
}

// splitArguments tokenizes an argument string on whitespace. Quoting is
// deliberately not supported.
func splitArguments(args string) []string {
	return strings.Fields(args)
}

// execRunner runs processes via os/exec.
type execRunner struct{}

func (execRunner) RunProcess(ctx context.Context, path string, args []string) error {
	return exec.CommandContext(ctx, path, args...).Run()
}

// osLauncher opens applications through the platform opener.
type osLauncher struct{}

func (osLauncher) LaunchApplication(ctx context.Context, path string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.CommandContext(ctx, "open", path).Run()
	case "windows":
		return exec.CommandContext(ctx, "cmd", "/c", "start", "", path).Run()
	default:
		return exec.CommandContext(ctx, "xdg-open", path).Run()
	}
}
