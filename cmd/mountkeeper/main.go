// Package main is the entrypoint for the Mountkeeper CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/PelicanWorks/mountkeeper/internal/api"
	"github.com/PelicanWorks/mountkeeper/internal/automation"
	"github.com/PelicanWorks/mountkeeper/internal/config"
	"github.com/PelicanWorks/mountkeeper/internal/discovery"
	"github.com/PelicanWorks/mountkeeper/internal/history"
	"github.com/PelicanWorks/mountkeeper/internal/metrics"
	"github.com/PelicanWorks/mountkeeper/internal/models"
	"github.com/PelicanWorks/mountkeeper/internal/mount"
	"github.com/PelicanWorks/mountkeeper/internal/netmon"
	"github.com/PelicanWorks/mountkeeper/internal/profiles"
	"github.com/PelicanWorks/mountkeeper/internal/sysinfo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mountkeeper",
		Short: "Mountkeeper - automatic network share mounting",
		Long: `Mountkeeper keeps your network shares mounted. It watches network
state, evaluates per-share rules (Wi-Fi network, VPN, running apps),
and mounts or remounts shares automatically while respecting manual
unmounts.

Run 'mountkeeper start' to launch the daemon.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newStartCmd(),
		newStatusCmd(),
		newProfilesCmd(),
		newMountCmd(),
		newUnmountCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Mountkeeper %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newStartCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the mount daemon",
		Long: `Start Mountkeeper as a long-running daemon process.

The daemon will:
  - Watch network state and sweep profiles on transitions
  - Auto-mount shares whose rules are satisfied
  - Track manual unmounts so they are not fought
  - Serve a local HTTP API for status and control`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runDaemon(cfg, debug)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Config file path (default ~/.mountkeeper/config.yml)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runDaemon(cfg *config.Config, debug bool) error {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	configDir, err := config.DefaultConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	store, err := profiles.NewStore(filepath.Join(configDir, "profiles.json"), logger)
	if err != nil {
		return fmt.Errorf("open profile store: %w", err)
	}

	historyPath := cfg.HistoryPath
	if historyPath == "" {
		historyPath = filepath.Join(configDir, "history.db")
	}
	journal, err := history.NewStore(historyPath, logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer journal.Close()

	registry := prometheus.NewRegistry()
	collectors, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	dispatcher := automation.NewDefaultDispatcher(logger)
	dispatcher.SetMetrics(collectors)

	mountBase := cfg.MountBase
	if mountBase == "" {
		if runtime.GOOS == "darwin" {
			mountBase = "/Volumes"
		} else {
			mountBase = filepath.Join(configDir, "mounts")
		}
	}

	manager := mount.NewManager(mount.ManagerConfig{
		Store:       store,
		Provider:    mount.NewCommandProvider(mountBase, logger),
		Automations: dispatcher,
		Probe:       mount.NewTCPProbe(cfg.ProbeTimeout()),
		Journal:     journal,
		Metrics:     collectors,
		Cooldown:    cfg.Cooldown(),
		Logger:      logger,
	})

	collector := sysinfo.NewCollector(sysinfo.CommandSSIDSource{}, logger)
	monitor := netmon.NewMonitor(netmon.Config{
		Mounter:          manager,
		Profiles:         store,
		Context:          collector,
		Metrics:          collectors,
		PollInterval:     cfg.PollInterval(),
		StartupSettle:    cfg.StartupSettle(),
		TransitionSettle: cfg.TransitionSettle(),
		SweepSpec:        cfg.SweepSpec,
		Logger:           logger,
	})

	resolver := &discovery.DNSResolver{Timeout: cfg.ResolveTimeout()}
	discoverer := discovery.NewService(store, resolver, logger)

	handler := api.NewHandler(store, manager, monitor, journal, logger)
	router := api.NewRouter(api.Config{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}, handler, registry, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("start network monitor: %w", err)
	}
	defer monitor.Stop()

	// Refresh advertised-server addresses and prune old journal rows at
	// startup, then periodically.
	go maintenanceLoop(ctx, discoverer, journal, cfg.HistoryRetention(), logger)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router.Engine,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	fmt.Printf("Mountkeeper %s running. Press Ctrl+C to stop.\n", Version)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	case err := <-serverErr:
		logger.Error().Err(err).Msg("api server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown incomplete")
	}
	manager.Wait()
	return nil
}

// maintenanceLoop runs the slow housekeeping tasks on a fixed cadence.
func maintenanceLoop(ctx context.Context, discoverer *discovery.Service, journal *history.Store, retention time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		discoverer.RefreshAll(ctx)
		if retention > 0 {
			if _, err := journal.Prune(ctx, retention); err != nil {
				logger.Warn().Err(err).Msg("history prune failed")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func newStatusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show runtime status of all profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printDaemonJSON(addr, "/api/v1/status")
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9553", "Daemon API address")
	return cmd
}

func newProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List configured mount profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			list := store.List()
			if len(list) == 0 {
				fmt.Println("No profiles configured.")
				return nil
			}
			for _, p := range list {
				flags := ""
				if !p.Enabled {
					flags += " [disabled]"
				}
				if p.AutoMount {
					flags += " [auto]"
				}
				fmt.Printf("%s  %s  %s%s\n", p.ID, p.Name, p.URL, flags)
			}
			return nil
		},
	}
	return cmd
}

func newMountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mount <profile-name>",
		Short: "Mount a profile now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(args[0], func(ctx context.Context, manager *mount.Manager, profile *models.MountProfile) error {
				if err := manager.Mount(ctx, profile); err != nil {
					return err
				}
				path, _ := manager.MountPath(profile.ID)
				fmt.Printf("Mounted %s at %s\n", profile.Name, path)
				return nil
			})
		},
	}
}

func newUnmountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unmount <profile-name>",
		Short: "Unmount a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(args[0], func(ctx context.Context, manager *mount.Manager, profile *models.MountProfile) error {
				// One-shot invocations have no live state, so adopt the
				// current mount table first.
				if err := manager.ScanAndImportMounts(ctx); err != nil {
					return err
				}
				if err := manager.Unmount(ctx, profile); err != nil {
					return err
				}
				fmt.Printf("Unmounted %s\n", profile.Name)
				return nil
			})
		},
	}
}

func openStore() (*profiles.Store, error) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	path, err := profiles.DefaultStorePath()
	if err != nil {
		return nil, err
	}
	return profiles.NewStore(path, logger)
}

// runOneShot builds a minimal manager for a single CLI mount or unmount.
func runOneShot(name string, fn func(ctx context.Context, manager *mount.Manager, profile *models.MountProfile) error) error {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.WarnLevel)

	store, err := openStore()
	if err != nil {
		return err
	}
	profile, err := store.GetByName(name)
	if err != nil {
		return err
	}

	mountBase := "/Volumes"
	if runtime.GOOS != "darwin" {
		dir, err := config.DefaultConfigDir()
		if err != nil {
			return err
		}
		mountBase = filepath.Join(dir, "mounts")
	}

	manager := mount.NewManager(mount.ManagerConfig{
		Store:       store,
		Provider:    mount.NewCommandProvider(mountBase, logger),
		Automations: automation.NewDefaultDispatcher(logger),
		Probe:       mount.NewTCPProbe(0),
		Logger:      logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	return fn(ctx, manager, profile)
}

// printDaemonJSON fetches a daemon API endpoint and prints the body.
func printDaemonJSON(addr, path string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + path)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s (is it running?): %w", addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	fmt.Println(string(body))
	return nil
}
