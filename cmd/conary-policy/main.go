// Package main is the entry point for the conary-policy binary. It
// runs the build policies over a package build tree and carries the
// release tooling for the policy bundle itself.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/conarypm/conary-policy/pkg/config"
	"github.com/conarypm/conary-policy/pkg/domain"
	"github.com/conarypm/conary-policy/pkg/logging"
	"github.com/conarypm/conary-policy/pkg/policy"
	"github.com/conarypm/conary-policy/pkg/policy/rego"
	"github.com/conarypm/conary-policy/pkg/release"
	"github.com/conarypm/conary-policy/pkg/telemetry"
	"github.com/conarypm/conary-policy/pkg/trovedb"

	// Register the builtin policies.
	_ "github.com/conarypm/conary-policy/pkg/policy/destdir"
	_ "github.com/conarypm/conary-policy/pkg/policy/enforce"
	_ "github.com/conarypm/conary-policy/pkg/policy/requires"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "conary-policy",
		Short:         "Build policies for Conary package builds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to site configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "Human-readable log output")

	rootCmd.AddCommand(
		newCheckCmd(),
		newListCmd(),
		newConfigCmd(),
		newInstallCmd(),
		newDistCmd(),
		newArchiveCmd(),
		newTagCmd(),
		newVersionCmd(),
		newCleanCmd(),
	)
	return rootCmd
}

// setup loads the site configuration and installs the process logger.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Log.Level
	if flagLevel, _ := cmd.Flags().GetString("log-level"); flagLevel != "" {
		level = flagLevel
	}
	pretty := cfg.Log.Pretty
	if flagPretty, _ := cmd.Flags().GetBool("pretty"); flagPretty {
		pretty = true
	}

	logger := logging.NewLogger(logging.Config{Level: level, Pretty: pretty})
	slog.SetDefault(logger)
	return cfg, logger, nil
}

type checkOptions struct {
	manifest string
	troveDB  string
	strict   bool
	watch    bool
}

func newCheckCmd() *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check <manifest>",
		Short: "Run the build policies over a build tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.manifest = args[0]
			return runCheck(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.troveDB, "trovedb", "", "Installed-trove database fixture (overrides config)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Treat enforcement findings as errors")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Re-run the policies when the manifest changes")
	return cmd
}

func runCheck(cmd *cobra.Command, opts *checkOptions) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := registerSitePolicy(cmd.Context(), cfg); err != nil {
		return err
	}

	// Policies carry per-run state, so every check instantiates a fresh
	// set from the registry, and checks never overlap.
	var mu sync.Mutex
	current := cfg
	check := func(trigger string) error {
		mu.Lock()
		defer mu.Unlock()
		report, err := executeCheck(cmd.Context(), current, logger, opts, policy.DefaultRegistry().All())
		result := "ok"
		switch {
		case err != nil:
			result = "error"
		case len(report.Errors()) > 0:
			result = "findings"
		}
		telemetry.WatchChecks.WithLabelValues(trigger, result).Inc()
		if err != nil {
			return err
		}
		if len(report.Errors()) > 0 {
			return fmt.Errorf("%d policy error(s)", len(report.Errors()))
		}
		return nil
	}

	if !opts.watch {
		return check("manual")
	}

	configPath, _ := cmd.Flags().GetString("config")
	reload := func(next *config.Config) {
		if err := registerSitePolicy(cmd.Context(), next); err != nil {
			logger.Error("site policy reload failed", "error", err)
			return
		}
		mu.Lock()
		current = next
		mu.Unlock()
	}
	return watchLoop(cmd.Context(), cfg, logger, configPath, opts.manifest, check, reload)
}

// registerSitePolicy builds the Rego engine from the configured site
// rules and swaps it into the registry. Rebuilding discards the old
// engine together with its decision cache, so edited rules take effect
// on the next run.
func registerSitePolicy(ctx context.Context, cfg *config.Config) error {
	sources, err := cfg.RegoSources()
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return nil
	}
	engine, err := rego.NewEngine(ctx, rego.EngineOptions{
		Entrypoint:      cfg.Rego.Entrypoint,
		Modules:         sources,
		CacheMaxEntries: cfg.Rego.CacheMaxEntries,
	})
	if err != nil {
		return err
	}
	return rego.NewSitePolicy(engine).Register(policy.DefaultRegistry())
}

func executeCheck(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts *checkOptions, policies []policy.Policy) (*domain.Report, error) {
	manifest, err := config.LoadManifest(opts.manifest)
	if err != nil {
		return nil, err
	}
	tree, err := manifest.BuildTree(cfg.Macros)
	if err != nil {
		return nil, err
	}

	var store *trovedb.MemoryStore
	fixture := opts.troveDB
	if fixture == "" {
		fixture = cfg.TroveDB.Fixture
	}
	if fixture != "" {
		store, err = trovedb.LoadFile(fixture)
		if err != nil {
			return nil, err
		}
	}

	run := policy.NewRun(tree, storeOrNil(store), logger)
	run.Strict = opts.strict || cfg.Strict
	run.LabelPath = manifest.LabelPath
	if store != nil {
		run.Repo = store
	}
	run.Settings = make(map[string]policy.Settings, len(cfg.Policies))
	for name, pc := range cfg.Policies {
		run.Settings[name] = policy.Settings{Disabled: pc.Disabled, Exceptions: pc.Exceptions}
	}

	report, err := policy.NewRunner(logger, policies...).Execute(ctx, run)
	if err != nil {
		return nil, err
	}
	fmt.Println(report.Summary())
	return report, nil
}

// storeOrNil avoids handing a typed nil pointer to the Store interface.
func storeOrNil(s *trovedb.MemoryStore) trovedb.Store {
	if s == nil {
		return nil
	}
	return s
}

// watchLoop re-runs the check whenever the manifest file changes or
// the site configuration is reloaded, with an optional Prometheus
// listener for long-lived sessions.
func watchLoop(ctx context.Context, cfg *config.Config, logger *slog.Logger, configPath, manifestPath string, check func(trigger string) error, reload func(*config.Config)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	if cfg.Watch.MetricsAddr != "" {
		metrics := telemetry.NewMetricsServer(cfg.Watch.MetricsAddr, logger)
		metrics.Start()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := metrics.Stop(stopCtx); err != nil {
				logger.Error("metrics server shutdown failed", "error", err)
			}
		}()
	}

	var configUpdates <-chan *config.Config
	if configPath != "" {
		provider, err := config.NewFileProvider(configPath, logger)
		if err != nil {
			return err
		}
		defer provider.Close()
		configUpdates = provider.Subscribe()
		// The subscription delivers the current snapshot immediately;
		// startup already loaded it, so drain it here.
		<-configUpdates
	}

	absPath, err := filepath.Abs(manifestPath)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return err
	}

	if err := check("initial"); err != nil {
		logger.Error("check failed", "error", err)
	}

	var debounceTimer *time.Timer
	const debounce = 100 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			logger.Info("watch stopped")
			return nil
		case next, ok := <-configUpdates:
			if !ok {
				configUpdates = nil
				continue
			}
			logger.Info("site configuration changed", "path", configPath)
			reload(next)
			if err := check("config"); err != nil {
				logger.Error("check failed", "error", err)
			}
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounce, func() {
					if err := check("fsnotify"); err != nil {
						logger.Error("check failed", "error", err)
					}
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", "error", err)
		}
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			if err := registerSitePolicy(cmd.Context(), cfg); err != nil {
				return err
			}
			for _, pol := range policy.DefaultRegistry().All() {
				marker := " "
				if cfg.Policies[pol.Name()].Disabled {
					marker = "-"
				}
				fmt.Printf("%s %s\n", marker, pol.Name())
			}
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the site configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	})
	return cmd
}

func newInstallCmd() *cobra.Command {
	var srcdir, destdir, policydir string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the policy bundle into an image",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			if destdir == "" {
				destdir = cfg.Release.Destdir
			}
			if policydir == "" {
				policydir = cfg.Release.Policydir
			}
			if err := release.Install(srcdir, destdir, policydir); err != nil {
				return err
			}
			logger.Info("policy bundle installed", "destdir", destdir, "policydir", policydir)
			return nil
		},
	}
	cmd.Flags().StringVar(&srcdir, "srcdir", ".", "Bundle source directory")
	cmd.Flags().StringVar(&destdir, "destdir", "", "Image root (DESTDIR)")
	cmd.Flags().StringVar(&policydir, "policydir", "", "Policy directory inside the image (POLICYDIR)")
	return cmd
}

// releaseFlags resolves version and changelog from flags and config.
func releaseFlags(cmd *cobra.Command, cfg *config.Config) (version, news string) {
	version, _ = cmd.Flags().GetString("version")
	if version == "" {
		version = cfg.Release.Version
	}
	news, _ = cmd.Flags().GetString("news")
	if news == "" {
		news = cfg.Release.News
	}
	return version, news
}

func newDistCmd() *cobra.Command {
	var srcdir, outdir string
	cmd := &cobra.Command{
		Use:   "dist",
		Short: "Validate the changelog and write a release archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			ver, news := releaseFlags(cmd, cfg)
			codec, err := release.ParseCompression(cfg.Release.Compression)
			if err != nil {
				return err
			}
			out, err := release.Dist(srcdir, outdir, news, ver, codec)
			if err != nil {
				return err
			}
			logger.Info("release archive written", "path", out)
			return nil
		},
	}
	cmd.Flags().String("version", "", "Release version (VERSION)")
	cmd.Flags().String("news", "", "Changelog file")
	cmd.Flags().StringVar(&srcdir, "srcdir", ".", "Bundle source directory")
	cmd.Flags().StringVar(&outdir, "outdir", ".", "Archive output directory")
	return cmd
}

func newArchiveCmd() *cobra.Command {
	var srcdir string
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Write a release archive to stdout without changelog checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			ver, _ := releaseFlags(cmd, cfg)
			if ver == "" {
				return fmt.Errorf("archive requires a version")
			}
			codec, err := release.ParseCompression(cfg.Release.Compression)
			if err != nil {
				return err
			}
			return release.Archive(os.Stdout, srcdir, ver, codec)
		},
	}
	cmd.Flags().String("version", "", "Release version (VERSION)")
	cmd.Flags().String("news", "", "Changelog file")
	cmd.Flags().StringVar(&srcdir, "srcdir", ".", "Bundle source directory")
	return cmd
}

func newTagCmd() *cobra.Command {
	var repodir string
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Tag the release in the source repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			ver, news := releaseFlags(cmd, cfg)
			if ver == "" {
				return fmt.Errorf("tag requires a version")
			}
			if err := release.CheckNews(news, ver); err != nil {
				return err
			}
			if err := release.Tag(cmd.Context(), repodir, ver); err != nil {
				return err
			}
			logger.Info("release tagged", "tag", release.TagName(ver))
			return nil
		},
	}
	cmd.Flags().String("version", "", "Release version (VERSION)")
	cmd.Flags().String("news", "", "Changelog file")
	cmd.Flags().StringVar(&repodir, "repodir", ".", "Source repository directory")
	return cmd
}

func newVersionCmd() *cobra.Command {
	var repodir string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print binary and latest release versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("conary-policy", version)
			latest, err := release.LatestVersion(cmd.Context(), repodir)
			if err == nil && latest != "" {
				fmt.Println("latest release:", latest)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&repodir, "repodir", ".", "Source repository directory")
	return cmd
}

func newCleanCmd() *cobra.Command {
	var outdir string
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove generated release archives",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := setup(cmd); err != nil {
				return err
			}
			return release.Clean(outdir)
		},
	}
	cmd.Flags().StringVar(&outdir, "outdir", ".", "Archive output directory")
	return cmd
}
