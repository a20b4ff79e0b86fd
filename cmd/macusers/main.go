// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"macusers/internal/accounts"
	"macusers/internal/audit"
	"macusers/internal/config"
	"macusers/internal/db"
	"macusers/internal/installer"
	"macusers/internal/logging"
	"macusers/internal/platform"
	"macusers/internal/runner"
)

var (
	// Version info (set by ldflags)
	version   = "dev"
	buildTime = "unknown"
	commit    = "unknown"

	// Global flags
	cfgFile string
	logFile string
	debug   bool
	timeout time.Duration

	// Command specific flags; --output, --no-root and --gid are read per command
	fullRecord   bool
	saveSnapshot bool
	historyLimit int

	// Install command specific flags
	installInterval time.Duration
)

// Platform gate and tool runner, replaced in tests
var requireSupported = platform.RequireSupported

var newRunner = func(cfg *config.Config, logger logrus.FieldLogger) runner.Runner {
	return runner.NewExec(cfg.Timeout, logger)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(2)
	}
}

var rootCmd = &cobra.Command{
	Use:   "macusers",
	Short: "Query local macOS user accounts",
	Long: `Reports the console user, the roster of local accounts and their
security attributes (admin, SSH, FileVault, volume ownership, SecureToken)
using the system directory-service tools.`,
	SilenceUsage: true,
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Show the current or last console user",
	RunE:  runConsole,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local user accounts",
	RunE:  runList,
}

var adminsCmd = &cobra.Command{
	Use:   "admins",
	Short: "List accounts with administrator privilege",
	RunE:  runAdmins,
}

var showCmd = &cobra.Command{
	Use:   "show [user]",
	Short: "Show one account",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var dumpCmd = &cobra.Command{
	Use:   "dump [user]",
	Short: "Print every field of one account",
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List active login sessions",
	RunE:  runSessions,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit the full roster and compare it with the last snapshot",
	Long: `Resolves every account, reports changes since the last stored snapshot
and optionally stores the result. Exit code 0 means every account resolved,
1 a partial failure and 2 a complete failure.`,
	RunE: runAudit,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored snapshots",
	RunE:  runHistory,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Schedule a periodic audit with launchd",
	Long:  `Installs the binary and configuration and registers a launchd job that runs 'audit --save' as root.`,
	RunE:  runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the scheduled audit",
	RunE:  runUninstall,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configSaveCmd = &cobra.Command{
	Use:   "save [path]",
	Short: "Write the effective configuration as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigSave,
}

func init() {
	// Set version template to include build info
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("macusers version %s (commit: %s, built: %s)\n", version, commit, buildTime))

	// Global flags for all commands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file path or STDERR (default: STDERR)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "per-command timeout (default: 30s)")

	consoleCmd.Flags().BoolVar(&fullRecord, "full", false, "print the full account record")
	consoleCmd.Flags().StringP("output", "o", formatTable, "output format: table, json or yaml")

	listCmd.Flags().Bool("no-root", false, "exclude the root account")
	listCmd.Flags().Int("gid", 0, "only accounts with this primary group id (0: any)")
	listCmd.Flags().StringP("output", "o", formatTable, "output format: table, json or yaml")

	adminsCmd.Flags().Bool("no-root", false, "exclude the root account")
	adminsCmd.Flags().StringP("output", "o", formatTable, "output format: table, json or yaml")

	showCmd.Flags().StringP("output", "o", formatTable, "output format: table, json or yaml")

	auditCmd.Flags().BoolVar(&saveSnapshot, "save", false, "store the audit as a snapshot")
	auditCmd.Flags().Bool("no-root", false, "exclude the root account")
	auditCmd.Flags().StringP("output", "o", formatYAML, "output format: json or yaml")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of snapshots to show (0: all)")

	installCmd.Flags().DurationVar(&installInterval, "interval", 24*time.Hour, "audit interval")

	configCmd.AddCommand(configSaveCmd)

	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(adminsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(configCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	// Apply CLI flags
	flags := config.Flags{
		LogFile: logFile,
		Timeout: timeout,
		Debug:   debug,
	}
	if cmd.Flags().Changed("no-root") {
		flags.ExcludeRoot, _ = cmd.Flags().GetBool("no-root")
		flags.ExcludeRootSet = true
	}
	if cmd.Flags().Changed("gid") {
		flags.PrimaryGID, _ = cmd.Flags().GetInt("gid")
		flags.PrimaryGIDSet = true
	}
	cfg.ApplyFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// session bundles what every live query needs
type session struct {
	cfg    *config.Config
	logger *logrus.Logger
	dir    *accounts.Directory
	closer io.Closer
}

func (s *session) Close() error {
	return s.closer.Close()
}

// outputFlag returns the --output value of cmd, or "" when it has none
func outputFlag(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("output")
	return format
}

func openSession(cmd *cobra.Command) (*session, error) {
	if err := requireSupported(); err != nil {
		return nil, err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, closer, err := logging.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	dir := accounts.New(newRunner(cfg, logger),
		accounts.WithTools(cfg.Tools),
		accounts.WithLogger(logger),
	)
	return &session{cfg: cfg, logger: logger, dir: dir, closer: closer}, nil
}

func runConsole(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if !fullRecord {
		name, err := s.dir.ConsoleName(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to resolve console user: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), name)
		return nil
	}

	u, err := s.dir.Console(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to resolve console user: %w", err)
	}
	return writeUser(cmd.OutOrStdout(), u, outputFlag(cmd))
}

func runList(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	users, err := s.dir.List(cmd.Context(), s.cfg.ListOptions())
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	return writeUsers(cmd.OutOrStdout(), users, outputFlag(cmd))
}

func runAdmins(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	admins, err := s.dir.Admins(cmd.Context(), s.cfg.ListOptions())
	if err != nil {
		return fmt.Errorf("failed to list administrators: %w", err)
	}
	return writeUsers(cmd.OutOrStdout(), admins, outputFlag(cmd))
}

func runShow(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	u, err := s.dir.Lookup(cmd.Context(), args[0])
	if err != nil {
		return lookupError(args[0], err)
	}
	return writeUser(cmd.OutOrStdout(), u, outputFlag(cmd))
}

func runDump(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	u, err := s.dir.Lookup(cmd.Context(), args[0])
	if err != nil {
		return lookupError(args[0], err)
	}
	return writeFields(cmd.OutOrStdout(), u)
}

func runSessions(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	sessions, err := s.dir.Sessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	return writeSessions(cmd.OutOrStdout(), sessions, time.Now())
}

func runAudit(cmd *cobra.Command, args []string) error {
	code, err := auditRoster(cmd)
	if err != nil {
		return err
	}

	// Exit with appropriate code
	if code != audit.ExitSuccess {
		os.Exit(int(code))
	}
	return nil
}

// auditRoster runs the audit and releases every resource before returning
func auditRoster(cmd *cobra.Command) (audit.ExitCode, error) {
	s, err := openSession(cmd)
	if err != nil {
		return audit.ExitCompleteFailure, err
	}
	defer s.Close()

	ctx := cmd.Context()
	opts := s.cfg.ListOptions()
	report := audit.New(s.dir, s.logger).Run(ctx, opts)
	if report.Failed(runner.ErrPermissionDenied) {
		s.logger.Warn("Some attributes need administrator privilege; re-run with sudo for a complete audit")
	}

	store, err := openStore(s.cfg.DBPath, saveSnapshot)
	if err != nil {
		return audit.ExitCompleteFailure, err
	}
	if store != nil {
		defer store.Close()
		if store.IsTempCopy() {
			s.logger.WithField("path", store.Path()).Debug("Snapshot store is locked, reading a temporary copy")
		}
		if err := compareWithLatest(ctx, store, report, opts); err != nil {
			s.logger.WithError(err).Warn("Could not compare with the previous snapshot")
		}
	}

	if err := writeReport(cmd.OutOrStdout(), report, outputFlag(cmd)); err != nil {
		return audit.ExitCompleteFailure, err
	}

	// Only complete audits become the baseline for later comparisons
	if saveSnapshot {
		if report.ExitCode != audit.ExitSuccess {
			s.logger.WithField("unresolved", report.Unresolved).Warn("Audit incomplete, snapshot not saved")
			return report.ExitCode, nil
		}
		id, err := store.Save(ctx, report.Snapshot())
		if err != nil {
			return audit.ExitCompleteFailure, fmt.Errorf("failed to save snapshot: %w", err)
		}
		s.logger.WithField("snapshot", id).Info("Snapshot saved")
	}

	return report.ExitCode, nil
}

// openStore opens the snapshot store for writing, or read-only when it
// exists and nothing will be saved. It returns nil when there is no store
// to read.
func openStore(path string, write bool) (*db.DB, error) {
	if write {
		store, err := db.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot store: %w", err)
		}
		return store, nil
	}

	store, err := db.OpenReadOnly(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	return store, nil
}

func compareWithLatest(ctx context.Context, store *db.DB, report *audit.Report, opts accounts.ListOptions) error {
	prev, err := store.Latest(ctx)
	if err != nil || prev == nil {
		return err
	}
	report.Compare(prev.Users, opts)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := openStore(cfg.DBPath, false)
	if err != nil {
		return err
	}
	if store == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "No snapshots stored (run 'macusers audit --save' first)")
		return nil
	}
	defer store.Close()

	snapshots, err := store.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	return writeHistory(cmd.OutOrStdout(), snapshots, time.Now())
}

func newInstaller(cmd *cobra.Command) (*installer.Installer, *session, error) {
	s, err := openSession(cmd)
	if err != nil {
		return nil, nil, err
	}
	inst := installer.New(installer.GetInstallPaths(), newRunner(s.cfg, s.logger), s.logger)
	return inst, s, nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	inst, s, err := newInstaller(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	paths := inst.Paths()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Installing scheduled audit...\n")
	fmt.Fprintf(out, "  Binary: %s\n", paths.BinaryPath)
	fmt.Fprintf(out, "  Config: %s\n", paths.ConfigPath)
	fmt.Fprintf(out, "  Snapshots: %s\n", paths.DBPath)
	fmt.Fprintf(out, "  Interval: %s\n\n", installInterval)

	if err := inst.Install(cmd.Context(), s.cfg, installInterval); err != nil {
		return fmt.Errorf("installation failed: %w", err)
	}

	fmt.Fprintln(out, "Installation complete!")
	fmt.Fprintln(out, "To view stored snapshots: sudo macusers history --config", paths.ConfigPath)
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	inst, s, err := newInstaller(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if !inst.IsInstalled() {
		fmt.Fprintln(cmd.OutOrStdout(), "Scheduled audit is not installed.")
		return nil
	}

	if err := inst.Uninstall(cmd.Context()); err != nil {
		return fmt.Errorf("uninstallation failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Uninstallation complete!")
	return nil
}

func runConfigSave(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.SaveToFile(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", args[0])
	return nil
}

func lookupError(username string, err error) error {
	if errors.Is(err, runner.ErrNotFound) {
		return fmt.Errorf("no such user: %s", username)
	}
	return fmt.Errorf("failed to look up %s: %w", username, err)
}
