package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lightnvr/lightnvr/internal/api"
	"github.com/lightnvr/lightnvr/internal/config"
	"github.com/lightnvr/lightnvr/internal/database"
	"github.com/lightnvr/lightnvr/internal/database/migrations"
	"github.com/lightnvr/lightnvr/internal/pidlock"
	"github.com/lightnvr/lightnvr/internal/repository"
	"github.com/lightnvr/lightnvr/internal/shutdown"
	"github.com/lightnvr/lightnvr/internal/startup"
	"github.com/lightnvr/lightnvr/internal/supervisor"
)

var (
	watchdogEnabled bool
	pidFilePath     string
	daemonize       bool
)

// daemonChildEnv marks a process as the already-detached child of a
// --daemon re-exec, so it doesn't try to daemonize a second time.
const daemonChildEnv = "LIGHTNVR_DAEMON_CHILD"

// daemonReadyFD is the file descriptor a --daemon child reports its
// startup result on: fd 0-2 are stdin/stdout/stderr (null device for a
// detached child), so the first entry in exec.Cmd.ExtraFiles lands at 3.
const daemonReadyFD = 3

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lightnvr recorder",
	Long: `Start the recorder core: ingests every enabled camera, serves live
HLS previews, writes MP4 segments, runs the configured detection
backend, and enforces retention. There is no built-in HTTP/REST
surface; this process answers to SIGHUP (reload cameras) and
SIGINT/SIGTERM (graceful shutdown).`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// database.path and storage.root are set via --config, a config
	// file, or LIGHTNVR_DATABASE_PATH/LIGHTNVR_STORAGE_ROOT — config.Load
	// reads its own viper instance, so flags bound to the root command's
	// global viper wouldn't reach it.
	serveCmd.Flags().BoolVar(&watchdogEnabled, "watchdog", true, "spawn a sibling watchdog process that force-kills a wedged shutdown")
	serveCmd.Flags().StringVar(&pidFilePath, "pid-file", "", "PID lock file path (default: {storage.root}/lightnvr.pid)")
	serveCmd.Flags().BoolVar(&daemonize, "daemon", false, "detach into the background after startup succeeds")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	if daemonize && os.Getenv(daemonChildEnv) == "" {
		return daemonizeSelf(logger)
	}

	var readyFD *os.File
	if os.Getenv(daemonChildEnv) != "" {
		readyFD = os.NewFile(daemonReadyFD, "daemon-ready")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConfigInvalid, err)
		reportDaemonReady(readyFD, err)
		return err
	}

	if removed, err := startup.CleanupSystemTempDirs(logger); err != nil {
		logger.Warn("failed to clean orphaned temp directories", "error", err)
	} else if removed > 0 {
		logger.Info("cleaned orphaned temp directories on startup", "removed", removed)
	}

	pidPath := pidFilePath
	if pidPath == "" {
		pidPath = filepath.Join(cfg.Storage.Root, "lightnvr.pid")
	}
	lock, err := pidlock.Acquire(pidPath)
	if err != nil {
		err = fmt.Errorf("acquiring pid lock at %s: %w", pidPath, err)
		reportDaemonReady(readyFD, err)
		return err
	}
	defer lock.Release()

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		err = fmt.Errorf("opening database: %w", err)
		reportDaemonReady(readyFD, err)
		return err
	}

	if err := runMigrations(db, logger); err != nil {
		err = fmt.Errorf("running migrations: %w", err)
		reportDaemonReady(readyFD, err)
		return err
	}

	streamConfigRepo := repository.NewStreamConfigRepository(db.DB)
	recordingRepo := repository.NewRecordingRepository(db.DB)
	detectionRepo := repository.NewDetectionRepository(db.DB)

	if err := startup.RecoverRecordings(context.Background(), logger, cfg.Storage.MP4Path(), recordingRepo); err != nil {
		logger.Warn("failed to recover recording index on startup", "error", err)
	}

	// No embedded detection model or thumbnailer ships with this
	// binary; a deployment that wants either wires them by building its
	// own cmd that constructs supervisor.Options itself and calls
	// supervisor.New directly. A configured detection.http_endpoint
	// still works unmodified since buildDetector prefers it regardless.
	sup, err := supervisor.New(cfg, db, streamConfigRepo, recordingRepo, detectionRepo, logger, supervisor.Options{})
	if err != nil {
		err = fmt.Errorf("constructing supervisor: %w", err)
		reportDaemonReady(readyFD, err)
		return err
	}

	// apiHandle is the seam a future HTTP/REST front end would call
	// through; this binary has none, so the only caller is the startup
	// log line below.
	apiHandle := api.New(db, streamConfigRepo, recordingRepo, sup, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx); err != nil {
		err = fmt.Errorf("starting supervisor: %w", err)
		reportDaemonReady(readyFD, err)
		return err
	}

	if streams, err := apiHandle.ListStreams(ctx); err != nil {
		logger.Warn("failed to list configured streams at startup", "error", err)
	} else {
		logger.Info("recorder started", "configured_streams", len(streams))
	}

	if watchdogEnabled {
		self, err := os.Executable()
		if err != nil {
			logger.Warn("could not resolve own executable path, watchdog disabled", "error", err)
		} else if err := shutdown.SpawnWatchdog(logger, self, "watchdog", os.Getpid(), cfg.Shutdown.WatchdogTimeout); err != nil {
			logger.Warn("failed to spawn watchdog", "error", err)
		}
	}

	// The recorder is up and serving; a --daemon parent waiting on the
	// readiness pipe can now exit 0 instead of blocking on us forever.
	reportDaemonReady(readyFD, nil)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			logger.Info("received SIGHUP, reloading stream configuration")
			if err := sup.Reload(ctx); err != nil {
				logger.Error("reload failed", "error", err)
			}
			continue
		}

		logger.Info("received shutdown signal", "signal", sig.String())
		break
	}

	report := sup.Stop(context.Background())
	logger.Info("shutdown complete",
		"components", report.TotalComponents,
		"forced", len(report.Forced),
	)
	if len(report.Forced) > 0 {
		return fmt.Errorf("%d component(s) did not stop cleanly: %v", len(report.Forced), report.Forced)
	}
	return nil
}

func runMigrations(db *database.DB, logger *slog.Logger) error {
	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	return migrator.Up(context.Background())
}

// reportDaemonReady tells a --daemon parent waiting on the other end of
// the readiness pipe whether startup reached the running state. f is nil
// outside a daemonized child, in which case this is a no-op. The
// "ERR<code> " prefix lets the parent map the failure back to the exit
// code main.go would have produced if it had run in the foreground.
func reportDaemonReady(f *os.File, err error) {
	if f == nil {
		return
	}
	defer f.Close()

	switch {
	case err == nil:
		fmt.Fprint(f, "OK")
	case errors.Is(err, ErrConfigInvalid):
		fmt.Fprintf(f, "ERR1 %v", err)
	case errors.Is(err, ErrAlreadyRunning):
		fmt.Fprintf(f, "ERR2 %v", err)
	default:
		fmt.Fprintf(f, "ERR3 %v", err)
	}
}

// daemonizeSelf re-execs the current command as a detached child and
// waits on a readiness pipe for it to either reach the running state or
// fail during startup, translating the outcome back into this process's
// return value so main.go's exit code reflects what actually happened in
// the child rather than just "backgrounding succeeded."
func daemonizeSelf(logger *slog.Logger) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own executable path: %w", err)
	}

	readR, readyW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating daemon readiness pipe: %w", err)
	}
	defer readR.Close()

	child := exec.Command(self, os.Args[1:]...)
	child.Env = append(os.Environ(), daemonChildEnv+"=1")
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	child.ExtraFiles = []*os.File{readyW}
	setDaemonSysProcAttr(child)

	if err := child.Start(); err != nil {
		readyW.Close()
		return fmt.Errorf("spawning daemon child: %w", err)
	}
	readyW.Close()

	status, err := io.ReadAll(readR)
	if err != nil {
		return fmt.Errorf("reading daemon readiness: %w", err)
	}
	if relErr := child.Process.Release(); relErr != nil {
		logger.Warn("failed to release daemon child handle", "error", relErr)
	}

	msg := string(status)
	switch {
	case msg == "OK":
		logger.Info("daemonized", slog.Int("child_pid", child.Process.Pid))
		return nil
	case strings.HasPrefix(msg, "ERR1 "):
		return fmt.Errorf("%w: %s", ErrConfigInvalid, strings.TrimPrefix(msg, "ERR1 "))
	case strings.HasPrefix(msg, "ERR2 "):
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, strings.TrimPrefix(msg, "ERR2 "))
	case strings.HasPrefix(msg, "ERR3 "):
		return errors.New(strings.TrimPrefix(msg, "ERR3 "))
	default:
		return fmt.Errorf("daemon child exited before reporting readiness")
	}
}
