package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/webjourney/internal/bridge"
	"github.com/user/webjourney/internal/config"
	"github.com/user/webjourney/internal/media"
	"github.com/user/webjourney/internal/recorder"
	"github.com/user/webjourney/internal/server"
	"github.com/user/webjourney/internal/state"
	"github.com/user/webjourney/internal/status"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webjourney daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "webjourney.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	live := config.NewLive(cfgPath, cfg)

	// Stores
	sessions := state.NewStore(cfg.DataDir)
	mediaStore, err := media.Open(filepath.Join(cfg.DataDir, "media.db"))
	if err != nil {
		return fmt.Errorf("open media store: %w", err)
	}
	defer mediaStore.Close()
	statusStore := status.NewStore(cfg.DataDir)

	// Capture agent bridge
	captureTimeout := time.Duration(cfg.Capture.TimeoutSeconds) * time.Second
	br := bridge.New(captureTimeout)

	// Ingestion pipeline
	rec := recorder.New(sessions, mediaStore, statusStore, br, live.Quality, cfg.MaxQueueDepth)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec.Start(ctx)
	defer rec.Stop()

	// Heartbeat watchdog
	wd := status.NewWatchdog(statusStore)
	if err := wd.Start(); err != nil {
		return fmt.Errorf("start watchdog: %w", err)
	}
	defer wd.Stop()

	// HTTP surface
	srv := server.New(live, sessions, mediaStore, statusStore, wd, rec, br)
	httpServer := &http.Server{
		Addr:        cfg.HTTP.Listen,
		Handler:     srv.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	go func() {
		slog.Info("http server started", "listen", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	slog.Info("webjourney started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"listen", cfg.HTTP.Listen,
		"capture_quality", cfg.Capture.Quality,
		"queue_depth", cfg.MaxQueueDepth,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
