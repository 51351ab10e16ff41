package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xorwow/serial-pdf/internal/config"
	"github.com/xorwow/serial-pdf/internal/errorlog"
	"github.com/xorwow/serial-pdf/internal/jobs"
	"github.com/xorwow/serial-pdf/internal/registry"
	"github.com/xorwow/serial-pdf/internal/server"
)

// templateWatchDebounce coalesces event bursts into one registry rescan. A
// git pull touches many files in quick succession.
const templateWatchDebounce = 500 * time.Millisecond

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP compilation service",
	Long: `Start the job workers and serve the polling HTTP API.

Submissions are queued and compiled asynchronously; clients poll GET /job
with the returned job ID until the state turns READY or FAILED. On SIGINT
or SIGTERM the server stops accepting connections and the workers finish
their in-flight jobs before the process exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "address to bind to")
	serveCmd.Flags().Int("port", 8080, "port to listen on")
	serveCmd.Flags().Int("workers", 4, "compilation worker count")
	serveCmd.Flags().String("store", "memory", "job store backend (memory, redis)")
	restrictFlag(serveCmd.Flags(), "store", "memory", "redis")
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("jobs.concurrency", serveCmd.Flags().Lookup("workers"))
	viper.BindPFlag("store.backend", serveCmd.Flags().Lookup("store"))
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, closeLog, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	parts, err := buildPipeline(cfg, cfg.Paths.ExportRoot, log)
	if err != nil {
		return err
	}
	defer parts.stager.Close()

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	errorLogs, err := errorlog.NewStore(cfg.Paths.ErrorLogRoot, cfg.ErrorLog, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	manager := jobs.NewManager(store, parts.pipeline, parts.stager, errorLogs, cfg.Jobs, log)
	manager.Start(ctx)

	reg, err := registry.New(cfg.Paths.TemplateRoot, cfg.Template.EntryFile, templateWatchDebounce, log)
	if err != nil {
		return err
	}
	defer reg.Close()
	if err := reg.Watch(ctx); err != nil {
		// The service still works with a stale listing, templates are
		// resolved from git at submission time anyway.
		log.Warn(ctx, err, "template watching unavailable, listings go stale until restart")
	}

	srv := server.New(cfg.Server, server.NewAPI(manager, reg, log), log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info(ctx, "shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	serveErr := srv.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, err, "job manager shutdown incomplete")
	}

	return serveErr
}
