// cmd/retrack is the service entrypoint: "serve" runs the Job Scheduler,
// Task Queue, and HTTP API together; "tracker" exposes the CLI of
// internal/cli for operators without HTTP access.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/retrack-dev/retrack/internal/cli"
	"github.com/retrack-dev/retrack/internal/config"
	"github.com/retrack-dev/retrack/internal/httpapi"
	"github.com/retrack-dev/retrack/internal/log"
	internal_storage "github.com/retrack-dev/retrack/internal/storage"
	"github.com/retrack-dev/retrack/pkg/actions"
	"github.com/retrack-dev/retrack/pkg/executor"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/orchestrator"
	"github.com/retrack-dev/retrack/pkg/revisions"
	"github.com/retrack-dev/retrack/pkg/scheduler"
	"github.com/retrack-dev/retrack/pkg/scraper"
	"github.com/retrack-dev/retrack/pkg/tasks"
)

var rootCmd = &cobra.Command{Use: "retrack"}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Retrack service: scheduler, task queue, and HTTP API",
	Run: func(cmd *cobra.Command, args []string) {
		serve()
	},
}

func main() {
	if err := godotenv.Load(); err != nil {
		// .env is optional in production; RETRACK_* env vars still apply.
	}
	rootCmd.PersistentFlags().String("db", "", "Database connection string for the tracker commands (serve reads db.* from config)")
	rootCmd.AddCommand(serveCmd)
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func serve() {
	logger := log.GetLogger()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		logger.Errorf("fatal: load config: %v", err)
		os.Exit(1)
	}

	store, err := internal_storage.NewPostgresStore(cfg.DB.DSN())
	if err != nil {
		logger.Errorf("fatal: connect to database: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	sched := scheduler.New(store, logger, scheduler.Config{
		MinScheduleInterval: cfg.Trackers.MinScheduleInterval(),
		SchedulesWhitelist:  cfg.Trackers.SchedulesWhitelist,
		PollInterval:        time.Second,
	})
	revStore := revisions.New(store)
	queue := tasks.New(store, logger, cfg.TaskQueue.PollInterval(), cfg.TaskQueue.WorkerCount)
	pipeline := actions.New(queue)

	scraperClient := scraper.New(cfg.Components.WebScraperURL)
	pageTarget := executor.NewPageTarget(scraperClient)
	apiTarget := executor.NewAPITarget()

	orch := orchestrator.New(store, logger, sched, revStore, pipeline, pageTarget, apiTarget)
	sched.OnTick(func(ctx context.Context, job models.SchedulerJob) scheduler.TickResult {
		outcome := orch.ExecuteTick(ctx, job)
		return scheduler.TickResult{Rescheduled: outcome.State == orchestrator.StateTransientFail}
	})

	queue.RegisterHandler(models.TaskTypeKindEmail, tasks.NewEmailHandler(tasks.SMTPConfig{
		Address:  cfg.SMTP.Address,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}))
	queue.RegisterHandler(models.TaskTypeKindWebhook, tasks.NewWebhookHandler(nil))
	queue.RegisterHandler(models.TaskTypeKindServerLog, tasks.NewServerLogHandler(log.For(log.Fields{Component: "server_log"})))

	if err := sched.Reconcile(); err != nil {
		logger.Errorf("scheduler: reconcile at startup: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Run(ctx)
	go queue.Run(ctx)

	server := httpapi.NewServer(store, sched, revStore, orch, cfg.Trackers.MaxRevisions)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Handler(),
	}

	go func() {
		logger.Infof("retrack: listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("fatal: http server: %v", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Infof("retrack: shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}
