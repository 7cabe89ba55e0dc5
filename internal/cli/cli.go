package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/retrack-dev/retrack/internal/config"
	"github.com/retrack-dev/retrack/internal/log"
	internal_storage "github.com/retrack-dev/retrack/internal/storage"
	"github.com/retrack-dev/retrack/pkg/models"
	"github.com/retrack-dev/retrack/pkg/scheduler"
	"github.com/retrack-dev/retrack/pkg/storage"
	"github.com/spf13/cobra"
)

// SetupCLI registers the "tracker" command group: create/list/show/delete,
// operating directly on the Persistence Layer and the Job Scheduler the
// same way the HTTP API does, for operators without network access to it.
func SetupCLI(rootCmd *cobra.Command) {
	trackerCmd := &cobra.Command{Use: "tracker", Short: "Manage trackers (CLI)"}

	var targetJSON, schedule string
	var createTags []string
	createCmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new tracker",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store, sched, cfg := mustStoreSchedulerAndConfig(cmd)
			defer store.Close()
			createTracker(store, sched, args[0], targetJSON, schedule, createTags, cfg.Trackers.MaxRevisions)
		},
	}
	createCmd.Flags().StringVar(&targetJSON, "target", "", `target as JSON, e.g. {"type":"page","extractor":"x"}`)
	createCmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule (omit for an unscheduled tracker)")
	createCmd.Flags().StringArrayVar(&createTags, "tag", nil, "tag (repeatable)")
	_ = createCmd.MarkFlagRequired("target")

	var listTags []string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List trackers",
		Run: func(cmd *cobra.Command, args []string) {
			store := mustStore(cmd)
			defer store.Close()
			listTrackers(store, listTags)
		},
	}
	listCmd.Flags().StringArrayVar(&listTags, "tag", nil, "filter by tag (repeatable, AND semantics)")

	showCmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a tracker",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := mustStore(cmd)
			defer store.Close()
			showTracker(store, args[0])
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a tracker",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store, sched := mustStoreAndScheduler(cmd)
			defer store.Close()
			deleteTracker(store, sched, args[0])
		},
	}

	trackerCmd.AddCommand(createCmd, listCmd, showCmd, deleteCmd)
	rootCmd.AddCommand(trackerCmd)
}

func mustStore(cmd *cobra.Command) *internal_storage.PostgresStore {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("error retrieving db flag: %v", err)
		os.Exit(1)
	}
	return initStore(dbConnStr)
}

func mustStoreAndScheduler(cmd *cobra.Command) (*internal_storage.PostgresStore, *scheduler.Scheduler) {
	store, sched, _ := mustStoreSchedulerAndConfig(cmd)
	return store, sched
}

func mustStoreSchedulerAndConfig(cmd *cobra.Command) (*internal_storage.PostgresStore, *scheduler.Scheduler, config.Config) {
	store := mustStore(cmd)
	cfg, err := config.Load("")
	if err != nil {
		log.GetLogger().Errorf("error loading config: %v", err)
		os.Exit(1)
	}
	sched := scheduler.New(store, log.GetLogger(), scheduler.Config{
		MinScheduleInterval: cfg.Trackers.MinScheduleInterval(),
		SchedulesWhitelist:  cfg.Trackers.SchedulesWhitelist,
	})
	return store, sched, cfg
}

func createTracker(store storage.Store, sched *scheduler.Scheduler, name, targetJSON, schedule string, tags []string, defaultMaxRevisions int) {
	var target models.Target
	if err := json.Unmarshal([]byte(targetJSON), &target); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --target JSON: %v\n", err)
		os.Exit(1)
	}
	if defaultMaxRevisions <= 0 {
		defaultMaxRevisions = models.DefaultRevisionsRetained
	}
	tracker := models.Tracker{
		Name:    name,
		Tags:    tags,
		Target:  target,
		Config:  models.TrackerConfig{RevisionsRetained: defaultMaxRevisions},
		Enabled: true,
	}
	if schedule != "" {
		tracker.Config.Job = &models.JobConfig{Schedule: schedule}
	}
	tracker.DeriveJobNeeded()

	created, err := store.CreateTracker(tracker)
	if err != nil {
		log.GetLogger().Errorf("failed to create tracker: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to create tracker: %v\n", err)
		os.Exit(1)
	}

	if created.JobNeeded {
		job, err := sched.Register(created.ID, schedule)
		if err != nil {
			log.GetLogger().Errorf("failed to register schedule: %v", err)
			fmt.Fprintf(os.Stderr, "Error: failed to register schedule: %v\n", err)
			os.Exit(1)
		}
		created.JobID = &job.ID
		if err := store.UpdateTracker(created); err != nil {
			log.GetLogger().Errorf("failed to persist job id: %v", err)
			fmt.Fprintf(os.Stderr, "Error: failed to persist job id: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Fprintf(os.Stdout, "Created tracker %q with ID %s\n", created.Name, created.ID)
}

func listTrackers(store storage.Store, tags []string) {
	trackers, err := store.ListTrackers(storage.TrackerFilter{Tags: tags})
	if err != nil {
		log.GetLogger().Errorf("failed to list trackers: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to list trackers: %v\n", err)
		os.Exit(1)
	}
	if len(trackers) == 0 {
		fmt.Fprintln(os.Stdout, "No trackers found.")
		return
	}
	fmt.Fprintln(os.Stdout, "Trackers:")
	for _, t := range trackers {
		fmt.Fprintf(os.Stdout, "- ID: %s, Name: %s, Enabled: %t, Tags: %s\n",
			t.ID, t.Name, t.Enabled, strings.Join(t.Tags, ","))
	}
}

func showTracker(store storage.Store, idArg string) {
	id, err := uuid.Parse(idArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid tracker id %q\n", idArg)
		os.Exit(1)
	}
	t, err := store.GetTracker(id)
	if err != nil {
		log.GetLogger().Errorf("failed to get tracker: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	out, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		log.GetLogger().Errorf("failed to encode tracker: %v", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stdout, string(out))
}

func deleteTracker(store storage.Store, sched *scheduler.Scheduler, idArg string) {
	id, err := uuid.Parse(idArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid tracker id %q\n", idArg)
		os.Exit(1)
	}
	t, err := store.GetTracker(id)
	if err != nil {
		log.GetLogger().Errorf("failed to get tracker: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if t.JobID != nil {
		if err := sched.Unregister(*t.JobID); err != nil {
			log.GetLogger().Errorf("failed to unregister job %s: %v", *t.JobID, err)
		}
	}
	if err := store.DeleteTracker(id); err != nil {
		log.GetLogger().Errorf("failed to delete tracker: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to delete tracker: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "Deleted tracker %s\n", id)
}

func initStore(dbConnStr string) *internal_storage.PostgresStore {
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}
