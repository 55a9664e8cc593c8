// Command portal-aggregator rolls the raw activity log up into daily
// per-activity-type counts and prunes rows past the retention window.
// It runs as a sidecar on a cron schedule, or once with --run-once for
// backfills.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/spectraline/partner-portal/pkg/activity"
)

var (
	dbURL           = flag.String("db-url", getEnv("PORTAL_POSTGRES_URL", "postgres://localhost/portal?sslmode=disable"), "PostgreSQL connection URL")
	dailySchedule   = flag.String("daily-schedule", "5 0 * * *", "Cron schedule for the daily rollup (default: 00:05 UTC)")
	pruneSchedule   = flag.String("prune-schedule", "30 1 * * 0", "Cron schedule for pruning old activity rows (default: Sunday 01:30 UTC)")
	retentionDays   = flag.Int("retention-days", 365, "How many days of raw activity rows to keep")
	runOnce         = flag.Bool("run-once", false, "Run the rollup once and exit (for backfills)")
	aggregationDate = flag.String("date", "", "Date to roll up (YYYY-MM-DD). If empty, rolls up yesterday. Only used with --run-once")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.WithError(err).Fatal("failed to ping database")
	}

	aggregator, err := activity.NewAggregator(db)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize aggregator")
	}

	retention := time.Duration(*retentionDays) * 24 * time.Hour

	if *runOnce {
		day := time.Now().UTC().AddDate(0, 0, -1)
		if *aggregationDate != "" {
			day, err = time.Parse("2006-01-02", *aggregationDate)
			if err != nil {
				logger.WithError(err).Fatal("invalid --date, expected YYYY-MM-DD")
			}
		}

		logger.WithField("day", day.Format("2006-01-02")).Info("running rollup")
		if err := aggregator.AggregateDay(context.Background(), day); err != nil {
			logger.WithError(err).Fatal("rollup failed")
		}
		logger.Info("rollup completed")
		return
	}

	c := cron.New()

	_, err = c.AddFunc(*dailySchedule, func() {
		yesterday := time.Now().UTC().AddDate(0, 0, -1)
		entry := logger.WithField("day", yesterday.Format("2006-01-02"))
		entry.Info("starting daily rollup")

		if err := aggregator.AggregateDay(context.Background(), yesterday); err != nil {
			entry.WithError(err).Error("daily rollup failed")
			return
		}
		entry.Info("daily rollup completed")
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to schedule daily rollup")
	}

	_, err = c.AddFunc(*pruneSchedule, func() {
		removed, err := aggregator.Prune(context.Background(), retention)
		if err != nil {
			logger.WithError(err).Error("prune failed")
			return
		}
		logger.WithField("removed", removed).Info("pruned old activity rows")
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to schedule prune")
	}

	c.Start()
	logger.WithFields(logrus.Fields{
		"daily_schedule": *dailySchedule,
		"prune_schedule": *pruneSchedule,
		"retention_days": *retentionDays,
	}).Info("portal activity aggregator started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	// Let any in-flight job finish before exiting
	ctx := c.Stop()
	<-ctx.Done()
	logger.Info("aggregator stopped")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
