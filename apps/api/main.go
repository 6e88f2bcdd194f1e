package main

import (
	"context"
	"expvar"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof on the default mux
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	echoapi "github.com/trezcool/kickoff/apps/api/echo"
	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/fixture"
	"github.com/trezcool/kickoff/core/job"
	"github.com/trezcool/kickoff/core/notification"
	"github.com/trezcool/kickoff/core/subscriber"
	"github.com/trezcool/kickoff/core/user"
	emailsvc "github.com/trezcool/kickoff/services/email"
	"github.com/trezcool/kickoff/services/feed"
	logsvc "github.com/trezcool/kickoff/services/logger"
	smssvc "github.com/trezcool/kickoff/services/sms"
	"github.com/trezcool/kickoff/storage/database"
	inmemdb "github.com/trezcool/kickoff/storage/database/inmem"
	sqlxrepos "github.com/trezcool/kickoff/storage/database/sqlx"
)

type repositories struct {
	users         user.Repository
	fixtures      fixture.Repository
	subscribers   subscriber.Repository
	jobs          job.Repository
	notifications notification.Repository
}

func main() {
	inmem := flag.Bool("inmem", false, "keep all data in memory (no database)")
	flag.Parse()

	// =========================================================================
	// Set up Dependencies

	conf := core.Conf

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	defer logger.Close()

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	// set up storage
	var repos repositories
	if *inmem {
		logger.Warn("running with in-memory storage, data is lost on exit")
		repos = inmemRepositories()
	} else {
		db, err := setUpDB(conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		defer func() {
			if err = db.Close(); err != nil {
				dbLogger.Error("Failed to close", err)
			}
		}()
		repos = sqlxRepositories(db)
	}

	// set up delivery providers
	var (
		mailSvc core.EmailService
		smsSvc  core.SMSService
	)
	if conf.Debug || conf.Email.SendgridApiKey == "" {
		mailSvc = emailsvc.NewConsoleService(logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}
	if conf.Debug || conf.SMS.TwilioAccountSID == "" {
		smsSvc = smssvc.NewConsoleService()
	} else {
		smsSvc = smssvc.NewTwilioService()
	}

	// set up services
	usrSvc := user.NewService(repos.users, mailSvc)
	fixtureSvc := fixture.NewService(repos.fixtures)
	subSvc := subscriber.NewService(repos.subscribers, mailSvc, smsSvc)
	jobSvc := job.NewService(repos.jobs)
	notifSvc := notification.NewService(repos.notifications, fixtureSvc, subSvc, jobSvc, mailSvc, smsSvc, logger)

	runner := job.NewRunner(repos.jobs, logger, job.ConfigFromCore())
	runner.Handle(notification.JobCheck, notifSvc.HandleCheck)
	runner.Handle(notification.JobDeliver, notifSvc.HandleDeliver)
	if conf.Feed.URL != "" {
		syncer := feed.NewSyncer(feed.NewClient(conf.Feed.URL, conf.Feed.Token), fixtureSvc, jobSvc, logger, conf.Feed.SyncInterval)
		runner.Handle(feed.JobSync, syncer.HandleSync)
	}

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now()
	if err := jobSvc.EnsureScheduled(ctx, notification.JobCheck, now); err != nil {
		logger.Fatal(fmt.Sprintf("scheduling fixture checks: %v", err), err)
	}
	if conf.Feed.URL != "" {
		if err := jobSvc.EnsureScheduled(ctx, feed.JobSync, now); err != nil {
			logger.Fatal(fmt.Sprintf("scheduling feed sync: %v", err), err)
		}
	}

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - Prometheus collectors.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	http.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugAddress, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service and job runner

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:            conf,
			Logger:          logger,
			UserSvc:         usrSvc,
			FixtureSvc:      fixtureSvc,
			SubscriberSvc:   subSvc,
			NotificationSvc: notifSvc,
			JobSvc:          jobSvc,
			Validate:        validate,
			Translator:      translator,
		},
	)

	go func() {
		server.Start()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(gctx)
	})

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		cancel()
		_ = g.Wait()
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests and running jobs a deadline for completion
		sctx, scancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer scancel()

		cancel()
		// asking listener to shutdown and shed load
		if err := server.Shutdown(sctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
		if err := g.Wait(); err != nil {
			logger.Error(fmt.Sprintf("job runner: %v", err), err)
		}
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(ctx, db.DB, "up"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func sqlxRepositories(db *sqlx.DB) repositories {
	return repositories{
		users:         sqlxrepos.NewUserRepository(db),
		fixtures:      sqlxrepos.NewFixtureRepository(db),
		subscribers:   sqlxrepos.NewSubscriberRepository(db),
		jobs:          sqlxrepos.NewJobRepository(db),
		notifications: sqlxrepos.NewNotificationRepository(db),
	}
}

func inmemRepositories() repositories {
	db := inmemdb.Open()
	return repositories{
		users:         inmemdb.NewUserRepository(db),
		fixtures:      inmemdb.NewFixtureRepository(db),
		subscribers:   inmemdb.NewSubscriberRepository(db),
		jobs:          inmemdb.NewJobRepository(db),
		notifications: inmemdb.NewNotificationRepository(db),
	}
}
