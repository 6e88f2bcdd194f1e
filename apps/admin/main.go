package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/fixture"
	"github.com/trezcool/kickoff/core/job"
	"github.com/trezcool/kickoff/core/notification"
	"github.com/trezcool/kickoff/core/subscriber"
	emailsvc "github.com/trezcool/kickoff/services/email"
	logsvc "github.com/trezcool/kickoff/services/logger"
	smssvc "github.com/trezcool/kickoff/services/sms"
	"github.com/trezcool/kickoff/storage/database"
	sqlxrepos "github.com/trezcool/kickoff/storage/database/sqlx"
)

func main() {
	conf := core.Conf
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// set up DB
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	// set up services
	mailSvc := emailsvc.NewConsoleService(logger)
	smsSvc := smssvc.NewConsoleService()
	fixtureSvc := fixture.NewService(sqlxrepos.NewFixtureRepository(db))
	subSvc := subscriber.NewService(sqlxrepos.NewSubscriberRepository(db), mailSvc, smsSvc)
	jobSvc := job.NewService(sqlxrepos.NewJobRepository(db))

	// start CLI
	cli := commandLine{
		db:         db.DB,
		usrRepo:    sqlxrepos.NewUserRepository(db),
		fixtureSvc: fixtureSvc,
		notifSvc: notification.NewService(
			sqlxrepos.NewNotificationRepository(db), fixtureSvc, subSvc, jobSvc, mailSvc, smsSvc, logger,
		),
		out: os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	logger.Close()
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
