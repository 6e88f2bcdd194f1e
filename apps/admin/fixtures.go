package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core/notification"
)

func (cli *commandLine) importFixtures(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening fixtures file")
	}
	defer f.Close()

	res, err := cli.fixtureSvc.Import(ctx, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "created %d, updated %d, skipped %d\n", res.Created, res.Updated, res.Skipped)
	for _, e := range res.Errors {
		fmt.Fprintln(cli.out, "  "+e)
	}
	return nil
}

func (cli *commandLine) checkFixtures(ctx context.Context) error {
	plan, err := cli.notifSvc.CheckFixtures(ctx, notification.NowFunc())
	if err != nil {
		return err
	}
	switch {
	case plan.Muted:
		fmt.Fprintf(cli.out, "%s: notifications are muted\n", plan.Day)
	case plan.Fixtures == 0:
		fmt.Fprintf(cli.out, "%s: no fixtures\n", plan.Day)
	default:
		dispatched := strings.Join(plan.Dispatched, ", ")
		if dispatched == "" {
			dispatched = "none"
		}
		fmt.Fprintf(cli.out, "%s: %d fixture(s), dispatched: %s, enqueued: %d\n", plan.Day, plan.Fixtures, dispatched, plan.Enqueued)
	}
	return nil
}
