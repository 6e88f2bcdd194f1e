package feed

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/fixture"
	"github.com/trezcool/kickoff/core/job"
)

// JobSync is the kind of the recurring feed sync job.
const JobSync = "fixtures.sync"

var NowFunc = time.Now // mockable

type Syncer struct {
	client   *Client
	fixtures *fixture.Service
	jobs     *job.Service
	logger   core.Logger
	interval time.Duration
}

func NewSyncer(client *Client, fixtures *fixture.Service, jobs *job.Service, logger core.Logger, interval time.Duration) *Syncer {
	return &Syncer{client: client, fixtures: fixtures, jobs: jobs, logger: logger, interval: interval}
}

// Sync fetches the feed and upserts its fixtures. Matches of seasons or game weeks
// not set up locally are saved without a game week and reported as warnings.
func (s *Syncer) Sync(ctx context.Context) (fixture.ImportResult, error) {
	rows, rowErrs, err := s.client.Fetch(ctx)
	if err != nil {
		return fixture.ImportResult{}, err
	}
	res, err := s.fixtures.UpsertRows(ctx, rows, fixture.UpsertOptions{UnlinkUnknownGameWeeks: true})
	if err != nil {
		return res, errors.Wrap(err, "upserting feed fixtures")
	}
	if rowErrs != nil {
		for _, e := range rowErrs.Errors {
			res.Errors = append(res.Errors, e.Error())
		}
	}
	return res, nil
}

// HandleSync is the job handler of JobSync. The next sync is scheduled first; a failed
// sync is logged and left to it.
func (s *Syncer) HandleSync(ctx context.Context, _ job.Job) error {
	if err := s.jobs.EnsureScheduled(ctx, JobSync, NowFunc().Add(s.interval)); err != nil {
		return errors.Wrap(err, "scheduling next sync")
	}

	res, err := s.Sync(ctx)
	if err != nil {
		s.logger.Error("syncing feed", err)
		return nil
	}
	fields := map[string]interface{}{"created": res.Created, "updated": res.Updated, "skipped": res.Skipped}
	if len(res.Warnings) > 0 {
		fields["warnings"] = res.Warnings
	}
	if len(res.Errors) > 0 {
		fields["errors"] = res.Errors
		s.logger.Warn("feed synced with errors", fields)
	} else {
		s.logger.Info("feed synced", fields)
	}
	return nil
}
