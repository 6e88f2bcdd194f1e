package notification_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/fixture"
	"github.com/trezcool/kickoff/core/job"
	"github.com/trezcool/kickoff/core/notification"
	"github.com/trezcool/kickoff/core/subscriber"
	emailsvc "github.com/trezcool/kickoff/services/email"
	smssvc "github.com/trezcool/kickoff/services/sms"
	inmemdb "github.com/trezcool/kickoff/storage/database/inmem"
	"github.com/trezcool/kickoff/testutil"
)

const day = "2025-08-16" // Saturday, BST (UTC+1)

var (
	todayAt      = time.Date(2025, 8, 16, 7, 0, 0, 0, time.UTC)   // 08:00 local
	firstKickoff = time.Date(2025, 8, 16, 11, 30, 0, 0, time.UTC) // 12:30 local
	soonAt       = firstKickoff.Add(-time.Hour)
)

type env struct {
	fixtureRepo fixture.Repository
	subRepo     subscriber.Repository
	jobRepo     job.Repository
	jobs        *job.Service
	svc         *notification.Service
	mail        *emailsvc.ConsoleServiceMock
	sms         *smssvc.ConsoleServiceMock
	logger      *testutil.Logger
}

func setup(t *testing.T) *env {
	t.Helper()
	testutil.SetLocation(t, "Europe/London")
	orig := core.Conf.Notify
	core.Conf.Notify = core.NotifyConfig{DailyTime: "08:00", SoonLead: time.Hour, CheckInterval: 5 * time.Minute}
	t.Cleanup(func() { core.Conf.Notify = orig })

	db := inmemdb.Open()
	e := &env{
		fixtureRepo: inmemdb.NewFixtureRepository(db),
		subRepo:     inmemdb.NewSubscriberRepository(db),
		jobRepo:     inmemdb.NewJobRepository(db),
		mail:        emailsvc.NewConsoleServiceMock(),
		sms:         smssvc.NewConsoleServiceMock(),
		logger:      new(testutil.Logger),
	}
	e.jobs = job.NewService(e.jobRepo)
	e.svc = notification.NewService(
		inmemdb.NewNotificationRepository(db),
		fixture.NewService(e.fixtureRepo),
		subscriber.NewService(e.subRepo, e.mail, e.sms),
		e.jobs,
		e.mail,
		e.sms,
		e.logger,
	)
	return e
}

// seed creates two fixtures on day, a postponed one, and subscribers with various preferences.
func (e *env) seed(t *testing.T) map[string]subscriber.Subscriber {
	t.Helper()
	testutil.CreateFixture(t, e.fixtureRepo, "Arsenal", "Chelsea", firstKickoff)
	testutil.CreateFixture(t, e.fixtureRepo, "Leeds", "Everton", firstKickoff.Add(150*time.Minute))
	testutil.CreateFixture(t, e.fixtureRepo, "Fulham", "Brentford", todayAt.Add(-time.Hour), fixture.StatusPostponed)

	return map[string]subscriber.Subscriber{
		"both":       testutil.CreateSubscriber(t, e.subRepo, subscriber.ChannelEmail, "both@example.com", true, true, true),
		"today":      testutil.CreateSubscriber(t, e.subRepo, subscriber.ChannelSMS, "+447700900123", true, false, true),
		"soon":       testutil.CreateSubscriber(t, e.subRepo, subscriber.ChannelSMS, "+447700900456", false, true, true),
		"unverified": testutil.CreateSubscriber(t, e.subRepo, subscriber.ChannelEmail, "new@example.com", true, true, false),
	}
}

func (e *env) deliveries(t *testing.T) []notification.DeliverPayload {
	t.Helper()
	jobs, err := e.jobs.Query(context.Background(), job.QueryFilter{Kind: notification.JobDeliver})
	require.NoError(t, err)
	payloads := make([]notification.DeliverPayload, 0, len(jobs))
	for _, j := range jobs {
		var p notification.DeliverPayload
		require.NoError(t, j.Decode(&p))
		payloads = append(payloads, p)
	}
	return payloads
}

func TestService_CheckFixtures(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	subs := e.seed(t)

	tests := []struct {
		name           string
		now            time.Time
		wantDue        []string
		wantDispatched []string
		wantEnqueued   int
	}{
		{"before daily time", todayAt.Add(-time.Minute), []string{}, []string{}, 0},
		{"daily time", todayAt, []string{"today"}, []string{"today"}, 2},
		{"later check", todayAt.Add(5 * time.Minute), []string{"today"}, []string{}, 0},
		{"soon", soonAt, []string{"today", "soon"}, []string{"soon"}, 2},
		{"first kickoff", firstKickoff, []string{}, []string{}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := e.svc.CheckFixtures(ctx, tc.now)
			require.NoError(t, err)
			assert.Equal(t, day, plan.Day)
			assert.Equal(t, 2, plan.Fixtures)
			assert.Equal(t, firstKickoff, plan.FirstKickoff)
			assert.Equal(t, todayAt, plan.TodayAt)
			assert.Equal(t, soonAt, plan.SoonAt)
			assert.Equal(t, tc.wantDue, plan.Due)
			assert.Equal(t, tc.wantDispatched, plan.Dispatched)
			assert.Equal(t, tc.wantEnqueued, plan.Enqueued)
		})
	}

	marks, err := e.svc.QueryMarks(ctx, notification.MarkFilter{From: day, To: day})
	require.NoError(t, err)
	require.Len(t, marks, 2)
	assert.Equal(t, notification.KindSoon, marks[0].Kind)
	assert.Equal(t, soonAt, marks[0].SentAt)
	assert.Equal(t, 2, marks[0].Recipients)
	assert.Equal(t, notification.KindToday, marks[1].Kind)
	assert.Equal(t, todayAt, marks[1].SentAt)

	assert.ElementsMatch(t, []notification.DeliverPayload{
		{SubscriberID: subs["both"].ID, Kind: "today", Day: day},
		{SubscriberID: subs["today"].ID, Kind: "today", Day: day},
		{SubscriberID: subs["both"].ID, Kind: "soon", Day: day},
		{SubscriberID: subs["soon"].ID, Kind: "soon", Day: day},
	}, e.deliveries(t))

	// nothing is sent directly
	assert.Empty(t, e.mail.SentMessages())
	assert.Empty(t, e.sms.SentMessages())
}

func TestService_CheckFixtures_BothDue(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.seed(t)

	// first check of the day happens after both send times
	plan, err := e.svc.CheckFixtures(ctx, soonAt.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"today", "soon"}, plan.Dispatched)
	assert.Equal(t, 4, plan.Enqueued)

	plan, err = e.svc.CheckFixtures(ctx, soonAt.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, plan.Dispatched)
	assert.Len(t, e.deliveries(t), 4)
}

func TestService_CheckFixtures_Muted(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.seed(t)
	testutil.CreateGameWeek(t, e.fixtureRepo, "2025/26", 1, "2025-08-15", "2025-08-18", false)

	plan, err := e.svc.CheckFixtures(ctx, soonAt)
	require.NoError(t, err)
	assert.True(t, plan.Muted)
	assert.Empty(t, plan.Dispatched)

	marks, err := e.svc.QueryMarks(ctx, notification.MarkFilter{})
	require.NoError(t, err)
	assert.Empty(t, marks)
	assert.Empty(t, e.deliveries(t))
}

func TestService_CheckFixtures_NoFixtures(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	testutil.CreateSubscriber(t, e.subRepo, subscriber.ChannelEmail, "both@example.com", true, true, true)
	testutil.CreateFixture(t, e.fixtureRepo, "Fulham", "Brentford", firstKickoff, fixture.StatusCancelled)
	// tomorrow, 00:30 local
	testutil.CreateFixture(t, e.fixtureRepo, "Wolves", "Burnley", time.Date(2025, 8, 16, 23, 30, 0, 0, time.UTC))

	plan, err := e.svc.CheckFixtures(ctx, todayAt)
	require.NoError(t, err)
	assert.Zero(t, plan.Fixtures)
	assert.Empty(t, plan.Due)
	assert.Empty(t, e.deliveries(t))
}

func TestService_Deliver(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	subs := e.seed(t)
	notification.NowFunc = func() time.Time { return soonAt }
	t.Cleanup(func() { notification.NowFunc = time.Now })

	t.Run("email today", func(t *testing.T) {
		e.mail.Reset()
		require.NoError(t, e.svc.Deliver(ctx, notification.DeliverPayload{SubscriberID: subs["both"].ID, Kind: "today", Day: day}))
		sent := e.mail.SentMessages()
		require.Len(t, sent, 1)
		assert.Equal(t, "2 fixtures today", sent[0].Subject)
		assert.Equal(t, "both@example.com", sent[0].To[0].Address)
		assert.Contains(t, sent[0].TextContent, "2 fixtures on Saturday 16 August")
		assert.Contains(t, sent[0].TextContent, "12:30  Arsenal v Chelsea (Premier League)")
		assert.Contains(t, sent[0].TextContent, "15:00  Leeds v Everton")
		assert.NotContains(t, sent[0].TextContent, "Fulham")
		assert.Contains(t, sent[0].TextContent, subscriber.UnsubscribeURL(subs["both"]))
	})

	t.Run("sms soon", func(t *testing.T) {
		e.sms.Reset()
		require.NoError(t, e.svc.Deliver(ctx, notification.DeliverPayload{SubscriberID: subs["soon"].ID, Kind: "soon", Day: day}))
		sent := e.sms.SentMessages()
		require.Len(t, sent, 1)
		assert.Equal(t, "+447700900456", sent[0].To)
		assert.Contains(t, sent[0].Body, "kick-off 1 hour from now, Arsenal v Chelsea")
		assert.Contains(t, sent[0].Body, "at 12:30")
	})

	t.Run("dropped", func(t *testing.T) {
		e.mail.Reset()
		e.sms.Reset()
		for _, p := range []notification.DeliverPayload{
			{SubscriberID: subs["unverified"].ID, Kind: "today", Day: day},
			{SubscriberID: subs["today"].ID, Kind: "soon", Day: day}, // opted out
			{SubscriberID: "deleted", Kind: "today", Day: day},
			{SubscriberID: subs["both"].ID, Kind: "today", Day: "2025-08-17"}, // no fixtures
		} {
			assert.NoError(t, e.svc.Deliver(ctx, p))
		}
		assert.Empty(t, e.mail.SentMessages())
		assert.Empty(t, e.sms.SentMessages())
	})

	t.Run("send failure", func(t *testing.T) {
		e.mail.FailWith(errors.New("sendgrid: 503"))
		t.Cleanup(e.mail.Reset)
		err := e.svc.Deliver(ctx, notification.DeliverPayload{SubscriberID: subs["both"].ID, Kind: "soon", Day: day})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "sendgrid: 503")
	})
}

func TestService_HandleCheck(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.seed(t)
	notification.NowFunc = func() time.Time { return todayAt }
	t.Cleanup(func() { notification.NowFunc = time.Now })

	require.NoError(t, e.svc.HandleCheck(ctx, job.Job{}))
	require.NoError(t, e.svc.HandleCheck(ctx, job.Job{}))

	checks, err := e.jobs.Query(ctx, job.QueryFilter{Kind: notification.JobCheck})
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, todayAt.Add(5*time.Minute), checks[0].RunAt)
	assert.Len(t, e.deliveries(t), 2)
}

// flakyFixtureRepo fails game week queries while down is set.
type flakyFixtureRepo struct {
	fixture.Repository
	down bool
}

func (repo *flakyFixtureRepo) QueryGameWeeks(ctx context.Context, filter fixture.GameWeekFilter) ([]fixture.GameWeek, error) {
	if repo.down {
		return nil, errors.New("db down")
	}
	return repo.Repository.QueryGameWeeks(ctx, filter)
}

func TestService_HandleCheck_StorageDown(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.seed(t)

	repo := &flakyFixtureRepo{Repository: e.fixtureRepo, down: true}
	db := inmemdb.Open()
	svc := notification.NewService(
		inmemdb.NewNotificationRepository(db),
		fixture.NewService(repo),
		subscriber.NewService(e.subRepo, e.mail, e.sms),
		e.jobs,
		e.mail,
		e.sms,
		e.logger,
	)

	now := todayAt
	notification.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { notification.NowFunc = time.Now })

	// failed checks are logged and never break the schedule
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.HandleCheck(ctx, job.Job{}))
	}
	entries := e.logger.Entries()
	require.Len(t, entries, 3)
	assert.Contains(t, entries[0], "ERROR: checking fixtures")
	assert.Contains(t, entries[0], "db down")
	assert.Empty(t, e.deliveries(t))

	checks, err := e.jobs.Query(ctx, job.QueryFilter{Kind: notification.JobCheck, Status: job.StatusPending})
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, todayAt.Add(5*time.Minute), checks[0].RunAt)

	// storage is back: the next check dispatches
	repo.down = false
	require.NoError(t, svc.HandleCheck(ctx, job.Job{}))
	assert.Len(t, e.deliveries(t), 2)
}

func TestService_HandleDeliver(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	subs := e.seed(t)

	// an undecodable payload is not retried
	require.NoError(t, e.svc.HandleDeliver(ctx, job.Job{ID: "1", Payload: json.RawMessage(`[]`)}))
	assert.Len(t, e.logger.Entries(), 1)

	payload, err := json.Marshal(notification.DeliverPayload{SubscriberID: subs["today"].ID, Kind: "today", Day: day})
	require.NoError(t, err)
	require.NoError(t, e.svc.HandleDeliver(ctx, job.Job{ID: "2", Payload: payload}))
	assert.Len(t, e.sms.SentMessages(), 1)
}

func TestService_CheckThenRun(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.seed(t)

	_, err := e.svc.CheckFixtures(ctx, soonAt)
	require.NoError(t, err)

	runner := job.NewRunner(e.jobRepo, e.logger, job.RunnerConfig{})
	runner.Handle(notification.JobDeliver, e.svc.HandleDeliver)
	stats, err := runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Done)

	// both@ got two emails, the two phones one text each
	assert.Len(t, e.mail.SentMessages(), 2)
	assert.Len(t, e.sms.SentMessages(), 2)
}
