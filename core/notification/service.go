package notification

import (
	"context"
	"net/mail"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/fixture"
	"github.com/trezcool/kickoff/core/job"
	"github.com/trezcool/kickoff/core/subscriber"
)

var (
	NowFunc = time.Now // mockable

	// errors
	// ErrMarked is returned by Repository.CreateMark when the (day, kind) marker exists.
	ErrMarked = errors.New("notification already sent")
)

type (
	Repository interface {
		// CreateMark inserts the marker, or returns ErrMarked.
		CreateMark(ctx context.Context, m Mark) error
		SetMarkRecipients(ctx context.Context, day, kind string, recipients int) error
		// QueryMarks returns markers newest day first.
		QueryMarks(ctx context.Context, filter MarkFilter) ([]Mark, error)
	}

	Service struct {
		repo     Repository
		fixtures *fixture.Service
		subs     *subscriber.Service
		jobs     *job.Service
		mailSvc  core.EmailService
		smsSvc   core.SMSService
		logger   core.Logger
	}
)

func NewService(
	repo Repository,
	fixtures *fixture.Service,
	subs *subscriber.Service,
	jobs *job.Service,
	mailSvc core.EmailService,
	smsSvc core.SMSService,
	logger core.Logger,
) *Service {
	return &Service{
		repo:     repo,
		fixtures: fixtures,
		subs:     subs,
		jobs:     jobs,
		mailSvc:  mailSvc,
		smsSvc:   smsSvc,
		logger:   logger,
	}
}

// CheckFixtures dispatches the notifications due at now for now's local day.
//
// todayAt is the configured daily time, soonAt is the first kickoff minus the lead time.
// A kind is due once its send time has passed and until the first kickoff. Each kind is
// dispatched at most once per day: the (day, kind) marker is written first, then one
// delivery job is enqueued per verified subscriber opted into the kind.
func (svc *Service) CheckFixtures(ctx context.Context, now time.Time) (Plan, error) {
	plan, fixtures, err := svc.plan(ctx, now)
	if err != nil {
		checksTotal.WithLabelValues("error").Inc()
		return plan, err
	}
	if len(fixtures) == 0 || len(plan.Due) == 0 {
		checksTotal.WithLabelValues("idle").Inc()
		return plan, nil
	}

	for _, kind := range plan.Due {
		n, err := svc.dispatch(ctx, plan.Day, kind, now)
		if err != nil {
			if errors.Cause(err) == ErrMarked {
				continue
			}
			checksTotal.WithLabelValues("error").Inc()
			return plan, errors.Wrapf(err, "dispatching %s notifications", kind)
		}
		plan.Dispatched = append(plan.Dispatched, kind)
		plan.Enqueued += n
		dispatchedTotal.WithLabelValues(kind).Inc()
	}
	checksTotal.WithLabelValues("ok").Inc()
	return plan, nil
}

// plan computes send times and due kinds without side effects.
func (svc *Service) plan(ctx context.Context, now time.Time) (Plan, []fixture.Fixture, error) {
	loc := core.Conf.Location()
	day := core.StartOfDay(now, loc)
	plan := Plan{Day: day.Format(core.DateLayout), Due: []string{}, Dispatched: []string{}}

	muted, err := svc.fixtures.IsMuted(ctx, plan.Day)
	if err != nil {
		return plan, nil, err
	}
	if muted {
		plan.Muted = true
		return plan, nil, nil
	}

	fixtures, err := svc.notifiableFixtures(ctx, day)
	if err != nil {
		return plan, nil, err
	}
	plan.Fixtures = len(fixtures)
	if len(fixtures) == 0 {
		return plan, nil, nil
	}

	hour, min, err := core.ParseClock(core.Conf.Notify.DailyTime)
	if err != nil {
		return plan, nil, errors.Wrapf(err, "notify daily time %q", core.Conf.Notify.DailyTime)
	}
	plan.FirstKickoff = fixtures[0].KickoffAt
	plan.TodayAt = core.AtClock(day, hour, min).UTC()
	plan.SoonAt = plan.FirstKickoff.Add(-core.Conf.Notify.SoonLead)

	for _, k := range []struct {
		kind   string
		sendAt time.Time
	}{
		{KindToday, plan.TodayAt},
		{KindSoon, plan.SoonAt},
	} {
		if !now.Before(k.sendAt) && now.Before(plan.FirstKickoff) {
			plan.Due = append(plan.Due, k.kind)
		}
	}
	return plan, fixtures, nil
}

func (svc *Service) dispatch(ctx context.Context, day, kind string, now time.Time) (int, error) {
	if err := svc.repo.CreateMark(ctx, Mark{Day: day, Kind: kind, SentAt: now.UTC()}); err != nil {
		return 0, err
	}

	recipients, err := svc.subs.Recipients(ctx, kind == KindToday)
	if err != nil {
		return 0, errors.Wrap(err, "querying recipients")
	}

	var enqueued int
	for _, sub := range recipients {
		_, err := svc.jobs.Enqueue(ctx, job.NewJob{
			Kind:      JobDeliver,
			DedupeKey: "notify:" + day + ":" + kind + ":" + sub.ID,
			Payload:   DeliverPayload{SubscriberID: sub.ID, Kind: kind, Day: day},
		})
		if err != nil {
			if errors.Cause(err) == job.ErrDuplicate {
				continue
			}
			// the marker is set, remaining subscribers miss this notification
			svc.logger.Error("enqueueing notification", err, map[string]interface{}{"subscriber_id": sub.ID, "kind": kind, "day": day})
			continue
		}
		enqueued++
	}

	if err = svc.repo.SetMarkRecipients(ctx, day, kind, enqueued); err != nil {
		svc.logger.Error("updating notification mark", err, map[string]interface{}{"kind": kind, "day": day})
	}
	return enqueued, nil
}

// Deliver sends one notification. Missing or unverified subscribers and days without
// fixtures are dropped; send errors are returned so the job is retried.
func (svc *Service) Deliver(ctx context.Context, p DeliverPayload) error {
	sub, err := svc.subs.GetByID(ctx, p.SubscriberID)
	if err != nil {
		if errors.Cause(err) == subscriber.ErrNotFound {
			return nil
		}
		return errors.Wrap(err, "getting subscriber")
	}
	if !sub.IsVerified() || (p.Kind == KindToday && !sub.NotifyToday) || (p.Kind == KindSoon && !sub.NotifySoon) {
		return nil
	}

	loc := core.Conf.Location()
	day, err := core.ParseDate(p.Day, loc)
	if err != nil {
		return errors.Wrap(err, "parsing day")
	}
	fixtures, err := svc.notifiableFixtures(ctx, day)
	if err != nil {
		return err
	}
	if len(fixtures) == 0 {
		return nil
	}

	data := newMessageData(fixtures, day, NowFunc(), loc)
	data.UnsubscribeURL = subscriber.UnsubscribeURL(sub)

	switch sub.Channel {
	case subscriber.ChannelEmail:
		err = svc.mailSvc.Send(ctx, &core.EmailMessage{
			To:           []mail.Address{{Address: sub.Address}},
			Subject:      subject(p.Kind, data),
			TemplateName: "fixtures_" + p.Kind,
			TemplateData: data,
		})
	case subscriber.ChannelSMS:
		err = svc.smsSvc.Send(ctx, &core.SMSMessage{
			To:           sub.Address,
			TemplateName: "fixtures_" + p.Kind,
			TemplateData: data,
		})
	default:
		return nil
	}
	if err != nil {
		failedTotal.WithLabelValues(sub.Channel, p.Kind).Inc()
		return errors.Wrapf(err, "sending %s notification", sub.Channel)
	}
	sentTotal.WithLabelValues(sub.Channel, p.Kind).Inc()
	return nil
}

// QueryMarks lists the dispatched notifications.
func (svc *Service) QueryMarks(ctx context.Context, filter MarkFilter) ([]Mark, error) {
	filter.From = core.CleanString(filter.From)
	filter.To = core.CleanString(filter.To)
	return svc.repo.QueryMarks(ctx, filter)
}

// HandleCheck schedules the next check, then runs one. A failed check is logged and
// left to its successor so that an outage never ends the recurring schedule.
func (svc *Service) HandleCheck(ctx context.Context, _ job.Job) error {
	now := NowFunc()
	if err := svc.jobs.EnsureScheduled(ctx, JobCheck, now.Add(core.Conf.Notify.CheckInterval)); err != nil {
		return errors.Wrap(err, "scheduling next check")
	}

	plan, err := svc.CheckFixtures(ctx, now)
	if err != nil {
		svc.logger.Error("checking fixtures", err, map[string]interface{}{"day": plan.Day})
		return nil
	}
	if len(plan.Dispatched) > 0 {
		svc.logger.Info("notifications dispatched", map[string]interface{}{
			"day": plan.Day, "kinds": plan.Dispatched, "enqueued": plan.Enqueued,
		})
	}
	return nil
}

// HandleDeliver is the job handler of JobDeliver.
func (svc *Service) HandleDeliver(ctx context.Context, j job.Job) error {
	var p DeliverPayload
	if err := j.Decode(&p); err != nil {
		// nothing to retry
		svc.logger.Error("decoding delivery payload", err, map[string]interface{}{"job_id": j.ID})
		return nil
	}
	return svc.Deliver(ctx, p)
}

func (svc *Service) notifiableFixtures(ctx context.Context, day time.Time) ([]fixture.Fixture, error) {
	all, err := svc.fixtures.FixturesOn(ctx, day)
	if err != nil {
		return nil, errors.Wrap(err, "querying fixtures")
	}
	fixtures := make([]fixture.Fixture, 0, len(all))
	for _, f := range all {
		if f.IsNotifiable() {
			fixtures = append(fixtures, f)
		}
	}
	return fixtures, nil
}

func newMessageData(fixtures []fixture.Fixture, day, now time.Time, loc *time.Location) messageData {
	data := messageData{
		Count:     len(fixtures),
		DateLabel: day.In(loc).Format("Monday 2 January"),
		Fixtures:  make([]fixtureView, 0, len(fixtures)),
	}
	for _, f := range fixtures {
		data.Fixtures = append(data.Fixtures, fixtureView{
			Time:        f.KickoffAt.In(loc).Format(core.ClockLayout),
			HomeTeam:    f.HomeTeam,
			AwayTeam:    f.AwayTeam,
			Competition: f.Competition,
			Venue:       f.Venue,
		})
	}
	first := fixtures[0].KickoffAt
	data.FirstKickoff = first.In(loc).Format(core.ClockLayout)
	data.StartsIn = humanize.RelTime(first, now, "ago", "from now")
	return data
}

func subject(kind string, data messageData) string {
	if kind == KindSoon {
		return "Kick-off " + data.StartsIn
	}
	if data.Count == 1 {
		return "1 fixture today"
	}
	return humanize.Comma(int64(data.Count)) + " fixtures today"
}
