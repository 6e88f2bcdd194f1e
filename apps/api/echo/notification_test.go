package echoapi_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/job"
	"github.com/trezcool/kickoff/core/notification"
	"github.com/trezcool/kickoff/core/subscriber"
	"github.com/trezcool/kickoff/testutil"
)

func Test_notificationApi_check(t *testing.T) {
	testutil.SetLocation(t, "Europe/London")
	orig := core.Conf.Notify
	core.Conf.Notify = core.NotifyConfig{DailyTime: "08:00", SoonLead: time.Hour, CheckInterval: 5 * time.Minute}
	t.Cleanup(func() { core.Conf.Notify = orig })

	checkAt := time.Date(2025, 8, 16, 7, 30, 0, 0, time.UTC) // 08:30 local
	notification.NowFunc = func() time.Time { return checkAt }
	t.Cleanup(func() { notification.NowFunc = time.Now })

	app := setup(t)
	_, token := app.createAdmin(t, "admin")
	kickoff := time.Date(2025, 8, 16, 11, 30, 0, 0, time.UTC)
	testutil.CreateFixture(t, app.fixtureRepo, "Arsenal", "Chelsea", kickoff)
	testutil.CreateSubscriber(t, app.subRepo, subscriber.ChannelEmail, "fan@example.com", true, true, true)
	testutil.CreateSubscriber(t, app.subRepo, subscriber.ChannelSMS, "+447700900123", true, false, true)
	testutil.CreateSubscriber(t, app.subRepo, subscriber.ChannelEmail, "pending@example.com", true, true, false)
	testutil.CreateSubscriber(t, app.subRepo, subscriber.ChannelEmail, "soon@example.com", false, true, true)

	runHTTPTests(t, app, []httpTest{
		{name: "Auth required", method: http.MethodPost, path: "/v1/notifications/check", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "No marks yet", method: http.MethodGet, path: "/v1/notifications", token: token, wantCode: http.StatusOK, wantData: []byte(`[]`)},
	})

	req, rec := newAuthRequest(http.MethodPost, "/v1/notifications/check", token)
	app.do(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var plan notification.Plan
	unmarshal(t, rec, &plan)
	assert.Equal(t, "2025-08-16", plan.Day)
	assert.False(t, plan.Muted)
	assert.Equal(t, 1, plan.Fixtures)
	assert.Equal(t, kickoff, plan.FirstKickoff)
	assert.Equal(t, time.Date(2025, 8, 16, 7, 0, 0, 0, time.UTC), plan.TodayAt)
	assert.Equal(t, kickoff.Add(-time.Hour), plan.SoonAt)
	assert.Equal(t, []string{notification.KindToday}, plan.Due)
	assert.Equal(t, []string{notification.KindToday}, plan.Dispatched)
	assert.Equal(t, 2, plan.Enqueued)

	t.Run("Dispatched once per day", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/notifications/check", token)
		app.do(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)
		var again notification.Plan
		unmarshal(t, rec, &again)
		assert.Equal(t, []string{notification.KindToday}, again.Due)
		assert.Empty(t, again.Dispatched)
		assert.Zero(t, again.Enqueued)
	})

	t.Run("Marks", func(t *testing.T) {
		want := notification.Mark{Day: "2025-08-16", Kind: notification.KindToday, Recipients: 2, SentAt: checkAt}
		runHTTPTests(t, app, []httpTest{
			{name: "all", method: http.MethodGet, path: "/v1/notifications", token: token, wantCode: http.StatusOK, wantData: marchallList(t, want)},
			{name: "in range", method: http.MethodGet, path: "/v1/notifications?from=2025-08-01&to=2025-08-16", token: token, wantCode: http.StatusOK, wantData: marchallList(t, want)},
			{name: "out of range", method: http.MethodGet, path: "/v1/notifications?from=2025-08-17", token: token, wantCode: http.StatusOK, wantData: []byte(`[]`)},
		})
	})

	t.Run("Delivery jobs", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/jobs?kind="+notification.JobDeliver, token)
		app.do(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)
		var jobs []job.Job
		unmarshal(t, rec, &jobs)
		require.Len(t, jobs, 2)
		for _, j := range jobs {
			var p notification.DeliverPayload
			require.NoError(t, j.Decode(&p))
			assert.Equal(t, notification.KindToday, p.Kind)
			assert.Equal(t, "2025-08-16", p.Day)
		}
	})
}

func Test_notificationApi_checkMuted(t *testing.T) {
	testutil.SetLocation(t, "Europe/London")
	notification.NowFunc = func() time.Time { return time.Date(2025, 8, 16, 7, 30, 0, 0, time.UTC) }
	t.Cleanup(func() { notification.NowFunc = time.Now })

	app := setup(t)
	_, token := app.createAdmin(t, "admin")
	testutil.CreateGameWeek(t, app.fixtureRepo, "2025/26", 1, "2025-08-15", "2025-08-18", false)
	testutil.CreateFixture(t, app.fixtureRepo, "Arsenal", "Chelsea", time.Date(2025, 8, 16, 11, 30, 0, 0, time.UTC))
	testutil.CreateSubscriber(t, app.subRepo, subscriber.ChannelEmail, "fan@example.com", true, true, true)

	req, rec := newAuthRequest(http.MethodPost, "/v1/notifications/check", token)
	app.do(req, rec)
	require.Equal(t, http.StatusOK, rec.Code)
	var plan notification.Plan
	unmarshal(t, rec, &plan)
	assert.True(t, plan.Muted)
	assert.Empty(t, plan.Dispatched)
	assert.Zero(t, plan.Enqueued)
}
