package echoapi_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kickoff/core/job"
)

func Test_jobApi(t *testing.T) {
	app := setup(t)
	_, token := app.createAdmin(t, "admin")
	ctx := context.Background()

	pending, err := job.NewService(app.jobRepo).Enqueue(ctx, job.NewJob{Kind: "fixtures.check", DedupeKey: "fixtures.check"})
	require.NoError(t, err)
	now := time.Now().UTC()
	dead, err := app.jobRepo.CreateJob(ctx, job.Job{
		Kind:      "notification.deliver",
		Payload:   []byte(`{"subscriber_id": "x", "kind": "today", "day": "2025-08-16"}`),
		Status:    job.StatusDead,
		RunAt:     now,
		Attempts:  5,
		LastError: "calling twilio: 503",
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)

	runHTTPTests(t, app, []httpTest{
		{name: "Auth required", method: http.MethodGet, path: "/v1/jobs", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Dead", method: http.MethodGet, path: "/v1/jobs?status=DEAD", token: token, wantCode: http.StatusOK, wantData: marchallList(t, dead)},
		{name: "By kind", method: http.MethodGet, path: "/v1/jobs?kind=fixtures.check", token: token, wantCode: http.StatusOK, wantData: marchallList(t, pending)},
		{name: "Retrieve", method: http.MethodGet, path: "/v1/jobs/" + pending.ID, token: token, wantCode: http.StatusOK, wantData: marchallObj(t, pending)},
		{name: "Retrieve unknown", method: http.MethodGet, path: "/v1/jobs/missing", token: token, wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
		{
			name: "Retry pending", method: http.MethodPost, path: "/v1/jobs/" + pending.ID + "/retry", token: token,
			wantCode: http.StatusBadRequest, wantData: []byte(`{"status": "only dead jobs can be retried"}`),
		},
		{name: "Retry unknown", method: http.MethodPost, path: "/v1/jobs/missing/retry", token: token, wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
	})

	req, rec := newAuthRequest(http.MethodPost, "/v1/jobs/"+dead.ID+"/retry", token)
	app.do(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var retried job.Job
	unmarshal(t, rec, &retried)
	assert.Equal(t, job.StatusPending, retried.Status)
	assert.Zero(t, retried.Attempts)
	assert.Equal(t, dead.Version+1, retried.Version)
	assert.Equal(t, "calling twilio: 503", retried.LastError)

	req, rec = newAuthRequest(http.MethodGet, "/v1/jobs?status=dead", token)
	app.do(req, rec)
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: []byte(`[]`)}, rec)
}
