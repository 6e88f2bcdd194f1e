package echoapi_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kickoff/core/fixture"
	"github.com/trezcool/kickoff/testutil"
)

var today = time.Date(2025, 8, 16, 7, 0, 0, 0, time.UTC) // 08:00 in London

func setToday(t *testing.T) {
	t.Helper()
	testutil.SetLocation(t, "Europe/London")
	fixture.NowFunc = func() time.Time { return today }
	t.Cleanup(func() { fixture.NowFunc = time.Now })
}

func Test_fixtureApi_listDays(t *testing.T) {
	setToday(t)
	app := setup(t)
	testutil.CreateFixture(t, app.fixtureRepo, "Leeds", "Everton", time.Date(2025, 8, 17, 14, 0, 0, 0, time.UTC))
	testutil.CreateFixture(t, app.fixtureRepo, "Arsenal", "Chelsea", time.Date(2025, 8, 16, 11, 30, 0, 0, time.UTC))
	testutil.CreateFixture(t, app.fixtureRepo, "Fulham", "Brentford", time.Date(2025, 8, 16, 23, 30, 0, 0, time.UTC)) // 00:30 BST on the 17th
	testutil.CreateFixture(t, app.fixtureRepo, "Wolves", "Burnley", time.Date(2025, 9, 1, 19, 0, 0, 0, time.UTC))

	req, rec := newRequest(http.MethodGet, "/v1/fixtures")
	app.do(req, rec)
	require.Equal(t, http.StatusOK, rec.Code)

	var days []fixture.Day
	unmarshal(t, rec, &days)
	require.Len(t, days, 2)
	assert.Equal(t, "2025-08-16", days[0].Date)
	require.Len(t, days[0].Fixtures, 1)
	assert.Equal(t, "Arsenal", days[0].Fixtures[0].HomeTeam)
	assert.Equal(t, "2025-08-17", days[1].Date)
	require.Len(t, days[1].Fixtures, 2)
	assert.Equal(t, "Fulham", days[1].Fixtures[0].HomeTeam)
	assert.Equal(t, "Leeds", days[1].Fixtures[1].HomeTeam)

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	t.Run("Not modified", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/fixtures")
		req.Header.Set("If-None-Match", etag)
		app.do(req, rec)
		assert.Equal(t, http.StatusNotModified, rec.Code)
		assert.Empty(t, rec.Body.String())
	})

	t.Run("Range", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/fixtures?from=2025-08-20&to=2025-09-10")
		app.do(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)
		unmarshal(t, rec, &days)
		require.Len(t, days, 1)
		assert.Equal(t, "2025-09-01", days[0].Date)
		assert.NotEqual(t, etag, rec.Header().Get("ETag"))
	})

	runHTTPTests(t, app, []httpTest{
		{name: "Empty range", method: http.MethodGet, path: "/v1/fixtures?from=2025-10-01", wantCode: http.StatusOK, wantData: []byte(`[]`)},
		{
			name: "Invalid from", method: http.MethodGet, path: "/v1/fixtures?from=16/08/2025", wantCode: http.StatusBadRequest,
			wantData: []byte(`{"from": "must be a date formatted as YYYY-MM-DD"}`),
		},
		{
			name: "Reversed range", method: http.MethodGet, path: "/v1/fixtures?from=2025-08-16&to=2025-08-15", wantCode: http.StatusBadRequest,
			wantData: []byte(`{"to": "must not be before from"}`),
		},
		{
			name: "Range too long", method: http.MethodGet, path: "/v1/fixtures?from=2025-08-01&to=2025-09-01", wantCode: http.StatusBadRequest,
			wantData: []byte(`{"to": "date range cannot exceed 31 days"}`),
		},
	})
}

func Test_fixtureApi_publicListingAlongsideAdminRoutes(t *testing.T) {
	setToday(t)
	app := setup(t)
	_, token := app.createAdmin(t, "admin")
	testutil.CreateFixture(t, app.fixtureRepo, "Arsenal", "Chelsea", time.Date(2025, 8, 16, 11, 30, 0, 0, time.UTC))

	runHTTPTests(t, app, []httpTest{
		{name: "Listing without token", method: http.MethodGet, path: "/v1/fixtures", wantCode: http.StatusOK},
		{name: "Listing with token", method: http.MethodGet, path: "/v1/fixtures", token: token, wantCode: http.StatusOK},
		{name: "Search needs token", method: http.MethodGet, path: "/v1/fixtures/search", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Export needs token", method: http.MethodGet, path: "/v1/fixtures/export", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Retrieve needs token", method: http.MethodGet, path: "/v1/fixtures/missing", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Delete needs token", method: http.MethodDelete, path: "/v1/fixtures", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
	})
}

func Test_fixtureApi_crud(t *testing.T) {
	setToday(t)
	app := setup(t)
	_, token := app.createAdmin(t, "admin")
	nobody := testutil.CreateUser(t, app.userRepo, "Nobody", "nobody", "nobody@example.com", pwd, nil, true)

	body := []byte(`{"home_team": " Arsenal ", "away_team": "Chelsea", "competition": "Premier League", "kickoff_at": "2025-08-16T11:30:00Z"}`)
	runHTTPTests(t, app, []httpTest{
		{name: "Auth required", method: http.MethodPost, path: "/v1/fixtures", body: body, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Admin required", method: http.MethodPost, path: "/v1/fixtures", body: body, token: getToken(t, nobody), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "Same teams", method: http.MethodPost, path: "/v1/fixtures", body: []byte(`{"home_team": "Arsenal", "away_team": "Arsenal", "kickoff_at": "2025-08-16T11:30:00Z"}`), token: token, wantCode: http.StatusBadRequest},
		{name: "Unknown game week", method: http.MethodPost, path: "/v1/fixtures", body: []byte(`{"game_week_id": "0b6e4cf8-5a36-4b5e-a1c6-3b0e0f0a5f1e", "home_team": "A", "away_team": "B", "kickoff_at": "2025-08-16T11:30:00Z"}`), token: token, wantCode: http.StatusBadRequest, wantData: []byte(`{"game_week_id": "game week not found"}`)},
	})

	req, rec := newAuthRequest(http.MethodPost, "/v1/fixtures", token, body)
	app.do(req, rec)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var f fixture.Fixture
	unmarshal(t, rec, &f)
	assert.Equal(t, "Arsenal", f.HomeTeam)
	assert.Equal(t, fixture.StatusScheduled, f.Status)

	t.Run("Duplicate", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/fixtures", token, body)
		app.do(req, rec)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "a fixture with these teams and kickoff already exists"}),
		}, rec)
	})

	t.Run("Retrieve", func(t *testing.T) {
		runHTTPTests(t, app, []httpTest{
			{name: "found", method: http.MethodGet, path: "/v1/fixtures/" + f.ID, token: token, wantCode: http.StatusOK, wantData: marchallObj(t, f)},
			{name: "unknown", method: http.MethodGet, path: "/v1/fixtures/missing", token: token, wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
		})
	})

	t.Run("Update", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/fixtures/"+f.ID, token, []byte(`{"status": "Postponed", "venue": "Emirates"}`))
		app.do(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated fixture.Fixture
		unmarshal(t, rec, &updated)
		assert.Equal(t, fixture.StatusPostponed, updated.Status)
		assert.Equal(t, "Emirates", updated.Venue)
		assert.Equal(t, f.KickoffAt, updated.KickoffAt)

		req, rec = newAuthRequest(http.MethodPut, "/v1/fixtures/"+f.ID, token, []byte(`{"away_team": "arsenal"}`))
		app.do(req, rec)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: []byte(`{"away_team": "home and away teams must differ"}`)}, rec)
	})

	t.Run("Search", func(t *testing.T) {
		testutil.CreateFixture(t, app.fixtureRepo, "Leeds", "Everton", time.Date(2025, 8, 17, 14, 0, 0, 0, time.UTC))

		var fixtures []fixture.Fixture
		req, rec := newAuthRequest(http.MethodGet, "/v1/fixtures/search?status=postponed", token)
		app.do(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)
		unmarshal(t, rec, &fixtures)
		require.Len(t, fixtures, 1)
		assert.Equal(t, f.ID, fixtures[0].ID)

		req, rec = newAuthRequest(http.MethodGet, "/v1/fixtures/search?from=2025-08-17&to=2025-08-17", token)
		app.do(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)
		unmarshal(t, rec, &fixtures)
		require.Len(t, fixtures, 1)
		assert.Equal(t, "Leeds", fixtures[0].HomeTeam)

		req, rec = newAuthRequest(http.MethodGet, "/v1/fixtures/search?status=later", token)
		app.do(req, rec)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: []byte(`{"status": "invalid status \"later\""}`)}, rec)
	})

	t.Run("Delete", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/fixtures/"+f.ID, token)
		app.do(req, rec)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		req, rec = newAuthRequest(http.MethodGet, "/v1/fixtures/"+f.ID, token)
		app.do(req, rec)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_fixtureApi_csv(t *testing.T) {
	setToday(t)
	app := setup(t)
	_, token := app.createAdmin(t, "admin")
	testutil.CreateGameWeek(t, app.fixtureRepo, "2025/26", 1, "2025-08-15", "2025-08-18", true)

	input := "date,time,home,away,competition,venue,status,season,game_week\n" +
		"2025-08-16,12:30,Arsenal,Chelsea,Premier League,Emirates,,2025/26,1\n" +
		"2025-08-17,25:00,Leeds,Everton,,,,,\n" +
		"2025-08-17,15:00,Leeds,Everton,Premier League,,ppd,,\n"

	req, rec := newUploadRequest(t, "/v1/fixtures/import", token, input)
	app.do(req, rec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusOK,
		wantData: []byte(`{"created": 2, "updated": 0, "skipped": 0, "errors": ["line 3: invalid time \"25:00\", expected HH:MM"]}`),
	}, rec)

	t.Run("Re-import is idempotent", func(t *testing.T) {
		req, rec := newUploadRequest(t, "/v1/fixtures/import", token, input)
		app.do(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)
		var res fixture.ImportResult
		unmarshal(t, rec, &res)
		assert.Equal(t, 2, res.Skipped)
		assert.Zero(t, res.Created)
	})

	t.Run("File required", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/fixtures/import", token, []byte(`{}`))
		app.do(req, rec)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: []byte(`{"file": "a CSV file is required"}`)}, rec)
	})

	t.Run("Missing columns", func(t *testing.T) {
		req, rec := newUploadRequest(t, "/v1/fixtures/import", token, "date,home\n2025-08-16,Arsenal\n")
		app.do(req, rec)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Export", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/fixtures/export?from=2025-08-16&to=2025-08-17", token)
		app.do(req, rec)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="fixtures.csv"`)
		assert.Equal(t,
			"date,time,home,away,competition,venue,status,season,game_week\n"+
				"2025-08-16,12:30,Arsenal,Chelsea,Premier League,Emirates,scheduled,2025/26,1\n"+
				"2025-08-17,15:00,Leeds,Everton,Premier League,,postponed,,\n",
			rec.Body.String())
	})
}

func Test_fixtureApi_gameWeeks(t *testing.T) {
	setToday(t)
	app := setup(t)
	_, token := app.createAdmin(t, "admin")

	gwBody := `{"season": "2025/26", "number": 1, "starts_on": "2025-08-15", "ends_on": "2025-08-18"}`
	req, rec := newAuthRequest(http.MethodPost, "/v1/game-weeks", token, []byte(gwBody))
	app.do(req, rec)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var gw fixture.GameWeek
	unmarshal(t, rec, &gw)
	assert.True(t, gw.NotificationsEnabled)

	runHTTPTests(t, app, []httpTest{
		{name: "Auth required", method: http.MethodGet, path: "/v1/game-weeks", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Duplicate number", method: http.MethodPost, path: "/v1/game-weeks", token: token, body: []byte(gwBody),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"number": "this game week already exists for the season"}`),
		},
		{
			name: "Overlap", method: http.MethodPost, path: "/v1/game-weeks", token: token,
			body:     []byte(`{"season": "2025/26", "number": 2, "starts_on": "2025-08-18", "ends_on": "2025-08-25"}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"starts_on": "overlaps game week 1 (2025-08-15 to 2025-08-18)"}`),
		},
		{
			name: "Reversed dates", method: http.MethodPost, path: "/v1/game-weeks", token: token,
			body:     []byte(`{"season": "2025/26", "number": 2, "starts_on": "2025-08-25", "ends_on": "2025-08-22"}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"ends_on": "must not be before starts_on"}`),
		},
		{
			name: "Bad date", method: http.MethodPost, path: "/v1/game-weeks", token: token,
			body:     []byte(`{"season": "2025/26", "number": 2, "starts_on": "22/08/2025", "ends_on": "2025-08-25"}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"starts_on": "must be a date formatted as YYYY-MM-DD"}`),
		},
		{name: "List", method: http.MethodGet, path: "/v1/game-weeks?season=2025/26", token: token, wantCode: http.StatusOK, wantData: marchallList(t, gw)},
		{name: "List by day", method: http.MethodGet, path: "/v1/game-weeks?day=2025-08-20", token: token, wantCode: http.StatusOK, wantData: []byte(`[]`)},
		{name: "Unknown", method: http.MethodGet, path: "/v1/game-weeks/missing", token: token, wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
	})

	t.Run("Mute", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/game-weeks/"+gw.ID, token, []byte(`{"notifications_enabled": false}`))
		app.do(req, rec)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated fixture.GameWeek
		unmarshal(t, rec, &updated)
		assert.False(t, updated.NotificationsEnabled)
		assert.Equal(t, gw.StartsOn, updated.StartsOn)
	})

	t.Run("Delete", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/game-weeks/"+gw.ID, token)
		app.do(req, rec)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		req, rec = newAuthRequest(http.MethodDelete, "/v1/game-weeks/"+gw.ID, token)
		app.do(req, rec)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
