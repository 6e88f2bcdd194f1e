package sqlxrepos

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/fixture"
	"github.com/trezcool/kickoff/core/job"
	"github.com/trezcool/kickoff/core/notification"
	"github.com/trezcool/kickoff/core/subscriber"
	"github.com/trezcool/kickoff/core/user"
)

const testID = "7b0e1c4e-57d2-4bb9-9a63-0c4b8f8a2f10"

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return sqlx.NewDb(db, "postgres"), mock
}

func TestUserRepository_GetUser(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid id", func(t *testing.T) {
		db, _ := newMock(t)
		_, err := NewUserRepository(db).GetUser(ctx, user.GetFilter{ID: "42"})
		assert.Equal(t, user.ErrNotFound, err)
	})

	t.Run("by username or email", func(t *testing.T) {
		db, mock := newMock(t)
		now := time.Now().UTC()
		rows := sqlmock.NewRows([]string{"id", "name", "username", "email", "is_active", "roles", "password_hash", "created_at", "updated_at", "last_login"}).
			AddRow(testID, "Jane", "jane", "jane@test.com", true, "{admin:owner}", []byte("hash"), now, now, nil)
		mock.ExpectQuery(`SELECT .+ FROM "user" WHERE \(username = \$1 OR email = \$2\) LIMIT 1`).
			WithArgs("jane", "jane").
			WillReturnRows(rows)

		usr, err := NewUserRepository(db).GetUser(ctx, user.GetFilter{UsernameOrEmail: "jane"})
		require.NoError(t, err)
		assert.Equal(t, testID, usr.ID)
		assert.Equal(t, []string{user.RoleAdminOwner}, usr.Roles)
		assert.True(t, usr.LastLogin.IsZero())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(`SELECT .+ FROM "user" WHERE email = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := NewUserRepository(db).GetUser(ctx, user.GetFilter{Email: "nobody@test.com"})
		assert.Equal(t, user.ErrNotFound, err)
	})
}

func TestUserRepository_CreateUser_Duplicate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO "user"`).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "user_email_key"})

	_, err := NewUserRepository(db).CreateUser(context.Background(), user.User{Name: "Jane", Email: "jane@test.com"})
	assert.Equal(t, user.ErrEmailExists, err)
}

func TestUserRepository_QueryUsers(t *testing.T) {
	db, mock := newMock(t)
	active := true
	mock.ExpectQuery(`SELECT .+ FROM "user" WHERE \(name ILIKE \$1 OR username ILIKE \$2 OR email ILIKE \$3\) AND is_active = \$4 ORDER BY username DESC`).
		WithArgs("%ja%", "%ja%", "%ja%", true).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	users, err := NewUserRepository(db).QueryUsers(context.Background(),
		&user.QueryFilter{Search: "ja", IsActive: &active},
		[]core.DBOrdering{{Field: "username"}, {Field: "password_hash"}})
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestFixtureRepository_CreateFixture(t *testing.T) {
	ctx := context.Background()
	f := fixture.Fixture{HomeTeam: "Arsenal", AwayTeam: "Chelsea", KickoffAt: time.Date(2025, 8, 16, 14, 0, 0, 0, time.UTC), Status: fixture.StatusScheduled}

	t.Run("ok", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`INSERT INTO fixture`).WillReturnResult(sqlmock.NewResult(0, 1))

		created, err := NewFixtureRepository(db).CreateFixture(ctx, f)
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
	})

	tests := []struct {
		name string
		code pq.ErrorCode
		want error
	}{
		{"duplicate", uniqueViolation, fixture.ErrExists},
		{"unknown game week", foreignKeyViolation, fixture.ErrGameWeekNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMock(t)
			mock.ExpectExec(`INSERT INTO fixture`).WillReturnError(&pq.Error{Code: tc.code})

			_, err := NewFixtureRepository(db).CreateFixture(ctx, f)
			assert.Equal(t, tc.want, err)
		})
	}
}

func TestFixtureRepository_QueryGameWeeks(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "season", "number", "starts_on", "ends_on", "notifications_enabled", "created_at", "updated_at"}).
		AddRow(testID, "2025/26", 1, time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 8, 18, 0, 0, 0, 0, time.UTC), false, now, now)
	mock.ExpectQuery(`SELECT .+ FROM game_week WHERE starts_on <= \$1 AND ends_on >= \$2 ORDER BY season ASC, starts_on ASC`).
		WithArgs("2025-08-16", "2025-08-16").
		WillReturnRows(rows)

	gws, err := NewFixtureRepository(db).QueryGameWeeks(context.Background(), fixture.GameWeekFilter{Day: "2025-08-16"})
	require.NoError(t, err)
	require.Len(t, gws, 1)
	assert.Equal(t, "2025-08-15", gws[0].StartsOn)
	assert.Equal(t, "2025-08-18", gws[0].EndsOn)
	assert.False(t, gws[0].NotificationsEnabled)
}

func TestSubscriberRepository_QuerySubscribers(t *testing.T) {
	db, mock := newMock(t)
	verified, today := true, true
	mock.ExpectQuery(`SELECT .+ FROM subscriber WHERE verified_at IS NOT NULL AND notify_today = \$1 ORDER BY created_at ASC`).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "channel", "address", "notify_today", "notify_soon", "verified_at", "verification_code", "code_expires_at", "code_attempts", "unsubscribe_token", "created_at", "updated_at"}).
			AddRow(testID, subscriber.ChannelSMS, "+447700900123", true, false, time.Now(), "", nil, 0, "tok", time.Now(), time.Now()))

	subs, err := NewSubscriberRepository(db).QuerySubscribers(context.Background(),
		&subscriber.QueryFilter{Verified: &verified, NotifyToday: &today}, nil)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].IsVerified())
	assert.True(t, subs[0].CodeExpiresAt.IsZero())
}

func TestJobRepository_UpdateJob(t *testing.T) {
	ctx := context.Background()
	j := job.Job{ID: testID, Kind: "test", Status: job.StatusRunning, Version: 3}

	t.Run("saved", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`UPDATE job SET .+ version = version \+ 1 WHERE id = \$\d+ AND version = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		saved, err := NewJobRepository(db).UpdateJob(ctx, j)
		require.NoError(t, err)
		assert.Equal(t, 4, saved.Version)
	})

	t.Run("conflict", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`UPDATE job SET`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).WithArgs(testID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := NewJobRepository(db).UpdateJob(ctx, j)
		assert.Equal(t, job.ErrConflict, err)
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`UPDATE job SET`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).WithArgs(testID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := NewJobRepository(db).UpdateJob(ctx, j)
		assert.Equal(t, job.ErrNotFound, err)
	})

	t.Run("duplicate pending key", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`UPDATE job SET`).WillReturnError(&pq.Error{Code: uniqueViolation})

		_, err := NewJobRepository(db).UpdateJob(ctx, j)
		assert.Equal(t, job.ErrDuplicate, err)
	})
}

func TestJobRepository_DueJobs(t *testing.T) {
	db, mock := newMock(t)
	now := time.Date(2025, 8, 16, 7, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .+ FROM job\s+WHERE \(status = \$1 AND run_at <= \$3\) OR \(status = \$2 AND locked_until <= \$3\)`).
		WithArgs(job.StatusPending, job.StatusRunning, now, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "dedupe_key", "payload", "status", "run_at", "attempts", "last_error", "version", "locked_until", "created_at", "updated_at"}).
			AddRow(testID, notification.JobCheck, notification.JobCheck, `{}`, job.StatusPending, now, 0, "", 1, nil, now, now))

	jobs, err := NewJobRepository(db).DueJobs(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, notification.JobCheck, jobs[0].DedupeKey)
	assert.JSONEq(t, `{}`, string(jobs[0].Payload))
	assert.True(t, jobs[0].IsDue(now))
}

func TestNotificationRepository_CreateMark(t *testing.T) {
	ctx := context.Background()
	m := notification.Mark{Day: "2025-08-16", Kind: notification.KindToday, SentAt: time.Now()}

	t.Run("first", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`INSERT INTO notification_mark .+ ON CONFLICT \(day, kind\) DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, NewNotificationRepository(db).CreateMark(ctx, m))
	})

	t.Run("already marked", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`INSERT INTO notification_mark`).WillReturnResult(sqlmock.NewResult(0, 0))
		assert.Equal(t, notification.ErrMarked, NewNotificationRepository(db).CreateMark(ctx, m))
	})
}
