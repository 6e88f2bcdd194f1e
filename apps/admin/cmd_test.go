package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/fixture"
	"github.com/trezcool/kickoff/core/job"
	"github.com/trezcool/kickoff/core/notification"
	"github.com/trezcool/kickoff/core/subscriber"
	"github.com/trezcool/kickoff/core/user"
	emailsvc "github.com/trezcool/kickoff/services/email"
	smssvc "github.com/trezcool/kickoff/services/sms"
	inmemdb "github.com/trezcool/kickoff/storage/database/inmem"
	"github.com/trezcool/kickoff/testutil"
)

type testCLI struct {
	*commandLine
	usrRepo     user.Repository
	fixtureRepo fixture.Repository
	subRepo     subscriber.Repository
	out         *bytes.Buffer
}

func setup(t *testing.T) *testCLI {
	t.Helper()
	db := inmemdb.Open()
	tc := &testCLI{
		usrRepo:     inmemdb.NewUserRepository(db),
		fixtureRepo: inmemdb.NewFixtureRepository(db),
		subRepo:     inmemdb.NewSubscriberRepository(db),
		out:         new(bytes.Buffer),
	}
	mail := emailsvc.NewConsoleServiceMock()
	sms := smssvc.NewConsoleServiceMock()
	fixtureSvc := fixture.NewService(tc.fixtureRepo)
	tc.commandLine = &commandLine{
		usrRepo:    tc.usrRepo,
		fixtureSvc: fixtureSvc,
		notifSvc: notification.NewService(
			inmemdb.NewNotificationRepository(db),
			fixtureSvc,
			subscriber.NewService(tc.subRepo, mail, sms),
			job.NewService(inmemdb.NewJobRepository(db)),
			mail,
			sms,
			new(testutil.Logger),
		),
		out: tc.out,
	}
	return tc
}

// setPassword makes the password prompt answer pwd.
func setPassword(t *testing.T, pwd string) {
	t.Helper()
	readPasswordFunc = func(fd int) ([]byte, error) { return []byte(pwd), nil }
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	orig := gooseRunFunc
	t.Cleanup(func() { gooseRunFunc = orig })
	gooseRunFunc = func(_ context.Context, db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "add_venues", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(args); err != nil {
				if tt.wantErr != nil {
					if err != tt.wantErr {
						t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
					}
				} else if tt.wantErrStr != "" {
					if err.Error() != tt.wantErrStr {
						t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
					}
				} else {
					t.Errorf("cli.run() unexpected error = %v", err)
				}
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no email", args: []string{"adduser", "-username", "gaffer"}, extra: "Tr0mb0ne-Sunset", wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "gaffer", "-email", "gaffer@example.com"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		pwd, _ := tt.extra.(string)
		setPassword(t, pwd)

		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(args); err != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	ctx := context.Background()
	setPassword(t, "Tr0mb0ne-Sunset")
	require.NoError(t, cli.run([]string{"admin", "adduser", "-username", " Gaffer ", "-email", "gaffer@example.com", "-name", "The Gaffer"}))
	assert.Contains(t, cli.out.String(), `user "gaffer" created`)

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: "gaffer"})
	require.NoError(t, err)
	assert.Equal(t, "The Gaffer", usr.Name)
	assert.True(t, usr.IsActive)
	assert.Equal(t, []string{user.RoleAdmin}, usr.Roles)
	assert.NoError(t, usr.CheckPassword("Tr0mb0ne-Sunset"))

	t.Run("Existing user is promoted", func(t *testing.T) {
		setPassword(t, "N3w-Sunset-Pass")
		require.NoError(t, cli.run([]string{"admin", "adduser", "-username", "gaffer", "-email", "boss@example.com", "-owner"}))
		assert.Contains(t, cli.out.String(), `user "gaffer" updated`)

		updated, err := cli.usrRepo.GetUser(ctx, user.GetFilter{ID: usr.ID})
		require.NoError(t, err)
		assert.Equal(t, "The Gaffer", updated.Name)
		assert.Equal(t, "boss@example.com", updated.Email)
		assert.Equal(t, []string{user.RoleAdminOwner}, updated.Roles)
		assert.NoError(t, updated.CheckPassword("N3w-Sunset-Pass"))
	})
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, cli.usrRepo, "User", "awe", "awe@example.com", "mdr", nil, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", "AWE@example.com"}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if err == nil {
				refreshedUsr, err := cli.usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
				if err != nil {
					t.Fatalf("GetUser() failed, %v", err)
				}
				if bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash) {
					t.Error("failed to update new password")
				}
			} else if err != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func Test_commandLine_importFixtures(t *testing.T) {
	testutil.SetLocation(t, "Europe/London")
	cli := setup(t)

	path := filepath.Join(t.TempDir(), "fixtures.csv")
	content := "date,time,home,away\n2025-08-16,12:30,Arsenal,Chelsea\n2025-08-16,25:00,Leeds,Everton\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	assert.Equal(t, errHelp, cli.run([]string{"admin", "importfixtures"}))
	assert.Error(t, cli.run([]string{"admin", "importfixtures", "-file", path + ".missing"}))

	require.NoError(t, cli.run([]string{"admin", "importfixtures", "-file", path}))
	assert.Equal(t, "created 1, updated 0, skipped 0\n  line 3: invalid time \"25:00\", expected HH:MM\n", cli.out.String())

	fixtures, err := cli.fixtureRepo.QueryFixtures(context.Background(), fixture.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, fixtures, 1)
	assert.Equal(t, time.Date(2025, 8, 16, 11, 30, 0, 0, time.UTC), fixtures[0].KickoffAt)
}

func Test_commandLine_checkFixtures(t *testing.T) {
	testutil.SetLocation(t, "Europe/London")
	orig := core.Conf.Notify
	core.Conf.Notify = core.NotifyConfig{DailyTime: "08:00", SoonLead: time.Hour, CheckInterval: 5 * time.Minute}
	t.Cleanup(func() { core.Conf.Notify = orig })
	notification.NowFunc = func() time.Time { return time.Date(2025, 8, 16, 7, 30, 0, 0, time.UTC) }
	t.Cleanup(func() { notification.NowFunc = time.Now })

	cli := setup(t)
	require.NoError(t, cli.run([]string{"admin", "checkfixtures"}))
	assert.Equal(t, "2025-08-16: no fixtures\n", cli.out.String())

	testutil.CreateFixture(t, cli.fixtureRepo, "Arsenal", "Chelsea", time.Date(2025, 8, 16, 11, 30, 0, 0, time.UTC))
	testutil.CreateSubscriber(t, cli.subRepo, subscriber.ChannelEmail, "fan@example.com", true, true, true)

	cli.out.Reset()
	require.NoError(t, cli.run([]string{"admin", "checkfixtures"}))
	assert.Equal(t, "2025-08-16: 1 fixture(s), dispatched: today, enqueued: 1\n", cli.out.String())

	cli.out.Reset()
	require.NoError(t, cli.run([]string{"admin", "checkfixtures"}))
	assert.Equal(t, "2025-08-16: 1 fixture(s), dispatched: none, enqueued: 0\n", cli.out.String())
}
