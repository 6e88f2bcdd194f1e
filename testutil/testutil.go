// Package testutil holds fixtures shared by the service and API tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/fixture"
	"github.com/trezcool/kickoff/core/subscriber"
	"github.com/trezcool/kickoff/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser(): %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	return usr
}

func CreateGameWeek(t *testing.T, repo fixture.Repository, season string, number int, startsOn, endsOn string, enabled bool) fixture.GameWeek {
	t.Helper()
	now := time.Now().UTC()
	gw, err := repo.CreateGameWeek(context.Background(), fixture.GameWeek{
		Season:               season,
		Number:               number,
		StartsOn:             startsOn,
		EndsOn:               endsOn,
		NotificationsEnabled: enabled,
		CreatedAt:            now,
		UpdatedAt:            now,
	})
	if err != nil {
		t.Fatalf("CreateGameWeek(): %v", err)
	}
	return gw
}

func CreateFixture(t *testing.T, repo fixture.Repository, home, away string, kickoffAt time.Time, status ...string) fixture.Fixture {
	t.Helper()
	now := time.Now().UTC()
	f := fixture.Fixture{
		Competition: "Premier League",
		HomeTeam:    home,
		AwayTeam:    away,
		KickoffAt:   kickoffAt.UTC(),
		Status:      fixture.StatusScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(status) > 0 {
		f.Status = status[0]
	}
	f, err := repo.CreateFixture(context.Background(), f)
	if err != nil {
		t.Fatalf("CreateFixture(): %v", err)
	}
	return f
}

func CreateSubscriber(t *testing.T, repo subscriber.Repository, channel, address string, today, soon, verified bool) subscriber.Subscriber {
	t.Helper()
	now := time.Now().UTC()
	sub := subscriber.Subscriber{
		Channel:          channel,
		Address:          address,
		NotifyToday:      today,
		NotifySoon:       soon,
		UnsubscribeToken: uuid.NewString(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if verified {
		sub.VerifiedAt = now
	}
	sub, err := repo.CreateSubscriber(context.Background(), sub)
	if err != nil {
		t.Fatalf("CreateSubscriber(): %v", err)
	}
	return sub
}

// SetLocation switches the display time zone for the duration of the test.
func SetLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	orig := core.Conf.TimeZone
	if err := core.Conf.SetTimeZone(name); err != nil {
		t.Fatalf("SetLocation(%s): %v", name, err)
	}
	t.Cleanup(func() { _ = core.Conf.SetTimeZone(orig) })
	return core.Conf.Location()
}

// Logger records log entries instead of printing them.
type Logger struct {
	mu      sync.Mutex
	entries []string
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s: %s %v", level, msg, args))
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("DEBUG", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("INFO", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("WARN", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("FATAL", msg, args) }

// Entries returns a copy of the recorded entries.
func (l *Logger) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}
