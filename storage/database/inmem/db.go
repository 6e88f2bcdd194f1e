// Package inmemdb keeps every table in memory. It backs tests and the `-inmem` mode of the binaries.
package inmemdb

import (
	"sync"

	"github.com/google/uuid"

	"github.com/trezcool/kickoff/core/fixture"
	"github.com/trezcool/kickoff/core/job"
	"github.com/trezcool/kickoff/core/notification"
	"github.com/trezcool/kickoff/core/subscriber"
	"github.com/trezcool/kickoff/core/user"
)

type (
	DB struct {
		user       *userTable
		fixture    *fixtureTable
		subscriber *subscriberTable
		job        *jobTable
		mark       *markTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	fixtureTable struct {
		sync.RWMutex
		table     map[string]*fixture.Fixture
		gameWeeks map[string]*fixture.GameWeek
	}

	subscriberTable struct {
		sync.RWMutex
		table map[string]*subscriber.Subscriber
	}

	jobTable struct {
		sync.RWMutex
		table map[string]*job.Job
	}

	markTable struct {
		sync.RWMutex
		table map[markKey]*notification.Mark
	}

	markKey struct {
		day, kind string
	}
)

func Open() *DB {
	return &DB{
		user:       &userTable{table: make(map[string]*user.User)},
		fixture:    &fixtureTable{table: make(map[string]*fixture.Fixture), gameWeeks: make(map[string]*fixture.GameWeek)},
		subscriber: &subscriberTable{table: make(map[string]*subscriber.Subscriber)},
		job:        &jobTable{table: make(map[string]*job.Job)},
		mark:       &markTable{table: make(map[markKey]*notification.Mark)},
	}
}

func newID() string {
	return uuid.NewString()
}
