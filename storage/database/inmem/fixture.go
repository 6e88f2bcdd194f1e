package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/kickoff/core/fixture"
)

type fixtureRepository struct {
	db *fixtureTable
}

var _ fixture.Repository = (*fixtureRepository)(nil)

func NewFixtureRepository(db *DB) fixture.Repository {
	return &fixtureRepository{db: db.fixture}
}

// keyTaken must be called with the lock held.
func (repo *fixtureRepository) keyTaken(f fixture.Fixture) bool {
	for _, o := range repo.db.table {
		if o.ID != f.ID && o.HomeTeam == f.HomeTeam && o.AwayTeam == f.AwayTeam && o.KickoffAt.Equal(f.KickoffAt) {
			return true
		}
	}
	return false
}

func (repo *fixtureRepository) CreateFixture(_ context.Context, f fixture.Fixture) (fixture.Fixture, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.keyTaken(f) {
		return fixture.Fixture{}, fixture.ErrExists
	}
	f.ID = newID()
	repo.db.table[f.ID] = &f
	return f, nil
}

func (repo *fixtureRepository) QueryFixtures(_ context.Context, filter fixture.QueryFilter) ([]fixture.Fixture, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	search := strings.ToLower(filter.Search)
	fixtures := make([]fixture.Fixture, 0)
	for _, f := range repo.db.table {
		if !filter.From.IsZero() && f.KickoffAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !f.KickoffAt.Before(filter.To) {
			continue
		}
		if filter.GameWeekID != "" && f.GameWeekID != filter.GameWeekID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(f.HomeTeam), search) &&
			!strings.Contains(strings.ToLower(f.AwayTeam), search) &&
			!strings.Contains(strings.ToLower(f.Competition), search) {
			continue
		}
		if len(filter.Statuses) > 0 && !contains(filter.Statuses, f.Status) {
			continue
		}
		fixtures = append(fixtures, *f)
	}
	fixture.SortFixtures(fixtures)
	return fixtures, nil
}

func (repo *fixtureRepository) GetFixture(_ context.Context, id string) (fixture.Fixture, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if f, ok := repo.db.table[id]; ok {
		return *f, nil
	}
	return fixture.Fixture{}, fixture.ErrNotFound
}

func (repo *fixtureRepository) GetFixtureByKey(_ context.Context, home, away string, kickoffAt time.Time) (fixture.Fixture, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, f := range repo.db.table {
		if f.HomeTeam == home && f.AwayTeam == away && f.KickoffAt.Equal(kickoffAt) {
			return *f, nil
		}
	}
	return fixture.Fixture{}, fixture.ErrNotFound
}

func (repo *fixtureRepository) UpdateFixture(_ context.Context, f fixture.Fixture) (fixture.Fixture, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[f.ID]; !ok {
		return fixture.Fixture{}, fixture.ErrNotFound
	}
	if repo.keyTaken(f) {
		return fixture.Fixture{}, fixture.ErrExists
	}
	repo.db.table[f.ID] = &f
	return f, nil
}

func (repo *fixtureRepository) DeleteFixturesByID(_ context.Context, ids ...string) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var deleted int
	for _, id := range ids {
		if _, ok := repo.db.table[id]; ok {
			delete(repo.db.table, id)
			deleted++
		}
	}
	return deleted, nil
}

// numberTaken must be called with the lock held.
func (repo *fixtureRepository) numberTaken(gw fixture.GameWeek) bool {
	for _, o := range repo.db.gameWeeks {
		if o.ID != gw.ID && o.Season == gw.Season && o.Number == gw.Number {
			return true
		}
	}
	return false
}

func (repo *fixtureRepository) CreateGameWeek(_ context.Context, gw fixture.GameWeek) (fixture.GameWeek, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.numberTaken(gw) {
		return fixture.GameWeek{}, fixture.ErrGameWeekExists
	}
	gw.ID = newID()
	repo.db.gameWeeks[gw.ID] = &gw
	return gw, nil
}

func (repo *fixtureRepository) QueryGameWeeks(_ context.Context, filter fixture.GameWeekFilter) ([]fixture.GameWeek, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	gws := make([]fixture.GameWeek, 0)
	for _, gw := range repo.db.gameWeeks {
		if filter.Season != "" && gw.Season != filter.Season {
			continue
		}
		if filter.Day != "" && !gw.Covers(filter.Day) {
			continue
		}
		gws = append(gws, *gw)
	}
	sort.Slice(gws, func(i, j int) bool {
		if gws[i].Season != gws[j].Season {
			return gws[i].Season < gws[j].Season
		}
		return gws[i].StartsOn < gws[j].StartsOn
	})
	return gws, nil
}

func (repo *fixtureRepository) GetGameWeek(_ context.Context, id string) (fixture.GameWeek, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if gw, ok := repo.db.gameWeeks[id]; ok {
		return *gw, nil
	}
	return fixture.GameWeek{}, fixture.ErrGameWeekNotFound
}

func (repo *fixtureRepository) GetGameWeekByNumber(_ context.Context, season string, number int) (fixture.GameWeek, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, gw := range repo.db.gameWeeks {
		if gw.Season == season && gw.Number == number {
			return *gw, nil
		}
	}
	return fixture.GameWeek{}, fixture.ErrGameWeekNotFound
}

func (repo *fixtureRepository) UpdateGameWeek(_ context.Context, gw fixture.GameWeek) (fixture.GameWeek, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.gameWeeks[gw.ID]; !ok {
		return fixture.GameWeek{}, fixture.ErrGameWeekNotFound
	}
	if repo.numberTaken(gw) {
		return fixture.GameWeek{}, fixture.ErrGameWeekExists
	}
	repo.db.gameWeeks[gw.ID] = &gw
	return gw, nil
}

// DeleteGameWeek detaches the game week's fixtures, like ON DELETE SET NULL.
func (repo *fixtureRepository) DeleteGameWeek(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.gameWeeks[id]; !ok {
		return fixture.ErrGameWeekNotFound
	}
	delete(repo.db.gameWeeks, id)
	for _, f := range repo.db.table {
		if f.GameWeekID == id {
			f.GameWeekID = ""
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
