package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/fixture"
)

const (
	fixtureColumns  = `id, game_week_id, competition, home_team, away_team, venue, kickoff_at, status, created_at, updated_at`
	gameWeekColumns = `id, season, number, starts_on, ends_on, notifications_enabled, created_at, updated_at`
)

type fixtureRow struct {
	ID          string      `db:"id"`
	GameWeekID  null.String `db:"game_week_id"`
	Competition string      `db:"competition"`
	HomeTeam    string      `db:"home_team"`
	AwayTeam    string      `db:"away_team"`
	Venue       string      `db:"venue"`
	KickoffAt   time.Time   `db:"kickoff_at"`
	Status      string      `db:"status"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

func toFixtureRow(f fixture.Fixture) fixtureRow {
	return fixtureRow{
		ID:          f.ID,
		GameWeekID:  null.NewString(f.GameWeekID, f.GameWeekID != ""),
		Competition: f.Competition,
		HomeTeam:    f.HomeTeam,
		AwayTeam:    f.AwayTeam,
		Venue:       f.Venue,
		KickoffAt:   f.KickoffAt.UTC(),
		Status:      f.Status,
		CreatedAt:   f.CreatedAt.UTC(),
		UpdatedAt:   f.UpdatedAt.UTC(),
	}
}

func (r fixtureRow) fixture() fixture.Fixture {
	return fixture.Fixture{
		ID:          r.ID,
		GameWeekID:  r.GameWeekID.String,
		Competition: r.Competition,
		HomeTeam:    r.HomeTeam,
		AwayTeam:    r.AwayTeam,
		Venue:       r.Venue,
		KickoffAt:   r.KickoffAt.UTC(),
		Status:      r.Status,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type gameWeekRow struct {
	ID                   string    `db:"id"`
	Season               string    `db:"season"`
	Number               int       `db:"number"`
	StartsOn             time.Time `db:"starts_on"`
	EndsOn               time.Time `db:"ends_on"`
	NotificationsEnabled bool      `db:"notifications_enabled"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

// gameWeekParams binds dates as YYYY-MM-DD text.
type gameWeekParams struct {
	ID                   string    `db:"id"`
	Season               string    `db:"season"`
	Number               int       `db:"number"`
	StartsOn             string    `db:"starts_on"`
	EndsOn               string    `db:"ends_on"`
	NotificationsEnabled bool      `db:"notifications_enabled"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func toGameWeekParams(gw fixture.GameWeek) gameWeekParams {
	return gameWeekParams{
		ID:                   gw.ID,
		Season:               gw.Season,
		Number:               gw.Number,
		StartsOn:             gw.StartsOn,
		EndsOn:               gw.EndsOn,
		NotificationsEnabled: gw.NotificationsEnabled,
		CreatedAt:            gw.CreatedAt.UTC(),
		UpdatedAt:            gw.UpdatedAt.UTC(),
	}
}

func (r gameWeekRow) gameWeek() fixture.GameWeek {
	return fixture.GameWeek{
		ID:                   r.ID,
		Season:               r.Season,
		Number:               r.Number,
		StartsOn:             r.StartsOn.Format(core.DateLayout),
		EndsOn:               r.EndsOn.Format(core.DateLayout),
		NotificationsEnabled: r.NotificationsEnabled,
		CreatedAt:            r.CreatedAt.UTC(),
		UpdatedAt:            r.UpdatedAt.UTC(),
	}
}

type fixtureRepository struct {
	db sqlx.ExtContext
}

var _ fixture.Repository = (*fixtureRepository)(nil)

func NewFixtureRepository(db sqlx.ExtContext) fixture.Repository {
	return &fixtureRepository{db: db}
}

func (repo fixtureRepository) mapWriteErr(err error, msg string) error {
	switch pqErrorCode(err) {
	case uniqueViolation:
		return fixture.ErrExists
	case foreignKeyViolation:
		return fixture.ErrGameWeekNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo fixtureRepository) CreateFixture(ctx context.Context, f fixture.Fixture) (fixture.Fixture, error) {
	f.ID = uuid.NewString()
	q := `INSERT INTO fixture (` + fixtureColumns + `)
		VALUES (:id, :game_week_id, :competition, :home_team, :away_team, :venue, :kickoff_at, :status, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.db, q, toFixtureRow(f)); err != nil {
		return fixture.Fixture{}, repo.mapWriteErr(err, "inserting fixture")
	}
	return f, nil
}

func (repo fixtureRepository) QueryFixtures(ctx context.Context, filter fixture.QueryFilter) ([]fixture.Fixture, error) {
	var w where
	if !filter.From.IsZero() {
		w.add("kickoff_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		w.add("kickoff_at < ?", filter.To.UTC())
	}
	if filter.GameWeekID != "" {
		w.add("game_week_id::text = ?", filter.GameWeekID)
	}
	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		w.add("(home_team ILIKE ? OR away_team ILIKE ? OR competition ILIKE ?)", val, val, val)
	}
	if len(filter.Statuses) > 0 {
		w.add("status = ANY(?)", pq.Array(filter.Statuses))
	}

	q := rebind(`SELECT ` + fixtureColumns + ` FROM fixture` + w.String() + ` ORDER BY kickoff_at ASC, home_team ASC`)
	var rows []fixtureRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying fixtures")
	}
	fixtures := make([]fixture.Fixture, 0, len(rows))
	for _, r := range rows {
		fixtures = append(fixtures, r.fixture())
	}
	return fixtures, nil
}

func (repo fixtureRepository) GetFixture(ctx context.Context, id string) (fixture.Fixture, error) {
	if _, err := uuid.Parse(id); err != nil {
		return fixture.Fixture{}, fixture.ErrNotFound
	}
	var r fixtureRow
	if err := sqlx.GetContext(ctx, repo.db, &r, `SELECT `+fixtureColumns+` FROM fixture WHERE id = $1`, id); err != nil {
		return fixture.Fixture{}, trapNoRowsErr(err, fixture.ErrNotFound, "getting fixture")
	}
	return r.fixture(), nil
}

func (repo fixtureRepository) GetFixtureByKey(ctx context.Context, home, away string, kickoffAt time.Time) (fixture.Fixture, error) {
	var r fixtureRow
	q := `SELECT ` + fixtureColumns + ` FROM fixture WHERE home_team = $1 AND away_team = $2 AND kickoff_at = $3`
	if err := sqlx.GetContext(ctx, repo.db, &r, q, home, away, kickoffAt.UTC()); err != nil {
		return fixture.Fixture{}, trapNoRowsErr(err, fixture.ErrNotFound, "getting fixture by key")
	}
	return r.fixture(), nil
}

func (repo fixtureRepository) UpdateFixture(ctx context.Context, f fixture.Fixture) (fixture.Fixture, error) {
	q := `UPDATE fixture SET game_week_id = :game_week_id, competition = :competition, home_team = :home_team,
		away_team = :away_team, venue = :venue, kickoff_at = :kickoff_at, status = :status, updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.db, q, toFixtureRow(f))
	if err != nil {
		return fixture.Fixture{}, repo.mapWriteErr(err, "updating fixture")
	}
	if n, err := rowsAffected(res); err != nil {
		return fixture.Fixture{}, errors.Wrap(err, "updating fixture")
	} else if n == 0 {
		return fixture.Fixture{}, fixture.ErrNotFound
	}
	return f, nil
}

func (repo fixtureRepository) DeleteFixturesByID(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := repo.db.ExecContext(ctx, `DELETE FROM fixture WHERE id::text = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "deleting fixtures")
	}
	return rowsAffected(res)
}

func (repo fixtureRepository) CreateGameWeek(ctx context.Context, gw fixture.GameWeek) (fixture.GameWeek, error) {
	gw.ID = uuid.NewString()
	q := `INSERT INTO game_week (` + gameWeekColumns + `)
		VALUES (:id, :season, :number, :starts_on, :ends_on, :notifications_enabled, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.db, q, toGameWeekParams(gw)); err != nil {
		if pqErrorCode(err) == uniqueViolation {
			return fixture.GameWeek{}, fixture.ErrGameWeekExists
		}
		return fixture.GameWeek{}, errors.Wrap(err, "inserting game week")
	}
	return gw, nil
}

func (repo fixtureRepository) QueryGameWeeks(ctx context.Context, filter fixture.GameWeekFilter) ([]fixture.GameWeek, error) {
	var w where
	if filter.Season != "" {
		w.add("season = ?", filter.Season)
	}
	if filter.Day != "" {
		w.add("starts_on <= ? AND ends_on >= ?", filter.Day, filter.Day)
	}

	q := rebind(`SELECT ` + gameWeekColumns + ` FROM game_week` + w.String() + ` ORDER BY season ASC, starts_on ASC`)
	var rows []gameWeekRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying game weeks")
	}
	gws := make([]fixture.GameWeek, 0, len(rows))
	for _, r := range rows {
		gws = append(gws, r.gameWeek())
	}
	return gws, nil
}

func (repo fixtureRepository) GetGameWeek(ctx context.Context, id string) (fixture.GameWeek, error) {
	if _, err := uuid.Parse(id); err != nil {
		return fixture.GameWeek{}, fixture.ErrGameWeekNotFound
	}
	var r gameWeekRow
	if err := sqlx.GetContext(ctx, repo.db, &r, `SELECT `+gameWeekColumns+` FROM game_week WHERE id = $1`, id); err != nil {
		return fixture.GameWeek{}, trapNoRowsErr(err, fixture.ErrGameWeekNotFound, "getting game week")
	}
	return r.gameWeek(), nil
}

func (repo fixtureRepository) GetGameWeekByNumber(ctx context.Context, season string, number int) (fixture.GameWeek, error) {
	var r gameWeekRow
	q := `SELECT ` + gameWeekColumns + ` FROM game_week WHERE season = $1 AND number = $2`
	if err := sqlx.GetContext(ctx, repo.db, &r, q, season, number); err != nil {
		return fixture.GameWeek{}, trapNoRowsErr(err, fixture.ErrGameWeekNotFound, "getting game week by number")
	}
	return r.gameWeek(), nil
}

func (repo fixtureRepository) UpdateGameWeek(ctx context.Context, gw fixture.GameWeek) (fixture.GameWeek, error) {
	q := `UPDATE game_week SET season = :season, number = :number, starts_on = :starts_on, ends_on = :ends_on,
		notifications_enabled = :notifications_enabled, updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.db, q, toGameWeekParams(gw))
	if err != nil {
		if pqErrorCode(err) == uniqueViolation {
			return fixture.GameWeek{}, fixture.ErrGameWeekExists
		}
		return fixture.GameWeek{}, errors.Wrap(err, "updating game week")
	}
	if n, err := rowsAffected(res); err != nil {
		return fixture.GameWeek{}, errors.Wrap(err, "updating game week")
	} else if n == 0 {
		return fixture.GameWeek{}, fixture.ErrGameWeekNotFound
	}
	return gw, nil
}

func (repo fixtureRepository) DeleteGameWeek(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fixture.ErrGameWeekNotFound
	}
	res, err := repo.db.ExecContext(ctx, `DELETE FROM game_week WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting game week")
	}
	if n, err := rowsAffected(res); err != nil {
		return errors.Wrap(err, "deleting game week")
	} else if n == 0 {
		return fixture.ErrGameWeekNotFound
	}
	return nil
}
