package fixture

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core"
)

const (
	DefaultRangeDays = 7
	MaxRangeDays     = 31
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound         = errors.New("fixture not found")
	ErrExists           = errors.New("a fixture with these teams and kickoff already exists")
	ErrGameWeekNotFound = errors.New("game week not found")
	ErrGameWeekExists   = errors.New("this game week already exists for the season")

	errSameTeams = errors.New("home and away teams must differ")
)

type (
	Repository interface {
		CreateFixture(ctx context.Context, f Fixture) (Fixture, error)
		// QueryFixtures returns fixtures ordered by kickoff then home team.
		QueryFixtures(ctx context.Context, filter QueryFilter) ([]Fixture, error)
		GetFixture(ctx context.Context, id string) (Fixture, error)
		// GetFixtureByKey finds a fixture by its natural key.
		GetFixtureByKey(ctx context.Context, home, away string, kickoffAt time.Time) (Fixture, error)
		UpdateFixture(ctx context.Context, f Fixture) (Fixture, error)
		DeleteFixturesByID(ctx context.Context, ids ...string) (int, error)

		CreateGameWeek(ctx context.Context, gw GameWeek) (GameWeek, error)
		// QueryGameWeeks returns game weeks ordered by season then start date.
		QueryGameWeeks(ctx context.Context, filter GameWeekFilter) ([]GameWeek, error)
		GetGameWeek(ctx context.Context, id string) (GameWeek, error)
		GetGameWeekByNumber(ctx context.Context, season string, number int) (GameWeek, error)
		UpdateGameWeek(ctx context.Context, gw GameWeek) (GameWeek, error)
		DeleteGameWeek(ctx context.Context, id string) error
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// DayRange resolves an inclusive range of local days from optional YYYY-MM-DD bounds.
// An empty from means today, an empty to means from + 6 days.
func DayRange(fromStr, toStr string, now time.Time, loc *time.Location) (from, to time.Time, err error) {
	if fromStr = core.CleanString(fromStr); fromStr == "" {
		from = core.StartOfDay(now, loc)
	} else if from, err = core.ParseDate(fromStr, loc); err != nil {
		return from, to, core.NewFieldError("from", "must be a date formatted as YYYY-MM-DD")
	}

	if toStr = core.CleanString(toStr); toStr == "" {
		to = core.AddDays(from, DefaultRangeDays-1)
	} else if to, err = core.ParseDate(toStr, loc); err != nil {
		return from, to, core.NewFieldError("to", "must be a date formatted as YYYY-MM-DD")
	}

	if to.Before(from) {
		return from, to, core.NewFieldError("to", "must not be before from")
	}
	if core.DaysBetween(from, to)+1 > MaxRangeDays {
		return from, to, core.NewFieldError("to", fmt.Sprintf("date range cannot exceed %d days", MaxRangeDays))
	}
	return from, to, nil
}

// ListDays returns fixtures grouped by local day for an inclusive range of days.
// Days without fixtures are omitted.
func (svc *Service) ListDays(ctx context.Context, fromStr, toStr string) ([]Day, error) {
	loc := core.Conf.Location()
	from, to, err := DayRange(fromStr, toStr, NowFunc(), loc)
	if err != nil {
		return nil, err
	}

	fixtures, err := svc.repo.QueryFixtures(ctx, QueryFilter{From: from.UTC(), To: core.AddDays(to, 1).UTC()})
	if err != nil {
		return nil, errors.Wrap(err, "querying fixtures")
	}
	return GroupByDay(fixtures, loc), nil
}

// GroupByDay groups fixtures ordered by kickoff into local days.
func GroupByDay(fixtures []Fixture, loc *time.Location) []Day {
	days := make([]Day, 0)
	for _, f := range fixtures {
		date := core.FormatDate(f.KickoffAt, loc)
		if n := len(days); n == 0 || days[n-1].Date != date {
			days = append(days, Day{Date: date})
		}
		days[len(days)-1].Fixtures = append(days[len(days)-1].Fixtures, f)
	}
	return days
}

// FixturesOn returns the fixtures kicking off on day's local calendar date.
func (svc *Service) FixturesOn(ctx context.Context, day time.Time) ([]Fixture, error) {
	start := core.StartOfDay(day, core.Conf.Location())
	return svc.repo.QueryFixtures(ctx, QueryFilter{From: start.UTC(), To: core.AddDays(start, 1).UTC()})
}

// IsMuted reports whether a game week with notifications disabled covers day (YYYY-MM-DD).
func (svc *Service) IsMuted(ctx context.Context, day string) (bool, error) {
	gws, err := svc.repo.QueryGameWeeks(ctx, GameWeekFilter{Day: day})
	if err != nil {
		return false, errors.Wrap(err, "querying game weeks")
	}
	for _, gw := range gws {
		if !gw.NotificationsEnabled {
			return true, nil
		}
	}
	return false, nil
}

// Fixtures

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Fixture, error) {
	filter.Search = core.CleanString(filter.Search)
	return svc.repo.QueryFixtures(ctx, filter)
}

func (svc *Service) Get(ctx context.Context, id string) (Fixture, error) {
	return svc.repo.GetFixture(ctx, id)
}

func (svc *Service) Create(ctx context.Context, nf NewFixture) (Fixture, error) {
	now := NowFunc().UTC()
	f := Fixture{
		GameWeekID:  nf.GameWeekID,
		Competition: nf.Competition,
		HomeTeam:    nf.HomeTeam,
		AwayTeam:    nf.AwayTeam,
		Venue:       nf.Venue,
		KickoffAt:   nf.KickoffAt.UTC().Truncate(time.Minute),
		Status:      nf.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if f.Status == "" {
		f.Status = StatusScheduled
	}
	return svc.repo.CreateFixture(ctx, f)
}

func (svc *Service) Update(ctx context.Context, f Fixture, uf UpdateFixture) (Fixture, error) {
	if uf.GameWeekID != nil {
		f.GameWeekID = *uf.GameWeekID
	}
	if uf.Competition != nil {
		f.Competition = *uf.Competition
	}
	if uf.HomeTeam != nil {
		f.HomeTeam = *uf.HomeTeam
	}
	if uf.AwayTeam != nil {
		f.AwayTeam = *uf.AwayTeam
	}
	if uf.Venue != nil {
		f.Venue = *uf.Venue
	}
	if uf.KickoffAt != nil {
		f.KickoffAt = uf.KickoffAt.UTC().Truncate(time.Minute)
	}
	if uf.Status != nil {
		f.Status = *uf.Status
	}
	f.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateFixture(ctx, f)
}

func (svc *Service) Delete(ctx context.Context, ids ...string) (int, error) {
	return svc.repo.DeleteFixturesByID(ctx, ids...)
}

// Game weeks

func (svc *Service) QueryGameWeeks(ctx context.Context, filter GameWeekFilter) ([]GameWeek, error) {
	filter.Season = core.CleanString(filter.Season)
	return svc.repo.QueryGameWeeks(ctx, filter)
}

func (svc *Service) GetGameWeek(ctx context.Context, id string) (GameWeek, error) {
	return svc.repo.GetGameWeek(ctx, id)
}

func (svc *Service) CreateGameWeek(ctx context.Context, ng NewGameWeek) (GameWeek, error) {
	now := NowFunc().UTC()
	gw := GameWeek{
		Season:               ng.Season,
		Number:               ng.Number,
		StartsOn:             ng.StartsOn,
		EndsOn:               ng.EndsOn,
		NotificationsEnabled: true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if ng.NotificationsEnabled != nil {
		gw.NotificationsEnabled = *ng.NotificationsEnabled
	}
	return svc.repo.CreateGameWeek(ctx, gw)
}

func (svc *Service) UpdateGameWeek(ctx context.Context, gw GameWeek, ug UpdateGameWeek) (GameWeek, error) {
	gw = ug.Apply(gw)
	gw.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateGameWeek(ctx, gw)
}

func (svc *Service) DeleteGameWeek(ctx context.Context, id string) error {
	return svc.repo.DeleteGameWeek(ctx, id)
}

// checkGameWeek validates an optional game week reference.
func (svc *Service) checkGameWeek(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if _, err := svc.repo.GetGameWeek(ctx, id); err != nil {
		if errors.Cause(err) == ErrGameWeekNotFound {
			return core.NewFieldError("game_week_id", err.Error())
		}
		return errors.Wrap(err, "getting game week")
	}
	return nil
}

// checkGameWeekSchedule enforces date order, (season, number) uniqueness and no overlap within a season.
func (svc *Service) checkGameWeekSchedule(ctx context.Context, gw GameWeek) error {
	if gw.EndsOn < gw.StartsOn {
		return core.NewFieldError("ends_on", "must not be before starts_on")
	}

	siblings, err := svc.repo.QueryGameWeeks(ctx, GameWeekFilter{Season: gw.Season})
	if err != nil {
		return errors.Wrap(err, "querying game weeks")
	}
	for _, other := range siblings {
		if other.ID == gw.ID {
			continue
		}
		if other.Number == gw.Number {
			return core.NewValidationError(ErrGameWeekExists, core.FieldError{Field: "number", Error: ErrGameWeekExists.Error()})
		}
		if gw.overlaps(other) {
			msg := fmt.Sprintf("overlaps game week %d (%s to %s)", other.Number, other.StartsOn, other.EndsOn)
			return core.NewFieldError("starts_on", msg)
		}
	}
	return nil
}

// Rows

// Row is one fixture read from an import source (CSV file or provider feed).
type Row struct {
	Line        int
	HomeTeam    string
	AwayTeam    string
	Competition string
	Venue       string
	Status      string
	KickoffAt   time.Time
	Season      string
	GameWeek    int
}

type ImportResult struct {
	Created  int      `json:"created"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings,omitempty"`

	errs *multierror.Error
}

func (res *ImportResult) addError(err error) {
	res.errs = multierror.Append(res.errs, err)
	res.Errors = append(res.Errors, err.Error())
}

// sortErrors orders the row errors by line; errors without a line keep their place at the end.
func (res *ImportResult) sortErrors() {
	if res.errs == nil {
		return
	}
	sort.SliceStable(res.errs.Errors, func(i, j int) bool {
		return errorLine(res.errs.Errors[i]) < errorLine(res.errs.Errors[j])
	})
	res.Errors = res.Errors[:0]
	for _, err := range res.errs.Errors {
		res.Errors = append(res.Errors, err.Error())
	}
}

// UpsertOptions tunes UpsertRows.
type UpsertOptions struct {
	// UnlinkUnknownGameWeeks saves rows whose game week does not exist without a
	// game week and reports a warning, instead of rejecting them.
	UnlinkUnknownGameWeeks bool
}

// Err returns the row errors as a single error, or nil.
func (res *ImportResult) Err() error {
	return res.errs.ErrorOrNil()
}

// UpsertRows creates or updates fixtures keyed by (home, away, kickoff).
// Row errors are recorded in the result; only repository failures abort.
func (svc *Service) UpsertRows(ctx context.Context, rows []Row, opts UpsertOptions) (ImportResult, error) {
	res := ImportResult{Errors: []string{}}
	gwCache := make(map[string]string) // {season#number: id}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		gwID, err := svc.resolveGameWeek(ctx, gwCache, row)
		switch {
		case errors.Cause(err) == ErrGameWeekNotFound && opts.UnlinkUnknownGameWeeks:
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s, saved without game week", rowError(row.Line, unknownGameWeek(row))))
		case errors.Cause(err) == ErrGameWeekNotFound:
			res.addError(rowError(row.Line, unknownGameWeek(row)))
			continue
		case core.IsValidationError(err):
			res.addError(rowError(row.Line, err))
			continue
		case err != nil:
			return res, err
		}

		f := Fixture{
			GameWeekID:  gwID,
			Competition: row.Competition,
			HomeTeam:    row.HomeTeam,
			AwayTeam:    row.AwayTeam,
			Venue:       row.Venue,
			KickoffAt:   row.KickoffAt.UTC().Truncate(time.Minute),
			Status:      row.Status,
		}
		if f.Status == "" {
			f.Status = StatusScheduled
		}

		existing, err := svc.repo.GetFixtureByKey(ctx, f.HomeTeam, f.AwayTeam, f.KickoffAt)
		switch {
		case errors.Cause(err) == ErrNotFound:
			f.CreatedAt = NowFunc().UTC()
			f.UpdatedAt = f.CreatedAt
			if _, err = svc.repo.CreateFixture(ctx, f); err != nil {
				if errors.Cause(err) == ErrExists {
					res.addError(rowError(row.Line, err))
					continue
				}
				return res, errors.Wrapf(err, "creating fixture (line %d)", row.Line)
			}
			res.Created++
		case err != nil:
			return res, errors.Wrap(err, "getting fixture")
		case existing.sameAs(f):
			res.Skipped++
		default:
			f.ID = existing.ID
			f.CreatedAt = existing.CreatedAt
			f.UpdatedAt = NowFunc().UTC()
			if _, err = svc.repo.UpdateFixture(ctx, f); err != nil {
				return res, errors.Wrapf(err, "updating fixture (line %d)", row.Line)
			}
			res.Updated++
		}
	}
	return res, nil
}

func (svc *Service) resolveGameWeek(ctx context.Context, cache map[string]string, row Row) (string, error) {
	if row.Season == "" && row.GameWeek == 0 {
		return "", nil
	}
	if row.Season == "" || row.GameWeek == 0 {
		return "", core.NewFieldError("game_week", "season and game_week must be provided together")
	}

	key := fmt.Sprintf("%s#%d", strings.ToLower(row.Season), row.GameWeek)
	if id, ok := cache[key]; ok {
		return id, nil
	}
	gw, err := svc.repo.GetGameWeekByNumber(ctx, row.Season, row.GameWeek)
	if err != nil {
		return "", errors.Wrap(err, "getting game week")
	}
	cache[key] = gw.ID
	return gw.ID, nil
}

func unknownGameWeek(row Row) error {
	return core.NewFieldError("game_week", fmt.Sprintf("game week %d of season %s not found", row.GameWeek, row.Season))
}

// LineError is a row error of an import, tagged with its input line.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

func rowError(line int, err error) error {
	return &LineError{Line: line, Err: err}
}

func errorLine(err error) int {
	var lerr *LineError
	if errors.As(err, &lerr) {
		return lerr.Line
	}
	return math.MaxInt32
}

// SortFixtures orders fixtures by kickoff then home team.
func SortFixtures(fixtures []Fixture) {
	sort.SliceStable(fixtures, func(i, j int) bool {
		if !fixtures[i].KickoffAt.Equal(fixtures[j].KickoffAt) {
			return fixtures[i].KickoffAt.Before(fixtures[j].KickoffAt)
		}
		return fixtures[i].HomeTeam < fixtures[j].HomeTeam
	})
}
