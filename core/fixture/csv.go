package fixture

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core"
)

var (
	CSVColumns         = []string{"date", "time", "home", "away", "competition", "venue", "status", "season", "game_week"}
	csvRequiredColumns = []string{"date", "time", "home", "away"}
)

// ParseCSV reads fixture rows from r; dates and times are local to loc.
// Invalid rows are reported in the returned *multierror.Error, the other rows are still returned.
// A non-nil error means the file itself could not be read.
func ParseCSV(r io.Reader, loc *time.Location) ([]Row, *multierror.Error, error) {
	cr := core.NewCSVReader(r)
	cols, err := core.ReadCSVHeader(cr, csvRequiredColumns...)
	if err != nil {
		return nil, nil, err
	}

	var (
		rows    []Row
		rowErrs *multierror.Error
	)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				rowErrs = multierror.Append(rowErrs, rowError(perr.Line, perr.Err))
				continue
			}
			return nil, nil, errors.Wrap(err, "reading csv")
		}

		line, _ := cr.FieldPos(0)
		csvRow := core.NewCSVRow(line, cols, record)
		if csvRow.IsBlank() {
			continue
		}
		row, err := parseRow(csvRow, loc)
		if err != nil {
			rowErrs = multierror.Append(rowErrs, rowError(line, err))
			continue
		}
		rows = append(rows, row)
	}
	return rows, rowErrs, nil
}

func parseRow(r core.CSVRow, loc *time.Location) (Row, error) {
	row := Row{
		Line:        r.Line,
		HomeTeam:    core.CleanString(r.Get("home")),
		AwayTeam:    core.CleanString(r.Get("away")),
		Competition: core.CleanString(r.Get("competition")),
		Venue:       core.CleanString(r.Get("venue")),
		Season:      r.Get("season"),
	}

	if row.HomeTeam == "" || row.AwayTeam == "" {
		return row, errors.New("home and away teams are required")
	}
	if row.HomeTeam == row.AwayTeam {
		return row, errSameTeams
	}

	day, err := core.ParseDate(r.Get("date"), loc)
	if err != nil {
		return row, errors.Errorf("invalid date %q, expected YYYY-MM-DD", r.Get("date"))
	}
	hour, min, err := core.ParseClock(r.Get("time"))
	if err != nil {
		return row, errors.Errorf("invalid time %q, expected HH:MM", r.Get("time"))
	}
	row.KickoffAt = core.AtClock(day, hour, min).UTC()

	status, ok := ParseStatus(r.Get("status"))
	if !ok {
		return row, errors.Errorf("invalid status %q", r.Get("status"))
	}
	row.Status = status

	if gw := r.Get("game_week"); gw != "" {
		n, err := strconv.Atoi(gw)
		if err != nil || n < 1 {
			return row, errors.Errorf("invalid game_week %q", gw)
		}
		row.GameWeek = n
	}
	return row, nil
}

// Import parses a fixtures CSV file and upserts its valid rows.
func (svc *Service) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	rows, rowErrs, err := ParseCSV(r, core.Conf.Location())
	if err != nil {
		return ImportResult{}, err
	}

	res, err := svc.UpsertRows(ctx, rows, UpsertOptions{})
	if err != nil {
		return res, err
	}
	if rowErrs != nil {
		for _, e := range rowErrs.Errors {
			res.addError(e)
		}
	}
	res.sortErrors()
	return res, nil
}

// Export writes the fixtures of an inclusive range of local days as CSV.
func (svc *Service) Export(ctx context.Context, w io.Writer, fromStr, toStr string) error {
	loc := core.Conf.Location()
	from, to, err := DayRange(fromStr, toStr, NowFunc(), loc)
	if err != nil {
		return err
	}
	fixtures, err := svc.repo.QueryFixtures(ctx, QueryFilter{From: from.UTC(), To: core.AddDays(to, 1).UTC()})
	if err != nil {
		return errors.Wrap(err, "querying fixtures")
	}
	gws, err := svc.repo.QueryGameWeeks(ctx, GameWeekFilter{})
	if err != nil {
		return errors.Wrap(err, "querying game weeks")
	}
	return WriteCSV(w, fixtures, gws, loc)
}

// WriteCSV writes fixtures with the import columns.
func WriteCSV(w io.Writer, fixtures []Fixture, gws []GameWeek, loc *time.Location) error {
	gwByID := make(map[string]GameWeek, len(gws))
	for _, gw := range gws {
		gwByID[gw.ID] = gw
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVColumns); err != nil {
		return err
	}
	for _, f := range fixtures {
		local := f.KickoffAt.In(loc)
		var season, number string
		if gw, ok := gwByID[f.GameWeekID]; ok {
			season, number = gw.Season, strconv.Itoa(gw.Number)
		}
		record := []string{
			local.Format(core.DateLayout),
			local.Format(core.ClockLayout),
			f.HomeTeam,
			f.AwayTeam,
			f.Competition,
			f.Venue,
			f.Status,
			season,
			number,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
