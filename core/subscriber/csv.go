package subscriber

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core"
)

var CSVColumns = []string{"channel", "address", "notify_today", "notify_soon", "verified"}

type ImportResult struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`

	errs *multierror.Error
}

func (res *ImportResult) addError(line int, err error) {
	err = errors.Errorf("line %d: %s", line, err)
	res.errs = multierror.Append(res.errs, err)
	res.Errors = append(res.Errors, err.Error())
}

// Err returns the row errors as a single error, or nil.
func (res *ImportResult) Err() error {
	return res.errs.ErrorOrNil()
}

// Export writes the subscribers matching filter as CSV.
func (svc *Service) Export(ctx context.Context, w io.Writer, filter *QueryFilter) error {
	subs, err := svc.repo.QuerySubscribers(ctx, filter, []core.DBOrdering{{Field: "created_at", Ascending: true}})
	if err != nil {
		return errors.Wrap(err, "querying subscribers")
	}

	cw := csv.NewWriter(w)
	if err = cw.Write(CSVColumns); err != nil {
		return err
	}
	for _, sub := range subs {
		record := []string{
			sub.Channel,
			sub.Address,
			strconv.FormatBool(sub.NotifyToday),
			strconv.FormatBool(sub.NotifySoon),
			strconv.FormatBool(sub.IsVerified()),
		}
		if err = cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Import upserts subscribers from a CSV file keyed by (channel, address).
// Empty notify columns mean opted in. Rows marked verified are stored as verified,
// the others are left unverified without sending any message.
func (svc *Service) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	res := ImportResult{Errors: []string{}}

	cr := core.NewCSVReader(r)
	cols, err := core.ReadCSVHeader(cr, "channel", "address")
	if err != nil {
		return res, err
	}

	for {
		if err = ctx.Err(); err != nil {
			return res, err
		}
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.addError(perr.Line, perr.Err)
				continue
			}
			return res, errors.Wrap(err, "reading csv")
		}

		line, _ := cr.FieldPos(0)
		row := core.NewCSVRow(line, cols, record)
		if row.IsBlank() {
			continue
		}
		if err = svc.importRow(ctx, row, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (svc *Service) importRow(ctx context.Context, row core.CSVRow, res *ImportResult) error {
	channel := core.CleanString(row.Get("channel"), true /* lower */)
	addr, err := NormalizeAddress(channel, row.Get("address"))
	if err != nil {
		res.addError(row.Line, err)
		return nil
	}

	flags := make(map[string]bool, 3)
	for _, col := range []string{"notify_today", "notify_soon", "verified"} {
		val := row.Get(col)
		if val == "" {
			flags[col] = col != "verified"
			continue
		}
		if flags[col], err = core.ParseBool(val); err != nil {
			res.addError(row.Line, errors.Errorf("invalid %s %q", col, val))
			return nil
		}
	}
	if !flags["notify_today"] && !flags["notify_soon"] {
		res.addError(row.Line, errNoPreference)
		return nil
	}

	now := NowFunc().UTC()
	sub, err := svc.repo.GetSubscriber(ctx, GetFilter{Channel: channel, Address: addr})
	switch {
	case errors.Cause(err) == ErrNotFound:
		sub = Subscriber{
			Channel:          channel,
			Address:          addr,
			NotifyToday:      flags["notify_today"],
			NotifySoon:       flags["notify_soon"],
			UnsubscribeToken: uuid.NewString(),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if flags["verified"] {
			sub.VerifiedAt = now
		}
		if _, err = svc.repo.CreateSubscriber(ctx, sub); err != nil {
			if errors.Cause(err) == ErrExists {
				res.addError(row.Line, err)
				return nil
			}
			return errors.Wrapf(err, "creating subscriber (line %d)", row.Line)
		}
		res.Created++
	case err != nil:
		return errors.Wrap(err, "getting subscriber")
	default:
		verify := flags["verified"] && !sub.IsVerified()
		if sub.NotifyToday == flags["notify_today"] && sub.NotifySoon == flags["notify_soon"] && !verify {
			res.Skipped++
			return nil
		}
		sub.NotifyToday = flags["notify_today"]
		sub.NotifySoon = flags["notify_soon"]
		if verify {
			sub.VerifiedAt = now
		}
		sub.UpdatedAt = now
		if _, err = svc.repo.UpdateSubscriber(ctx, sub); err != nil {
			return errors.Wrapf(err, "updating subscriber (line %d)", row.Line)
		}
		res.Updated++
	}
	return nil
}
