// Package feed pulls fixtures from a provider JSON API (football-data.org v4 match list format).
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/trezcool/kickoff/core/fixture"
)

const maxBodySize = 10 << 20

type Client struct {
	url   string
	token string
	http  *http.Client
}

func NewClient(url, token string) *Client {
	return &Client{
		url:   url,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch downloads the feed and converts its matches to rows.
// Matches that cannot be converted are reported in the returned *multierror.Error.
func (c *Client) Fetch(ctx context.Context) ([]fixture.Row, *multierror.Error, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating feed request")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("X-Auth-Token", c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fetching feed")
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, nil, errors.Wrap(err, "reading feed")
	}
	if res.StatusCode != http.StatusOK {
		return nil, nil, errors.Errorf("feed status: %d - body: %.200s", res.StatusCode, body)
	}
	if !gjson.ValidBytes(body) {
		return nil, nil, errors.New("feed is not valid JSON")
	}
	rows, rowErrs := ParseMatches(body)
	return rows, rowErrs, nil
}

// ParseMatches converts the "matches" array of a feed document.
func ParseMatches(doc []byte) ([]fixture.Row, *multierror.Error) {
	var (
		rows    []fixture.Row
		rowErrs *multierror.Error
	)
	gjson.GetBytes(doc, "matches").ForEach(func(key, match gjson.Result) bool {
		idx := int(key.Int())
		row, err := parseMatch(match)
		if err != nil {
			rowErrs = multierror.Append(rowErrs, errors.Errorf("match %d: %s", idx, err))
			return true
		}
		row.Line = idx
		rows = append(rows, row)
		return true
	})
	return rows, rowErrs
}

func parseMatch(match gjson.Result) (fixture.Row, error) {
	row := fixture.Row{
		HomeTeam:    strings.TrimSpace(match.Get("homeTeam.name").String()),
		AwayTeam:    strings.TrimSpace(match.Get("awayTeam.name").String()),
		Competition: strings.TrimSpace(match.Get("competition.name").String()),
		Venue:       strings.TrimSpace(match.Get("venue").String()),
		GameWeek:    int(match.Get("matchday").Int()),
	}
	if row.HomeTeam == "" || row.AwayTeam == "" {
		return row, errors.New("missing team names")
	}

	kickoff, err := time.Parse(time.RFC3339, match.Get("utcDate").String())
	if err != nil {
		return row, errors.Errorf("invalid utcDate %q", match.Get("utcDate").String())
	}
	row.KickoffAt = kickoff.UTC()

	status, ok := fixture.ParseStatus(strings.ReplaceAll(match.Get("status").String(), "_", ""))
	if !ok {
		return row, errors.Errorf("unknown status %q", match.Get("status").String())
	}
	row.Status = status

	row.Season = seasonName(match.Get("season"))
	if row.Season == "" {
		row.GameWeek = 0
	}
	return row, nil
}

// seasonName formats a season object as "2025/26", or returns a plain string season as is.
func seasonName(season gjson.Result) string {
	if season.Type == gjson.String {
		return strings.TrimSpace(season.String())
	}
	start, end := season.Get("startDate").String(), season.Get("endDate").String()
	if len(start) < 4 || len(end) < 4 {
		return ""
	}
	if start[:4] == end[:4] {
		return start[:4]
	}
	return fmt.Sprintf("%s/%s", start[:4], end[2:4])
}
