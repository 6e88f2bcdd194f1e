package fixture

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/kickoff/core"
)

// Statuses
const (
	StatusScheduled = "scheduled"
	StatusPostponed = "postponed"
	StatusCancelled = "cancelled"
)

var Statuses = []string{StatusScheduled, StatusPostponed, StatusCancelled}

// ParseStatus maps free text (CSV cells, feed values) to a status; empty means scheduled.
func ParseStatus(s string) (string, bool) {
	switch core.CleanString(s, true /* lower */) {
	case "", StatusScheduled, "timed", "tbc", "inplay", "live", "paused", "finished", "awarded":
		return StatusScheduled, true
	case StatusPostponed, "ppd", "suspended":
		return StatusPostponed, true
	case StatusCancelled, "canceled", "abandoned":
		return StatusCancelled, true
	}
	return "", false
}

type Fixture struct {
	ID          string    `json:"id"`
	GameWeekID  string    `json:"game_week_id,omitempty"`
	Competition string    `json:"competition"`
	HomeTeam    string    `json:"home_team"`
	AwayTeam    string    `json:"away_team"`
	Venue       string    `json:"venue"`
	KickoffAt   time.Time `json:"kickoff_at"` // UTC
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

// IsNotifiable reports whether the fixture should trigger notifications.
func (f Fixture) IsNotifiable() bool {
	return f.Status == StatusScheduled
}

// sameAs reports whether the mutable fields of f and o match.
func (f Fixture) sameAs(o Fixture) bool {
	return f.GameWeekID == o.GameWeekID &&
		f.Competition == o.Competition &&
		f.Venue == o.Venue &&
		f.Status == o.Status
}

// Day is one local calendar day of fixtures.
type Day struct {
	Date     string    `json:"date"` // YYYY-MM-DD, display time zone
	Fixtures []Fixture `json:"fixtures"`
}

type GameWeek struct {
	ID                   string    `json:"id"`
	Season               string    `json:"season"`
	Number               int       `json:"number"`
	StartsOn             string    `json:"starts_on"` // YYYY-MM-DD
	EndsOn               string    `json:"ends_on"`   // YYYY-MM-DD, inclusive
	NotificationsEnabled bool      `json:"notifications_enabled"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Covers reports whether the YYYY-MM-DD day falls within the game week.
func (gw GameWeek) Covers(day string) bool {
	return gw.StartsOn <= day && day <= gw.EndsOn
}

func (gw GameWeek) overlaps(o GameWeek) bool {
	return gw.StartsOn <= o.EndsOn && o.StartsOn <= gw.EndsOn
}

// NewFixture contains information needed to create a new Fixture.
type NewFixture struct {
	GameWeekID  string    `json:"game_week_id" validate:"omitempty,uuid"`
	Competition string    `json:"competition"`
	HomeTeam    string    `json:"home_team" validate:"required,notblank"`
	AwayTeam    string    `json:"away_team" validate:"required,notblank,nefield=HomeTeam"`
	Venue       string    `json:"venue"`
	KickoffAt   time.Time `json:"kickoff_at" validate:"required"`
	Status      string    `json:"status" validate:"omitempty,oneof=scheduled postponed cancelled"`
}

func (nf *NewFixture) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nf.Competition = core.CleanString(nf.Competition)
	nf.HomeTeam = core.CleanString(nf.HomeTeam)
	nf.AwayTeam = core.CleanString(nf.AwayTeam)
	nf.Venue = core.CleanString(nf.Venue)
	nf.Status = core.CleanString(nf.Status, true /* lower */)

	if err := validate.Struct(nf); err != nil {
		return err
	}
	return svc.checkGameWeek(ctx, nf.GameWeekID)
}

// UpdateFixture defines what information may be provided to modify an existing Fixture.
type UpdateFixture struct {
	GameWeekID  *string    `json:"game_week_id" validate:"omitempty"`
	Competition *string    `json:"competition"`
	HomeTeam    *string    `json:"home_team" validate:"omitempty,notblank"`
	AwayTeam    *string    `json:"away_team" validate:"omitempty,notblank"`
	Venue       *string    `json:"venue"`
	KickoffAt   *time.Time `json:"kickoff_at"`
	Status      *string    `json:"status" validate:"omitempty,oneof=scheduled postponed cancelled"`
}

func (uf *UpdateFixture) Validate(ctx context.Context, orig Fixture, validate *validator.Validate, svc *Service) error {
	for _, s := range []*string{uf.Competition, uf.HomeTeam, uf.AwayTeam, uf.Venue} {
		if s != nil {
			*s = core.CleanString(*s)
		}
	}
	if uf.Status != nil {
		*uf.Status = core.CleanString(*uf.Status, true /* lower */)
	}
	if err := validate.Struct(uf); err != nil {
		return err
	}

	home, away := orig.HomeTeam, orig.AwayTeam
	if uf.HomeTeam != nil {
		home = *uf.HomeTeam
	}
	if uf.AwayTeam != nil {
		away = *uf.AwayTeam
	}
	if strings.EqualFold(home, away) {
		return core.NewFieldError("away_team", errSameTeams.Error())
	}
	if uf.GameWeekID != nil {
		return svc.checkGameWeek(ctx, *uf.GameWeekID)
	}
	return nil
}

// QueryFilter selects fixtures; zero values are ignored.
type QueryFilter struct {
	From       time.Time // inclusive
	To         time.Time // exclusive
	GameWeekID string
	Search     string // case-insensitive match on teams or competition
	Statuses   []string
}

// NewGameWeek contains information needed to create a new GameWeek.
type NewGameWeek struct {
	Season               string `json:"season" validate:"required,notblank,max=16"`
	Number               int    `json:"number" validate:"required,min=1,max=99"`
	StartsOn             string `json:"starts_on" validate:"required,date"`
	EndsOn               string `json:"ends_on" validate:"required,date"`
	NotificationsEnabled *bool  `json:"notifications_enabled"`
}

func (ng *NewGameWeek) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	ng.Season = core.CleanString(ng.Season)
	ng.StartsOn = core.CleanString(ng.StartsOn)
	ng.EndsOn = core.CleanString(ng.EndsOn)

	if err := validate.Struct(ng); err != nil {
		return err
	}
	return svc.checkGameWeekSchedule(ctx, GameWeek{Season: ng.Season, Number: ng.Number, StartsOn: ng.StartsOn, EndsOn: ng.EndsOn})
}

// UpdateGameWeek defines what information may be provided to modify an existing GameWeek.
type UpdateGameWeek struct {
	Number               *int    `json:"number" validate:"omitempty,min=1,max=99"`
	StartsOn             *string `json:"starts_on" validate:"omitempty,date"`
	EndsOn               *string `json:"ends_on" validate:"omitempty,date"`
	NotificationsEnabled *bool   `json:"notifications_enabled"`
}

// Apply returns orig with the provided fields changed.
func (ug UpdateGameWeek) Apply(orig GameWeek) GameWeek {
	gw := orig
	if ug.Number != nil {
		gw.Number = *ug.Number
	}
	if ug.StartsOn != nil {
		gw.StartsOn = core.CleanString(*ug.StartsOn)
	}
	if ug.EndsOn != nil {
		gw.EndsOn = core.CleanString(*ug.EndsOn)
	}
	if ug.NotificationsEnabled != nil {
		gw.NotificationsEnabled = *ug.NotificationsEnabled
	}
	return gw
}

func (ug *UpdateGameWeek) Validate(ctx context.Context, orig GameWeek, validate *validator.Validate, svc *Service) error {
	if err := validate.Struct(ug); err != nil {
		return err
	}
	return svc.checkGameWeekSchedule(ctx, ug.Apply(orig))
}

type GameWeekFilter struct {
	Season string
	Day    string // game weeks covering this YYYY-MM-DD day
}
