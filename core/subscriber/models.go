package subscriber

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/kickoff/core"
)

// Channels
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

var (
	Channels = []string{ChannelEmail, ChannelSMS}

	e164Regex       = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
	phoneSeparators = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "", "\u00a0", "")
)

type Subscriber struct {
	ID               string    `json:"id"`
	Channel          string    `json:"channel"`
	Address          string    `json:"address"`
	NotifyToday      bool      `json:"notify_today"`
	NotifySoon       bool      `json:"notify_soon"`
	VerifiedAt       time.Time `json:"verified_at"` // UTC, zero until verified
	VerificationCode string    `json:"-"`
	CodeExpiresAt    time.Time `json:"-"`
	CodeAttempts     int       `json:"-"`
	UnsubscribeToken string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"` // UTC
	UpdatedAt        time.Time `json:"updated_at"` // UTC
}

func (s Subscriber) IsVerified() bool { return !s.VerifiedAt.IsZero() }

// NormalizePhone converts a phone number to E.164.
// Separators are dropped, a 00 prefix becomes +, and a leading national 0 is replaced by countryCode.
func NormalizePhone(raw, countryCode string) (string, error) {
	phone := phoneSeparators.Replace(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(phone, "+"):
	case strings.HasPrefix(phone, "00"):
		phone = "+" + phone[2:]
	case strings.HasPrefix(phone, "0"):
		phone = countryCode + phone[1:]
	}
	if !e164Regex.MatchString(phone) {
		return "", errInvalidPhone
	}
	return phone, nil
}

// NormalizeAddress cleans an address for its channel.
func NormalizeAddress(channel, address string) (string, error) {
	switch channel {
	case ChannelEmail:
		email := core.CleanString(address, true /* lower */)
		if parsed, err := mail.ParseAddress(email); err != nil || parsed.Address != email {
			return "", errInvalidEmail
		}
		return email, nil
	case ChannelSMS:
		return NormalizePhone(address, core.Conf.DefaultCountryCode)
	}
	return "", errInvalidChannel
}

// NewSubscription contains information needed to subscribe an address.
type NewSubscription struct {
	Channel     string `json:"channel" validate:"required,oneof=email sms"`
	Address     string `json:"address" validate:"required"`
	NotifyToday bool   `json:"notify_today"`
	NotifySoon  bool   `json:"notify_soon"`
}

func (ns *NewSubscription) Validate(validate *validator.Validate) error {
	ns.Channel = core.CleanString(ns.Channel, true /* lower */)
	if err := validate.Struct(ns); err != nil {
		return err
	}

	addr, err := NormalizeAddress(ns.Channel, ns.Address)
	if err != nil {
		return core.NewFieldError("address", err.Error())
	}
	ns.Address = addr

	if !ns.NotifyToday && !ns.NotifySoon {
		return core.NewFieldError("notify_today", errNoPreference.Error())
	}
	return nil
}

type VerifyEmail struct {
	UID   string `json:"uid" validate:"required"`
	Token string `json:"token" validate:"required"`
}

func (ve VerifyEmail) Validate(validate *validator.Validate) error { return validate.Struct(ve) }

type VerifyCode struct {
	Address string `json:"address" validate:"required"`
	Code    string `json:"code" validate:"required,len=6,numeric"`
}

func (vc *VerifyCode) Validate(validate *validator.Validate) error {
	vc.Code = core.CleanString(vc.Code)
	return validate.Struct(vc)
}

type ResendVerification struct {
	Channel string `json:"channel" validate:"required,oneof=email sms"`
	Address string `json:"address" validate:"required"`
}

func (rv *ResendVerification) Validate(validate *validator.Validate) error {
	rv.Channel = core.CleanString(rv.Channel, true /* lower */)
	return validate.Struct(rv)
}

type Unsubscribe struct {
	Token string `json:"token" validate:"required"`
}

func (u Unsubscribe) Validate(validate *validator.Validate) error { return validate.Struct(u) }

type QueryFilter struct {
	Search      string    `query:"search"`
	Channel     string    `query:"channel"`
	Verified    *bool     `query:"verified"`
	NotifyToday *bool     `query:"notify_today"`
	NotifySoon  *bool     `query:"notify_soon"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search, true /* lower */)
	qf.Channel = core.CleanString(qf.Channel, true /* lower */)
}

// GetFilter selects a single subscriber; the first non-empty selector wins.
type GetFilter struct {
	ID               string
	Channel          string // with Address
	Address          string
	UnsubscribeToken string
}

// Matches reports whether s is selected by the filter.
func (gf GetFilter) Matches(s Subscriber) bool {
	switch {
	case gf.ID != "":
		return s.ID == gf.ID
	case gf.Channel != "":
		return s.Channel == gf.Channel && s.Address == gf.Address
	case gf.UnsubscribeToken != "":
		return s.UnsubscribeToken == gf.UnsubscribeToken
	}
	return false
}
