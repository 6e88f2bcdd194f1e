package subscriber

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"net/mail"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core"
)

const (
	CodeLength      = 6
	CodeTTL         = 15 * time.Minute
	MaxCodeAttempts = 5
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound = errors.New("subscriber not found")
	ErrExists   = errors.New("this address is already subscribed")

	errInvalidChannel = errors.New("invalid channel")
	errInvalidPhone   = errors.New("invalid phone number")
	errInvalidEmail   = errors.New("invalid email address")
	errNoPreference   = errors.New("choose at least one notification")
	errInvalidCode    = errors.New("invalid verification code")
	errCodeExpired    = errors.New("verification code expired, request a new one")
	errTooManyTries   = errors.New("too many attempts, request a new code")
)

type (
	Repository interface {
		CreateSubscriber(ctx context.Context, sub Subscriber) (Subscriber, error)
		// QuerySubscribers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on Subscriber.Address.
		QuerySubscribers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Subscriber, error)
		GetSubscriber(ctx context.Context, filter GetFilter) (Subscriber, error)
		UpdateSubscriber(ctx context.Context, sub Subscriber) (Subscriber, error)
		DeleteSubscribersByID(ctx context.Context, ids ...string) (int, error)
	}

	Service struct {
		repo     Repository
		mailSvc  core.EmailService
		smsSvc   core.SMSService
		tokenGen core.TokenGenerator
	}
)

func NewService(repo Repository, mailSvc core.EmailService, smsSvc core.SMSService) *Service {
	return &Service{
		repo:    repo,
		mailSvc: mailSvc,
		smsSvc:  smsSvc,
		tokenGen: core.TokenGenerator{
			Salt:    "kickoff.core.subscriber.token_gen",
			Timeout: core.Conf.Server.PasswordResetTimeoutDelta,
			NowFunc: func() time.Time { return NowFunc() },
		},
	}
}

// Subscribe registers an address or updates the preferences of an existing one.
// Unverified subscribers are sent a verification message. created reports whether a new subscriber was added.
func (svc *Service) Subscribe(ctx context.Context, ns NewSubscription) (sub Subscriber, created bool, err error) {
	now := NowFunc().UTC()
	sub, err = svc.repo.GetSubscriber(ctx, GetFilter{Channel: ns.Channel, Address: ns.Address})
	switch {
	case errors.Cause(err) == ErrNotFound:
		sub = Subscriber{
			Channel:          ns.Channel,
			Address:          ns.Address,
			NotifyToday:      ns.NotifyToday,
			NotifySoon:       ns.NotifySoon,
			UnsubscribeToken: uuid.NewString(),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if sub, err = svc.repo.CreateSubscriber(ctx, sub); err != nil {
			return Subscriber{}, false, errors.Wrap(err, "creating subscriber")
		}
		created = true
	case err != nil:
		return Subscriber{}, false, errors.Wrap(err, "getting subscriber")
	default:
		sub.NotifyToday = ns.NotifyToday
		sub.NotifySoon = ns.NotifySoon
		sub.UpdatedAt = now
		if sub, err = svc.repo.UpdateSubscriber(ctx, sub); err != nil {
			return Subscriber{}, false, errors.Wrap(err, "updating subscriber")
		}
	}

	if !sub.IsVerified() {
		if sub, err = svc.sendVerification(ctx, sub); err != nil {
			return sub, created, err
		}
	}
	return sub, created, nil
}

// VerifyEmail confirms an email subscriber from the uid and token of a verification link.
func (svc *Service) VerifyEmail(ctx context.Context, data VerifyEmail) (Subscriber, error) {
	id, err := core.DecodeUID(data.UID)
	if err != nil {
		return Subscriber{}, core.NewFieldError("uid", "invalid value")
	}
	sub, err := svc.repo.GetSubscriber(ctx, GetFilter{ID: id})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Subscriber{}, core.NewFieldError("uid", "invalid value")
		}
		return Subscriber{}, errors.Wrap(err, "getting subscriber")
	}
	if sub.Channel != ChannelEmail {
		return Subscriber{}, core.NewFieldError("uid", "invalid value")
	}
	if sub.IsVerified() {
		return sub, nil
	}
	if err = svc.tokenGen.Verify(data.Token, tokenValues(sub)...); err != nil {
		return Subscriber{}, core.NewFieldError("token", "invalid or expired token")
	}
	return svc.markVerified(ctx, sub)
}

// VerifyCode confirms an SMS subscriber with the code they were texted.
// Each wrong code counts as an attempt; after MaxCodeAttempts a new code must be requested.
func (svc *Service) VerifyCode(ctx context.Context, data VerifyCode) (Subscriber, error) {
	phone, err := NormalizePhone(data.Address, core.Conf.DefaultCountryCode)
	if err != nil {
		return Subscriber{}, core.NewFieldError("address", err.Error())
	}
	sub, err := svc.repo.GetSubscriber(ctx, GetFilter{Channel: ChannelSMS, Address: phone})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Subscriber{}, core.NewFieldError("code", errInvalidCode.Error())
		}
		return Subscriber{}, errors.Wrap(err, "getting subscriber")
	}
	if sub.IsVerified() {
		return sub, nil
	}

	switch {
	case sub.VerificationCode == "" || sub.CodeAttempts >= MaxCodeAttempts:
		return Subscriber{}, core.NewFieldError("code", errTooManyTries.Error())
	case !NowFunc().Before(sub.CodeExpiresAt):
		return Subscriber{}, core.NewFieldError("code", errCodeExpired.Error())
	case subtle.ConstantTimeCompare([]byte(sub.VerificationCode), []byte(data.Code)) != 1:
		sub.CodeAttempts++
		sub.UpdatedAt = NowFunc().UTC()
		if _, err = svc.repo.UpdateSubscriber(ctx, sub); err != nil {
			return Subscriber{}, errors.Wrap(err, "updating subscriber")
		}
		if sub.CodeAttempts >= MaxCodeAttempts {
			return Subscriber{}, core.NewFieldError("code", errTooManyTries.Error())
		}
		return Subscriber{}, core.NewFieldError("code", errInvalidCode.Error())
	}
	return svc.markVerified(ctx, sub)
}

// Resend sends a new verification message to an unverified subscriber.
// Unknown and already verified addresses are ignored so callers cannot probe subscriptions.
func (svc *Service) Resend(ctx context.Context, data ResendVerification) error {
	addr, err := NormalizeAddress(data.Channel, data.Address)
	if err != nil {
		return core.NewFieldError("address", err.Error())
	}
	sub, err := svc.repo.GetSubscriber(ctx, GetFilter{Channel: data.Channel, Address: addr})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil
		}
		return errors.Wrap(err, "getting subscriber")
	}
	if sub.IsVerified() {
		return nil
	}
	_, err = svc.sendVerification(ctx, sub)
	return err
}

// ResendByID is the admin variant of Resend.
func (svc *Service) ResendByID(ctx context.Context, id string) (Subscriber, error) {
	sub, err := svc.repo.GetSubscriber(ctx, GetFilter{ID: id})
	if err != nil {
		return Subscriber{}, err
	}
	if sub.IsVerified() {
		return sub, nil
	}
	return svc.sendVerification(ctx, sub)
}

// Unsubscribe deletes the subscriber owning token.
func (svc *Service) Unsubscribe(ctx context.Context, token string) error {
	sub, err := svc.repo.GetSubscriber(ctx, GetFilter{UnsubscribeToken: core.CleanString(token)})
	if err != nil {
		return err
	}
	_, err = svc.repo.DeleteSubscribersByID(ctx, sub.ID)
	return errors.Wrap(err, "deleting subscriber")
}

// Recipients returns the verified subscribers opted into today's or the soon notification.
func (svc *Service) Recipients(ctx context.Context, today bool) ([]Subscriber, error) {
	filter := &QueryFilter{Verified: core.BoolPtr(true)}
	if today {
		filter.NotifyToday = core.BoolPtr(true)
	} else {
		filter.NotifySoon = core.BoolPtr(true)
	}
	return svc.repo.QuerySubscribers(ctx, filter, []core.DBOrdering{{Field: "created_at", Ascending: true}})
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Subscriber, error) {
	return svc.repo.QuerySubscribers(ctx, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Subscriber, error) {
	return svc.repo.GetSubscriber(ctx, GetFilter{ID: id})
}

func (svc *Service) Delete(ctx context.Context, ids ...string) (int, error) {
	return svc.repo.DeleteSubscribersByID(ctx, ids...)
}

// UnsubscribeURL is the public link that removes sub.
func UnsubscribeURL(sub Subscriber) string {
	return core.Conf.FrontendBaseURL + "/unsubscribe?token=" + url.QueryEscape(sub.UnsubscribeToken)
}

func (svc *Service) markVerified(ctx context.Context, sub Subscriber) (Subscriber, error) {
	now := NowFunc().UTC()
	sub.VerifiedAt = now
	sub.VerificationCode = ""
	sub.CodeExpiresAt = time.Time{}
	sub.CodeAttempts = 0
	sub.UpdatedAt = now
	return svc.repo.UpdateSubscriber(ctx, sub)
}

func (svc *Service) sendVerification(ctx context.Context, sub Subscriber) (Subscriber, error) {
	switch sub.Channel {
	case ChannelEmail:
		q := make(url.Values)
		q.Set("uid", core.EncodeUID(sub.ID))
		q.Set("token", svc.tokenGen.Make(tokenValues(sub)...))
		svc.mailSvc.SendMessages(&core.EmailMessage{
			To:           []mail.Address{{Address: sub.Address}},
			Subject:      "Confirm your subscription",
			TemplateName: "subscription_verify",
			TemplateData: map[string]interface{}{
				"URL":            core.Conf.FrontendBaseURL + "/subscriptions/verify?" + q.Encode(),
				"UnsubscribeURL": UnsubscribeURL(sub),
			},
		})
		return sub, nil

	case ChannelSMS:
		code, err := newCode()
		if err != nil {
			return sub, errors.Wrap(err, "generating verification code")
		}
		now := NowFunc().UTC()
		sub.VerificationCode = code
		sub.CodeExpiresAt = now.Add(CodeTTL)
		sub.CodeAttempts = 0
		sub.UpdatedAt = now
		if sub, err = svc.repo.UpdateSubscriber(ctx, sub); err != nil {
			return sub, errors.Wrap(err, "storing verification code")
		}
		msg := &core.SMSMessage{
			To:           sub.Address,
			TemplateName: "verify_code",
			TemplateData: map[string]interface{}{"Code": code},
		}
		return sub, errors.Wrap(svc.smsSvc.Send(ctx, msg), "sending verification code")
	}
	return sub, errInvalidChannel
}

// tokenValues ties email verification tokens to the subscriber's current state.
func tokenValues(sub Subscriber) []string {
	return []string{sub.ID, sub.Channel, sub.Address, sub.UnsubscribeToken}
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}
