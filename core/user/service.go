package user

import (
	"context"
	"net/mail"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound       = errors.New("user not found")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
)

type (
	Repository interface {
		// CheckUsernameUniqueness returns ErrUsernameExists or ErrEmailExists if a user other than excludedUsers
		// already has the username or the email.
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		// QueryFilter.Roles matches users having any role starting with any of the provided roles.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		DeleteUsersByID(ctx context.Context, ids ...string) (int, error)
	}

	Service struct {
		repo     Repository
		mailSvc  core.EmailService
		tokenGen core.TokenGenerator
	}
)

func NewService(repo Repository, mailSvc core.EmailService) *Service {
	return &Service{
		repo:    repo,
		mailSvc: mailSvc,
		tokenGen: core.TokenGenerator{
			Salt:    "kickoff.core.user.token_gen",
			Timeout: core.Conf.Server.PasswordResetTimeoutDelta,
			NowFunc: func() time.Time { return NowFunc() },
		},
	}
}

// CheckUniqueness maps repository uniqueness errors to field errors.
func (svc *Service) CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(ctx, uname, email, exclUsers...); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return errors.Wrap(err, "checking user uniqueness")
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := NowFunc().UTC()
	usr := User{
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		IsActive:  true,
		Roles:     nu.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if usr.Roles == nil {
		usr.Roles = []string{RoleAdmin}
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
}

func (svc *Service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	usr.Name = uu.Name
	usr.Username = uu.Username
	usr.Email = uu.Email
	if uu.Roles != nil {
		usr.Roles = uu.Roles
	}
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}
	usr.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = NowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// SetPassword sets a new password without policy checks; used by the admin CLI.
func (svc *Service) SetPassword(ctx context.Context, uname, pwd string) (User, error) {
	usr, err := svc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return User{}, err
	}
	if err := usr.SetPassword(pwd); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) Delete(ctx context.Context, ids ...string) (int, error) {
	return svc.repo.DeleteUsersByID(ctx, ids...)
}

// RequestPasswordReset mails a password reset link to the active user owning email.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return ErrNotFound
	}
	svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *Service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	uid, err := core.DecodeUID(data.UID)
	if err != nil {
		return core.NewFieldError("uid", "invalid value")
	}
	usr, err := svc.GetByID(ctx, uid)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return core.NewFieldError("uid", "invalid value")
		}
		return errors.Wrap(err, "finding user by ID")
	}
	if err = svc.verifyToken(usr, data.Token); err != nil {
		return core.NewFieldError("token", "invalid or expired token")
	}
	if err = usr.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = NowFunc().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr)
	return errors.Wrap(err, "updating user")
}

func (svc *Service) sendPasswordResetMail(usr User) {
	q := make(url.Values)
	q.Set("uid", core.EncodeUID(usr.ID))
	q.Set("token", svc.makeToken(usr))
	name := usr.Name
	if name == "" {
		name = usr.Username
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name": name,
			"URL":  core.Conf.FrontendBaseURL + "/admin/password-reset?" + q.Encode(),
		},
	})
}
