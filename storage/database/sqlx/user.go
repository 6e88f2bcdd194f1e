package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/user"
)

const userColumns = `id, name, username, email, is_active, roles, password_hash, created_at, updated_at, last_login`

var userOrderColumns = map[string]string{
	"name":       "name",
	"username":   "username",
	"email":      "email",
	"created_at": "created_at",
	"last_login": "last_login",
}

type userRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Username     null.String    `db:"username"`
	Email        null.String    `db:"email"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func toUserRow(usr user.User) userRow {
	roles := usr.Roles
	if roles == nil {
		roles = []string{}
	}
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     null.NewString(usr.Username, usr.Username != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		IsActive:     usr.IsActive,
		Roles:        roles,
		PasswordHash: usr.PasswordHash,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (r userRow) user() user.User {
	return user.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username.String,
		Email:        r.Email.String,
		IsActive:     r.IsActive,
		Roles:        r.Roles,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		LastLogin:    r.LastLogin.Time.UTC(),
	}
}

type userRepository struct {
	db sqlx.ExtContext
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db sqlx.ExtContext) user.Repository {
	return &userRepository{db: db}
}

// mapUniqueErr maps a unique violation on username or email to its domain error.
func (repo userRepository) mapUniqueErr(err error, msg string) error {
	if pqErrorCode(err) == uniqueViolation {
		if strings.Contains(constraintName(err), "email") {
			return user.ErrEmailExists
		}
		return user.ErrUsernameExists
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	var w where
	switch {
	case username != "" && email != "":
		w.add("(username = ? OR email = ?)", username, email)
	case username != "":
		w.add("username = ?", username)
	case email != "":
		w.add("email = ?", email)
	default:
		return nil
	}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		w.add("NOT (id = ANY(?))", pq.Array(ids))
	}

	var rows []userRow
	q := rebind(`SELECT ` + userColumns + ` FROM "user"` + w.String() + ` LIMIT 2`)
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, w.args...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, r := range rows {
		if username != "" && r.Username.String == username {
			return user.ErrUsernameExists
		}
	}
	if len(rows) > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.NewString()
	q := `INSERT INTO "user" (` + userColumns + `)
		VALUES (:id, :name, :username, :email, :is_active, :roles, :password_hash, :created_at, :updated_at, :last_login)`
	if _, err := sqlx.NamedExecContext(ctx, repo.db, q, toUserRow(usr)); err != nil {
		return user.User{}, repo.mapUniqueErr(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	var w where
	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)", val, val, val)
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			conds := make([]string, 0, len(filter.Roles))
			args := make([]interface{}, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				conds = append(conds, `id IN (SELECT id FROM "user", UNNEST(roles) user_role WHERE user_role ILIKE ?)`)
				args = append(args, role+"%")
			}
			w.add("("+strings.Join(conds, " OR ")+")", args...)
		}
		if filter.IsActive != nil {
			w.add("is_active = ?", *filter.IsActive)
		}
		if !filter.CreatedFrom.IsZero() {
			w.add("created_at >= ?", filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			w.add("created_at <= ?", filter.CreatedTo.UTC())
		}
	}

	q := rebind(`SELECT ` + userColumns + ` FROM "user"` + w.String() +
		` ORDER BY ` + core.OrderBy(ordering, userOrderColumns, "created_at ASC"))
	var rows []userRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var w where
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		w.add("id = ?", filter.ID)
	case filter.Username != "":
		w.add("username = ?", filter.Username)
	case filter.Email != "":
		w.add("email = ?", filter.Email)
	case filter.UsernameOrEmail != "":
		w.add("(username = ? OR email = ?)", filter.UsernameOrEmail, filter.UsernameOrEmail)
	default:
		return user.User{}, user.ErrNotFound
	}

	var r userRow
	q := rebind(`SELECT ` + userColumns + ` FROM "user"` + w.String() + ` LIMIT 1`)
	if err := sqlx.GetContext(ctx, repo.db, &r, q, w.args...); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "getting user")
	}
	return r.user(), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `UPDATE "user" SET name = :name, username = :username, email = :email, is_active = :is_active,
		roles = :roles, password_hash = :password_hash, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.db, q, toUserRow(usr))
	if err != nil {
		return user.User{}, repo.mapUniqueErr(err, "updating user")
	}
	if n, err := rowsAffected(res); err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	} else if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := repo.db.ExecContext(ctx, `DELETE FROM "user" WHERE id::text = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	return rowsAffected(res)
}
