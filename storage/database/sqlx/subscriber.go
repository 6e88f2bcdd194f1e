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
	"github.com/trezcool/kickoff/core/subscriber"
)

const subscriberColumns = `id, channel, address, notify_today, notify_soon, verified_at, verification_code,
	code_expires_at, code_attempts, unsubscribe_token, created_at, updated_at`

var subscriberOrderColumns = map[string]string{
	"address":     "address",
	"channel":     "channel",
	"created_at":  "created_at",
	"verified_at": "verified_at",
}

type subscriberRow struct {
	ID               string    `db:"id"`
	Channel          string    `db:"channel"`
	Address          string    `db:"address"`
	NotifyToday      bool      `db:"notify_today"`
	NotifySoon       bool      `db:"notify_soon"`
	VerifiedAt       null.Time `db:"verified_at"`
	VerificationCode string    `db:"verification_code"`
	CodeExpiresAt    null.Time `db:"code_expires_at"`
	CodeAttempts     int       `db:"code_attempts"`
	UnsubscribeToken string    `db:"unsubscribe_token"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func toSubscriberRow(sub subscriber.Subscriber) subscriberRow {
	return subscriberRow{
		ID:               sub.ID,
		Channel:          sub.Channel,
		Address:          sub.Address,
		NotifyToday:      sub.NotifyToday,
		NotifySoon:       sub.NotifySoon,
		VerifiedAt:       null.NewTime(sub.VerifiedAt.UTC(), !sub.VerifiedAt.IsZero()),
		VerificationCode: sub.VerificationCode,
		CodeExpiresAt:    null.NewTime(sub.CodeExpiresAt.UTC(), !sub.CodeExpiresAt.IsZero()),
		CodeAttempts:     sub.CodeAttempts,
		UnsubscribeToken: sub.UnsubscribeToken,
		CreatedAt:        sub.CreatedAt.UTC(),
		UpdatedAt:        sub.UpdatedAt.UTC(),
	}
}

func (r subscriberRow) subscriber() subscriber.Subscriber {
	sub := subscriber.Subscriber{
		ID:               r.ID,
		Channel:          r.Channel,
		Address:          r.Address,
		NotifyToday:      r.NotifyToday,
		NotifySoon:       r.NotifySoon,
		VerificationCode: r.VerificationCode,
		CodeAttempts:     r.CodeAttempts,
		UnsubscribeToken: r.UnsubscribeToken,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	if r.VerifiedAt.Valid {
		sub.VerifiedAt = r.VerifiedAt.Time.UTC()
	}
	if r.CodeExpiresAt.Valid {
		sub.CodeExpiresAt = r.CodeExpiresAt.Time.UTC()
	}
	return sub
}

type subscriberRepository struct {
	db sqlx.ExtContext
}

var _ subscriber.Repository = (*subscriberRepository)(nil)

func NewSubscriberRepository(db sqlx.ExtContext) subscriber.Repository {
	return &subscriberRepository{db: db}
}

func (repo subscriberRepository) CreateSubscriber(ctx context.Context, sub subscriber.Subscriber) (subscriber.Subscriber, error) {
	sub.ID = uuid.NewString()
	q := `INSERT INTO subscriber (` + subscriberColumns + `)
		VALUES (:id, :channel, :address, :notify_today, :notify_soon, :verified_at, :verification_code,
			:code_expires_at, :code_attempts, :unsubscribe_token, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.db, q, toSubscriberRow(sub)); err != nil {
		if pqErrorCode(err) == uniqueViolation {
			return subscriber.Subscriber{}, subscriber.ErrExists
		}
		return subscriber.Subscriber{}, errors.Wrap(err, "inserting subscriber")
	}
	return sub, nil
}

func (repo subscriberRepository) QuerySubscribers(ctx context.Context, filter *subscriber.QueryFilter, ordering []core.DBOrdering) ([]subscriber.Subscriber, error) {
	var w where
	if filter != nil {
		if filter.Search != "" {
			w.add("address ILIKE ?", "%"+filter.Search+"%")
		}
		if filter.Channel != "" {
			w.add("channel = ?", filter.Channel)
		}
		if filter.Verified != nil {
			if *filter.Verified {
				w.add("verified_at IS NOT NULL")
			} else {
				w.add("verified_at IS NULL")
			}
		}
		if filter.NotifyToday != nil {
			w.add("notify_today = ?", *filter.NotifyToday)
		}
		if filter.NotifySoon != nil {
			w.add("notify_soon = ?", *filter.NotifySoon)
		}
		if !filter.CreatedFrom.IsZero() {
			w.add("created_at >= ?", filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			w.add("created_at <= ?", filter.CreatedTo.UTC())
		}
	}

	q := rebind(`SELECT ` + subscriberColumns + ` FROM subscriber` + w.String() +
		` ORDER BY ` + core.OrderBy(ordering, subscriberOrderColumns, "created_at ASC"))
	var rows []subscriberRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying subscribers")
	}
	subs := make([]subscriber.Subscriber, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, r.subscriber())
	}
	return subs, nil
}

func (repo subscriberRepository) GetSubscriber(ctx context.Context, filter subscriber.GetFilter) (subscriber.Subscriber, error) {
	var w where
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return subscriber.Subscriber{}, subscriber.ErrNotFound
		}
		w.add("id = ?", filter.ID)
	case filter.Channel != "":
		w.add("channel = ? AND address = ?", filter.Channel, filter.Address)
	case filter.UnsubscribeToken != "":
		w.add("unsubscribe_token = ?", filter.UnsubscribeToken)
	default:
		return subscriber.Subscriber{}, subscriber.ErrNotFound
	}

	var r subscriberRow
	q := rebind(`SELECT ` + subscriberColumns + ` FROM subscriber` + w.String())
	if err := sqlx.GetContext(ctx, repo.db, &r, q, w.args...); err != nil {
		return subscriber.Subscriber{}, trapNoRowsErr(err, subscriber.ErrNotFound, "getting subscriber")
	}
	return r.subscriber(), nil
}

func (repo subscriberRepository) UpdateSubscriber(ctx context.Context, sub subscriber.Subscriber) (subscriber.Subscriber, error) {
	q := `UPDATE subscriber SET channel = :channel, address = :address, notify_today = :notify_today,
		notify_soon = :notify_soon, verified_at = :verified_at, verification_code = :verification_code,
		code_expires_at = :code_expires_at, code_attempts = :code_attempts, unsubscribe_token = :unsubscribe_token,
		updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.db, q, toSubscriberRow(sub))
	if err != nil {
		if pqErrorCode(err) == uniqueViolation {
			return subscriber.Subscriber{}, subscriber.ErrExists
		}
		return subscriber.Subscriber{}, errors.Wrap(err, "updating subscriber")
	}
	if n, err := rowsAffected(res); err != nil {
		return subscriber.Subscriber{}, errors.Wrap(err, "updating subscriber")
	} else if n == 0 {
		return subscriber.Subscriber{}, subscriber.ErrNotFound
	}
	return sub, nil
}

func (repo subscriberRepository) DeleteSubscribersByID(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := repo.db.ExecContext(ctx, `DELETE FROM subscriber WHERE id::text = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "deleting subscribers")
	}
	return rowsAffected(res)
}
