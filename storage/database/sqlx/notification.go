package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/notification"
)

type markRow struct {
	Day        time.Time `db:"day"`
	Kind       string    `db:"kind"`
	Recipients int       `db:"recipients"`
	SentAt     time.Time `db:"sent_at"`
}

func (r markRow) mark() notification.Mark {
	return notification.Mark{
		Day:        r.Day.Format(core.DateLayout),
		Kind:       r.Kind,
		Recipients: r.Recipients,
		SentAt:     r.SentAt.UTC(),
	}
}

type notificationRepository struct {
	db sqlx.ExtContext
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db sqlx.ExtContext) notification.Repository {
	return &notificationRepository{db: db}
}

func (repo notificationRepository) CreateMark(ctx context.Context, m notification.Mark) error {
	res, err := repo.db.ExecContext(ctx,
		`INSERT INTO notification_mark (day, kind, recipients, sent_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (day, kind) DO NOTHING`,
		m.Day, m.Kind, m.Recipients, m.SentAt.UTC())
	if err != nil {
		return errors.Wrap(err, "inserting notification mark")
	}
	n, err := rowsAffected(res)
	if err != nil {
		return errors.Wrap(err, "inserting notification mark")
	}
	if n == 0 {
		return notification.ErrMarked
	}
	return nil
}

func (repo notificationRepository) SetMarkRecipients(ctx context.Context, day, kind string, recipients int) error {
	_, err := repo.db.ExecContext(ctx,
		`UPDATE notification_mark SET recipients = $3 WHERE day = $1 AND kind = $2`, day, kind, recipients)
	return errors.Wrap(err, "updating notification mark")
}

func (repo notificationRepository) QueryMarks(ctx context.Context, filter notification.MarkFilter) ([]notification.Mark, error) {
	var w where
	if filter.From != "" {
		w.add("day >= ?", filter.From)
	}
	if filter.To != "" {
		w.add("day <= ?", filter.To)
	}
	q := rebind(`SELECT day, kind, recipients, sent_at FROM notification_mark` + w.String() + ` ORDER BY day DESC, kind ASC`)
	var rows []markRow
	if err := sqlx.SelectContext(ctx, repo.db, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying notification marks")
	}
	marks := make([]notification.Mark, 0, len(rows))
	for _, r := range rows {
		marks = append(marks, r.mark())
	}
	return marks, nil
}
