package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/kickoff/core/notification"
)

type notificationRepository struct {
	db *markTable
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db *DB) notification.Repository {
	return &notificationRepository{db: db.mark}
}

func (repo *notificationRepository) CreateMark(_ context.Context, m notification.Mark) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := markKey{day: m.Day, kind: m.Kind}
	if _, ok := repo.db.table[key]; ok {
		return notification.ErrMarked
	}
	repo.db.table[key] = &m
	return nil
}

func (repo *notificationRepository) SetMarkRecipients(_ context.Context, day, kind string, recipients int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if m, ok := repo.db.table[markKey{day: day, kind: kind}]; ok {
		m.Recipients = recipients
	}
	return nil
}

func (repo *notificationRepository) QueryMarks(_ context.Context, filter notification.MarkFilter) ([]notification.Mark, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	marks := make([]notification.Mark, 0)
	for _, m := range repo.db.table {
		if filter.From != "" && m.Day < filter.From {
			continue
		}
		if filter.To != "" && m.Day > filter.To {
			continue
		}
		marks = append(marks, *m)
	}
	sort.Slice(marks, func(i, j int) bool {
		if marks[i].Day != marks[j].Day {
			return marks[i].Day > marks[j].Day
		}
		return marks[i].Kind < marks[j].Kind
	})
	return marks, nil
}
