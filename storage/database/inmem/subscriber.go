package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/subscriber"
)

type subscriberRepository struct {
	db *subscriberTable
}

var _ subscriber.Repository = (*subscriberRepository)(nil)

func NewSubscriberRepository(db *DB) subscriber.Repository {
	return &subscriberRepository{db: db.subscriber}
}

// taken must be called with the lock held.
func (repo *subscriberRepository) taken(sub subscriber.Subscriber) bool {
	for _, o := range repo.db.table {
		if o.ID == sub.ID {
			continue
		}
		if (o.Channel == sub.Channel && o.Address == sub.Address) || o.UnsubscribeToken == sub.UnsubscribeToken {
			return true
		}
	}
	return false
}

func (repo *subscriberRepository) CreateSubscriber(_ context.Context, sub subscriber.Subscriber) (subscriber.Subscriber, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.taken(sub) {
		return subscriber.Subscriber{}, subscriber.ErrExists
	}
	sub.ID = newID()
	repo.db.table[sub.ID] = &sub
	return sub, nil
}

func (repo *subscriberRepository) QuerySubscribers(_ context.Context, filter *subscriber.QueryFilter, ordering []core.DBOrdering) ([]subscriber.Subscriber, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	subs := make([]subscriber.Subscriber, 0)
	for _, sub := range repo.db.table {
		if filter == nil || matchSubscriber(*sub, filter) {
			subs = append(subs, *sub)
		}
	}
	sortSubscribers(subs, ordering)
	return subs, nil
}

func matchSubscriber(sub subscriber.Subscriber, filter *subscriber.QueryFilter) bool {
	if filter.Search != "" && !strings.Contains(strings.ToLower(sub.Address), strings.ToLower(filter.Search)) {
		return false
	}
	if filter.Channel != "" && sub.Channel != filter.Channel {
		return false
	}
	if filter.Verified != nil && sub.IsVerified() != *filter.Verified {
		return false
	}
	if filter.NotifyToday != nil && sub.NotifyToday != *filter.NotifyToday {
		return false
	}
	if filter.NotifySoon != nil && sub.NotifySoon != *filter.NotifySoon {
		return false
	}
	if !filter.CreatedFrom.IsZero() && sub.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && sub.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	return true
}

func sortSubscribers(subs []subscriber.Subscriber, ordering []core.DBOrdering) {
	less := func(a, b subscriber.Subscriber, field string) (bool, bool) {
		switch field {
		case "address":
			return a.Address < b.Address, a.Address == b.Address
		case "channel":
			return a.Channel < b.Channel, a.Channel == b.Channel
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		case "verified_at":
			return a.VerifiedAt.Before(b.VerifiedAt), a.VerifiedAt.Equal(b.VerifiedAt)
		}
		return false, true
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: true}}
	}
	sort.SliceStable(subs, func(i, j int) bool {
		for _, ord := range ordering {
			lt, eq := less(subs[i], subs[j], ord.Field)
			if eq {
				continue
			}
			return lt == ord.Ascending
		}
		return subs[i].ID < subs[j].ID
	})
}

func (repo *subscriberRepository) GetSubscriber(_ context.Context, filter subscriber.GetFilter) (subscriber.Subscriber, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, sub := range repo.db.table {
		if filter.Matches(*sub) {
			return *sub, nil
		}
	}
	return subscriber.Subscriber{}, subscriber.ErrNotFound
}

func (repo *subscriberRepository) UpdateSubscriber(_ context.Context, sub subscriber.Subscriber) (subscriber.Subscriber, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[sub.ID]; !ok {
		return subscriber.Subscriber{}, subscriber.ErrNotFound
	}
	if repo.taken(sub) {
		return subscriber.Subscriber{}, subscriber.ErrExists
	}
	repo.db.table[sub.ID] = &sub
	return sub, nil
}

func (repo *subscriberRepository) DeleteSubscribersByID(_ context.Context, ids ...string) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var deleted int
	for _, id := range ids {
		if _, ok := repo.db.table[id]; ok {
			delete(repo.db.table, id)
			deleted++
		}
	}
	return deleted, nil
}
