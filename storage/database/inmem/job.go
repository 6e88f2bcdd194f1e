package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/kickoff/core/job"
)

type jobRepository struct {
	db *jobTable
}

var _ job.Repository = (*jobRepository)(nil)

func NewJobRepository(db *DB) job.Repository {
	return &jobRepository{db: db.job}
}

// pendingKeyTaken must be called with the lock held.
func (repo *jobRepository) pendingKeyTaken(j job.Job) bool {
	if j.DedupeKey == "" || j.Status != job.StatusPending {
		return false
	}
	for _, o := range repo.db.table {
		if o.ID != j.ID && o.Status == job.StatusPending && o.DedupeKey == j.DedupeKey {
			return true
		}
	}
	return false
}

func (repo *jobRepository) CreateJob(_ context.Context, j job.Job) (job.Job, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.pendingKeyTaken(j) {
		return job.Job{}, job.ErrDuplicate
	}
	j.ID = newID()
	if j.Version == 0 {
		j.Version = 1
	}
	repo.db.table[j.ID] = &j
	return j, nil
}

func (repo *jobRepository) DueJobs(_ context.Context, now time.Time, limit int) ([]job.Job, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	jobs := make([]job.Job, 0)
	for _, j := range repo.db.table {
		if j.IsDue(now) {
			jobs = append(jobs, *j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].RunAt.Equal(jobs[k].RunAt) {
			return jobs[i].RunAt.Before(jobs[k].RunAt)
		}
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (repo *jobRepository) UpdateJob(_ context.Context, j job.Job) (job.Job, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.table[j.ID]
	if !ok {
		return job.Job{}, job.ErrNotFound
	}
	if stored.Version != j.Version {
		return job.Job{}, job.ErrConflict
	}
	if repo.pendingKeyTaken(j) {
		return job.Job{}, job.ErrDuplicate
	}
	j.Version++
	repo.db.table[j.ID] = &j
	return j, nil
}

func (repo *jobRepository) QueryJobs(_ context.Context, filter job.QueryFilter) ([]job.Job, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	jobs := make([]job.Job, 0)
	for _, j := range repo.db.table {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && j.Kind != filter.Kind {
			continue
		}
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].UpdatedAt.After(jobs[k].UpdatedAt) })
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

func (repo *jobRepository) GetJob(_ context.Context, id string) (job.Job, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if j, ok := repo.db.table[id]; ok {
		return *j, nil
	}
	return job.Job{}, job.ErrNotFound
}
