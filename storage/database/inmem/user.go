package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/user"
)

type userRepository struct {
	db *userTable
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db.user}
}

func (repo *userRepository) all() []user.User {
	users := make([]user.User, 0, len(repo.db.table))
	for _, u := range repo.db.table {
		users = append(users, *u)
	}
	return users
}

func (repo *userRepository) CheckUsernameUniqueness(_ context.Context, username, email string, excludedUsers ...user.User) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	excluded := make([]user.User, len(excludedUsers))
	copy(excluded, excludedUsers)
	sort.Slice(excluded, func(i, j int) bool { return excluded[i].ID < excluded[j].ID })

	for _, usr := range repo.all() {
		if isExcluded(usr, excluded) {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	usr.ID = newID()
	repo.db.table[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	users := make([]user.User, 0)
	for _, usr := range repo.all() {
		if filter == nil || matchUser(usr, filter) {
			users = append(users, usr)
		}
	}
	sortUsers(users, ordering)
	return users, nil
}

func matchUser(usr user.User, filter *user.QueryFilter) bool {
	if filter.Search != "" {
		search := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(usr.Name), search) &&
			!strings.Contains(usr.Username, search) &&
			!strings.Contains(usr.Email, search) {
			return false
		}
	}
	if len(filter.Roles) > 0 {
		var found bool
		for _, role := range filter.Roles {
			if usr.RoleStartsWith(role) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
		return false
	}
	if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	return true
}

func sortUsers(users []user.User, ordering []core.DBOrdering) {
	less := func(a, b user.User, field string) (bool, bool) {
		switch field {
		case "name":
			return a.Name < b.Name, a.Name == b.Name
		case "username":
			return a.Username < b.Username, a.Username == b.Username
		case "email":
			return a.Email < b.Email, a.Email == b.Email
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		case "last_login":
			return a.LastLogin.Before(b.LastLogin), a.LastLogin.Equal(b.LastLogin)
		}
		return false, true
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: true}}
	}
	sort.SliceStable(users, func(i, j int) bool {
		for _, ord := range ordering {
			lt, eq := less(users[i], users[j], ord.Field)
			if eq {
				continue
			}
			return lt == ord.Ascending
		}
		return false
	})
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.db.table[filter.ID]; ok {
			return *usr, nil
		}
		return user.User{}, user.ErrNotFound
	}
	for _, usr := range repo.all() {
		switch {
		case filter.Username != "" && usr.Username == filter.Username,
			filter.Email != "" && usr.Email == filter.Email,
			filter.UsernameOrEmail != "" && (usr.Username == filter.UsernameOrEmail || usr.Email == filter.UsernameOrEmail):
			return usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	repo.db.table[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) DeleteUsersByID(_ context.Context, ids ...string) (int, error) {
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

// isExcluded expects excludedUsers sorted by ID.
func isExcluded(usr user.User, excludedUsers []user.User) bool {
	n := len(excludedUsers)
	if n == 0 {
		return false
	}
	idx := sort.Search(n, func(i int) bool { return excludedUsers[i].ID >= usr.ID })
	return idx < n && excludedUsers[idx].ID == usr.ID
}
