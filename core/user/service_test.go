package user_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/user"
	emailsvc "github.com/trezcool/kickoff/services/email"
	inmemdb "github.com/trezcool/kickoff/storage/database/inmem"
	"github.com/trezcool/kickoff/testutil"
)

const pwd = "Tr0mb0ne-Sunset"

func setup(t *testing.T) (user.Repository, *user.Service, *emailsvc.ConsoleServiceMock) {
	t.Helper()
	repo := inmemdb.NewUserRepository(inmemdb.Open())
	mail := emailsvc.NewConsoleServiceMock()
	return repo, user.NewService(repo, mail), mail
}

func TestService_CheckUniqueness(t *testing.T) {
	repo, svc, _ := setup(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, repo, "Manager", "gaffer", "gaffer@example.com", pwd, nil, true)

	fieldOf := func(err error) string {
		var vErr *core.ValidationError
		require.ErrorAs(t, err, &vErr)
		return vErr.Fields[0].Field
	}
	assert.Equal(t, "username", fieldOf(svc.CheckUniqueness(ctx, "gaffer", "other@example.com")))
	assert.Equal(t, "email", fieldOf(svc.CheckUniqueness(ctx, "other", "gaffer@example.com")))
	assert.NoError(t, svc.CheckUniqueness(ctx, "gaffer", "gaffer@example.com", usr))
	assert.NoError(t, svc.CheckUniqueness(ctx, "other", "other@example.com"))
}

func TestService_Create(t *testing.T) {
	_, svc, _ := setup(t)
	ctx := context.Background()

	usr, err := svc.Create(ctx, user.NewUser{Name: "Manager", Username: "gaffer", Email: "gaffer@example.com", Password: pwd})
	require.NoError(t, err)
	assert.NotEmpty(t, usr.ID)
	assert.True(t, usr.IsActive)
	assert.Equal(t, []string{user.RoleAdmin}, usr.Roles)
	assert.NoError(t, usr.CheckPassword(pwd))

	found, err := svc.GetByUsernameOrEmail(ctx, " GAFFER@example.com ")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, found.ID)
}

func TestService_Update(t *testing.T) {
	repo, svc, _ := setup(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, repo, "Manager", "gaffer", "gaffer@example.com", pwd, []string{user.RoleAdmin}, true)

	inactive := false
	updated, err := svc.Update(ctx, usr, user.UpdateUser{
		Name:     "Head Coach",
		Username: "coach",
		Email:    usr.Email,
		IsActive: &inactive,
		Roles:    []string{user.RoleAdminOwner},
		Password: "N3w-Passphrase",
	})
	require.NoError(t, err)
	assert.Equal(t, "Head Coach", updated.Name)
	assert.Equal(t, "coach", updated.Username)
	assert.False(t, updated.IsActive)
	assert.True(t, updated.IsOwner())
	assert.NoError(t, updated.CheckPassword("N3w-Passphrase"))

	updated, err = svc.SetPassword(ctx, "coach", pwd)
	require.NoError(t, err)
	assert.NoError(t, updated.CheckPassword(pwd))

	_, err = svc.SetPassword(ctx, "nobody", pwd)
	assert.Equal(t, user.ErrNotFound, err)
}

func TestService_PasswordReset(t *testing.T) {
	repo, svc, mail := setup(t)
	ctx := context.Background()
	now := time.Date(2025, 8, 16, 10, 0, 0, 0, time.UTC)
	user.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { user.NowFunc = time.Now })

	usr := testutil.CreateUser(t, repo, "Manager", "gaffer", "gaffer@example.com", pwd, nil, true)
	testutil.CreateUser(t, repo, "Former", "former", "former@example.com", pwd, nil, false)

	assert.Equal(t, user.ErrNotFound, svc.RequestPasswordReset(ctx, "former@example.com"))
	assert.Equal(t, user.ErrNotFound, svc.RequestPasswordReset(ctx, "nobody@example.com"))
	assert.Empty(t, mail.SentMessages())

	require.NoError(t, svc.RequestPasswordReset(ctx, "Gaffer@Example.com"))
	sent := mail.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "password_reset", sent[0].TemplateName)
	assert.Contains(t, sent[0].TextContent, "Hi Manager,")

	link, err := url.Parse(sent[0].TemplateData.(map[string]interface{})["URL"].(string))
	require.NoError(t, err)
	uid, token := link.Query().Get("uid"), link.Query().Get("token")

	reset := func(uid, token string) error {
		return svc.ResetPassword(ctx, user.ResetUserPassword{UID: uid, Token: token, Password: "N3w-Passphrase"})
	}
	assert.True(t, core.IsValidationError(reset(core.EncodeUID("missing"), token)))
	assert.True(t, core.IsValidationError(reset(uid, "bad-token")))

	require.NoError(t, reset(uid, token))
	usr, err = svc.GetByID(ctx, usr.ID)
	require.NoError(t, err)
	assert.NoError(t, usr.CheckPassword("N3w-Passphrase"))

	// the token dies with the old password
	assert.True(t, core.IsValidationError(reset(uid, token)))

	// and expires
	require.NoError(t, svc.RequestPasswordReset(ctx, "gaffer@example.com"))
	link, err = url.Parse(mail.SentMessages()[1].TemplateData.(map[string]interface{})["URL"].(string))
	require.NoError(t, err)
	now = now.Add(core.Conf.Server.PasswordResetTimeoutDelta + 24*time.Hour)
	assert.True(t, core.IsValidationError(reset(link.Query().Get("uid"), link.Query().Get("token"))))
}

func TestService_Query(t *testing.T) {
	repo, svc, _ := setup(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	owner := testutil.CreateUser(t, repo, "Owner", "owner", "owner@example.com", pwd, []string{user.RoleAdminOwner}, true, base)
	admin := testutil.CreateUser(t, repo, "Admin", "admin", "admin@example.com", pwd, []string{user.RoleAdmin}, true, base.Add(time.Hour))
	idle := testutil.CreateUser(t, repo, "Idle", "idle", "idle@example.com", pwd, []string{user.RoleAdmin}, false, base.Add(2*time.Hour))

	ids := func(usrs []user.User) []string {
		res := make([]string, 0, len(usrs))
		for _, u := range usrs {
			res = append(res, u.ID)
		}
		return res
	}

	usrs, err := svc.Query(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{owner.ID, admin.ID, idle.ID}, ids(usrs))

	usrs, err = svc.Query(ctx, &user.QueryFilter{IsActive: core.BoolPtr(true)}, []core.DBOrdering{{Field: "created_at"}})
	require.NoError(t, err)
	assert.Equal(t, []string{admin.ID, owner.ID}, ids(usrs))

	usrs, err = svc.Query(ctx, &user.QueryFilter{Roles: []string{user.RoleAdminOwner}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{owner.ID}, ids(usrs))

	usrs, err = svc.Query(ctx, &user.QueryFilter{Search: "IDLE"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{idle.ID}, ids(usrs))

	n, err := svc.Delete(ctx, admin.ID, idle.ID, "missing")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
