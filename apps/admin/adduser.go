package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/user"
)

// addUser updates or creates an active admin user.User
func (cli *commandLine) addUser(ctx context.Context, name, uname, email, pwd string, owner bool) error {
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	now := user.NowFunc().UTC()

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: uname})
	created := errors.Cause(err) == user.ErrNotFound
	switch {
	case created:
		usr = user.User{Username: uname, CreatedAt: now}
	case err != nil:
		return err
	}

	if name = core.CleanString(name); name != "" {
		usr.Name = name
	}
	usr.Email = email
	usr.IsActive = true
	usr.Roles = []string{user.RoleAdmin}
	if owner {
		usr.Roles = []string{user.RoleAdminOwner}
	}
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}

	if created {
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	} else {
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
	}
	if err != nil {
		return err
	}
	action := "updated"
	if created {
		action = "created"
	}
	fmt.Fprintf(cli.out, "user %q %s\n", uname, action)
	return nil
}
