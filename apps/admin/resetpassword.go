package main

import (
	"context"

	"github.com/trezcool/kickoff/core"
	"github.com/trezcool/kickoff/core/user"
)

func (cli *commandLine) resetPassword(ctx context.Context, uname, pwd string) error {
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
	if err != nil {
		return err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = user.NowFunc().UTC()
	if _, err = cli.usrRepo.UpdateUser(ctx, usr); err != nil {
		return err
	}
	return nil
}
