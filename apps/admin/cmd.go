package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/kickoff/core/fixture"
	"github.com/trezcool/kickoff/core/notification"
	"github.com/trezcool/kickoff/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sql.DB
	usrRepo    user.Repository
	fixtureSvc *fixture.Service
	notifSvc   *notification.Service
	out        io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  adduser -username USERNAME -email EMAIL [-name NAME] [-owner] - add or update an admin user")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Fprintln(cli.out, "  importfixtures -file PATH - import fixtures from a CSV file")
	fmt.Fprintln(cli.out, "  checkfixtures - run a notification check now")
}

// promptPassword reads a password without echoing it.
func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	return string(pwd), err
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserUname := addUserCmd.String("username", "", "The user's username. The password will be prompted next.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserOwner := addUserCmd.Bool("owner", false, "Grant the owner role (can manage admin users).")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	importFixturesCmd := flag.NewFlagSet("importfixtures", flag.ContinueOnError)
	importFixturesFile := importFixturesCmd.String("file", "", "Path of the CSV file.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(ctx, *addUserName, *addUserUname, *addUserEmail, pwd, *addUserOwner)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(ctx, *resetPasswordUname, pwd)

	case "importfixtures":
		if err := importFixturesCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *importFixturesFile == "" {
			importFixturesCmd.Usage()
			return errHelp
		}
		return cli.importFixtures(ctx, *importFixturesFile)

	case "checkfixtures":
		return cli.checkFixtures(ctx)

	default:
		cli.printUsage()
		return errHelp
	}
}
