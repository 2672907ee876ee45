package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli"

	"github.com/tani-shi/assetbundle-manager/cmd/common"
	"github.com/tani-shi/assetbundle-manager/pkg/credman/keyring"
)

var errCredsUsage = errors.New("expected a host and a user")

var (
	credPassword string

	credsSetFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "password, p",
			Usage:       "password to store; read from stdin when omitted",
			Destination: &credPassword,
		},
	}
)

// credStore is the part of the keyring the creds commands use.
type credStore interface {
	Set(host, user, password string) error
	Delete(host string) error
}

var newCredStore = func() credStore { return keyring.NewKeyring() }

func credsSet(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if ctx.NArg() != 2 {
		return common.PrintErrWithCmdHelp(ctx, errCredsUsage)
	}
	host, user := ctx.Args().Get(0), ctx.Args().Get(1)
	password := credPassword
	if !ctx.IsSet("password") {
		var err error
		password, err = readPassword(os.Stdin)
		if err != nil {
			return fmt.Errorf("creds: %w", err)
		}
	}
	if err := newCredStore().Set(host, user, password); err != nil {
		return fmt.Errorf("creds: %w", err)
	}
	fmt.Printf("stored login for %s\n", host)
	return nil
}

func credsDelete(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if ctx.NArg() != 1 {
		return common.PrintErrWithCmdHelp(ctx, errors.New("expected a host"))
	}
	host := ctx.Args().First()
	err := newCredStore().Delete(host)
	if errors.Is(err, keyring.ErrNotFound) {
		fmt.Printf("no login stored for %s\n", host)
		return nil
	}
	if err != nil {
		return fmt.Errorf("creds: %w", err)
	}
	fmt.Printf("deleted login for %s\n", host)
	return nil
}

// readPassword reads one line from r.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
