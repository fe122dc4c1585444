package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	mware "github.com/sudo-init-do/blindbid/internal/middleware"
)

var cmdToken = &cli.Command{
	Name:  "token",
	Usage: "Mint a development JWT",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "user",
			Usage:    "user id carried in the token",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "role",
			Value: mware.RoleUser,
		},
		&cli.DurationFlag{
			Name:  "ttl",
			Value: 72 * time.Hour,
		},
		&cli.StringFlag{
			Name:    "jwt-secret",
			EnvVars: []string{"JWT_SECRET"},
		},
	},
	Action: func(cctx *cli.Context) error {
		secret := cctx.String("jwt-secret")
		if secret == "" {
			secret = os.Getenv("JWT_SECRET")
		}
		if secret == "" {
			return errors.New("set --jwt-secret or JWT_SECRET")
		}
		tok, err := mware.IssueToken([]byte(secret), cctx.String("user"), cctx.String("role"), cctx.Duration("ttl"), time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cctx.App.Writer, tok)
		return nil
	},
}
