package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/sudo-init-do/blindbid/internal/commitment"
)

var cmdCommit = &cli.Command{
	Name:  "commit",
	Usage: "Print the commitment to submit as a sealed bid",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "amount",
			Usage:    "bid amount in base units",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "secret",
			Usage: "reveal secret; a random one is generated when omitted",
		},
	},
	Action: func(cctx *cli.Context) error {
		amount, err := commitment.ParseAmount(cctx.String("amount"))
		if err != nil {
			return err
		}
		secret := cctx.String("secret")
		if secret == "" {
			buf := make([]byte, 16)
			if _, err := rand.Read(buf); err != nil {
				return err
			}
			secret = hex.EncodeToString(buf)
		}

		digest, err := commitment.Commit(amount, secret)
		if err != nil {
			return err
		}
		w := cctx.App.Writer
		fmt.Fprintf(w, "commitment: %s\n", digest)
		fmt.Fprintf(w, "amount:     %s\n", amount)
		fmt.Fprintf(w, "secret:     %s\n", secret)
		return nil
	},
}

var cmdVerify = &cli.Command{
	Name:  "verify",
	Usage: "Check that an amount and secret open a commitment",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "commitment", Required: true},
		&cli.StringFlag{Name: "amount", Required: true},
		&cli.StringFlag{Name: "secret", Required: true},
	},
	Action: func(cctx *cli.Context) error {
		digest, err := commitment.ParseDigest(cctx.String("commitment"))
		if err != nil {
			return err
		}
		amount, err := commitment.ParseAmount(cctx.String("amount"))
		if err != nil {
			return err
		}
		if !commitment.Verify(digest, amount, cctx.String("secret")) {
			return cli.Exit("mismatch", 1)
		}
		fmt.Fprintln(cctx.App.Writer, "ok")
		return nil
	},
}
