package main

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
)

var log = logging.Logger("blindbid")

func newApp() *cli.App {
	return &cli.App{
		Name:  "blindbid",
		Usage: "sealed-bid auction tooling",
		Commands: []*cli.Command{
			cmdCommit,
			cmdVerify,
			cmdToken,
			cmdMigrate,
		},
	}
}

func main() {
	if err := logging.SetLogLevel("*", "info"); err != nil {
		log.Fatal(err)
	}
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
