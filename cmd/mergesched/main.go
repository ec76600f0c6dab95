package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "mergesched"
	app.HelpName = "mergesched"
	app.Usage = "weekly document-merge scheduler with powered-off catch-up"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to config file (json or yaml)",
			Value: "./config.json",
		},
	}
	app.Commands = []cli.Command{
		addCommand,
		removeCommand,
		listCommand,
		runCommand,
		daemonCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "mergesched: %s\n", err)
		os.Exit(1)
	}
}
