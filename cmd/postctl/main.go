// Command postctl inspects and edits the post store from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/debemdeboas/postdeck/internal/config"
	"github.com/debemdeboas/postdeck/internal/db"
	"github.com/debemdeboas/postdeck/internal/logger"
	"github.com/debemdeboas/postdeck/internal/publish"
	"github.com/debemdeboas/postdeck/internal/publisher"
	"github.com/debemdeboas/postdeck/internal/repository"
	"github.com/debemdeboas/postdeck/internal/scheduler"
	"github.com/debemdeboas/postdeck/internal/toolbar"
)

func main() {
	config.LoadEnv()
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "postctl",
		Usage: "Manage postdeck clients and posts",
		Description: `Works directly on the SQLite store named in the config file, so it can
		run next to the server or against a copy of its database.

		The agency can be set with POSTDECK_AGENCY.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to the config file",
				EnvVars: []string{"POSTDECK_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "agency",
				Aliases: []string{"a"},
				Usage:   "Agency (user id) that owns the clients",
				EnvVars: []string{"POSTDECK_AGENCY"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
				Usage: "Log level",
			},
		},
		Before: func(ctx *cli.Context) error {
			l := logger.New(ctx.String("log-level"), "console")
			setLoggers(l)
			return nil
		},
		Commands: []*cli.Command{
			postsCmd(),
			showCmd(),
			createCmd(),
			importCmd(),
			scheduleCmd(),
			clientCmd(),
			dueCmd(),
			tickCmd(),
		},
	}
}

func setLoggers(l zerolog.Logger) {
	config.SetLogger(l)
	db.SetLogger(l)
	repository.SetLogger(l)
	publish.SetLogger(l)
	publisher.SetLogger(l)
	scheduler.SetLogger(l)
	toolbar.SetLogger(l)
}
