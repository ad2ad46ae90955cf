package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/debemdeboas/postdeck/internal/config"
	"github.com/debemdeboas/postdeck/internal/model"
	"github.com/debemdeboas/postdeck/internal/notify"
	"github.com/debemdeboas/postdeck/internal/publish"
	"github.com/debemdeboas/postdeck/internal/publisher"
	"github.com/debemdeboas/postdeck/internal/repository"
	"github.com/debemdeboas/postdeck/internal/scheduler"
)

func clientFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "client",
		Aliases:  []string{"C"},
		Usage:    "Client id",
		Required: true,
	}
}

func postsCmd() *cli.Command {
	return &cli.Command{
		Name:  "posts",
		Usage: "List a client's posts, newest first",
		Flags: []cli.Flag{clientFlag()},
		Action: withStore(func(ctx *cli.Context, s *store) error {
			agency, err := agencyFlag(ctx)
			if err != nil {
				return err
			}
			posts, err := s.repo.ListPosts(ctx.Context, agency, model.ClientID(ctx.String("client")))
			if err != nil {
				return fmt.Errorf(config.ErrListPostsFmt, err)
			}
			if len(posts) == 0 {
				fmt.Fprintln(ctx.App.Writer, labelStyle.Render("No posts yet."))
				return nil
			}
			fmt.Fprintln(ctx.App.Writer, postsTable(posts))
			return nil
		}),
	}
}

func showCmd() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a post's status and feed excerpt",
		ArgsUsage: "<post-id>",
		Flags:     []cli.Flag{clientFlag()},
		Action: withStore(func(ctx *cli.Context, s *store) error {
			agency, err := agencyFlag(ctx)
			if err != nil {
				return err
			}
			if ctx.NArg() != 1 {
				return errors.New("expected exactly one post id")
			}
			key := model.PostKey{Agency: agency, Client: model.ClientID(ctx.String("client")), Post: model.PostID(ctx.Args().First())}
			post, err := s.repo.ReadPost(ctx.Context, key)
			if err != nil {
				return err
			}
			fmt.Fprintln(ctx.App.Writer, postDetail(post))
			return nil
		}),
	}
}

func createCmd() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a draft from a file",
		Flags: []cli.Flag{
			clientFlag(),
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Post title"},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: `Content file, "-" for stdin`, Required: true},
		},
		Action: withStore(func(ctx *cli.Context, s *store) error {
			agency, err := agencyFlag(ctx)
			if err != nil {
				return err
			}
			content, err := readContent(ctx, ctx.String("file"))
			if err != nil {
				return err
			}
			post, err := s.repo.CreatePost(ctx.Context, agency, model.ClientID(ctx.String("client")), ctx.String("title"), content)
			if err != nil {
				return err
			}
			fmt.Fprintln(ctx.App.Writer, okStyle.Render("Created draft "+string(post.ID)))
			return nil
		}),
	}
}

func readContent(ctx *cli.Context, path string) (string, error) {
	var r io.Reader = ctx.App.Reader
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func clientCmd() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "Create or update a client and its LinkedIn profile",
		Flags: []cli.Flag{
			clientFlag(),
			&cli.StringFlag{Name: "name", Usage: "Display name"},
			&cli.StringFlag{Name: "profile", Aliases: []string{"p"}, Usage: "LinkedIn profile id or URN", Required: true},
		},
		Action: withStore(func(ctx *cli.Context, s *store) error {
			agency, err := agencyFlag(ctx)
			if err != nil {
				return err
			}
			client := &model.Client{
				ID:        model.ClientID(ctx.String("client")),
				Agency:    agency,
				Name:      ctx.String("name"),
				ProfileID: model.ProfileID(ctx.String("profile")),
			}
			if err := s.repo.SaveClient(ctx.Context, client); err != nil {
				return err
			}
			fmt.Fprintln(ctx.App.Writer, okStyle.Render("Saved client "+string(client.ID)))
			return nil
		}),
	}
}

func dueCmd() *cli.Command {
	return &cli.Command{
		Name:  "due",
		Usage: "List scheduled posts that are due, across all agencies",
		Action: withStore(func(ctx *cli.Context, s *store) error {
			due, err := s.repo.DuePosts(ctx.Context, time.Now())
			if err != nil {
				return fmt.Errorf(config.ErrListPostsFmt, err)
			}
			if len(due) == 0 {
				fmt.Fprintln(ctx.App.Writer, labelStyle.Render("Nothing is due."))
				return nil
			}
			fmt.Fprintln(ctx.App.Writer, postsTable(due))
			return nil
		}),
	}
}

func tickCmd() *cli.Command {
	return &cli.Command{
		Name:  "tick",
		Usage: "Publish every due post once, like one scheduler pass",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Log instead of calling LinkedIn"},
		},
		Action: withStore(func(ctx *cli.Context, s *store) error {
			media, err := repository.NewFSMediaRepository(s.cfg.Media.Dir)
			if err != nil {
				return fmt.Errorf(config.ErrCreateMediaStoreFmt, err)
			}

			var pub publisher.Publisher = publisher.DryRun{}
			if !ctx.Bool("dry-run") && !s.cfg.LinkedIn.DryRun {
				if s.cfg.Secrets.LinkedInToken == "" {
					return fmt.Errorf("%s is not set, use --dry-run", config.EnvLinkedInToken)
				}
				pub = publisher.NewLinkedIn(s.cfg.LinkedIn.BaseURL, s.cfg.Secrets.LinkedInToken, s.cfg.LinkedIn.Version, media)
			}

			coord := publish.NewCoordinator(s.repo, pub, publish.Options{
				RetryInitial:    s.cfg.Storage.Retry.Initial,
				RetryMaxElapsed: s.cfg.Storage.Retry.MaxElapsed,
			})
			report := func(key model.PostKey) notify.Notifier {
				return notify.Func(func(n notify.Notification) {
					style := okStyle
					if n.Kind == notify.Error {
						style = errorStyle
					}
					fmt.Fprintln(ctx.App.Writer, style.Render(n.Title)+" "+labelStyle.Render(key.String())+" "+n.Message)
				})
			}

			n := scheduler.New(s.repo, coord, report, 0).Tick(ctx.Context)
			fmt.Fprintln(ctx.App.Writer, field("Published", fmt.Sprint(n)))
			return nil
		}),
	}
}
