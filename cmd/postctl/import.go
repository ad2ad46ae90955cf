package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/debemdeboas/postdeck/internal/model"
	"github.com/debemdeboas/postdeck/internal/publish"
	"github.com/debemdeboas/postdeck/internal/publisher"
	"github.com/debemdeboas/postdeck/internal/toolbar"
)

var importExts = []string{".md", ".txt"}

func importCmd() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Create one draft per .md or .txt file in a directory",
		Description: `The file name becomes the title. A leading "# Heading" line
		overrides it and is dropped from the content.`,
		ArgsUsage: "<dir>",
		Flags:     []cli.Flag{clientFlag()},
		Action: withStore(func(ctx *cli.Context, s *store) error {
			agency, err := agencyFlag(ctx)
			if err != nil {
				return err
			}
			if ctx.NArg() != 1 {
				return errors.New("expected exactly one directory")
			}
			dir := ctx.Args().First()
			entries, err := os.ReadDir(dir)
			if err != nil {
				return err
			}

			var errs []error
			imported := 0
			for _, entry := range entries {
				ext := filepath.Ext(entry.Name())
				if entry.IsDir() || !hasExt(ext) {
					continue
				}
				data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
				if err != nil {
					errs = append(errs, err)
					continue
				}
				title, content := splitTitle(strings.TrimSuffix(entry.Name(), ext), string(data))
				post, err := s.repo.CreatePost(ctx.Context, agency, model.ClientID(ctx.String("client")), title, content)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", entry.Name(), err))
					continue
				}
				imported++
				fmt.Fprintln(ctx.App.Writer, okStyle.Render("Imported "+entry.Name())+" "+labelStyle.Render(string(post.ID)))
			}
			fmt.Fprintln(ctx.App.Writer, field("Imported", fmt.Sprint(imported)))
			return errors.Join(errs...)
		}),
	}
}

func hasExt(ext string) bool {
	for _, e := range importExts {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

func splitTitle(name, data string) (title, content string) {
	data = strings.TrimRight(strings.ReplaceAll(data, "\r\n", "\n"), "\n")
	first, rest, _ := strings.Cut(data, "\n")
	if heading, ok := strings.CutPrefix(first, "# "); ok && strings.TrimSpace(heading) != "" {
		return strings.TrimSpace(heading), strings.TrimLeft(rest, "\n")
	}
	return name, data
}

// timeFormats are tried in order. Times without a zone are read in loc.
var timeFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, format := range timeFormats {
		if t, err := time.ParseInLocation(format, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(d).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q, use RFC 3339, \"2006-01-02 15:04\" or a duration like 2h", s)
}

func scheduleCmd() *cli.Command {
	return &cli.Command{
		Name:      "schedule",
		Usage:     "Schedule or reschedule a post",
		ArgsUsage: "<post-id>",
		Flags: []cli.Flag{
			clientFlag(),
			&cli.StringFlag{Name: "at", Usage: `When to publish: RFC 3339, "2006-01-02 15:04" or a duration from now`, Required: true},
			&cli.StringFlag{Name: "tz", Value: "UTC", Usage: "Time zone for times without one"},
		},
		Action: withStore(func(ctx *cli.Context, s *store) error {
			agency, err := agencyFlag(ctx)
			if err != nil {
				return err
			}
			if ctx.NArg() != 1 {
				return errors.New("expected exactly one post id")
			}
			loc, err := time.LoadLocation(ctx.String("tz"))
			if err != nil {
				return err
			}
			at, err := parseTime(ctx.String("at"), loc)
			if err != nil {
				return err
			}

			key := model.PostKey{Agency: agency, Client: model.ClientID(ctx.String("client")), Post: model.PostID(ctx.Args().First())}
			post, err := s.repo.ReadPost(ctx.Context, key)
			if err != nil {
				return err
			}

			// Scheduling never reaches the publisher.
			coord := publish.NewCoordinator(s.repo, publisher.DryRun{}, publish.Options{
				RetryInitial:    s.cfg.Storage.Retry.Initial,
				RetryMaxElapsed: s.cfg.Storage.Retry.MaxElapsed,
			})
			draft := model.Snapshot{Content: post.Content, Attachment: post.Attachment}
			if _, err := coord.Schedule(ctx.Context, key, draft, at); err != nil {
				return errors.New(toolbar.Describe(err))
			}
			fmt.Fprintln(ctx.App.Writer, okStyle.Render("Scheduled "+string(key.Post)+" for "+formatTime(&at)))
			return nil
		}),
	}
}
