package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/debemdeboas/postdeck/internal/config"
	"github.com/debemdeboas/postdeck/internal/db"
	"github.com/debemdeboas/postdeck/internal/model"
	"github.com/debemdeboas/postdeck/internal/repository"
	"github.com/debemdeboas/postdeck/internal/util/compression"
)

type store struct {
	cfg  *config.Config
	repo *repository.DBPostRepository
	db   *db.SQLite
}

func (s *store) Close() error { return s.db.Close() }

func openStore(ctx *cli.Context) (*store, error) {
	cfg, err := config.LoadConfig(ctx.String("config"))
	if err != nil {
		return nil, fmt.Errorf(config.ErrLoadConfigFmt, err)
	}
	if cfg.Storage.Driver != "sqlite" {
		return nil, fmt.Errorf("postctl needs the sqlite store, config uses %q", cfg.Storage.Driver)
	}

	compressor, err := compression.ByName(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}

	sqlite := db.NewSQLite(cfg.Storage.Path)
	if err := sqlite.InitDb(); err != nil {
		return nil, fmt.Errorf(config.ErrInitializeDatabaseFmt, err)
	}
	repo := repository.NewDBPostRepository(sqlite, compressor)
	if err := repo.Init(ctx.Context); err != nil {
		return nil, errors.Join(fmt.Errorf(config.ErrInitializeDatabaseFmt, err), sqlite.Close())
	}
	return &store{cfg: cfg, repo: repo, db: sqlite}, nil
}

func agencyFlag(ctx *cli.Context) (model.AgencyID, error) {
	agency := ctx.String("agency")
	if agency == "" {
		return "", errors.New("--agency is required")
	}
	return model.AgencyID(agency), nil
}

// withStore opens the store for one command and closes it afterwards.
func withStore(fn func(ctx *cli.Context, s *store) error) cli.ActionFunc {
	return func(ctx *cli.Context) (err error) {
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, s.Close())
		}()
		return fn(ctx, s)
	}
}
