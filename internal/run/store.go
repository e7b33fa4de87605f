package run

import (
	"context"
	"fmt"

	"github.com/dtnitsch/sku-date-checker/models"
	"github.com/dtnitsch/sku-date-checker/pkg/db"
	"github.com/dtnitsch/sku-date-checker/pkg/pgsink"
	"github.com/dtnitsch/sku-date-checker/pkg/pipeline"
)

// resultStore records runs and hands out a sink per run.
type resultStore interface {
	CreateRun(ctx context.Context, sourcePath string) (string, error)
	FinishRun(ctx context.Context, runID, outcome string, c models.Counters) error
	Sink(runID string) pipeline.Store
	Location() string
	Close()
}

func openStore(ctx context.Context, cfg models.DatabaseConfig) (resultStore, error) {
	switch cfg.Driver {
	case models.DriverPostgres:
		s, err := pgsink.Open(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return postgresStore{s}, nil
	case models.DriverSQLite, "":
		database, err := db.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return sqliteStore{database}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

type sqliteStore struct {
	db *db.DB
}

func (s sqliteStore) CreateRun(_ context.Context, sourcePath string) (string, error) {
	return s.db.CreateRun(sourcePath)
}

func (s sqliteStore) FinishRun(_ context.Context, runID, outcome string, c models.Counters) error {
	return s.db.FinishRun(runID, outcome, c)
}

func (s sqliteStore) Sink(runID string) pipeline.Store { return s.db.NewSink(runID) }
func (s sqliteStore) Location() string                 { return s.db.Path() }
func (s sqliteStore) Close()                           { _ = s.db.Close() }

type postgresStore struct {
	s *pgsink.Store
}

func (p postgresStore) CreateRun(ctx context.Context, sourcePath string) (string, error) {
	return p.s.CreateRun(ctx, sourcePath)
}

func (p postgresStore) FinishRun(ctx context.Context, runID, outcome string, c models.Counters) error {
	return p.s.FinishRun(ctx, runID, outcome, c)
}

func (p postgresStore) Sink(runID string) pipeline.Store { return p.s.NewSink(runID) }
func (p postgresStore) Location() string                 { return "postgres" }
func (p postgresStore) Close()                           { p.s.Close() }
