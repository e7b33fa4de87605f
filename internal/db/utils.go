package db

import (
	"errors"
	"fmt"

	"github.com/dtnitsch/sku-date-checker/internal/common"
	dbpkg "github.com/dtnitsch/sku-date-checker/pkg/db"
	"github.com/urfave/cli/v2"
)

// openDatabase opens the SQLite database named by --db, the config file or
// SKU_CHECKER_DB_PATH.
func openDatabase(c *cli.Context) (*dbpkg.DB, error) {
	cfg, err := common.LoadConfig(c)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	database, err := dbpkg.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// GetRunIDOrLatest returns --run or the first argument, falling back to the
// latest run. With --all it returns "" so every run is covered.
func GetRunIDOrLatest(c *cli.Context, database *dbpkg.DB) (string, error) {
	if c.Bool("all") {
		return "", nil
	}
	if runID := c.String("run"); runID != "" {
		return runID, nil
	}
	if c.NArg() > 0 {
		return c.Args().First(), nil
	}

	runID, err := database.LatestRunID()
	if errors.Is(err, dbpkg.ErrNotFound) {
		return "", fmt.Errorf("no runs found. Run 'sku-checker run --input stock.csv' first")
	}
	return runID, err
}
