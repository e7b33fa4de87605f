// Package db implements the commands that read and manage stored results.
package db

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dtnitsch/sku-date-checker/internal/common"
	dbpkg "github.com/dtnitsch/sku-date-checker/pkg/db"
	"github.com/urfave/cli/v2"
)

// exportHeader is the column order of CSV exports.
var exportHeader = []string{
	"sku", "last_order_date", "days_since", "order_reference", "result_count",
	"response_code", "error", "attempts", "processed_at", "run_id",
}

func RunsAction(c *cli.Context) error {
	database, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := database.ListRuns(c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	// Print table header
	fmt.Printf("%-36s %-20s %-10s %-9s %-9s %-8s %-8s %s\n",
		"Run ID", "Started", "Outcome", "Enqueued", "Processed", "OK", "Errors", "Source")
	fmt.Println(strings.Repeat("-", 130))

	for _, r := range runs {
		fmt.Printf("%-36s %-20s %-10s %-9d %-9d %-8d %-8d %s\n",
			r.RunID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Outcome,
			r.Enqueued,
			r.Processed,
			r.OK,
			r.Err,
			r.SourcePath,
		)
	}

	fmt.Printf("\nTotal: %d runs\n", len(runs))
	fmt.Printf("\nTip: Use 'sku-checker results --run <id>' to see results\n")

	return nil
}

// ResultsAction prints the most recent results, newest first.
func ResultsAction(c *cli.Context) error {
	database, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer database.Close()

	runID, err := GetRunIDOrLatest(c, database)
	if err != nil {
		return err
	}

	rows, err := database.RecentResults(runID, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to load results: %w", err)
	}

	var out any = rows
	if fields := c.String("fields"); fields != "" {
		filtered := make([]map[string]any, len(rows))
		for i, r := range rows {
			filtered[i] = common.FilterFields(r, fields)
		}
		out = filtered
	}

	data, err := common.Marshal(c.String("format"), out)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// ExportAction writes stored results to a CSV file in insertion order.
func ExportAction(c *cli.Context) error {
	output := c.String("output")
	if output == "" {
		return fmt.Errorf("no output file provided. Use: sku-checker export --output results.csv")
	}

	database, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer database.Close()

	runID, err := GetRunIDOrLatest(c, database)
	if err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}
	defer f.Close()

	n, err := WriteCSV(f, database, runID)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", output, err)
	}

	fmt.Printf("Exported %d results to %s\n", n, output)
	return nil
}

// WriteCSV streams the results of runID (all runs when empty) as CSV.
func WriteCSV(w io.Writer, database *dbpkg.DB, runID string) (int, error) {
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)
	if err := cw.Write(exportHeader); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	n := 0
	err := database.EachResult(runID, func(r dbpkg.ResultRow) error {
		days := ""
		if r.DaysSince != nil {
			days = strconv.FormatInt(*r.DaysSince, 10)
		}
		n++
		return cw.Write([]string{
			r.SKU,
			r.LastOrderDate,
			days,
			r.OrderReference,
			strconv.FormatInt(r.ResultCount, 10),
			strconv.FormatInt(r.ResponseCode, 10),
			r.Error,
			strconv.FormatInt(r.Attempts, 10),
			r.ProcessedAt.UTC().Format(time.RFC3339),
			r.RunID,
		})
	})
	if err != nil {
		return n, fmt.Errorf("failed to export results: %w", err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("failed to write csv: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("failed to flush csv: %w", err)
	}
	return n, nil
}

// ClearAction deletes every stored run and result.
func ClearAction(c *cli.Context) error {
	database, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer database.Close()

	if !c.Bool("yes") {
		count, err := database.CountResults("")
		if err != nil {
			return err
		}
		fmt.Printf("This deletes %d results from %s. Continue? [y/N] ", count, database.Path())
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Println("Aborted")
			return nil
		}
	}

	n, err := database.ClearAll()
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d results\n", n)
	return nil
}
