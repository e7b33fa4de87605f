package db

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"testing"
	"time"

	"github.com/dtnitsch/sku-date-checker/models"
	dbpkg "github.com/dtnitsch/sku-date-checker/pkg/db"
)

func seedDB(t *testing.T) (*dbpkg.DB, string) {
	t.Helper()

	database, err := dbpkg.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	runID, err := database.CreateRun("stock.csv")
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	ctx := context.Background()
	placed := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	days := 40
	sink := database.NewSink(runID)
	results := []models.Result{
		{Key: "A", StatusCode: 200, Order: &models.OrderInfo{LastOrderDate: &placed, DaysSince: &days, OrderReference: "PO-1", ResultCount: 1}, Attempts: 1, ObservedAt: time.Now()},
		{Key: "B", StatusCode: 500, Error: "Retries Exhausted", Attempts: 5, ObservedAt: time.Now()},
	}
	for _, r := range results {
		if err := sink.Insert(ctx, r); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	if err := sink.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	return database, runID
}

func TestWriteCSV(t *testing.T) {
	database, runID := seedDB(t)

	var buf bytes.Buffer
	n, err := WriteCSV(&buf, database, runID)
	if err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	if n != 2 {
		t.Errorf("WriteCSV() = %d rows, want 2", n)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want header plus 2", len(records))
	}
	if records[0][0] != "sku" || len(records[0]) != len(exportHeader) {
		t.Errorf("header = %v", records[0])
	}

	a, b := records[1], records[2]
	if a[0] != "A" || a[1] != "2025-02-03" || a[2] != "40" || a[3] != "PO-1" || a[5] != "200" {
		t.Errorf("row A = %v", a)
	}
	if b[0] != "B" || b[2] != "" || b[5] != "500" || b[6] != "Retries Exhausted" || b[7] != "5" || b[9] != runID {
		t.Errorf("row B = %v", b)
	}
}

func TestWriteCSVUnknownRun(t *testing.T) {
	database, _ := seedDB(t)

	var buf bytes.Buffer
	n, err := WriteCSV(&buf, database, "missing")
	if err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	if n != 0 {
		t.Errorf("WriteCSV() = %d rows, want 0", n)
	}
}
