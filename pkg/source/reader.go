// Package source streams candidate keys out of a CSV file in fixed-size chunks.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/dtnitsch/sku-date-checker/models"
)

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("missing column")

// Row is one candidate from the source. Qty is nil when the cell is blank
// or not a number.
type Row struct {
	Key string
	Qty *int64
}

// Predicate decides whether a row becomes a task.
type Predicate func(Row) bool

// ZeroStock keeps rows whose quantity is zero. Blank quantities count as zero.
func ZeroStock(r Row) bool {
	return r.Qty == nil || *r.Qty == 0
}

// Reader yields rows in chunks. It never holds more than one chunk in memory.
type Reader struct {
	csv       *csv.Reader
	closer    io.Closer
	keyIdx    int
	qtyIdx    int
	chunkSize int
	line      int
}

// Open opens a CSV file for chunked reading.
func Open(path string, cfg models.SourceConfig, chunkSize int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source %s: %w", path, err)
	}
	r, err := NewReader(f, cfg, chunkSize)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader reads the header row and locates the key and quantity columns.
func NewReader(in io.Reader, cfg models.SourceConfig, chunkSize int) (*Reader, error) {
	if chunkSize < 1 {
		chunkSize = 1
	}

	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	keyIdx, qtyIdx := -1, -1
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		switch name {
		case strings.ToLower(cfg.KeyColumn):
			keyIdx = i
		case strings.ToLower(cfg.QtyColumn):
			qtyIdx = i
		}
	}
	if keyIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, cfg.KeyColumn)
	}
	if qtyIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, cfg.QtyColumn)
	}

	return &Reader{
		csv:       cr,
		keyIdx:    keyIdx,
		qtyIdx:    qtyIdx,
		chunkSize: chunkSize,
		line:      1,
	}, nil
}

// Next returns the next chunk of up to chunkSize rows. It returns io.EOF once
// the source is exhausted. On a read error the rows read so far in the chunk
// are returned together with the error.
func (r *Reader) Next() ([]Row, error) {
	rows := make([]Row, 0, min(r.chunkSize, 4096))
	for len(rows) < r.chunkSize {
		record, err := r.csv.Read()
		if err == io.EOF {
			if len(rows) == 0 {
				return nil, io.EOF
			}
			return rows, nil
		}
		if err != nil {
			return rows, fmt.Errorf("failed to read row %d: %w", r.line+1, err)
		}
		r.line++

		row, ok := r.parse(record)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (r *Reader) parse(record []string) (Row, bool) {
	if r.keyIdx >= len(record) {
		return Row{}, false
	}
	key := strings.TrimSpace(record[r.keyIdx])
	if key == "" {
		return Row{}, false
	}

	row := Row{Key: key}
	if r.qtyIdx < len(record) {
		row.Qty = parseQty(record[r.qtyIdx])
	}
	return row, true
}

func parseQty(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && !math.IsInf(f, 0) {
		n := int64(f)
		return &n
	}
	return nil
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
