package run

import (
	"github.com/dtnitsch/sku-date-checker/pkg/pipeline"
)

// Run statuses reported in RunOutput.
const (
	StatusSuccess        = "success"
	StatusPartialFailure = "partial_failure"
	StatusFailed         = "failed"
	StatusCancelled      = "cancelled"
)

// RunOutput is what the run command prints when it finishes.
type RunOutput struct {
	RunID    string `json:"run_id" yaml:"run_id"`
	Source   string `json:"source" yaml:"source"`
	Database string `json:"database" yaml:"database"`
	Status   string `json:"status" yaml:"status"`
	Stats    Stats  `json:"stats" yaml:"stats"`
}

// Stats provides summary statistics for the run.
type Stats struct {
	Enqueued         int64    `json:"enqueued" yaml:"enqueued"`
	Processed        int64    `json:"processed" yaml:"processed"`
	OK               int64    `json:"ok" yaml:"ok"`
	Failed           int64    `json:"failed" yaml:"failed"`
	Commits          int64    `json:"commits" yaml:"commits"`
	TotalTimeSeconds float64  `json:"total_time_seconds" yaml:"total_time_seconds"`
	Advisories       []string `json:"advisories,omitempty" yaml:"advisories,omitempty"`
}

// BuildOutput turns a finished run's summary into printable output.
func BuildOutput(runID, sourcePath, database string, s pipeline.Summary) RunOutput {
	return RunOutput{
		RunID:    runID,
		Source:   sourcePath,
		Database: database,
		Status:   runStatus(s),
		Stats: Stats{
			Enqueued:         s.Counters.Enqueued,
			Processed:        s.Counters.Processed,
			OK:               s.Counters.OK,
			Failed:           s.Counters.Err,
			Commits:          s.Commits,
			TotalTimeSeconds: s.Elapsed.Seconds(),
			Advisories:       s.Advisories,
		},
	}
}

func runStatus(s pipeline.Summary) string {
	c := s.Counters
	switch {
	case s.Outcome == pipeline.OutcomeCancelled:
		return StatusCancelled
	case c.Err == 0:
		return StatusSuccess
	case c.OK == 0:
		return StatusFailed
	default:
		return StatusPartialFailure
	}
}

// ExitCode maps a summary to the process exit code: 0 for a clean or
// cancelled run, 1 when some results are errors, 2 when all of them are.
func ExitCode(s pipeline.Summary) int {
	switch runStatus(s) {
	case StatusPartialFailure:
		return 1
	case StatusFailed:
		return 2
	default:
		return 0
	}
}
