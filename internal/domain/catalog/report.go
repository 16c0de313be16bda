package catalog

import (
	"sort"
)

// OutcomeStatus is the final state of one record in a commit.
type OutcomeStatus string

const (
	StatusCreated OutcomeStatus = "created"
	StatusUpdated OutcomeStatus = "updated"
	StatusSkipped OutcomeStatus = "skipped"
	StatusFailed  OutcomeStatus = "failed"
)

// CommitOutcome is the result of committing one record.
type CommitOutcome struct {
	RowNumber  int           `json:"row_number"`
	Title      string        `json:"title"`
	Status     OutcomeStatus `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	ExternalID string        `json:"external_id,omitempty"`
	// Attempts counts parent writes, plus sub-entity writes when those fail.
	Attempts   int           `json:"attempts"`
	Err        error         `json:"-"`
}

func (o CommitOutcome) Succeeded() bool {
	return o.Status == StatusCreated || o.Status == StatusUpdated
}

// BatchReport aggregates every outcome of a commit call, ordered by row.
// FailedRecords can be passed back to Commit to retry exactly the failed subset.
type BatchReport struct {
	Total        int `json:"total"`
	SuccessCount int `json:"success_count"`
	CreatedCount int `json:"created_count"`
	UpdatedCount int `json:"updated_count"`
	SkippedCount int `json:"skipped_count"`
	FailedCount  int `json:"failed_count"`

	Successful []CommitOutcome `json:"successful"`
	Skipped    []CommitOutcome `json:"skipped"`
	Failed     []CommitOutcome `json:"failed"`

	FailedRecords []Record `json:"-"`
}

// NewBatchReport builds a report from outcomes in any order. records supplies
// the originals for failed rows, keyed by row number.
func NewBatchReport(outcomes []CommitOutcome, records map[int]Record) *BatchReport {
	sorted := make([]CommitOutcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RowNumber < sorted[j].RowNumber
	})

	report := &BatchReport{
		Total:      len(sorted),
		Successful: []CommitOutcome{},
		Skipped:    []CommitOutcome{},
		Failed:     []CommitOutcome{},
	}
	for _, o := range sorted {
		switch o.Status {
		case StatusCreated:
			report.CreatedCount++
			report.Successful = append(report.Successful, o)
		case StatusUpdated:
			report.UpdatedCount++
			report.Successful = append(report.Successful, o)
		case StatusSkipped:
			report.Skipped = append(report.Skipped, o)
		default:
			report.Failed = append(report.Failed, o)
			if rec, ok := records[o.RowNumber]; ok {
				report.FailedRecords = append(report.FailedRecords, rec.Clone())
			}
		}
	}
	report.SuccessCount = report.CreatedCount + report.UpdatedCount
	report.SkippedCount = len(report.Skipped)
	report.FailedCount = len(report.Failed)
	return report
}

// Outcome returns the outcome for a row, if present.
func (r *BatchReport) Outcome(rowNumber int) (CommitOutcome, bool) {
	for _, list := range [][]CommitOutcome{r.Successful, r.Skipped, r.Failed} {
		for _, o := range list {
			if o.RowNumber == rowNumber {
				return o, true
			}
		}
	}
	return CommitOutcome{}, false
}
