package entities

type JobOutcome string

const (
	JobOutcomeSucceeded JobOutcome = "succeeded"
	JobOutcomeSkipped   JobOutcome = "skipped"
	JobOutcomeRetried   JobOutcome = "retried"
	JobOutcomeFailed    JobOutcome = "failed"
)

// BatchSummary aggregates one worker batch. Failed counts both retried and
// permanently failed attempts.
type BatchSummary struct {
	Processed int
	Succeeded int
	Failed    int
	Enqueued  int
	Skipped   int
}

func (s *BatchSummary) Add(outcome JobOutcome, enqueued int) {
	s.Processed++
	s.Enqueued += enqueued
	switch outcome {
	case JobOutcomeSucceeded:
		s.Succeeded++
	case JobOutcomeSkipped:
		s.Skipped++
	case JobOutcomeRetried, JobOutcomeFailed:
		s.Failed++
	}
}

type Cascade struct {
	SourceRef        string
	Jobs             []DistributionJob
	Entries          []LedgerEntry
	TotalDistributed int64
}
