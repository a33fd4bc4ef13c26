package model

import (
	"fmt"
	"time"
)

// Stage names a pipeline stage.
type Stage string

// Pipeline stages.
const (
	StageFind       Stage = "find"
	StageChecksum   Stage = "checksum"
	StageTag        Stage = "tag"
	StageRegister   Stage = "register"
	StageDispatcher Stage = "dispatcher"
)

// ItemError is a failure that affected a single path.
type ItemError struct {
	Path  Path
	Stage Stage
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Path, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// Summary aggregates the outcome of one scan run.
type Summary struct {
	ScanID      string
	Started     time.Time
	Finished    time.Time
	Found       int
	Skipped     int
	Checksummed int
	Tagged      int
	Registered  int
	Errors      []*ItemError
}

// Duration returns the wall-clock time of the run.
func (s *Summary) Duration() time.Duration {
	if s.Finished.IsZero() {
		return 0
	}

	return s.Finished.Sub(s.Started)
}

// Progress is a point-in-time view of a running scan.
type Progress struct {
	Found       int
	Skipped     int
	Checksummed int
	Tagged      int
	Registered  int
	Errors      int
	// Items waiting in the dispatcher for the checksum and tag stages.
	ChecksumQueue int
	TagQueue      int
}
