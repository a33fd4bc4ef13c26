package model

import "time"

// ScanState is the lifecycle state of a scan run.
type ScanState string

// Scan states.
const (
	ScanRunning    ScanState = "running"
	ScanComplete   ScanState = "complete"
	ScanFailed     ScanState = "failed"
	ScanTerminated ScanState = "terminated"
)

// Scan records one run of the pipeline.
type Scan struct {
	ID    string
	Start time.Time
	End   *time.Time
	State ScanState
}
