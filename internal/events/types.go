package events

import "time"

// Event enumerates high-level topics inside the signal core.
type Event string

const (
	EventSignalAccepted       Event = "signal.accepted"
	EventSignalRejected       Event = "signal.rejected"
	EventItemAdmitted         Event = "item.admitted"
	EventItemDropped          Event = "item.dropped"
	EventExecutionFinished    Event = "execution.finished"
	EventCredentialQuarantine Event = "credential.quarantined"
)

// SignalEvent reports an accepted or rejected signal.
type SignalEvent struct {
	Ticker    string
	Direction string
	Strength  string
	Reason    string // empty for accepted signals
	Time      time.Time
}

// AdmissionEvent reports one work item entering or leaving the lanes.
type AdmissionEvent struct {
	AccountID string
	Ticker    string
	Tier      string
	Time      time.Time
}

// ExecutionEvent reports one terminal execution outcome.
type ExecutionEvent struct {
	AccountID       string
	Exchange        string
	ClientRequestID string
	Ticker          string
	Status          string
	RetryCount      int
	LatencyMs       int64
	Time            time.Time
}

// QuarantineEvent is the alert condition raised when a credential turns
// invalid mid-execution.
type QuarantineEvent struct {
	AccountID string
	Exchange  string
	Reason    string
	Time      time.Time
}
