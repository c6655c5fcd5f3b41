package job

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"depot/internal/apperrors"
)

// Status is the lifecycle state of a job.
type Status string

// Status constants
const (
	StatusQueued    Status = "QUEUED"
	StatusStarted   Status = "STARTED"
	StatusFinished  Status = "FINISHED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// transitions lists the allowed state machine edges. Terminal states have none.
var transitions = map[Status][]Status{
	StatusQueued:  {StatusStarted, StatusCancelled},
	StatusStarted: {StatusFinished, StatusFailed},
}

// CanTransitionTo reports whether the state machine allows s -> to.
func (s Status) CanTransitionTo(to Status) bool {
	return slices.Contains(transitions[s], to)
}

// ParseStatus parses a status name such as "FINISHED". Case is ignored.
func ParseStatus(name string) (Status, error) {
	st := Status(strings.ToUpper(name))
	switch st {
	case StatusQueued, StatusStarted, StatusFinished, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", apperrors.Validation("status", fmt.Sprintf("unknown job status %q", name))
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusCancelled
}

// CoalesceMode selects which existing jobs an equivalent submission collapses into.
type CoalesceMode int

const (
	// CoalesceNone always creates a new job.
	CoalesceNone CoalesceMode = iota
	// CoalesceActive reuses an equivalent QUEUED or STARTED job.
	CoalesceActive
	// CoalesceActiveOrFinished also reuses an equivalent FINISHED job.
	CoalesceActiveOrFinished
)

// Includes reports whether a job in status st is a coalescing candidate.
func (m CoalesceMode) Includes(st Status) bool {
	switch m {
	case CoalesceActive:
		return st == StatusQueued || st == StatusStarted
	case CoalesceActiveOrFinished:
		return st == StatusQueued || st == StatusStarted || st == StatusFinished
	default:
		return false
	}
}

func (m CoalesceMode) String() string {
	switch m {
	case CoalesceActive:
		return "active"
	case CoalesceActiveOrFinished:
		return "finished"
	default:
		return "none"
	}
}

// ParseCoalesceMode parses the String form of a mode. An empty name selects
// CoalesceActive.
func ParseCoalesceMode(name string) (CoalesceMode, error) {
	switch name {
	case "", "active":
		return CoalesceActive, nil
	case "none":
		return CoalesceNone, nil
	case "finished":
		return CoalesceActiveOrFinished, nil
	}
	return CoalesceNone, apperrors.Validation("coalesce", fmt.Sprintf("unknown coalesce mode %q", name))
}

// Encoding is the transfer encoding of a job data payload.
type Encoding string

// Encoding constants
const (
	EncodingNone Encoding = "none"
	EncodingGzip Encoding = "gzip"
)

// Valid reports whether e is a known encoding.
func (e Encoding) Valid() bool {
	return e == EncodingNone || e == EncodingGzip
}

// DataUse says whether a payload was supplied to a job or generated by one.
type DataUse string

// DataUse constants
const (
	DataSupplied  DataUse = "supplied"
	DataGenerated DataUse = "generated"
)

// Data describes a stored payload addressed by GUID.
type Data struct {
	GUID      string    `json:"guid" db:"guid"`
	Name      string    `json:"name" db:"name"`
	MediaType string    `json:"mediaType" db:"media_type"`
	Encoding  Encoding  `json:"encoding" db:"encoding"`
	Use       DataUse   `json:"use" db:"use_code"`
	Size      int64     `json:"size" db:"size"`
	CreatedAt time.Time `json:"createTimestamp" db:"create_timestamp"`
}

// Snapshot is a point-in-time copy of a job's lifecycle record.
type Snapshot struct {
	GUID               string
	Specification      Specification
	Status             Status
	CreatedAt          time.Time
	StartedAt          *time.Time
	FinishedAt         *time.Time
	CancelledAt        *time.Time
	ProgressPercent    int
	SuppliedDataGUIDs  []string
	GeneratedDataGUIDs []string
	FailureReason      string
}

// snapshotJSON is the wire form of a Snapshot.
type snapshotJSON struct {
	GUID               string          `json:"guid"`
	Type               string          `json:"type"`
	Specification      json.RawMessage `json:"specification"`
	Status             Status          `json:"status"`
	CreatedAt          time.Time       `json:"createTimestamp"`
	StartedAt          *time.Time      `json:"startTimestamp,omitempty"`
	FinishedAt         *time.Time      `json:"finishTimestamp,omitempty"`
	CancelledAt        *time.Time      `json:"cancelTimestamp,omitempty"`
	ProgressPercent    int             `json:"progressPercent"`
	SuppliedDataGUIDs  []string        `json:"suppliedDataGuids"`
	GeneratedDataGUIDs []string        `json:"generatedDataGuids"`
	FailureReason      string          `json:"failureReason,omitempty"`
}

// MarshalJSON implements custom marshaling for Snapshot.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	raw := snapshotJSON{
		GUID:               s.GUID,
		Status:             s.Status,
		CreatedAt:          s.CreatedAt,
		StartedAt:          s.StartedAt,
		FinishedAt:         s.FinishedAt,
		CancelledAt:        s.CancelledAt,
		ProgressPercent:    s.ProgressPercent,
		SuppliedDataGUIDs:  nonNil(s.SuppliedDataGUIDs),
		GeneratedDataGUIDs: nonNil(s.GeneratedDataGUIDs),
		FailureReason:      s.FailureReason,
	}
	if s.Specification != nil {
		raw.Type = s.Specification.Kind()
		data, err := MarshalSpecification(s.Specification)
		if err != nil {
			return nil, err
		}
		raw.Specification = data
	}
	return json.Marshal(raw)
}

// clone returns a deep copy so callers never share slices with the service.
func (s Snapshot) clone() Snapshot {
	s.SuppliedDataGUIDs = slices.Clone(s.SuppliedDataGUIDs)
	s.GeneratedDataGUIDs = slices.Clone(s.GeneratedDataGUIDs)
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ListResponse represents the response for listing jobs
type ListResponse struct {
	Jobs []Snapshot `json:"jobs"`
}

// SubmitResponse represents the response when a job is submitted
type SubmitResponse struct {
	GUID string `json:"guid"`
}

// Stats holds job service statistics.
type Stats struct {
	QueueDepth int            `json:"queueDepth"`
	Submitted  int64          `json:"submitted"`
	Coalesced  int64          `json:"coalesced"`
	Expired    int64          `json:"expired"`
	ByStatus   map[Status]int `json:"byStatus"`
}
