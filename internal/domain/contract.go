package domain

import (
	"encoding/json"
	"time"
)

// Contract is a single upstream marketplace listing being tracked. The id is
// assigned upstream and grows monotonically, which is what makes the
// high-water-mark diff during discovery possible.
type Contract struct {
	ID              int64
	Type            string
	Title           string
	IssuedAt        time.Time
	ExpiresAt       time.Time
	Price           float64
	Reward          float64
	Collateral      float64
	Volume          float64
	DaysToComplete  int
	IssuerID        int64
	IssuerCorpID    int64
	StartLocationID int64
	EndLocationID   int64

	// ETag is the conditional-cache validator from the last successful
	// revalidation; empty until the first 200 response.
	ETag string

	// Score is 0-500 (0-5 scaled by 100); nil until the contract reaches a
	// scoring outcome.
	Score    *int
	ScoredAt *time.Time

	LineItems    []LineItem
	DominantType int64
}

// LineItem is one row of a contract's composition, append-only during
// enhancement and immutable afterwards.
type LineItem struct {
	RecordID           int64
	TypeID             int64
	Quantity           int64
	Runs               *int64
	MaterialEfficiency *int64
	TimeEfficiency     *int64
}

// EventKind distinguishes clock notifications; only fired (removed) entries
// trigger revalidation, everything else is filtered out.
type EventKind string

const (
	EventFired EventKind = "remove"
	EventArmed EventKind = "insert"
)

// ClockEvent is delivered when a scheduling entry expires. EntryID is fresh
// per arm and never reused.
type ClockEvent struct {
	Kind       EventKind
	EntryID    string
	ContractID int64
	FiredAt    time.Time
}

// FetchResult is the slice of an upstream response the pipelines inspect.
type FetchResult struct {
	Status int
	Body   []byte

	// Tag carries the validator header on 200 responses.
	Tag string

	// Pages is the declared page count for paginated endpoints; zero when
	// the header is absent.
	Pages int

	// ErrorBudget is the remaining calls before upstream hard rate-limits;
	// HasErrorBudget reports whether the header was present at all.
	ErrorBudget    int
	HasErrorBudget bool
}

// ErrorMessage extracts the error field upstream puts in non-2xx bodies;
// empty when the body is not such a payload.
func (r FetchResult) ErrorMessage() string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &payload); err != nil {
		return ""
	}
	return payload.Error
}

// Outcome classifies one revalidation response.
type Outcome string

const (
	OutcomeRefreshed Outcome = "refreshed"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeAccepted  Outcome = "accepted"
	OutcomeGone      Outcome = "gone"
	OutcomeThrottled Outcome = "throttled"
	OutcomeUnknown   Outcome = "unknown"
)
