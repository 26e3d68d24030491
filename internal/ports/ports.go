package ports

import (
	"context"
	"time"

	"contractwatch/internal/domain"
)

// ContractRepository persists tracked contracts and their revalidation state.
// Get returns (nil, nil) when the id is unknown; absence is not an error.
type ContractRepository interface {
	Save(ctx context.Context, c domain.Contract) error
	Get(ctx context.Context, id int64) (*domain.Contract, error)
	UpdateTag(ctx context.Context, id int64, tag string) error
	UpdateScore(ctx context.Context, id int64, score int, scoredAt time.Time) error
	IDs(ctx context.Context) ([]int64, error)
}

// TagLedger keeps the conditional-cache tag per discovery URL so unchanged
// list pages can be short-circuited upstream.
type TagLedger interface {
	Tags(ctx context.Context) (map[string]string, error)
	Put(ctx context.Context, url, value string) error
}

// Watermark tracks the largest contract id ever ingested. Advance is
// advance-if-greater and safe under concurrent discovery runs.
type Watermark interface {
	Latest(ctx context.Context) (int64, error)
	Advance(ctx context.Context, id int64) error
}

// ExpiryClock arms one-shot entries; each arm creates a brand-new entry with
// a fresh identifier. There is no cancel operation.
type ExpiryClock interface {
	Arm(contractID int64, delay time.Duration) string
}

// Fetcher issues conditional GETs against upstream and knows the endpoint
// layout.
type Fetcher interface {
	Get(ctx context.Context, url, tag string) (domain.FetchResult, error)
	RegionContractsURL(regionID int64) string
	ContractItemsURL(contractID int64) string
}

// Notifier raises operator alerts for conditions that need human attention.
type Notifier interface {
	Alert(ctx context.Context, message string) error
}

// Scheduler drives a recurring job (the discovery pass).
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
