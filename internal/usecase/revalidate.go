package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"contractwatch/internal/config"
	"contractwatch/internal/domain"
	"contractwatch/internal/ports"
	"contractwatch/internal/schedule"
)

// acceptedMarker is the upstream error text that distinguishes a contract
// taken by a counterparty from a plain permission failure.
const acceptedMarker = "accepted by player"

// throttleFloor: everything at or above this status is treated as upstream
// distress and backed off without scoring.
const throttleFloor = 420

// RevalidatorDeps wires the reactive scheduler core.
type RevalidatorDeps struct {
	Fetcher   ports.Fetcher
	Contracts ports.ContractRepository
	Clock     ports.ExpiryClock
	Planner   *schedule.Planner
	Notifier  ports.Notifier
	Logger    *slog.Logger
	Config    config.RevalidationConfig
}

// Revalidator consumes batches of fired scheduling entries, revalidates each
// contract upstream with a conditional request, classifies the response, and
// re-arms the clock. It holds no state across invocations and tolerates
// duplicate or out-of-order deliveries.
type Revalidator struct {
	fetcher   ports.Fetcher
	contracts ports.ContractRepository
	clock     ports.ExpiryClock
	planner   *schedule.Planner
	notifier  ports.Notifier
	logger    *slog.Logger
	cfg       config.RevalidationConfig
	now       func() time.Time
}

// NewRevalidator constructs the processor.
func NewRevalidator(deps RevalidatorDeps) *Revalidator {
	return &Revalidator{
		fetcher:   deps.Fetcher,
		contracts: deps.Contracts,
		clock:     deps.Clock,
		planner:   deps.Planner,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		cfg:       deps.Config,
		now:       time.Now,
	}
}

// Process handles one batch of clock notifications. A single contract's
// failure never aborts the rest of the batch.
func (r *Revalidator) Process(ctx context.Context, events []domain.ClockEvent) {
	var batch []domain.Contract
	for _, ev := range events {
		// only fired (removed) entries schedule work; arm notifications
		// and other table traffic are ignored
		if ev.Kind != domain.EventFired {
			continue
		}

		c, err := r.contracts.Get(ctx, ev.ContractID)
		if err != nil {
			r.logger.Error("resolve contract failed", "contract_id", ev.ContractID, "error", err)
			continue
		}
		if c == nil {
			// deleted out-of-band; the entry is simply dropped
			continue
		}
		batch = append(batch, *c)
	}

	now := r.now()
	if r.planner.InDowntime(now) {
		r.logger.Info("inside downtime window, deferring batch", "count", len(batch))
		for _, c := range batch {
			r.rearmSoon(c.ID)
		}
		return
	}

	if len(batch) > r.cfg.BatchCap {
		overflow := batch[r.cfg.BatchCap:]
		r.logger.Info("batch over cap, deferring overflow",
			"cap", r.cfg.BatchCap, "deferred", len(overflow))
		for _, c := range overflow {
			r.rearmSoon(c.ID)
		}
		batch = batch[:r.cfg.BatchCap]
	}

	if len(batch) == 0 {
		return
	}
	r.logger.Info("revalidating contracts", "count", len(batch))

	type checked struct {
		contract domain.Contract
		resp     domain.FetchResult
		err      error
	}

	results := make([]checked, len(batch))
	var wg sync.WaitGroup
	for i, c := range batch {
		wg.Add(1)
		go func(i int, c domain.Contract) {
			defer wg.Done()
			resp, err := r.fetcher.Get(ctx, r.fetcher.ContractItemsURL(c.ID), c.ETag)
			results[i] = checked{contract: c, resp: resp, err: err}
		}(i, c)
	}
	wg.Wait()

	for _, res := range results {
		r.apply(ctx, now, res.contract, res.resp, res.err)
	}
}

func (r *Revalidator) apply(ctx context.Context, now time.Time, c domain.Contract, resp domain.FetchResult, err error) {
	if err != nil {
		// transport-level failure: transient, check again soon
		r.logger.Warn("revalidation fetch failed", "contract_id", c.ID, "error", err)
		r.rearmSoon(c.ID)
		return
	}

	if resp.HasErrorBudget && resp.Status < http.StatusBadRequest && resp.ErrorBudget < r.cfg.ErrorBudgetFloor {
		r.logger.Warn("upstream error budget running low",
			"remaining", resp.ErrorBudget, "floor", r.cfg.ErrorBudgetFloor)
	}

	outcome := classify(resp)
	r.logger.Debug("revalidated contract",
		"contract_id", c.ID, "status", resp.Status, "outcome", outcome)

	switch outcome {
	case domain.OutcomeRefreshed:
		if err := r.contracts.UpdateTag(ctx, c.ID, resp.Tag); err != nil {
			r.logger.Error("update tag failed", "contract_id", c.ID, "error", err)
		}
		r.rearm(c, now)

	case domain.OutcomeUnchanged:
		r.rearm(c, now)

	case domain.OutcomeAccepted:
		r.score(ctx, c, acceptedScore(ageDays(c.IssuedAt, now)), now)
		r.rearm(c, now)

	case domain.OutcomeGone:
		r.score(ctx, c, 0, now)
		r.rearm(c, now)

	case domain.OutcomeThrottled:
		// upstream is distressed; skip the age-based backoff and retry soon
		r.rearmSoon(c.ID)

	case domain.OutcomeUnknown:
		r.logger.Warn("unclassified upstream response",
			"contract_id", c.ID, "status", resp.Status, "body", truncate(resp.Body, 256))
		if r.notifier != nil {
			msg := fmt.Sprintf("contractwatch: contract %d got unclassified status %d", c.ID, resp.Status)
			if err := r.notifier.Alert(ctx, msg); err != nil {
				r.logger.Warn("alert failed", "error", err)
			}
		}
		// a bounded fallback re-arm instead of stalling the contract forever
		r.rearmSoon(c.ID)
	}
}

func (r *Revalidator) score(ctx context.Context, c domain.Contract, score int, now time.Time) {
	if err := r.contracts.UpdateScore(ctx, c.ID, score, now); err != nil {
		r.logger.Error("update score failed", "contract_id", c.ID, "error", err)
		return
	}
	r.logger.Info("scored contract", "contract_id", c.ID, "score", score)
}

func (r *Revalidator) rearm(c domain.Contract, now time.Time) {
	delay := r.planner.Next(c.IssuedAt, now)
	entryID := r.clock.Arm(c.ID, delay)
	r.logger.Debug("rearmed contract", "contract_id", c.ID, "entry_id", entryID, "delay", delay)
}

func (r *Revalidator) rearmSoon(contractID int64) {
	delay := r.planner.Short()
	entryID := r.clock.Arm(contractID, delay)
	r.logger.Debug("rearmed contract within the hour",
		"contract_id", contractID, "entry_id", entryID, "delay", delay)
}

// classify maps a status fetch onto a lifecycle outcome.
func classify(resp domain.FetchResult) domain.Outcome {
	switch {
	case resp.Status == http.StatusOK:
		return domain.OutcomeRefreshed
	case resp.Status == http.StatusNotModified || resp.Status == http.StatusNoContent:
		return domain.OutcomeUnchanged
	case resp.Status == http.StatusForbidden && strings.Contains(resp.ErrorMessage(), acceptedMarker):
		return domain.OutcomeAccepted
	case resp.Status == http.StatusNotFound:
		return domain.OutcomeGone
	case resp.Status >= throttleFloor:
		return domain.OutcomeThrottled
	default:
		return domain.OutcomeUnknown
	}
}

// acceptedScore maps contract age to the 0-500 score written when a
// counterparty accepts it: 500 on the issue day, then 100/sqrt(days).
func acceptedScore(days int) int {
	if days <= 0 {
		return 500
	}
	return int(math.Round(100 / math.Sqrt(float64(days))))
}

func ageDays(issuedAt, now time.Time) int {
	if issuedAt.IsZero() {
		return 0
	}
	return int(now.Sub(issuedAt).Hours() / 24)
}

func truncate(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit])
}
