package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"contractwatch/internal/config"
	"contractwatch/internal/domain"
	"contractwatch/internal/infrastructure/esi"
	"contractwatch/internal/ports"
	"contractwatch/internal/schedule"
)

// directExchangeType is the only contract kind the tracker follows; auctions
// and courier contracts are filtered out during discovery.
const directExchangeType = "item_exchange"

// DiscoveryDeps wires all collaborators of the discovery pass.
type DiscoveryDeps struct {
	Fetcher   ports.Fetcher
	Contracts ports.ContractRepository
	Tags      ports.TagLedger
	Watermark ports.Watermark
	Clock     ports.ExpiryClock
	Enhancer  *Enhancer
	Planner   *schedule.Planner
	Logger    *slog.Logger
	Config    config.DiscoveryConfig
}

// Discovery enumerates all upstream regions, diffs the results against the
// high-water mark, and hands new contracts to enhancement, persistence, and
// the expiry clock.
type Discovery struct {
	fetcher   ports.Fetcher
	contracts ports.ContractRepository
	tags      ports.TagLedger
	watermark ports.Watermark
	clock     ports.ExpiryClock
	enhancer  *Enhancer
	planner   *schedule.Planner
	logger    *slog.Logger
	cfg       config.DiscoveryConfig
	now       func() time.Time
}

// DiscoveryOptions are the per-invocation knobs; zero values fall back to
// the configured defaults.
type DiscoveryOptions struct {
	BatchSize int
	SkipPages bool
}

// NewDiscovery constructs the crawler.
func NewDiscovery(deps DiscoveryDeps) *Discovery {
	return &Discovery{
		fetcher:   deps.Fetcher,
		contracts: deps.Contracts,
		tags:      deps.Tags,
		watermark: deps.Watermark,
		clock:     deps.Clock,
		enhancer:  deps.Enhancer,
		planner:   deps.Planner,
		logger:    deps.Logger,
		cfg:       deps.Config,
		now:       time.Now,
	}
}

// Run executes one full discovery pass. A pass landing inside the daily
// downtime window is skipped whole; the interval driver fires the next one.
func (d *Discovery) Run(ctx context.Context, opts DiscoveryOptions) error {
	if d.planner.InDowntime(d.now()) {
		d.logger.Info("inside downtime window, skipping discovery pass")
		return nil
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = d.cfg.BatchSize
	}
	skipPages := opts.SkipPages || d.cfg.SkipPages

	tags, err := d.tags.Tags(ctx)
	if err != nil {
		return fmt.Errorf("load tag ledger: %w", err)
	}

	collected, newTags := d.crawl(ctx, tags, skipPages)
	for url, tag := range newTags {
		if err := d.tags.Put(ctx, url, tag); err != nil {
			d.logger.Warn("persist tag failed", "url", url, "error", err)
		}
	}

	d.logger.Info("discovery pass collected contracts", "count", len(collected))
	if len(collected) == 0 {
		return nil
	}

	latest, err := d.watermark.Latest(ctx)
	if err != nil {
		return fmt.Errorf("load high-water mark: %w", err)
	}

	maxSeen := latest
	var fresh []domain.Contract
	for _, c := range collected {
		if c.ID <= latest {
			continue
		}
		if c.ID > maxSeen {
			maxSeen = c.ID
		}
		fresh = append(fresh, c)
	}

	// ascending order makes the capped prefix the lowest ids, so the
	// persisted watermark policy retries exactly the dropped tail next pass
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].ID < fresh[j].ID })

	if len(fresh) > batchSize {
		d.logger.Info("capping discovery batch",
			"new", len(fresh), "kept", batchSize, "dropped", len(fresh)-batchSize)
		fresh = fresh[:batchSize]
	}

	if len(fresh) == 0 {
		return nil
	}

	fresh = d.enhancer.Enrich(ctx, fresh)

	persisted := 0
	var lastPersisted int64
	saveFailed := false
	for _, c := range fresh {
		if err := d.contracts.Save(ctx, c); err != nil {
			d.logger.Error("persist contract failed", "contract_id", c.ID, "error", err)
			saveFailed = true
			continue
		}
		persisted++
		// the mark stops at the contiguous persisted prefix: a failed id and
		// everything above it stay beyond the mark and are retried next pass
		if !saveFailed {
			lastPersisted = c.ID
		}

		delay := d.planner.Short()
		entryID := d.clock.Arm(c.ID, delay)
		d.logger.Debug("armed first check",
			"contract_id", c.ID, "entry_id", entryID, "delay", delay)
	}

	mark := maxSeen
	if d.cfg.WatermarkPolicy == config.WatermarkPersisted {
		mark = lastPersisted
	}
	if mark > latest {
		if err := d.watermark.Advance(ctx, mark); err != nil {
			return fmt.Errorf("advance high-water mark: %w", err)
		}
	}

	d.logger.Info("discovery pass done", "new", persisted, "watermark", mark)
	return nil
}

// crawl drives the pagination frontier: fan out every pending URL, collect,
// enqueue declared extra pages, and repeat until nothing new is produced.
func (d *Discovery) crawl(ctx context.Context, tags map[string]string, skipPages bool) ([]domain.Contract, map[string]string) {
	excluded := make(map[int64]bool, len(d.cfg.ExcludedRegions))
	for _, region := range d.cfg.ExcludedRegions {
		excluded[region] = true
	}

	var urls []string
	for region := d.cfg.RegionStart; region < d.cfg.RegionEnd; region++ {
		if excluded[region] {
			continue
		}
		urls = append(urls, d.fetcher.RegionContractsURL(region))
	}

	var collected []domain.Contract
	newTags := map[string]string{}

	for len(urls) > 0 {
		results := fetchAll(ctx, d.fetcher, urls, tags)
		urls = nil

		for _, res := range results {
			if res.err != nil {
				d.logger.Warn("listing fetch failed", "url", res.url, "error", res.err)
				continue
			}

			if res.resp.Pages > 1 && !skipPages && !esi.Paginated(res.url) {
				for page := 2; page <= res.resp.Pages; page++ {
					urls = append(urls, esi.PageURL(res.url, page))
				}
			}

			switch res.resp.Status {
			case http.StatusOK:
				contracts, err := esi.DecodeContracts(res.resp.Body)
				if err != nil {
					d.logger.Warn("listing decode failed", "url", res.url, "error", err)
					continue
				}
				for _, c := range contracts {
					if c.Type != directExchangeType {
						continue
					}
					if c.Title == "" {
						c.Title = "n/a"
					}
					collected = append(collected, c)
				}
				newTags[res.url] = res.resp.Tag
			case http.StatusNotModified:
				// unchanged since last pass
			default:
				d.logger.Warn("unexpected listing status", "url", res.url, "status", res.resp.Status)
			}
		}
	}

	return collected, newTags
}

type fetchResult struct {
	url  string
	resp domain.FetchResult
	err  error
}

// fetchAll issues every URL concurrently and waits for the group; a stalled
// call is bounded by the client timeout and never blocks the others.
func fetchAll(ctx context.Context, fetcher ports.Fetcher, urls []string, tags map[string]string) []fetchResult {
	results := make([]fetchResult, len(urls))

	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			resp, err := fetcher.Get(ctx, u, tags[u])
			results[i] = fetchResult{url: u, resp: resp, err: err}
		}(i, u)
	}
	wg.Wait()

	return results
}
