package usecase

import (
	"context"
	"log/slog"
	"net/http"

	"contractwatch/internal/domain"
	"contractwatch/internal/infrastructure/esi"
	"contractwatch/internal/ports"
)

// Enhancer pulls the composing line items for freshly discovered contracts
// and derives the dominant type attribute.
type Enhancer struct {
	fetcher ports.Fetcher
	logger  *slog.Logger
}

// NewEnhancer constructs the fetcher stage.
func NewEnhancer(fetcher ports.Fetcher, logger *slog.Logger) *Enhancer {
	return &Enhancer{fetcher: fetcher, logger: logger}
}

type itemTarget struct {
	url        string
	contractID int64
}

// Enrich paginates the line-items endpoint for each contract, appending
// results and recomputing the dominant type after every append. A failed
// page only loses that page's items; the pass continues.
func (e *Enhancer) Enrich(ctx context.Context, contracts []domain.Contract) []domain.Contract {
	byID := make(map[int64]*domain.Contract, len(contracts))
	targets := make([]itemTarget, 0, len(contracts))
	for i := range contracts {
		c := &contracts[i]
		byID[c.ID] = c
		targets = append(targets, itemTarget{
			url:        e.fetcher.ContractItemsURL(c.ID),
			contractID: c.ID,
		})
	}

	for len(targets) > 0 {
		urls := make([]string, len(targets))
		for i, t := range targets {
			urls[i] = t.url
		}
		results := fetchAll(ctx, e.fetcher, urls, nil)

		var pending []itemTarget
		for i, res := range results {
			t := targets[i]

			if res.err != nil {
				e.logger.Warn("item fetch failed", "url", t.url, "error", res.err)
				continue
			}
			if res.resp.Status != http.StatusOK {
				e.logger.Warn("item fetch status", "url", t.url, "status", res.resp.Status)
				continue
			}

			items, err := esi.DecodeLineItems(res.resp.Body)
			if err != nil {
				e.logger.Warn("item decode failed", "url", t.url, "error", err)
				continue
			}

			c := byID[t.contractID]
			c.LineItems = append(c.LineItems, items...)
			if len(c.LineItems) > 0 {
				c.DominantType = dominantType(c.LineItems)
			}

			if res.resp.Pages > 1 && !esi.Paginated(t.url) {
				for page := 2; page <= res.resp.Pages; page++ {
					pending = append(pending, itemTarget{
						url:        esi.PageURL(t.url, page),
						contractID: t.contractID,
					})
				}
			}
		}
		targets = pending
	}

	return contracts
}

// dominantType is the statistical mode of the observed type ids; ties break
// toward the type encountered first.
func dominantType(items []domain.LineItem) int64 {
	counts := map[int64]int{}
	var order []int64
	for _, item := range items {
		if counts[item.TypeID] == 0 {
			order = append(order, item.TypeID)
		}
		counts[item.TypeID]++
	}

	var best int64
	bestCount := 0
	for _, typeID := range order {
		if counts[typeID] > bestCount {
			best = typeID
			bestCount = counts[typeID]
		}
	}
	return best
}
