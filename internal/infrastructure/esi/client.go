package esi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"contractwatch/internal/domain"
	"contractwatch/internal/ports"
)

const (
	tagHeader          = "ETag"
	preconditionHeader = "If-None-Match"
	pagesHeader        = "X-Pages"
	errorBudgetHeader  = "X-Esi-Error-Limit-Remain"

	maxBodyBytes = 8 << 20
)

// Client issues conditional GETs against the public contracts API.
type Client struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

var _ ports.Fetcher = (*Client)(nil)

// NewClient wires an HTTP client; a nil client gets a 20s timeout default.
func NewClient(baseURL string, client *http.Client, userAgent string) *Client {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if userAgent == "" {
		userAgent = "contractwatch/1.0"
	}
	return &Client{baseURL: baseURL, client: client, userAgent: userAgent}
}

// RegionContractsURL returns the first-page listing endpoint for a region.
func (c *Client) RegionContractsURL(regionID int64) string {
	return fmt.Sprintf("%s/v1/contracts/public/%d/", c.baseURL, regionID)
}

// ContractItemsURL returns the line-items endpoint for a contract. The same
// endpoint doubles as the conditional status probe during revalidation.
func (c *Client) ContractItemsURL(contractID int64) string {
	return fmt.Sprintf("%s/v1/contracts/public/items/%d/", c.baseURL, contractID)
}

// PageURL appends the page suffix for declared additional pages.
func PageURL(base string, page int) string {
	return fmt.Sprintf("%s?page=%d", base, page)
}

// Paginated reports whether the URL already carries a page suffix; only
// first-page responses may enqueue further pages.
func Paginated(url string) bool {
	return strings.Contains(url, "?page=")
}

// Get fetches the URL with the stored validator as precondition. The tag is
// sent even when empty, mirroring an unconditional request upstream treats
// the same way.
func (c *Client) Get(ctx context.Context, url, tag string) (domain.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.FetchResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(preconditionHeader, tag)

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.FetchResult{}, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.FetchResult{}, fmt.Errorf("read %s: %w", url, err)
	}

	result := domain.FetchResult{
		Status: resp.StatusCode,
		Body:   body,
		Tag:    resp.Header.Get(tagHeader),
	}

	if v := resp.Header.Get(pagesHeader); v != "" {
		if pages, perr := strconv.Atoi(v); perr == nil {
			result.Pages = pages
		}
	}
	if v := resp.Header.Get(errorBudgetHeader); v != "" {
		if budget, berr := strconv.Atoi(v); berr == nil {
			result.ErrorBudget = budget
			result.HasErrorBudget = true
		}
	}

	return result, nil
}
