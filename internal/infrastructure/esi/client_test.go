package esi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetSendsPrecondition(t *testing.T) {
	t.Parallel()

	var seen string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("If-None-Match")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client(), "test-agent")
	resp, err := c.Get(context.Background(), server.URL+"/v1/contracts/public/1/", `"abc123"`)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}

	if seen != `"abc123"` {
		t.Fatalf("precondition header = %q, want %q", seen, `"abc123"`)
	}
	if resp.Status != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", resp.Status)
	}
}

func TestGetReadsHeaders(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"fresh"`)
		w.Header().Set("X-Pages", "3")
		w.Header().Set("X-Esi-Error-Limit-Remain", "57")
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client(), "")
	resp, err := c.Get(context.Background(), server.URL+"/v1/contracts/public/1/", "")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}

	if resp.Tag != `"fresh"` {
		t.Fatalf("tag = %q, want %q", resp.Tag, `"fresh"`)
	}
	if resp.Pages != 3 {
		t.Fatalf("pages = %d, want 3", resp.Pages)
	}
	if !resp.HasErrorBudget || resp.ErrorBudget != 57 {
		t.Fatalf("error budget = %d (present=%v), want 57", resp.ErrorBudget, resp.HasErrorBudget)
	}
}

func TestGetOmittedHeaders(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client(), "")
	resp, err := c.Get(context.Background(), server.URL+"/", "")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}

	if resp.Pages != 0 {
		t.Fatalf("pages = %d, want 0 when header absent", resp.Pages)
	}
	if resp.HasErrorBudget {
		t.Fatal("error budget must be flagged absent")
	}
}

func TestURLBuilders(t *testing.T) {
	t.Parallel()

	c := NewClient("https://example.org", nil, "")

	if got := c.RegionContractsURL(10000002); got != "https://example.org/v1/contracts/public/10000002/" {
		t.Fatalf("unexpected region URL: %s", got)
	}
	if got := c.ContractItemsURL(42); got != "https://example.org/v1/contracts/public/items/42/" {
		t.Fatalf("unexpected items URL: %s", got)
	}

	paged := PageURL(c.RegionContractsURL(10000002), 3)
	if paged != "https://example.org/v1/contracts/public/10000002/?page=3" {
		t.Fatalf("unexpected page URL: %s", paged)
	}
	if !Paginated(paged) {
		t.Fatal("page URL must report as paginated")
	}
	if Paginated(c.RegionContractsURL(10000002)) {
		t.Fatal("first-page URL must not report as paginated")
	}
}

func TestDecodeContracts(t *testing.T) {
	t.Parallel()

	body := []byte(`[
	  {"contract_id": 42, "type": "item_exchange", "title": "Stuff",
	   "start_location_id": 60003760.0, "date_issued": "2026-03-04T10:00:00Z",
	   "price": 99.5, "reward": 0, "volume": 3.25,
	   "issuer_id": 9001, "issuer_corporation_id": 8001,
	   "end_location_id": 60008494, "days_to_complete": 1}
	]`)

	contracts, err := DecodeContracts(body)
	if err != nil {
		t.Fatalf("DecodeContracts error: %v", err)
	}
	if len(contracts) != 1 {
		t.Fatalf("expected 1 contract, got %d", len(contracts))
	}

	c := contracts[0]
	if c.ID != 42 || c.Type != "item_exchange" || c.Title != "Stuff" {
		t.Fatalf("unexpected contract: %+v", c)
	}
	if c.StartLocationID != 60003760 {
		t.Fatalf("location not normalized to integer: %d", c.StartLocationID)
	}
	want := time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)
	if !c.IssuedAt.Equal(want) {
		t.Fatalf("issued at = %v, want %v", c.IssuedAt, want)
	}
	if c.Price != 99.5 || c.Volume != 3.25 {
		t.Fatalf("numeric fields dropped: %+v", c)
	}
}

func TestDecodeLineItems(t *testing.T) {
	t.Parallel()

	body := []byte(`[
	  {"record_id": 1, "type_id": 7, "quantity": 3},
	  {"record_id": 2, "type_id": 9, "quantity": 1, "runs": 10,
	   "material_efficiency": 10, "time_efficiency": 20}
	]`)

	items, err := DecodeLineItems(body)
	if err != nil {
		t.Fatalf("DecodeLineItems error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	if items[0].Runs != nil {
		t.Fatal("runs must stay nil when absent")
	}
	if items[1].Runs == nil || *items[1].Runs != 10 {
		t.Fatal("runs not decoded")
	}
	if items[1].MaterialEfficiency == nil || *items[1].MaterialEfficiency != 10 {
		t.Fatal("material efficiency not decoded")
	}
}
