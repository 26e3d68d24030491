package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"contractwatch/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "contracts.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleContract() domain.Contract {
	runs := int64(10)
	return domain.Contract{
		ID:              42,
		Type:            "item_exchange",
		Title:           "Bulk minerals",
		IssuedAt:        time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC),
		ExpiresAt:       time.Date(2026, time.April, 3, 10, 0, 0, 0, time.UTC),
		Price:           1250000.5,
		Volume:          12.5,
		IssuerID:        9001,
		IssuerCorpID:    8001,
		StartLocationID: 60003760,
		EndLocationID:   60008494,
		ETag:            `"abc"`,
		DominantType:    7,
		LineItems: []domain.LineItem{
			{RecordID: 1, TypeID: 7, Quantity: 3},
			{RecordID: 2, TypeID: 9, Quantity: 1, Runs: &runs},
		},
	}
}

func TestSaveAndGet(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sampleContract()); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got, err := s.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got == nil {
		t.Fatal("saved contract not found")
	}

	want := sampleContract()
	if got.Type != want.Type || got.Title != want.Title || got.ETag != want.ETag {
		t.Fatalf("unexpected contract: %+v", got)
	}
	if !got.IssuedAt.Equal(want.IssuedAt) || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Fatalf("timestamps did not round-trip: %v / %v", got.IssuedAt, got.ExpiresAt)
	}
	if got.Price != want.Price || got.StartLocationID != want.StartLocationID {
		t.Fatalf("numeric fields did not round-trip: %+v", got)
	}
	if got.Score != nil || got.ScoredAt != nil {
		t.Fatal("unscored contract must come back with nil score")
	}

	if len(got.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(got.LineItems))
	}
	if got.LineItems[0].Runs != nil {
		t.Fatal("absent runs must stay nil")
	}
	if got.LineItems[1].Runs == nil || *got.LineItems[1].Runs != 10 {
		t.Fatal("runs did not round-trip")
	}
}

func TestGetAbsent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	got, err := s.Get(context.Background(), 999)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != nil {
		t.Fatalf("absent id must yield nil, got %+v", got)
	}
}

func TestSaveReplacesItems(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sampleContract()); err != nil {
		t.Fatalf("first Save error: %v", err)
	}

	updated := sampleContract()
	updated.Title = "Restocked"
	updated.LineItems = []domain.LineItem{{TypeID: 5, Quantity: 100}}
	if err := s.Save(ctx, updated); err != nil {
		t.Fatalf("second Save error: %v", err)
	}

	got, err := s.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Title != "Restocked" {
		t.Fatalf("title not updated: %q", got.Title)
	}
	if len(got.LineItems) != 1 || got.LineItems[0].TypeID != 5 {
		t.Fatalf("items not replaced: %+v", got.LineItems)
	}
}

func TestUpdateTagAndScore(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sampleContract()); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	if err := s.UpdateTag(ctx, 42, `"fresh"`); err != nil {
		t.Fatalf("UpdateTag error: %v", err)
	}
	scoredAt := time.Date(2026, time.March, 8, 16, 0, 0, 0, time.UTC)
	if err := s.UpdateScore(ctx, 42, 50, scoredAt); err != nil {
		t.Fatalf("UpdateScore error: %v", err)
	}

	got, err := s.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.ETag != `"fresh"` {
		t.Fatalf("tag = %q, want %q", got.ETag, `"fresh"`)
	}
	if got.Score == nil || *got.Score != 50 {
		t.Fatalf("score not written: %v", got.Score)
	}
	if got.ScoredAt == nil || !got.ScoredAt.Equal(scoredAt) {
		t.Fatalf("scored-at not written: %v", got.ScoredAt)
	}
}

func TestIDs(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{44, 42, 43} {
		c := sampleContract()
		c.ID = id
		c.LineItems = nil
		if err := s.Save(ctx, c); err != nil {
			t.Fatalf("Save %d error: %v", id, err)
		}
	}

	ids, err := s.IDs(ctx)
	if err != nil {
		t.Fatalf("IDs error: %v", err)
	}
	if len(ids) != 3 || ids[0] != 42 || ids[2] != 44 {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestTagLedger(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "/regions/1/", "a"); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if err := s.Put(ctx, "/regions/1/?page=2", "b"); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if err := s.Put(ctx, "/regions/1/", "c"); err != nil {
		t.Fatalf("Put upsert error: %v", err)
	}

	tags, err := s.Tags(ctx)
	if err != nil {
		t.Fatalf("Tags error: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(tags))
	}
	if tags["/regions/1/"] != "c" {
		t.Fatalf("upsert must replace the value, got %q", tags["/regions/1/"])
	}
	if tags["/regions/1/?page=2"] != "b" {
		t.Fatal("page URLs are separate ledger keys")
	}
}

func TestWatermarkAdvance(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest error: %v", err)
	}
	if latest != 0 {
		t.Fatalf("fresh mark = %d, want 0", latest)
	}

	steps := []struct {
		advance int64
		want    int64
	}{
		{10, 10},
		{5, 10},
		{10, 10},
		{12, 12},
	}
	for _, step := range steps {
		if err := s.Advance(ctx, step.advance); err != nil {
			t.Fatalf("Advance(%d) error: %v", step.advance, err)
		}
		latest, err = s.Latest(ctx)
		if err != nil {
			t.Fatalf("Latest error: %v", err)
		}
		if latest != step.want {
			t.Fatalf("after Advance(%d): mark = %d, want %d", step.advance, latest, step.want)
		}
	}
}
