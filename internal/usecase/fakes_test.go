package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"contractwatch/internal/domain"
)

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]domain.FetchResult
	errs      map[string]error
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: map[string]domain.FetchResult{},
		errs:      map[string]error{},
	}
}

func (f *fakeFetcher) Get(_ context.Context, url, _ string) (domain.FetchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()

	if err := f.errs[url]; err != nil {
		return domain.FetchResult{}, err
	}
	resp, ok := f.responses[url]
	if !ok {
		return domain.FetchResult{Status: 404}, nil
	}
	return resp, nil
}

func (f *fakeFetcher) RegionContractsURL(regionID int64) string {
	return fmt.Sprintf("/regions/%d/", regionID)
}

func (f *fakeFetcher) ContractItemsURL(contractID int64) string {
	return fmt.Sprintf("/items/%d/", contractID)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRepo struct {
	mu        sync.Mutex
	contracts map[int64]domain.Contract
	saved     []int64
	saveErrs  map[int64]error
	tags      map[int64]string
	scores    map[int64]int
	scoredAt  map[int64]time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		contracts: map[int64]domain.Contract{},
		saveErrs:  map[int64]error{},
		tags:      map[int64]string{},
		scores:    map[int64]int{},
		scoredAt:  map[int64]time.Time{},
	}
}

func (r *fakeRepo) Save(_ context.Context, c domain.Contract) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.saveErrs[c.ID]; err != nil {
		return err
	}
	r.contracts[c.ID] = c
	r.saved = append(r.saved, c.ID)
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id int64) (*domain.Contract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contracts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *fakeRepo) UpdateTag(_ context.Context, id int64, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[id] = tag
	return nil
}

func (r *fakeRepo) UpdateScore(_ context.Context, id int64, score int, scoredAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores[id] = score
	r.scoredAt[id] = scoredAt
	return nil
}

func (r *fakeRepo) IDs(_ context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.contracts))
	for id := range r.contracts {
		ids = append(ids, id)
	}
	return ids, nil
}

type armCall struct {
	contractID int64
	delay      time.Duration
}

type fakeClock struct {
	mu   sync.Mutex
	arms []armCall
	seq  int
}

func (c *fakeClock) Arm(contractID int64, delay time.Duration) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.arms = append(c.arms, armCall{contractID: contractID, delay: delay})
	return fmt.Sprintf("entry-%d", c.seq)
}

func (c *fakeClock) armCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.arms)
}

type fakeLedger struct {
	mu   sync.Mutex
	tags map[string]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{tags: map[string]string{}}
}

func (l *fakeLedger) Tags(_ context.Context) (map[string]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.tags))
	for k, v := range l.tags {
		out[k] = v
	}
	return out, nil
}

func (l *fakeLedger) Put(_ context.Context, url, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tags[url] = value
	return nil
}

type fakeWatermark struct {
	mu    sync.Mutex
	value int64
}

func (w *fakeWatermark) Latest(_ context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value, nil
}

func (w *fakeWatermark) Advance(_ context.Context, id int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id > w.value {
		w.value = id
	}
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Alert(_ context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}
