package application

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dfryer1193/digidex/catalog/domain"
)

var (
	agumon  = domain.Item{Name: "Agumon", ImageURL: "https://digimon.shadowsmith.com/img/agumon.jpg", Level: "Rookie"}
	gabumon = domain.Item{Name: "Gabumon", ImageURL: "https://digimon.shadowsmith.com/img/gabumon.jpg", Level: "Rookie"}
	koromon = domain.Item{Name: "Koromon", ImageURL: "https://digimon.shadowsmith.com/img/koromon.jpg", Level: "In Training"}
	greymon = domain.Item{Name: "Greymon", ImageURL: "https://digimon.shadowsmith.com/img/greymon.jpg", Level: "Champion"}
)

type fakeFetcher struct {
	mu      sync.Mutex
	results map[domain.QueryKind][]domain.Item
	err     error
	calls   []domain.Query
	// hook, when set, answers call number n instead of results/err.
	hook func(ctx context.Context, n int, q domain.Query) ([]domain.Item, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, q domain.Query) ([]domain.Item, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, q)
	hook, results, err := f.hook, f.results[q.Kind], f.err
	f.mu.Unlock()

	if hook != nil {
		return hook(ctx, n, q)
	}
	if err != nil {
		return nil, err
	}
	return slices.Clone(results), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) lastCall() domain.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeStore struct {
	mu         sync.Mutex
	items      []domain.Item
	fetchErr   error
	saveErr    error
	clearErr   error
	fetchCalls int
	saveCalls  int
	clearCalls int
}

func (s *fakeStore) SaveAll(ctx context.Context, items []domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.items = slices.Clone(items)
	return nil
}

func (s *fakeStore) FetchAll(ctx context.Context) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return slices.Clone(s.items), nil
}

func (s *fakeStore) ImageFor(ctx context.Context, name string) (*domain.Image, error) {
	return nil, nil
}

func (s *fakeStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCalls++
	if s.clearErr != nil {
		return s.clearErr
	}
	s.items = nil
	return nil
}

func (s *fakeStore) stored() []domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

func (s *fakeStore) counts() (fetches, saves int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls, s.saveCalls
}

type resolveCall struct {
	url  string
	name string
}

type fakeImageCache struct {
	mu      sync.Mutex
	calls   []resolveCall
	img     *domain.Image
	err     error
	cleared int
}

func (c *fakeImageCache) Resolve(ctx context.Context, rawURL string, name string) (*domain.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, resolveCall{url: rawURL, name: name})
	return c.img, c.err
}

func (c *fakeImageCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared++
	return nil
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
