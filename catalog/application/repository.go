package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/digidex/catalog/domain"
	"github.com/dfryer1193/digidex/shared/httpfetch"
)

// DefaultCacheDuration is how long the in-memory snapshot answers FetchAll
// before the local store and remote API are consulted again.
const DefaultCacheDuration = 300 * time.Second

// snapshot is replaced as a whole, never mutated.
type snapshot struct {
	items      []domain.Item
	capturedAt time.Time
	ticket     uint64
}

// Repository decides which tier answers each query: the in-memory snapshot,
// the local store, or the remote API. Every query publishes the tier that
// answered it on the DataSourceFeed.
type Repository struct {
	fetcher domain.ItemFetcher
	store   domain.ItemStore
	images  domain.ImageCache
	feed    *DataSourceFeed

	cacheDuration time.Duration
	now           func() time.Time
	logger        zerolog.Logger

	// Repository lifecycle context - cancelled when Close() is called
	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup

	// mu guards snap and the ticket counters. A fetch takes a ticket when it
	// is issued and may only install its result if no later ticket has been
	// installed since, so the most recently issued fetch always wins.
	mu         sync.Mutex
	snap       *snapshot
	nextTicket uint64
	applied    uint64

	// persistMu orders writes to the local store by ticket.
	persistMu sync.Mutex
}

type Option func(*Repository)

func WithCacheDuration(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.cacheDuration = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

func NewRepository(fetcher domain.ItemFetcher, store domain.ItemStore, images domain.ImageCache, opts ...Option) *Repository {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Repository{
		fetcher:       fetcher,
		store:         store,
		images:        images,
		feed:          NewDataSourceFeed(),
		cacheDuration: DefaultCacheDuration,
		now:           time.Now,
		logger:        log.Logger,
		ctx:           ctx,
		cancel:        cancel,
		wg:            &sync.WaitGroup{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Close cancels background refreshes and waits for them to finish.
func (r *Repository) Close() error {
	r.cancel()
	r.wg.Wait()
	return nil
}

// DataSources is the feed of provenance tags.
func (r *Repository) DataSources() *DataSourceFeed {
	return r.feed
}

// FetchAll returns the full collection from the first tier that has it.
// A local store hit also starts a background refresh from the remote API.
func (r *Repository) FetchAll(ctx context.Context) ([]domain.Item, error) {
	items, _, err := r.fetchAll(ctx)
	return items, err
}

// FetchByLevel always asks the remote API.
func (r *Repository) FetchByLevel(ctx context.Context, level string) ([]domain.Item, error) {
	items, _, err := r.fetchByLevel(ctx, level)
	return items, err
}

// FetchByName filters the snapshot, whatever its age, by case-insensitive
// substring. When nothing in the snapshot matches the remote API is asked.
func (r *Repository) FetchByName(ctx context.Context, name string) ([]domain.Item, error) {
	items, _, err := r.fetchByName(ctx, name)
	return items, err
}

// Lookup answers q and reports the tier that served it. The same tag is
// published on the feed.
func (r *Repository) Lookup(ctx context.Context, q domain.Query) ([]domain.Item, domain.DataSource, error) {
	switch q.Kind {
	case domain.QueryByName:
		return r.fetchByName(ctx, q.Value)
	case domain.QueryByLevel:
		return r.fetchByLevel(ctx, q.Value)
	default:
		return r.fetchAll(ctx)
	}
}

func (r *Repository) fetchAll(ctx context.Context) ([]domain.Item, domain.DataSource, error) {
	if items, ok := r.freshSnapshot(); ok {
		return items, r.publish(domain.SourceMemoryCache), nil
	}

	ticket := r.takeTicket()
	local, err := r.store.FetchAll(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to read local store, falling back to remote")
		local = nil
	}

	if len(local) > 0 {
		r.install(ticket, local)
		source := r.publish(domain.SourceLocal)
		r.refreshInBackground()
		return slices.Clone(local), source, nil
	}

	source := r.publish(domain.SourceRemote)
	items, err := r.fetchAndStore(ctx)
	return items, source, err
}

func (r *Repository) fetchByLevel(ctx context.Context, level string) ([]domain.Item, domain.DataSource, error) {
	source := r.publish(domain.SourceRemote)
	items, err := r.fetcher.Fetch(ctx, domain.ItemsByLevel(level))
	return items, source, err
}

func (r *Repository) fetchByName(ctx context.Context, name string) ([]domain.Item, domain.DataSource, error) {
	r.mu.Lock()
	snap := r.snap
	r.mu.Unlock()

	if snap != nil {
		if matches := filterByName(snap.items, name); len(matches) > 0 {
			return matches, r.publish(domain.SourceMemoryCache), nil
		}
	}

	source := r.publish(domain.SourceRemote)
	items, err := r.fetcher.Fetch(ctx, domain.ItemsByName(name))
	return items, source, err
}

func (r *Repository) publish(s domain.DataSource) domain.DataSource {
	r.feed.Publish(s)
	return s
}

// FindItem returns the item whose name equals name, ignoring case. It looks
// in the snapshot, then the local store, then asks the remote API by name.
// Nothing is published on the feed and nothing is cached.
func (r *Repository) FindItem(ctx context.Context, name string) (domain.Item, bool, error) {
	r.mu.Lock()
	snap := r.snap
	r.mu.Unlock()

	if snap != nil {
		if it, ok := exactName(snap.items, name); ok {
			return it, true, nil
		}
	}

	local, err := r.store.FetchAll(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to read local store, falling back to remote")
	}
	if it, ok := exactName(local, name); ok {
		return it, true, nil
	}

	remote, err := r.fetcher.Fetch(ctx, domain.ItemsByName(name))
	if err != nil {
		return domain.Item{}, false, err
	}
	it, ok := exactName(remote, name)
	return it, ok, nil
}

// GetImage resolves the item's image. An item without a usable image URL
// has no image; that is not an error.
func (r *Repository) GetImage(ctx context.Context, item domain.Item) (*domain.Image, error) {
	if _, err := httpfetch.ParseURL(item.ImageURL); err != nil {
		return nil, nil
	}
	return r.images.Resolve(ctx, item.ImageURL, item.Name)
}

// RefreshData drops the snapshot and reloads everything from the remote API.
func (r *Repository) RefreshData(ctx context.Context) ([]domain.Item, error) {
	r.invalidate()
	r.publish(domain.SourceRemote)
	return r.fetchAndStore(ctx)
}

// ClearAll drops the snapshot, the local store and the image cache.
func (r *Repository) ClearAll(ctx context.Context) error {
	r.invalidate()

	var errs []error
	if err := r.store.ClearAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear local store: %w", err))
	}
	if err := r.images.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to clear image cache: %w", err))
	}
	return errors.Join(errs...)
}

func (r *Repository) freshSnapshot() ([]domain.Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.snap == nil || len(r.snap.items) == 0 {
		return nil, false
	}
	if r.now().Sub(r.snap.capturedAt) >= r.cacheDuration {
		return nil, false
	}
	return slices.Clone(r.snap.items), true
}

func (r *Repository) takeTicket() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextTicket++
	return r.nextTicket
}

// invalidate clears the snapshot and retires every ticket issued so far, so
// fetches already in flight cannot reinstall old data.
func (r *Repository) invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = nil
	r.applied = r.nextTicket
}

// install replaces the snapshot if ticket is newer than the last installed one.
func (r *Repository) install(ticket uint64, items []domain.Item) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ticket <= r.applied {
		return false
	}
	r.applied = ticket
	r.snap = &snapshot{
		items:      slices.Clone(items),
		capturedAt: r.now(),
		ticket:     ticket,
	}
	return true
}

func (r *Repository) isCurrent(ticket uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ticket == r.applied
}

// fetchAndStore loads the full collection remotely and, if no newer fetch
// has landed meanwhile, installs it in the snapshot and the local store.
// Store failures are logged and otherwise ignored.
func (r *Repository) fetchAndStore(ctx context.Context) ([]domain.Item, error) {
	ticket := r.takeTicket()

	items, err := r.fetcher.Fetch(ctx, domain.AllItems())
	if err != nil {
		return nil, err
	}

	r.commit(ctx, ticket, items)
	return slices.Clone(items), nil
}

func (r *Repository) commit(ctx context.Context, ticket uint64, items []domain.Item) {
	if !r.install(ticket, items) {
		r.logger.Debug().Uint64("ticket", ticket).Msg("Discarding superseded fetch result")
		return
	}

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	if !r.isCurrent(ticket) {
		return
	}
	if err := r.store.SaveAll(ctx, items); err != nil {
		r.logger.Error().Err(err).Int("count", len(items)).Msg("Failed to persist items")
	}
}

// refreshInBackground reloads from the remote API without blocking the
// caller. Failures are only logged.
func (r *Repository) refreshInBackground() {
	if r.ctx.Err() != nil {
		return
	}

	ticket := r.takeTicket()
	r.wg.Go(func() {
		items, err := r.fetcher.Fetch(r.ctx, domain.AllItems())
		if err != nil {
			r.logger.Error().Err(err).Msg("Background refresh failed")
			return
		}
		r.commit(r.ctx, ticket, items)
		r.logger.Debug().Int("count", len(items)).Msg("Background refresh complete")
	})
}

func filterByName(items []domain.Item, name string) []domain.Item {
	needle := strings.ToLower(name)
	matches := make([]domain.Item, 0)
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Name), needle) {
			matches = append(matches, it)
		}
	}
	return matches
}

func exactName(items []domain.Item, name string) (domain.Item, bool) {
	for _, it := range items {
		if strings.EqualFold(it.Name, name) {
			return it, true
		}
	}
	return domain.Item{}, false
}
