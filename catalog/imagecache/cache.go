// Package imagecache resolves item images through a chain of tiers:
// memory, the local store's persisted images, an on-disk HTTP response
// cache, and finally the network.
package imagecache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dfryer1193/digidex/catalog/domain"
	"github.com/dfryer1193/digidex/shared/httpfetch"
)

var _ domain.ImageCache = (*Cache)(nil)

const (
	DefaultMemoryEntries = 100
	DefaultMemoryBytes   = 50 << 20
	DefaultDiskBytes     = 100 << 20
)

// Tier names where a resolution was answered.
type Tier int

const (
	TierMemory Tier = iota
	TierPersistent
	TierDisk
	TierNetwork
)

func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierPersistent:
		return "persistent"
	case TierDisk:
		return "disk"
	case TierNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// PersistentImages is the local store's image lookup.
type PersistentImages interface {
	ImageFor(ctx context.Context, name string) (*domain.Image, error)
}

// Downloader performs the network tier.
type Downloader interface {
	Image(ctx context.Context, rawURL string) (*domain.Image, *httpfetch.Response, error)
}

type Cache struct {
	persistent PersistentImages
	downloader Downloader
	disk       *diskCache
	logger     zerolog.Logger

	memEntries  int
	memMaxBytes int64
	diskBudget  int64

	// mu guards the memory tier.
	mu       sync.Mutex
	mem      *simplelru.LRU[string, *domain.Image]
	memBytes int64

	inflight singleflight.Group
	hits     [TierNetwork + 1]atomic.Int64
}

type Option func(*Cache)

// WithMemoryLimits bounds the memory tier by entry count and total bytes.
func WithMemoryLimits(entries int, bytes int64) Option {
	return func(c *Cache) {
		if entries > 0 {
			c.memEntries = entries
		}
		if bytes > 0 {
			c.memMaxBytes = bytes
		}
	}
}

// WithDiskBudget bounds the on-disk response cache.
func WithDiskBudget(bytes int64) Option {
	return func(c *Cache) {
		if bytes > 0 {
			c.diskBudget = bytes
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache whose disk tier lives in dir. persistent may be nil.
func New(dir string, persistent PersistentImages, downloader Downloader, opts ...Option) (*Cache, error) {
	c := &Cache{
		persistent:  persistent,
		downloader:  downloader,
		logger:      log.Logger,
		memEntries:  DefaultMemoryEntries,
		memMaxBytes: DefaultMemoryBytes,
		diskBudget:  DefaultDiskBytes,
	}
	for _, opt := range opts {
		opt(c)
	}

	mem, err := simplelru.NewLRU[string, *domain.Image](c.memEntries, func(_ string, img *domain.Image) {
		c.memBytes -= int64(len(img.Data))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory tier: %w", err)
	}
	c.mem = mem

	disk, err := newDiskCache(dir, c.diskBudget)
	if err != nil {
		return nil, err
	}
	c.disk = disk

	return c, nil
}

// Resolve returns the image at rawURL. When name is non-empty the local
// store's persisted image for that item is consulted before the disk cache.
func (c *Cache) Resolve(ctx context.Context, rawURL string, name string) (*domain.Image, error) {
	u, err := httpfetch.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	key := u.String()

	if img, ok := c.memGet(key); ok {
		c.hits[TierMemory].Add(1)
		return img, nil
	}

	// The shared resolution outlives any one caller; each caller still gives
	// up on its own ctx.
	shared := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(key+"\x00"+name, func() (any, error) {
		return c.resolveSlow(shared, key, name)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Image), nil
	}
}

func (c *Cache) resolveSlow(ctx context.Context, key, name string) (*domain.Image, error) {
	// Another caller may have filled memory while we waited.
	if img, ok := c.memGet(key); ok {
		c.hits[TierMemory].Add(1)
		return img, nil
	}

	if name != "" && c.persistent != nil {
		img, err := c.persistent.ImageFor(ctx, name)
		if err != nil {
			c.logger.Warn().Err(err).Str("name", name).Msg("Persistent image lookup failed")
		}
		if img != nil {
			c.memPut(key, img)
			c.hits[TierPersistent].Add(1)
			return img, nil
		}
	}

	reqKey := requestKey(http.MethodGet, key)
	if body, ok := c.disk.get(reqKey); ok {
		img, err := domain.DecodeImage(body)
		if err == nil {
			c.memPut(key, img)
			c.hits[TierDisk].Add(1)
			return img, nil
		}
		c.logger.Debug().Err(err).Str("url", key).Msg("Ignoring undecodable disk cache entry")
	}

	img, resp, err := c.downloader.Image(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := c.disk.put(reqKey, resp); err != nil {
		c.logger.Warn().Err(err).Str("url", key).Msg("Failed to write disk cache entry")
	}
	c.memPut(key, img)
	c.hits[TierNetwork].Add(1)
	return img, nil
}

func (c *Cache) memGet(key string) (*domain.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mem.Get(key)
}

func (c *Cache) memPut(key string, img *domain.Image) {
	size := int64(len(img.Data))
	if size > c.memMaxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.mem.Peek(key); ok {
		c.memBytes -= int64(len(old.Data))
	}
	c.mem.Add(key, img)
	c.memBytes += size
	for c.memBytes > c.memMaxBytes {
		if _, _, ok := c.mem.RemoveOldest(); !ok {
			break
		}
	}
}

// Clear empties the memory tier and the disk cache. Images owned by the
// local store are left alone.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.mem.Purge()
	c.memBytes = 0
	c.mu.Unlock()

	if err := c.disk.clear(); err != nil {
		return fmt.Errorf("failed to clear disk cache: %w", err)
	}
	return nil
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	MemoryEntries int
	MemoryBytes   int64
	DiskBytes     int64
	Hits          map[Tier]int64
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		MemoryEntries: c.mem.Len(),
		MemoryBytes:   c.memBytes,
	}
	c.mu.Unlock()

	s.DiskBytes = c.disk.bytes()
	s.Hits = make(map[Tier]int64, len(c.hits))
	for t := range c.hits {
		s.Hits[Tier(t)] = c.hits[t].Load()
	}
	return s
}
