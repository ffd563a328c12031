package imagecache

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfryer1193/digidex/catalog/domain"
	"github.com/dfryer1193/digidex/shared/httpfetch"
)

func pngBytes(t *testing.T, size int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, size, size))))
	return buf.Bytes()
}

// imageServer serves PNGs and counts requests per path.
type imageServer struct {
	*httptest.Server
	hits     sync.Map
	body     []byte
	noStore  bool
	badPaths map[string]int
	// gate, when set, holds every response until it is closed.
	gate chan struct{}
}

func newImageServer(t *testing.T) *imageServer {
	t.Helper()
	s := &imageServer{body: pngBytes(t, 4), badPaths: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := s.hits.LoadOrStore(r.URL.Path, new(atomic.Int64))
		n.(*atomic.Int64).Add(1)
		if s.gate != nil {
			<-s.gate
		}
		if code, ok := s.badPaths[r.URL.Path]; ok {
			w.WriteHeader(code)
			return
		}
		if r.URL.Path == "/garbage.png" {
			_, _ = w.Write([]byte("definitely not a png"))
			return
		}
		if s.noStore {
			w.Header().Set("Cache-Control", "no-store")
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(s.body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *imageServer) count(path string) int64 {
	n, ok := s.hits.Load(path)
	if !ok {
		return 0
	}
	return n.(*atomic.Int64).Load()
}

type fakePersistent struct {
	images map[string]*domain.Image
	err    error
	calls  atomic.Int64
}

func (f *fakePersistent) ImageFor(ctx context.Context, name string) (*domain.Image, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.images[name], nil
}

func newTestCache(t *testing.T, persistent PersistentImages, opts ...Option) *Cache {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	c, err := New(t.TempDir(), persistent, httpfetch.New(), opts...)
	require.NoError(t, err)
	return c
}

func TestResolve_NetworkThenMemory(t *testing.T) {
	srv := newImageServer(t)
	c := newTestCache(t, nil)
	ctx := context.Background()

	img, err := c.Resolve(ctx, srv.URL+"/agumon.png", "")
	require.NoError(t, err)
	assert.Equal(t, "png", img.Format)

	again, err := c.Resolve(ctx, srv.URL+"/agumon.png", "")
	require.NoError(t, err)
	assert.Same(t, img, again)

	assert.Equal(t, int64(1), srv.count("/agumon.png"))
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits[TierNetwork])
	assert.Equal(t, int64(1), stats.Hits[TierMemory])
	assert.Equal(t, 1, stats.MemoryEntries)
	assert.Positive(t, stats.DiskBytes)
}

func TestResolve_PersistentTierBeforeNetwork(t *testing.T) {
	srv := newImageServer(t)
	stored, err := domain.DecodeImage(pngBytes(t, 9))
	require.NoError(t, err)
	persistent := &fakePersistent{images: map[string]*domain.Image{"Agumon": stored}}
	c := newTestCache(t, persistent)
	ctx := context.Background()

	img, err := c.Resolve(ctx, srv.URL+"/agumon.png", "Agumon")
	require.NoError(t, err)
	assert.Equal(t, 9, img.Width)
	assert.Zero(t, srv.count("/agumon.png"))
	assert.Equal(t, int64(1), c.Stats().Hits[TierPersistent])

	// Populated into memory keyed by URL
	_, err = c.Resolve(ctx, srv.URL+"/agumon.png", "Agumon")
	require.NoError(t, err)
	assert.Equal(t, int64(1), persistent.calls.Load())
}

func TestResolve_PersistentFailureFallsThrough(t *testing.T) {
	srv := newImageServer(t)
	persistent := &fakePersistent{err: errors.New("database is locked")}
	c := newTestCache(t, persistent)

	img, err := c.Resolve(context.Background(), srv.URL+"/gabumon.png", "Gabumon")
	require.NoError(t, err)
	assert.NotNil(t, img)
	assert.Equal(t, int64(1), srv.count("/gabumon.png"))
}

func TestResolve_DiskTierAfterMemoryEviction(t *testing.T) {
	srv := newImageServer(t)
	c := newTestCache(t, nil, WithMemoryLimits(1, 0))
	ctx := context.Background()

	_, err := c.Resolve(ctx, srv.URL+"/a.png", "")
	require.NoError(t, err)
	_, err = c.Resolve(ctx, srv.URL+"/b.png", "")
	require.NoError(t, err)

	// a.png was evicted from memory but is still on disk
	_, err = c.Resolve(ctx, srv.URL+"/a.png", "")
	require.NoError(t, err)

	assert.Equal(t, int64(1), srv.count("/a.png"))
	assert.Equal(t, int64(1), c.Stats().Hits[TierDisk])
}

func TestResolve_NoStoreSkipsDisk(t *testing.T) {
	srv := newImageServer(t)
	srv.noStore = true
	c := newTestCache(t, nil)

	_, err := c.Resolve(context.Background(), srv.URL+"/a.png", "")
	require.NoError(t, err)
	assert.Zero(t, c.Stats().DiskBytes)
}

func TestResolve_Failures(t *testing.T) {
	srv := newImageServer(t)
	srv.badPaths["/missing.png"] = http.StatusNotFound
	c := newTestCache(t, nil)
	ctx := context.Background()

	var transportErr *domain.TransportError

	_, err := c.Resolve(ctx, srv.URL+"/missing.png", "")
	assert.ErrorAs(t, err, &transportErr)

	_, err = c.Resolve(ctx, srv.URL+"/garbage.png", "")
	assert.ErrorAs(t, err, &transportErr)

	_, err = c.Resolve(ctx, "not a url", "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	assert.Zero(t, c.Stats().MemoryEntries)
}

func TestResolve_ConcurrentSameKeyCoalesced(t *testing.T) {
	srv := newImageServer(t)
	c := newTestCache(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			img, err := c.Resolve(ctx, srv.URL+"/patamon.png", "")
			assert.NoError(t, err)
			assert.NotNil(t, img)
		})
	}
	wg.Wait()

	// Callers that arrive after the first download finishes hit memory;
	// overlapping ones share it.
	assert.LessOrEqual(t, srv.count("/patamon.png"), int64(2))
}

func TestResolve_CancelledCallerDoesNotFailOthers(t *testing.T) {
	srv := newImageServer(t)
	srv.gate = make(chan struct{})
	c := newTestCache(t, nil)
	url := srv.URL + "/gomamon.png"

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Resolve(firstCtx, url, "")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return srv.count("/gomamon.png") == 1 }, 5*time.Second, time.Millisecond)

	type result struct {
		img *domain.Image
		err error
	}
	second := make(chan result, 1)
	go func() {
		img, err := c.Resolve(context.Background(), url, "")
		second <- result{img: img, err: err}
	}()

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(srv.gate)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "png", res.img.Format)

	// The shared download completed and filled memory
	img, err := c.Resolve(context.Background(), url, "")
	require.NoError(t, err)
	assert.Same(t, res.img, img)
	assert.LessOrEqual(t, srv.count("/gomamon.png"), int64(2))
}

func TestMemoryTier_ByteBudget(t *testing.T) {
	srv := newImageServer(t)
	budget := int64(len(srv.body)) * 2
	c := newTestCache(t, nil, WithMemoryLimits(100, budget))
	ctx := context.Background()

	for _, p := range []string{"/1.png", "/2.png", "/3.png"} {
		_, err := c.Resolve(ctx, srv.URL+p, "")
		require.NoError(t, err)
	}

	stats := c.Stats()
	assert.Equal(t, 2, stats.MemoryEntries)
	assert.LessOrEqual(t, stats.MemoryBytes, budget)
}

func TestClear(t *testing.T) {
	srv := newImageServer(t)
	c := newTestCache(t, nil)
	ctx := context.Background()

	_, err := c.Resolve(ctx, srv.URL+"/a.png", "")
	require.NoError(t, err)

	require.NoError(t, c.Clear(ctx))
	stats := c.Stats()
	assert.Zero(t, stats.MemoryEntries)
	assert.Zero(t, stats.MemoryBytes)
	assert.Zero(t, stats.DiskBytes)

	_, err = c.Resolve(ctx, srv.URL+"/a.png", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), srv.count("/a.png"))
}
