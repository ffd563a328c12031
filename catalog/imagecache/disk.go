package imagecache

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httputil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dfryer1193/digidex/shared/httpfetch"
)

const (
	diskDirPerm    = 0o700
	shardPrefixLen = 2
	// pruneTarget is the fraction of the budget kept after a prune.
	pruneTarget = 0.9
)

// diskCache stores whole HTTP responses keyed by request, one file per
// entry, in the wire format produced by httputil.DumpResponse.
type diskCache struct {
	dir    string
	budget int64

	mu   sync.Mutex
	size int64
}

func newDiskCache(dir string, budget int64) (*diskCache, error) {
	if dir == "" {
		return nil, errors.New("disk cache dir is empty")
	}
	if err := os.MkdirAll(dir, diskDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create disk cache dir: %w", err)
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to size disk cache: %w", err)
	}
	return &diskCache{dir: dir, budget: budget, size: size}, nil
}

func requestKey(method, rawURL string) string {
	return method + " " + rawURL
}

func (d *diskCache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(d.dir, name[:shardPrefixLen], name)
}

// get returns the cached body for key.
func (d *diskCache) get(key string) ([]byte, bool) {
	raw, err := os.ReadFile(d.path(key))
	if err != nil {
		return nil, false
	}
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false
	}
	return body, true
}

// put stores resp under key unless the response forbids storage.
func (d *diskCache) put(key string, resp *httpfetch.Response) error {
	if noStore(resp.Header) {
		return nil
	}

	dumped, err := httputil.DumpResponse(&http.Response{
		Status:        strconv.Itoa(resp.StatusCode) + " " + http.StatusText(resp.StatusCode),
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        resp.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
	}, true)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	path := d.path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, diskDirPerm); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var previous int64
	if info, err := os.Stat(path); err == nil {
		previous = info.Size()
	}

	tmp, err := os.CreateTemp(dir, "cache-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(dumped); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	d.size += int64(len(dumped)) - previous
	if d.budget > 0 && d.size > d.budget {
		_, remaining, err := pruneDir(d.dir, int64(float64(d.budget)*pruneTarget))
		if err != nil {
			return fmt.Errorf("failed to prune disk cache: %w", err)
		}
		d.size = remaining
	}
	return nil
}

// clear removes every entry.
func (d *diskCache) clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(d.dir, e.Name())); err != nil {
			return err
		}
	}
	d.size = 0
	return nil
}

func (d *diskCache) bytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

func noStore(h http.Header) bool {
	for _, v := range h.Values("Cache-Control") {
		for _, directive := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(directive), "no-store") {
				return true
			}
		}
	}
	return false
}

type cacheEntry struct {
	path    string
	size    int64
	modTime time.Time
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	return total, err
}

// pruneDir deletes the oldest files under root until at most targetBytes remain.
func pruneDir(root string, targetBytes int64) (freed int64, remaining int64, err error) {
	var entries []cacheEntry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, cacheEntry{path: path, size: info.Size(), modTime: info.ModTime()})
		remaining += info.Size()
		return nil
	})
	if err != nil {
		return 0, remaining, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime.Before(entries[j].modTime)
	})

	for _, e := range entries {
		if remaining <= targetBytes {
			break
		}
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return freed, remaining, err
		}
		freed += e.size
		remaining -= e.size
	}
	return freed, remaining, nil
}
