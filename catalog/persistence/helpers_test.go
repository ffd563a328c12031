package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"image"
	"image/png"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dfryer1193/digidex/catalog/domain"
	"github.com/dfryer1193/digidex/shared/db/sqlite"
)

// setupTestDB opens a migrated SQLite database in a temp dir.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database := sqlite.NewSQLiteDB(&sqlite.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, database.Connect(), "open database")
	t.Cleanup(func() { database.Close() })
	return database.DB()
}

func testImage(t *testing.T, size int) *domain.Image {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, size, size))))
	img, err := domain.DecodeImage(buf.Bytes())
	require.NoError(t, err)
	return img
}

// fakeDownloader serves images by URL and records every request.
type fakeDownloader struct {
	mu       sync.Mutex
	images   map[string]*domain.Image
	requests []string

	// gate, when set, holds every download until it is closed or the
	// download's ctx is done.
	gate chan struct{}
}

func (f *fakeDownloader) DownloadImage(ctx context.Context, rawURL string) (*domain.Image, error) {
	f.mu.Lock()
	f.requests = append(f.requests, rawURL)
	img, ok := f.images[rawURL]
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, &domain.TransportError{Err: errors.New("404")}
	}
	return img, nil
}

func (f *fakeDownloader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func setupTestStore(t *testing.T, dl ImageDownloader) (*SQLiteItemStore, *ImageFileRepository) {
	t.Helper()
	sqlDB := setupTestDB(t)
	images, err := NewImageFileRepository(sqlDB, filepath.Join(t.TempDir(), "images"))
	require.NoError(t, err)
	store := NewItemStore(sqlDB, images, dl, WithStoreLogger(zerolog.Nop()))
	t.Cleanup(func() { store.Close() })
	return store, images
}
