package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/dfryer1193/digidex/catalog/domain"
	"github.com/dfryer1193/digidex/shared/db"
)

var _ domain.ItemStore = (*SQLiteItemStore)(nil)

const defaultDownloadWorkers = 4

// ImageDownloader fetches and validates a single image.
type ImageDownloader interface {
	DownloadImage(ctx context.Context, rawURL string) (*domain.Image, error)
}

// SQLiteItemStore implements domain.ItemStore on SQLite, with item images
// kept by an ImageFileRepository.
type SQLiteItemStore struct {
	db         *sql.DB
	images     *ImageFileRepository
	downloader ImageDownloader
	workers    int
	logger     zerolog.Logger

	// Store lifecycle context - cancelled when Close() is called
	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup

	mu            sync.Mutex
	stopDownloads context.CancelFunc
}

type StoreOption func(*SQLiteItemStore)

// WithDownloadWorkers bounds how many images are fetched at once after SaveAll.
func WithDownloadWorkers(n int) StoreOption {
	return func(s *SQLiteItemStore) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithStoreLogger(l zerolog.Logger) StoreOption {
	return func(s *SQLiteItemStore) { s.logger = l }
}

func NewItemStore(sqlDB *sql.DB, images *ImageFileRepository, downloader ImageDownloader, opts ...StoreOption) *SQLiteItemStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &SQLiteItemStore{
		db:         sqlDB,
		images:     images,
		downloader: downloader,
		workers:    defaultDownloadWorkers,
		logger:     log.Logger,
		ctx:        ctx,
		cancel:     cancel,
		wg:         &sync.WaitGroup{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close stops pending image downloads and waits for them to return.
func (s *SQLiteItemStore) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

const insertItemQuery = `
	INSERT INTO items (position, name, img, level)
	VALUES (?, ?, ?, ?)
`

// SaveAll replaces the stored collection. Images belonging to the previous
// generation are deleted in the same transaction; images for the new items
// are downloaded afterwards in the background. Pending downloads of the
// previous generation are abandoned only once the new one is committed.
func (s *SQLiteItemStore) SaveAll(ctx context.Context, items []domain.Item) error {
	err := db.RunInTransaction(ctx, s.db, func(txCtx context.Context) error {
		executor := db.GetExecutor(txCtx, s.db)

		previous, err := s.fetchAll(txCtx, executor)
		if err != nil {
			return err
		}
		for _, it := range previous {
			if err := s.images.DeleteImage(txCtx, it.Name); err != nil {
				return err
			}
		}

		if _, err := executor.ExecContext(txCtx, `DELETE FROM items`); err != nil {
			return fmt.Errorf("failed to clear items: %w", err)
		}

		for i, it := range items {
			if _, err := executor.ExecContext(txCtx, insertItemQuery, i, it.Name, it.ImageURL, it.Level); err != nil {
				return fmt.Errorf("failed to insert item %q: %w", it.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.downloadImages(s.beginGeneration(), items)
	return nil
}

// beginGeneration cancels downloads started by an earlier SaveAll and returns
// the context for the next batch.
func (s *SQLiteItemStore) beginGeneration() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopDownloads != nil {
		s.stopDownloads()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.stopDownloads = cancel
	return ctx
}

func (s *SQLiteItemStore) downloadImages(ctx context.Context, items []domain.Item) {
	if s.downloader == nil || len(items) == 0 {
		return
	}

	batch := make([]domain.Item, len(items))
	copy(batch, items)

	s.wg.Go(func() {
		p := pool.New().WithMaxGoroutines(s.workers).WithContext(ctx)
		for _, it := range batch {
			if it.ImageURL == "" || domain.ImageID(it.Name) == "" {
				continue
			}
			p.Go(func(ctx context.Context) error {
				s.cacheImage(ctx, it)
				return nil
			})
		}
		_ = p.Wait()
	})
}

func (s *SQLiteItemStore) cacheImage(ctx context.Context, it domain.Item) {
	img, err := s.downloader.DownloadImage(ctx, it.ImageURL)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn().Err(err).Str("name", it.Name).Str("url", it.ImageURL).Msg("Failed to download item image")
		}
		return
	}

	err = db.RunInTransaction(ctx, s.db, func(txCtx context.Context) error {
		// Skip items removed by a later SaveAll or ClearAll.
		exists, err := s.exists(txCtx, db.GetExecutor(txCtx, s.db), it.Name)
		if err != nil || !exists {
			return err
		}
		return s.images.SaveImage(txCtx, it.Name, img)
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Str("name", it.Name).Msg("Failed to save item image")
	}
}

const listItemsQuery = `
	SELECT name, img, level
	FROM items
	ORDER BY position ASC
`

// FetchAll returns the stored items in the order they were saved.
func (s *SQLiteItemStore) FetchAll(ctx context.Context) ([]domain.Item, error) {
	return s.fetchAll(ctx, db.GetExecutor(ctx, s.db))
}

func (s *SQLiteItemStore) fetchAll(ctx context.Context, executor db.Executor) ([]domain.Item, error) {
	rows, err := executor.QueryContext(ctx, listItemsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Item, 0)
	for rows.Next() {
		var row itemRow
		if err := rows.Scan(&row.Name, &row.Img, &row.Level); err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, row.toDomain())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}
	return items, nil
}

const itemExistsQuery = `
	SELECT 1 FROM items WHERE name = ? LIMIT 1
`

func (s *SQLiteItemStore) exists(ctx context.Context, executor db.Executor, name string) (bool, error) {
	var one int
	err := executor.QueryRowContext(ctx, itemExistsQuery, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up item %q: %w", name, err)
	}
	return true, nil
}

// ImageFor returns the persisted image of the item named exactly name, or
// nil when the item or its image is not stored.
func (s *SQLiteItemStore) ImageFor(ctx context.Context, name string) (*domain.Image, error) {
	if name == "" {
		return nil, nil
	}

	exists, err := s.exists(ctx, db.GetExecutor(ctx, s.db), name)
	if err != nil || !exists {
		return nil, err
	}

	img, err := s.images.LoadImage(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

// ClearAll deletes every item and every image, and abandons pending downloads.
func (s *SQLiteItemStore) ClearAll(ctx context.Context) error {
	err := db.RunInTransaction(ctx, s.db, func(txCtx context.Context) error {
		if err := s.images.DeleteAll(txCtx); err != nil {
			return err
		}
		executor := db.GetExecutor(txCtx, s.db)
		if _, err := executor.ExecContext(txCtx, `DELETE FROM items`); err != nil {
			return fmt.Errorf("failed to clear items: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.beginGeneration()
	return nil
}

// itemRow is a private struct used to scan database rows
type itemRow struct {
	Name  string `db:"name"`
	Img   string `db:"img"`
	Level string `db:"level"`
}

func (r *itemRow) toDomain() domain.Item {
	return domain.Item{
		Name:     r.Name,
		ImageURL: r.Img,
		Level:    r.Level,
	}
}
