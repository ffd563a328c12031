package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dfryer1193/digidex/catalog/domain"
	"github.com/dfryer1193/digidex/shared/db"
)

const imageDirPerm = 0o755

// ImageFileRepository keeps one image per item name: a row in item_images
// and a file named domain.ImageID(name) in dir.
type ImageFileRepository struct {
	db  *sql.DB
	dir string
}

// NewImageFileRepository creates the image directory if needed.
func NewImageFileRepository(sqlDB *sql.DB, dir string) (*ImageFileRepository, error) {
	if dir == "" {
		return nil, fmt.Errorf("image directory cannot be empty")
	}
	if err := os.MkdirAll(dir, imageDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return &ImageFileRepository{
		db:  sqlDB,
		dir: dir,
	}, nil
}

// Path returns where the image for name lives on disk.
func (r *ImageFileRepository) Path(name string) string {
	return filepath.Join(r.dir, domain.ImageID(name))
}

const upsertImageQuery = `
	INSERT INTO item_images (id, name, hash, format, updated_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		hash = excluded.hash,
		format = excluded.format,
		updated_at = excluded.updated_at,
		created_at = COALESCE(item_images.created_at, excluded.created_at)
`

// SaveImage records and writes the image for name, overwriting any previous one.
func (r *ImageFileRepository) SaveImage(ctx context.Context, name string, img *domain.Image) error {
	if img == nil {
		return fmt.Errorf("image cannot be nil")
	}
	id := domain.ImageID(name)
	if id == "" {
		return fmt.Errorf("image name cannot be empty")
	}

	sum := sha256.Sum256(img.Data)
	now := time.Now().UTC()

	return db.RunInTransaction(ctx, r.db, func(txCtx context.Context) error {
		executor := db.GetExecutor(txCtx, r.db)
		_, err := executor.ExecContext(txCtx, upsertImageQuery,
			id,
			name,
			hex.EncodeToString(sum[:]),
			img.Format,
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert image record: %w", err)
		}

		// The row is rolled back if the file cannot be written.
		if err := writeFileAtomic(r.dir, id, img.Data); err != nil {
			return fmt.Errorf("failed to write image file: %w", err)
		}
		return nil
	})
}

const getImageQuery = `
	SELECT hash, format
	FROM item_images
	WHERE id = ?
`

// LoadImage reads the image for name. It returns an error wrapping
// domain.ErrNotFound when there is no usable image.
func (r *ImageFileRepository) LoadImage(ctx context.Context, name string) (*domain.Image, error) {
	id := domain.ImageID(name)
	if id == "" {
		return nil, fmt.Errorf("image name cannot be empty")
	}

	var hash, format string
	err := db.GetExecutor(ctx, r.db).QueryRowContext(ctx, getImageQuery, id).Scan(&hash, &format)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image for %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(r.dir, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("image file for %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != hash {
		return nil, fmt.Errorf("image file for %q is corrupt: %w", name, domain.ErrNotFound)
	}

	img, err := domain.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("image file for %q: %w", name, err)
	}
	return img, nil
}

const deleteImageQuery = `
	DELETE FROM item_images WHERE id = ?
`

// DeleteImage removes the image for name. Missing images are not an error.
func (r *ImageFileRepository) DeleteImage(ctx context.Context, name string) error {
	id := domain.ImageID(name)
	if id == "" {
		return nil
	}

	return db.RunInTransaction(ctx, r.db, func(txCtx context.Context) error {
		executor := db.GetExecutor(txCtx, r.db)
		if _, err := executor.ExecContext(txCtx, deleteImageQuery, id); err != nil {
			return fmt.Errorf("failed to delete image record: %w", err)
		}
		return removeFile(filepath.Join(r.dir, id))
	})
}

// DeleteAll removes every recorded image and its file.
func (r *ImageFileRepository) DeleteAll(ctx context.Context) error {
	return db.RunInTransaction(ctx, r.db, func(txCtx context.Context) error {
		executor := db.GetExecutor(txCtx, r.db)

		rows, err := executor.QueryContext(txCtx, `SELECT id FROM item_images`)
		if err != nil {
			return fmt.Errorf("failed to list images: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan image row: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("error iterating image rows: %w", err)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("error iterating image rows: %w", err)
		}

		if _, err := executor.ExecContext(txCtx, `DELETE FROM item_images`); err != nil {
			return fmt.Errorf("failed to delete image records: %w", err)
		}
		for _, id := range ids {
			if err := removeFile(filepath.Join(r.dir, id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove image file: %w", err)
	}
	return nil
}

func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".img-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
