package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sakif/calorily/internal/apperror"
	"github.com/sakif/calorily/internal/repository"
)

var _ repository.Sweeper = (*DB)(nil)

// SweepOrphans removes files in the image directory that no row references
// and that are older than minAge. It returns how many files it removed.
//
// minAge is the grace period for an Insert that has copied its image but not
// committed yet; such a file is unreferenced for a moment and must survive.
// Leftover temp files from interrupted copies are swept the same way.
func (db *DB) SweepOrphans(ctx context.Context, minAge time.Duration) (int, error) {
	referenced, err := db.referencedImages(ctx)
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(db.images.dir)
	if err != nil {
		return 0, apperror.Storage("listing image directory", err)
	}

	cutoff := db.now().Add(-minAge)
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(db.images.dir, entry.Name())
		if _, ok := referenced[path]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Vanished between ReadDir and now.
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := db.images.Remove(path); err != nil {
			db.logger.Warn("sweeping orphan image", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		db.logger.Info("swept orphan images", "removed", removed)
	}
	return removed, nil
}

func (db *DB) referencedImages(ctx context.Context) (map[string]struct{}, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT DISTINCT image_path FROM meals`)
	if err != nil {
		return nil, apperror.Storage("listing image references", err)
	}
	defer rows.Close()

	refs := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, apperror.Storage("scanning image reference", err)
		}
		refs[filepath.Clean(p)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Storage("listing image references", err)
	}
	return refs, nil
}
