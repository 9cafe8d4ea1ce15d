package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/calorily/internal/apperror"
	"github.com/sakif/calorily/internal/model"
	"github.com/sakif/calorily/internal/repository"
)

var _ repository.MealRepository = (*DB)(nil)

const mealColumns = `id, meal_id, image_path, name, carbs, proteins, fats,
	timestamp, favorite, status, last_analysis, error_message`

// Insert copies sourceImage into the image directory and creates the row.
//
// ORDER OF OPERATIONS:
//  1. validate, then take the meal_id lock
//  2. refuse a meal_id that already has a row (before touching any file)
//  3. take the lock for the stored image path
//  4. copy the image (temp file + rename, see image.go)
//  5. INSERT inside a transaction, run the BeforeCommit hook, commit
//  6. publish OpInserted
//
// The path lock (also taken by Delete) keeps a delete of another row that
// shares the file name from removing the file between our copy and commit.
//
// If step 5 fails the copied file stays behind with no row pointing at it.
// We don't remove it here because, with last-write-wins file names, another
// row may already reference the same path. The orphan sweep reclaims it.
func (db *DB) Insert(ctx context.Context, meal *model.Meal, sourceImage string, opts ...repository.InsertOption) (int64, error) {
	options := repository.ApplyInsertOptions(opts)

	if meal.MealID == "" {
		return 0, apperror.ValidationFailed("mealId", "meal_id is required")
	}
	if !meal.Status.Durable() {
		return 0, apperror.ValidationFailed("status", fmt.Sprintf("status %q cannot be stored", meal.Status))
	}
	if sourceImage == "" {
		return 0, apperror.ValidationFailed("imagePath", "an image is required")
	}

	unlock := db.locks.Lock(meal.MealID)
	defer unlock()

	var exists int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM meals WHERE meal_id = ?`, meal.MealID).Scan(&exists)
	if err != nil {
		return 0, apperror.Storage("checking meal_id", err)
	}
	if exists > 0 {
		return 0, apperror.Conflict("meal", meal.MealID)
	}

	unlockPath := db.paths.Lock(db.images.PathFor(sourceImage))
	defer unlockPath()

	imagePath, err := db.images.Store(sourceImage)
	if err != nil {
		return 0, apperror.Storage("copying image", err)
	}

	if meal.Timestamp == 0 {
		meal.Timestamp = db.now().Unix()
	}
	analysis, err := encodeAnalysis(meal.LastAnalysis)
	if err != nil {
		return 0, apperror.Storage("encoding analysis", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperror.Storage("starting transaction", err)
	}
	// Rollback after Commit is a no-op, so this is safe on every path.
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO meals (meal_id, image_path, name, carbs, proteins, fats,
			timestamp, favorite, status, last_analysis, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meal.MealID,
		imagePath,
		meal.Name,
		meal.Carbs,
		meal.Proteins,
		meal.Fats,
		meal.Timestamp,
		meal.Favorite,
		string(meal.Status),
		analysis,
		meal.ErrorMessage,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, apperror.Conflict("meal", meal.MealID)
		}
		return 0, apperror.Storage("inserting meal", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperror.Storage("reading inserted id", err)
	}
	if options.BeforeCommit != nil {
		options.BeforeCommit()
	}
	if err := tx.Commit(); err != nil {
		return 0, apperror.Storage("committing meal", err)
	}

	meal.ID = id
	meal.ImagePath = imagePath

	db.logger.Debug("meal inserted", "id", id, "meal_id", meal.MealID, "status", meal.Status)
	db.publish(model.MealChange{Op: model.OpInserted, ID: id, MealID: meal.MealID})

	return id, nil
}

// Update applies the non-nil fields of patch to the row with this meal_id.
//
// A status change must follow model.MealStatus.CanTransitionTo; anything else
// is a conflict and nothing is written. An empty patch still checks that the
// row exists but writes nothing and announces nothing.
func (db *DB) Update(ctx context.Context, mealID string, patch model.MealPatch) error {
	unlock := db.locks.Lock(mealID)
	defer unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperror.Storage("starting transaction", err)
	}
	defer tx.Rollback()

	var (
		id     int64
		status string
	)
	err = tx.QueryRowContext(ctx, `SELECT id, status FROM meals WHERE meal_id = ?`, mealID).Scan(&id, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			return apperror.NotFound("meal", mealID)
		}
		return apperror.Storage("reading meal", err)
	}

	if patch.IsEmpty() {
		return nil
	}

	current := model.MealStatus(status)
	if patch.Status != nil && !current.CanTransitionTo(*patch.Status) {
		return &apperror.AppError{
			Err:     apperror.ErrConflict,
			Message: fmt.Sprintf("meal %s cannot move from %s to %s", mealID, current, *patch.Status),
			Field:   "status",
		}
	}

	sets, args, err := patchAssignments(patch)
	if err != nil {
		return apperror.Storage("encoding analysis", err)
	}
	args = append(args, id)

	// Column names come from patchAssignments, never from the caller.
	if _, err := tx.ExecContext(ctx,
		`UPDATE meals SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	); err != nil {
		return apperror.Storage("updating meal", err)
	}
	if err := tx.Commit(); err != nil {
		return apperror.Storage("committing update", err)
	}

	db.publish(model.MealChange{Op: model.OpUpdated, ID: id, MealID: mealID})
	return nil
}

func patchAssignments(p model.MealPatch) ([]string, []any, error) {
	var (
		sets []string
		args []any
	)
	add := func(column string, v any) {
		sets = append(sets, column+" = ?")
		args = append(args, v)
	}

	if p.Name != nil {
		add("name", *p.Name)
	}
	if p.Carbs != nil {
		add("carbs", *p.Carbs)
	}
	if p.Proteins != nil {
		add("proteins", *p.Proteins)
	}
	if p.Fats != nil {
		add("fats", *p.Fats)
	}
	if p.Favorite != nil {
		add("favorite", *p.Favorite)
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.LastAnalysis != nil {
		raw, err := encodeAnalysis(p.LastAnalysis)
		if err != nil {
			return nil, nil, err
		}
		add("last_analysis", raw)
	}
	if p.ErrorMessage != nil {
		// An explicit empty message clears the column.
		if *p.ErrorMessage == "" {
			add("error_message", nil)
		} else {
			add("error_message", *p.ErrorMessage)
		}
	}
	return sets, args, nil
}

// Delete removes the row and, unless another row still points at the same
// file, its image. Deleting an id that doesn't exist is a no-op and publishes
// nothing.
//
// The file is removed after the commit. If that removal fails the row is
// already gone, so we log and move on; the sweep will retry it.
func (db *DB) Delete(ctx context.Context, id int64) error {
	var mealID, imagePath string
	err := db.conn.QueryRowContext(ctx,
		`SELECT meal_id, image_path FROM meals WHERE id = ?`, id,
	).Scan(&mealID, &imagePath)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return apperror.Storage("reading meal", err)
	}

	unlock := db.locks.Lock(mealID)
	defer unlock()
	// Held until the file is gone, so an Insert reusing the name waits.
	unlockPath := db.paths.Lock(imagePath)
	defer unlockPath()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperror.Storage("starting transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM meals WHERE id = ?`, id)
	if err != nil {
		return apperror.Storage("deleting meal", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperror.Storage("deleting meal", err)
	}
	if n == 0 {
		// Lost a race with another delete.
		return nil
	}

	var others int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM meals WHERE image_path = ?`, imagePath,
	).Scan(&others); err != nil {
		return apperror.Storage("checking image references", err)
	}

	if err := tx.Commit(); err != nil {
		return apperror.Storage("committing delete", err)
	}

	if others == 0 {
		if err := db.images.Remove(imagePath); err != nil {
			db.logger.Warn("removing meal image", "id", id, "path", imagePath, "error", err)
		}
	}

	db.publish(model.MealChange{Op: model.OpDeleted, ID: id, MealID: mealID})
	return nil
}

// QueryRange returns every row with timestamp >= since, newest first.
// Rows sharing a timestamp come back highest id first.
func (db *DB) QueryRange(ctx context.Context, since int64) ([]model.Meal, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+mealColumns+`
		 FROM meals
		 WHERE timestamp >= ?
		 ORDER BY timestamp DESC, id DESC`,
		since,
	)
	if err != nil {
		return nil, apperror.Storage("querying meals", err)
	}
	defer rows.Close()

	meals := []model.Meal{}
	for rows.Next() {
		m, err := scanMeal(rows)
		if err != nil {
			return nil, apperror.Storage("scanning meal", err)
		}
		meals = append(meals, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Storage("iterating meals", err)
	}
	return meals, nil
}

func (db *DB) GetByID(ctx context.Context, id int64) (*model.Meal, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+mealColumns+` FROM meals WHERE id = ?`, id)
	m, err := scanMeal(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("meal", fmt.Sprint(id))
		}
		return nil, apperror.Storage("reading meal", err)
	}
	return m, nil
}

func (db *DB) GetByMealID(ctx context.Context, mealID string) (*model.Meal, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+mealColumns+` FROM meals WHERE meal_id = ?`, mealID)
	m, err := scanMeal(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("meal", mealID)
		}
		return nil, apperror.Storage("reading meal", err)
	}
	return m, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanMeal reads one row selected with mealColumns.
//
// NULLABLE COLUMNS:
// name, the macros, last_analysis and error_message are NULL until someone
// fills them in, so they scan into sql.Null* first and become nil pointers.
func scanMeal(s scanner) (*model.Meal, error) {
	var (
		m            model.Meal
		name         sql.NullString
		carbs        sql.NullFloat64
		proteins     sql.NullFloat64
		fats         sql.NullFloat64
		status       string
		lastAnalysis sql.NullString
		errorMessage sql.NullString
	)
	err := s.Scan(
		&m.ID,
		&m.MealID,
		&m.ImagePath,
		&name,
		&carbs,
		&proteins,
		&fats,
		&m.Timestamp,
		&m.Favorite,
		&status,
		&lastAnalysis,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	m.Status = model.MealStatus(status)
	if name.Valid {
		m.Name = &name.String
	}
	if carbs.Valid {
		m.Carbs = &carbs.Float64
	}
	if proteins.Valid {
		m.Proteins = &proteins.Float64
	}
	if fats.Valid {
		m.Fats = &fats.Float64
	}
	if errorMessage.Valid {
		m.ErrorMessage = &errorMessage.String
	}
	if lastAnalysis.Valid && lastAnalysis.String != "" {
		var a model.MealAnalysis
		if err := json.Unmarshal([]byte(lastAnalysis.String), &a); err != nil {
			return nil, fmt.Errorf("decoding last_analysis for meal %d: %w", m.ID, err)
		}
		m.LastAnalysis = &a
	}
	return &m, nil
}

func encodeAnalysis(a *model.MealAnalysis) (any, error) {
	if a == nil {
		return nil, nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
