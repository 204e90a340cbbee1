package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DatabaseOperations provides methods for database operations. All workflow
// writes go through this type so they stay serialized on the single SQLite
// writer connection.
type DatabaseOperations struct {
	db *sql.DB
}

// NewDatabaseOperations creates a new DatabaseOperations instance.
func NewDatabaseOperations(db *sql.DB) *DatabaseOperations {
	return &DatabaseOperations{db: db}
}

// UpsertBook inserts or updates a book record.
func (ops *DatabaseOperations) UpsertBook(book *Book) error {
	query := `
		INSERT INTO books (
			id, title, book_type, premise, plan, style_bible, status,
			target_age, chapter_count, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			book_type = excluded.book_type,
			premise = excluded.premise,
			plan = excluded.plan,
			style_bible = excluded.style_bible,
			status = excluded.status,
			target_age = excluded.target_age,
			chapter_count = excluded.chapter_count,
			completed_at = excluded.completed_at
	`

	_, err := ops.db.Exec(query,
		book.ID, book.Title, book.BookType, book.Premise, book.Plan,
		book.StyleBible, book.Status, book.TargetAge, book.ChapterCount,
		book.CreatedAt, book.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert book %s: %w", book.ID, err)
	}
	return nil
}

// GetBookByID retrieves a book by ID. Returns (nil, nil) when not found.
func (ops *DatabaseOperations) GetBookByID(bookID string) (*Book, error) {
	query := `
		SELECT id, title, book_type, premise, COALESCE(plan, ''), COALESCE(style_bible, ''),
			status, COALESCE(target_age, ''), chapter_count, created_at, completed_at
		FROM books WHERE id = ?
	`

	var book Book
	err := ops.db.QueryRow(query, bookID).Scan(
		&book.ID, &book.Title, &book.BookType, &book.Premise, &book.Plan,
		&book.StyleBible, &book.Status, &book.TargetAge, &book.ChapterCount,
		&book.CreatedAt, &book.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book %s: %w", bookID, err)
	}
	return &book, nil
}

// UpdateBookStatus updates a book's status, setting completed_at when the
// book finishes.
func (ops *DatabaseOperations) UpdateBookStatus(bookID, status string) error {
	setParts := []string{"status = ?"}
	args := []interface{}{status}

	if status == BookStatusCompleted {
		setParts = append(setParts, "completed_at = ?")
		args = append(args, time.Now().UTC())
	}
	args = append(args, bookID)

	//nolint:gosec // Safe string concatenation for dynamic query building with bounded inputs
	query := `UPDATE books SET ` + strings.Join(setParts, ", ") + ` WHERE id = ?`

	result, err := ops.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update book status for %s: %w", bookID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("book %s not found", bookID)
	}
	return nil
}

// GetAllBooks returns all books ordered by creation time, newest first.
func (ops *DatabaseOperations) GetAllBooks() ([]*Book, error) {
	query := `
		SELECT id, title, book_type, premise, COALESCE(plan, ''), COALESCE(style_bible, ''),
			status, COALESCE(target_age, ''), chapter_count, created_at, completed_at
		FROM books ORDER BY created_at DESC
	`

	rows, err := ops.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var books []*Book
	for rows.Next() {
		var book Book
		if err := rows.Scan(
			&book.ID, &book.Title, &book.BookType, &book.Premise, &book.Plan,
			&book.StyleBible, &book.Status, &book.TargetAge, &book.ChapterCount,
			&book.CreatedAt, &book.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, &book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("book rows iteration error: %w", err)
	}
	return books, nil
}

// UpsertChapter inserts or updates a chapter.
func (ops *DatabaseOperations) UpsertChapter(chapter *Chapter) error {
	query := `
		INSERT INTO chapters (book_id, number, title, content, word_count, approved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(book_id, number) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			word_count = excluded.word_count,
			approved = excluded.approved
	`

	_, err := ops.db.Exec(query,
		chapter.BookID, chapter.Number, chapter.Title, chapter.Content,
		chapter.WordCount, chapter.Approved, chapter.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chapter %d of book %s: %w", chapter.Number, chapter.BookID, err)
	}
	return nil
}

// GetChapter retrieves one chapter. Returns (nil, nil) when not found.
func (ops *DatabaseOperations) GetChapter(bookID string, number int) (*Chapter, error) {
	query := `
		SELECT book_id, number, title, content, word_count, approved, created_at
		FROM chapters WHERE book_id = ? AND number = ?
	`

	var chapter Chapter
	err := ops.db.QueryRow(query, bookID, number).Scan(
		&chapter.BookID, &chapter.Number, &chapter.Title, &chapter.Content,
		&chapter.WordCount, &chapter.Approved, &chapter.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chapter %d of book %s: %w", number, bookID, err)
	}
	return &chapter, nil
}

// GetChaptersByBook returns all chapters of a book in order.
func (ops *DatabaseOperations) GetChaptersByBook(bookID string) ([]*Chapter, error) {
	query := `
		SELECT book_id, number, title, content, word_count, approved, created_at
		FROM chapters WHERE book_id = ? ORDER BY number
	`

	rows, err := ops.db.Query(query, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chapters for book %s: %w", bookID, err)
	}
	defer func() { _ = rows.Close() }()

	var chapters []*Chapter
	for rows.Next() {
		var chapter Chapter
		if err := rows.Scan(
			&chapter.BookID, &chapter.Number, &chapter.Title, &chapter.Content,
			&chapter.WordCount, &chapter.Approved, &chapter.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chapter: %w", err)
		}
		chapters = append(chapters, &chapter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chapter rows iteration error: %w", err)
	}
	return chapters, nil
}

// ReplaceScenes atomically replaces the scenes of a chapter. Re-running
// segmentation after a rejection discards the old segmentation entirely.
func (ops *DatabaseOperations) ReplaceScenes(bookID string, chapterNumber int, scenes []*Scene) error {
	tx, err := ops.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin scene replacement: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`DELETE FROM scenes WHERE book_id = ? AND chapter_number = ?`,
		bookID, chapterNumber,
	); err != nil {
		return fmt.Errorf("failed to delete old scenes: %w", err)
	}

	for _, scene := range scenes {
		characters, err := json.Marshal(scene.Characters)
		if err != nil {
			return fmt.Errorf("failed to marshal scene characters: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO scenes (id, book_id, chapter_number, scene_number, synopsis, excerpt, characters, environment)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			scene.ID, bookID, chapterNumber, scene.SceneNumber,
			scene.Synopsis, scene.Excerpt, string(characters), scene.Environment,
		); err != nil {
			return fmt.Errorf("failed to insert scene %s: %w", scene.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scene replacement: %w", err)
	}
	return nil
}

// GetScenesByChapter returns the scenes of a chapter in order.
func (ops *DatabaseOperations) GetScenesByChapter(bookID string, chapterNumber int) ([]*Scene, error) {
	query := `
		SELECT id, book_id, chapter_number, scene_number, synopsis,
			COALESCE(excerpt, ''), COALESCE(characters, '[]'), COALESCE(environment, '')
		FROM scenes WHERE book_id = ? AND chapter_number = ? ORDER BY scene_number
	`

	rows, err := ops.db.Query(query, bookID, chapterNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scenes []*Scene
	for rows.Next() {
		var scene Scene
		var characters string
		if err := rows.Scan(
			&scene.ID, &scene.BookID, &scene.ChapterNumber, &scene.SceneNumber,
			&scene.Synopsis, &scene.Excerpt, &characters, &scene.Environment,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scene: %w", err)
		}
		if err := json.Unmarshal([]byte(characters), &scene.Characters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scene characters: %w", err)
		}
		scenes = append(scenes, &scene)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scene rows iteration error: %w", err)
	}
	return scenes, nil
}

// GetSceneByID retrieves one scene by its ID. Returns (nil, nil) when not
// found.
func (ops *DatabaseOperations) GetSceneByID(bookID, sceneID string) (*Scene, error) {
	query := `
		SELECT id, book_id, chapter_number, scene_number, synopsis,
			COALESCE(excerpt, ''), COALESCE(characters, '[]'), COALESCE(environment, '')
		FROM scenes WHERE book_id = ? AND id = ?
	`

	var scene Scene
	var characters string
	err := ops.db.QueryRow(query, bookID, sceneID).Scan(
		&scene.ID, &scene.BookID, &scene.ChapterNumber, &scene.SceneNumber,
		&scene.Synopsis, &scene.Excerpt, &characters, &scene.Environment,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scene %s: %w", sceneID, err)
	}
	if err := json.Unmarshal([]byte(characters), &scene.Characters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scene characters: %w", err)
	}
	return &scene, nil
}

// UpsertAsset inserts or updates an asset. The (book_id, kind, name) key
// makes repeats of the same character or environment converge on one row.
func (ops *DatabaseOperations) UpsertAsset(asset *Asset) error {
	query := `
		INSERT INTO assets (
			id, book_id, kind, name, description, image_url, image_prompt,
			memory_id, reused_from_book, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(book_id, kind, name) DO UPDATE SET
			description = excluded.description,
			image_url = excluded.image_url,
			image_prompt = excluded.image_prompt,
			memory_id = excluded.memory_id,
			reused_from_book = excluded.reused_from_book
	`

	_, err := ops.db.Exec(query,
		asset.ID, asset.BookID, asset.Kind, asset.Name, asset.Description,
		asset.ImageURL, asset.ImagePrompt, asset.MemoryID, asset.ReusedFromBook,
		asset.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert asset %s/%s for book %s: %w", asset.Kind, asset.Name, asset.BookID, err)
	}
	return nil
}

// GetAssetByKey retrieves an asset by its (book, kind, name) key. Returns
// (nil, nil) when not found.
func (ops *DatabaseOperations) GetAssetByKey(bookID, kind, name string) (*Asset, error) {
	query := `
		SELECT id, book_id, kind, name, description, COALESCE(image_url, ''),
			COALESCE(image_prompt, ''), COALESCE(memory_id, ''),
			COALESCE(reused_from_book, ''), created_at
		FROM assets WHERE book_id = ? AND kind = ? AND name = ?
	`

	var asset Asset
	err := ops.db.QueryRow(query, bookID, kind, name).Scan(
		&asset.ID, &asset.BookID, &asset.Kind, &asset.Name, &asset.Description,
		&asset.ImageURL, &asset.ImagePrompt, &asset.MemoryID,
		&asset.ReusedFromBook, &asset.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset %s/%s for book %s: %w", kind, name, bookID, err)
	}
	return &asset, nil
}

// GetAssets returns assets matching the filter, ordered by creation time.
func (ops *DatabaseOperations) GetAssets(filter *AssetFilter) ([]*Asset, error) {
	query := `
		SELECT id, book_id, kind, name, description, COALESCE(image_url, ''),
			COALESCE(image_prompt, ''), COALESCE(memory_id, ''),
			COALESCE(reused_from_book, ''), created_at
		FROM assets
	`
	var conditions []string
	var args []interface{}

	if filter != nil {
		if filter.BookID != nil {
			conditions = append(conditions, "book_id = ?")
			args = append(args, *filter.BookID)
		}
		if filter.Kind != nil {
			conditions = append(conditions, "kind = ?")
			args = append(args, *filter.Kind)
		}
		if filter.Name != nil {
			conditions = append(conditions, "name = ?")
			args = append(args, *filter.Name)
		}
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at"

	rows, err := ops.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var assets []*Asset
	for rows.Next() {
		var asset Asset
		if err := rows.Scan(
			&asset.ID, &asset.BookID, &asset.Kind, &asset.Name, &asset.Description,
			&asset.ImageURL, &asset.ImagePrompt, &asset.MemoryID,
			&asset.ReusedFromBook, &asset.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, &asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("asset rows iteration error: %w", err)
	}
	return assets, nil
}

// FindAssetAcrossBooks searches for the most recent asset of the given kind
// and name in any other book, for cross-book reuse. Returns (nil, nil) when
// nothing matches.
func (ops *DatabaseOperations) FindAssetAcrossBooks(excludeBookID, kind, name string) (*Asset, error) {
	query := `
		SELECT id, book_id, kind, name, description, COALESCE(image_url, ''),
			COALESCE(image_prompt, ''), COALESCE(memory_id, ''),
			COALESCE(reused_from_book, ''), created_at
		FROM assets
		WHERE book_id <> ? AND kind = ? AND name = ? AND image_url <> ''
		ORDER BY created_at DESC LIMIT 1
	`

	var asset Asset
	err := ops.db.QueryRow(query, excludeBookID, kind, name).Scan(
		&asset.ID, &asset.BookID, &asset.Kind, &asset.Name, &asset.Description,
		&asset.ImageURL, &asset.ImagePrompt, &asset.MemoryID,
		&asset.ReusedFromBook, &asset.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find asset %s/%s across books: %w", kind, name, err)
	}
	return &asset, nil
}

// UpsertRender inserts or updates a scene render.
func (ops *DatabaseOperations) UpsertRender(render *Render) error {
	query := `
		INSERT INTO renders (id, book_id, scene_id, image_url, strategy, prompt, approved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			image_url = excluded.image_url,
			strategy = excluded.strategy,
			prompt = excluded.prompt,
			approved = excluded.approved
	`

	_, err := ops.db.Exec(query,
		render.ID, render.BookID, render.SceneID, render.ImageURL,
		render.Strategy, render.Prompt, render.Approved, render.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert render %s: %w", render.ID, err)
	}
	return nil
}

// GetRendersByBook returns all renders for a book in creation order.
func (ops *DatabaseOperations) GetRendersByBook(bookID string) ([]*Render, error) {
	query := `
		SELECT id, book_id, scene_id, image_url, strategy, COALESCE(prompt, ''), approved, created_at
		FROM renders WHERE book_id = ? ORDER BY created_at
	`

	rows, err := ops.db.Query(query, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query renders for book %s: %w", bookID, err)
	}
	defer func() { _ = rows.Close() }()

	var renders []*Render
	for rows.Next() {
		var render Render
		if err := rows.Scan(
			&render.ID, &render.BookID, &render.SceneID, &render.ImageURL,
			&render.Strategy, &render.Prompt, &render.Approved, &render.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan render: %w", err)
		}
		renders = append(renders, &render)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("render rows iteration error: %w", err)
	}
	return renders, nil
}

// GetLatestRenderForScene returns the newest render of a scene, approved or
// not. Returns (nil, nil) when the scene has no renders.
func (ops *DatabaseOperations) GetLatestRenderForScene(bookID, sceneID string) (*Render, error) {
	query := `
		SELECT id, book_id, scene_id, image_url, strategy, COALESCE(prompt, ''), approved, created_at
		FROM renders WHERE book_id = ? AND scene_id = ?
		ORDER BY created_at DESC LIMIT 1
	`

	var render Render
	err := ops.db.QueryRow(query, bookID, sceneID).Scan(
		&render.ID, &render.BookID, &render.SceneID, &render.ImageURL,
		&render.Strategy, &render.Prompt, &render.Approved, &render.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest render for scene %s: %w", sceneID, err)
	}
	return &render, nil
}

// RecordApproval inserts or updates an approval audit row.
func (ops *DatabaseOperations) RecordApproval(record *ApprovalRecord) error {
	query := `
		INSERT INTO approvals (id, book_id, step, approval_type, status, content, feedback, requested_at, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			feedback = excluded.feedback,
			reviewed_at = excluded.reviewed_at
	`

	_, err := ops.db.Exec(query,
		record.ID, record.BookID, record.Step, record.ApprovalType,
		record.Status, record.Content, record.Feedback,
		record.RequestedAt, record.ReviewedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record approval %s: %w", record.ID, err)
	}
	return nil
}

// GetApprovalsByBook returns the approval audit trail for a book.
func (ops *DatabaseOperations) GetApprovalsByBook(bookID string) ([]*ApprovalRecord, error) {
	query := `
		SELECT id, book_id, step, approval_type, status, COALESCE(content, ''),
			COALESCE(feedback, ''), requested_at, reviewed_at
		FROM approvals WHERE book_id = ? ORDER BY requested_at
	`

	rows, err := ops.db.Query(query, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals for book %s: %w", bookID, err)
	}
	defer func() { _ = rows.Close() }()

	var records []*ApprovalRecord
	for rows.Next() {
		var record ApprovalRecord
		if err := rows.Scan(
			&record.ID, &record.BookID, &record.Step, &record.ApprovalType,
			&record.Status, &record.Content, &record.Feedback,
			&record.RequestedAt, &record.ReviewedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("approval rows iteration error: %w", err)
	}
	return records, nil
}

// InsertDeadLetter records a task that exhausted its retries.
func (ops *DatabaseOperations) InsertDeadLetter(letter *DeadLetter) error {
	query := `
		INSERT INTO dead_letters (id, book_id, operation, payload, last_error, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := ops.db.Exec(query,
		letter.ID, letter.BookID, letter.Operation, letter.Payload,
		letter.LastError, letter.Attempts, letter.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter %s: %w", letter.ID, err)
	}
	return nil
}

// GetDeadLetters returns all dead letters, newest first.
func (ops *DatabaseOperations) GetDeadLetters() ([]*DeadLetter, error) {
	query := `
		SELECT id, COALESCE(book_id, ''), operation, COALESCE(payload, ''),
			COALESCE(last_error, ''), attempts, created_at
		FROM dead_letters ORDER BY created_at DESC
	`

	rows, err := ops.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var letters []*DeadLetter
	for rows.Next() {
		var letter DeadLetter
		if err := rows.Scan(
			&letter.ID, &letter.BookID, &letter.Operation, &letter.Payload,
			&letter.LastError, &letter.Attempts, &letter.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		letters = append(letters, &letter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dead letter rows iteration error: %w", err)
	}
	return letters, nil
}

// GetBookSummary returns aggregated progress counts for a book.
func (ops *DatabaseOperations) GetBookSummary(bookID string) (*BookSummary, error) {
	book, err := ops.GetBookByID(bookID)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, fmt.Errorf("book %s not found", bookID)
	}

	summary := &BookSummary{
		BookID: book.ID,
		Title:  book.Title,
		Status: book.Status,
	}

	counts := []struct {
		query string
		dest  *int
		args  []interface{}
	}{
		{"SELECT COUNT(*) FROM chapters WHERE book_id = ?", &summary.ChapterCount, []interface{}{bookID}},
		{"SELECT COUNT(*) FROM scenes WHERE book_id = ?", &summary.SceneCount, []interface{}{bookID}},
		{"SELECT COUNT(*) FROM assets WHERE book_id = ? AND kind = ?", &summary.CharacterCount, []interface{}{bookID, AssetKindCharacter}},
		{"SELECT COUNT(*) FROM assets WHERE book_id = ? AND kind = ?", &summary.EnvironmentCnt, []interface{}{bookID, AssetKindEnvironment}},
		{"SELECT COUNT(*) FROM assets WHERE book_id = ? AND kind = ?", &summary.PropCount, []interface{}{bookID, AssetKindProp}},
		{"SELECT COUNT(*) FROM renders WHERE book_id = ?", &summary.RenderCount, []interface{}{bookID}},
		{"SELECT COUNT(*) FROM renders WHERE book_id = ? AND approved = 1", &summary.ApprovedRenders, []interface{}{bookID}},
	}

	for _, c := range counts {
		if err := ops.db.QueryRow(c.query, c.args...).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count for book summary: %w", err)
		}
	}
	return summary, nil
}
